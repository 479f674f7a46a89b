package monitor

import (
	"math"
	"sort"
)

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func sorted(xs []float64) []float64 {
	out := append([]float64(nil), xs...)
	sort.Float64s(out)
	return out
}

// quantile interpolates linearly between closest ranks of an ascending slice, q in [0,1].
func quantile(asc []float64, q float64) float64 {
	if len(asc) == 1 {
		return asc[0]
	}
	h := q * float64(len(asc)-1)
	lo := int(math.Floor(h))
	if lo >= len(asc)-1 {
		return asc[len(asc)-1]
	}
	return asc[lo] + (h-float64(lo))*(asc[lo+1]-asc[lo])
}

func median(asc []float64) float64 { return quantile(asc, 0.5) }

// countZScore flags |x-mean|/sd > t. A constant column flags nothing.
func countZScore(xs []float64, t float64) int {
	m, sd := mean(xs), stddev(xs)
	if sd == 0 {
		return 0
	}
	n := 0
	for _, x := range xs {
		if math.Abs(x-m)/sd > t {
			n++
		}
	}
	return n
}

// countIQR flags values outside [Q1 - t*IQR, Q3 + t*IQR].
func countIQR(xs []float64, t float64) int {
	asc := sorted(xs)
	q1, q3 := quantile(asc, 0.25), quantile(asc, 0.75)
	iqr := q3 - q1
	return countOutside(xs, q1-t*iqr, q3+t*iqr)
}

// countPercentile flags values outside [P(lower), P(upper)], percentiles in [0,100].
func countPercentile(xs []float64, lower, upper float64) int {
	asc := sorted(xs)
	return countOutside(xs, quantile(asc, lower/100), quantile(asc, upper/100))
}

// madScale makes the median absolute deviation comparable to a standard deviation.
const madScale = 0.6745

// countMAD flags modified z-scores 0.6745*|x-median|/MAD above t. MAD == 0 flags nothing.
func countMAD(xs []float64, t float64) int {
	med := median(sorted(xs))
	dev := make([]float64, len(xs))
	for i, x := range xs {
		dev[i] = math.Abs(x - med)
	}
	mad := median(sorted(dev))
	if mad == 0 {
		return 0
	}
	n := 0
	for _, d := range dev {
		if madScale*d/mad > t {
			n++
		}
	}
	return n
}

func countOutside(xs []float64, lo, hi float64) int {
	n := 0
	for _, x := range xs {
		if x < lo || x > hi {
			n++
		}
	}
	return n
}
