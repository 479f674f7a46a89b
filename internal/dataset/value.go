package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindTime:
		return "timestamp"
	}
	return "null"
}

// Value is a typed cell. The zero Value is null.
type Value struct {
	kind Kind
	num  float64
	str  string
	t    time.Time
}

func Null() Value { return Value{} }

// Number returns a numeric value; NaN is stored as null and -0 as 0.
func Number(f float64) Value {
	if math.IsNaN(f) {
		return Value{}
	}
	if f == 0 {
		f = 0
	}
	return Value{kind: KindNumber, num: f}
}

func String(s string) Value { return Value{kind: KindString, str: s} }

func Time(t time.Time) Value { return Value{kind: KindTime, t: t.UTC()} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Float() (float64, bool) {
	return v.num, v.kind == KindNumber
}

func (v Value) Str() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) Timestamp() (time.Time, bool) {
	return v.t, v.kind == KindTime
}

// Key is a canonical, kind-tagged encoding used for grouping and fingerprints.
func (v Value) Key() string {
	switch v.kind {
	case KindNumber:
		return "n:" + strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindString:
		return "s:" + v.str
	case KindTime:
		return "t:" + v.t.Format(time.RFC3339Nano)
	}
	return "null"
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindString:
		return v.str
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	}
	return "null"
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if math.IsInf(v.num, 0) {
			return json.Marshal(v.String())
		}
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindTime:
		return json.Marshal(v.t.Format(time.RFC3339Nano))
	}
	return []byte("null"), nil
}

// Compare orders two non-null values of the same kind.
func Compare(a, b Value) (int, error) {
	if a.kind == KindNull || b.kind == KindNull {
		return 0, fmt.Errorf("cannot compare null values")
	}
	if a.kind != b.kind {
		return 0, fmt.Errorf("cannot compare %s with %s", a.kind, b.kind)
	}
	switch a.kind {
	case KindNumber:
		switch {
		case a.num < b.num:
			return -1, nil
		case a.num > b.num:
			return 1, nil
		}
		return 0, nil
	case KindString:
		return strings.Compare(a.str, b.str), nil
	default:
		return a.t.Compare(b.t), nil
	}
}

// nullTokens are textual cells treated as missing.
var nullTokens = map[string]struct{}{
	"":     {},
	"na":   {},
	"n/a":  {},
	"nan":  {},
	"null": {},
	"nil":  {},
	"none": {},
}

func isNullToken(s string) bool {
	_, ok := nullTokens[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// Coerce converts a loosely typed input (JSON, CSV or SQL scan) into a Value of the column type.
func Coerce(in any, typ ColumnType) (Value, error) {
	switch raw := in.(type) {
	case nil:
		return Null(), nil
	case Value:
		if raw.IsNull() {
			return raw, nil
		}
		in = raw.native()
	case []byte:
		in = string(raw)
	}
	if s, ok := in.(string); ok && typ != ColumnString && isNullToken(s) {
		return Null(), nil
	}
	switch typ {
	case ColumnNumeric:
		if s, ok := in.(string); ok {
			in = strings.TrimSpace(s)
		}
		f, err := cast.ToFloat64E(in)
		if err != nil {
			return Null(), fmt.Errorf("not a number: %v", in)
		}
		return Number(f), nil
	case ColumnString:
		s, err := cast.ToStringE(in)
		if err != nil {
			return Null(), fmt.Errorf("not a string: %v", in)
		}
		return String(s), nil
	case ColumnTimestamp:
		t, err := cast.ToTimeE(in)
		if err != nil {
			return Null(), fmt.Errorf("not a timestamp: %v", in)
		}
		return Time(t), nil
	}
	return Null(), fmt.Errorf("unknown column type %q", typ)
}

func (v Value) native() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindTime:
		return v.t
	}
	return nil
}
