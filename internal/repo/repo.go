// Package repo stores quality reports as flat JSON artifacts in a directory.
package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"qualitygate/internal/domain"
)

type Repo struct {
	Dir string
	// Logger receives warnings about unreadable reports; nil uses slog.Default.
	Logger *slog.Logger
}

func (r Repo) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

var ErrNotFound = errors.New("not found")

// PersistError reports a report that could not be written. It is never a quality failure.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("persist report: %v", e.Err)
	}
	return fmt.Sprintf("persist report %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

const (
	filePrefix = "report_"
	fileSuffix = ".json"
	timeLayout = "20060102T150405Z"
)

// FileName is report_<UTC timestamp>_<run id>.json.
func FileName(report domain.DataQualityReport) string {
	return filePrefix + report.Timestamp.UTC().Format(timeLayout) + "_" + report.RunID + fileSuffix
}

// Stored is a report read back from disk.
type Stored struct {
	Path   string                   `json:"path"`
	Report domain.DataQualityReport `json:"report"`
}

// Save writes the report atomically and never replaces an existing artifact.
func (r Repo) Save(report domain.DataQualityReport) (string, error) {
	if strings.TrimSpace(r.Dir) == "" {
		return "", &PersistError{Err: errors.New("output directory not set")}
	}
	if !validRunID(report.RunID) {
		return "", &PersistError{Err: fmt.Errorf("invalid run id %q", report.RunID)}
	}
	final := filepath.Join(r.Dir, FileName(report))
	fail := func(err error) (string, error) {
		return "", &PersistError{Path: final, Err: err}
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fail(err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fail(fmt.Errorf("marshal report: %w", err))
	}
	tmp, err := os.CreateTemp(r.Dir, ".report-*.tmp")
	if err != nil {
		return fail(err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	// Link fails on an existing target, which makes publication create-only.
	if err := os.Link(tmp.Name(), final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fail(errors.New("report already exists"))
		}
		if _, statErr := os.Stat(final); statErr == nil {
			return fail(errors.New("report already exists"))
		}
		if err := os.Rename(tmp.Name(), final); err != nil {
			return fail(err)
		}
	}
	return final, nil
}

// Get loads the report with the given run id.
func (r Repo) Get(runID string) (Stored, error) {
	if !validRunID(runID) {
		return Stored{}, ErrNotFound
	}
	matches, err := filepath.Glob(filepath.Join(r.Dir, filePrefix+"*_"+runID+fileSuffix))
	if err != nil {
		return Stored{}, err
	}
	if len(matches) == 0 {
		return Stored{}, ErrNotFound
	}
	return load(matches[0])
}

// List returns every stored report, newest first.
func (r Repo) List() ([]Stored, error) {
	matches, err := filepath.Glob(filepath.Join(r.Dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, err
	}
	out := make([]Stored, 0, len(matches))
	for _, path := range matches {
		s, err := load(path)
		if err != nil {
			r.logger().Warn("skipping unreadable report", "path", path, "error", err)
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Report, out[j].Report
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.RunID > b.RunID
	})
	return out, nil
}

// Latest returns the newest stored report.
func (r Repo) Latest() (Stored, error) {
	all, err := r.List()
	if err != nil {
		return Stored{}, err
	}
	if len(all) == 0 {
		return Stored{}, ErrNotFound
	}
	return all[0], nil
}

func load(path string) (Stored, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stored{}, err
	}
	var report domain.DataQualityReport
	if err := json.Unmarshal(data, &report); err != nil {
		return Stored{}, fmt.Errorf("decode report %s: %w", path, err)
	}
	return Stored{Path: path, Report: report}, nil
}

// validRunID keeps run ids usable as file name parts and glob patterns.
func validRunID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
