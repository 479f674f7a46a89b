// Package schedule re-runs quality checks on a cron spec or when a dataset file changes.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"qualitygate/internal/config"
)

type Job func(ctx context.Context)

// Scheduler runs jobs on cron specs. Overlapping runs of one job are skipped.
type Scheduler struct {
	cron   *cron.Cron
	Logger *slog.Logger
}

func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(config.CronParser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}
}

// AddCron registers job under spec; ctx is handed to every invocation.
func (s *Scheduler) AddCron(ctx context.Context, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		job(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	s.logger().Info("scheduled check", "cron", spec)
	return nil
}

// Run blocks until ctx is done, then waits for running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

const DefaultDebounce = 500 * time.Millisecond

// WatchFile runs job after path is written, created or renamed into place, once the
// file has been quiet for debounce. The parent directory is watched so editors that
// replace the file are seen. It returns nil when ctx is done.
func WatchFile(ctx context.Context, path string, debounce time.Duration, job Job) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || name != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", target, err)
		case <-timer.C:
			job(ctx)
		}
	}
}
