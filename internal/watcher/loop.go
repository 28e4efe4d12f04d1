// Package watcher runs one supervised loop per configured folder. Each loop
// polls its input directory, waits for files to stop changing and hands
// stable files to the pipeline one at a time.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jackzampolin/scanrelay/internal/claim"
	"github.com/jackzampolin/scanrelay/internal/events"
	"github.com/jackzampolin/scanrelay/internal/pipeline"
)

// errBudgetExhausted ends a loop once max runtime has passed.
var errBudgetExhausted = errors.New("max runtime reached")

// FileProcessor claims and processes one stable file.
type FileProcessor interface {
	Process(ctx context.Context, path string, detected time.Time, history []claim.Snapshot) *pipeline.Outcome
}

// LoopConfig configures a folder loop.
type LoopConfig struct {
	Folder       string
	InputDir     string
	Processor    FileProcessor
	Claims       *claim.Manager // optional, used for orphan recovery
	PollInterval time.Duration  // default: 2s
	StablePolls  int            // default: 2
	Bus          *events.Bus
	Logger       *slog.Logger
}

// Loop watches one folder.
type Loop struct {
	cfg     LoopConfig
	tracker *claim.Tracker
	logger  *slog.Logger

	deadline time.Time
	lastScan time.Time
	now      func() time.Time
}

// NewLoop creates a folder loop.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.InputDir == "" {
		return nil, fmt.Errorf("folder %s: input dir is required", cfg.Folder)
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("folder %s: processor is required", cfg.Folder)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		cfg:     cfg,
		tracker: claim.NewTracker(cfg.StablePolls),
		logger:  cfg.Logger.With("folder", cfg.Folder),
		now:     time.Now,
	}, nil
}

// Folder returns the loop's folder name.
func (l *Loop) Folder() string {
	return l.cfg.Folder
}

// SetDeadline stops new claims after t. Zero means no limit.
func (l *Loop) SetDeadline(t time.Time) {
	l.deadline = t
}

func (l *Loop) expired() bool {
	return !l.deadline.IsZero() && !l.now().Before(l.deadline)
}

// Run watches the folder until ctx is done or the deadline passes. A
// deadline exit returns nil.
func (l *Loop) Run(ctx context.Context) error {
	if l.cfg.Claims != nil {
		if _, err := l.cfg.Claims.RecoverOrphans(ctx); err != nil {
			l.logger.Warn("orphan recovery failed", "error", err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(l.cfg.InputDir); err != nil {
		// Network shares often do not deliver notifications; polling covers it.
		l.logger.Warn("fs notifications unavailable, polling only", "dir", l.cfg.InputDir, "error", err)
	}

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	err = l.scan(ctx)
	for err == nil {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err = l.scan(ctx)
		case ev, ok := <-fsw.Events:
			if !ok {
				return errors.New("fs watcher closed")
			}
			// Early scans never come closer than one poll interval, so
			// stability still spans real time.
			if ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) && l.now().Sub(l.lastScan) >= l.cfg.PollInterval {
				err = l.scan(ctx)
			}
		case werr, ok := <-fsw.Errors:
			if !ok {
				return errors.New("fs watcher closed")
			}
			l.logger.Debug("fs watcher error", "error", werr)
		}
	}
	if errors.Is(err, errBudgetExhausted) {
		l.logger.Info("max runtime reached, no longer claiming")
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// scan polls the input directory once and processes every stable file.
func (l *Loop) scan(ctx context.Context) error {
	l.lastScan = l.now()
	if l.expired() {
		return errBudgetExhausted
	}

	entries, err := os.ReadDir(l.cfg.InputDir)
	if err != nil {
		return fmt.Errorf("list %s: %w", l.cfg.InputDir, err)
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() || claim.Ignored(e.Name()) {
			continue
		}
		path := filepath.Join(l.cfg.InputDir, e.Name())
		info, err := e.Info()
		if err != nil {
			// Gone between listing and stat.
			continue
		}
		seen[path] = true
		if !l.tracker.Observe(path, info, l.now()) {
			continue
		}

		if ctx.Err() != nil {
			return nil
		}
		if l.expired() {
			return errBudgetExhausted
		}
		out := l.cfg.Processor.Process(ctx, path, l.tracker.DetectedAt(path), l.tracker.History(path))
		l.tracker.Forget(path)
		if out != nil && out.State == pipeline.StateReleased {
			l.logger.Info("file released back to queue", "file", e.Name(), "reason", out.Reason)
		}
	}
	l.tracker.Retain(seen)
	return nil
}
