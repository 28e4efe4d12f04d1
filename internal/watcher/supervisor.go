package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/scanrelay/internal/events"
)

// Config configures a Watcher.
type Config struct {
	Loops      []*Loop
	MaxRuntime time.Duration // 0 = run until ctx is done

	RestartDelay    time.Duration // default: 1s
	RestartMaxDelay time.Duration // default: 1m

	Bus    *events.Bus
	Logger *slog.Logger
}

// Watcher runs folder loops side by side. A failing loop is restarted
// without disturbing its siblings.
type Watcher struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Watcher.
func New(cfg Config) *Watcher {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = time.Second
	}
	if cfg.RestartMaxDelay <= 0 {
		cfg.RestartMaxDelay = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{cfg: cfg, logger: cfg.Logger}
}

// Run blocks until ctx is done or every loop has used up its runtime.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.cfg.Loops) == 0 {
		return errors.New("no folders configured")
	}
	if w.cfg.MaxRuntime > 0 {
		deadline := time.Now().Add(w.cfg.MaxRuntime)
		for _, l := range w.cfg.Loops {
			l.SetDeadline(deadline)
		}
		w.logger.Info("max runtime set", "max_runtime", w.cfg.MaxRuntime, "deadline", deadline)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range w.cfg.Loops {
		g.Go(func() error {
			w.supervise(gctx, l.Folder(), l.Run)
			return nil
		})
	}
	return g.Wait()
}

// supervise runs fn until it returns nil or ctx is done. Panics and errors
// restart it after an exponential backoff.
func (w *Watcher) supervise(ctx context.Context, folder string, fn func(context.Context) error) {
	logger := w.logger.With("folder", folder)
	w.publish(events.Event{Kind: events.KindWatcherStarted, Folder: folder, Message: "watching " + folder})
	logger.Info("folder loop started")

	err := retry.Do(
		func() error { return safeRun(ctx, fn) },
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(w.cfg.RestartDelay),
		retry.MaxDelay(w.cfg.RestartMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Error("folder loop failed, restarting", "restart", n+1, "error", err)
		}),
	)

	msg := "stopped watching " + folder
	if err != nil && ctx.Err() == nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	w.publish(events.Event{Kind: events.KindWatcherStopped, Folder: folder, Message: msg})
	logger.Info("folder loop stopped")
}

// safeRun converts a panic in fn into an error.
func safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

func (w *Watcher) publish(e events.Event) {
	if w.cfg.Bus != nil {
		w.cfg.Bus.Publish(e)
	}
}
