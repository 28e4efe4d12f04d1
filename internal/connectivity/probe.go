// Package connectivity periodically checks that the record API and the
// watched folders are reachable and announces changes on the event bus.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackzampolin/scanrelay/internal/events"
)

// Pinger checks that a remote service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the result of one probe.
type Status struct {
	APIReachable bool   `json:"api_reachable"`
	APIError     string `json:"api_error,omitempty"`
	// Unreachable lists folders whose input directory could not be listed.
	Unreachable []string  `json:"unreachable,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Healthy reports whether everything answered.
func (s Status) Healthy() bool {
	return s.APIReachable && len(s.Unreachable) == 0
}

func (s Status) key() string {
	return fmt.Sprintf("%t|%s", s.APIReachable, strings.Join(s.Unreachable, ","))
}

// Config configures a Probe.
type Config struct {
	API      Pinger            // nil skips the API check
	Folders  map[string]string // folder name -> input dir
	Interval time.Duration     // default: 1m
	Timeout  time.Duration     // per check, default: 10s
	Bus      *events.Bus
	Logger   *slog.Logger
}

// Probe runs the checks.
type Probe struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	last    *Status
	lastKey string
}

// New creates a Probe.
func New(cfg Config) *Probe {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Probe{cfg: cfg, logger: cfg.Logger}
}

// Check runs one probe. It publishes connectivity_changed when the result
// differs from the previous probe. The first probe publishes only when
// something is down.
func (p *Probe) Check(ctx context.Context) Status {
	st := Status{APIReachable: true, CheckedAt: time.Now().UTC()}

	if p.cfg.API != nil {
		cctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		err := p.cfg.API.Ping(cctx)
		cancel()
		if err != nil {
			st.APIReachable = false
			st.APIError = err.Error()
		}
	}

	names := make([]string, 0, len(p.cfg.Folders))
	for name := range p.cfg.Folders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := os.ReadDir(p.cfg.Folders[name]); err != nil {
			st.Unreachable = append(st.Unreachable, name)
		}
	}

	key := st.key()
	p.mu.Lock()
	changed := p.last != nil && key != p.lastKey
	first := p.last == nil
	p.last = &st
	p.lastKey = key
	p.mu.Unlock()

	if changed || (first && !st.Healthy()) {
		p.announce(st)
	}
	return st
}

// Last returns the most recent probe, or nil before the first.
func (p *Probe) Last() *Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Run probes immediately and then every interval until ctx is done.
func (p *Probe) Run(ctx context.Context) {
	p.Check(ctx)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

func (p *Probe) announce(st Status) {
	msg := "connectivity restored"
	level := slog.LevelInfo
	if !st.Healthy() {
		level = slog.LevelWarn
		var parts []string
		if !st.APIReachable {
			parts = append(parts, "record API unreachable")
		}
		if len(st.Unreachable) > 0 {
			parts = append(parts, "folders unreachable: "+strings.Join(st.Unreachable, ", "))
		}
		msg = strings.Join(parts, "; ")
	}
	p.logger.Log(context.Background(), level, "connectivity changed",
		"api_reachable", st.APIReachable,
		"unreachable_folders", st.Unreachable,
		"api_error", st.APIError)

	if p.cfg.Bus == nil {
		return
	}
	p.cfg.Bus.Publish(events.Event{
		Kind:    events.KindConnectivityChanged,
		Message: msg,
		Data: map[string]any{
			"api_reachable":       st.APIReachable,
			"unreachable_folders": st.Unreachable,
			"healthy":             st.Healthy(),
		},
	})
}
