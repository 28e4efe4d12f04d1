// Package claim arbitrates ownership of files in shared folders. Ownership
// is taken by renaming a file into an instance-private staging directory on
// the same volume, so the filesystem's rename atomicity is the only lock.
package claim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/scanrelay/internal/home"
)

var (
	// ErrClaimConflict means another instance moved the file first.
	// Callers treat it as a silent skip.
	ErrClaimConflict = errors.New("claim conflict: file already taken")

	// ErrTransientLock means the file stayed locked through every retry.
	// The file is left where it was for a later pass.
	ErrTransientLock = errors.New("file locked by another process")
)

// IsTransientLock reports whether err is a sharing/lock violation that is
// worth retrying.
func IsTransientLock(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransientLock) || isSharingViolation(err)
}

// ClaimedFile is a file this instance owns exclusively.
type ClaimedFile struct {
	OriginalPath string
	StagingPath  string
	Folder       string
	DetectedAt   time.Time
	History      []Snapshot
	State        State
}

// Name returns the file's original base name.
func (f *ClaimedFile) Name() string {
	return filepath.Base(f.OriginalPath)
}

// Config configures a claim manager for one input folder.
type Config struct {
	Folder     string
	InputDir   string
	InstanceID string

	RetryAttempts uint          // default: 6
	RetryDelay    time.Duration // default: 500ms
	RetryMaxDelay time.Duration // default: 10s

	Logger *slog.Logger
}

// Manager claims files from one input directory and moves them to their
// final location.
type Manager struct {
	folder     string
	inputDir   string
	stagingDir string
	logger     *slog.Logger

	attempts uint
	delay    time.Duration
	maxDelay time.Duration
}

// NewManager creates the staging directory and returns a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.InputDir == "" {
		return nil, fmt.Errorf("claim: input dir is required")
	}
	if cfg.InstanceID == "" {
		return nil, fmt.Errorf("claim: instance id is required")
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 6
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		folder:     cfg.Folder,
		inputDir:   cfg.InputDir,
		stagingDir: home.StagingDir(cfg.InputDir, cfg.InstanceID),
		logger:     cfg.Logger.With("folder", cfg.Folder),
		attempts:   cfg.RetryAttempts,
		delay:      cfg.RetryDelay,
		maxDelay:   cfg.RetryMaxDelay,
	}
	if err := os.MkdirAll(m.stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	return m, nil
}

// StagingDir returns this instance's private directory for the folder.
func (m *Manager) StagingDir() string {
	return m.stagingDir
}

// InputDir returns the watched directory.
func (m *Manager) InputDir() string {
	return m.inputDir
}

// Do runs fn, retrying with exponential backoff while it fails with a
// sharing violation. Exhaustion wraps ErrTransientLock.
func (m *Manager) Do(ctx context.Context, op string, fn func() error) error {
	err := retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(m.attempts),
		retry.Delay(m.delay),
		retry.MaxDelay(m.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isSharingViolation),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			m.logger.Debug("file locked, retrying", "op", op, "attempt", n+1, "error", err)
		}),
	)
	if err == nil {
		return nil
	}
	if isSharingViolation(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrTransientLock, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Claim moves path into the staging directory. Losing the race to another
// instance returns ErrClaimConflict.
func (m *Manager) Claim(ctx context.Context, path string, detected time.Time, history []Snapshot) (*ClaimedFile, error) {
	if err := os.MkdirAll(m.stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}

	dest, err := FreePath(m.stagingDir, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	err = m.Do(ctx, "claim", func() error {
		return os.Rename(path, dest)
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrClaimConflict)
		}
		return nil, err
	}

	m.logger.Debug("claimed file", "file", path, "staging", dest)
	return &ClaimedFile{
		OriginalPath: path,
		StagingPath:  dest,
		Folder:       m.folder,
		DetectedAt:   detected,
		History:      history,
		State:        StateClaimed,
	}, nil
}

// ReadFile reads the staged copy, retrying through transient locks.
func (m *Manager) ReadFile(ctx context.Context, f *ClaimedFile) ([]byte, error) {
	var data []byte
	err := m.Do(ctx, "read", func() error {
		var err error
		data, err = os.ReadFile(f.StagingPath)
		return err
	})
	return data, err
}

// Release returns a claimed file to the input directory for a later pass.
func (m *Manager) Release(ctx context.Context, f *ClaimedFile) (string, error) {
	dest, err := m.moveOut(ctx, f, m.inputDir, "release")
	if err != nil {
		return "", err
	}
	f.State = StateReleasedBackToQueue
	return dest, nil
}

// Archive moves a processed file into outputDir.
func (m *Manager) Archive(ctx context.Context, f *ClaimedFile, outputDir string) (string, error) {
	return m.finish(ctx, f, outputDir, "archive", StateArchived)
}

// Reject moves a failed file into rejectDir.
func (m *Manager) Reject(ctx context.Context, f *ClaimedFile, rejectDir string) (string, error) {
	return m.finish(ctx, f, rejectDir, "reject", StateRejected)
}

func (m *Manager) finish(ctx context.Context, f *ClaimedFile, dir, op string, to State) (string, error) {
	if !f.State.CanTransition(to) {
		return "", fmt.Errorf("%s: illegal transition %s -> %s", op, f.State, to)
	}
	dest, err := m.moveOut(ctx, f, dir, op)
	if err != nil {
		return "", err
	}
	f.State = to
	return dest, nil
}

// Delete removes a processed file instead of archiving it.
func (m *Manager) Delete(ctx context.Context, f *ClaimedFile) error {
	if !f.State.CanTransition(StateArchived) {
		return fmt.Errorf("delete: illegal transition %s -> %s", f.State, StateArchived)
	}
	err := m.Do(ctx, "delete", func() error {
		err := os.Remove(f.StagingPath)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	f.State = StateArchived
	return nil
}

func (m *Manager) moveOut(ctx context.Context, f *ClaimedFile, dir, op string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%s: failed to create %s: %w", op, dir, err)
	}
	var dest string
	err := m.Do(ctx, op, func() error {
		var err error
		dest, err = FreePath(dir, f.Name())
		if err != nil {
			return err
		}
		return moveFile(f.StagingPath, dest)
	})
	if err != nil {
		return "", err
	}
	m.logger.Debug("moved file", "op", op, "file", f.Name(), "dest", dest)
	return dest, nil
}

// RecoverOrphans releases files a previous run of this instance left in
// staging, e.g. after a crash mid-processing.
func (m *Manager) RecoverOrphans(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(m.stagingDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list staging dir: %w", err)
	}

	var restored []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f := &ClaimedFile{
			OriginalPath: filepath.Join(m.inputDir, e.Name()),
			StagingPath:  filepath.Join(m.stagingDir, e.Name()),
			Folder:       m.folder,
			State:        StateClaimed,
		}
		dest, err := m.Release(ctx, f)
		if err != nil {
			m.logger.Warn("failed to recover orphaned file", "file", e.Name(), "error", err)
			continue
		}
		m.logger.Info("recovered orphaned file", "file", dest)
		restored = append(restored, dest)
	}
	return restored, nil
}

// moveFile renames src to dst, copying when they sit on different volumes.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		in.Close()
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		in.Close()
		out.Close()
		os.Remove(dst)
		return err
	}
	in.Close()
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

var counterSuffix = regexp.MustCompile(` \((\d+)\)$`)

// IncrementFilename bumps the " (n)" counter before the extension:
// "a.pdf" -> "a (1).pdf", "a (1).pdf" -> "a (2).pdf".
func IncrementFilename(name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if m := counterSuffix.FindStringSubmatchIndex(stem); m != nil {
		n, _ := strconv.Atoi(stem[m[2]:m[3]])
		return fmt.Sprintf("%s (%d)%s", stem[:m[0]], n+1, ext)
	}
	return fmt.Sprintf("%s (1)%s", stem, ext)
}

// FreePath returns dir/name, incrementing the name until nothing exists there.
func FreePath(dir, name string) (string, error) {
	for i := 0; i < 1000; i++ {
		candidate := filepath.Join(dir, name)
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", candidate, err)
		}
		name = IncrementFilename(name)
	}
	return "", fmt.Errorf("no free name for %s in %s", name, dir)
}
