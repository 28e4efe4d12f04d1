package home

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultDirName is the default name for the scanrelay home directory.
	DefaultDirName = ".scanrelay"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// CacheFileName is the default PO cache snapshot name.
	CacheFileName = "po_cache.json.gz"

	// JournalFileName is the SQLite journal file name.
	JournalFileName = "journal.db"

	// InstanceFileName holds this machine's persistent instance id.
	InstanceFileName = "instance_id"

	// StagingDirName is the per-folder claim directory created inside each
	// input directory. It shares the volume with the input so rename is atomic.
	StagingDirName = ".scanrelay"
)

// Dir represents the scanrelay home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.scanrelay).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// CachePath returns the default PO cache snapshot path.
func (d *Dir) CachePath() string {
	return filepath.Join(d.path, CacheFileName)
}

// JournalPath returns the path to the SQLite journal.
func (d *Dir) JournalPath() string {
	return filepath.Join(d.path, JournalFileName)
}

// ReportsDir returns the directory for exported workbooks.
func (d *Dir) ReportsDir() string {
	return filepath.Join(d.path, "reports")
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.ReportsDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create reports directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// InstanceID returns the id identifying this machine's staging directories.
// It is generated on first use and persisted so a restarted process can
// recover files it claimed before a crash.
func (d *Dir) InstanceID() (string, error) {
	path := filepath.Join(d.path, InstanceFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read instance id: %w", err)
	}

	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create home directory: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to persist instance id: %w", err)
	}
	return id, nil
}

// StagingDir returns the claim directory for an instance inside an input dir.
func StagingDir(inputDir, instanceID string) string {
	return filepath.Join(inputDir, StagingDirName, instanceID)
}
