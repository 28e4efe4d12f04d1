package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-scanrelay")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-scanrelay" {
			t.Errorf("expected path /tmp/test-scanrelay, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-scanrelay")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ConfigPath", dir.ConfigPath(), "/tmp/test-scanrelay/config.yaml"},
		{"CachePath", dir.CachePath(), "/tmp/test-scanrelay/po_cache.json.gz"},
		{"JournalPath", dir.JournalPath(), "/tmp/test-scanrelay/journal.db"},
		{"ReportsDir", dir.ReportsDir(), "/tmp/test-scanrelay/reports"},
		{"StagingDir", StagingDir("/scans/in", "abc"), "/scans/in/.scanrelay/abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestDir_EnsureExists(t *testing.T) {
	tmpDir := t.TempDir()
	dir, err := New(filepath.Join(tmpDir, "scanrelay-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dir.Exists() {
		t.Error("directory should not exist before EnsureExists")
	}
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}
	if !dir.Exists() {
		t.Error("directory should exist after EnsureExists")
	}
	if _, err := os.Stat(dir.ReportsDir()); os.IsNotExist(err) {
		t.Error("reports directory should exist after EnsureExists")
	}
}

func TestDir_ConfigExists(t *testing.T) {
	dir, _ := New(t.TempDir())

	if dir.ConfigExists() {
		t.Error("config should not exist initially")
	}
	if err := os.WriteFile(dir.ConfigPath(), []byte("dry_run: true\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}
	if !dir.ConfigExists() {
		t.Error("config should exist after creation")
	}
}

func TestDir_InstanceID(t *testing.T) {
	dir, _ := New(filepath.Join(t.TempDir(), "nested"))

	first, err := dir.InstanceID()
	if err != nil {
		t.Fatalf("InstanceID() error = %v", err)
	}
	if first == "" {
		t.Fatal("expected non-empty instance id")
	}

	// A second Dir over the same path sees the persisted id.
	again, _ := New(dir.Path())
	second, err := again.InstanceID()
	if err != nil {
		t.Fatalf("InstanceID() error = %v", err)
	}
	if second != first {
		t.Errorf("instance id changed across calls: %s != %s", first, second)
	}
}
