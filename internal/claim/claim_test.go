package claim

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestManager(t *testing.T, input, instance string) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Folder:        "scans",
		InputDir:      input,
		InstanceID:    instance,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestClaim_ConcurrentExactlyOneWinner(t *testing.T) {
	for round := 0; round < 20; round++ {
		input := t.TempDir()
		path := filepath.Join(input, "scan.pdf")
		writeFile(t, path, "%PDF-1.4")

		a := newTestManager(t, input, "instance-a")
		b := newTestManager(t, input, "instance-b")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		start := make(chan struct{})
		for i, m := range []*Manager{a, b} {
			wg.Add(1)
			go func(i int, m *Manager) {
				defer wg.Done()
				<-start
				_, errs[i] = m.Claim(context.Background(), path, time.Now(), nil)
			}(i, m)
		}
		close(start)
		wg.Wait()

		wins, conflicts := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrClaimConflict):
				conflicts++
			default:
				t.Fatalf("round %d: unexpected error %v", round, err)
			}
		}
		if wins != 1 || conflicts != 1 {
			t.Fatalf("round %d: got %d wins and %d conflicts, want 1 and 1", round, wins, conflicts)
		}
	}
}

func TestClaim_MissingSourceIsConflict(t *testing.T) {
	input := t.TempDir()
	m := newTestManager(t, input, "solo")

	_, err := m.Claim(context.Background(), filepath.Join(input, "gone.pdf"), time.Now(), nil)
	if !errors.Is(err, ErrClaimConflict) {
		t.Fatalf("got %v, want ErrClaimConflict", err)
	}
}

func TestClaim_ArchiveRejectRelease(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	input := filepath.Join(root, "in")
	output := filepath.Join(root, "out")
	reject := filepath.Join(root, "reject")
	if err := os.MkdirAll(input, 0o755); err != nil {
		t.Fatal(err)
	}
	m := newTestManager(t, input, "inst")

	t.Run("archive increments on collision", func(t *testing.T) {
		writeFile(t, filepath.Join(input, "a.pdf"), "new")
		if err := os.MkdirAll(output, 0o755); err != nil {
			t.Fatal(err)
		}
		writeFile(t, filepath.Join(output, "a.pdf"), "old")

		f, err := m.Claim(ctx, filepath.Join(input, "a.pdf"), time.Now(), nil)
		if err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		if err := f.Transition(StateProcessing); err != nil {
			t.Fatal(err)
		}
		dest, err := m.Archive(ctx, f, output)
		if err != nil {
			t.Fatalf("Archive() error = %v", err)
		}
		if want := filepath.Join(output, "a (1).pdf"); dest != want {
			t.Errorf("got %s, want %s", dest, want)
		}
		if f.State != StateArchived {
			t.Errorf("got state %s, want archived", f.State)
		}
	})

	t.Run("reject from claimed", func(t *testing.T) {
		writeFile(t, filepath.Join(input, "b.pdf"), "bad")
		f, err := m.Claim(ctx, filepath.Join(input, "b.pdf"), time.Now(), nil)
		if err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		dest, err := m.Reject(ctx, f, reject)
		if err != nil {
			t.Fatalf("Reject() error = %v", err)
		}
		if _, err := os.Stat(dest); err != nil {
			t.Errorf("rejected file missing: %v", err)
		}
	})

	t.Run("archive from claimed is illegal", func(t *testing.T) {
		writeFile(t, filepath.Join(input, "c.pdf"), "x")
		f, err := m.Claim(ctx, filepath.Join(input, "c.pdf"), time.Now(), nil)
		if err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		if _, err := m.Archive(ctx, f, output); err == nil {
			t.Error("expected illegal transition error")
		}
		if _, err := os.Stat(f.StagingPath); err != nil {
			t.Errorf("file should remain staged: %v", err)
		}
		if _, err := m.Release(ctx, f); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(input, "c.pdf")); err != nil {
			t.Errorf("released file missing from input: %v", err)
		}
		if f.State != StateReleasedBackToQueue {
			t.Errorf("got state %s, want released", f.State)
		}
	})
}

func TestManager_RecoverOrphans(t *testing.T) {
	ctx := context.Background()
	input := t.TempDir()
	m := newTestManager(t, input, "crashy")

	writeFile(t, filepath.Join(input, "orphan.pdf"), "x")
	if _, err := m.Claim(ctx, filepath.Join(input, "orphan.pdf"), time.Now(), nil); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	// A new manager for the same instance sees the leftover.
	restarted := newTestManager(t, input, "crashy")
	restored, err := restarted.RecoverOrphans(ctx)
	if err != nil {
		t.Fatalf("RecoverOrphans() error = %v", err)
	}
	if len(restored) != 1 || restored[0] != filepath.Join(input, "orphan.pdf") {
		t.Fatalf("got %v", restored)
	}
}

func TestIncrementFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a.pdf", "a (1).pdf"},
		{"a (1).pdf", "a (2).pdf"},
		{"a (9).pdf", "a (10).pdf"},
		{"PO 123.pdf", "PO 123 (1).pdf"},
		{"noext", "noext (1)"},
	}
	for _, tt := range tests {
		if got := IncrementFilename(tt.in); got != tt.want {
			t.Errorf("IncrementFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateDetected, StateStabilizing, true},
		{StateStabilizing, StateClaimed, true},
		{StateClaimed, StateProcessing, true},
		{StateProcessing, StateArchived, true},
		{StateProcessing, StateRejected, true},
		{StateProcessing, StateReleasedBackToQueue, true},
		{StateReleasedBackToQueue, StateDetected, true},
		{StateDetected, StateClaimed, false},
		{StateArchived, StateDetected, false},
		{StateRejected, StateProcessing, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
	if !StateArchived.Terminal() || StateProcessing.Terminal() {
		t.Error("unexpected Terminal() result")
	}
}
