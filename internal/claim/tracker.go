package claim

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Snapshot is one poll's view of a file.
type Snapshot struct {
	Size    int64
	ModTime time.Time
	At      time.Time
}

func (s Snapshot) same(o Snapshot) bool {
	return s.Size == o.Size && s.ModTime.Equal(o.ModTime)
}

type tracked struct {
	detected time.Time
	history  []Snapshot
}

// Tracker decides when a file has stopped changing. Sync clients write
// incrementally, so a file is only handed off once consecutive polls agree.
type Tracker struct {
	mu       sync.Mutex
	required int
	files    map[string]*tracked
}

// NewTracker creates a tracker requiring stablePolls identical snapshots
// (default 2).
func NewTracker(stablePolls int) *Tracker {
	if stablePolls < 2 {
		stablePolls = 2
	}
	return &Tracker{
		required: stablePolls,
		files:    make(map[string]*tracked),
	}
}

// Observe records a poll of path and reports whether it is now stable.
// Any change in size or mtime restarts the history.
func (t *Tracker) Observe(path string, info fs.FileInfo, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{Size: info.Size(), ModTime: info.ModTime(), At: now}
	tr, ok := t.files[path]
	if !ok {
		t.files[path] = &tracked{detected: now, history: []Snapshot{snap}}
		return false
	}
	if last := tr.history[len(tr.history)-1]; !last.same(snap) {
		tr.history = []Snapshot{snap}
		return false
	}
	tr.history = append(tr.history, snap)
	if len(tr.history) > t.required {
		tr.history = tr.history[len(tr.history)-t.required:]
	}
	return len(tr.history) >= t.required
}

// DetectedAt returns when path was first observed.
func (t *Tracker) DetectedAt(path string) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.files[path]; ok {
		return tr.detected
	}
	return time.Time{}
}

// History returns a copy of the snapshots recorded for path.
func (t *Tracker) History(path string) []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.files[path]
	if !ok {
		return nil
	}
	out := make([]Snapshot, len(tr.history))
	copy(out, tr.history)
	return out
}

// Forget drops path, e.g. after it was claimed or lost to another instance.
func (t *Tracker) Forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, path)
}

// Retain forgets every tracked path not present in seen.
func (t *Tracker) Retain(seen map[string]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for path := range t.files {
		if !seen[path] {
			delete(t.files, path)
		}
	}
}

// Len returns the number of tracked files.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}

var tempSuffixes = []string{".tmp", ".part", ".partial", ".crdownload", ".download"}

// Ignored reports whether a directory entry name should never be claimed:
// hidden files, office lock files, in-progress downloads and non-PDFs.
func Ignored(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
		return true
	}
	lower := strings.ToLower(name)
	for _, s := range tempSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return filepath.Ext(lower) != ".pdf"
}
