package pocache

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/scanrelay/internal/qualer"
)

type fakeSource struct {
	mu      sync.Mutex
	orders  []qualer.ServiceOrder
	err     error
	queries []qualer.OrderQuery
}

func (f *fakeSource) ServiceOrders(ctx context.Context, q qualer.OrderQuery) ([]qualer.ServiceOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	var out []qualer.ServiceOrder
	for _, so := range f.orders {
		if q.PONumber != "" && so.PONumber != q.PONumber && so.SecondaryPO != q.PONumber {
			continue
		}
		out = append(out, so)
	}
	return out, nil
}

func writeGzip(t *testing.T, path string, v any) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		t.Fatal(err)
	}
	zw.Close()
	f.Close()
}

func TestParsePONumber(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"PO 123.pdf", "123", false},
		{"PO#123.pdf", "123", false},
		{"PO-123.pdf", "123", false},
		{"PO_123.pdf", "123", false},
		{"PO123.pdf", "123", false},
		{"PO ABC-123.pdf", "ABC-123", false},
		{"PO - 4500123.pdf", "4500123", false},
		{"/scans/in/PO 4500123 rev2.pdf", "4500123", false},
		{"PO 123.txt", "", true},
		{"scan.pdf", "", true},
		{"Pottery.pdf", "", true},
		{"POTTERY.pdf", "", true},
		{"PO .pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePONumber(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePONumber(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePONumber(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestCache_LookupMissFillsCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "po.json.gz")
	src := &fakeSource{orders: []qualer.ServiceOrder{
		{ServiceOrderID: 10, WorkOrderNumber: "56561-000010", PONumber: "4500123", SecondaryPO: "ALT-9"},
	}}
	c := New(path, src, nil)
	ctx := context.Background()

	e, err := c.Lookup(ctx, "4500123")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !reflect.DeepEqual(e.ServiceOrderIDs, []int64{10}) || !reflect.DeepEqual(e.WorkOrders, []string{"56561-000010"}) {
		t.Errorf("got %+v", e)
	}

	// Second lookup is served from disk, and the secondary PO was indexed.
	c2 := New(path, src, nil)
	if _, err := c2.Lookup(ctx, "ALT-9"); err != nil {
		t.Fatalf("Lookup(secondary) error = %v", err)
	}
	if len(src.queries) != 1 {
		t.Errorf("expected one API query, got %d", len(src.queries))
	}

	wo, ok, err := c2.WorkOrderFor(10)
	if err != nil || !ok || wo != "56561-000010" {
		t.Errorf("WorkOrderFor(10) = %q, %v, %v", wo, ok, err)
	}
	if _, ok, _ := c2.WorkOrderFor(99); ok {
		t.Error("WorkOrderFor(99) should miss")
	}
}

func TestCache_LookupNotFound(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "po.json.gz"), &fakeSource{}, nil)
	if _, err := c.Lookup(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	boom := errors.New("api down")
	c = New(filepath.Join(t.TempDir(), "po.json.gz"), &fakeSource{err: boom}, nil)
	if _, err := c.Lookup(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("got %v, want api error", err)
	}
}

func TestCache_CorruptSnapshotStartsOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "po.json.gz")
	if err := os.WriteFile(path, []byte("not gzip at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{orders: []qualer.ServiceOrder{{ServiceOrderID: 10, PONumber: "4500123"}}}
	c := New(path, src, nil)

	e, err := c.Lookup(context.Background(), "4500123")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !reflect.DeepEqual(e.ServiceOrderIDs, []int64{10}) {
		t.Errorf("got %+v", e)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Errorf("corrupt snapshot not kept aside: %v", err)
	}

	snap, err := New(path, nil, nil).Load()
	if err != nil {
		t.Fatalf("Load() after rewrite error = %v", err)
	}
	if _, ok := snap.Entries["4500123"]; !ok || snap.Version != CurrentVersion {
		t.Errorf("rewritten snapshot = %+v", snap)
	}
}

func TestCache_LegacyUpgrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "po.json.gz")
	writeGzip(t, path, map[string][]int64{"4500123": {1, 2}, "": {3}})

	c := New(path, nil, nil)
	snap, err := c.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if snap.Version != CurrentVersion {
		t.Errorf("Version = %d", snap.Version)
	}
	if !reflect.DeepEqual(snap.Entries["4500123"].ServiceOrderIDs, []int64{1, 2}) {
		t.Errorf("entry = %+v", snap.Entries["4500123"])
	}
	if _, ok := snap.Entries[""]; ok {
		t.Error("empty PO should be dropped")
	}

	// The upgrade was written back.
	raw, _, err := readSnapshot(path)
	if err != nil {
		t.Fatal(err)
	}
	if raw.Version != CurrentVersion {
		t.Errorf("on-disk version = %d, want %d", raw.Version, CurrentVersion)
	}

	if _, err := c.Lookup(context.Background(), "4500123"); err != nil {
		t.Errorf("Lookup() after upgrade error = %v", err)
	}
}

func TestCache_ReadMergeWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "po.json.gz")
	a := New(path, &fakeSource{orders: []qualer.ServiceOrder{{ServiceOrderID: 1, PONumber: "A"}}}, nil)
	b := New(path, &fakeSource{orders: []qualer.ServiceOrder{{ServiceOrderID: 2, PONumber: "A"}, {ServiceOrderID: 3, PONumber: "B"}}}, nil)
	ctx := context.Background()

	if _, err := a.Lookup(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	// b never saw a's write in memory but must not clobber it.
	if _, err := b.Lookup(ctx, "B"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	snap, err := New(path, nil, nil).Load()
	if err != nil {
		t.Fatal(err)
	}
	if got := snap.Entries["A"].ServiceOrderIDs; !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Errorf("A ids = %v, want union [1 2]", got)
	}
	if _, ok := snap.Entries["B"]; !ok {
		t.Error("B missing")
	}
	if snap.UpdatedAt.IsZero() {
		t.Error("Refresh should advance updated_at")
	}
}

func TestCache_RefreshSince(t *testing.T) {
	path := filepath.Join(t.TempDir(), "po.json.gz")
	stamp := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	writeGzip(t, path, Snapshot{Version: 2, UpdatedAt: stamp, Entries: map[string]Entry{}})

	src := &fakeSource{orders: []qualer.ServiceOrder{{ServiceOrderID: 5, PONumber: "P5"}, {ServiceOrderID: 6}}}
	c := New(path, src, nil)
	n, err := c.Refresh(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Refresh() = %d, %v", n, err)
	}
	if !src.queries[0].ModifiedAfter.Equal(stamp) {
		t.Errorf("ModifiedAfter = %v, want %v", src.queries[0].ModifiedAfter, stamp)
	}
	snap, _ := c.Load()
	if len(snap.Entries) != 1 {
		t.Errorf("orders without a PO should be skipped, got %v", snap.Entries)
	}
}

func TestCache_Rebuild(t *testing.T) {
	src := &fakeSource{orders: []qualer.ServiceOrder{{ServiceOrderID: 7, PONumber: "P7"}}}
	c := New(filepath.Join(t.TempDir(), "po.json.gz"), src, nil)
	if _, err := c.Rebuild(context.Background(), time.Now().Add(-200*24*time.Hour)); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if len(src.queries) != 3 {
		t.Errorf("expected 3 windows, got %d", len(src.queries))
	}
	for _, q := range src.queries {
		if q.To.Sub(q.From) != rebuildWindow {
			t.Errorf("window %v..%v", q.From, q.To)
		}
	}
}

func TestMergeEntry(t *testing.T) {
	base := Entry{ServiceOrderIDs: []int64{1, 2}, WorkOrders: []string{"W1", ""}}
	got := mergeEntry(base, Entry{ServiceOrderIDs: []int64{2, 3}, WorkOrders: []string{"W2", ""}})
	want := Entry{ServiceOrderIDs: []int64{1, 2, 3}, WorkOrders: []string{"W1", "W2", ""}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeEntry() = %+v, want %+v", got, want)
	}
	if !reflect.DeepEqual(base.ServiceOrderIDs, []int64{1, 2}) {
		t.Error("mergeEntry mutated its input")
	}
}

func TestDecode_UnsupportedVersion(t *testing.T) {
	if _, _, err := decode([]byte(`{"version": 9, "entries": {}}`)); err == nil {
		t.Fatal("expected error")
	}
}
