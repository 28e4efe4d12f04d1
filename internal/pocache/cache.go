// Package pocache maps purchase-order numbers to record-system service
// orders. The map is persisted as a gzip JSON snapshot and filled lazily
// from the record API.
package pocache

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackzampolin/scanrelay/internal/qualer"
)

// ErrNotFound means no service order carries the PO number.
var ErrNotFound = errors.New("purchase order not found")

// errCorrupt marks a snapshot that is not gzip JSON at all.
var errCorrupt = errors.New("corrupt PO cache")

// CurrentVersion is the snapshot format written by this package.
const CurrentVersion = 2

// rebuildWindow is the span of each service-order query during Rebuild.
const rebuildWindow = 91 * 24 * time.Hour

// Entry is everything known about one PO number.
type Entry struct {
	ServiceOrderIDs []int64  `json:"service_order_ids"`
	WorkOrders      []string `json:"work_orders,omitempty"`
}

// Snapshot is the on-disk form of the cache.
type Snapshot struct {
	Version   int              `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
	Entries   map[string]Entry `json:"entries"`
}

// OrderSource lists service orders. *qualer.Client satisfies it.
type OrderSource interface {
	ServiceOrders(ctx context.Context, q qualer.OrderQuery) ([]qualer.ServiceOrder, error)
}

// Cache is a file-backed PO map. Every write re-reads the file and merges,
// so several processes may share one path without a lock.
type Cache struct {
	path   string
	source OrderSource
	logger *slog.Logger

	mu  sync.Mutex
	mem *Snapshot
}

// New creates a cache at path backed by source. The file is created on the
// first write.
func New(path string, source OrderSource, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{path: path, source: source, logger: logger}
}

// Path returns the snapshot location.
func (c *Cache) Path() string {
	return c.path
}

// Lookup returns the entry for po. On a miss the record API is queried and
// any result is merged and persisted.
func (c *Cache) Lookup(ctx context.Context, po string) (Entry, error) {
	po = strings.TrimSpace(po)
	if po == "" {
		return Entry{}, fmt.Errorf("empty PO number: %w", ErrNotFound)
	}

	snap, err := c.Load()
	if err != nil {
		return Entry{}, err
	}
	if e, ok := snap.Entries[po]; ok && len(e.ServiceOrderIDs) > 0 {
		return e, nil
	}

	if c.source == nil {
		return Entry{}, fmt.Errorf("PO %s: %w", po, ErrNotFound)
	}
	orders, err := c.source.ServiceOrders(ctx, qualer.OrderQuery{PONumber: po})
	if err != nil {
		return Entry{}, fmt.Errorf("query service orders for PO %s: %w", po, err)
	}
	if len(orders) == 0 {
		return Entry{}, fmt.Errorf("PO %s: %w", po, ErrNotFound)
	}

	update := indexOrders(orders)
	// The API may match on a normalized form; make sure the requested key
	// is present.
	if _, ok := update[po]; !ok {
		var e Entry
		for _, so := range orders {
			e = mergeEntry(e, entryFor(so))
		}
		update[po] = e
	}

	merged, err := c.merge(update, time.Time{})
	if err != nil {
		c.logger.Warn("failed to persist PO cache", "path", c.path, "error", err)
	}
	if merged != nil {
		return merged.Entries[po], nil
	}
	return update[po], nil
}

// Refresh merges service orders modified since the snapshot's updated_at.
// It returns the number of orders pulled.
func (c *Cache) Refresh(ctx context.Context) (int, error) {
	if c.source == nil {
		return 0, errors.New("no order source configured")
	}
	snap, err := c.Load()
	if err != nil {
		return 0, err
	}
	since := snap.UpdatedAt
	if since.IsZero() {
		since = time.Now().Add(-rebuildWindow)
	}

	started := time.Now().UTC()
	orders, err := c.source.ServiceOrders(ctx, qualer.OrderQuery{ModifiedAfter: since})
	if err != nil {
		return 0, fmt.Errorf("query modified service orders: %w", err)
	}
	if _, err := c.merge(indexOrders(orders), started); err != nil {
		return 0, err
	}
	c.logger.Info("PO cache refreshed", "since", since.Format(time.RFC3339), "orders", len(orders))
	return len(orders), nil
}

// Rebuild pulls every service order created between from and now in
// fixed windows and merges them.
func (c *Cache) Rebuild(ctx context.Context, from time.Time) (int, error) {
	if c.source == nil {
		return 0, errors.New("no order source configured")
	}
	started := time.Now().UTC()
	update := map[string]Entry{}
	total := 0
	for start := from; start.Before(started); start = start.Add(rebuildWindow) {
		end := start.Add(rebuildWindow)
		c.logger.Debug("fetching service orders", "from", start.Format(time.DateOnly), "to", end.Format(time.DateOnly))
		orders, err := c.source.ServiceOrders(ctx, qualer.OrderQuery{From: start, To: end})
		if err != nil {
			return total, fmt.Errorf("query service orders %s..%s: %w", start.Format(time.DateOnly), end.Format(time.DateOnly), err)
		}
		total += len(orders)
		for po, e := range indexOrders(orders) {
			update[po] = mergeEntry(update[po], e)
		}
	}
	if _, err := c.merge(update, started); err != nil {
		return total, err
	}
	return total, nil
}

// WorkOrderFor returns the work-order number recorded for a service order.
func (c *Cache) WorkOrderFor(serviceOrderID int64) (string, bool, error) {
	snap, err := c.Load()
	if err != nil {
		return "", false, err
	}
	return snap.WorkOrderFor(serviceOrderID)
}

// WorkOrderFor scans the snapshot for a PO listing serviceOrderID and
// returns the matching work-order number.
func (s *Snapshot) WorkOrderFor(serviceOrderID int64) (string, bool, error) {
	pos := make([]string, 0, len(s.Entries))
	for po := range s.Entries {
		pos = append(pos, po)
	}
	sort.Strings(pos)
	for _, po := range pos {
		e := s.Entries[po]
		i := slices.Index(e.ServiceOrderIDs, serviceOrderID)
		if i >= 0 && i < len(e.WorkOrders) && e.WorkOrders[i] != "" {
			return e.WorkOrders[i], true, nil
		}
	}
	return "", false, nil
}

// Load reads the snapshot from disk. A missing file is an empty snapshot.
// Legacy snapshots are upgraded and written back.
func (c *Cache) Load() (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked()
}

func (c *Cache) loadLocked() (*Snapshot, error) {
	snap, migrated, err := readSnapshot(c.path)
	if errors.Is(err, errCorrupt) {
		// Set the file aside and start over; the next merge writes a fresh
		// snapshot in its place.
		aside := c.path + ".corrupt"
		c.logger.Warn("PO cache unreadable, starting empty", "path", c.path, "moved_to", aside, "error", err)
		if rerr := os.Rename(c.path, aside); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			c.logger.Warn("failed to move corrupt PO cache aside", "path", c.path, "error", rerr)
		}
		snap, migrated, err = emptySnapshot(), false, nil
	}
	if err != nil {
		return nil, err
	}
	if migrated {
		c.logger.Info("upgraded PO cache snapshot", "path", c.path, "version", snap.Version)
		if err := writeSnapshot(c.path, snap); err != nil {
			return nil, fmt.Errorf("write upgraded snapshot: %w", err)
		}
	}
	c.mem = snap
	return snap, nil
}

// merge re-reads the file, folds update in and writes it back. A non-zero
// stamp advances updated_at.
func (c *Cache) merge(update map[string]Entry, stamp time.Time) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.loadLocked()
	if err != nil {
		return nil, err
	}
	for po, e := range update {
		snap.Entries[po] = mergeEntry(snap.Entries[po], e)
	}
	if !stamp.IsZero() && stamp.After(snap.UpdatedAt) {
		snap.UpdatedAt = stamp
	}
	if err := writeSnapshot(c.path, snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// indexOrders keys each order under its primary and secondary PO. Empty POs
// are skipped.
func indexOrders(orders []qualer.ServiceOrder) map[string]Entry {
	out := map[string]Entry{}
	for _, so := range orders {
		e := entryFor(so)
		for _, po := range []string{so.PONumber, so.SecondaryPO} {
			po = strings.TrimSpace(po)
			if po == "" {
				continue
			}
			out[po] = mergeEntry(out[po], e)
		}
	}
	return out
}

func entryFor(so qualer.ServiceOrder) Entry {
	return Entry{
		ServiceOrderIDs: []int64{so.ServiceOrderID},
		WorkOrders:      []string{so.WorkOrderNumber},
	}
}

// mergeEntry unions ids. WorkOrders stays index-aligned with
// ServiceOrderIDs; a non-empty incoming work order overwrites.
func mergeEntry(base, in Entry) Entry {
	out := Entry{
		ServiceOrderIDs: slices.Clone(base.ServiceOrderIDs),
		WorkOrders:      make([]string, len(base.ServiceOrderIDs)),
	}
	copy(out.WorkOrders, base.WorkOrders)
	for i, id := range in.ServiceOrderIDs {
		wo := ""
		if i < len(in.WorkOrders) {
			wo = in.WorkOrders[i]
		}
		j := slices.Index(out.ServiceOrderIDs, id)
		if j < 0 {
			out.ServiceOrderIDs = append(out.ServiceOrderIDs, id)
			out.WorkOrders = append(out.WorkOrders, wo)
			continue
		}
		if wo != "" {
			out.WorkOrders[j] = wo
		}
	}
	if !slices.ContainsFunc(out.WorkOrders, func(s string) bool { return s != "" }) {
		out.WorkOrders = nil
	}
	return out
}

func readSnapshot(path string) (*Snapshot, bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return emptySnapshot(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open PO cache: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, false, fmt.Errorf("%w %s: %w", errCorrupt, path, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, false, fmt.Errorf("%w %s: %w", errCorrupt, path, err)
	}
	return decode(raw)
}

// writeSnapshot writes to a temp file in the same directory and renames it
// over path.
func writeSnapshot(path string, snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	if err := json.NewEncoder(zw).Encode(snap); err != nil {
		tmp.Close()
		return fmt.Errorf("encode PO cache: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("compress PO cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace PO cache: %w", err)
	}
	return nil
}

func emptySnapshot() *Snapshot {
	return &Snapshot{Version: CurrentVersion, Entries: map[string]Entry{}}
}
