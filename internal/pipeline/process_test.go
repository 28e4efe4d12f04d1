package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/scanrelay/internal/claim"
	"github.com/jackzampolin/scanrelay/internal/config"
	"github.com/jackzampolin/scanrelay/internal/events"
	"github.com/jackzampolin/scanrelay/internal/extract"
	"github.com/jackzampolin/scanrelay/internal/journal"
	"github.com/jackzampolin/scanrelay/internal/pdfdoc"
	"github.com/jackzampolin/scanrelay/internal/pocache"
	"github.com/jackzampolin/scanrelay/internal/povalidate"
	"github.com/jackzampolin/scanrelay/internal/qualer"
	"github.com/jackzampolin/scanrelay/internal/upload"
)

// --- fixtures ---

func textPage(lines ...string) pdfdoc.PageSpec {
	var out []pdfdoc.TextLine
	for i, l := range lines {
		out = append(out, pdfdoc.TextLine{X: 72, Y: 720 - float64(i)*16, Size: 11, Text: l})
	}
	return pdfdoc.PageSpec{Lines: out}
}

func cells(y float64, c map[float64]string) []pdfdoc.TextLine {
	var out []pdfdoc.TextLine
	for x, text := range c {
		out = append(out, pdfdoc.TextLine{X: x, Y: y, Size: 10, Text: text})
	}
	return out
}

func poPage() pdfdoc.PageSpec {
	lines := []pdfdoc.TextLine{
		{X: 72, Y: 720, Size: 14, Text: "PURCHASE ORDER 4500123"},
		{X: 72, Y: 700, Size: 10, Text: "Vendor: Acme Calibration"},
	}
	lines = append(lines, cells(650, map[float64]string{72: "Serial Number", 180: "Description", 380: "Qty", 430: "Unit Price", 510: "Ext Price"})...)
	lines = append(lines, cells(634, map[float64]string{72: "ABC-001", 180: "Caliper 6in", 380: "1", 430: "$125.00", 510: "$125.00"})...)
	lines = append(lines, cells(620, map[float64]string{72: "XYZ-0042", 180: "Torque wrench", 380: "2", 430: "$80.00", 510: "$160.00"})...)
	lines = append(lines, cells(606, map[float64]string{380: "Subtotal", 510: "$285.00"})...)
	return pdfdoc.PageSpec{Lines: lines}
}

func woPage(wo string, n int) pdfdoc.PageSpec {
	return textPage(
		"WORK ORDER "+wo,
		fmt.Sprintf("Calibration data sheet, page %d", n),
		"Technician notes: as found in tolerance, as left in tolerance",
	)
}

// sixPageScan is two pages for WO 12, two for WO 34 and a two-page PO tail.
func sixPageScan() []byte {
	return pdfdoc.BuildTextPDF([]pdfdoc.PageSpec{
		woPage("56561-000012", 1),
		woPage("56561-000012", 2),
		woPage("56561-000034", 3),
		woPage("56561-000034", 4),
		poPage(),
		textPage("Terms and conditions", "Payment due within thirty days of invoice"),
	})
}

// --- fakes ---

type fakeRecords struct {
	orders    map[string]int64
	workItems map[int64][]qualer.WorkItem
}

func (f *fakeRecords) ServiceOrderID(ctx context.Context, wo string) (int64, error) {
	id, ok := f.orders[wo]
	if !ok {
		return 0, qualer.ErrNotFound
	}
	return id, nil
}

func (f *fakeRecords) FetchWorkItems(ctx context.Context, orderID int64) ([]qualer.WorkItem, error) {
	return f.workItems[orderID], nil
}

type fakePOs map[string]pocache.Entry

func (f fakePOs) Lookup(ctx context.Context, po string) (pocache.Entry, error) {
	e, ok := f[po]
	if !ok {
		return pocache.Entry{}, pocache.ErrNotFound
	}
	return e, nil
}

type uploaded struct {
	orderID    int64
	name       string
	reportType string
}

type fakeStore struct {
	mu       sync.Mutex
	uploads  []uploaded
	failWith error
}

func (f *fakeStore) DocumentNames(ctx context.Context, orderID int64) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) UploadDocument(ctx context.Context, orderID int64, name string, data []byte, reportType string, private bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if _, err := pdfdoc.PageCountBytes(data); err != nil {
		return fmt.Errorf("uploaded bytes are not a pdf: %w", err)
	}
	f.uploads = append(f.uploads, uploaded{orderID, name, reportType})
	return nil
}

type panicExtractor struct{}

func (panicExtractor) Extract(ctx context.Context, path, workDir string) (*extract.Document, error) {
	panic("boom")
}

func price(v float64) *float64 { return &v }

type harness struct {
	input, output, reject string
	store                 *fakeStore
	journal               *journal.Journal
	bus                   *events.Bus
	events                <-chan events.Event
	pipeline              *Pipeline
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		input:  filepath.Join(root, "in"),
		output: filepath.Join(root, "archive"),
		reject: filepath.Join(root, "reject"),
		store:  &fakeStore{},
		bus:    events.NewBus(events.BusConfig{BufferSize: 64}),
	}
	if err := os.MkdirAll(h.input, 0o755); err != nil {
		t.Fatal(err)
	}
	ch, cancel := h.bus.Subscribe()
	h.events = ch
	t.Cleanup(cancel)

	j, err := journal.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	h.journal = j

	claims, err := claim.NewManager(claim.Config{Folder: "scans", InputDir: h.input, InstanceID: "test-instance", RetryAttempts: 1})
	if err != nil {
		t.Fatal(err)
	}
	ex, err := extract.New(extract.Config{})
	if err != nil {
		t.Fatal(err)
	}

	cfg := Config{
		Folder: config.FolderCfg{
			Name: "scans", InputDir: h.input, OutputDir: h.output, RejectDir: h.reject,
			DocType: "general", ValidatePO: true,
		},
		Claims:    claims,
		Extractor: ex,
		Records: &fakeRecords{
			orders: map[string]int64{"56561-000012": 12, "56561-000034": 34},
			workItems: map[int64][]qualer.WorkItem{
				99: {
					{WorkItemID: 1, SerialNumber: "ABC-001", AssetName: "Caliper", ServiceCharge: price(125)},
					{WorkItemID: 2, SerialNumber: "XYZ-0042", AssetName: "Torque wrench", ServiceTotal: price(80)},
				},
			},
		},
		POs:      fakePOs{"4500123": {ServiceOrderIDs: []int64{99}, WorkOrders: []string{"56561-000099"}}},
		Uploader: upload.New(upload.Config{Store: h.store, Ledger: j}),
		Journal:  j,
		Bus:      h.bus,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	h.pipeline = p
	return h
}

func (h *harness) drop(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(h.input, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (h *harness) kinds() map[events.Kind]int {
	out := make(map[events.Kind]int)
	for {
		select {
		case e := <-h.events:
			out[e.Kind]++
		default:
			return out
		}
	}
}

// --- tests ---

func TestProcess_SixPageScan(t *testing.T) {
	h := newHarness(t, nil)
	path := h.drop(t, "scan.pdf", sixPageScan())

	out := h.pipeline.Process(context.Background(), path, time.Now(), nil)
	if out.State != StateArchived {
		t.Fatalf("State = %s (%s), want Archived", out.State, out.Reason)
	}
	if len(out.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(out.Segments))
	}

	want := []struct {
		start, end int
		wo         string
		docType    extract.DocType
	}{
		{0, 1, "56561-000012", extract.General},
		{2, 3, "56561-000034", extract.General},
		{4, 5, "", extract.PurchaseOrder},
	}
	for i, w := range want {
		s := out.Segments[i]
		if s.Start != w.start || s.End != w.end || s.WorkOrder != w.wo || s.DocType != w.docType {
			t.Errorf("segment %d = %+v, want %+v", i, s, w)
		}
	}
	if po := out.Segments[2].PONumber; po != "4500123" {
		t.Errorf("PO segment number = %q", po)
	}

	// Three documents plus the annotated purchase order.
	if len(h.store.uploads) != 4 {
		t.Fatalf("uploads = %+v, want 4", h.store.uploads)
	}
	gotOrders := []int64{h.store.uploads[0].orderID, h.store.uploads[1].orderID, h.store.uploads[2].orderID}
	if gotOrders[0] != 12 || gotOrders[1] != 34 || gotOrders[2] != 99 {
		t.Errorf("upload orders = %v, want [12 34 99]", gotOrders)
	}
	for _, u := range h.store.uploads {
		if u.reportType != "general" {
			t.Errorf("upload %s report type = %s, want general", u.name, u.reportType)
		}
	}
	if annotated := h.store.uploads[3]; annotated.orderID != 99 || !strings.HasSuffix(annotated.name, "_APPROVED.pdf") {
		t.Errorf("annotated upload = %+v", annotated)
	}

	vals := out.Validations()
	if len(vals) != 1 || vals[0].Status != povalidate.StatusPass || vals[0].Matched != 2 {
		t.Fatalf("validations = %+v", vals)
	}

	if _, err := os.Stat(filepath.Join(h.output, "scan.pdf")); err != nil {
		t.Errorf("archived file missing: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("input file still present: %v", err)
	}

	kinds := h.kinds()
	for _, k := range []events.Kind{events.KindFileClaimed, events.KindValidationComplete, events.KindFileProcessed} {
		if kinds[k] != 1 {
			t.Errorf("%s events = %d, want 1", k, kinds[k])
		}
	}

	outcomes, err := h.journal.RecentOutcomes(context.Background(), 10)
	if err != nil || len(outcomes) != 1 || outcomes[0].State != string(StateArchived) || outcomes[0].Uploads != 3 {
		t.Errorf("journaled outcomes = %+v, %v", outcomes, err)
	}
	stored, err := h.journal.Validations(context.Background(), journal.ValidationFilter{})
	if err != nil || len(stored) != 1 || stored[0].Outcome != "APPROVED" {
		t.Errorf("journaled validations = %+v, %v", stored, err)
	}
}

func TestProcess_ReprocessIsDeduped(t *testing.T) {
	h := newHarness(t, nil)
	data := sixPageScan()

	first := h.pipeline.Process(context.Background(), h.drop(t, "scan.pdf", data), time.Now(), nil)
	if first.State != StateArchived {
		t.Fatalf("first run = %s (%s)", first.State, first.Reason)
	}
	n := len(h.store.uploads)

	second := h.pipeline.Process(context.Background(), h.drop(t, "scan.pdf", data), time.Now(), nil)
	if second.State != StateArchived {
		t.Fatalf("second run = %s (%s)", second.State, second.Reason)
	}
	for _, s := range second.Segments {
		for _, u := range s.Uploads {
			if !u.Duplicate {
				t.Errorf("segment %s re-uploaded", s.Name)
			}
		}
	}
	if len(h.store.uploads) != n {
		t.Errorf("uploads after reprocess = %d, want %d", len(h.store.uploads), n)
	}
}

func TestProcess_LostClaim(t *testing.T) {
	h := newHarness(t, nil)
	path := filepath.Join(h.input, "gone.pdf")

	out := h.pipeline.Process(context.Background(), path, time.Now(), nil)
	if out.State != StateSkipped {
		t.Fatalf("State = %s, want Skipped", out.State)
	}
	if len(h.store.uploads) != 0 {
		t.Errorf("lost claim uploaded %d documents", len(h.store.uploads))
	}
	if k := h.kinds(); k[events.KindFileClaimed] != 0 {
		t.Errorf("lost claim published file_claimed")
	}
}

// lockedClaims fails claims or reads the way a file held open by a scanner
// or sync client does once every retry is spent.
type lockedClaims struct {
	*claim.Manager
	claimErr, readErr error
}

func (l *lockedClaims) Claim(ctx context.Context, path string, detected time.Time, history []claim.Snapshot) (*claim.ClaimedFile, error) {
	if l.claimErr != nil {
		return nil, l.claimErr
	}
	return l.Manager.Claim(ctx, path, detected, history)
}

func (l *lockedClaims) ReadFile(ctx context.Context, f *claim.ClaimedFile) ([]byte, error) {
	if l.readErr != nil {
		return nil, l.readErr
	}
	return l.Manager.ReadFile(ctx, f)
}

func TestProcess_TransientLockReleases(t *testing.T) {
	locked := fmt.Errorf("claim: %w", claim.ErrTransientLock)
	tests := []struct {
		name              string
		claimErr, readErr error
	}{
		{"locked at claim", locked, nil},
		{"locked at read", nil, fmt.Errorf("read: %w", claim.ErrTransientLock)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.pipeline.claims = &lockedClaims{Manager: h.pipeline.Claims(), claimErr: tt.claimErr, readErr: tt.readErr}
			path := h.drop(t, "wo.pdf", pdfdoc.BuildTextPDF([]pdfdoc.PageSpec{woPage("56561-000012", 1)}))

			out := h.pipeline.Process(context.Background(), path, time.Now(), nil)
			if out.State != StateReleased {
				t.Fatalf("State = %s (%s), want %s", out.State, out.Reason, StateReleased)
			}
			if out.FinalPath != path {
				t.Errorf("FinalPath = %q, want %q", out.FinalPath, path)
			}
			if _, err := os.Stat(path); err != nil {
				t.Errorf("file not back in input dir: %v", err)
			}
			entries, err := os.ReadDir(h.pipeline.Claims().StagingDir())
			if err != nil {
				t.Fatal(err)
			}
			for _, e := range entries {
				if !e.IsDir() {
					t.Errorf("staging dir still holds %s", e.Name())
				}
			}
			if len(h.store.uploads) != 0 {
				t.Errorf("locked file uploaded %v", h.store.uploads)
			}
			outcomes, err := h.journal.RecentOutcomes(context.Background(), 10)
			if err != nil || len(outcomes) != 1 || outcomes[0].State != string(StateReleased) {
				t.Errorf("journaled outcomes = %+v, %v", outcomes, err)
			}
		})
	}
}

func TestProcess_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		mutate func(*Config)
		store  error
		reason string
	}{
		{
			name:   "unreadable pdf",
			data:   []byte("this is not a pdf"),
			reason: "unreadable",
		},
		{
			name:   "unknown work order",
			data:   pdfdoc.BuildTextPDF([]pdfdoc.PageSpec{woPage("56561-999999", 1)}),
			reason: "segment(s) failed",
		},
		{
			name:   "upload failure",
			data:   pdfdoc.BuildTextPDF([]pdfdoc.PageSpec{woPage("56561-000012", 1)}),
			store:  &qualer.APIError{StatusCode: 500, Message: "server error"},
			reason: "segment(s) failed",
		},
		{
			name:   "panic",
			data:   pdfdoc.BuildTextPDF([]pdfdoc.PageSpec{woPage("56561-000012", 1)}),
			mutate: func(c *Config) { c.Extractor = panicExtractor{} },
			reason: "panic: boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.mutate)
			h.store.failWith = tt.store
			path := h.drop(t, "doc.pdf", tt.data)

			out := h.pipeline.Process(context.Background(), path, time.Now(), nil)
			if out.State != StateRejected {
				t.Fatalf("State = %s (%s), want Rejected", out.State, out.Reason)
			}
			if !strings.Contains(out.Reason, tt.reason) {
				t.Errorf("Reason = %q, want it to contain %q", out.Reason, tt.reason)
			}
			if _, err := os.Stat(filepath.Join(h.reject, "doc.pdf")); err != nil {
				t.Errorf("file not in reject dir: %v", err)
			}
			if len(h.store.uploads) != 0 {
				t.Errorf("rejected file uploaded %v", h.store.uploads)
			}
		})
	}
}

func TestProcess_DeleteMode(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.DeleteMode = true })
	path := h.drop(t, "wo.pdf", pdfdoc.BuildTextPDF([]pdfdoc.PageSpec{woPage("56561-000034", 1)}))

	out := h.pipeline.Process(context.Background(), path, time.Now(), nil)
	if out.State != StateArchived || out.Reason != "uploaded, deleted" {
		t.Fatalf("outcome = %s (%s)", out.State, out.Reason)
	}
	if _, err := os.Stat(filepath.Join(h.output, "wo.pdf")); !errors.Is(err, os.ErrNotExist) {
		t.Error("delete mode should not archive")
	}
	if len(h.store.uploads) != 1 || h.store.uploads[0].name != "wo.pdf" {
		t.Errorf("uploads = %+v", h.store.uploads)
	}
}

func TestChecker_ValidatePurchaseOrder(t *testing.T) {
	c := NewChecker(nil, t.TempDir(), nil)
	items := []povalidate.WorkItem{
		{ID: 1, SerialNumber: "ABC-001", ExpectedPrice: 125},
		{ID: 2, SerialNumber: "XYZ-0042", ExpectedPrice: 75},
	}

	t.Run("mismatch is annotated", func(t *testing.T) {
		pdf := pdfdoc.BuildTextPDF([]pdfdoc.PageSpec{poPage()})
		annotated, res := c.ValidatePurchaseOrder(context.Background(), "PO 4500123.pdf", pdf, 99, items)
		if res.Status != povalidate.StatusFail || len(res.Mismatches) != 1 {
			t.Fatalf("result = %+v", res)
		}
		if annotated == nil {
			t.Fatal("annotated copy missing")
		}
		if n, err := pdfdoc.PageCountBytes(annotated); err != nil || n != 2 {
			t.Errorf("annotated pages = %d, %v, want page plus summary", n, err)
		}
	})

	t.Run("outbound request is skipped", func(t *testing.T) {
		pdf := pdfdoc.BuildTextPDF([]pdfdoc.PageSpec{textPage("ORDER PRICE UPDATE", "Request for PO on the items below")})
		annotated, res := c.ValidatePurchaseOrder(context.Background(), "update.pdf", pdf, 99, items)
		if res.Status != povalidate.StatusSkipped {
			t.Fatalf("Status = %s, want skipped", res.Status)
		}
		if annotated != nil {
			t.Error("skipped documents are not annotated")
		}
	})

	t.Run("garbage bytes fail extraction", func(t *testing.T) {
		_, res := c.ValidatePurchaseOrder(context.Background(), "bad.pdf", []byte("nope"), 99, items)
		if res.Status != povalidate.StatusFail && res.Status != povalidate.StatusExtractionFailed {
			t.Errorf("Status = %s", res.Status)
		}
	})
}

func TestWorkItems(t *testing.T) {
	got := WorkItems([]qualer.WorkItem{
		{WorkItemID: 1, SerialNumber: "A", AssetName: "Scale", ServiceCharge: price(10), ServiceTotal: price(12)},
		{WorkItemID: 2, SerialNumber: "B", AssetDescription: "Gauge", ServiceTotal: price(7)},
		{WorkItemID: 3, SerialNumber: "C"},
	})
	if got[0].ExpectedPrice != 10 || got[0].AssetName != "Scale" {
		t.Errorf("item 1 = %+v", got[0])
	}
	if got[1].ExpectedPrice != 7 || got[1].AssetName != "Gauge" {
		t.Errorf("item 2 = %+v", got[1])
	}
	if !got[2].Unpriced || got[2].ExpectedPrice != 0 {
		t.Errorf("item 3 = %+v", got[2])
	}
}
