package povalidate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/scanrelay/internal/pdfdoc"
)

func ptr(v float64) *float64 { return &v }

// row lays out cells at the given x positions on one baseline.
func row(y float64, cells map[float64]string) []pdfdoc.TextLine {
	var out []pdfdoc.TextLine
	for x, text := range cells {
		out = append(out, pdfdoc.TextLine{X: x, Y: y, Size: 10, Text: text})
	}
	return out
}

func tablePage() pdfdoc.PageSpec {
	lines := []pdfdoc.TextLine{
		{X: 72, Y: 720, Size: 14, Text: "PURCHASE ORDER 4500123"},
		{X: 72, Y: 700, Size: 10, Text: "Vendor: Acme Calibration"},
	}
	lines = append(lines, row(650, map[float64]string{72: "Serial Number", 180: "Description", 380: "Qty", 430: "Unit Price", 510: "Ext Price"})...)
	lines = append(lines, row(634, map[float64]string{72: "ABC-001", 180: "Caliper 6in", 380: "1", 430: "$125.00", 510: "$125.00"})...)
	lines = append(lines, row(620, map[float64]string{72: "XYZ-0042", 180: "Torque wrench", 380: "2", 430: "$80.00", 510: "$160.00"})...)
	lines = append(lines, row(606, map[float64]string{380: "Subtotal", 510: "$285.00"})...)
	lines = append(lines, pdfdoc.TextLine{X: 72, Y: 300, Size: 8, Text: "Terms and conditions apply to all orders"})
	return pdfdoc.PageSpec{Lines: lines}
}

func textPage() pdfdoc.PageSpec {
	return pdfdoc.PageSpec{Lines: []pdfdoc.TextLine{
		{X: 72, Y: 720, Size: 12, Text: "PO Number: DATE"},
		{X: 72, Y: 706, Size: 12, Text: "PO# 77123"},
		{X: 72, Y: 680, Size: 10, Text: "Calibrate caliper S/N: QRS-9 $80.00 $80.00"},
		{X: 72, Y: 666, Size: 10, Text: "Calibrate scale $45.50"},
		{X: 72, Y: 652, Size: 10, Text: "Subtotal: $125.50"},
	}}
}

func writeFixture(t *testing.T, name string, pages ...pdfdoc.PageSpec) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, pdfdoc.BuildTextPDF(pages), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func layoutOf(t *testing.T, pages ...pdfdoc.PageSpec) []pdfdoc.PageLayout {
	t.Helper()
	layouts, err := pdfdoc.ReadLayoutBytes(pdfdoc.BuildTextPDF(pages))
	if err != nil {
		t.Fatal(err)
	}
	return layouts
}

func TestNormalizeSerial(t *testing.T) {
	same := []string{"ABC-001", "abc001", "ABC 001", "ABC0001", "abc.1", "ABC_0_0_1"}
	for _, s := range same {
		if got := NormalizeSerial(s); got != "abc1" {
			t.Errorf("NormalizeSerial(%q) = %q, want abc1", s, got)
		}
	}
	if got := NormalizeSerial("000"); got != "0" {
		t.Errorf("all-zero run should keep one zero, got %q", got)
	}
}

func TestMatchSerial(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"ABC-001", "abc0001", true},
		{"SN12345", "12345", true},
		{"123", "0123", true},
		{"12", "123", false},
		{"", "", false},
		{"J530199", "J530198", false},
	}
	for _, tt := range tests {
		if got := MatchSerial(tt.a, tt.b); got != tt.want {
			t.Errorf("MatchSerial(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFindPONumber(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Purchase Order# 20260105016PO", "20260105016PO"},
		{"Purchase Order No: 53105", "53105"},
		{"PURCHASE ORDER 10496\nShip to", "10496"},
		{"PO Number: 160003", "160003"},
		{"PO No: TE022442", "TE022442"},
		{"PO Number: DATE\nPO# 77123", "77123"},
		{"Customer PO: 20260202019PO", "20260202019PO"},
		{"Invoice #: 56561-084498", "56561-084498"},
		{"nothing here", ""},
	}
	for _, tt := range tests {
		if got := FindPONumber(tt.text); got != tt.want {
			t.Errorf("FindPONumber(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestSerialFromText(t *testing.T) {
	tests := []struct {
		text, want string
	}{
		{"Caliper (Mitutoyo SN: M21400189)", "M21400189"},
		{"S/N HDCC000017632", "HDCC000017632"},
		{"Serial #: 305939", "305939"},
		{"SN: 192.168.1.10", ""},
		{"no serial", ""},
	}
	for _, tt := range tests {
		if got := SerialFromText(tt.text); got != tt.want {
			t.Errorf("SerialFromText(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestExtractTier1_Table(t *testing.T) {
	ext := ExtractTier1(layoutOf(t, tablePage()))
	if ext.Method != MethodTable {
		t.Fatalf("Method = %s, want table (items %+v)", ext.Method, ext.LineItems)
	}
	if ext.PONumber != "4500123" {
		t.Errorf("PONumber = %q", ext.PONumber)
	}
	if len(ext.LineItems) != 2 {
		t.Fatalf("got %d items: %+v", len(ext.LineItems), ext.LineItems)
	}
	first := ext.LineItems[0]
	if first.SerialNumber != "ABC-001" || first.Description != "Caliper 6in" {
		t.Errorf("first item = %+v", first)
	}
	if first.UnitPrice == nil || *first.UnitPrice != 125 || first.ExtendedPrice == nil || *first.ExtendedPrice != 125 {
		t.Errorf("first prices = %v %v", first.UnitPrice, first.ExtendedPrice)
	}
	second := ext.LineItems[1]
	if second.Quantity == nil || *second.Quantity != 2 || *second.UnitPrice != 80 || *second.ExtendedPrice != 160 {
		t.Errorf("second item = %+v", second)
	}
	if first.BBox == nil || first.BBox.Y0 > 640 || first.BBox.Y1 < 630 {
		t.Errorf("first bbox = %+v", first.BBox)
	}
	if ext.Confidence < DefaultConfidenceThreshold {
		t.Errorf("Confidence = %v, want >= %v", ext.Confidence, DefaultConfidenceThreshold)
	}
	if ext.Failed {
		t.Error("Failed should be false")
	}
}

func TestExtractTier1_TextLines(t *testing.T) {
	ext := ExtractTier1(layoutOf(t, textPage()))
	if ext.Method != MethodText || ext.Confidence != textConfidence {
		t.Fatalf("Method = %s, Confidence = %v", ext.Method, ext.Confidence)
	}
	if ext.PONumber != "77123" {
		t.Errorf("PONumber = %q", ext.PONumber)
	}
	if len(ext.LineItems) != 2 {
		t.Fatalf("got %d items: %+v", len(ext.LineItems), ext.LineItems)
	}
	a, b := ext.LineItems[0], ext.LineItems[1]
	if a.SerialNumber != "QRS-9" || *a.UnitPrice != 80 || a.ExtendedPrice == nil || *a.ExtendedPrice != 80 {
		t.Errorf("first item = %+v", a)
	}
	if *b.UnitPrice != 45.5 || b.ExtendedPrice != nil {
		t.Errorf("second item = %+v", b)
	}
}

func TestExtractTier1_Nothing(t *testing.T) {
	ext := ExtractTier1(layoutOf(t, pdfdoc.PageSpec{Lines: []pdfdoc.TextLine{{X: 72, Y: 700, Size: 10, Text: "Thank you"}}}))
	if !ext.Failed || ext.Method != MethodNone || ext.Confidence != noneConfidence {
		t.Errorf("got %+v", ext)
	}
}

type fakeVision struct {
	result *Extraction
	err    error
	pages  int
}

func (f *fakeVision) ExtractFields(ctx context.Context, images [][]byte) (*Extraction, error) {
	f.pages = len(images)
	return f.result, f.err
}

type fakeRenderer struct{}

func (fakeRenderer) RenderPage(ctx context.Context, path string, page, dpi int) ([]byte, error) {
	return []byte("png"), nil
}

func TestExtractor_VisionFallback(t *testing.T) {
	path := writeFixture(t, "po.pdf", textPage())

	t.Run("low confidence uses vision", func(t *testing.T) {
		vision := &fakeVision{result: &Extraction{
			LineItems:  []LineItem{{SerialNumber: "QRS-9", UnitPrice: ptr(80)}},
			Confidence: 0.9,
		}}
		ext := NewExtractor(ExtractorConfig{Vision: vision, Renderer: fakeRenderer{}}).Extract(context.Background(), path)
		if ext.Method != MethodVision || vision.pages != 1 {
			t.Fatalf("Method = %s, pages = %d", ext.Method, vision.pages)
		}
		if ext.PONumber != "77123" || !strings.Contains(ext.RawText, "Calibrate scale") {
			t.Errorf("tier 1 PO number and raw text should carry over: %+v", ext)
		}
	})

	t.Run("vision error keeps tier 1", func(t *testing.T) {
		vision := &fakeVision{err: errors.New("quota")}
		ext := NewExtractor(ExtractorConfig{Vision: vision, Renderer: fakeRenderer{}}).Extract(context.Background(), path)
		if ext.Method != MethodText || len(ext.LineItems) != 2 {
			t.Fatalf("got %+v", ext)
		}
	})

	t.Run("confident table skips vision", func(t *testing.T) {
		vision := &fakeVision{}
		ext := NewExtractor(ExtractorConfig{Vision: vision, Renderer: fakeRenderer{}}).
			Extract(context.Background(), writeFixture(t, "table.pdf", tablePage()))
		if ext.Method != MethodTable || vision.pages != 0 {
			t.Fatalf("Method = %s, vision pages = %d", ext.Method, vision.pages)
		}
	})

	t.Run("unreadable file fails", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.pdf")
		os.WriteFile(bad, []byte("nope"), 0o644)
		ext := NewExtractor(ExtractorConfig{}).Extract(context.Background(), bad)
		if !ext.Failed {
			t.Fatal("expected Failed")
		}
	})
}

func TestReconcile(t *testing.T) {
	t.Run("tolerance edge", func(t *testing.T) {
		ext := &Extraction{LineItems: []LineItem{
			{SerialNumber: "A-100", UnitPrice: ptr(100.01)},
			{SerialNumber: "B-200", UnitPrice: ptr(200.02)},
		}}
		rec := Reconcile(ext, []WorkItem{
			{ID: 1, SerialNumber: "A100", ExpectedPrice: 100},
			{ID: 2, SerialNumber: "b0200", ExpectedPrice: 200},
		})
		if rec.Matched != 1 || rec.Checked != 2 {
			t.Fatalf("Matched = %d, Checked = %d", rec.Matched, rec.Checked)
		}
		if len(rec.Mismatches) != 1 {
			t.Fatalf("got mismatches %+v", rec.Mismatches)
		}
		m := rec.Mismatches[0]
		if m.WorkItemID != 2 || m.Difference != 0.02 || m.SerialNumber != "B-200" {
			t.Errorf("mismatch = %+v", m)
		}
		var comment string
		for _, a := range rec.Annotations {
			if a.Status == AnnotationMismatch {
				comment = a.Comment
			}
		}
		if comment != "Expected $200.00, PO says $200.02" {
			t.Errorf("comment = %q", comment)
		}
	})

	t.Run("greedy by closest price", func(t *testing.T) {
		ext := &Extraction{LineItems: []LineItem{
			{SerialNumber: "Z900", UnitPrice: ptr(200)},
			{SerialNumber: "Z900", UnitPrice: ptr(100)},
		}}
		rec := Reconcile(ext, []WorkItem{
			{ID: 1, SerialNumber: "Z900", ExpectedPrice: 100},
			{ID: 2, SerialNumber: "Z900", ExpectedPrice: 200},
		})
		if len(rec.Mismatches) != 0 || rec.Matched != 2 {
			t.Fatalf("got %+v", rec)
		}
	})

	t.Run("text fallback, missing and warn", func(t *testing.T) {
		ext := &Extraction{
			RawText: "Calibration of pressure gauge Q-77 per quote",
			LineItems: []LineItem{
				{Description: "Pressure gauge", UnitPrice: ptr(1250)},
				{Description: "Travel", ExtendedPrice: ptr(95)},
				{Description: "Notes only"},
			},
		}
		rec := Reconcile(ext, []WorkItem{
			{ID: 1, SerialNumber: "Q-77 (old tag)", ExpectedPrice: 1250},
			{ID: 2, SerialNumber: "NOPE-1", AssetName: "Oscilloscope", ExpectedPrice: 400},
			{ID: 3}, // neither serial nor asset
		})
		if rec.Matched != 1 {
			t.Errorf("Matched = %d, want 1", rec.Matched)
		}
		if len(rec.Missing) != 1 || rec.Missing[0].WorkItemID != 2 {
			t.Fatalf("Missing = %+v", rec.Missing)
		}
		counts := map[AnnotationStatus]int{}
		for _, a := range rec.Annotations {
			counts[a.Status]++
		}
		if counts[AnnotationOK] != 1 || counts[AnnotationMissing] != 1 || counts[AnnotationWarn] != 1 {
			t.Errorf("annotation counts = %v", counts)
		}
		if len(rec.Notes) != 1 || rec.Notes[0] != "1 work item(s) not found on PO" {
			t.Errorf("Notes = %v", rec.Notes)
		}
	})

	t.Run("unpriced line still matches by serial", func(t *testing.T) {
		ext := &Extraction{LineItems: []LineItem{
			{SerialNumber: "A-100", UnitPrice: ptr(100)},
			{SerialNumber: "B-200"},
		}}
		rec := Reconcile(ext, []WorkItem{
			{ID: 1, SerialNumber: "A100", ExpectedPrice: 100},
			{ID: 2, SerialNumber: "B200", ExpectedPrice: 50},
		})
		if len(rec.Missing) != 0 || len(rec.Mismatches) != 0 {
			t.Fatalf("Missing = %+v, Mismatches = %+v", rec.Missing, rec.Mismatches)
		}
		if rec.Matched != 2 || rec.Checked != 1 {
			t.Errorf("Matched = %d, Checked = %d", rec.Matched, rec.Checked)
		}
		var comments []string
		for _, a := range rec.Annotations {
			if a.Status != AnnotationOK {
				t.Errorf("unexpected annotation %+v", a)
			}
			comments = append(comments, a.Comment)
		}
		if len(comments) != 2 || comments[1] != "No price on PO line" {
			t.Errorf("comments = %q", comments)
		}
		status := ResolveStatus(StatusInput{Mismatches: len(rec.Mismatches), Missing: len(rec.Missing)})
		if status != StatusPass {
			t.Errorf("status = %s", status)
		}
	})

	t.Run("unpriced work item", func(t *testing.T) {
		ext := &Extraction{
			RawText: "Items: A-100, C-300 loaner",
			LineItems: []LineItem{
				{SerialNumber: "A-100", UnitPrice: ptr(100)},
			},
		}
		rec := Reconcile(ext, []WorkItem{
			{ID: 1, SerialNumber: "A100", Unpriced: true},
			{ID: 2, SerialNumber: "C-300", Unpriced: true},
		})
		if len(rec.Missing) != 0 || len(rec.Mismatches) != 0 || rec.Matched != 2 {
			t.Fatalf("got %+v", rec)
		}
		if rec.Annotations[0].Comment != "No price on work item" {
			t.Errorf("comment = %q", rec.Annotations[0].Comment)
		}
	})

	t.Run("work items without serial are ignored", func(t *testing.T) {
		ext := &Extraction{LineItems: []LineItem{{SerialNumber: "A-100", UnitPrice: ptr(100)}}}
		rec := Reconcile(ext, []WorkItem{
			{ID: 1, SerialNumber: "A100", ExpectedPrice: 100},
			{ID: 2, AssetName: "Shop vacuum", ExpectedPrice: 20},
		})
		if len(rec.Missing) != 0 || rec.Matched != 1 {
			t.Fatalf("Missing = %+v, Matched = %d", rec.Missing, rec.Matched)
		}
	})

	t.Run("no pricing", func(t *testing.T) {
		rec := Reconcile(&Extraction{LineItems: []LineItem{{SerialNumber: "A1"}}}, []WorkItem{{ID: 1, SerialNumber: "A1"}})
		if !rec.NoPricing || len(rec.Missing) != 0 || len(rec.Annotations) != 0 {
			t.Errorf("got %+v", rec)
		}
	})
}

func TestResolveStatus(t *testing.T) {
	tests := []struct {
		name string
		in   StatusInput
		want Status
	}{
		{"clean", StatusInput{}, StatusPass},
		{"mismatch beats everything", StatusInput{Mismatches: 1, NoPricing: true, ExtractionFailed: true, Outbound: true}, StatusFail},
		{"missing", StatusInput{Missing: 2}, StatusFail},
		{"no pricing beats extraction failure", StatusInput{NoPricing: true, ExtractionFailed: true}, StatusNoPricing},
		{"extraction failure beats outbound", StatusInput{ExtractionFailed: true, Outbound: true}, StatusExtractionFailed},
		{"outbound", StatusInput{Outbound: true}, StatusSkipped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveStatus(tt.in); got != tt.want {
				t.Errorf("ResolveStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		name string
		r    Result
		want Outcome
	}{
		{"approved", Result{Status: StatusPass}, OutcomeApproved},
		{"rejected", Result{Status: StatusFail, Mismatches: []PriceMismatch{{}}}, OutcomeRejected},
		{"missing", Result{Status: StatusFail, Missing: []MissingWorkItem{{}}}, OutcomeInconclusive},
		{"no pricing", Result{Status: StatusNoPricing}, OutcomeInconclusive},
		{"warning", Result{Status: StatusPass, Annotations: []LineAnnotation{{Status: AnnotationWarn}}}, OutcomeInconclusive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutcomeOf(&tt.r); got != tt.want {
				t.Errorf("OutcomeOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator(NewExtractor(ExtractorConfig{}), nil)
	ctx := context.Background()

	t.Run("pass", func(t *testing.T) {
		path := writeFixture(t, "PO 4500123.pdf", tablePage())
		res := v.Validate(ctx, path, "", 42, []WorkItem{
			{ID: 1, SerialNumber: "ABC1", ExpectedPrice: 125},
			{ID: 2, SerialNumber: "XYZ-42", ExpectedPrice: 80},
		})
		if res.Status != StatusPass || res.Matched != 2 || res.DocumentName != "PO 4500123.pdf" {
			t.Fatalf("got %+v", res)
		}
		if res.PONumber != "4500123" || res.Method != MethodTable || res.LineItemsTotal != 2 {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("outbound is skipped", func(t *testing.T) {
		path := writeFixture(t, "req.pdf", pdfdoc.PageSpec{Lines: []pdfdoc.TextLine{
			{X: 72, Y: 700, Size: 12, Text: "Order Price Update"},
			{X: 72, Y: 680, Size: 12, Text: "Request for PO revision"},
		}})
		res := v.Validate(ctx, path, "req.pdf", 1, []WorkItem{{ID: 1, SerialNumber: "A1"}})
		if res.Status != StatusSkipped {
			t.Fatalf("Status = %s", res.Status)
		}
	})

	t.Run("extraction failed", func(t *testing.T) {
		path := writeFixture(t, "blank.pdf", pdfdoc.PageSpec{})
		res := v.Validate(ctx, path, "", 1, []WorkItem{{ID: 1, SerialNumber: "A1"}})
		if res.Status != StatusExtractionFailed {
			t.Fatalf("Status = %s", res.Status)
		}
	})

	t.Run("no work items", func(t *testing.T) {
		path := writeFixture(t, "PO 4500123.pdf", tablePage())
		res := v.Validate(ctx, path, "", 42, nil)
		if res.Status != StatusExtractionFailed || res.Method != MethodNone {
			t.Fatalf("got %+v", res)
		}
		if len(res.Notes) != 1 || res.Notes[0] != "No work items on the service order" {
			t.Errorf("Notes = %v", res.Notes)
		}
	})
}

func TestAnnotate(t *testing.T) {
	data := pdfdoc.BuildTextPDF([]pdfdoc.PageSpec{tablePage()})
	orig := append([]byte(nil), data...)
	li := ExtractTier1(layoutOf(t, tablePage())).LineItems

	res := &Result{
		DocumentName: "PO 4500123.pdf",
		Status:       StatusFail,
		Mismatches:   []PriceMismatch{{SerialNumber: "XYZ-0042", POPrice: 80, ExpectedPrice: 75, Difference: 5}},
		Annotations: []LineAnnotation{
			{Status: AnnotationOK, Page: 0, BBox: li[0].BBox},
			{Status: AnnotationMismatch, Comment: "Expected $75.00, PO says $80.00", SearchText: "XYZ-0042"},
			{Status: AnnotationMissing, Comment: "Not found on PO", SearchText: "not on page"},
		},
	}
	out, outcome, err := Annotate(data, res)
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if outcome != OutcomeRejected {
		t.Errorf("outcome = %s", outcome)
	}
	if string(data) != string(orig) {
		t.Error("input bytes were modified")
	}
	n, err := pdfdoc.PageCountBytes(out)
	if err != nil || n != 2 {
		t.Fatalf("annotated copy has %d pages (%v), want original + summary", n, err)
	}
	if got := AnnotatedName(res.DocumentName, outcome); got != "PO 4500123_REJECTED.pdf" {
		t.Errorf("AnnotatedName() = %q", got)
	}

	stamps := lineStamps(layoutOf(t, tablePage()), res.Annotations)
	// ok mark, mismatch mark plus comment; the missing item is not on the page.
	if len(stamps) != 3 {
		t.Fatalf("got %d stamps: %+v", len(stamps), stamps)
	}
	if stamps[0].X >= li[0].BBox.X0 && stamps[0].X <= li[0].BBox.X0+1 {
		t.Errorf("mark should sit outside the row: %+v", stamps[0])
	}
}

func TestSummaryPages_ListsEveryItem(t *testing.T) {
	res := &Result{DocumentName: "big.pdf", Status: StatusFail}
	for i := range 80 {
		res.Missing = append(res.Missing, MissingWorkItem{WorkItemID: int64(i), SerialNumber: fmt.Sprintf("M-%03d", i), ExpectedPrice: 10})
	}

	pages := summaryPages(res, OutcomeInconclusive, 0, 0)
	if len(pages) < 2 {
		t.Fatalf("got %d summary pages, want the list to continue", len(pages))
	}
	listed := 0
	for i, p := range pages {
		for _, l := range p.Lines {
			if l.Y < 40 {
				t.Errorf("page %d line %q below the margin (y=%.0f)", i, l.Text, l.Y)
			}
			if strings.HasPrefix(l.Text, "S/N M-") {
				listed++
			}
		}
		if i > 0 && !strings.Contains(p.Lines[0].Text, "(continued)") {
			t.Errorf("page %d header = %q", i, p.Lines[0].Text)
		}
	}
	if listed != 80 {
		t.Errorf("listed %d missing items, want 80", listed)
	}

	out, _, err := Annotate(pdfdoc.BuildTextPDF([]pdfdoc.PageSpec{tablePage()}), res)
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if n, err := pdfdoc.PageCountBytes(out); err != nil || n != 1+len(pages) {
		t.Errorf("annotated copy has %d pages (%v), want %d", n, err, 1+len(pages))
	}
}

func TestMoney(t *testing.T) {
	if got := money(1234.5); got != "$1,234.50" {
		t.Errorf("money(1234.5) = %q", got)
	}
	if got := money(-5); got != "-$5.00" {
		t.Errorf("money(-5) = %q", got)
	}
}
