// Package extract turns a claimed scan into a Document: corrected
// orientation, per-page text with OCR fallback and per-page work-order ids.
// It also splits documents into work-order segments and classifies them.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/scanrelay/internal/pdfdoc"
)

// DefaultWorkOrderPattern matches record-system work-order numbers.
const DefaultWorkOrderPattern = `56561-\d{6}`

// TextSource records where a page's text came from.
type TextSource string

const (
	SourceNative TextSource = "native"
	SourceOCR    TextSource = "ocr"
)

// Transcriber turns a page image into text.
type Transcriber interface {
	Transcribe(ctx context.Context, image []byte) (string, error)
}

// OrientationDetector reports the clockwise rotation that makes a page
// image upright.
type OrientationDetector interface {
	DetectOrientation(ctx context.Context, image []byte) (int, error)
}

// PageRenderer rasterizes one page (0-based) of a PDF to PNG.
type PageRenderer interface {
	RenderPage(ctx context.Context, path string, page, dpi int) ([]byte, error)
}

// TextReader returns the native text of every page.
type TextReader func(path string) ([]string, error)

// Page is the extracted state of one page.
type Page struct {
	Index     int        `json:"index"`
	Rotation  int        `json:"rotation"`
	Text      string     `json:"-"`
	Source    TextSource `json:"source"`
	WorkOrder string     `json:"work_order,omitempty"`
}

// Document is a scan after orientation and text extraction.
type Document struct {
	SourcePath string `json:"source_path"`
	// Path is the working copy: the source, or a rotated copy of it.
	Path               string   `json:"path"`
	PageCount          int      `json:"page_count"`
	Pages              []Page   `json:"pages"`
	FilenameWorkOrders []string `json:"filename_work_orders,omitempty"`
}

// WorkOrders returns the per-page work-order ids in page order.
func (d *Document) WorkOrders() []string {
	ids := make([]string, len(d.Pages))
	for i, p := range d.Pages {
		ids[i] = p.WorkOrder
	}
	return ids
}

// Text joins the text of pages [start, end].
func (d *Document) Text(start, end int) string {
	var sb strings.Builder
	for i := start; i <= end && i < len(d.Pages); i++ {
		if i > start {
			sb.WriteString("\n")
		}
		sb.WriteString(d.Pages[i].Text)
	}
	return sb.String()
}

// Config configures an Extractor.
type Config struct {
	WorkOrderPattern string
	MinChars         int // non-space characters below which a page is sparse, default 50
	RenderDPI        int // OCR render resolution, default 150
	OrientationDPI   int // default 100
	Concurrency      int // pages in flight, default 4

	Transcriber Transcriber         // nil disables OCR fallback
	Orientation OrientationDetector // nil disables orientation correction
	Renderer    PageRenderer
	ReadText    TextReader // default reads the PDF text layer

	Logger *slog.Logger
}

// Extractor builds Documents from PDF files.
type Extractor struct {
	cfg     Config
	woRegex *regexp.Regexp
	logger  *slog.Logger
}

// New creates an Extractor.
func New(cfg Config) (*Extractor, error) {
	if cfg.WorkOrderPattern == "" {
		cfg.WorkOrderPattern = DefaultWorkOrderPattern
	}
	re, err := regexp.Compile(cfg.WorkOrderPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid work order pattern: %w", err)
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = 50
	}
	if cfg.RenderDPI <= 0 {
		cfg.RenderDPI = 150
	}
	if cfg.OrientationDPI <= 0 {
		cfg.OrientationDPI = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ReadText == nil {
		cfg.ReadText = NativeText
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cfg: cfg, woRegex: re, logger: logger}, nil
}

// NativeText reads the text layer of every page with pdfdoc.
func NativeText(path string) ([]string, error) {
	pages, err := pdfdoc.ReadLayout(path)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text()
	}
	return texts, nil
}

// Extract builds a Document for the PDF at path. Rotated working copies are
// written into workDir.
func (e *Extractor) Extract(ctx context.Context, path, workDir string) (*Document, error) {
	n, err := pdfdoc.PageCount(path)
	if err != nil {
		return nil, err
	}
	doc := &Document{
		SourcePath:         path,
		Path:               path,
		PageCount:          n,
		Pages:              make([]Page, n),
		FilenameWorkOrders: e.FilenameWorkOrders(filepath.Base(path)),
	}
	for i := range doc.Pages {
		doc.Pages[i].Index = i
	}

	if err := e.correctOrientation(ctx, doc, workDir); err != nil {
		return nil, err
	}
	if err := e.readText(ctx, doc); err != nil {
		return nil, err
	}
	for i := range doc.Pages {
		doc.Pages[i].WorkOrder = e.WorkOrderIn(doc.Pages[i].Text)
	}

	e.logger.Debug("document extracted",
		"file", filepath.Base(path),
		"pages", n,
		"work_orders", doc.WorkOrders())
	return doc, nil
}

// WorkOrderIn returns the first work-order id in text, or "".
func (e *Extractor) WorkOrderIn(text string) string {
	return e.woRegex.FindString(text)
}

// FilenameWorkOrders returns the distinct work-order ids in a file name.
func (e *Extractor) FilenameWorkOrders(name string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range e.woRegex.FindAllString(name, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func (e *Extractor) correctOrientation(ctx context.Context, doc *Document, workDir string) error {
	if e.cfg.Orientation == nil || e.cfg.Renderer == nil {
		return nil
	}

	rotations := make([]int, doc.PageCount)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i := 0; i < doc.PageCount; i++ {
		g.Go(func() error {
			img, err := e.cfg.Renderer.RenderPage(gctx, doc.Path, i, e.cfg.OrientationDPI)
			if err != nil {
				e.logger.Warn("orientation render failed", "page", i, "error", err)
				return nil
			}
			deg, err := e.cfg.Orientation.DetectOrientation(gctx, img)
			if err != nil {
				// Leave the page as scanned.
				e.logger.Debug("orientation detection failed", "page", i, "error", err)
				return nil
			}
			rotations[i] = deg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	turn := make(map[int]int)
	for i, deg := range rotations {
		doc.Pages[i].Rotation = deg
		if deg != 0 {
			turn[i] = deg
		}
	}
	if len(turn) == 0 {
		return nil
	}

	stem := strings.TrimSuffix(filepath.Base(doc.SourcePath), filepath.Ext(doc.SourcePath))
	out := filepath.Join(workDir, stem+".oriented.pdf")
	if err := pdfdoc.Rotate(doc.Path, out, turn); err != nil {
		return fmt.Errorf("correct orientation: %w", err)
	}
	e.logger.Info("orientation corrected", "file", filepath.Base(doc.SourcePath), "pages", len(turn))
	doc.Path = out
	return nil
}

func (e *Extractor) readText(ctx context.Context, doc *Document) error {
	native, err := e.cfg.ReadText(doc.Path)
	if err != nil {
		// Image-only scans can still be read by OCR.
		e.logger.Debug("native text unavailable", "file", filepath.Base(doc.Path), "error", err)
		native = nil
	}
	for i := range doc.Pages {
		if i < len(native) {
			doc.Pages[i].Text = native[i]
		}
		doc.Pages[i].Source = SourceNative
	}

	if e.cfg.Transcriber == nil || e.cfg.Renderer == nil {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i := range doc.Pages {
		if !Sparse(doc.Pages[i].Text, e.cfg.MinChars) {
			continue
		}
		g.Go(func() error {
			img, err := e.cfg.Renderer.RenderPage(gctx, doc.Path, i, e.cfg.RenderDPI)
			if err != nil {
				e.logger.Warn("ocr render failed", "page", i, "error", err)
				return nil
			}
			text, err := e.cfg.Transcriber.Transcribe(gctx, img)
			if err != nil {
				e.logger.Warn("ocr failed, keeping native text", "page", i, "error", err)
				return nil
			}
			doc.Pages[i].Text = text
			doc.Pages[i].Source = SourceOCR
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Sparse reports whether text is too thin to trust: fewer than minChars
// non-space characters, or less than 85% printable.
func Sparse(text string, minChars int) bool {
	var total, printable, nonSpace int
	for _, r := range text {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
		if !unicode.IsSpace(r) {
			nonSpace++
		}
	}
	if nonSpace < minChars {
		return true
	}
	return float64(printable)/float64(total) < 0.85
}
