package povalidate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/scanrelay/internal/pdfdoc"
)

// DefaultConfidenceThreshold is the Tier 1 confidence below which the
// vision tier runs.
const DefaultConfidenceThreshold = 0.7

// ExtractorConfig configures an Extractor.
type ExtractorConfig struct {
	Vision    VisionExtractor // optional Tier 2
	Renderer  PageRenderer    // required for Tier 2
	Threshold float64         // default 0.7
	DPI       int             // render resolution for Tier 2, default 200
	MaxPages  int             // pages sent to Tier 2, default 10
	Logger    *slog.Logger
}

// Extractor reads purchase-order fields, falling back to vision when the
// text layer gives a weak result.
type Extractor struct {
	vision    VisionExtractor
	renderer  PageRenderer
	threshold float64
	dpi       int
	maxPages  int
	logger    *slog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfidenceThreshold
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Extractor{
		vision:    cfg.Vision,
		renderer:  cfg.Renderer,
		threshold: cfg.Threshold,
		dpi:       cfg.DPI,
		maxPages:  cfg.MaxPages,
		logger:    cfg.Logger,
	}
}

// Extract reads the PDF at path. It never fails: a document with no
// readable line items comes back with Failed set.
func (e *Extractor) Extract(ctx context.Context, path string) *Extraction {
	var tier1 *Extraction
	pages, err := pdfdoc.ReadLayout(path)
	if err != nil {
		e.logger.Warn("text layer unreadable", "path", path, "error", err)
		tier1 = &Extraction{Method: MethodNone, Failed: true}
	} else {
		tier1 = ExtractTier1(pages)
	}

	if tier1.Confidence >= e.threshold {
		e.logger.Debug("tier 1 extraction accepted",
			"method", tier1.Method, "confidence", tier1.Confidence, "items", len(tier1.LineItems))
		return tier1
	}
	if e.vision == nil || e.renderer == nil {
		return tier1
	}

	e.logger.Info("tier 1 confidence low, trying vision",
		"path", path, "confidence", tier1.Confidence, "items", len(tier1.LineItems))
	tier2, err := e.extractVision(ctx, path, len(pages))
	if err != nil {
		e.logger.Warn("vision extraction failed", "path", path, "error", err)
		return tier1
	}
	if len(tier2.LineItems) == 0 {
		return tier1
	}

	tier2.Method = MethodVision
	tier2.Failed = false
	tier2.RawText = tier1.RawText
	if tier2.PONumber == "" {
		tier2.PONumber = tier1.PONumber
	}
	return tier2
}

func (e *Extractor) extractVision(ctx context.Context, path string, pageCount int) (*Extraction, error) {
	if pageCount == 0 {
		n, err := pdfdoc.PageCount(path)
		if err != nil {
			return nil, err
		}
		pageCount = n
	}
	pageCount = min(pageCount, e.maxPages)

	images := make([][]byte, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		img, err := e.renderer.RenderPage(ctx, path, i, e.dpi)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i+1, err)
		}
		images = append(images, img)
	}
	ext, err := e.vision.ExtractFields(ctx, images)
	if err != nil {
		return nil, err
	}
	if ext == nil {
		return nil, fmt.Errorf("vision returned no result")
	}
	return ext, nil
}
