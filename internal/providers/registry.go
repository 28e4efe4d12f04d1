package providers

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackzampolin/scanrelay/internal/config"
	"github.com/jackzampolin/scanrelay/internal/povalidate"
)

// Registry holds the capabilities selected by configuration. Any field may
// be nil when the matching provider is "none".
type Registry struct {
	Transcriber Transcriber
	Orientation OrientationDetector
	Vision      povalidate.VisionExtractor

	closers []io.Closer
}

// NewRegistryFromConfig builds the OCR, orientation and vision capabilities
// named in cfg.
func NewRegistryFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{}

	tess := NewTesseract(TesseractConfig{Bin: cfg.Extract.TesseractPath})
	if cfg.Extract.Orientation {
		r.Orientation = tess
	}

	switch cfg.Extract.OCRProvider {
	case TesseractName:
		r.Transcriber = tess
	case MistralOCRName:
		key := config.ResolveEnvVars(cfg.Validation.Mistral.APIKey)
		if key == "" {
			return nil, fmt.Errorf("ocr provider %q requires validation.mistral.api_key", MistralOCRName)
		}
		r.Transcriber = NewMistralOCRClient(MistralOCRConfig{
			APIKey:    key,
			RateLimit: cfg.Validation.Mistral.RateLimit,
		})
	case "", "none":
	default:
		return nil, fmt.Errorf("unknown ocr provider %q", cfg.Extract.OCRProvider)
	}

	switch cfg.Validation.VisionProvider {
	case OpenAIVisionName:
		oc := cfg.Validation.OpenAI
		key := config.ResolveEnvVars(oc.APIKey)
		if key == "" {
			return nil, fmt.Errorf("vision provider %q requires validation.openai.api_key", OpenAIVisionName)
		}
		r.Vision = NewOpenAIVision(OpenAIVisionConfig{
			APIKey:    key,
			Model:     oc.Model,
			BaseURL:   oc.BaseURL,
			RateLimit: oc.RateLimit,
		})
	case GeminiVisionName:
		gc := cfg.Validation.Gemini
		g, err := NewGeminiVision(ctx, GeminiVisionConfig{
			ProjectID:       config.ResolveEnvVars(gc.ProjectID),
			Location:        gc.Location,
			Model:           gc.Model,
			CredentialsFile: config.ResolveEnvVars(gc.CredentialsFile),
		})
		if err != nil {
			// The vision tier is optional; Tier 1 results still stand.
			logger.Warn("gemini vision unavailable", "error", err)
			break
		}
		r.Vision = g
		r.closers = append(r.closers, g)
	case "", "none":
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.Validation.VisionProvider)
	}

	logger.Info("providers configured",
		"ocr", cfg.Extract.OCRProvider,
		"orientation", r.Orientation != nil,
		"vision", cfg.Validation.VisionProvider,
		"vision_ready", r.Vision != nil)
	return r, nil
}

// Close releases provider clients.
func (r *Registry) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
