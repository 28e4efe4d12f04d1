package providers

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"github.com/jackzampolin/scanrelay/internal/povalidate"
)

const (
	GeminiVisionName         = "gemini"
	geminiVisionDefaultModel = "gemini-2.0-flash"
)

// GeminiVisionConfig configures the Vertex AI Gemini extractor.
type GeminiVisionConfig struct {
	ProjectID       string
	Location        string
	Model           string
	CredentialsFile string // Optional; default application credentials otherwise
}

// contentGenerator is the part of *genai.GenerativeModel we call.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiVision implements povalidate.VisionExtractor with Gemini on Vertex AI.
type GeminiVision struct {
	model  contentGenerator
	client *genai.Client
}

// NewGeminiVision connects to Vertex AI and configures a JSON-only model.
func NewGeminiVision(ctx context.Context, cfg GeminiVisionConfig) (*GeminiVision, error) {
	if cfg.ProjectID == "" || cfg.Location == "" {
		return nil, fmt.Errorf("gemini vision: project_id and location are required")
	}
	if cfg.Model == "" {
		cfg.Model = geminiVisionDefaultModel
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Location, opts...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(visionPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	return &GeminiVision{model: model, client: client}, nil
}

// Name returns the provider identifier.
func (g *GeminiVision) Name() string {
	return GeminiVisionName
}

// ExtractFields sends the page images and decodes the JSON answer.
func (g *GeminiVision) ExtractFields(ctx context.Context, pageImages [][]byte) (*povalidate.Extraction, error) {
	if len(pageImages) == 0 {
		return nil, fmt.Errorf("no page images")
	}

	parts := make([]genai.Part, 0, len(pageImages)+1)
	for _, img := range pageImages {
		parts = append(parts, genai.ImageData("png", img))
	}
	parts = append(parts, genai.Text("Schema:\n"+string(poSchema)))

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	return decodeExtraction(responseText(resp))
}

// Close releases the Vertex AI client.
func (g *GeminiVision) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}

var _ povalidate.VisionExtractor = (*GeminiVision)(nil)
