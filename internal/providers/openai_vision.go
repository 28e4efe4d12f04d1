package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jackzampolin/scanrelay/internal/povalidate"
)

const (
	OpenAIVisionName         = "openai"
	openAIVisionDefaultModel = "gpt-4o-mini"
)

// OpenAIVisionConfig holds configuration for the OpenAI vision extractor.
type OpenAIVisionConfig struct {
	APIKey     string
	Model      string
	BaseURL    string       // Optional (tests, compatible gateways)
	RateLimit  float64      // Requests per minute
	MaxRetries int          // Retry attempts for SDK transport
	Timeout    time.Duration
	HTTPClient *http.Client // Optional (tests)
}

// OpenAIVision implements povalidate.VisionExtractor with chat completions,
// image parts and a json_schema response format.
type OpenAIVision struct {
	model   string
	limiter *RateLimiter
	client  openai.Client
}

// NewOpenAIVision creates a new OpenAI vision extractor.
func NewOpenAIVision(cfg OpenAIVisionConfig) *OpenAIVision {
	if cfg.Model == "" {
		cfg.Model = openAIVisionDefaultModel
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 60
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIVision{
		model:   cfg.Model,
		limiter: NewRateLimiter(cfg.RateLimit / 60),
		client:  openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAIVision) Name() string {
	return OpenAIVisionName
}

// ExtractFields sends every page image in one request and decodes the
// structured answer.
func (c *OpenAIVision) ExtractFields(ctx context.Context, pageImages [][]byte) (*povalidate.Extraction, error) {
	if len(pageImages) == 0 {
		return nil, fmt.Errorf("no page images")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(visionPrompt)}
	for _, img := range pageImages {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
			Detail: "high",
		}))
	}

	params := openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   poSchemaName,
					Strict: openai.Bool(true),
					Schema: schemaObject(),
				},
			},
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		err = mapOpenAIError(err)
		if rle, ok := IsRateLimitError(err); ok {
			c.limiter.Record429(rle.RetryAfter)
		}
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai vision: %w", ErrEmptyResponse)
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return nil, fmt.Errorf("openai vision refused: %s", msg.Refusal)
	}
	return decodeExtraction(msg.Content)
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			retryAfter := time.Duration(0)
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return &RateLimitError{
				Message:    fmt.Sprintf("OpenAI rate limited: %s", apiErr.Message),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		if apiErr.Message != "" {
			return fmt.Errorf("OpenAI vision error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("OpenAI vision error (status %d)", apiErr.StatusCode)
	}
	return err
}

var _ povalidate.VisionExtractor = (*OpenAIVision)(nil)
