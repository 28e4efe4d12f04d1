// Package providers adapts OCR and vision services to the capabilities the
// extraction and validation stages consume: page transcription, orientation
// detection and purchase-order field extraction.
package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OCRProvider is a remote or local engine that turns a page image into text.
type OCRProvider interface {
	// Name returns the provider identifier.
	Name() string

	// ProcessImage extracts text from a single page image.
	ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error)

	// RequestsPerSecond returns the provider's rate limit.
	RequestsPerSecond() float64

	// MaxRetries returns the maximum retry attempts.
	MaxRetries() int

	// RetryDelayBase returns the base delay for exponential backoff.
	RetryDelayBase() time.Duration
}

// OCRResult is the response from an OCR provider.
type OCRResult struct {
	Success       bool
	Text          string
	Metadata      map[string]any
	CostUSD       float64
	ExecutionTime time.Duration
	ErrorMessage  string
	RetryCount    int
}

// Transcriber turns a page image into text.
type Transcriber interface {
	Transcribe(ctx context.Context, image []byte) (string, error)
}

// OrientationDetector reports the clockwise rotation (0, 90, 180 or 270)
// that makes a page image upright.
type OrientationDetector interface {
	DetectOrientation(ctx context.Context, image []byte) (int, error)
}

// ErrEmptyResponse is returned when a provider answers without content.
var ErrEmptyResponse = errors.New("empty provider response")

// RateLimitError is returned when a provider answers 429.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsRateLimitError unwraps err into a *RateLimitError.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
