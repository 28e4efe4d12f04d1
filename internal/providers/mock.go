package providers

import (
	"context"
	"sync/atomic"

	"github.com/jackzampolin/scanrelay/internal/povalidate"
)

const MockName = "mock"

// MockOCR is a Transcriber and OrientationDetector with canned answers.
type MockOCR struct {
	Text     string
	Rotation int
	Err      error

	// TextFor, when set, overrides Text per call.
	TextFor func(image []byte) string

	calls atomic.Int64
}

// Name returns the provider identifier.
func (m *MockOCR) Name() string {
	return MockName
}

// Transcribe returns the configured text.
func (m *MockOCR) Transcribe(ctx context.Context, image []byte) (string, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	if m.TextFor != nil {
		return m.TextFor(image), nil
	}
	return m.Text, nil
}

// DetectOrientation returns the configured rotation.
func (m *MockOCR) DetectOrientation(ctx context.Context, image []byte) (int, error) {
	m.calls.Add(1)
	if m.Err != nil {
		return 0, m.Err
	}
	return m.Rotation, nil
}

// Calls returns how many requests were made.
func (m *MockOCR) Calls() int64 {
	return m.calls.Load()
}

// MockVision is a VisionExtractor returning a fixed extraction.
type MockVision struct {
	Result *povalidate.Extraction
	Err    error

	calls atomic.Int64
}

// Name returns the provider identifier.
func (m *MockVision) Name() string {
	return MockName
}

// ExtractFields returns a copy of the configured extraction.
func (m *MockVision) ExtractFields(ctx context.Context, pageImages [][]byte) (*povalidate.Extraction, error) {
	m.calls.Add(1)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result == nil {
		return &povalidate.Extraction{Method: povalidate.MethodVision, Failed: true}, nil
	}
	out := *m.Result
	out.LineItems = append([]povalidate.LineItem(nil), m.Result.LineItems...)
	return &out, nil
}

// Calls returns how many requests were made.
func (m *MockVision) Calls() int64 {
	return m.calls.Load()
}

var (
	_ Transcriber                = (*MockOCR)(nil)
	_ OrientationDetector        = (*MockOCR)(nil)
	_ povalidate.VisionExtractor = (*MockVision)(nil)
)
