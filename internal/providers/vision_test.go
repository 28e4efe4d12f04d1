package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/vertexai/genai"
)

const sampleFields = `{"po_number":"4500123","line_items":[{"serial_number":"SN-77","description":"Caliper","unit_price":45,"quantity":1,"extended_price":45,"page_number":1}]}`

func TestOpenAIVision_ExtractFields(t *testing.T) {
	t.Run("structured answer", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("bad body: %v", err)
			}
			rf, _ := body["response_format"].(map[string]any)
			if rf["type"] != "json_schema" {
				t.Errorf("response_format = %#v", rf)
			}
			msgs, _ := body["messages"].([]any)
			if len(msgs) != 1 {
				t.Fatalf("got %d messages", len(msgs))
			}
			parts, _ := msgs[0].(map[string]any)["content"].([]any)
			if len(parts) != 3 {
				t.Errorf("got %d content parts, want prompt + 2 images", len(parts))
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 1,
				"model":   "gpt-4o-mini",
				"choices": []any{map[string]any{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]any{
						"role":    "assistant",
						"content": sampleFields,
						"refusal": "",
					},
				}},
			})
		}))
		defer server.Close()

		c := NewOpenAIVision(OpenAIVisionConfig{APIKey: "k", BaseURL: server.URL, MaxRetries: 1})
		ext, err := c.ExtractFields(context.Background(), [][]byte{[]byte("p1"), []byte("p2")})
		if err != nil {
			t.Fatalf("ExtractFields() error = %v", err)
		}
		if ext.PONumber != "4500123" || len(ext.LineItems) != 1 || ext.LineItems[0].SerialNumber != "SN-77" {
			t.Errorf("unexpected extraction %+v", ext)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
		}))
		defer server.Close()

		c := NewOpenAIVision(OpenAIVisionConfig{APIKey: "k", BaseURL: server.URL, MaxRetries: 1})
		_, err := c.ExtractFields(context.Background(), [][]byte{[]byte("p1")})
		if _, ok := IsRateLimitError(err); !ok {
			t.Fatalf("expected RateLimitError, got %T: %v", err, err)
		}
	})

	t.Run("no images", func(t *testing.T) {
		c := NewOpenAIVision(OpenAIVisionConfig{APIKey: "k"})
		if _, err := c.ExtractFields(context.Background(), nil); err == nil {
			t.Fatal("expected error")
		}
	})
}

type fakeGenerator struct {
	resp  *genai.GenerateContentResponse
	err   error
	parts []genai.Part
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	return f.resp, f.err
}

func TestGeminiVision_ExtractFields(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("```json\n" + sampleFields + "\n```")}},
		}},
	}}
	g := &GeminiVision{model: gen}

	ext, err := g.ExtractFields(context.Background(), [][]byte{[]byte("p1")})
	if err != nil {
		t.Fatalf("ExtractFields() error = %v", err)
	}
	if ext.PONumber != "4500123" {
		t.Errorf("PONumber = %q", ext.PONumber)
	}
	if len(gen.parts) != 2 {
		t.Errorf("sent %d parts, want image + schema", len(gen.parts))
	}
	if blob, ok := gen.parts[0].(genai.Blob); !ok || blob.MIMEType != "image/png" {
		t.Errorf("first part = %#v", gen.parts[0])
	}

	gen.err = errors.New("quota")
	if _, err := g.ExtractFields(context.Background(), [][]byte{[]byte("p1")}); err == nil {
		t.Fatal("expected error")
	}

	gen.err = nil
	gen.resp = &genai.GenerateContentResponse{}
	if _, err := g.ExtractFields(context.Background(), [][]byte{[]byte("p1")}); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("got %v, want ErrEmptyResponse", err)
	}
}
