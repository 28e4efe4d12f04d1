package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/scanrelay/internal/povalidate"
)

// VisionConfidence is assigned to every vision extraction.
const VisionConfidence = 0.9

// poSchemaName names the structured response format.
const poSchemaName = "purchase_order_fields"

// poSchema is the JSON Schema vision models must answer with.
var poSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"po_number": {"type": ["string", "null"]},
		"line_items": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"serial_number": {"type": ["string", "null"]},
					"description": {"type": ["string", "null"]},
					"unit_price": {"type": ["number", "null"]},
					"quantity": {"type": ["number", "null"]},
					"extended_price": {"type": ["number", "null"]},
					"page_number": {"type": ["integer", "null"], "minimum": 1}
				},
				"required": ["serial_number", "description", "unit_price", "quantity", "extended_price", "page_number"],
				"additionalProperties": false
			}
		}
	},
	"required": ["po_number", "line_items"],
	"additionalProperties": false
}`)

const visionPrompt = `You are reading a scanned purchase order for calibration services.
Extract the purchase order number and every line item.
For each line item return the instrument serial number (look for S/N, Serial, SN),
the description, the unit price, the quantity, the extended price and the
1-based page number the line appears on. Prices are plain numbers without
currency symbols or thousands separators. Use null for anything not present.
Do not include subtotal, tax, freight or total rows.
Return ONLY JSON matching the schema.`

type poFields struct {
	PONumber  *string       `json:"po_number"`
	LineItems []poFieldLine `json:"line_items"`
}

type poFieldLine struct {
	SerialNumber  *string  `json:"serial_number"`
	Description   *string  `json:"description"`
	UnitPrice     *float64 `json:"unit_price"`
	Quantity      *float64 `json:"quantity"`
	ExtendedPrice *float64 `json:"extended_price"`
	PageNumber    *int     `json:"page_number"`
}

// decodeExtraction parses, validates and converts model output.
func decodeExtraction(content string) (*povalidate.Extraction, error) {
	parsed, err := parseStructuredJSON(content)
	if err != nil {
		return nil, err
	}
	if err := validateStructuredJSON(poSchema, parsed); err != nil {
		return nil, err
	}

	var fields poFields
	if err := json.Unmarshal(parsed, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode structured output: %w", err)
	}

	ext := &povalidate.Extraction{
		Method:     povalidate.MethodVision,
		Confidence: VisionConfidence,
	}
	if fields.PONumber != nil {
		ext.PONumber = strings.TrimSpace(*fields.PONumber)
	}
	for _, l := range fields.LineItems {
		li := povalidate.LineItem{
			SerialNumber:  deref(l.SerialNumber),
			Description:   deref(l.Description),
			UnitPrice:     l.UnitPrice,
			Quantity:      l.Quantity,
			ExtendedPrice: l.ExtendedPrice,
		}
		if l.PageNumber != nil && *l.PageNumber > 0 {
			li.Page = *l.PageNumber - 1
		}
		if li.SerialNumber == "" && li.Description == "" {
			if _, ok := li.Price(); !ok {
				continue
			}
		}
		ext.LineItems = append(ext.LineItems, li)
	}
	ext.Failed = len(ext.LineItems) == 0
	return ext, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// parseStructuredJSON parses JSON from model output, with lightweight recovery
// for markdown code fences and surrounding text.
func parseStructuredJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyResponse
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONObject(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	for _, candidate := range candidates {
		var parsed any
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			normalized, mErr := json.Marshal(parsed)
			if mErr != nil {
				return nil, fmt.Errorf("failed to normalize structured output: %w", mErr)
			}
			return normalized, nil
		}
	}
	return nil, fmt.Errorf("failed to parse structured JSON")
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}

// validateStructuredJSON validates parsed JSON against schemaRaw.
func validateStructuredJSON(schemaRaw, parsed json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaRaw)); err != nil {
		return fmt.Errorf("failed to load structured schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("failed to compile structured schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(parsed, &doc); err != nil {
		return fmt.Errorf("failed to decode structured JSON for validation: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("structured output does not match schema: %w", err)
	}
	return nil
}

// schemaObject returns poSchema as a generic value for SDK request params.
func schemaObject() map[string]any {
	var m map[string]any
	_ = json.Unmarshal(poSchema, &m)
	return m
}
