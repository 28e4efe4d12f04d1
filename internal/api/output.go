// Package api holds the CLI's output encoders and a client for the status
// server.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a structured output format for CLI commands.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	// FormatText is the human report, for commands that have one.
	FormatText Format = "text"
)

// ParseFormat reads the --output flag.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatYAML, FormatJSON, FormatText:
		return f, nil
	case "":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q: want yaml, json or text", s)
	}
}

// Printer writes command results in one format.
type Printer struct {
	W      io.Writer
	Format Format
}

// Print encodes data. Text falls back to YAML for results with no human
// form.
func (p Printer) Print(data any) error {
	return Write(p.W, p.Format, data)
}

// Structured reports whether output is meant for machines.
func (p Printer) Structured() bool {
	return p.Format == FormatJSON || p.Format == FormatYAML
}

// Write encodes data to w.
func Write(w io.Writer, format Format, data any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML, FormatText, "":
		node, err := yamlNode(data)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(node)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// yamlNode converts data through its JSON form so both formats share the
// json tags and field order.
func yamlNode(data any) (*yaml.Node, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode output: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to convert output: %w", err)
	}
	blockStyle(&doc)
	return &doc, nil
}

// blockStyle drops the flow and quoting styles JSON input carries.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
