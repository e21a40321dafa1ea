package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Document is the portable form of a transformation: what export writes and
// what the logicgen CLI reads. Keys are the same as the stored columns.
type Document struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	InputTables []InputTable `json:"input_tables"`
	InputParams []InputParam `json:"input_params"`
	OutputTable OutputTable  `json:"output_table"`
}

// NewDocument returns the portable form of t.
func NewDocument(t *Transformation) Document {
	return Document{
		Name:        t.Name,
		Description: t.Description,
		InputTables: t.InputTables,
		InputParams: t.InputParams,
		OutputTable: t.OutputTable,
	}
}

// Snapshot returns the editable part of the document with non-nil collections.
func (d Document) Snapshot() Snapshot {
	s := Snapshot{
		InputTables: d.InputTables,
		InputParams: d.InputParams,
		OutputTable: d.OutputTable,
	}
	if s.InputTables == nil {
		s.InputTables = []InputTable{}
	}
	if s.InputParams == nil {
		s.InputParams = []InputParam{}
	}
	if s.OutputTable.Columns == nil {
		s.OutputTable.Columns = []Column{}
	}
	if s.OutputTable.Rows == nil {
		s.OutputTable.Rows = []Row{}
	}
	return s
}

// MarshalDocument encodes d as indented JSON or as block-style YAML with the
// same keys in the same order.
func MarshalDocument(d Document, format string) ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	switch strings.ToLower(format) {
	case "", FormatJSON:
		return append(data, '\n'), nil
	case FormatYAML, "yml":
		// JSON is valid YAML, so parsing it keeps key order.
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("failed to convert document to yaml: %w", err)
		}
		blockStyle(&node)
		out, err := yaml.Marshal(&node)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal yaml: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported document format %q", format)
	}
}

// UnmarshalDocument decodes a JSON or YAML document.
func UnmarshalDocument(data []byte) (Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("failed to parse document: %w", err)
	}
	if raw == nil {
		return Document{}, fmt.Errorf("document is empty")
	}

	// Route through JSON so the json tags and flexible ids apply.
	normalized, err := json.Marshal(raw)
	if err != nil {
		return Document{}, fmt.Errorf("failed to normalize document: %w", err)
	}
	var d Document
	if err := json.Unmarshal(normalized, &d); err != nil {
		return Document{}, fmt.Errorf("failed to decode document: %w", err)
	}
	return d, nil
}

// blockStyle drops the flow and quoting styles taken from the JSON source.
// The encoder still quotes strings that would otherwise read as numbers.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, child := range n.Content {
		blockStyle(child)
	}
}
