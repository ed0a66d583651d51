package command

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldJSON
	FieldFile
)

// FileMarker stands in for a value that will be read from the matching *_file field.
const FileMarker = "_file_"

// Field defines a CLI input field.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool
	// FileField names the field whose file content can replace this one.
	FileField string
}

// Command defines a CLI command binding.
type Command struct {
	Service      string
	Action       string
	Method       string
	PathTemplate string
	Fields       []Field
}

// Key is the registry key, "service action".
func (c Command) Key() string {
	return c.Service + " " + c.Action
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Params holds parsed input params.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

// ApplyFileShortcuts marks fields that will be filled from their file field.
func (p Params) ApplyFileShortcuts(fields []Field) {
	for _, field := range fields {
		if field.FileField == "" {
			continue
		}
		if p.Get(field.FileField) != "" && p.Get(field.Name) == "" {
			p.Set(field.Name, FileMarker)
		}
	}
}

// Resolve returns the field value, reading the file field when the value is the file marker.
func (p Params) Resolve(field Field) (string, error) {
	value := p.Get(field.Name)
	if (value == "" || value == FileMarker) && field.FileField != "" && p.Get(field.FileField) != "" {
		return ReadFile(p.Get(field.FileField))
	}
	if value == FileMarker {
		return "", nil
	}
	return value, nil
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}

func ParseJSON(value string) (json.RawMessage, error) {
	raw := strings.TrimSpace(value)
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("invalid json content")
	}
	return json.RawMessage(raw), nil
}

// TestCase mirrors one entry of the evaluate payload.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	IsSample       bool   `json:"isSample,omitempty"`
}

// ParseTestCases accepts a JSON array of test cases, or an object with a testCases array.
func ParseTestCases(value string) ([]TestCase, error) {
	raw, err := ParseJSON(value)
	if err != nil {
		return nil, err
	}
	var cases []TestCase
	if err := json.Unmarshal(raw, &cases); err == nil {
		return cases, nil
	}
	var wrapped struct {
		TestCases []TestCase `json:"testCases"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("invalid test cases: %w", err)
	}
	return wrapped.TestCases, nil
}
