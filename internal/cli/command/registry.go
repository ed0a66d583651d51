package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

var (
	languageField = Field{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString}
	codeField     = Field{Name: "code", Prompt: "code", Type: FieldString, Required: true, FileField: "source_file"}
	sourceField   = Field{Name: "source_file", Aliases: []string{"file"}, Prompt: "source_file", Type: FieldFile}
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "judge",
			Action:       "execute",
			Method:       http.MethodPost,
			PathTemplate: "/execute",
			Fields: []Field{
				languageField,
				codeField,
				sourceField,
				{Name: "input", Prompt: "input", Type: FieldString, FileField: "input_file"},
				{Name: "input_file", Prompt: "input_file", Type: FieldFile},
			},
		},
		{
			Service:      "judge",
			Action:       "evaluate",
			Method:       http.MethodPost,
			PathTemplate: "/evaluate",
			Fields: []Field{
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString, Required: true},
				codeField,
				sourceField,
				{Name: "tests", Prompt: "tests (JSON array)", Type: FieldJSON, Required: true, FileField: "tests_file"},
				{Name: "tests_file", Prompt: "tests_file", Type: FieldFile},
				{Name: "submission_id", Prompt: "submission_id", Type: FieldString},
				{Name: "user_id", Prompt: "user_id", Type: FieldString},
				{Name: "problem_id", Prompt: "problem_id", Type: FieldString},
			},
		},
		{
			Service:      "judge",
			Action:       "health",
			Method:       http.MethodGet,
			PathTemplate: "/health",
		},
		{
			Service:      "judge",
			Action:       "result",
			Method:       http.MethodGet,
			PathTemplate: "/submissions/:id",
			Fields: []Field{
				{Name: "id", Aliases: []string{"submission_id"}, Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	var body []byte
	if cmd.Method != http.MethodGet && cmd.Method != http.MethodDelete {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	for _, key := range []string{"id"} {
		placeholder := ":" + key
		if strings.Contains(path, placeholder) {
			value := params.Get(key)
			if value == "" {
				return "", fmt.Errorf("missing path parameter: %s", key)
			}
			path = strings.ReplaceAll(path, placeholder, value)
		}
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	if cmd.Service != "judge" {
		return nil, nil
	}
	switch cmd.Action {
	case "execute":
		return buildExecutePayload(cmd, params)
	case "evaluate":
		return buildEvaluatePayload(cmd, params)
	}
	return nil, nil
}

func fieldByName(cmd Command, name string) Field {
	for _, f := range cmd.Fields {
		if f.Name == name {
			return f
		}
	}
	return Field{Name: name}
}

func buildExecutePayload(cmd Command, params Params) (interface{}, error) {
	code, err := params.Resolve(fieldByName(cmd, "code"))
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}
	input, err := params.Resolve(fieldByName(cmd, "input"))
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"code":  code,
		"input": input,
	}
	if lang := params.Get("language"); lang != "" {
		payload["language"] = lang
	}
	return payload, nil
}

func buildEvaluatePayload(cmd Command, params Params) (interface{}, error) {
	code, err := params.Resolve(fieldByName(cmd, "code"))
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}
	rawTests, err := params.Resolve(fieldByName(cmd, "tests"))
	if err != nil {
		return nil, err
	}
	if rawTests == "" {
		return nil, fmt.Errorf("tests is required")
	}
	tests, err := ParseTestCases(rawTests)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"language":  params.Get("language"),
		"code":      code,
		"testCases": tests,
	}
	for param, key := range map[string]string{
		"submission_id": "submissionId",
		"user_id":       "userId",
		"problem_id":    "problemId",
	} {
		if v := params.Get(param); v != "" {
			payload[key] = v
		}
	}
	return payload, nil
}
