package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxBodyBytes = 1 << 20

const (
	dispatchSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "agentType": {"type": "string"},
    "task": {
      "type": "object",
      "properties": {
        "title": {"type": "string", "maxLength": 512},
        "description": {"type": "string", "maxLength": 16384}
      }
    }
  }
}`

	submitSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "id": {"type": "string", "maxLength": 128},
    "agentType": {"type": "string"},
    "task": {
      "type": "object",
      "properties": {
        "title": {"type": "string", "maxLength": 512},
        "description": {"type": "string", "maxLength": 16384}
      }
    }
  }
}`

	threatSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "description": {"type": "string"},
    "severity": {"type": "string"},
    "category": {"type": "string"},
    "source": {"type": "string"},
    "details": {"type": "object"}
  }
}`

	reportSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "description": {"type": "string"},
    "type": {"type": "string"},
    "threats": {"type": "array", "items": {"type": "string"}},
    "content": {"type": "string"},
    "publishedUrl": {"type": "string"}
  }
}`

	toolSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "description": {"type": "string"},
    "category": {"type": "string"},
    "tags": {"type": "array", "items": {"type": "string"}},
    "githubUrl": {"type": "string"},
    "isCustom": {"type": "boolean"},
    "installCommand": {"type": "string"},
    "documentation": {"type": "string"}
  }
}`
)

// schemas 保存各个请求体的 JSON Schema。
type schemas struct {
	dispatch *jsonschema.Schema
	submit   *jsonschema.Schema
	threat   *jsonschema.Schema
	report   *jsonschema.Schema
	tool     *jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	sources := map[string]string{
		"dispatch.json": dispatchSchemaJSON,
		"submit.json":   submitSchemaJSON,
		"threat.json":   threatSchemaJSON,
		"report.json":   reportSchemaJSON,
		"tool.json":     toolSchemaJSON,
	}
	for name, source := range sources {
		if err := compiler.AddResource(name, strings.NewReader(source)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	out := &schemas{}
	targets := map[string]**jsonschema.Schema{
		"dispatch.json": &out.dispatch,
		"submit.json":   &out.submit,
		"threat.json":   &out.threat,
		"report.json":   &out.report,
		"tool.json":     &out.tool,
	}
	for name, target := range targets {
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		*target = schema
	}
	return out, nil
}

// bodyError 是请求体无法接受时返回给调用方的 400 提示。
type bodyError struct {
	message string
}

func (e *bodyError) Error() string { return e.message }

// readBody 读取并解析 JSON 请求体，返回原始字节与通用结构。
func readBody(r *http.Request) ([]byte, any, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, nil, &bodyError{message: "Failed to read request body"}
	}
	if len(raw) > maxBodyBytes {
		return nil, nil, &bodyError{message: "Request body too large"}
	}
	var doc any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return nil, nil, &bodyError{message: "Invalid JSON body"}
	}
	return raw, doc, nil
}

// validateDocument 按 schema 校验并返回第一条可读的错误。
func validateDocument(schema *jsonschema.Schema, doc any) error {
	err := schema.Validate(doc)
	if err == nil {
		return nil
	}
	if verr, ok := err.(*jsonschema.ValidationError); ok {
		leaf := verr
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		location := leaf.InstanceLocation
		if location == "" {
			location = "/"
		}
		return &bodyError{message: fmt.Sprintf("Invalid request body at %s: %s", location, leaf.Message)}
	}
	return &bodyError{message: "Invalid request body: " + err.Error()}
}

// decodeValidated 读取请求体，按 schema 校验后解码到 dst。
func decodeValidated(r *http.Request, schema *jsonschema.Schema, dst any) error {
	raw, doc, err := readBody(r)
	if err != nil {
		return err
	}
	if err := validateDocument(schema, doc); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &bodyError{message: "Invalid request body"}
	}
	return nil
}

// missing 判断字段是否缺失；空字符串、null 与 false 都视为缺失。
func missing(doc map[string]any, field string) bool {
	value, ok := doc[field]
	if !ok || value == nil {
		return true
	}
	switch v := value.(type) {
	case string:
		return v == ""
	case bool:
		return !v
	case json.Number:
		return v.String() == "0"
	}
	return false
}
