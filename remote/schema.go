package remote

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const (
	schemaSubmit = "submit_response.schema.json"
	schemaJob    = "job.schema.json"
	schemaCached = "cached.schema.json"
)

var (
	compileOnce     sync.Once
	compiledSchemas map[string]*jsonschema.Schema
	compileErr      error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		names := []string{schemaSubmit, schemaJob, schemaCached}
		for _, name := range names {
			data, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				compileErr = fmt.Errorf("read schema %s: %w", name, err)
				return
			}
			if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
				compileErr = fmt.Errorf("add schema resource %s: %w", name, err)
				return
			}
		}

		out := make(map[string]*jsonschema.Schema, len(names))
		for _, name := range names {
			s, err := compiler.Compile(name)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			out[name] = s
		}
		compiledSchemas = out
	})

	if compileErr != nil {
		return nil, compileErr
	}
	return compiledSchemas, nil
}

// decodeValidated validates body against the named schema, then decodes it
// into v.
func decodeValidated(schemaName string, body []byte, v any) error {
	value, err := decodeStrictJSON(body)
	if err != nil {
		return fmt.Errorf("decode response JSON: %w", err)
	}

	schemas, err := loadSchemas()
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	if err := schemas[schemaName].Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("response body is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("response contains trailing content")
	}
	return value, nil
}

// malformed wraps a decode failure of a 2xx response.
func malformed(status int, body []byte, err error) *Error {
	return &Error{
		Kind:       KindMalformedResponse,
		Status:     status,
		Diagnostic: fmt.Sprintf("HTTP %d: %v: %s", status, err, truncate(string(body), 500)),
		Cause:      err,
	}
}
