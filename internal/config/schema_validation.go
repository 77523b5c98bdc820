package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nxfs/stress-ng/schema"
)

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("job.v1.json", bytes.NewReader(schema.JobV1Schema)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, err := compiler.Compile("job.v1.json")
		if err != nil {
			schemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		schemaCompiled = compiled
	})
	return schemaCompiled, schemaErr
}

func validateAgainstSchema(doc map[string]any) error {
	compiled, err := loadSchema()
	if err != nil {
		return err
	}
	normalized, err := normalizeForSchema(doc)
	if err != nil {
		return fmt.Errorf("normalize document: %w", err)
	}
	if err := compiled.Validate(normalized); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return fmt.Errorf("job manifest does not match schema:\n%s", formatValidationError(validationErr))
		}
		return fmt.Errorf("validate job manifest: %w", err)
	}
	return nil
}

// normalizeForSchema converts the YAML-decoded document into the
// generic JSON shape the validator expects, preserving numbers as
// json.Number so integer bounds check exactly.
func normalizeForSchema(doc any) (any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func formatValidationError(err *jsonschema.ValidationError) string {
	var sb strings.Builder
	writeValidationError(&sb, err, 0)
	return strings.TrimRight(sb.String(), "\n")
}

func writeValidationError(sb *strings.Builder, err *jsonschema.ValidationError, depth int) {
	if err == nil {
		return
	}
	if !strings.Contains(err.Message, "doesn't validate with") {
		indent := strings.Repeat("  ", depth)
		fmt.Fprintf(sb, "%s- %s: %s\n", indent, formatInstanceLocation(err.InstanceLocation), err.Message)
		depth++
	}
	for _, cause := range err.Causes {
		writeValidationError(sb, cause, depth)
	}
}

func formatInstanceLocation(loc string) string {
	if loc == "" || loc == "/" {
		return "(root)"
	}
	trimmed := strings.TrimPrefix(loc, "/")
	parts := strings.Split(trimmed, "/")
	for i, part := range parts {
		part = strings.ReplaceAll(part, "~1", "/")
		part = strings.ReplaceAll(part, "~0", "~")
		parts[i] = part
	}
	return strings.Join(parts, ".")
}
