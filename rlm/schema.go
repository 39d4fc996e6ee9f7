// Output schema - optional JSON Schema constraint on the final answer.
//
// Validation runs through Google's Draft 2020-12 validator. Simple schemas
// that the resolver rejects fall back to a small internal walker covering
// the subset the Schema type can express.

package rlm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/richinex/daedalus/internal/jsonutil"
)

// Schema is the JSON Schema subset a request may constrain its answer with.
type Schema struct {
	Type       string             `json:"type"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty"`
	Required   []string           `json:"required,omitempty"`
	Enum       []string           `json:"enum,omitempty"`
	Nullable   bool               `json:"nullable,omitempty"`
	Minimum    *float64           `json:"minimum,omitempty"`
	Maximum    *float64           `json:"maximum,omitempty"`
	MinLength  *int               `json:"minLength,omitempty"`
	MaxLength  *int               `json:"maxLength,omitempty"`
	MinItems   *int               `json:"minItems,omitempty"`
	MaxItems   *int               `json:"maxItems,omitempty"`
}

// JSON renders the schema for prompts and diagnostics.
func (s *Schema) JSON() string {
	raw, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// Validator checks values against a Schema.
type Validator struct {
	resolved *jsonschema.Resolved
	schema   *Schema
}

// NewValidator compiles the schema for validation. The resolver can refuse
// schemas it considers incomplete; those fall back to internal validation,
// so the only hard error is a nil schema.
func NewValidator(schema *Schema) (*Validator, error) {
	if schema == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var compiled jsonschema.Schema
	if err := json.Unmarshal(raw, &compiled); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	resolved, err := compiled.Resolve(nil)
	if err != nil {
		return &Validator{schema: schema}, nil
	}
	return &Validator{resolved: resolved, schema: schema}, nil
}

// Schema returns the schema the validator was built from.
func (v *Validator) Schema() *Schema {
	return v.schema
}

// Validate checks a decoded JSON value against the schema.
func (v *Validator) Validate(data any) error {
	if v.resolved != nil {
		if err := v.resolved.Validate(data); err != nil {
			return fmt.Errorf("schema validation failed: %w", err)
		}
		return nil
	}
	return checkValue(data, v.schema, "$")
}

// CheckAnswer validates a final answer string: the answer must hold one JSON
// value, possibly fenced, that conforms to the schema.
func (v *Validator) CheckAnswer(answer string) error {
	text := strings.TrimSpace(jsonutil.StripCodeFences(answer))

	var data any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		// The model sometimes wraps the object in prose; one extraction
		// attempt before rejecting.
		obj, oerr := jsonutil.ExtractObject(text)
		if oerr != nil || json.Unmarshal([]byte(obj), &data) != nil {
			return fmt.Errorf("answer is not valid JSON: %v", err)
		}
	}
	return v.Validate(data)
}

// checkValue is the fallback walker for schemas the resolver refused.
func checkValue(value any, schema *Schema, path string) error {
	if value == nil {
		if schema.Nullable || schema.Type == "null" {
			return nil
		}
		return fmt.Errorf("%s: null is not allowed", path)
	}

	switch schema.Type {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object, got %T", path, value)
		}
		for _, name := range schema.Required {
			if _, present := obj[name]; !present {
				return fmt.Errorf("%s: missing required field %q", path, name)
			}
		}
		for name, sub := range schema.Properties {
			if field, present := obj[name]; present {
				if err := checkValue(field, sub, path+"."+name); err != nil {
					return err
				}
			}
		}

	case "array":
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("%s: expected array, got %T", path, value)
		}
		if schema.MinItems != nil && len(arr) < *schema.MinItems {
			return fmt.Errorf("%s: fewer than %d items", path, *schema.MinItems)
		}
		if schema.MaxItems != nil && len(arr) > *schema.MaxItems {
			return fmt.Errorf("%s: more than %d items", path, *schema.MaxItems)
		}
		if schema.Items != nil {
			for i, item := range arr {
				if err := checkValue(item, schema.Items, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}

	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s: expected string, got %T", path, value)
		}
		if schema.MinLength != nil && len(s) < *schema.MinLength {
			return fmt.Errorf("%s: shorter than %d characters", path, *schema.MinLength)
		}
		if schema.MaxLength != nil && len(s) > *schema.MaxLength {
			return fmt.Errorf("%s: longer than %d characters", path, *schema.MaxLength)
		}
		if len(schema.Enum) > 0 {
			for _, allowed := range schema.Enum {
				if s == allowed {
					return nil
				}
			}
			return fmt.Errorf("%s: %q is not one of %v", path, s, schema.Enum)
		}

	case "number", "integer":
		n, ok := value.(float64)
		if !ok {
			return fmt.Errorf("%s: expected %s, got %T", path, schema.Type, value)
		}
		if schema.Type == "integer" && n != float64(int64(n)) {
			return fmt.Errorf("%s: %v is not an integer", path, n)
		}
		if schema.Minimum != nil && n < *schema.Minimum {
			return fmt.Errorf("%s: %v is below minimum %v", path, n, *schema.Minimum)
		}
		if schema.Maximum != nil && n > *schema.Maximum {
			return fmt.Errorf("%s: %v is above maximum %v", path, n, *schema.Maximum)
		}

	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s: expected boolean, got %T", path, value)
		}

	case "null":
		return fmt.Errorf("%s: expected null, got %T", path, value)
	}

	return nil
}
