package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Property declares the expected primitive type of a single argument.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Schema is the JSON-Schema-shaped argument contract carried by a
// Descriptor: an object with declared property types and a required set.
//
// Argument checking is shallow. It answers "is the shape right?" (required
// fields present and non-empty, primitive types matching) and nothing more;
// semantic validation belongs to the tool itself.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// ObjectSchema builds an object schema from property declarations and a
// required list. The conventional way to declare tool arguments:
//
//	schema := tool.ObjectSchema(map[string]tool.Property{
//	    "to":      {Type: "string", Description: "recipient address"},
//	    "subject": {Type: "string"},
//	    "body":    {Type: "string"},
//	}, "to", "body")
func ObjectSchema(props map[string]Property, required ...string) Schema {
	return Schema{Type: "object", Properties: props, Required: required}
}

// Validate checks that the schema itself is well formed by compiling it as a
// JSON Schema document. Registration rejects descriptors whose schemas fail
// here, so a mistyped property type ("strng") surfaces at startup instead of
// at call time. A zero-value schema is valid and matches everything.
func (s Schema) Validate() error {
	if s.Type == "" && len(s.Properties) == 0 && len(s.Required) == 0 {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("mem://schema.json", doc); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	if _, err := c.Compile("mem://schema.json"); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	return nil
}

// ValidateArgs checks the supplied arguments against the schema's shape.
//
// Two rules, applied in order:
//
//  1. Every required field must be present and non-empty. Nil, "", empty
//     slices, and empty maps count as empty; 0 and false are legitimate
//     values.
//  2. Every argument that has a declared property type must match that
//     primitive type (string, integer, number, boolean, array, object).
//     Integers accept whole-valued floats because JSON decoding produces
//     float64 for every number.
//
// Failures are reported as *Error with KindValidation. Arguments without a
// declared property pass through unchecked.
func (s Schema) ValidateArgs(args map[string]interface{}) error {
	for _, field := range s.Required {
		v, ok := args[field]
		if !ok {
			return Errorf(KindValidation, "missing required field %q", field)
		}
		if isEmptyValue(v) {
			return Errorf(KindValidation, "required field %q is empty", field)
		}
	}
	if len(s.Properties) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, ok := args[name]
		if !ok || v == nil {
			continue
		}
		if err := checkType(name, v, s.Properties[name].Type); err != nil {
			return err
		}
	}
	return nil
}

// isEmptyValue reports whether a present value counts as empty for the
// required-field rule.
func isEmptyValue(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	default:
		return false
	}
}

// checkType matches a runtime value against a declared primitive type.
func checkType(field string, v interface{}, declared string) error {
	switch declared {
	case "", "any":
		return nil
	case "string":
		if _, ok := v.(string); ok {
			return nil
		}
	case "integer":
		if isInteger(v) {
			return nil
		}
	case "number":
		if isNumber(v) {
			return nil
		}
	case "boolean":
		if _, ok := v.(bool); ok {
			return nil
		}
	case "array":
		if _, ok := v.([]interface{}); ok {
			return nil
		}
	case "object":
		if _, ok := v.(map[string]interface{}); ok {
			return nil
		}
	default:
		return Errorf(KindValidation, "field %q declares unsupported type %q", field, declared)
	}
	return Errorf(KindValidation, "field %q: expected %s but got %T", field, declared, v)
}

func isNumber(v interface{}) bool {
	switch n := v.(type) {
	case float32, float64:
		return true
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		_, err := n.Float64()
		return err == nil
	}
	return false
}

func isInteger(v interface{}) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return math.Trunc(float64(n)) == float64(n)
	case float64:
		return math.Trunc(n) == n
	case json.Number:
		_, err := n.Int64()
		return err == nil
	}
	return false
}
