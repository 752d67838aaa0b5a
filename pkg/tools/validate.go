package tools

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateArgs checks LLM-provided arguments against the tool's parameter
// schema. A nil Parameters schema accepts anything. The returned error text
// is safe to feed back to the model.
func ValidateArgs(def Definition, args map[string]any) error {
	if def.Parameters == nil {
		return nil
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", normalize(def.Parameters)); err != nil {
		return fmt.Errorf("invalid parameter schema for tool %q: %w", def.Name, err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("invalid parameter schema for tool %q: %w", def.Name, err)
	}

	if err := schema.Validate(normalize(args)); err != nil {
		return fmt.Errorf("invalid arguments for tool %q: %w", def.Name, err)
	}
	return nil
}

// normalize rewrites decoded values into the shapes the validator expects,
// mainly converting typed slices and nested maps to plain any forms.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
