package tool

import (
	"github.com/google/jsonschema-go/jsonschema"
)

// FunctionSchema is the function-calling declaration of one tool.
type FunctionSchema struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// schemaFor projects a descriptor into its function declaration.
func schemaFor(d Descriptor) FunctionSchema {
	props := make(map[string]*jsonschema.Schema, len(d.Parameters))
	required := make([]string, 0, len(d.Parameters))
	for _, p := range d.Parameters {
		prop := &jsonschema.Schema{
			Type:        string(p.Type),
			Description: p.Description,
		}
		if len(p.Enum) > 0 {
			prop.Enum = make([]any, 0, len(p.Enum))
			for _, v := range p.Enum {
				prop.Enum = append(prop.Enum, v)
			}
		}
		if p.Type == TypeArray {
			prop.Items = &jsonschema.Schema{Type: string(TypeString)}
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return FunctionSchema{
		Name:        d.Name,
		Description: d.Description,
		Parameters: &jsonschema.Schema{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
}

// ParameterMap renders the parameter schema as a generic JSON object, the
// shape provider SDKs accept for tool input schemas.
func (s FunctionSchema) ParameterMap() map[string]any {
	props := make(map[string]any)
	required := []string{}
	if s.Parameters != nil {
		for name, prop := range s.Parameters.Properties {
			entry := map[string]any{
				"type":        prop.Type,
				"description": prop.Description,
			}
			if len(prop.Enum) > 0 {
				entry["enum"] = prop.Enum
			}
			if prop.Items != nil {
				entry["items"] = map[string]any{"type": prop.Items.Type}
			}
			props[name] = entry
		}
		required = append(required, s.Parameters.Required...)
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
