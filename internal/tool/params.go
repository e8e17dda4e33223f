package tool

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParamType discriminates the runtime type a parameter must carry.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
)

// Param declares one named argument of a tool.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
}

// StringParam declares a string parameter.
func StringParam(name, description string, required bool, enum ...string) Param {
	return Param{Name: name, Type: TypeString, Description: description, Required: required, Enum: enum}
}

// NumberParam declares a number parameter.
func NumberParam(name, description string, required bool) Param {
	return Param{Name: name, Type: TypeNumber, Description: description, Required: required}
}

// BoolParam declares a boolean parameter.
func BoolParam(name, description string, required bool) Param {
	return Param{Name: name, Type: TypeBoolean, Description: description, Required: required}
}

// ArrayParam declares an array parameter.
func ArrayParam(name, description string, required bool) Param {
	return Param{Name: name, Type: TypeArray, Description: description, Required: required}
}

// check reports the first constraint the value violates.
func (p Param) check(value any) error {
	if !p.Type.matches(value) {
		return fmt.Errorf("Parameter '%s' must be of type %s, got %s", p.Name, p.Type, describeType(value))
	}
	if len(p.Enum) == 0 {
		return nil
	}
	s, ok := value.(string)
	if ok {
		for _, allowed := range p.Enum {
			if s == allowed {
				return nil
			}
		}
	}
	return fmt.Errorf("Parameter '%s' must be one of [%s], got %v", p.Name, strings.Join(p.Enum, ", "), formatValue(value))
}

func (t ParamType) matches(value any) bool {
	switch t {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		_, ok := toFloat64(value)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeArray:
		switch value.(type) {
		case []any, []string:
			return true
		}
		return false
	}
	return false
}

func describeType(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any, []string:
		return "array"
	case map[string]any:
		return "object"
	}
	if _, ok := toFloat64(value); ok {
		return "number"
	}
	return fmt.Sprintf("%T", value)
}

func formatValue(value any) string {
	if s, ok := value.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", value)
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// Args is the argument mapping of a tool call. Getters assume the registry
// already validated the declared types.
type Args map[string]any

// String returns the string argument or "" when absent.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return strings.TrimSpace(s)
}

// StringOr returns the string argument or def when absent or blank.
func (a Args) StringOr(name, def string) string {
	if s := a.String(name); s != "" {
		return s
	}
	return def
}

// Number returns the numeric argument and whether it was present.
func (a Args) Number(name string) (float64, bool) {
	return toFloat64(a[name])
}

// Int returns the numeric argument truncated to int, or def when absent.
func (a Args) Int(name string, def int) int {
	if f, ok := a.Number(name); ok {
		return int(f)
	}
	return def
}

// Bool returns the boolean argument or def when absent.
func (a Args) Bool(name string, def bool) bool {
	if b, ok := a[name].(bool); ok {
		return b
	}
	return def
}

// Strings returns the array argument with its string elements.
func (a Args) Strings(name string) []string {
	switch v := a[name].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// Has reports whether the argument is present.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

func (a Args) clone() Args {
	if a == nil {
		return Args{}
	}
	dup := make(Args, len(a))
	for k, v := range a {
		dup[k] = v
	}
	return dup
}
