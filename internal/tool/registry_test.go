package tool

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type spyTool struct {
	desc   Descriptor
	result Result
	calls  int
	args   Args
	panic  any
}

func (s *spyTool) Descriptor() Descriptor { return s.desc }

func (s *spyTool) Execute(_ context.Context, args Args) Result {
	s.calls++
	s.args = args
	if s.panic != nil {
		panic(s.panic)
	}
	return s.result
}

func newSpy(name string, params ...Param) *spyTool {
	return &spyTool{
		desc:   Descriptor{Name: name, Description: name + " tool", Category: "test", Parameters: params},
		result: OK("done", nil),
	}
}

func quietRegistry() *Registry {
	return NewRegistryWithLogger(zerolog.Nop())
}

func TestRegistryRegisterOverwrite(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistryWithLogger(zerolog.New(&buf))

	first := newSpy("echo")
	first.result = OK("first", nil)
	second := newSpy("echo")
	second.result = OK("second", nil)

	r.Register(first)
	r.Register(second)

	require.Len(t, r.List(), 1)
	assert.Equal(t, 1, r.Len())

	res := r.Dispatch(context.Background(), "echo", nil)
	require.True(t, res.Success)
	assert.Equal(t, "second", res.Message)
	assert.Equal(t, 0, first.calls)
	assert.Equal(t, 1, second.calls)

	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "tool is being replaced")
}

func TestRegistryRegisterIgnoresInvalid(t *testing.T) {
	r := quietRegistry()
	r.Register(nil)
	r.Register(newSpy("  "))
	assert.Empty(t, r.List())
}

func TestRegistryListOrderAndCategory(t *testing.T) {
	r := quietRegistry()
	a := newSpy("a")
	b := newSpy("b")
	b.desc.Category = "other"
	c := newSpy("c")
	r.Register(a)
	r.Register(b)
	r.Register(c)
	r.Register(newSpy("a"))

	var names []string
	for _, d := range r.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	others := r.ListByCategory("other")
	require.Len(t, others, 1)
	assert.Equal(t, "b", others[0].Name)
	assert.Empty(t, r.ListByCategory("missing"))
	assert.Equal(t, []string{"test", "other"}, r.Categories())

	got, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, "b", got.Descriptor().Name)
	_, ok = r.Get("zzz")
	assert.False(t, ok)
}

func TestRegistryDispatchUnknownTool(t *testing.T) {
	r := quietRegistry()
	res := r.Dispatch(context.Background(), "nonexistent_tool", Args{})
	assert.False(t, res.Success)
	assert.Equal(t, "Tool 'nonexistent_tool' not found", res.Error)
}

func TestRegistryDispatchValidation(t *testing.T) {
	tests := []struct {
		name      string
		params    []Param
		args      Args
		wantErr   string
		wantCalls int
	}{
		{
			name:    "missing required parameter",
			params:  []Param{StringParam("x", "value", true)},
			args:    Args{},
			wantErr: "Missing required parameter: x",
		},
		{
			name:      "required parameter present",
			params:    []Param{StringParam("x", "value", true)},
			args:      Args{"x": "v"},
			wantCalls: 1,
		},
		{
			name:    "number rejects string",
			params:  []Param{NumberParam("count", "how many", true)},
			args:    Args{"count": "3"},
			wantErr: "Parameter 'count' must be of type number, got string",
		},
		{
			name:      "number accepts float and int",
			params:    []Param{NumberParam("count", "how many", true), NumberParam("limit", "cap", false)},
			args:      Args{"count": 3.0, "limit": 2},
			wantCalls: 1,
		},
		{
			name:    "boolean rejects number",
			params:  []Param{BoolParam("flag", "toggle", false)},
			args:    Args{"flag": 1.0},
			wantErr: "Parameter 'flag' must be of type boolean, got number",
		},
		{
			name:    "array rejects string",
			params:  []Param{ArrayParam("tags", "labels", false)},
			args:    Args{"tags": "a,b"},
			wantErr: "Parameter 'tags' must be of type array, got string",
		},
		{
			name:      "array accepts slices",
			params:    []Param{ArrayParam("tags", "labels", false)},
			args:      Args{"tags": []any{"a", "b"}},
			wantCalls: 1,
		},
		{
			name:    "enum rejects unknown value",
			params:  []Param{StringParam("priority", "level", false, "low", "medium", "high")},
			args:    Args{"priority": "urgent"},
			wantErr: `Parameter 'priority' must be one of [low, medium, high], got "urgent"`,
		},
		{
			name:      "enum accepts member",
			params:    []Param{StringParam("priority", "level", false, "low", "medium", "high")},
			args:      Args{"priority": "high"},
			wantCalls: 1,
		},
		{
			name: "first violation wins",
			params: []Param{
				NumberParam("a", "first", true),
				StringParam("b", "second", true),
			},
			args:    Args{"a": "nope"},
			wantErr: "Parameter 'a' must be of type number, got string",
		},
		{
			name:      "undeclared arguments are ignored",
			params:    []Param{StringParam("x", "value", false)},
			args:      Args{"extra": 42},
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := quietRegistry()
			spy := newSpy("subject", tt.params...)
			r.Register(spy)

			res := r.Dispatch(context.Background(), "subject", tt.args)
			if tt.wantErr != "" {
				assert.False(t, res.Success)
				assert.Equal(t, tt.wantErr, res.Error)
			} else {
				assert.True(t, res.Success, res.Error)
			}
			assert.Equal(t, tt.wantCalls, spy.calls)
		})
	}
}

func TestRegistryDispatchContainsPanics(t *testing.T) {
	tests := []struct {
		name    string
		panic   any
		wantErr string
	}{
		{name: "error value", panic: errors.New("boom"), wantErr: "boom"},
		{name: "string value", panic: "kaboom", wantErr: "kaboom"},
		{name: "empty message", panic: "", wantErr: "Unknown error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := quietRegistry()
			spy := newSpy("fragile")
			spy.panic = tt.panic
			r.Register(spy)

			var res Result
			require.NotPanics(t, func() {
				res = r.Dispatch(context.Background(), "fragile", nil)
			})
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantErr, res.Error)
		})
	}
}

func TestRegistryDispatchFillsMissingError(t *testing.T) {
	r := quietRegistry()
	spy := newSpy("silent")
	spy.result = Result{Success: false}
	r.Register(spy)

	res := r.Dispatch(context.Background(), "silent", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "Unknown error", res.Error)
}

func TestRegistryDispatchClonesArgs(t *testing.T) {
	r := quietRegistry()
	spy := newSpy("mutator", StringParam("x", "value", false))
	spy.result = OK("ok", nil)
	r.Register(spy)

	args := Args{"x": "original"}
	r.Dispatch(context.Background(), "mutator", args)
	spy.args["x"] = "changed"
	assert.Equal(t, "original", args["x"])
}

func TestRegistrySchemaMirrorsDescriptors(t *testing.T) {
	r := quietRegistry()
	r.Register(newSpy("add_task",
		StringParam("title", "task title", true),
		StringParam("priority", "priority", false, "low", "medium", "high"),
		NumberParam("estimate", "hours", true),
		ArrayParam("tags", "labels", false),
	))
	r.Register(newSpy("noop"))

	schemas := r.Schema()
	require.Len(t, schemas, 2)

	for _, d := range r.List() {
		var found *FunctionSchema
		for i := range schemas {
			if schemas[i].Name == d.Name {
				found = &schemas[i]
			}
		}
		require.NotNil(t, found, d.Name)
		var want []string
		for _, p := range d.Parameters {
			if p.Required {
				want = append(want, p.Name)
			}
		}
		assert.ElementsMatch(t, want, found.Parameters.Required, d.Name)
		assert.Equal(t, "object", found.Parameters.Type)
		assert.Len(t, found.Parameters.Properties, len(d.Parameters))
	}

	add := schemas[0]
	assert.Equal(t, "add_task", add.Name)
	assert.Equal(t, []any{"low", "medium", "high"}, add.Parameters.Properties["priority"].Enum)
	assert.Equal(t, "number", add.Parameters.Properties["estimate"].Type)
	require.NotNil(t, add.Parameters.Properties["tags"].Items)

	m := add.ParameterMap()
	assert.Equal(t, "object", m["type"])
	assert.Equal(t, []string{"title", "estimate"}, m["required"])
	props := m["properties"].(map[string]any)
	assert.Contains(t, props, "title")

	noop := schemas[1].ParameterMap()
	assert.Equal(t, []string{}, noop["required"])
}

func TestFuncAdapter(t *testing.T) {
	f := &Func{Desc: Descriptor{Name: "hello"}, Fn: func(_ context.Context, args Args) Result {
		return OK("hi "+args.StringOr("who", "there"), nil)
	}}
	r := quietRegistry()
	r.Register(f)
	res := r.Dispatch(context.Background(), "hello", Args{"who": "you"})
	assert.Equal(t, "hi you", res.Message)

	empty := &Func{Desc: Descriptor{Name: "empty"}}
	assert.True(t, strings.Contains(empty.Execute(context.Background(), nil).Error, "no implementation"))
}

func TestArgsGetters(t *testing.T) {
	args := Args{
		"s":    "  padded ",
		"n":    4.7,
		"b":    true,
		"list": []any{"x", 2},
	}
	assert.Equal(t, "padded", args.String("s"))
	assert.Equal(t, "fallback", args.StringOr("missing", "fallback"))
	assert.Equal(t, 4, args.Int("n", 0))
	assert.Equal(t, 9, args.Int("missing", 9))
	assert.True(t, args.Bool("b", false))
	assert.Equal(t, []string{"x", "2"}, args.Strings("list"))
	assert.True(t, args.Has("b"))
	assert.False(t, args.Has("nope"))
}
