// Package tool defines the capability contract the assistant dispatches to
// and the registry that validates and invokes tool calls.
package tool

import (
	"context"
	"fmt"
)

// Tool represents an executable capability exposed to the model.
type Tool interface {
	// Descriptor returns the immutable name, description, category and
	// parameter list of the tool.
	Descriptor() Descriptor

	// Execute runs the tool with validated arguments. Implementations report
	// every failure through the returned Result instead of panicking.
	Execute(ctx context.Context, args Args) Result
}

// Renderer is implemented by tools that format their own summary line.
type Renderer interface {
	Render(res Result) string
}

// Descriptor describes a tool to the model and to the catalog display.
type Descriptor struct {
	Name        string
	Description string
	Category    string
	Parameters  []Param
}

// Param returns the declared parameter with the given name.
func (d Descriptor) Param(name string) (Param, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Result captures the outcome of a tool invocation.
type Result struct {
	Success bool
	Data    any
	Message string
	Error   string
}

// OK builds a successful result.
func OK(message string, data any) Result {
	return Result{Success: true, Message: message, Data: data}
}

// Fail builds a failed result from an error.
func Fail(err error) Result {
	if err == nil {
		return Result{Error: unknownError}
	}
	return Result{Error: err.Error()}
}

// Failf builds a failed result from a format string.
func Failf(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// Func adapts a descriptor and a closure into a Tool.
type Func struct {
	Desc Descriptor
	Fn   func(ctx context.Context, args Args) Result
}

func (f *Func) Descriptor() Descriptor { return f.Desc }

func (f *Func) Execute(ctx context.Context, args Args) Result {
	if f.Fn == nil {
		return Failf("tool %s has no implementation", f.Desc.Name)
	}
	return f.Fn(ctx, args)
}

// Call is a model-emitted request to invoke one tool.
type Call struct {
	ID   string
	Name string
	Args Args
}
