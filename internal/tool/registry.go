package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const unknownError = "Unknown error"

// Registry keeps the mapping between tool names and implementations and
// mediates every invocation.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger zerolog.Logger
}

// NewRegistry creates an empty registry logging through the global logger.
func NewRegistry() *Registry {
	return NewRegistryWithLogger(log.With().Str("component", "tools").Logger())
}

// NewRegistryWithLogger creates an empty registry using the given logger.
func NewRegistryWithLogger(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register inserts a tool by name. An existing tool with the same name is
// replaced and a warning is logged.
func (r *Registry) Register(t Tool) {
	if t == nil {
		r.logger.Warn().Msg("ignoring nil tool registration")
		return
	}
	name := strings.TrimSpace(t.Descriptor().Name)
	if name == "" {
		r.logger.Warn().Msg("ignoring tool registration with empty name")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		r.logger.Warn().Str("tool", name).Msg("tool is being replaced in the registry")
	} else {
		r.order = append(r.order, name)
		r.logger.Debug().Str("tool", name).Msg("registering tool")
	}
	r.tools[name] = t
}

// Get fetches a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List returns the descriptors of all tools in first-registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor())
	}
	return out
}

// ListByCategory filters List by category.
func (r *Registry) ListByCategory(category string) []Descriptor {
	var out []Descriptor
	for _, d := range r.List() {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out
}

// Categories returns the distinct categories in first-seen order.
func (r *Registry) Categories() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, d := range r.List() {
		if _, ok := seen[d.Category]; ok {
			continue
		}
		seen[d.Category] = struct{}{}
		out = append(out, d.Category)
	}
	return out
}

// Schema exports the function declarations of every registered tool.
func (r *Registry) Schema() []FunctionSchema {
	descs := r.List()
	out := make([]FunctionSchema, 0, len(descs))
	for _, d := range descs {
		out = append(out, schemaFor(d))
	}
	return out
}

// Dispatch validates args against the named tool's parameters and executes
// it. Every failure, including an unknown name or a panicking tool, is
// reported as a failed Result.
func (r *Registry) Dispatch(ctx context.Context, name string, args Args) Result {
	t, ok := r.Get(name)
	if !ok {
		return Failf("Tool '%s' not found", name)
	}

	desc := t.Descriptor()
	if err := Validate(desc, args); err != nil {
		r.logger.Debug().Str("tool", name).Err(err).Msg("tool arguments rejected")
		return Fail(err)
	}

	res := r.execute(ctx, t, args.clone())
	if !res.Success && strings.TrimSpace(res.Error) == "" {
		res.Error = unknownError
	}
	return res
}

func (r *Registry) execute(ctx context.Context, t Tool, args Args) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			msg := strings.TrimSpace(fmt.Sprint(rec))
			if err, ok := rec.(error); ok {
				msg = err.Error()
			}
			if msg == "" {
				msg = unknownError
			}
			r.logger.Error().Str("tool", t.Descriptor().Name).Str("panic", msg).Msg("tool panicked")
			res = Result{Error: msg}
		}
	}()
	return t.Execute(ctx, args)
}

// Validate checks args against the declared parameters in declaration order
// and returns the first violation.
func Validate(desc Descriptor, args Args) error {
	for _, p := range desc.Parameters {
		value, present := args[p.Name]
		if !present {
			if p.Required {
				return fmt.Errorf("Missing required parameter: %s", p.Name)
			}
			continue
		}
		if err := p.check(value); err != nil {
			return err
		}
	}
	return nil
}
