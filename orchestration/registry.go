package orchestration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/concordlabs/concord/core"
)

// Handler executes one tool invocation with resolved parameters.
// The context carries the cancel signal, the step deadline, and the
// Invocation identity. A handler reports failure either through a Go
// error or through an error-shaped payload (see ErrorResult).
type Handler interface {
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, params map[string]interface{}) (interface{}, error)

func (f HandlerFunc) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return f(ctx, params)
}

// ParameterSpec describes one tool parameter for the capability summary
type ParameterSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// ToolSpec declares a tool's contract and execution traits.
// Declared up front so the planner can see capabilities without
// forcing handler construction.
type ToolSpec struct {
	Name             string
	Description      string
	Parameters       []ParameterSpec
	DeliveryTerminal bool
	Pure             bool
	ConcurrencySafe  bool
	DefaultDeadline  time.Duration
}

// ErrorResult is the error-shaped payload a tool may return instead of
// a Go error, mirroring the wire contract of external tool backends.
type ErrorResult struct {
	Error         bool   `json:"error"`
	ErrorType     string `json:"error_type"`
	ErrorMessage  string `json:"error_message"`
	RetryPossible bool   `json:"retry_possible"`
}

// AsErrorResult inspects an arbitrary payload for the {error: true} shape
func AsErrorResult(payload interface{}) (*ErrorResult, bool) {
	m, ok := payload.(map[string]interface{})
	if !ok {
		return nil, false
	}
	flag, ok := m["error"].(bool)
	if !ok || !flag {
		return nil, false
	}
	res := &ErrorResult{Error: true}
	if s, ok := m["error_type"].(string); ok {
		res.ErrorType = s
	}
	if s, ok := m["error_message"].(string); ok {
		res.ErrorMessage = s
	}
	if b, ok := m["retry_possible"].(bool); ok {
		res.RetryPossible = b
	}
	return res, true
}

type registryEntry struct {
	spec ToolSpec
	ctor func() (Handler, error)

	once    sync.Once
	handler Handler
	initErr error
}

// Registry maps tool names to handlers. It is immutable after Freeze;
// handler construction is lazy behind a per-tool once-guard.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	frozen  bool
	logger  core.Logger
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
		logger:  &core.NoOpLogger{},
	}
}

// SetLogger configures the logger for this registry
func (r *Registry) SetLogger(logger core.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Register adds a tool before the registry is frozen
func (r *Registry) Register(spec ToolSpec, ctor func() (Handler, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register %q", spec.Name)
	}
	if spec.Name == "" {
		return fmt.Errorf("tool spec missing name")
	}
	if _, exists := r.entries[spec.Name]; exists {
		return fmt.Errorf("tool %q already registered", spec.Name)
	}
	r.entries[spec.Name] = &registryEntry{spec: spec, ctor: ctor}
	return nil
}

// Freeze makes the registry immutable
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Has reports whether a tool name is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Spec returns the declared spec for a tool
func (r *Registry) Spec(name string) (ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return ToolSpec{}, false
	}
	return e.spec, true
}

// Names returns all registered tool names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CapabilitySummary renders the tool catalog for planner prompts:
// one line per tool with its description and parameter names.
func (r *Registry) CapabilitySummary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		spec := r.entries[name].spec
		params := make([]string, 0, len(spec.Parameters))
		for _, p := range spec.Parameters {
			label := p.Name
			if !p.Required {
				label += "?"
			}
			params = append(params, label)
		}
		fmt.Fprintf(&b, "- %s(%s): %s\n", name, strings.Join(params, ", "), spec.Description)
	}
	return b.String()
}

// Execute routes an invocation to the named tool's handler.
// The handler is constructed on first use.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownTool, name)
	}

	e.once.Do(func() {
		if e.ctor == nil {
			e.initErr = fmt.Errorf("tool %q has no constructor", name)
			return
		}
		e.handler, e.initErr = e.ctor()
		if e.initErr == nil {
			r.logger.Debug("Tool handler constructed", map[string]interface{}{
				"operation": "tool_init",
				"tool":      name,
			})
		}
	})
	if e.initErr != nil {
		return nil, fmt.Errorf("initializing tool %q: %w", name, e.initErr)
	}
	return e.handler.Execute(ctx, params)
}
