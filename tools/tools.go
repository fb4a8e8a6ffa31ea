package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/m4xw311/aida/errors"
	"github.com/m4xw311/aida/gate"
)

// Tool is an action the agent can take. Input is the raw "Action Input" text
// produced by the model; the returned Result.Output becomes the observation.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, input string) (Result, error)
}

// Result is what a tool produced. Decision is set for gated tools, and Input
// holds the input that was actually used (an approved edit, for instance).
type Result struct {
	Output   string
	Input    string
	Decision *gate.Decision
}

// ExecutionError is a tool failure the model is expected to read and react
// to. It matches errors.ErrToolExecution.
type ExecutionError struct {
	Tool    string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string { return e.Message }

func (e *ExecutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{errors.ErrToolExecution}
	}
	return []error{errors.ErrToolExecution, e.Err}
}

// NewExecutionError builds an ExecutionError whose message is shown to the model.
func NewExecutionError(tool string, err error, format string, a ...any) error {
	return &ExecutionError{Tool: tool, Message: fmt.Sprintf(format, a...), Err: err}
}

// Observation renders err as the text shown to the model. The second result
// is false for errors that must abort the loop instead.
func Observation(err error) (string, bool) {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return "Error: " + execErr.Message, true
	}
	if errors.Is(err, errors.ErrToolExecution) {
		return "Error: " + err.Error(), true
	}
	return "", false
}

// Registry holds the tools offered to one agent loop, in registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[strings.TrimSpace(name)]
	return t, ok
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Describe lists every tool as "name: description" lines for the prompt.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, name := range r.order {
		fmt.Fprintf(&b, "%s: %s\n", name, r.tools[name].Description())
	}
	return strings.TrimRight(b.String(), "\n")
}
