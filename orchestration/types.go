package orchestration

import (
	"context"
	"time"
)

// TerminalAction is the action name of the plan's terminal step.
// Every accepted plan ends in exactly one of these.
const TerminalAction = "reply_to_user"

// Complexity classifies a plan as judged by the planner
type Complexity string

const (
	ComplexitySimple     Complexity = "simple"
	ComplexityMedium     Complexity = "medium"
	ComplexityComplex    Complexity = "complex"
	ComplexityImpossible Complexity = "impossible"
)

// Step is a single planned tool invocation.
// IDs are monotonic within a plan, starting at 1; dependencies only
// reference lower ids, keeping the dependency graph a DAG by construction.
type Step struct {
	ID             int                    `json:"id"`
	Action         string                 `json:"action"`
	Parameters     map[string]interface{} `json:"parameters"`
	Dependencies   []int                  `json:"dependencies"`
	Reasoning      string                 `json:"reasoning,omitempty"`
	ExpectedOutput string                 `json:"expected_output,omitempty"`
}

// DependsOn reports whether the step declares a dependency on id
func (s *Step) DependsOn(id int) bool {
	for _, d := range s.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

// Plan is a DAG of steps terminating in reply_to_user
type Plan struct {
	Goal       string     `json:"goal"`
	Complexity Complexity `json:"complexity"`
	Steps      []Step     `json:"steps"`
}

// StepByID returns the step with the given id, or nil
func (p *Plan) StepByID(id int) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// TerminalSteps returns every step whose action is the terminal action
func (p *Plan) TerminalSteps() []*Step {
	var out []*Step
	for i := range p.Steps {
		if p.Steps[i].Action == TerminalAction {
			out = append(out, &p.Steps[i])
		}
	}
	return out
}

// StepStatus is the lifecycle state of an executed step
type StepStatus string

const (
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusError   StepStatus = "error"
	StepStatusSkipped StepStatus = "skipped"
)

// StepError carries the classified failure of a step
type StepError struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	RetryPossible bool   `json:"retry_possible"`
}

// StepResult is produced by the executor for each step
type StepResult struct {
	StepID     int         `json:"step_id"`
	Status     StepStatus  `json:"status"`
	Payload    interface{} `json:"payload,omitempty"`
	Error      *StepError  `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// DeliveryIntent is derived once per request from configured verbs
type DeliveryIntent struct {
	HasIntent     bool     `json:"has_intent"`
	DetectedVerbs []string `json:"detected_verbs"`
	RequiredTool  string   `json:"required_tool"`
}

// Invocation identifies the request a tool call belongs to.
// It travels on the context so handlers can tag side effects.
type Invocation struct {
	SessionID     string
	InteractionID string
}

type invocationKey struct{}

// WithInvocation attaches invocation identity to a context
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom extracts invocation identity from a context
func InvocationFrom(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}

// ReplyStatus is the terminal status of a finalized reply
type ReplyStatus string

const (
	ReplyStatusSuccess        ReplyStatus = "success"
	ReplyStatusPartialSuccess ReplyStatus = "partial_success"
	ReplyStatusError          ReplyStatus = "error"
	ReplyStatusCancelled      ReplyStatus = "cancelled"
)

// Reply is the user-visible payload produced by the finalizer
type Reply struct {
	Message   string      `json:"message"`
	Details   string      `json:"details,omitempty"`
	Artifacts []string    `json:"artifacts,omitempty"`
	Status    ReplyStatus `json:"status"`
}
