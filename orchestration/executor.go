package orchestration

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/concordlabs/concord/core"
	"github.com/concordlabs/concord/resilience"
)

// ResultSink receives finalized step results. Implemented by session
// memory, which linearizes commits by step id under its own mutex.
type ResultSink interface {
	SetStepResult(interactionID string, stepID int, result *StepResult)
}

// StepCallback observes step status transitions, used by the transport
// to emit advisory step_update messages
type StepCallback func(interactionID string, stepID int, status StepStatus)

// ReplanRequest asks the orchestrator for a repair plan after a step
// failed beyond local recovery
type ReplanRequest struct {
	FailedStep       Step
	Guidance         *CriticGuidance
	CompletedResults map[int]interface{}
}

// ExecOutcome is the result of walking one plan
type ExecOutcome struct {
	Results        map[int]*StepResult
	TerminalParams map[string]interface{}
	Replan         *ReplanRequest
	Cancelled      bool
}

// Executor walks a validated plan in dependency order, resolving
// parameters against accumulated results and routing invocations
// through the tool registry. Steps run serially unless their handler
// is declared concurrency-safe.
type Executor struct {
	registry *Registry
	resolver *Resolver
	critic   *Critic
	cfg      *core.Config
	retryCfg *resilience.RetryConfig

	stepCallback StepCallback
	logger       core.Logger
	telemetry    core.Telemetry
}

// NewExecutor creates an executor
func NewExecutor(registry *Registry, resolver *Resolver, critic *Critic, cfg *core.Config) *Executor {
	return &Executor{
		registry:  registry,
		resolver:  resolver,
		critic:    critic,
		cfg:       cfg,
		retryCfg:  resilience.DefaultRetryConfig(),
		logger:    &core.NoOpLogger{},
		telemetry: &core.NoOpTelemetry{},
	}
}

// SetLogger configures the logger for this executor
func (e *Executor) SetLogger(logger core.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetTelemetry configures the telemetry provider
func (e *Executor) SetTelemetry(t core.Telemetry) {
	if t != nil {
		e.telemetry = t
	}
}

// SetStepCallback registers an observer for step status transitions
func (e *Executor) SetStepCallback(cb StepCallback) {
	e.stepCallback = cb
}

// Execute walks the plan. On a step failure that survives retries and
// the critic's one-shot correction, it stops and returns a ReplanRequest;
// completed results stay committed in the sink either way.
func (e *Executor) Execute(ctx context.Context, plan *Plan, interactionID string, sink ResultSink) (*ExecOutcome, error) {
	outcome := &ExecOutcome{Results: make(map[int]*StepResult)}
	state := &ResolverState{StepResults: make(map[int]interface{})}

	ordered := topoOrder(plan)
	executed := make(map[int]bool, len(ordered))

	for len(executed) < len(ordered) {
		if err := ctx.Err(); err != nil {
			e.skipRemaining(ordered, executed, outcome, interactionID, sink)
			outcome.Cancelled = true
			return outcome, nil
		}

		ready := e.readySteps(ordered, executed, outcome.Results)
		if len(ready) == 0 {
			// Dependencies failed or were skipped; nothing left to run
			e.skipRemaining(ordered, executed, outcome, interactionID, sink)
			break
		}

		batchDone, err := e.runBatch(ctx, ready, plan, interactionID, sink, state, outcome, executed)
		if err != nil {
			return outcome, err
		}
		if !batchDone {
			// A batch stops early for exactly two reasons: a replan request
			// or cancellation. Cancellation skips whatever never ran.
			if outcome.Replan == nil {
				e.skipRemaining(ordered, executed, outcome, interactionID, sink)
				outcome.Cancelled = true
			}
			return outcome, nil
		}
	}

	return outcome, nil
}

// runBatch executes one ready set. Concurrency-safe steps run in
// parallel; the rest run serially in id order. Returns false when
// execution must stop (replan or cancel).
func (e *Executor) runBatch(ctx context.Context, ready []*Step, plan *Plan, interactionID string, sink ResultSink, state *ResolverState, outcome *ExecOutcome, executed map[int]bool) (bool, error) {
	var parallel, serial []*Step
	for _, step := range ready {
		spec, _ := e.registry.Spec(step.Action)
		if spec.ConcurrencySafe {
			parallel = append(parallel, step)
		} else {
			serial = append(serial, step)
		}
	}
	if len(parallel) == 1 {
		serial = append(serial, parallel[0])
		parallel = nil
	}
	sort.Slice(serial, func(i, j int) bool { return serial[i].ID < serial[j].ID })

	if len(parallel) > 0 {
		// Steps in one ready set never depend on each other, so the
		// goroutines resolve against a frozen copy of prior results
		// while commits write the live map under mu.
		frozen := &ResolverState{StepResults: make(map[int]interface{}, len(state.StepResults))}
		for id, payload := range state.StepResults {
			frozen.StepResults[id] = payload
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		batchParams := make(map[int]map[string]interface{}, len(parallel))
		for _, step := range parallel {
			wg.Add(1)
			go func(s *Step) {
				defer wg.Done()
				result, params := e.runStepWithRecovery(ctx, s, frozen, interactionID)
				mu.Lock()
				batchParams[s.ID] = params
				e.commit(s, result, params, outcome, state, executed, interactionID, sink)
				mu.Unlock()
			}(step)
		}
		wg.Wait()

		// Failures from the parallel batch escalate deterministically by id
		for _, step := range parallel {
			result := outcome.Results[step.ID]
			if result != nil && result.Status == StepStatusError {
				if stop := e.escalate(ctx, step, batchParams[step.ID], result, state, outcome, executed, interactionID, sink); stop {
					return false, nil
				}
			}
		}
	}

	for _, step := range serial {
		if err := ctx.Err(); err != nil {
			return false, nil
		}
		result, params := e.runStepWithRecovery(ctx, step, state, interactionID)
		e.commit(step, result, params, outcome, state, executed, interactionID, sink)
		if result.Status == StepStatusSkipped {
			// The handler observed the parent cancel mid-flight
			return false, nil
		}
		if result.Status == StepStatusError {
			if stop := e.escalate(ctx, step, params, result, state, outcome, executed, interactionID, sink); stop {
				return false, nil
			}
		}
	}

	return true, nil
}

// escalate gives the critic one chance to fix a failed step in place,
// then hands control back to the orchestrator for a replan. Returns
// true when execution must stop.
func (e *Executor) escalate(ctx context.Context, step *Step, params map[string]interface{}, result *StepResult, state *ResolverState, outcome *ExecOutcome, executed map[int]bool, interactionID string, sink ResultSink) bool {
	if errors.Is(ctx.Err(), context.Canceled) {
		return true
	}

	var guidance *CriticGuidance
	if e.critic != nil {
		var err error
		guidance, err = e.critic.Review(ctx, step, params, result.Error, state.StepResults)
		if err != nil {
			e.logger.Warn("Critic review failed", map[string]interface{}{
				"operation": "critic_escalation",
				"step_id":   step.ID,
				"error":     err.Error(),
			})
		}
	}

	// One merged-parameter re-run before replanning
	if guidance != nil && guidance.ShouldRetry && len(guidance.ParameterAdjustments) > 0 && guidance.AlternativeTool == "" {
		merged := make(map[string]interface{}, len(params)+len(guidance.ParameterAdjustments))
		for k, v := range params {
			merged[k] = v
		}
		for k, v := range guidance.ParameterAdjustments {
			merged[k] = v
		}
		e.logger.Info("Re-running step with critic-adjusted parameters", map[string]interface{}{
			"operation": "critic_retry",
			"step_id":   step.ID,
			"action":    step.Action,
		})
		retryResult := e.invoke(ctx, step, merged, interactionID)
		e.commit(step, retryResult, merged, outcome, state, executed, interactionID, sink)
		if retryResult.Status == StepStatusSuccess {
			return false
		}
		result = retryResult
	}

	e.telemetry.RecordMetric("executor.replans.requested", 1, map[string]string{"action": step.Action})
	outcome.Replan = &ReplanRequest{
		FailedStep:       *step,
		Guidance:         guidance,
		CompletedResults: state.StepResults,
	}
	return true
}

// commit records a finalized step result everywhere it needs to go
func (e *Executor) commit(step *Step, result *StepResult, params map[string]interface{}, outcome *ExecOutcome, state *ResolverState, executed map[int]bool, interactionID string, sink ResultSink) {
	executed[step.ID] = true
	outcome.Results[step.ID] = result
	if result.Status == StepStatusSuccess {
		state.StepResults[step.ID] = result.Payload
	}
	if step.Action == TerminalAction {
		outcome.TerminalParams = params
	}
	if sink != nil {
		sink.SetStepResult(interactionID, step.ID, result)
	}
	if e.stepCallback != nil {
		e.stepCallback(interactionID, step.ID, result.Status)
	}
	e.telemetry.RecordMetric("executor.steps.total", 1, map[string]string{
		"action": step.Action,
		"status": string(result.Status),
	})
}

// runStepWithRecovery resolves parameters and invokes the tool with
// the per-step retry budget
func (e *Executor) runStepWithRecovery(ctx context.Context, step *Step, state *ResolverState, interactionID string) (*StepResult, map[string]interface{}) {
	started := time.Now().UTC()

	params, err := e.resolveParams(step, state)
	if err != nil {
		return &StepResult{
			StepID:     step.ID,
			Status:     StepStatusError,
			Error:      &StepError{Kind: "TemplateError", Message: err.Error()},
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
		}, nil
	}

	retries := e.cfg.Executor.PerStepRetries

	var result *StepResult
	for attempt := 0; ; attempt++ {
		result = e.invoke(ctx, step, params, interactionID)
		if result.Status != StepStatusError {
			break
		}
		if attempt >= retries {
			break
		}
		if result.Error != nil && !result.Error.RetryPossible {
			break
		}
		if err := resilience.Sleep(ctx, e.retryCfg, attempt+1); err != nil {
			break
		}
		e.logger.Debug("Retrying step", map[string]interface{}{
			"operation": "step_retry",
			"step_id":   step.ID,
			"action":    step.Action,
			"attempt":   attempt + 1,
		})
	}
	result.StartedAt = started
	return result, params
}

func (e *Executor) resolveParams(step *Step, state *ResolverState) (map[string]interface{}, error) {
	return e.resolver.ResolveParameters(step.Parameters, state)
}

// invoke runs one tool call with its deadline and classifies the outcome
func (e *Executor) invoke(ctx context.Context, step *Step, params map[string]interface{}, interactionID string) *StepResult {
	result := &StepResult{
		StepID:    step.ID,
		StartedAt: time.Now().UTC(),
	}

	deadline := e.cfg.DefaultDeadline()
	if spec, ok := e.registry.Spec(step.Action); ok && spec.DefaultDeadline > 0 {
		deadline = spec.DefaultDeadline
	}
	stepCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	e.logger.Debug("Invoking tool", map[string]interface{}{
		"operation":      "step_execution",
		"interaction_id": interactionID,
		"step_id":        step.ID,
		"action":         step.Action,
		"deadline_ms":    deadline.Milliseconds(),
	})

	payload, err := e.registry.Execute(stepCtx, step.Action, params)
	result.FinishedAt = time.Now().UTC()

	switch {
	case err != nil:
		result.Status = StepStatusError
		result.Error = classifyError(ctx, stepCtx, err)
		if errors.Is(ctx.Err(), context.Canceled) {
			result.Status = StepStatusSkipped
			result.Error = nil
		}
	default:
		if errRes, ok := AsErrorResult(payload); ok {
			result.Status = StepStatusError
			result.Error = &StepError{
				Kind:          errRes.ErrorType,
				Message:       errRes.ErrorMessage,
				RetryPossible: errRes.RetryPossible,
			}
		} else {
			result.Status = StepStatusSuccess
			result.Payload = payload
		}
	}

	if result.Status == StepStatusError {
		e.logger.Error("Step failed", map[string]interface{}{
			"operation":      "step_execution",
			"interaction_id": interactionID,
			"step_id":        step.ID,
			"action":         step.Action,
			"error_kind":     result.Error.Kind,
			"error":          result.Error.Message,
		})
	}
	return result
}

// classifyError maps a handler error to the step error taxonomy
func classifyError(parent, stepCtx context.Context, err error) *StepError {
	switch {
	case errors.Is(err, core.ErrOutOfSandbox):
		return &StepError{Kind: "OutOfSandbox", Message: err.Error(), RetryPossible: false}
	case errors.Is(err, core.ErrUnknownTool):
		return &StepError{Kind: "UnknownTool", Message: err.Error(), RetryPossible: false}
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil:
		return &StepError{Kind: "DeadlineExceeded", Message: err.Error(), RetryPossible: true}
	case errors.Is(err, context.Canceled):
		return &StepError{Kind: "Cancelled", Message: err.Error(), RetryPossible: false}
	default:
		return &StepError{Kind: "ToolError", Message: err.Error(), RetryPossible: core.IsRetryable(err)}
	}
}

// readySteps returns unexecuted steps whose dependencies all succeeded
func (e *Executor) readySteps(ordered []*Step, executed map[int]bool, results map[int]*StepResult) []*Step {
	var ready []*Step
	for _, step := range ordered {
		if executed[step.ID] {
			continue
		}
		ok := true
		for _, dep := range step.Dependencies {
			if !executed[dep] {
				ok = false
				break
			}
			if res, found := results[dep]; found && res.Status != StepStatusSuccess {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, step)
		}
	}
	return ready
}

// skipRemaining records skipped results for every unexecuted step
func (e *Executor) skipRemaining(ordered []*Step, executed map[int]bool, outcome *ExecOutcome, interactionID string, sink ResultSink) {
	now := time.Now().UTC()
	for _, step := range ordered {
		if executed[step.ID] {
			continue
		}
		executed[step.ID] = true
		result := &StepResult{
			StepID:     step.ID,
			Status:     StepStatusSkipped,
			StartedAt:  now,
			FinishedAt: now,
		}
		outcome.Results[step.ID] = result
		if sink != nil {
			sink.SetStepResult(interactionID, step.ID, result)
		}
		if e.stepCallback != nil {
			e.stepCallback(interactionID, step.ID, StepStatusSkipped)
		}
	}
}

// topoOrder returns the steps sorted by id. The validator guarantees
// dependencies only point at lower ids, so id order is a valid
// topological order.
func topoOrder(plan *Plan) []*Step {
	out := make([]*Step, 0, len(plan.Steps))
	for i := range plan.Steps {
		out = append(out, &plan.Steps[i])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
