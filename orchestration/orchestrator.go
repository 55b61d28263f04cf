package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/concordlabs/concord/core"
)

// SessionMemory is the slice of session state the orchestrator needs.
// Implemented by the session package; kept narrow so the orchestration
// package has no dependency on storage.
type SessionMemory interface {
	ResultSink
	AddInteraction(userRequest string) string
	UpdatePlan(interactionID string, plan *Plan)
	SetReply(interactionID string, reply *Reply)
	ContextSnapshot() map[string]interface{}
	ReasoningSummary(maxEntries int) string
	RecordThought(interactionID, stage, thought, action string) string
	ResolveThought(entryID string, success bool, errMsg string)
}

// PlanCallback observes accepted plans, used by the transport to emit
// advisory plan messages
type PlanCallback func(interactionID string, plan *Plan)

// Orchestrator drives one request end-to-end: plan, validate with
// bounded repair, execute with bounded replanning, finalize.
type Orchestrator struct {
	planner   *Planner
	validator *Validator
	executor  *Executor
	finalizer *Finalizer
	registry  *Registry
	cfg       *core.Config

	planCallback PlanCallback
	logger       core.Logger
	telemetry    core.Telemetry
}

// NewOrchestrator wires the pipeline components together
func NewOrchestrator(planner *Planner, validator *Validator, executor *Executor, finalizer *Finalizer, registry *Registry, cfg *core.Config) *Orchestrator {
	return &Orchestrator{
		planner:   planner,
		validator: validator,
		executor:  executor,
		finalizer: finalizer,
		registry:  registry,
		cfg:       cfg,
		logger:    &core.NoOpLogger{},
		telemetry: &core.NoOpTelemetry{},
	}
}

// SetLogger configures the logger and propagates it to sub-components
func (o *Orchestrator) SetLogger(logger core.Logger) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	o.logger = logger
	o.planner.SetLogger(logger)
	o.validator.SetLogger(logger)
	o.executor.SetLogger(logger)
	o.finalizer.SetLogger(logger)
}

// SetTelemetry configures the telemetry provider
func (o *Orchestrator) SetTelemetry(t core.Telemetry) {
	if t == nil {
		t = &core.NoOpTelemetry{}
	}
	o.telemetry = t
	o.executor.SetTelemetry(t)
}

// SetPlanCallback registers an observer for accepted plans
func (o *Orchestrator) SetPlanCallback(cb PlanCallback) {
	o.planCallback = cb
}

// SetStepCallback registers an observer for step status transitions
func (o *Orchestrator) SetStepCallback(cb StepCallback) {
	o.executor.SetStepCallback(cb)
}

// HandleRequest processes one user request within a session. Every
// request yields exactly one reply; failures surface as a reply with an
// error status rather than a bare error, except for malformed input.
func (o *Orchestrator) HandleRequest(ctx context.Context, sessionID, request string, mem SessionMemory) (*Reply, string, error) {
	ctx, span := o.telemetry.StartSpan(ctx, "orchestrator.handle_request")
	defer span.End()

	if strings.TrimSpace(request) == "" {
		return nil, "", fmt.Errorf("%w: empty request", core.ErrInvalidInput)
	}

	interactionID := mem.AddInteraction(request)
	span.SetAttribute("interaction_id", interactionID)
	ctx = WithInvocation(ctx, Invocation{SessionID: sessionID, InteractionID: interactionID})

	intent := DetectDeliveryIntent(request, o.cfg)
	o.logger.Info("Request accepted", map[string]interface{}{
		"operation":      "handle_request",
		"session_id":     sessionID,
		"interaction_id": interactionID,
		"has_delivery":   intent.HasIntent,
	})

	plan, err := o.planWithRepair(ctx, request, intent, mem, interactionID, nil)
	if err != nil {
		reply := o.failureReply(err)
		mem.SetReply(interactionID, reply)
		span.RecordError(err)
		return reply, interactionID, nil
	}
	mem.UpdatePlan(interactionID, plan)
	if o.planCallback != nil {
		o.planCallback(interactionID, plan)
	}

	reply := o.executeWithReplan(ctx, plan, request, intent, mem, interactionID)
	mem.SetReply(interactionID, reply)

	o.telemetry.RecordMetric("orchestrator.requests.total", 1, map[string]string{
		"status": string(reply.Status),
	})
	return reply, interactionID, nil
}

// planWithRepair runs the plan/validate loop with up to
// planning.max_repair_rounds repairs seeded by validator critiques.
func (o *Orchestrator) planWithRepair(ctx context.Context, request string, intent DeliveryIntent, mem SessionMemory, interactionID string, replan *planSeed) (*Plan, error) {
	entryID := mem.RecordThought(interactionID, "planning", "Generating plan for request", "")

	req := PlanRequest{
		UserRequest:      request,
		PlanningContext:  mem.ContextSnapshot(),
		Intent:           intent,
		ReasoningSummary: mem.ReasoningSummary(10),
	}
	if replan != nil {
		req.CriticGuidance = replan.guidance
		req.CompletedResults = replan.completed
		req.FailedPlan = replan.failedPlan
	}

	capabilities := o.registry.CapabilitySummary()
	var violations []Violation

	for round := 0; round <= o.cfg.Planning.MaxRepairRounds; round++ {
		req.Violations = violations

		plan, err := o.planner.GeneratePlan(ctx, req, capabilities)
		if err != nil {
			mem.ResolveThought(entryID, false, err.Error())
			return nil, err
		}

		violations = o.validator.Validate(plan, intent)
		if len(violations) == 0 {
			mem.ResolveThought(entryID, true, "")
			o.telemetry.RecordMetric("orchestrator.plans.accepted", 1, nil)
			return plan, nil
		}

		o.logger.Warn("Plan rejected, requesting repair", map[string]interface{}{
			"operation":      "plan_repair",
			"interaction_id": interactionID,
			"round":          round,
			"violations":     len(violations),
		})
		o.telemetry.RecordMetric("orchestrator.plans.rejected", 1, nil)
	}

	mem.ResolveThought(entryID, false, "repair rounds exhausted")
	return nil, fmt.Errorf("%w: %d repair rounds exhausted", core.ErrPlanInvalid, o.cfg.Planning.MaxRepairRounds)
}

// planSeed carries execution failure context into a repair plan
type planSeed struct {
	guidance   string
	completed  map[int]interface{}
	failedPlan *Plan
}

// executeWithReplan walks the plan, replanning on critic guidance up to
// planning.max_replan_rounds times. Completed artifacts stay in session
// memory across replans.
func (o *Orchestrator) executeWithReplan(ctx context.Context, plan *Plan, request string, intent DeliveryIntent, mem SessionMemory, interactionID string) *Reply {
	for round := 0; ; round++ {
		entryID := mem.RecordThought(interactionID, "execution", fmt.Sprintf("Executing plan with %d steps", len(plan.Steps)), "")

		outcome, err := o.executor.Execute(ctx, plan, interactionID, mem)
		if err != nil {
			mem.ResolveThought(entryID, false, err.Error())
			return o.failureReply(err)
		}

		if outcome.Cancelled {
			mem.ResolveThought(entryID, false, "cancelled")
			return &Reply{
				Message: "The request was cancelled before it finished.",
				Status:  ReplyStatusCancelled,
			}
		}

		if outcome.Replan == nil {
			mem.ResolveThought(entryID, true, "")
			terminalID := 0
			if terminals := plan.TerminalSteps(); len(terminals) == 1 {
				terminalID = terminals[0].ID
			}
			if outcome.TerminalParams == nil {
				return &Reply{
					Message: "The request could not be completed because its final step never ran.",
					Status:  ReplyStatusError,
				}
			}
			reply := o.finalizer.Finalize(outcome.TerminalParams, outcome.Results, terminalID)
			// Earlier rounds' failures are not in this round's results;
			// a request recovered through replanning is still partial
			if round > 0 && reply.Status == ReplyStatusSuccess {
				reply.Status = ReplyStatusPartialSuccess
			}
			return &reply
		}

		mem.ResolveThought(entryID, false, fmt.Sprintf("step %d failed", outcome.Replan.FailedStep.ID))

		if round >= o.cfg.Planning.MaxReplanRounds {
			return &Reply{
				Message: o.describeFailure(outcome),
				Status:  ReplyStatusError,
			}
		}

		guidance := "The failing step could not be recovered."
		if outcome.Replan.Guidance != nil {
			guidance = outcome.Replan.Guidance.Rationale
			if outcome.Replan.Guidance.AlternativeTool != "" {
				guidance += fmt.Sprintf(" Consider using %s instead.", outcome.Replan.Guidance.AlternativeTool)
			}
		}

		correctionID := mem.RecordThought(interactionID, "correction", guidance, outcome.Replan.FailedStep.Action)
		repaired, err := o.planWithRepair(ctx, request, intent, mem, interactionID, &planSeed{
			guidance:   guidance,
			completed:  outcome.Replan.CompletedResults,
			failedPlan: plan,
		})
		if err != nil {
			mem.ResolveThought(correctionID, false, err.Error())
			return o.failureReply(err)
		}
		mem.ResolveThought(correctionID, true, "")

		plan = repaired
		mem.UpdatePlan(interactionID, plan)
		if o.planCallback != nil {
			o.planCallback(interactionID, plan)
		}
		o.telemetry.RecordMetric("orchestrator.replans.total", 1, nil)
	}
}

// describeFailure produces the single-sentence failure message
func (o *Orchestrator) describeFailure(outcome *ExecOutcome) string {
	step := outcome.Replan.FailedStep
	if result, ok := outcome.Results[step.ID]; ok && result.Error != nil {
		return fmt.Sprintf("The %s step could not be completed: %s.", step.Action, result.Error.Message)
	}
	return fmt.Sprintf("The %s step could not be completed.", step.Action)
}

// failureReply maps orchestration errors to terminal replies
func (o *Orchestrator) failureReply(err error) *Reply {
	switch {
	case errors.Is(err, core.ErrPlanInvalid), errors.Is(err, core.ErrMalformedPlanOutput):
		return &Reply{
			Message: "A workable plan for this request could not be produced.",
			Status:  ReplyStatusError,
		}
	case errors.Is(err, context.Canceled), errors.Is(err, core.ErrCancelled):
		return &Reply{
			Message: "The request was cancelled before it finished.",
			Status:  ReplyStatusCancelled,
		}
	default:
		return &Reply{
			Message: "The request failed due to an internal error.",
			Status:  ReplyStatusError,
		}
	}
}
