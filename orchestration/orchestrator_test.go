package orchestration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordlabs/concord/core"
)

func newTestOrchestrator(t *testing.T, ai core.AIClient, reg *Registry, cfg *core.Config) *Orchestrator {
	t.Helper()
	planner := NewPlanner(ai, emptyPrompts{}, cfg)
	validator := NewValidator(reg, cfg)
	executor := NewExecutor(reg, NewResolver(), nil, cfg)
	executor.retryCfg = fastRetryConfig()
	finalizer := NewFinalizer()
	return NewOrchestrator(planner, validator, executor, finalizer, reg, cfg)
}

const searchOnlyPlanJSON = `{
  "goal": "find and deliver the arsenal score",
  "complexity": "medium",
  "steps": [
    {"id": 1, "action": "google_search", "parameters": {"query": "arsenal score"}, "dependencies": []},
    {"id": 2, "action": "reply_to_user", "parameters": {"message": "{$step1.summary}"}, "dependencies": [1]}
  ]
}`

const searchAndEmailPlanJSON = `{
  "goal": "find and deliver the arsenal score",
  "complexity": "medium",
  "steps": [
    {"id": 1, "action": "google_search", "parameters": {"query": "arsenal score"}, "dependencies": []},
    {"id": 2, "action": "compose_email", "parameters": {"to": ["me@example.com"], "subject": "Arsenal score", "body": "$step1.summary", "send": true}, "dependencies": [1]},
    {"id": 3, "action": "reply_to_user", "parameters": {"message": "Emailed you the score: {$step1.summary}"}, "dependencies": [1, 2]}
  ]
}`

// Delivery enforcement round trip: the first plan omits compose_email,
// the validator rejects it, and the repaired plan passes and executes.
func TestHandleRequestDeliveryRepairLoop(t *testing.T) {
	ai := &scriptedAI{responses: []string{searchOnlyPlanJSON, searchAndEmailPlanJSON}}
	reg := newTestRegistry(t)
	cfg := newTestConfig()
	orch := newTestOrchestrator(t, ai, reg, cfg)
	mem := newFakeMemory()

	reply, interactionID, err := orch.HandleRequest(context.Background(),
		"s-1", "search arsenal score and email it to me", mem)
	require.NoError(t, err)
	require.NotNil(t, reply)

	assert.Equal(t, ReplyStatusSuccess, reply.Status)
	assert.Equal(t, "Emailed you the score: Arsenal won 2-1.", reply.Message)

	// Two planner calls: the rejected plan and the repaired one; the
	// second prompt names the violation.
	require.Equal(t, 2, ai.promptCount())
	assert.Contains(t, ai.prompt(1), "MissingDelivery")

	// The accepted plan and the sealed reply land in memory
	require.NotNil(t, mem.plans[interactionID])
	assert.Len(t, mem.plans[interactionID].Steps, 3)
	assert.Equal(t, reply, mem.reply(interactionID))

	// All three steps committed
	assert.Len(t, mem.results[interactionID], 3)
}

func TestHandleRequestWithoutDeliveryVerbs(t *testing.T) {
	ai := &scriptedAI{responses: []string{searchOnlyPlanJSON}}
	orch := newTestOrchestrator(t, ai, newTestRegistry(t), newTestConfig())
	mem := newFakeMemory()

	reply, _, err := orch.HandleRequest(context.Background(), "s-1", "what is the weather?", mem)
	require.NoError(t, err)

	// No MissingDelivery rejection: the two-step plan passes first time
	assert.Equal(t, 1, ai.promptCount())
	assert.Equal(t, ReplyStatusSuccess, reply.Status)
	assert.Equal(t, "Arsenal won 2-1.", reply.Message)
}

func TestHandleRequestImpossiblePlan(t *testing.T) {
	ai := &scriptedAI{responses: []string{`{
		"goal": "launch a rocket",
		"complexity": "impossible",
		"steps": [
			{"id": 1, "action": "reply_to_user", "parameters": {"message": "I cannot launch rockets with the tools available."}, "dependencies": []}
		]
	}`}}
	orch := newTestOrchestrator(t, ai, newTestRegistry(t), newTestConfig())

	reply, _, err := orch.HandleRequest(context.Background(), "s-1", "launch a rocket", newFakeMemory())
	require.NoError(t, err)
	assert.Equal(t, ReplyStatusSuccess, reply.Status)
	assert.Equal(t, "I cannot launch rockets with the tools available.", reply.Message)
}

func TestHandleRequestRepairExhaustion(t *testing.T) {
	// The planner keeps emitting a plan with an unknown tool
	ai := &scriptedAI{responses: []string{`{
		"goal": "x",
		"complexity": "simple",
		"steps": [
			{"id": 1, "action": "teleport", "parameters": {}, "dependencies": []},
			{"id": 2, "action": "reply_to_user", "parameters": {"message": "done"}, "dependencies": [1]}
		]
	}`}}
	cfg := newTestConfig()
	orch := newTestOrchestrator(t, ai, newTestRegistry(t), cfg)
	mem := newFakeMemory()

	reply, interactionID, err := orch.HandleRequest(context.Background(), "s-1", "do the thing", mem)
	require.NoError(t, err, "plan failures surface as an error reply, not a bare error")

	assert.Equal(t, ReplyStatusError, reply.Status)
	assert.NotEmpty(t, reply.Message)
	assert.Equal(t, 1+cfg.Planning.MaxRepairRounds, ai.promptCount())
	assert.Equal(t, reply, mem.reply(interactionID))
}

func TestHandleRequestEmptyInput(t *testing.T) {
	ai := &scriptedAI{responses: []string{searchOnlyPlanJSON}}
	orch := newTestOrchestrator(t, ai, newTestRegistry(t), newTestConfig())

	_, _, err := orch.HandleRequest(context.Background(), "s-1", "   ", newFakeMemory())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Zero(t, ai.promptCount())
}

func TestHandleRequestCancellation(t *testing.T) {
	reg := NewRegistry()
	started := make(chan struct{}, 1)
	registerTool(t, reg, ToolSpec{Name: "slow"}, blockingHandler(started))
	registerTool(t, reg, ToolSpec{Name: TerminalAction}, func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return params, nil
	})
	reg.Freeze()

	ai := &scriptedAI{responses: []string{`{
		"goal": "slow work",
		"complexity": "simple",
		"steps": [
			{"id": 1, "action": "slow", "parameters": {}, "dependencies": []},
			{"id": 2, "action": "reply_to_user", "parameters": {"message": "done"}, "dependencies": [1]}
		]
	}`}}
	orch := newTestOrchestrator(t, ai, reg, newTestConfig())
	mem := newFakeMemory()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	reply, interactionID, err := orch.HandleRequest(ctx, "s-1", "do something slow", mem)
	require.NoError(t, err)

	assert.Equal(t, ReplyStatusCancelled, reply.Status)
	assert.NotEmpty(t, reply.Message)

	// Committed results survive the cancellation; both steps are skipped
	results := mem.results[interactionID]
	require.Len(t, results, 2)
	assert.Equal(t, StepStatusSkipped, results[1].Status)
	assert.Equal(t, StepStatusSkipped, results[2].Status)
}

// Execution failure feeds the critic guidance back into a replan that
// reuses a different tool and completes.
func TestHandleRequestReplanAfterExecutionFailure(t *testing.T) {
	reg := NewRegistry()
	registerTool(t, reg, ToolSpec{Name: "google_search"}, func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{
			"error":          true,
			"error_type":     "search_failed",
			"error_message":  "search backend down",
			"retry_possible": false,
		}, nil
	})
	registerTool(t, reg, ToolSpec{Name: "folder_find_duplicates"}, func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return duplicateScanPayload(), nil
	})
	registerTool(t, reg, ToolSpec{Name: TerminalAction}, func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return params, nil
	})
	reg.Freeze()

	ai := &scriptedAI{responses: []string{
		// Initial plan uses the failing search tool
		`{
			"goal": "find duplicates",
			"complexity": "simple",
			"steps": [
				{"id": 1, "action": "google_search", "parameters": {"query": "duplicates"}, "dependencies": []},
				{"id": 2, "action": "reply_to_user", "parameters": {"message": "{$step1.summary}"}, "dependencies": [1]}
			]
		}`,
		// Repair plan switches to the local scanner
		`{
			"goal": "find duplicates locally",
			"complexity": "simple",
			"steps": [
				{"id": 1, "action": "folder_find_duplicates", "parameters": {}, "dependencies": []},
				{"id": 2, "action": "reply_to_user", "parameters": {"message": "Found {$step1.total_duplicate_groups} group(s)"}, "dependencies": [1]}
			]
		}`,
	}}

	cfg := newTestConfig()
	planner := NewPlanner(ai, emptyPrompts{}, cfg)
	validator := NewValidator(reg, cfg)
	critic := NewCritic(&scriptedAI{responses: []string{`{
		"should_retry": false,
		"rationale": "The web search backend is down; scan the local folder instead."
	}`}}, reg, cfg)
	executor := NewExecutor(reg, NewResolver(), critic, cfg)
	executor.retryCfg = fastRetryConfig()
	orch := NewOrchestrator(planner, validator, executor, NewFinalizer(), reg, cfg)

	reply, _, err := orch.HandleRequest(context.Background(), "s-1", "what files are duplicated?", newFakeMemory())
	require.NoError(t, err)

	// The request recovered, but only through a replan after a failure
	assert.Equal(t, ReplyStatusPartialSuccess, reply.Status)
	assert.Equal(t, "Found 2 group(s)", reply.Message)
	require.Equal(t, 2, ai.promptCount())
	assert.Contains(t, ai.prompt(1), "scan the local folder instead")
}

func TestHandleRequestCallbacksFire(t *testing.T) {
	ai := &scriptedAI{responses: []string{searchOnlyPlanJSON}}
	orch := newTestOrchestrator(t, ai, newTestRegistry(t), newTestConfig())

	var planCalls int
	var stepCalls []int
	orch.SetPlanCallback(func(interactionID string, plan *Plan) { planCalls++ })
	orch.SetStepCallback(func(interactionID string, stepID int, status StepStatus) {
		stepCalls = append(stepCalls, stepID)
	})

	_, _, err := orch.HandleRequest(context.Background(), "s-1", "what is the weather?", newFakeMemory())
	require.NoError(t, err)
	assert.Equal(t, 1, planCalls)
	assert.Equal(t, []int{1, 2}, stepCalls)
}
