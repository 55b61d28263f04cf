package orchestration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/concordlabs/concord/core"
)

// CriticGuidance is the structured corrective record the critic emits
// after a step failure. When ShouldRetry is set and only parameter
// adjustments are suggested, the executor re-runs the step once with
// merged parameters before escalating to a replan.
type CriticGuidance struct {
	ShouldRetry          bool                   `json:"should_retry"`
	ParameterAdjustments map[string]interface{} `json:"suggested_parameter_adjustments,omitempty"`
	AlternativeTool      string                 `json:"alternative_tool,omitempty"`
	Rationale            string                 `json:"rationale"`
}

// Critic analyzes step failures and produces guidance that seeds a
// repair plan.
type Critic struct {
	ai       core.AIClient
	registry *Registry
	cfg      *core.Config
	logger   core.Logger
}

// NewCritic creates a critic
func NewCritic(ai core.AIClient, registry *Registry, cfg *core.Config) *Critic {
	return &Critic{
		ai:       ai,
		registry: registry,
		cfg:      cfg,
		logger:   &core.NoOpLogger{},
	}
}

// SetLogger configures the logger for this critic
func (c *Critic) SetLogger(logger core.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Review produces corrective guidance for a failed step. The relevant
// fragment of prior results gives the critic grounding without leaking
// the whole session.
func (c *Critic) Review(ctx context.Context, step *Step, resolvedParams map[string]interface{}, stepErr *StepError, priorResults map[int]interface{}) (*CriticGuidance, error) {
	paramsJSON, _ := json.MarshalIndent(resolvedParams, "", "  ")
	errJSON, _ := json.Marshal(stepErr)
	resultsJSON, _ := json.Marshal(priorResults)

	prompt := fmt.Sprintf(`A tool invocation in an assistant plan failed. Analyze the failure and suggest a correction.

Failed step:
  action: %s
  reasoning: %s

Resolved parameters:
%s

Error:
%s

Results from earlier steps:
%s

Respond with ONLY a JSON object:
{
  "should_retry": <true if re-running the same tool with adjusted parameters can succeed>,
  "suggested_parameter_adjustments": {<parameter name>: <new value>, ...} or omit,
  "alternative_tool": "<different tool name>" or omit,
  "rationale": "<one or two sentences>"
}`,
		step.Action, step.Reasoning, paramsJSON, errJSON, resultsJSON)

	opts := &core.AIOptions{
		Model:       c.cfg.LLM.Model,
		Temperature: c.cfg.TemperatureFor(c.cfg.LLM.Model, "critic", 0.0),
		MaxTokens:   c.cfg.LLM.MaxTokens,
	}

	response, err := c.ai.GenerateResponse(ctx, prompt, opts)
	if err != nil {
		return nil, fmt.Errorf("critic LLM call failed: %w", err)
	}

	var guidance CriticGuidance
	if err := json.Unmarshal([]byte(extractJSON(response.Content)), &guidance); err != nil {
		return nil, fmt.Errorf("decoding critic output: %w", err)
	}

	// An alternative tool the registry does not know cannot be retried
	// in place; drop the retry and let the replan loop handle it.
	if guidance.AlternativeTool != "" && !c.registry.Has(guidance.AlternativeTool) {
		c.logger.Warn("Critic suggested unknown tool, escalating to replan", map[string]interface{}{
			"operation":        "critic_review",
			"step_id":          step.ID,
			"alternative_tool": guidance.AlternativeTool,
		})
		guidance.AlternativeTool = ""
		guidance.ShouldRetry = false
	}

	c.logger.Debug("Critic guidance produced", map[string]interface{}{
		"operation":    "critic_review",
		"step_id":      step.ID,
		"should_retry": guidance.ShouldRetry,
		"rationale":    guidance.Rationale,
	})
	return &guidance, nil
}
