package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/concordlabs/concord/core"
)

// maxParseAttempts bounds retries on malformed planner JSON output
const maxParseAttempts = 3

// PromptSource supplies named markdown guidance sections injected into
// planner prompts. Missing sections return "".
type PromptSource interface {
	Get(name string) string
}

// Prompt section names the planner consumes
const (
	PromptPlannerSystem    = "planner_system"
	PromptDeliveryGuidance = "delivery_guidance"
	PromptRepairGuidance   = "repair_guidance"
)

// PlanRequest carries everything the planner needs for one attempt
type PlanRequest struct {
	UserRequest      string
	PlanningContext  map[string]interface{}
	Intent           DeliveryIntent
	ReasoningSummary string

	// Repair inputs: violations from the validator, or completed results
	// plus critic guidance after an execution failure
	Violations       []Violation
	CompletedResults map[int]interface{}
	CriticGuidance   string
	FailedPlan       *Plan
}

// Planner turns a user request into a JSON plan via the LLM.
// Stateless between invocations; it retries malformed JSON output but
// leaves semantic rejection to the validator.
type Planner struct {
	ai      core.AIClient
	prompts PromptSource
	cfg     *core.Config
	logger  core.Logger
}

// NewPlanner creates a planner
func NewPlanner(ai core.AIClient, prompts PromptSource, cfg *core.Config) *Planner {
	return &Planner{
		ai:      ai,
		prompts: prompts,
		cfg:     cfg,
		logger:  &core.NoOpLogger{},
	}
}

// SetLogger configures the logger for this planner
func (p *Planner) SetLogger(logger core.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// GeneratePlan produces a plan for the request, with the tool catalog
// and any repair context injected into the prompt.
func (p *Planner) GeneratePlan(ctx context.Context, req PlanRequest, capabilities string) (*Plan, error) {
	prompt := p.buildPrompt(req, capabilities)

	opts := &core.AIOptions{
		Model:       p.cfg.LLM.Model,
		Temperature: p.cfg.TemperatureFor(p.cfg.LLM.Model, "planner", 0.2),
		MaxTokens:   p.cfg.LLM.MaxTokens,
	}
	if system := p.prompts.Get(PromptPlannerSystem); system != "" {
		opts.SystemPrompt = system
	}

	var lastErr error
	for attempt := 1; attempt <= maxParseAttempts; attempt++ {
		response, err := p.ai.GenerateResponse(ctx, prompt, opts)
		if err != nil {
			return nil, fmt.Errorf("planner LLM call failed: %w", err)
		}

		plan, err := parsePlan(response.Content)
		if err == nil {
			p.logger.Info("Plan generated", map[string]interface{}{
				"operation":  "generate_plan",
				"attempt":    attempt,
				"step_count": len(plan.Steps),
				"complexity": string(plan.Complexity),
			})
			return plan, nil
		}

		lastErr = err
		p.logger.Warn("Planner output did not parse, retrying", map[string]interface{}{
			"operation": "generate_plan",
			"attempt":   attempt,
			"error":     err.Error(),
		})
	}
	return nil, fmt.Errorf("%w: %v", core.ErrMalformedPlanOutput, lastErr)
}

func (p *Planner) buildPrompt(req PlanRequest, capabilities string) string {
	var b strings.Builder

	b.WriteString("You are the planning component of a personal assistant.\n")
	b.WriteString("Produce a JSON plan that accomplishes the user's request using only the tools listed below.\n\n")

	b.WriteString("Available tools:\n")
	b.WriteString(capabilities)
	b.WriteString("\n")

	if len(req.PlanningContext) > 0 {
		if ctxJSON, err := json.Marshal(req.PlanningContext); err == nil {
			fmt.Fprintf(&b, "Session context:\n%s\n\n", ctxJSON)
		}
	}

	if req.ReasoningSummary != "" {
		fmt.Fprintf(&b, "Recent reasoning trace:\n%s\n", req.ReasoningSummary)
	}

	if req.Intent.HasIntent {
		guidance := p.prompts.Get(PromptDeliveryGuidance)
		if guidance == "" {
			guidance = fmt.Sprintf(
				"The request asks for delivery (verbs: %s). The plan MUST include a %s step with send set to true.",
				strings.Join(req.Intent.DetectedVerbs, ", "), req.Intent.RequiredTool)
		}
		fmt.Fprintf(&b, "Delivery guidance:\n%s\n\n", guidance)
	}

	if len(req.Violations) > 0 {
		if guidance := p.prompts.Get(PromptRepairGuidance); guidance != "" {
			fmt.Fprintf(&b, "%s\n", guidance)
		}
		b.WriteString("Your previous plan was rejected. Violations, in order:\n")
		for _, violation := range req.Violations {
			fmt.Fprintf(&b, "- %s\n", violation.String())
		}
		b.WriteString("Produce a corrected plan that fixes every violation.\n\n")
	}

	if req.CriticGuidance != "" {
		b.WriteString("A previous execution attempt failed. Corrective guidance:\n")
		b.WriteString(req.CriticGuidance)
		b.WriteString("\n")
		if len(req.CompletedResults) > 0 {
			if resJSON, err := json.Marshal(req.CompletedResults); err == nil {
				fmt.Fprintf(&b, "Results already produced (reusable, do not redo these steps):\n%s\n", resJSON)
			}
		}
		b.WriteString("Produce a repair plan for the remaining work.\n\n")
	}

	fmt.Fprintf(&b, "User request: %s\n\n", req.UserRequest)

	b.WriteString(`Respond with ONLY a JSON object, no markdown, shaped as:
{
  "goal": "<restated goal>",
  "complexity": "simple|medium|complex|impossible",
  "steps": [
    {
      "id": 1,
      "action": "<tool name>",
      "parameters": {},
      "dependencies": [],
      "reasoning": "<why this step>",
      "expected_output": "<what it should produce>"
    }
  ]
}

Rules:
- Step ids are consecutive integers starting at 1.
- dependencies may only reference earlier step ids.
- Reference earlier results with "$stepN.field.path" (whole value) or "{$stepN.field.path}" inside text.
- The final step MUST be reply_to_user with a "message" parameter.
- If the request is impossible with these tools, emit complexity "impossible" and a single reply_to_user step explaining why.`)

	return b.String()
}

// parsePlan decodes planner output, tolerating markdown fences
func parsePlan(content string) (*Plan, error) {
	cleaned := extractJSON(content)
	var plan Plan
	if err := json.Unmarshal([]byte(cleaned), &plan); err != nil {
		return nil, fmt.Errorf("decoding plan JSON: %w", err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}
	return &plan, nil
}

// extractJSON strips markdown code fences the model sometimes wraps
// around its output
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.Index(text, "```"); idx != -1 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.Index(text, "```"); idx != -1 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}
