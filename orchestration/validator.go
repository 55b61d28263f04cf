package orchestration

import (
	"fmt"
	"strconv"

	"github.com/concordlabs/concord/core"
)

// ViolationKind classifies a plan invariant violation
type ViolationKind string

const (
	ViolationUnknownTool         ViolationKind = "UnknownTool"
	ViolationInvalidDependency   ViolationKind = "InvalidDependency"
	ViolationDanglingReference   ViolationKind = "DanglingReference"
	ViolationMissingTerminal     ViolationKind = "MissingTerminal"
	ViolationMultipleTerminals   ViolationKind = "MultipleTerminals"
	ViolationMissingDelivery     ViolationKind = "MissingDelivery"
	ViolationEmptyEmail          ViolationKind = "EmptyEmail"
	ViolationDuplicateID         ViolationKind = "DuplicateId"
	ViolationMalformedImpossible ViolationKind = "MalformedImpossible"
)

// Violation is one plan invariant failure. Violations are values, not
// errors: they feed back into the planner as a structured critique.
type Violation struct {
	Kind    ViolationKind `json:"kind"`
	StepID  int           `json:"step_id,omitempty"`
	Message string        `json:"message"`
}

func (v Violation) String() string {
	if v.StepID > 0 {
		return fmt.Sprintf("%s (step %d): %s", v.Kind, v.StepID, v.Message)
	}
	return fmt.Sprintf("%s: %s", v.Kind, v.Message)
}

// Validator enforces plan invariants against the tool registry and the
// request's delivery intent. It never mutates plans.
type Validator struct {
	registry *Registry
	cfg      *core.Config
	logger   core.Logger
}

// NewValidator creates a plan validator
func NewValidator(registry *Registry, cfg *core.Config) *Validator {
	return &Validator{
		registry: registry,
		cfg:      cfg,
		logger:   &core.NoOpLogger{},
	}
}

// SetLogger configures the logger for this validator
func (v *Validator) SetLogger(logger core.Logger) {
	if logger != nil {
		v.logger = logger
	}
}

// Validate returns the ordered list of invariant violations.
// An empty slice means the plan is accepted.
func (v *Validator) Validate(plan *Plan, intent DeliveryIntent) []Violation {
	var violations []Violation

	if len(plan.Steps) == 0 {
		return []Violation{{
			Kind:    ViolationMissingTerminal,
			Message: "plan has no steps",
		}}
	}

	violations = append(violations, v.checkIDs(plan)...)
	violations = append(violations, v.checkActions(plan)...)
	violations = append(violations, v.checkDependencies(plan)...)
	violations = append(violations, v.checkTemplateReferences(plan)...)
	violations = append(violations, v.checkTerminal(plan)...)
	violations = append(violations, v.checkImpossible(plan)...)
	violations = append(violations, v.checkDelivery(plan, intent)...)
	violations = append(violations, v.checkEmailSteps(plan)...)

	if len(violations) > 0 {
		v.logger.Debug("Plan rejected", map[string]interface{}{
			"operation":  "plan_validation",
			"goal":       plan.Goal,
			"violations": len(violations),
		})
	}
	return violations
}

// checkIDs enforces unique positive ids starting at 1
func (v *Validator) checkIDs(plan *Plan) []Violation {
	var out []Violation
	seen := make(map[int]bool, len(plan.Steps))
	minID := plan.Steps[0].ID
	for _, step := range plan.Steps {
		if step.ID < 1 {
			out = append(out, Violation{
				Kind:    ViolationDuplicateID,
				StepID:  step.ID,
				Message: "step ids must be positive integers starting at 1",
			})
			continue
		}
		if seen[step.ID] {
			out = append(out, Violation{
				Kind:    ViolationDuplicateID,
				StepID:  step.ID,
				Message: "duplicate step id",
			})
		}
		seen[step.ID] = true
		if step.ID < minID {
			minID = step.ID
		}
	}
	if len(out) == 0 && minID != 1 {
		out = append(out, Violation{
			Kind:    ViolationDuplicateID,
			Message: "step ids must start at 1",
		})
	}
	return out
}

// checkActions verifies every action names a registered tool
func (v *Validator) checkActions(plan *Plan) []Violation {
	var out []Violation
	for _, step := range plan.Steps {
		if !v.registry.Has(step.Action) {
			out = append(out, Violation{
				Kind:    ViolationUnknownTool,
				StepID:  step.ID,
				Message: fmt.Sprintf("action %q is not a registered tool", step.Action),
			})
		}
	}
	return out
}

// checkDependencies enforces the lower-id rule, which also rules out
// cycles: a back-edge always targets an equal or higher id.
func (v *Validator) checkDependencies(plan *Plan) []Violation {
	var out []Violation
	ids := make(map[int]bool, len(plan.Steps))
	for _, step := range plan.Steps {
		ids[step.ID] = true
	}
	for _, step := range plan.Steps {
		for _, dep := range step.Dependencies {
			switch {
			case !ids[dep]:
				out = append(out, Violation{
					Kind:    ViolationInvalidDependency,
					StepID:  step.ID,
					Message: fmt.Sprintf("dependency %d does not exist", dep),
				})
			case dep >= step.ID:
				out = append(out, Violation{
					Kind:    ViolationInvalidDependency,
					StepID:  step.ID,
					Message: fmt.Sprintf("dependency %d is not an earlier step", dep),
				})
			}
		}
	}
	return out
}

// checkTemplateReferences requires every $stepN reference in parameters
// to target a declared dependency
func (v *Validator) checkTemplateReferences(plan *Plan) []Violation {
	var out []Violation
	for _, step := range plan.Steps {
		for _, ref := range collectTemplateRefs(step.Parameters) {
			if !step.DependsOn(ref) {
				out = append(out, Violation{
					Kind:    ViolationDanglingReference,
					StepID:  step.ID,
					Message: fmt.Sprintf("template references step %d which is not a declared dependency", ref),
				})
			}
		}
	}
	return out
}

// checkTerminal requires exactly one reply_to_user step
func (v *Validator) checkTerminal(plan *Plan) []Violation {
	terminals := plan.TerminalSteps()
	switch len(terminals) {
	case 0:
		return []Violation{{
			Kind:    ViolationMissingTerminal,
			Message: fmt.Sprintf("plan must end in a %s step", TerminalAction),
		}}
	case 1:
		return nil
	default:
		return []Violation{{
			Kind:    ViolationMultipleTerminals,
			Message: fmt.Sprintf("plan contains %d %s steps, expected exactly one", len(terminals), TerminalAction),
		}}
	}
}

// checkImpossible requires impossible plans to be a lone explanatory reply
func (v *Validator) checkImpossible(plan *Plan) []Violation {
	if plan.Complexity != ComplexityImpossible {
		return nil
	}
	if len(plan.Steps) == 1 && plan.Steps[0].Action == TerminalAction {
		return nil
	}
	return []Violation{{
		Kind:    ViolationMalformedImpossible,
		Message: "impossible plans must contain exactly one reply_to_user step",
	}}
}

// checkDelivery enforces the configured delivery tool when intent was
// detected. Warn-only mode logs instead of rejecting.
func (v *Validator) checkDelivery(plan *Plan, intent DeliveryIntent) []Violation {
	if !intent.HasIntent || intent.RequiredTool == "" {
		return nil
	}
	for _, step := range plan.Steps {
		if step.Action == intent.RequiredTool {
			return nil
		}
	}
	violation := Violation{
		Kind: ViolationMissingDelivery,
		Message: fmt.Sprintf("request contains delivery verbs %v but plan has no %s step",
			intent.DetectedVerbs, intent.RequiredTool),
	}
	if !v.cfg.Delivery.Validation.RejectMissingTool {
		v.logger.Warn("Delivery tool missing from plan", map[string]interface{}{
			"operation":      "plan_validation",
			"detected_verbs": intent.DetectedVerbs,
			"required_tool":  intent.RequiredTool,
		})
		return nil
	}
	return []Violation{violation}
}

// checkEmailSteps requires each delivery step to carry a body or attachments
func (v *Validator) checkEmailSteps(plan *Plan) []Violation {
	var out []Violation
	tool := v.cfg.Delivery.RequiredTool
	if tool == "" {
		return nil
	}
	for _, step := range plan.Steps {
		if step.Action != tool {
			continue
		}
		body, _ := step.Parameters["body"].(string)
		attachments, _ := step.Parameters["attachments"].([]interface{})
		if body == "" && len(attachments) == 0 {
			out = append(out, Violation{
				Kind:    ViolationEmptyEmail,
				StepID:  step.ID,
				Message: "email step needs a non-empty body or at least one attachment",
			})
		}
	}
	return out
}

// collectTemplateRefs walks a JSON value and returns the step ids named
// by direct or inline template references
func collectTemplateRefs(value interface{}) []int {
	var refs []int
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch t := v.(type) {
		case string:
			if m := directRefRe.FindStringSubmatch(t); m != nil {
				id, _ := strconv.Atoi(m[1])
				refs = append(refs, id)
				return
			}
			for _, m := range inlineRefRe.FindAllStringSubmatch(t, -1) {
				id, _ := strconv.Atoi(m[1])
				refs = append(refs, id)
			}
		case map[string]interface{}:
			for _, elem := range t {
				walk(elem)
			}
		case []interface{}:
			for _, elem := range t {
				walk(elem)
			}
		}
	}
	walk(value)
	return refs
}
