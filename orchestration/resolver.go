package orchestration

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/concordlabs/concord/core"
)

// ResolverState carries accumulated step payloads for template resolution
type ResolverState struct {
	StepResults map[int]interface{}
}

var (
	// Direct form: the whole string is a single reference, e.g. "$step2.items.0.name"
	directRefRe = regexp.MustCompile(`^\$step([0-9]+)((?:\.[A-Za-z0-9_\-]+)*)$`)

	// Inline form: one or more "{$stepN.path}" occurrences embedded in text
	inlineRefRe = regexp.MustCompile(`\{\$step([0-9]+)((?:\.[A-Za-z0-9_\-]+)*)\}`)

	// Anything brace-wrapped that starts like a reference but is not one
	inlineCandidateRe = regexp.MustCompile(`\{\$[^{}]*\}`)

	// A whole string that starts like a direct reference
	directCandidateRe = regexp.MustCompile(`^\$step[0-9]`)
)

// Resolver substitutes template references in step parameters against
// prior step results. Objects and arrays resolve element-wise; non-string
// scalars pass through unchanged.
type Resolver struct {
	logger core.Logger
}

// NewResolver creates a template resolver
func NewResolver() *Resolver {
	return &Resolver{logger: &core.NoOpLogger{}}
}

// SetLogger configures the logger used for unresolved-reference warnings
func (r *Resolver) SetLogger(logger core.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Resolve returns a structurally identical value with all template
// references substituted. A direct reference preserves the referenced
// value's type; inline references render to text. Unresolvable references
// degrade gracefully (null for direct, verbatim for inline). Only a
// syntactically ill-formed reference is an error.
func (r *Resolver) Resolve(value interface{}, state *ResolverState) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(v, state)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, elem := range v {
			resolved, err := r.Resolve(elem, state)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			resolved, err := r.Resolve(elem, state)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// ResolveParameters resolves a step's parameter map
func (r *Resolver) ResolveParameters(params map[string]interface{}, state *ResolverState) (map[string]interface{}, error) {
	if params == nil {
		return nil, nil
	}
	resolved, err := r.Resolve(params, state)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]interface{}), nil
}

func (r *Resolver) resolveString(s string, state *ResolverState) (interface{}, error) {
	if m := directRefRe.FindStringSubmatch(s); m != nil {
		stepID, _ := strconv.Atoi(m[1])
		value, ok := r.lookup(stepID, m[2], state)
		if !ok {
			r.logger.Warn("Unresolved direct template reference", map[string]interface{}{
				"operation": "template_resolve",
				"reference": s,
			})
			return nil, nil
		}
		return value, nil
	}
	if directCandidateRe.MatchString(s) && !strings.ContainsAny(s, " \t\n{") {
		return nil, fmt.Errorf("%w: %q", core.ErrTemplateSyntax, s)
	}

	// Inline candidates that do not parse as references are ill-formed
	for _, cand := range inlineCandidateRe.FindAllString(s, -1) {
		if !inlineRefRe.MatchString(cand) {
			return nil, fmt.Errorf("%w: %q", core.ErrTemplateSyntax, cand)
		}
	}

	out := inlineRefRe.ReplaceAllStringFunc(s, func(match string) string {
		m := inlineRefRe.FindStringSubmatch(match)
		stepID, _ := strconv.Atoi(m[1])
		value, ok := r.lookup(stepID, m[2], state)
		if !ok {
			r.logger.Warn("Unresolved inline template reference", map[string]interface{}{
				"operation": "template_resolve",
				"reference": match,
			})
			return match
		}
		return renderValue(value)
	})
	return out, nil
}

// lookup walks the dot path inside the payload of stepID.
// The leading dot in path (as captured by the regexps) is stripped first.
func (r *Resolver) lookup(stepID int, path string, state *ResolverState) (interface{}, bool) {
	if state == nil || state.StepResults == nil {
		return nil, false
	}
	current, ok := state.StepResults[stepID]
	if !ok {
		return nil, false
	}
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return current, true
	}
	for _, seg := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			current, ok = node[seg]
			if !ok {
				return nil, false
			}
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// renderValue produces the inline string rendering of a resolved value.
// Scalars render naturally; anything structured is JSON-serialized.
func renderValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
