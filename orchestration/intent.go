package orchestration

import (
	"strings"

	"github.com/concordlabs/concord/core"
)

// DetectDeliveryIntent scans the user request for configured delivery verbs.
// Pure function of the request and config; computed once per request and
// threaded to both the planner (as guidance) and the validator (as an
// invariant).
func DetectDeliveryIntent(request string, cfg *core.Config) DeliveryIntent {
	intent := DeliveryIntent{
		RequiredTool: cfg.Delivery.RequiredTool,
	}
	lower := strings.ToLower(request)
	for _, verb := range cfg.Delivery.IntentVerbs {
		if verb == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(verb)) {
			intent.DetectedVerbs = append(intent.DetectedVerbs, verb)
		}
	}
	intent.HasIntent = len(intent.DetectedVerbs) > 0
	return intent
}
