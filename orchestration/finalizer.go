package orchestration

import (
	"github.com/concordlabs/concord/core"
)

// Finalizer composes the user-visible reply from the terminal step's
// resolved parameters. It is pure: no LLM calls, no I/O.
type Finalizer struct {
	logger core.Logger
}

// NewFinalizer creates a finalizer
func NewFinalizer() *Finalizer {
	return &Finalizer{logger: &core.NoOpLogger{}}
}

// SetLogger configures the logger for this finalizer
func (f *Finalizer) SetLogger(logger core.Logger) {
	if logger != nil {
		f.logger = logger
	}
}

// Finalize builds the reply from the terminal step's resolved parameters
// and the execution outcome of the whole plan.
func (f *Finalizer) Finalize(params map[string]interface{}, results map[int]*StepResult, terminalID int) Reply {
	reply := Reply{Status: ReplyStatusSuccess}

	if msg, ok := params["message"].(string); ok {
		reply.Message = msg
	}
	if reply.Message == "" {
		reply.Message = "Done."
	}

	switch details := params["details"].(type) {
	case string:
		reply.Details = details
	case nil:
	default:
		reply.Details = FormatDetails(details)
	}

	if artifacts, ok := params["artifacts"].([]interface{}); ok {
		for _, a := range artifacts {
			if path, ok := a.(string); ok {
				reply.Artifacts = append(reply.Artifacts, path)
			}
		}
	}

	if status, ok := params["status"].(string); ok && status != "" {
		reply.Status = ReplyStatus(status)
	}

	// Execution outcome overrides the declared status: a failed terminal
	// step is an error, failed intermediate steps downgrade to partial.
	if terminal, ok := results[terminalID]; ok && terminal.Status == StepStatusError {
		reply.Status = ReplyStatusError
	} else {
		for id, res := range results {
			if id == terminalID {
				continue
			}
			if res.Status == StepStatusError {
				reply.Status = ReplyStatusPartialSuccess
				break
			}
		}
	}

	f.logger.Debug("Reply finalized", map[string]interface{}{
		"operation":      "finalize_reply",
		"status":         string(reply.Status),
		"message_length": len(reply.Message),
		"artifact_count": len(reply.Artifacts),
	})
	return reply
}
