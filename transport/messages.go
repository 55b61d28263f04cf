// Package transport exposes the orchestrator over a persistent
// WebSocket connection per client.
package transport

import "github.com/concordlabs/concord/orchestration"

// Inbound is a client message. Type is one of request, cancel, clear.
type Inbound struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text,omitempty"`
}

// Outbound is a server message. Exactly one reply or error is sent per
// request; plan and step_update messages are advisory.
type Outbound struct {
	Type          string      `json:"type"`
	InteractionID string      `json:"interaction_id,omitempty"`
	Plan          interface{} `json:"plan,omitempty"`
	StepID        int         `json:"step_id,omitempty"`
	Message       string      `json:"message,omitempty"`
	Details       string      `json:"details,omitempty"`
	Artifacts     []string    `json:"artifacts,omitempty"`
	Status        string      `json:"status,omitempty"`
	Kind          string      `json:"kind,omitempty"`
}

func planMessage(interactionID string, plan *orchestration.Plan) Outbound {
	return Outbound{Type: "plan", InteractionID: interactionID, Plan: plan}
}

func stepUpdateMessage(interactionID string, stepID int, status orchestration.StepStatus) Outbound {
	return Outbound{
		Type:          "step_update",
		InteractionID: interactionID,
		StepID:        stepID,
		Status:        string(status),
	}
}

func replyMessage(interactionID string, reply *orchestration.Reply) Outbound {
	return Outbound{
		Type:          "reply",
		InteractionID: interactionID,
		Message:       reply.Message,
		Details:       reply.Details,
		Artifacts:     reply.Artifacts,
		Status:        string(reply.Status),
	}
}

func errorMessage(kind, message string) Outbound {
	return Outbound{Type: "error", Kind: kind, Message: message}
}
