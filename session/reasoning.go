package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReasoningStage labels where in the pipeline a trace entry was produced
type ReasoningStage string

const (
	StagePlanning     ReasoningStage = "planning"
	StageExecution    ReasoningStage = "execution"
	StageVerification ReasoningStage = "verification"
	StageCorrection   ReasoningStage = "correction"
	StageFinalization ReasoningStage = "finalization"
)

// ReasoningOutcome is the lifecycle state of a trace entry.
// Success is terminal; pending may transition to any other outcome
// exactly once.
type ReasoningOutcome string

const (
	OutcomePending ReasoningOutcome = "pending"
	OutcomeSuccess ReasoningOutcome = "success"
	OutcomePartial ReasoningOutcome = "partial"
	OutcomeFailed  ReasoningOutcome = "failed"
	OutcomeSkipped ReasoningOutcome = "skipped"
)

// ReasoningEntry is one record in the optional per-interaction trace
type ReasoningEntry struct {
	EntryID       string                 `json:"entry_id"`
	InteractionID string                 `json:"interaction_id"`
	Stage         ReasoningStage         `json:"stage"`
	Thought       string                 `json:"thought"`
	Action        string                 `json:"action,omitempty"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
	Evidence      []string               `json:"evidence,omitempty"`
	Outcome       ReasoningOutcome       `json:"outcome"`
	Error         string                 `json:"error,omitempty"`
	Commitments   []string               `json:"commitments,omitempty"`
	Attachments   []string               `json:"attachments,omitempty"`
	Corrections   []string               `json:"corrections,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// StartReasoningTrace marks an interaction as traced. A no-op when the
// feature flag is off or the interaction is unknown.
func (m *Memory) StartReasoningTrace(interactionID string) {
	if !m.reasoningEnabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if interaction := m.findLocked(interactionID); interaction != nil && interaction.Reasoning == nil {
		interaction.Reasoning = []*ReasoningEntry{}
	}
}

// AddReasoningEntry appends a trace entry and returns its id.
// Returns "" when tracing is disabled.
func (m *Memory) AddReasoningEntry(interactionID string, entry ReasoningEntry) string {
	if !m.reasoningEnabled {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	interaction := m.findLocked(interactionID)
	if interaction == nil {
		return ""
	}
	entry.EntryID = uuid.NewString()
	entry.InteractionID = interactionID
	if entry.Outcome == "" {
		entry.Outcome = OutcomePending
	}
	entry.Timestamp = time.Now().UTC()
	stored := entry
	interaction.Reasoning = append(interaction.Reasoning, &stored)
	return stored.EntryID
}

// UpdateReasoningEntry moves an entry out of pending. Terminal entries
// never change again; the update is applied at most once.
func (m *Memory) UpdateReasoningEntry(entryID string, outcome ReasoningOutcome, errMsg string, corrections []string) error {
	if !m.reasoningEnabled {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, interaction := range m.interactions {
		for _, entry := range interaction.Reasoning {
			if entry.EntryID != entryID {
				continue
			}
			if entry.Outcome != OutcomePending {
				return fmt.Errorf("reasoning entry %s already finalized as %s", entryID, entry.Outcome)
			}
			entry.Outcome = outcome
			entry.Error = errMsg
			entry.Corrections = append(entry.Corrections, corrections...)
			return nil
		}
	}
	return fmt.Errorf("reasoning entry %s not found", entryID)
}

// GetReasoningSummary renders recent trace entries as prompt-ready text.
// Returns "" when tracing is disabled.
func (m *Memory) GetReasoningSummary(maxEntries int, correctionsOnly bool) string {
	if !m.reasoningEnabled {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []*ReasoningEntry
	for _, interaction := range m.interactions {
		for _, entry := range interaction.Reasoning {
			if correctionsOnly && len(entry.Corrections) == 0 && entry.Stage != StageCorrection {
				continue
			}
			entries = append(entries, entry)
		}
	}
	if maxEntries > 0 && len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}

	var b strings.Builder
	for _, entry := range entries {
		fmt.Fprintf(&b, "[%s/%s] %s", entry.Stage, entry.Outcome, entry.Thought)
		if entry.Action != "" {
			fmt.Fprintf(&b, " (action: %s)", entry.Action)
		}
		if entry.Error != "" {
			fmt.Fprintf(&b, " error: %s", entry.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ReasoningSummary renders the recent trace for planner prompts.
// Satisfies the orchestration.SessionMemory contract.
func (m *Memory) ReasoningSummary(maxEntries int) string {
	return m.GetReasoningSummary(maxEntries, false)
}

// RecordThought appends a pending trace entry, returning its id
// ("" when tracing is disabled)
func (m *Memory) RecordThought(interactionID, stage, thought, action string) string {
	return m.AddReasoningEntry(interactionID, ReasoningEntry{
		Stage:   ReasoningStage(stage),
		Thought: thought,
		Action:  action,
	})
}

// ResolveThought finalizes a pending trace entry
func (m *Memory) ResolveThought(entryID string, success bool, errMsg string) {
	if entryID == "" {
		return
	}
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeFailed
	}
	if err := m.UpdateReasoningEntry(entryID, outcome, errMsg, nil); err != nil {
		m.logger.Debug("Reasoning entry update rejected", map[string]interface{}{
			"operation": "resolve_thought",
			"entry_id":  entryID,
			"error":     err.Error(),
		})
	}
}

// GetPendingCommitments returns commitments from entries that have not
// reached a terminal outcome. Empty when tracing is disabled.
func (m *Memory) GetPendingCommitments() []string {
	if !m.reasoningEnabled {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, interaction := range m.interactions {
		for _, entry := range interaction.Reasoning {
			if entry.Outcome == OutcomePending {
				out = append(out, entry.Commitments...)
			}
		}
	}
	return out
}

// GetTraceAttachments returns every attachment recorded in the trace
func (m *Memory) GetTraceAttachments() []string {
	if !m.reasoningEnabled {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, interaction := range m.interactions {
		for _, entry := range interaction.Reasoning {
			out = append(out, entry.Attachments...)
		}
	}
	return out
}

// GetTraceCorrections returns every correction recorded in the trace
func (m *Memory) GetTraceCorrections() []string {
	if !m.reasoningEnabled {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, interaction := range m.interactions {
		for _, entry := range interaction.Reasoning {
			out = append(out, entry.Corrections...)
		}
	}
	return out
}
