package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReasoningDisabledIsNoOp(t *testing.T) {
	m := NewMemory("alice", "s-1", false, nil)
	id := m.AddInteraction("request")

	m.StartReasoningTrace(id)
	entryID := m.AddReasoningEntry(id, ReasoningEntry{Stage: StagePlanning, Thought: "thinking"})
	assert.Empty(t, entryID)

	assert.NoError(t, m.UpdateReasoningEntry("anything", OutcomeSuccess, "", nil))
	assert.Empty(t, m.GetReasoningSummary(10, false))
	assert.Nil(t, m.GetPendingCommitments())
	assert.Nil(t, m.GetTraceAttachments())
	assert.Nil(t, m.GetTraceCorrections())

	snap, ok := m.Snapshot(id)
	require.True(t, ok)
	assert.Empty(t, snap.Reasoning)
}

func TestReasoningEntryLifecycle(t *testing.T) {
	m := NewMemory("alice", "s-1", true, nil)
	id := m.AddInteraction("request")
	m.StartReasoningTrace(id)

	entryID := m.AddReasoningEntry(id, ReasoningEntry{
		Stage:       StagePlanning,
		Thought:     "Generating plan",
		Commitments: []string{"send_email"},
	})
	require.NotEmpty(t, entryID)

	// New entries default to pending
	snap, _ := m.Snapshot(id)
	require.Len(t, snap.Reasoning, 1)
	assert.Equal(t, OutcomePending, snap.Reasoning[0].Outcome)
	assert.False(t, snap.Reasoning[0].Timestamp.IsZero())

	// Pending moves to a terminal outcome exactly once
	require.NoError(t, m.UpdateReasoningEntry(entryID, OutcomeSuccess, "", nil))
	err := m.UpdateReasoningEntry(entryID, OutcomeFailed, "late failure", nil)
	require.Error(t, err, "success outcomes are terminal")

	snap, _ = m.Snapshot(id)
	assert.Equal(t, OutcomeSuccess, snap.Reasoning[0].Outcome)
}

func TestReasoningUpdateUnknownEntry(t *testing.T) {
	m := NewMemory("alice", "s-1", true, nil)
	m.AddInteraction("request")
	assert.Error(t, m.UpdateReasoningEntry("nope", OutcomeFailed, "", nil))
}

func TestReasoningSummary(t *testing.T) {
	m := NewMemory("alice", "s-1", true, nil)
	id := m.AddInteraction("request")

	first := m.AddReasoningEntry(id, ReasoningEntry{Stage: StagePlanning, Thought: "plan the work"})
	require.NoError(t, m.UpdateReasoningEntry(first, OutcomeSuccess, "", nil))
	second := m.AddReasoningEntry(id, ReasoningEntry{Stage: StageExecution, Thought: "run step", Action: "google_search"})
	require.NoError(t, m.UpdateReasoningEntry(second, OutcomeFailed, "backend down", nil))
	m.AddReasoningEntry(id, ReasoningEntry{Stage: StageCorrection, Thought: "switch tools", Corrections: []string{"use local scan"}})

	summary := m.GetReasoningSummary(10, false)
	assert.Contains(t, summary, "[planning/success] plan the work")
	assert.Contains(t, summary, "(action: google_search)")
	assert.Contains(t, summary, "error: backend down")

	// Corrections-only filtering keeps correction-stage entries
	filtered := m.GetReasoningSummary(10, true)
	assert.Contains(t, filtered, "switch tools")
	assert.NotContains(t, filtered, "plan the work")

	// maxEntries keeps the most recent entries
	limited := m.GetReasoningSummary(1, false)
	assert.Contains(t, limited, "switch tools")
	assert.NotContains(t, limited, "run step")
}

func TestReasoningCommitmentsAndAttachments(t *testing.T) {
	m := NewMemory("alice", "s-1", true, nil)
	id := m.AddInteraction("request")

	pending := m.AddReasoningEntry(id, ReasoningEntry{
		Stage:       StageExecution,
		Thought:     "drafting the email",
		Commitments: []string{"send_email", "attach_document"},
		Attachments: []string{"/tmp/report.pdf"},
	})
	finished := m.AddReasoningEntry(id, ReasoningEntry{
		Stage:       StageExecution,
		Thought:     "done already",
		Commitments: []string{"already_done"},
	})
	require.NoError(t, m.UpdateReasoningEntry(finished, OutcomeSuccess, "", nil))

	assert.ElementsMatch(t, []string{"send_email", "attach_document"}, m.GetPendingCommitments())
	assert.Equal(t, []string{"/tmp/report.pdf"}, m.GetTraceAttachments())

	require.NoError(t, m.UpdateReasoningEntry(pending, OutcomePartial, "", []string{"resend with attachment"}))
	assert.Equal(t, []string{"resend with attachment"}, m.GetTraceCorrections())
	assert.Empty(t, m.GetPendingCommitments())
}

func TestRecordAndResolveThought(t *testing.T) {
	m := NewMemory("alice", "s-1", true, nil)
	id := m.AddInteraction("request")

	entryID := m.RecordThought(id, "planning", "Generating plan for request", "")
	require.NotEmpty(t, entryID)
	m.ResolveThought(entryID, true, "")

	summary := m.ReasoningSummary(5)
	assert.Contains(t, summary, "[planning/success] Generating plan for request")

	// Disabled tracing returns the empty id, which resolves harmlessly
	off := NewMemory("alice", "s-2", false, nil)
	offID := off.RecordThought(off.AddInteraction("x"), "planning", "t", "")
	assert.Empty(t, offID)
	off.ResolveThought(offID, false, "ignored")
}
