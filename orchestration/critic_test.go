package orchestration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriticReviewParsesGuidance(t *testing.T) {
	ai := &scriptedAI{responses: []string{`{
		"should_retry": true,
		"suggested_parameter_adjustments": {"query": "arsenal score today"},
		"rationale": "The query returned no results; a narrower one should."
	}`}}
	c := NewCritic(ai, newTestRegistry(t), newTestConfig())

	step := &Step{ID: 1, Action: "google_search", Reasoning: "find the score"}
	guidance, err := c.Review(context.Background(), step,
		map[string]interface{}{"query": "arsenal"},
		&StepError{Kind: "ToolError", Message: "no results", RetryPossible: true},
		map[int]interface{}{})
	require.NoError(t, err)

	assert.True(t, guidance.ShouldRetry)
	assert.Equal(t, "arsenal score today", guidance.ParameterAdjustments["query"])
	assert.NotEmpty(t, guidance.Rationale)

	// The prompt carries the failure context
	prompt := ai.prompt(0)
	assert.Contains(t, prompt, "google_search")
	assert.Contains(t, prompt, "no results")
}

func TestCriticReviewUnknownAlternativeToolEscalates(t *testing.T) {
	ai := &scriptedAI{responses: []string{`{
		"should_retry": true,
		"alternative_tool": "bing_search",
		"rationale": "Try a different engine."
	}`}}
	c := NewCritic(ai, newTestRegistry(t), newTestConfig())

	guidance, err := c.Review(context.Background(),
		&Step{ID: 1, Action: "google_search"}, nil,
		&StepError{Kind: "ToolError", Message: "down"}, nil)
	require.NoError(t, err)

	// bing_search is not registered: the suggestion is dropped and the
	// failure escalates to a full replan instead of an in-place retry
	assert.Empty(t, guidance.AlternativeTool)
	assert.False(t, guidance.ShouldRetry)
}

func TestCriticReviewKnownAlternativeToolKept(t *testing.T) {
	ai := &scriptedAI{responses: []string{`{
		"should_retry": false,
		"alternative_tool": "folder_find_duplicates",
		"rationale": "The files are local, not on the web."
	}`}}
	c := NewCritic(ai, newTestRegistry(t), newTestConfig())

	guidance, err := c.Review(context.Background(),
		&Step{ID: 2, Action: "google_search"}, nil,
		&StepError{Kind: "ToolError", Message: "wrong tool"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "folder_find_duplicates", guidance.AlternativeTool)
}

func TestCriticReviewMalformedOutput(t *testing.T) {
	ai := &scriptedAI{responses: []string{"the step failed because"}}
	c := NewCritic(ai, newTestRegistry(t), newTestConfig())

	_, err := c.Review(context.Background(),
		&Step{ID: 1, Action: "google_search"}, nil,
		&StepError{Kind: "ToolError", Message: "down"}, nil)
	assert.Error(t, err)
}
