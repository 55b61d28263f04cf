package tools

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordlabs/concord/core"
	"github.com/concordlabs/concord/orchestration"
)

type stubSearcher struct {
	results []SearchResult
	err     error
}

func (s *stubSearcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	return s.results, s.err
}

func builtinConfig(t *testing.T) *core.Config {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Sandbox.Roots = []string{t.TempDir()}
	return cfg
}

func TestRegisterBuiltins(t *testing.T) {
	reg := orchestration.NewRegistry()
	cfg := builtinConfig(t)

	require.NoError(t, RegisterBuiltins(reg, cfg, Deps{Searcher: &stubSearcher{}}))
	reg.Freeze()

	assert.Equal(t, []string{
		"compose_email",
		"folder_find_duplicates",
		"google_search",
		"read_file",
		orchestration.TerminalAction,
		"write_file",
	}, reg.Names())
}

func TestRegisterBuiltinsWithoutSearcher(t *testing.T) {
	reg := orchestration.NewRegistry()
	cfg := builtinConfig(t)

	require.NoError(t, RegisterBuiltins(reg, cfg, Deps{}))
	reg.Freeze()

	// Registration succeeds; the missing backend surfaces on first use
	_, err := reg.Execute(context.Background(), "google_search",
		map[string]interface{}{"query": "anything"})
	assert.Error(t, err)
}

func TestScreenshotsDirJoinsSandbox(t *testing.T) {
	reg := orchestration.NewRegistry()
	cfg := builtinConfig(t)
	cfg.Screenshots.BaseDir = t.TempDir()

	require.NoError(t, RegisterBuiltins(reg, cfg, Deps{}))
	reg.Freeze()

	writeTestFile(t, filepath.Join(cfg.Screenshots.BaseDir, "capture.png"), "png-bytes")

	out, err := reg.Execute(context.Background(), "read_file",
		map[string]interface{}{"path": filepath.Join(cfg.Screenshots.BaseDir, "capture.png")})
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", out.(map[string]interface{})["content"])
}

func TestTerminalHandlerEchoesParameters(t *testing.T) {
	reg := orchestration.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, builtinConfig(t), Deps{}))
	reg.Freeze()

	out, err := reg.Execute(context.Background(), orchestration.TerminalAction,
		map[string]interface{}{"message": "all done", "status": "success"})
	require.NoError(t, err)
	payload := out.(map[string]interface{})
	assert.Equal(t, "all done", payload["message"])
	assert.Equal(t, "success", payload["status"])
}

func TestSearchTool(t *testing.T) {
	tool := NewSearchTool(&stubSearcher{results: []SearchResult{
		{Title: "Arsenal 2-1 Spurs", URL: "https://example.com/match", Snippet: "Full-time report."},
	}})

	out, err := tool.Search(context.Background(), map[string]interface{}{"query": "arsenal score"})
	require.NoError(t, err)
	payload := out.(map[string]interface{})

	assert.Equal(t, "arsenal score", payload["query"])
	assert.Equal(t, float64(1), payload["count"])
	results := payload["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, "Arsenal 2-1 Spurs", results[0].(map[string]interface{})["title"])
}

func TestSearchToolBackendFailure(t *testing.T) {
	tool := NewSearchTool(&stubSearcher{err: errors.New("quota exhausted")})

	out, err := tool.Search(context.Background(), map[string]interface{}{"query": "x"})
	require.NoError(t, err, "backend failures come back as an error payload")
	payload := out.(map[string]interface{})
	assert.Equal(t, true, payload["error"])
	assert.Equal(t, "search_failed", payload["error_type"])
	assert.Equal(t, true, payload["retry_possible"])
}

func TestSearchToolRequiresQuery(t *testing.T) {
	tool := NewSearchTool(&stubSearcher{})
	_, err := tool.Search(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}
