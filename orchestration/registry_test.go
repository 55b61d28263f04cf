package orchestration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordlabs/concord/core"
)

func TestRegistryRegisterAndExecute(t *testing.T) {
	reg := NewRegistry()
	registerTool(t, reg, ToolSpec{Name: "echo", Description: "echoes its input"},
		func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["value"], nil
		})
	reg.Freeze()

	assert.True(t, reg.Has("echo"))
	assert.False(t, reg.Has("missing"))

	got, err := reg.Execute(context.Background(), "echo", map[string]interface{}{"value": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", got)
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Execute(context.Background(), "not_a_tool", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnknownTool)
}

func TestRegistryRejectsDuplicatesAndFrozenRegistration(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(ToolSpec{Name: "a"}, func() (Handler, error) {
		return HandlerFunc(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, nil
		}), nil
	}))

	err := reg.Register(ToolSpec{Name: "a"}, nil)
	assert.Error(t, err, "duplicate name must be rejected")

	err = reg.Register(ToolSpec{}, nil)
	assert.Error(t, err, "empty name must be rejected")

	reg.Freeze()
	err = reg.Register(ToolSpec{Name: "b"}, nil)
	assert.Error(t, err, "frozen registry must reject registration")
}

func TestRegistryLazyConstructionHappensOnce(t *testing.T) {
	reg := NewRegistry()
	var constructions int32
	require.NoError(t, reg.Register(ToolSpec{Name: "lazy"}, func() (Handler, error) {
		atomic.AddInt32(&constructions, 1)
		return HandlerFunc(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "ok", nil
		}), nil
	}))
	reg.Freeze()

	assert.Zero(t, atomic.LoadInt32(&constructions), "handler must not be built before first use")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Execute(context.Background(), "lazy", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&constructions))
}

func TestRegistryConstructionFailureSurfaces(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(ToolSpec{Name: "broken"}, func() (Handler, error) {
		return nil, fmt.Errorf("backend unavailable")
	}))
	reg.Freeze()

	_, err := reg.Execute(context.Background(), "broken", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unavailable")

	// The init error is sticky across invocations
	_, err = reg.Execute(context.Background(), "broken", nil)
	assert.Error(t, err)
}

func TestRegistryCapabilitySummary(t *testing.T) {
	reg := newTestRegistry(t)
	summary := reg.CapabilitySummary()

	assert.Contains(t, summary, "- compose_email(to, subject, body?, send?): Compose and optionally send an email.")
	assert.Contains(t, summary, "- google_search(query): Search the web.")
	assert.Contains(t, summary, "- reply_to_user(message):")

	// Sorted tool names, one line each
	names := reg.Names()
	assert.Equal(t, []string{"compose_email", "folder_find_duplicates", "google_search", TerminalAction}, names)
}

func TestRegistrySpec(t *testing.T) {
	reg := newTestRegistry(t)

	spec, ok := reg.Spec("google_search")
	require.True(t, ok)
	assert.True(t, spec.Pure)
	assert.True(t, spec.ConcurrencySafe)

	_, ok = reg.Spec("missing")
	assert.False(t, ok)
}

func TestAsErrorResult(t *testing.T) {
	res, ok := AsErrorResult(map[string]interface{}{
		"error":          true,
		"error_type":     "search_failed",
		"error_message":  "upstream 503",
		"retry_possible": true,
	})
	require.True(t, ok)
	assert.Equal(t, "search_failed", res.ErrorType)
	assert.Equal(t, "upstream 503", res.ErrorMessage)
	assert.True(t, res.RetryPossible)

	_, ok = AsErrorResult(map[string]interface{}{"error": false})
	assert.False(t, ok)
	_, ok = AsErrorResult(map[string]interface{}{"status": "ok"})
	assert.False(t, ok)
	_, ok = AsErrorResult("not a map")
	assert.False(t, ok)
}
