package orchestration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/concordlabs/concord/core"
)

// scriptedAI replays canned responses in order and records the prompts
// it was asked. The last response repeats once the script runs out.
type scriptedAI struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
	err       error
}

func (s *scriptedAI) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.prompts = append(s.prompts, prompt)
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("scripted AI has no responses left")
	}
	content := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return &core.AIResponse{Content: content, Model: "scripted"}, nil
}

func (s *scriptedAI) promptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func (s *scriptedAI) prompt(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[i]
}

// emptyPrompts satisfies PromptSource with no sections loaded
type emptyPrompts struct{}

func (emptyPrompts) Get(name string) string { return "" }

func newTestConfig() *core.Config {
	cfg := core.DefaultConfig()
	cfg.Executor.PerStepRetries = 1
	cfg.Planning.MaxRepairRounds = 2
	cfg.Planning.MaxReplanRounds = 2
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func registerTool(t *testing.T, reg *Registry, spec ToolSpec, fn HandlerFunc) {
	t.Helper()
	if err := reg.Register(spec, func() (Handler, error) { return fn, nil }); err != nil {
		t.Fatalf("registering %s: %v", spec.Name, err)
	}
}

// newTestRegistry builds a registry with the tool surface most tests
// need: a terminal step, the delivery tool, a search tool, and a
// duplicate scanner returning a canned duplicate-scan payload.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()

	registerTool(t, reg, ToolSpec{
		Name:             TerminalAction,
		Description:      "Deliver the final reply to the user.",
		DeliveryTerminal: true,
		Parameters:       []ParameterSpec{{Name: "message", Type: "string", Required: true}},
	}, func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		out := make(map[string]interface{}, len(params))
		for k, v := range params {
			out[k] = v
		}
		return out, nil
	})

	registerTool(t, reg, ToolSpec{
		Name:        "compose_email",
		Description: "Compose and optionally send an email.",
		Parameters: []ParameterSpec{
			{Name: "to", Type: "array", Required: true},
			{Name: "subject", Type: "string", Required: true},
			{Name: "body", Type: "string"},
			{Name: "send", Type: "boolean"},
		},
	}, func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		send, _ := params["send"].(bool)
		return map[string]interface{}{"sent": send}, nil
	})

	registerTool(t, reg, ToolSpec{
		Name:            "google_search",
		Description:     "Search the web.",
		Parameters:      []ParameterSpec{{Name: "query", Type: "string", Required: true}},
		Pure:            true,
		ConcurrencySafe: true,
	}, func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{
			"summary": "Arsenal won 2-1.",
			"results": []interface{}{
				map[string]interface{}{"title": "Match report", "snippet": "Arsenal won 2-1."},
			},
		}, nil
	})

	registerTool(t, reg, ToolSpec{
		Name:        "folder_find_duplicates",
		Description: "Find duplicated files in a folder.",
		Parameters:  []ParameterSpec{{Name: "folder_path", Type: "string"}},
		Pure:        true,
	}, func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return duplicateScanPayload(), nil
	})

	reg.Freeze()
	return reg
}

// duplicateScanPayload is the duplicate-listing shape used across the
// resolver, formatter, and orchestrator tests
func duplicateScanPayload() map[string]interface{} {
	return map[string]interface{}{
		"total_duplicate_groups": float64(2),
		"total_duplicate_files":  float64(4),
		"wasted_space_mb":        0.38,
		"duplicates": []interface{}{
			map[string]interface{}{
				"files": []interface{}{
					map[string]interface{}{"name": "a.pdf"},
					map[string]interface{}{"name": "b.pdf"},
				},
				"size":  float64(202600),
				"count": float64(2),
			},
			map[string]interface{}{
				"files": []interface{}{
					map[string]interface{}{"name": "c.pdf"},
					map[string]interface{}{"name": "d.pdf"},
				},
				"size":  float64(199200),
				"count": float64(2),
			},
		},
	}
}

// fakeMemory implements SessionMemory in memory for orchestrator tests
type fakeMemory struct {
	mu           sync.Mutex
	interactions map[string]string
	plans        map[string]*Plan
	results      map[string]map[int]*StepResult
	replies      map[string]*Reply
	context      map[string]interface{}
	nextID       int
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{
		interactions: make(map[string]string),
		plans:        make(map[string]*Plan),
		results:      make(map[string]map[int]*StepResult),
		replies:      make(map[string]*Reply),
		context:      make(map[string]interface{}),
	}
}

func (f *fakeMemory) AddInteraction(userRequest string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("interaction-%d", f.nextID)
	f.interactions[id] = userRequest
	f.results[id] = make(map[int]*StepResult)
	return id
}

func (f *fakeMemory) SetStepResult(interactionID string, stepID int, result *StepResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.results[interactionID]; ok {
		m[stepID] = result
	}
}

func (f *fakeMemory) UpdatePlan(interactionID string, plan *Plan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans[interactionID] = plan
}

func (f *fakeMemory) SetReply(interactionID string, reply *Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[interactionID] = reply
}

func (f *fakeMemory) ContextSnapshot() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]interface{}, len(f.context))
	for k, v := range f.context {
		out[k] = v
	}
	return out
}

func (f *fakeMemory) ReasoningSummary(maxEntries int) string { return "" }

func (f *fakeMemory) RecordThought(interactionID, stage, thought, action string) string { return "" }

func (f *fakeMemory) ResolveThought(entryID string, success bool, errMsg string) {}

func (f *fakeMemory) reply(interactionID string) *Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replies[interactionID]
}

// blockingHandler waits for cancellation, used by the cancellation tests
func blockingHandler(started chan<- struct{}) HandlerFunc {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		if started != nil {
			select {
			case started <- struct{}{}:
			default:
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(30 * time.Second):
			return nil, fmt.Errorf("blocking handler was never cancelled")
		}
	}
}
