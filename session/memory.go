package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/concordlabs/concord/core"
	"github.com/concordlabs/concord/orchestration"
)

// SchemaVersion is the persisted session document version
const SchemaVersion = 1

// Interaction is one user request handled end-to-end within a session
type Interaction struct {
	ID          string                             `json:"id"`
	UserRequest string                             `json:"user_request"`
	Plan        *orchestration.Plan                `json:"plan,omitempty"`
	StepResults map[int]*orchestration.StepResult  `json:"step_results"`
	Reply       *orchestration.Reply               `json:"reply,omitempty"`
	Reasoning   []*ReasoningEntry                  `json:"reasoning,omitempty"`
	CreatedAt   time.Time                          `json:"created_at"`
}

// Document is the persisted shape of one session
type Document struct {
	SchemaVersion   int                    `json:"schema_version"`
	Interactions    []*Interaction         `json:"interactions"`
	PlanningContext map[string]interface{} `json:"planning_context"`
}

// Memory is the per-session, thread-safe record of interactions, step
// results and planning context. All mutations are serialized by one
// mutex; public methods lock once and delegate to unlocked helpers so
// Clear can be called from within a task owned by the same session.
type Memory struct {
	mu sync.Mutex

	user      string
	sessionID string

	interactions    []*Interaction
	planningContext map[string]interface{}

	reasoningEnabled bool

	store  Store
	logger core.Logger
}

// NewMemory creates session memory for one session.
// The store is optional; nil disables persistence.
func NewMemory(user, sessionID string, reasoningEnabled bool, store Store) *Memory {
	return &Memory{
		user:             user,
		sessionID:        sessionID,
		planningContext:  make(map[string]interface{}),
		reasoningEnabled: reasoningEnabled,
		store:            store,
		logger:           &core.NoOpLogger{},
	}
}

// SetLogger configures the logger for this memory
func (m *Memory) SetLogger(logger core.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SessionID returns the owning session id
func (m *Memory) SessionID() string {
	return m.sessionID
}

// AddInteraction records a new interaction and returns its id
func (m *Memory) AddInteraction(userRequest string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	interaction := &Interaction{
		ID:          uuid.NewString(),
		UserRequest: userRequest,
		StepResults: make(map[int]*orchestration.StepResult),
		CreatedAt:   time.Now().UTC(),
	}
	m.interactions = append(m.interactions, interaction)

	m.logger.Debug("Interaction created", map[string]interface{}{
		"operation":      "add_interaction",
		"session_id":     m.sessionID,
		"interaction_id": interaction.ID,
	})
	return interaction.ID
}

// SetStepResult commits one step result. Results are stored by step id,
// so concurrent step completion linearizes here.
func (m *Memory) SetStepResult(interactionID string, stepID int, result *orchestration.StepResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	interaction := m.findLocked(interactionID)
	if interaction == nil {
		return
	}
	interaction.StepResults[stepID] = copyStepResult(result)
}

// UpdatePlan records the accepted plan for an interaction
func (m *Memory) UpdatePlan(interactionID string, plan *orchestration.Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if interaction := m.findLocked(interactionID); interaction != nil {
		interaction.Plan = copyPlan(plan)
	}
}

// SetReply seals an interaction with the finalized reply and persists
// the session. The store write happens outside the lock.
func (m *Memory) SetReply(interactionID string, reply *orchestration.Reply) {
	m.mu.Lock()
	if interaction := m.findLocked(interactionID); interaction != nil {
		r := *reply
		interaction.Reply = &r
	}
	doc := m.documentLocked()
	m.mu.Unlock()

	m.persist(doc)
}

// Snapshot returns a deep copy of an interaction; callers never observe
// torn state.
func (m *Memory) Snapshot(interactionID string) (*Interaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	interaction := m.findLocked(interactionID)
	if interaction == nil {
		return nil, false
	}
	return copyInteraction(interaction), true
}

// StepResults returns a deep copy of the payloads recorded so far,
// keyed by step id, for template resolution.
func (m *Memory) StepResults(interactionID string) map[int]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[int]interface{})
	interaction := m.findLocked(interactionID)
	if interaction == nil {
		return out
	}
	for id, res := range interaction.StepResults {
		out[id] = copyJSONValue(res.Payload)
	}
	return out
}

// InteractionCount returns the number of recorded interactions
func (m *Memory) InteractionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.interactions)
}

// SetContext stores one planning-context value shared across the
// session's interactions
func (m *Memory) SetContext(key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.planningContext[key] = copyJSONValue(value)
}

// GetContext reads one planning-context value
func (m *Memory) GetContext(key string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.planningContext[key]
	if !ok {
		return nil, false
	}
	return copyJSONValue(v), true
}

// ContextSnapshot returns a deep copy of the whole planning context
func (m *Memory) ContextSnapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]interface{}, len(m.planningContext))
	for k, v := range m.planningContext {
		out[k] = copyJSONValue(v)
	}
	return out
}

// Clear resets interactions and planning context and persists the empty
// document. Safe to call from within a task owned by this session.
func (m *Memory) Clear() {
	m.mu.Lock()
	m.interactions = nil
	m.planningContext = make(map[string]interface{})
	doc := m.documentLocked()
	m.mu.Unlock()

	m.persist(doc)
	m.logger.Info("Session memory cleared", map[string]interface{}{
		"operation":  "clear_memory",
		"session_id": m.sessionID,
	})
}

// Restore loads persisted state from the store, replacing current state.
// Used at session attach time; not an error when nothing was persisted.
func (m *Memory) Restore() error {
	if m.store == nil {
		return nil
	}
	doc, err := m.store.Load(m.user, m.sessionID)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactions = doc.Interactions
	if doc.PlanningContext != nil {
		m.planningContext = doc.PlanningContext
	}
	return nil
}

// findLocked must be called with the mutex held
func (m *Memory) findLocked(interactionID string) *Interaction {
	for _, interaction := range m.interactions {
		if interaction.ID == interactionID {
			return interaction
		}
	}
	return nil
}

// documentLocked builds the persistable document; mutex must be held.
// The snapshot is deep-copied so persistence can proceed without the lock.
func (m *Memory) documentLocked() *Document {
	doc := &Document{
		SchemaVersion:   SchemaVersion,
		Interactions:    make([]*Interaction, 0, len(m.interactions)),
		PlanningContext: make(map[string]interface{}, len(m.planningContext)),
	}
	for _, interaction := range m.interactions {
		doc.Interactions = append(doc.Interactions, copyInteraction(interaction))
	}
	for k, v := range m.planningContext {
		doc.PlanningContext[k] = copyJSONValue(v)
	}
	return doc
}

// persist writes the document through the store. The session lock is
// never held here: store I/O must not serialize readers.
func (m *Memory) persist(doc *Document) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(m.user, m.sessionID, doc); err != nil {
		m.logger.Error("Session persistence failed", map[string]interface{}{
			"operation":  "persist_session",
			"session_id": m.sessionID,
			"error":      err.Error(),
		})
	}
}

// copyJSONValue deep-copies a JSON-shaped value. Scalars are immutable
// and returned as-is.
func copyJSONValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, elem := range t {
			out[k] = copyJSONValue(elem)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, elem := range t {
			out[i] = copyJSONValue(elem)
		}
		return out
	case nil, bool, string, float64, int, int64, json.Number:
		return t
	default:
		// Uncommon payload types round-trip through JSON
		data, err := json.Marshal(t)
		if err != nil {
			return t
		}
		var out interface{}
		if err := json.Unmarshal(data, &out); err != nil {
			return t
		}
		return out
	}
}

func copyStepResult(r *orchestration.StepResult) *orchestration.StepResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Payload = copyJSONValue(r.Payload)
	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}
	return &out
}

func copyPlan(p *orchestration.Plan) *orchestration.Plan {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = make([]orchestration.Step, len(p.Steps))
	for i, step := range p.Steps {
		s := step
		if step.Parameters != nil {
			s.Parameters = copyJSONValue(step.Parameters).(map[string]interface{})
		}
		s.Dependencies = append([]int(nil), step.Dependencies...)
		out.Steps[i] = s
	}
	return &out
}

func copyInteraction(in *Interaction) *Interaction {
	out := &Interaction{
		ID:          in.ID,
		UserRequest: in.UserRequest,
		Plan:        copyPlan(in.Plan),
		StepResults: make(map[int]*orchestration.StepResult, len(in.StepResults)),
		CreatedAt:   in.CreatedAt,
	}
	for id, res := range in.StepResults {
		out.StepResults[id] = copyStepResult(res)
	}
	if in.Reply != nil {
		r := *in.Reply
		out.Reply = &r
	}
	for _, entry := range in.Reasoning {
		e := *entry
		e.Evidence = append([]string(nil), entry.Evidence...)
		e.Commitments = append([]string(nil), entry.Commitments...)
		e.Attachments = append([]string(nil), entry.Attachments...)
		e.Corrections = append([]string(nil), entry.Corrections...)
		out.Reasoning = append(out.Reasoning, &e)
	}
	return out
}
