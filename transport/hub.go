package transport

import (
	"sync"

	"github.com/concordlabs/concord/orchestration"
	"github.com/concordlabs/concord/session"
)

// hub routes orchestrator callbacks to connections. The orchestrator
// reports progress by interaction id, so the hub keeps the binding from
// interaction to session alongside the session's connection. All map
// mutation is serialized by one mutex, held only during mutation.
type hub struct {
	mu           sync.Mutex
	conns        map[string]*client
	interactions map[string]string
}

func newHub() *hub {
	return &hub{
		conns:        make(map[string]*client),
		interactions: make(map[string]string),
	}
}

// attach binds a connection to a session, displacing any previous one
func (h *hub) attach(sessionID string, c *client) {
	h.mu.Lock()
	h.conns[sessionID] = c
	h.mu.Unlock()
}

// detach removes the binding if it still points at this connection
func (h *hub) detach(sessionID string, c *client) {
	h.mu.Lock()
	if current, ok := h.conns[sessionID]; ok && current == c {
		delete(h.conns, sessionID)
	}
	h.mu.Unlock()
}

func (h *hub) bindInteraction(interactionID, sessionID string) {
	h.mu.Lock()
	h.interactions[interactionID] = sessionID
	h.mu.Unlock()
}

func (h *hub) unbindInteraction(interactionID string) {
	h.mu.Lock()
	delete(h.interactions, interactionID)
	h.mu.Unlock()
}

// clientForSession returns the connection currently bound to a session
func (h *hub) clientForSession(sessionID string) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[sessionID]
}

// clientFor resolves an interaction to the session's current connection
func (h *hub) clientFor(interactionID string) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessionID, ok := h.interactions[interactionID]
	if !ok {
		return nil
	}
	return h.conns[sessionID]
}

// notifyPlan is wired as the orchestrator's plan callback
func (h *hub) notifyPlan(interactionID string, plan *orchestration.Plan) {
	if c := h.clientFor(interactionID); c != nil {
		c.advise(planMessage(interactionID, plan))
	}
}

// notifyStep is wired as the executor's step callback
func (h *hub) notifyStep(interactionID string, stepID int, status orchestration.StepStatus) {
	if c := h.clientFor(interactionID); c != nil {
		c.advise(stepUpdateMessage(interactionID, stepID, status))
	}
}

// trackedMemory wraps a session memory so the hub learns the
// interaction-to-session binding the moment an interaction is created,
// before any plan or step callback can fire for it
type trackedMemory struct {
	*session.Memory
	hub       *hub
	sessionID string
}

func (t *trackedMemory) AddInteraction(userRequest string) string {
	id := t.Memory.AddInteraction(userRequest)
	t.hub.bindInteraction(id, t.sessionID)
	return id
}
