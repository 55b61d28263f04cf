package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/concordlabs/concord/core"
	"github.com/concordlabs/concord/orchestration"
	"github.com/concordlabs/concord/session"
)

const defaultUser = "default"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server accepts WebSocket connections and bridges them to the
// orchestrator through the session task manager.
type Server struct {
	orch  *orchestration.Orchestrator
	tasks *session.TaskManager
	store session.Store
	cfg   *core.Config
	hub   *hub

	mu       sync.Mutex
	memories map[string]*session.Memory

	logger    core.Logger
	telemetry core.Telemetry
}

// NewServer creates the transport server and wires the orchestrator's
// plan and step callbacks into the connection hub
func NewServer(orch *orchestration.Orchestrator, tasks *session.TaskManager, store session.Store, cfg *core.Config) *Server {
	s := &Server{
		orch:      orch,
		tasks:     tasks,
		store:     store,
		cfg:       cfg,
		hub:       newHub(),
		memories:  make(map[string]*session.Memory),
		logger:    &core.NoOpLogger{},
		telemetry: &core.NoOpTelemetry{},
	}
	orch.SetPlanCallback(s.hub.notifyPlan)
	orch.SetStepCallback(s.hub.notifyStep)
	return s
}

// SetLogger configures the logger for this server
func (s *Server) SetLogger(logger core.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetTelemetry configures the telemetry provider
func (s *Server) SetTelemetry(t core.Telemetry) {
	if t != nil {
		s.telemetry = t
	}
}

// Handler returns the HTTP handler serving the WebSocket endpoint at
// /ws and a liveness probe at /healthz
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return otelhttp.NewHandler(mux, "concord.transport")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", map[string]interface{}{
			"operation": "ws_upgrade",
			"error":     err.Error(),
		})
		return
	}

	user := r.URL.Query().Get("user")
	if user == "" {
		user = defaultUser
	}

	c := newClient(conn, s.logger)
	go c.writePump()
	s.readLoop(c, user)
}

// readLoop processes inbound messages until the connection drops. It is
// the only reader for the connection.
func (s *Server) readLoop(c *client, user string) {
	var attached []string
	defer func() {
		for _, sessionID := range attached {
			s.hub.detach(sessionID, c)
		}
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("WebSocket closed unexpectedly", map[string]interface{}{
					"operation": "ws_read",
					"error":     err.Error(),
				})
			}
			return
		}

		if msg.SessionID == "" {
			c.deliver(errorMessage("InvalidInput", "session_id is required"))
			continue
		}

		// First use of a session on this connection claims routing for it
		if current := s.hub.clientForSession(msg.SessionID); current != c {
			s.hub.attach(msg.SessionID, c)
			attached = append(attached, msg.SessionID)
		}

		switch msg.Type {
		case "request":
			s.handleRequest(c, user, msg)
		case "cancel":
			s.tasks.Cancel(msg.SessionID)
		case "clear":
			s.handleClear(c, user, msg.SessionID)
		default:
			c.deliver(errorMessage("InvalidInput", "unknown message type: "+msg.Type))
		}
	}
}

// handleRequest submits the request as the session's task. The reply or
// error is delivered from the task goroutine; the reader keeps serving
// cancel and clear in the meantime.
func (s *Server) handleRequest(c *client, user string, msg Inbound) {
	mem, err := s.memoryFor(user, msg.SessionID)
	if err != nil {
		c.deliver(errorMessage("Internal", "session state could not be loaded"))
		return
	}
	tracked := &trackedMemory{Memory: mem, hub: s.hub, sessionID: msg.SessionID}

	submitErr := s.tasks.Submit(msg.SessionID, func(ctx context.Context) {
		reply, interactionID, err := s.orch.HandleRequest(ctx, msg.SessionID, msg.Text, tracked)
		if interactionID != "" {
			defer s.hub.unbindInteraction(interactionID)
		}
		if err != nil {
			kind := "Internal"
			if errors.Is(err, core.ErrInvalidInput) {
				kind = "InvalidInput"
			}
			c.deliver(errorMessage(kind, err.Error()))
			return
		}
		c.deliver(replyMessage(interactionID, reply))
	})
	if submitErr != nil {
		if errors.Is(submitErr, core.ErrSessionBusy) {
			c.deliver(errorMessage("AlreadyRunning", "a request is already running for this session"))
			return
		}
		c.deliver(errorMessage("Internal", "request could not be scheduled"))
	}
}

// handleClear cancels any running task, waits for its cleanup, and
// resets session memory
func (s *Server) handleClear(c *client, user, sessionID string) {
	mem, err := s.memoryFor(user, sessionID)
	if err != nil {
		c.deliver(errorMessage("Internal", "session state could not be loaded"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.tasks.Clear(ctx, sessionID, mem); err != nil {
		c.deliver(errorMessage("Internal", "clear timed out waiting for the active task"))
		return
	}
	s.logger.Info("Session cleared", map[string]interface{}{
		"operation":  "session_clear",
		"session_id": sessionID,
	})
}

// memoryFor returns the session's memory, creating and restoring it on
// first use
func (s *Server) memoryFor(user, sessionID string) (*session.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mem, ok := s.memories[sessionID]; ok {
		return mem, nil
	}

	mem := session.NewMemory(user, sessionID, s.cfg.Reasoning.Enabled, s.store)
	mem.SetLogger(s.logger)
	if err := mem.Restore(); err != nil {
		return nil, err
	}
	s.memories[sessionID] = mem
	return mem, nil
}
