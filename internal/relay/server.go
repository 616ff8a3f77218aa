package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/chatrelay/internal/chat"
	"github.com/codefionn/chatrelay/internal/config"
	"github.com/codefionn/chatrelay/internal/logger"
)

const backendDownMessage = "Failed to start Ollama service"

// Backend is the full inference surface the server consumes.
type Backend interface {
	Inference
	Complete(ctx context.Context, model string, messages []chat.Message) (string, error)
	ListModels(ctx context.Context) ([]string, error)
}

// Readiness brings the backend up before a session or request proceeds.
type Readiness interface {
	EnsureStarted(ctx context.Context) bool
}

// Server exposes the WebSocket relay and the REST surface around it.
type Server struct {
	cfg      *config.Config
	store    *chat.Store
	backend  Backend
	runner   Readiness
	registry *Registry

	addr       string
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer creates the server. It does not listen until Start.
func NewServer(cfg *config.Config, store *chat.Store, backend Backend, runner Readiness) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		backend:  backend,
		runner:   runner,
		registry: NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local single-user deployment
			},
		},
	}
}

// Start begins serving on the configured address.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.addr = ln.Addr().String()

	s.httpServer = &http.Server{
		Handler:     s.routes(),
		ReadTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("chatrelay listening on %s", s.addr)
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() string {
	return s.addr
}

// Stop shuts the server down gracefully. Shutdown does not touch
// hijacked connections, so live sessions are closed explicitly.
func (s *Server) Stop() error {
	logger.Info("Stopping chatrelay server...")

	s.registry.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	return s.registry.Len()
}

func (s *Server) routes() http.Handler {
	router := httprouter.New()
	router.GET("/", s.handleRoot)
	router.GET("/ws/:model", s.handleWebSocket)
	router.GET("/api/models", s.handleModels)
	router.GET("/api/chat_history/:model", s.handleHistory)
	router.POST("/api/clear_history/:model", s.handleClearHistory)
	router.POST("/api/chat", s.handleChat)
	return router
}

// handleWebSocket upgrades the connection and runs a session until
// disconnect. Backend bring-up failure is terminal for this connection
// only: one system event, then close, no welcome.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	model := ps.ByName("model")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade WebSocket: %v", err)
		return
	}

	// The request context dies with the handshake; the session lives as
	// long as the connection does.
	ctx := context.Background()

	if !s.runner.EnsureStarted(ctx) {
		logger.Error("Backend unavailable for new connection (model %s)", model)
		data, _ := json.Marshal(SystemEvent(backendDownMessage))
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.TextMessage, data)
		ws.Close()
		return
	}

	conn := NewConn(ws)
	sess := NewSession(model, s.store, s.windowFor(model), s.backend, conn)
	s.registry.Register(sess)
	logger.Info("New WebSocket connection for model %s (session %s)", model, sess.ID)

	go conn.WritePump()
	go conn.ReadPump(sess.Events())

	sess.Run(ctx)

	s.registry.Unregister(sess.ID)
	conn.Close()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "chatrelay is running"})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !s.runner.EnsureStarted(r.Context()) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": backendDownMessage})
		return
	}

	models, err := s.backend.ListModels(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if models == nil {
		models = []string{}
	}

	writeJSON(w, http.StatusOK, map[string][]string{"models": models})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	model := ps.ByName("model")
	conv := s.store.Get(model)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model":    model,
		"messages": nonSystemMessages(conv.Messages),
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	model := ps.ByName("model")
	if err := s.store.Clear(model); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Cleared history for model %s", model),
	})
}

// handleChat is the non-streaming convenience endpoint: the same
// append -> window -> complete -> append sequence without a session.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Name   string `json:"name"`
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if !s.runner.EnsureStarted(r.Context()) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": backendDownMessage})
		return
	}

	if err := s.store.Append(req.Name, chat.RoleUser, req.Prompt); err != nil {
		logger.Warn("Continuing with unpersisted user message for %s: %v", req.Name, err)
	}

	turnContext := s.store.Get(req.Name).Messages
	if window := s.windowFor(req.Name); window != nil {
		turnContext = window.Apply(turnContext)
	}

	response, err := s.backend.Complete(r.Context(), req.Name, turnContext)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if err := s.store.Append(req.Name, chat.RoleAssistant, response); err != nil {
		logger.Warn("Assistant reply not persisted for %s: %v", req.Name, err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"response": response})
}

// windowFor builds the outbound view policy for a model, or nil when no
// token budget is configured.
func (s *Server) windowFor(model string) chat.Window {
	if s.cfg.MaxContextTokens <= 0 {
		return nil
	}
	return chat.TokenWindow{
		Budget:    s.cfg.MaxContextTokens,
		Estimator: chat.NewEstimator(model),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}
