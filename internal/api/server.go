// Package api serves the ticket workflow over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/h1v3-io/swarm/internal/logbuf"
	"github.com/h1v3-io/swarm/internal/mcp"
	"github.com/h1v3-io/swarm/internal/ticket"
	"github.com/h1v3-io/swarm/internal/workflow"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

// LogQuerier abstracts log entry querying to avoid coupling to logbuf directly.
type LogQuerier interface {
	Query(since time.Time, minLevel zapcore.Level, limit int) []logbuf.Entry
}

// Workflow is what the server needs from the orchestrator.
type Workflow interface {
	Store() ticket.Store
	RunCycle(ctx context.Context) (*protocol.RoleResponse, error)
	ProcessTicket(ctx context.Context, id string) (*protocol.RoleResponse, error)
	Roles() []protocol.RoleSpec
	Summary() (workflow.Summary, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string // host:port
	Token  string // Bearer token; empty disables auth
}

// Server is the swarm REST API server.
type Server struct {
	wf     Workflow
	mcp    *mcp.Manager
	cfg    Config
	logger *zap.SugaredLogger
	logs   LogQuerier
	srv    *http.Server
}

// NewServer creates a new API server. servers and logs may be nil.
func NewServer(wf Workflow, servers *mcp.Manager, cfg Config, logger *zap.SugaredLogger, logs LogQuerier) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		wf:     wf,
		mcp:    servers,
		cfg:    cfg,
		logger: logger,
		logs:   logs,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/tickets", s.requireAuth(s.handleListTickets))
	mux.HandleFunc("POST /api/tickets", s.requireAuth(s.handleCreateTicket))
	mux.HandleFunc("GET /api/tickets/{id}", s.requireAuth(s.handleGetTicket))
	mux.HandleFunc("POST /api/tickets/{id}/process", s.requireAuth(s.handleProcessTicket))
	mux.HandleFunc("POST /api/cycles", s.requireAuth(s.handleRunCycle))
	mux.HandleFunc("GET /api/summary", s.requireAuth(s.handleSummary))
	mux.HandleFunc("GET /api/roles", s.requireAuth(s.handleListRoles))
	mux.HandleFunc("GET /api/mcp/servers", s.requireAuth(s.handleListServers))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.requestID(s.corsMiddleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Infow("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debugw("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", id,
			"elapsed", time.Since(start),
		)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+RequestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ticket.Filter{
		Assignee: protocol.RoleID(q.Get("assignee")),
		Query:    q.Get("q"),
	}
	if status := q.Get("status"); status != "" {
		ts := protocol.TicketStatus(status)
		if !ts.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
			return
		}
		filter.Status = &ts
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		filter.Limit = n
	}

	tickets, err := s.wf.Store().List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tickets == nil {
		tickets = []*protocol.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.wf.Store().Get(r.PathValue("id"))
	if errors.Is(err, ticket.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ticket not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// CreateTicketRequest is the body of POST /api/tickets.
type CreateTicketRequest struct {
	ID                 string              `json:"id,omitempty"`
	Title              string              `json:"title"`
	Description        string              `json:"description,omitempty"`
	Type               protocol.TicketType `json:"type,omitempty"`
	Priority           protocol.Priority   `json:"priority,omitempty"`
	AcceptanceCriteria []string            `json:"acceptance_criteria,omitempty"`
}

// Ticket builds a backlog ticket, generating an id when none is given.
func (req CreateTicketRequest) Ticket() *protocol.Ticket {
	id := req.ID
	if id == "" {
		id = ticket.NewID()
	}
	t := protocol.NewTicket(id, req.Title)
	t.Description = req.Description
	if req.Type != "" {
		t.Type = req.Type
	}
	if req.Priority != "" {
		t.Priority = req.Priority
	}
	t.AcceptanceCriteria = append(t.AcceptanceCriteria, req.AcceptanceCriteria...)
	t.CreatedBy = "api"
	return t
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req CreateTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	t := req.Ticket()
	err := s.wf.Store().Create(t)
	if errors.Is(err, ticket.ErrExists) {
		writeError(w, http.StatusConflict, fmt.Sprintf("ticket %s already exists", t.ID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Infow("ticket created", "ticket", t.ID)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleProcessTicket(w http.ResponseWriter, r *http.Request) {
	resp, err := s.wf.ProcessTicket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	status := http.StatusOK
	if resp.Action == workflow.ActionTicketNotFound {
		status = http.StatusNotFound
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	resp, err := s.wf.RunCycle(r.Context())
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	sum, err := s.wf.Summary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleListRoles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.wf.Roles())
}

// ServerStatus describes one MCP server for API responses.
type ServerStatus struct {
	Name        string    `json:"name"`
	Transport   string    `json:"transport"`
	Description string    `json:"description,omitempty"`
	State       mcp.State `json:"state"`
}

func (s *Server) handleListServers(w http.ResponseWriter, _ *http.Request) {
	out := []ServerStatus{}
	if s.mcp != nil {
		for _, name := range s.mcp.Servers() {
			c, ok := s.mcp.Get(name)
			if !ok {
				continue
			}
			cfg := c.Config()
			out = append(out, ServerStatus{
				Name:        name,
				Transport:   cfg.Transport,
				Description: cfg.Description,
				State:       c.State(),
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	limit := 200
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}

	minLevel := zapcore.DebugLevel
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		parsed, err := zapcore.ParseLevel(lvl)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		minLevel = parsed
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = time.UnixMilli(ms)
		}
	}

	entries := s.logs.Query(since, minLevel, limit)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func writeWorkflowError(w http.ResponseWriter, err error) {
	if errors.Is(err, workflow.ErrNotInitialized) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
