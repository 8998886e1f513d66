package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h1v3-io/swarm/internal/logbuf"
	"github.com/h1v3-io/swarm/internal/mcp"
	"github.com/h1v3-io/swarm/internal/ticket"
	"github.com/h1v3-io/swarm/internal/workflow"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

// fakeWorkflow serves a real SQLite store and canned cycle results.
type fakeWorkflow struct {
	store     *ticket.SQLiteStore
	cycleErr  error
	processed []string
}

func newFakeWorkflow(t *testing.T) *fakeWorkflow {
	t.Helper()
	store, err := ticket.NewSQLiteStore(filepath.Join(t.TempDir(), "tickets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &fakeWorkflow{store: store}
}

func (f *fakeWorkflow) Store() ticket.Store { return f.store }

func (f *fakeWorkflow) RunCycle(context.Context) (*protocol.RoleResponse, error) {
	if f.cycleErr != nil {
		return nil, f.cycleErr
	}
	return &protocol.RoleResponse{Success: true, Role: protocol.RoleScrumMaster, Action: "no_tickets"}, nil
}

func (f *fakeWorkflow) ProcessTicket(_ context.Context, id string) (*protocol.RoleResponse, error) {
	f.processed = append(f.processed, id)
	if _, err := f.store.Get(id); err != nil {
		return &protocol.RoleResponse{Role: protocol.RoleScrumMaster, TicketID: id, Action: workflow.ActionTicketNotFound}, nil
	}
	return &protocol.RoleResponse{Success: true, Role: protocol.RoleProductOwner, TicketID: id, Action: "refined"}, nil
}

func (f *fakeWorkflow) Roles() []protocol.RoleSpec {
	specs := workflow.DefaultSpecs()
	out := make([]protocol.RoleSpec, 0, len(protocol.Roles))
	for _, id := range protocol.Roles {
		out = append(out, specs[id])
	}
	return out
}

func (f *fakeWorkflow) Summary() (workflow.Summary, error) {
	return workflow.Summary{Cycles: 3, ByStatus: map[protocol.TicketStatus]int{protocol.StatusBacklog: 1}, Total: 1}, nil
}

func newTestServer(t *testing.T, wf Workflow, token string) *Server {
	return NewServer(wf, nil, Config{Listen: "127.0.0.1:0", Token: token}, nil, nil)
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, newFakeWorkflow(t), "")
	w := do(t, srv, "GET", "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestRequestIDEchoed(t *testing.T) {
	srv := newTestServer(t, newFakeWorkflow(t), "")
	req := httptest.NewRequest("GET", "/api/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
}

func TestCreateAndGetTicket(t *testing.T) {
	wf := newFakeWorkflow(t)
	srv := newTestServer(t, wf, "")

	w := do(t, srv, "POST", "/api/tickets", `{"id":"T-1","title":"User login","priority":"high","acceptance_criteria":["a"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[protocol.Ticket](t, w)
	assert.Equal(t, protocol.StatusBacklog, created.Status)
	assert.Equal(t, protocol.PriorityHigh, created.Priority)
	assert.Equal(t, "api", created.CreatedBy)

	w = do(t, srv, "GET", "/api/tickets/T-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "User login", decode[protocol.Ticket](t, w).Title)

	w = do(t, srv, "POST", "/api/tickets", `{"id":"T-1","title":"again"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateTicket_GeneratesID(t *testing.T) {
	srv := newTestServer(t, newFakeWorkflow(t), "")
	w := do(t, srv, "POST", "/api/tickets", `{"title":"Export CSV"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[protocol.Ticket](t, w).ID
	assert.True(t, strings.HasPrefix(id, "T-"))
	assert.Len(t, id, 10)
}

func TestCreateTicket_BadRequests(t *testing.T) {
	srv := newTestServer(t, newFakeWorkflow(t), "")
	assert.Equal(t, http.StatusBadRequest, do(t, srv, "POST", "/api/tickets", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, "POST", "/api/tickets", `{"title":"  "}`).Code)
}

func TestGetTicket_NotFound(t *testing.T) {
	srv := newTestServer(t, newFakeWorkflow(t), "")
	w := do(t, srv, "GET", "/api/tickets/T-404", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTickets_Filters(t *testing.T) {
	wf := newFakeWorkflow(t)
	done := protocol.NewTicket("T-1", "Login")
	done.Status = protocol.StatusDone
	require.NoError(t, wf.store.Create(done))
	require.NoError(t, wf.store.Create(protocol.NewTicket("T-2", "Export")))
	srv := newTestServer(t, wf, "")

	w := do(t, srv, "GET", "/api/tickets", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]protocol.Ticket](t, w), 2)

	w = do(t, srv, "GET", "/api/tickets?status=done", "")
	got := decode[[]protocol.Ticket](t, w)
	require.Len(t, got, 1)
	assert.Equal(t, "T-1", got[0].ID)

	w = do(t, srv, "GET", "/api/tickets?status=finished", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTickets_EmptyIsArray(t *testing.T) {
	srv := newTestServer(t, newFakeWorkflow(t), "")
	w := do(t, srv, "GET", "/api/tickets", "")
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestProcessTicket(t *testing.T) {
	wf := newFakeWorkflow(t)
	require.NoError(t, wf.store.Create(protocol.NewTicket("T-1", "Login")))
	srv := newTestServer(t, wf, "")

	w := do(t, srv, "POST", "/api/tickets/T-1/process", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "refined", decode[protocol.RoleResponse](t, w).Action)

	w = do(t, srv, "POST", "/api/tickets/T-9/process", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, []string{"T-1", "T-9"}, wf.processed)
}

func TestRunCycle(t *testing.T) {
	wf := newFakeWorkflow(t)
	srv := newTestServer(t, wf, "")

	w := do(t, srv, "POST", "/api/cycles", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no_tickets", decode[protocol.RoleResponse](t, w).Action)

	wf.cycleErr = workflow.ErrNotInitialized
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, "POST", "/api/cycles", "").Code)

	wf.cycleErr = errors.New("provider down")
	w = do(t, srv, "POST", "/api/cycles", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "provider down")
}

func TestSummary(t *testing.T) {
	srv := newTestServer(t, newFakeWorkflow(t), "")
	w := do(t, srv, "GET", "/api/summary", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decode[workflow.Summary](t, w).Cycles)
}

func TestListRoles(t *testing.T) {
	srv := newTestServer(t, newFakeWorkflow(t), "")
	w := do(t, srv, "GET", "/api/roles", "")
	roles := decode[[]protocol.RoleSpec](t, w)
	require.Len(t, roles, len(protocol.Roles))
	assert.Equal(t, protocol.RoleScrumMaster, roles[0].ID)
}

func TestListServers(t *testing.T) {
	m := mcp.NewManager(nil)
	require.NoError(t, m.Register(&mcp.ServerConfig{Name: "docs", Transport: "http", URL: "http://127.0.0.1:1/mcp", Description: "Docs search"}))
	srv := NewServer(newFakeWorkflow(t), m, Config{}, nil, nil)

	w := do(t, srv, "GET", "/api/mcp/servers", "")
	got := decode[[]ServerStatus](t, w)
	require.Len(t, got, 1)
	assert.Equal(t, ServerStatus{Name: "docs", Transport: "http", Description: "Docs search", State: mcp.StateDisconnected}, got[0])

	srv = newTestServer(t, newFakeWorkflow(t), "")
	assert.JSONEq(t, "[]", do(t, srv, "GET", "/api/mcp/servers", "").Body.String())
}

func TestGetLogs(t *testing.T) {
	buf := logbuf.New(10)
	buf.Write(logbuf.Entry{Time: time.Now(), Level: "info", Message: "cycle started"})
	buf.Write(logbuf.Entry{Time: time.Now(), Level: "error", Message: "provider failed"})
	srv := NewServer(newFakeWorkflow(t), nil, Config{}, nil, buf)

	w := do(t, srv, "GET", "/api/logs", "")
	assert.Len(t, decode[[]logbuf.Entry](t, w), 2)

	w = do(t, srv, "GET", "/api/logs?level=error", "")
	got := decode[[]logbuf.Entry](t, w)
	require.Len(t, got, 1)
	assert.Equal(t, "provider failed", got[0].Message)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, "GET", "/api/logs?level=loud", "").Code)
}

func TestGetLogs_NoBuffer(t *testing.T) {
	srv := newTestServer(t, newFakeWorkflow(t), "")
	assert.JSONEq(t, "[]", do(t, srv, "GET", "/api/logs", "").Body.String())
}

func TestAuth_Required(t *testing.T) {
	srv := newTestServer(t, newFakeWorkflow(t), "secret-key")

	for _, tc := range []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer wrong-key", http.StatusUnauthorized},
		{"no scheme", "secret-key", http.StatusUnauthorized},
		{"correct", "Bearer secret-key", http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/roles", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}

	// health stays open
	assert.Equal(t, http.StatusOK, do(t, srv, "GET", "/api/health", "").Code)
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, newFakeWorkflow(t), "")
	w := do(t, srv, "OPTIONS", "/api/tickets", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
