package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h1v3-io/swarm/internal/agent"
	"github.com/h1v3-io/swarm/internal/ticket"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

// scriptedProvider answers each role from its own queue of replies. The
// role is read from the "# Role: <id>" line opening the system prompt.
type scriptedProvider struct {
	mu      sync.Mutex
	replies map[protocol.RoleID][]string
	prompts map[protocol.RoleID][]string
}

func newScriptedProvider(replies map[protocol.RoleID][]string) *scriptedProvider {
	if replies == nil {
		replies = map[protocol.RoleID][]string{}
	}
	return &scriptedProvider{replies: replies, prompts: map[protocol.RoleID][]string{}}
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	var role protocol.RoleID
	if len(req.Messages) > 0 {
		first, _, _ := strings.Cut(req.Messages[0].Content, "\n")
		role = protocol.RoleID(strings.TrimPrefix(first, "# Role: "))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(req.Messages) > 1 {
		p.prompts[role] = append(p.prompts[role], req.Messages[1].Content)
	}
	queue := p.replies[role]
	if len(queue) == 0 {
		return nil, fmt.Errorf("scripted: no reply left for %s", role)
	}
	p.replies[role] = queue[1:]
	return &protocol.ChatResponse{Content: queue[0]}, nil
}

// remaining returns how many scripted replies were not used.
func (p *scriptedProvider) remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, q := range p.replies {
		n += len(q)
	}
	return n
}

func (p *scriptedProvider) lastPrompt(role protocol.RoleID) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ps := p.prompts[role]
	if len(ps) == 0 {
		return ""
	}
	return ps[len(ps)-1]
}

func newStore(t *testing.T) *ticket.SQLiteStore {
	t.Helper()
	s, err := ticket.NewSQLiteStore(filepath.Join(t.TempDir(), "tickets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// toolless builds an agent for role that makes plain decision calls.
func toolless(role protocol.RoleID, prov *scriptedProvider) *agent.Agent {
	return agent.New(protocol.RoleSpec{ID: role}, prov, nil, nil)
}

// fakeRole answers every message with a fixed next role and counts calls.
type fakeRole struct {
	id   protocol.RoleID
	next protocol.RoleID

	mu       sync.Mutex
	received []protocol.RoleMessage
}

func (f *fakeRole) ID() protocol.RoleID { return f.id }

func (f *fakeRole) Handle(_ context.Context, msg protocol.RoleMessage) (*protocol.RoleResponse, error) {
	f.mu.Lock()
	f.received = append(f.received, msg)
	f.mu.Unlock()
	return &protocol.RoleResponse{
		Success:  true,
		Role:     f.id,
		TicketID: msg.TicketID,
		Action:   "handled",
		Result:   map[string]any{"from": string(f.id)},
		Message:  "handled by " + string(f.id),
		NextRole: f.next,
	}, nil
}

func (f *fakeRole) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

// fakeTable returns a table of fake roles, none of which hands off unless
// next names a follow-up for it.
func fakeTable(t *testing.T, next map[protocol.RoleID]protocol.RoleID) (Table, map[protocol.RoleID]*fakeRole) {
	t.Helper()
	fakes := map[protocol.RoleID]*fakeRole{}
	roles := make([]Role, 0, len(protocol.Roles))
	for _, id := range protocol.Roles {
		f := &fakeRole{id: id, next: next[id]}
		fakes[id] = f
		roles = append(roles, f)
	}
	table, err := NewTable(roles...)
	require.NoError(t, err)
	return table, fakes
}

// recorder collects notifier events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
