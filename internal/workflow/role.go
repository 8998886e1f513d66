// Package workflow drives tickets through the role workflow: the role
// handlers, the router that selects work and chains handoffs, and the
// orchestrator that wires them to the store, the tools and MCP servers.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/h1v3-io/swarm/internal/agent"
	"github.com/h1v3-io/swarm/internal/ticket"
	"github.com/h1v3-io/swarm/internal/tool"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

// Driver is the sender of messages that do not come from a role.
const Driver protocol.RoleID = "orchestrator"

var (
	// ErrUnknownRole is returned for a role id outside the closed role set.
	ErrUnknownRole = errors.New("unknown role")
	// ErrMissingRole is returned when the role table lacks a handler.
	ErrMissingRole = errors.New("missing role")
)

// Role handles messages addressed to one workflow role. A returned error
// means something unexpected happened; expected failures are responses
// with Success set to false.
type Role interface {
	ID() protocol.RoleID
	Handle(ctx context.Context, msg protocol.RoleMessage) (*protocol.RoleResponse, error)
}

// Table maps every role id to its handler.
type Table map[protocol.RoleID]Role

// NewTable builds a Table and checks it covers exactly the closed role set.
func NewTable(roles ...Role) (Table, error) {
	t := make(Table, len(roles))
	for _, r := range roles {
		id := r.ID()
		if !id.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRole, id)
		}
		if _, dup := t[id]; dup {
			return nil, fmt.Errorf("role %s registered twice", id)
		}
		t[id] = r
	}
	for _, id := range protocol.Roles {
		if _, ok := t[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingRole, id)
		}
	}
	return t, nil
}

// Settings are the knobs shared by every role handler.
type Settings struct {
	// TestCommand is run through run_command after implementation and
	// before validation. Empty skips test runs.
	TestCommand string
}

// base carries what every role handler needs.
type base struct {
	agent    *agent.Agent
	store    ticket.Store
	bus      *Bus
	log      *zap.SugaredLogger
	settings Settings
}

func newBase(a *agent.Agent, store ticket.Store, bus *Bus, settings Settings) base {
	return base{agent: a, store: store, bus: bus, log: a.Logger, settings: settings}
}

func (b *base) ID() protocol.RoleID { return b.agent.ID() }

type processor interface {
	process(ctx context.Context, msg protocol.RoleMessage) (*protocol.RoleResponse, error)
}

// handoffHandler is implemented by roles that treat handoffs differently
// from tasks.
type handoffHandler interface {
	handoff(ctx context.Context, msg protocol.RoleMessage) (*protocol.RoleResponse, error)
}

type questionAnswerer interface {
	answer(ctx context.Context, msg protocol.RoleMessage) (*protocol.RoleResponse, error)
}

// dispatch routes msg by kind: tasks are processed, questions answered,
// handoffs handed to the role (processed by default) and updates
// acknowledged.
func (b *base) dispatch(ctx context.Context, msg protocol.RoleMessage, p processor) (*protocol.RoleResponse, error) {
	b.log.Infow("role start", "kind", msg.Kind, "ticket", msg.TicketID, "from", msg.From)

	var (
		resp *protocol.RoleResponse
		err  error
	)
	switch msg.Kind {
	case protocol.KindTask:
		resp, err = p.process(ctx, msg)
	case protocol.KindQuestion:
		if qa, ok := p.(questionAnswerer); ok {
			resp, err = qa.answer(ctx, msg)
		} else {
			resp, err = b.answer(ctx, msg)
		}
	case protocol.KindHandoff:
		if h, ok := p.(handoffHandler); ok {
			resp, err = h.handoff(ctx, msg)
		} else {
			resp, err = p.process(ctx, msg)
		}
	default:
		resp = b.respond(msg.TicketID, "update_acknowledged", fmt.Sprintf("Update from %s received.", msg.From))
	}
	if err != nil {
		return nil, err
	}
	if resp != nil {
		b.log.Infow("role complete", "action", resp.Action, "success", resp.Success, "next", resp.NextRole)
	}
	return resp, nil
}

// answer replies to a question with a single decision call.
func (b *base) answer(ctx context.Context, msg protocol.RoleMessage) (*protocol.RoleResponse, error) {
	var t *protocol.Ticket
	if msg.TicketID != "" {
		t, _ = b.store.Get(msg.TicketID)
	}
	text, err := b.agent.Ask(ctx, b.instruction(fmt.Sprintf("Question from %s: %s", msg.From, msg.Content), t))
	if err != nil {
		return nil, err
	}
	resp := b.respond(msg.TicketID, "question_answered", text)
	resp.Result = map[string]any{"answer": text}
	return resp, nil
}

func (b *base) respond(ticketID, action, message string) *protocol.RoleResponse {
	return &protocol.RoleResponse{
		Success:  true,
		Role:     b.ID(),
		TicketID: ticketID,
		Action:   action,
		Result:   map[string]any{},
		Message:  message,
	}
}

func (b *base) fail(ticketID, action, format string, args ...any) *protocol.RoleResponse {
	resp := b.respond(ticketID, action, fmt.Sprintf(format, args...))
	resp.Success = false
	return resp
}

// loadTicket resolves the message's ticket. A missing id or ticket yields
// a failed response with the given action instead of an error.
func (b *base) loadTicket(msg protocol.RoleMessage, failAction string) (*protocol.Ticket, *protocol.RoleResponse, error) {
	if msg.TicketID == "" {
		return nil, b.fail("", failAction, "No ticket id given."), nil
	}
	t, err := b.store.Get(msg.TicketID)
	if errors.Is(err, ticket.ErrNotFound) {
		return nil, b.fail(msg.TicketID, failAction, "Ticket %s not found.", msg.TicketID), nil
	}
	if err != nil {
		return nil, nil, err
	}
	return t, nil, nil
}

// reload re-reads t after a tool loop, since ticket tools save directly.
func (b *base) reload(t *protocol.Ticket) (*protocol.Ticket, error) {
	fresh, err := b.store.Get(t.ID)
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

func (b *base) save(t *protocol.Ticket) error {
	if err := b.store.Save(t); err != nil {
		return fmt.Errorf("%s: %w", b.ID(), err)
	}
	return nil
}

func (b *base) instruction(prompt string, t *protocol.Ticket) agent.Instruction {
	in := agent.Instruction{Prompt: prompt, Ticket: t}
	if t != nil && b.bus != nil {
		in.History = b.bus.ConversationContext(t.ID, 10)
	}
	return in
}

// callJSON asks for a JSON answer. Malformed output is reported as
// ok=false so the caller can fail the response rather than the cycle.
func (b *base) callJSON(ctx context.Context, in agent.Instruction, v any) (ok bool, err error) {
	err = b.agent.CallJSON(ctx, in, v)
	if errors.Is(err, agent.ErrMalformedOutput) {
		b.log.Warnw("decision output rejected", "error", err)
		return false, nil
	}
	return err == nil, err
}

// runTests runs the configured test command and summarizes the outcome.
func (b *base) runTests(ctx context.Context) map[string]any {
	tools := b.agent.Tools
	switch {
	case b.settings.TestCommand == "":
		return map[string]any{"passed": false, "skipped": true, "message": "No test command configured"}
	case tools == nil || !tools.Has("run_command"):
		return map[string]any{"passed": false, "skipped": true, "message": "run_command tool not available"}
	}

	res, err := tools.Execute(ctx, "run_command", map[string]any{"command": b.settings.TestCommand, "timeout": 120})
	switch {
	case err != nil:
		return map[string]any{"passed": false, "skipped": true, "error": err.Error(), "message": "Tests could not be run"}
	case res == nil:
		return map[string]any{"passed": false, "skipped": true, "message": "Tests could not be run"}
	case res.OK():
		return map[string]any{"passed": true, "skipped": false, "output": truncate(res.Text(), 2000), "message": "All tests passed"}
	case res.Status == tool.StatusPartial:
		return map[string]any{
			"passed": false, "skipped": false, "output": truncate(res.Text(), 2000),
			"exit_code": res.Metadata["exit_code"], "message": "Some tests failed",
		}
	default:
		return map[string]any{"passed": false, "skipped": true, "error": res.Error, "message": "Tests could not be run"}
	}
}

func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	m := map[string]any{}
	json.Unmarshal(data, &m)
	return m
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// stringList reads a list of strings from a loosely typed context value.
func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			switch it := item.(type) {
			case string:
				out = append(out, it)
			case map[string]any:
				if m, ok := it["message"].(string); ok {
					out = append(out, m)
				}
			}
		}
		return out
	}
	return nil
}

// containsAny reports whether s contains any of the keywords, ignoring case.
func containsAny(s string, keywords []string) bool {
	s = strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// containsWord reports whether s has one of keywords as a whole word, or
// as a word with a trailing plural "s".
func containsWord(s string, keywords []string) bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		for _, kw := range keywords {
			if w == kw || w == kw+"s" {
				return true
			}
		}
	}
	return false
}
