package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/h1v3-io/swarm/internal/tool"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

// mockProvider is a test provider that returns a sequence of responses.
type mockProvider struct {
	responses []*protocol.ChatResponse
	callIdx   int
	calls     []protocol.ChatRequest // recorded requests
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Chat(_ context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	m.calls = append(m.calls, req)
	if m.callIdx >= len(m.responses) {
		return nil, fmt.Errorf("mock: no more responses (call %d)", m.callIdx)
	}
	resp := m.responses[m.callIdx]
	m.callIdx++
	return resp, nil
}

// echoTool returns its "text" parameter.
type echoTool struct{}

func (t *echoTool) Name() string        { return "echo" }
func (t *echoTool) Description() string { return "Echo text" }
func (t *echoTool) Params() []tool.Param {
	return []tool.Param{{Name: "text", Type: "string", Description: "Text to echo", Required: true}}
}
func (t *echoTool) Execute(_ context.Context, args map[string]any) (*tool.Result, error) {
	v, _ := args["text"].(string)
	return tool.Success(v), nil
}

// flakyTool fails a fixed number of times before succeeding.
type flakyTool struct {
	failures int
	calls    int
	throw    bool
}

func (t *flakyTool) Name() string         { return "flaky" }
func (t *flakyTool) Description() string  { return "Fails then succeeds" }
func (t *flakyTool) Params() []tool.Param { return nil }
func (t *flakyTool) Execute(_ context.Context, _ map[string]any) (*tool.Result, error) {
	t.calls++
	if t.calls <= t.failures {
		if t.throw {
			return nil, errors.New("disk full")
		}
		return tool.Errorf("disk full"), nil
	}
	return tool.Success("ok"), nil
}

func newTestAgent(prov *mockProvider) *Agent {
	return New(protocol.RoleSpec{ID: protocol.RoleBackendDev, Instructions: "You are a test role."}, prov, nil, nil)
}

func toolCall(id, name string, args map[string]any) *protocol.ChatResponse {
	return &protocol.ChatResponse{ToolCalls: []protocol.ToolCall{{ID: id, Name: name, Arguments: args}}}
}

func TestInvoke_DirectResponse(t *testing.T) {
	prov := &mockProvider{responses: []*protocol.ChatResponse{{Content: "Hello!"}}}
	a := newTestAgent(prov)

	out, err := a.Invoke(context.Background(), Instruction{Prompt: "Hi"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "Hello!" || out.State != StateDone {
		t.Errorf("unexpected outcome %+v", out)
	}
	msgs := prov.calls[0].Messages
	if len(msgs) != 2 || msgs[0].Role != protocol.ChatSystem || msgs[1].Role != protocol.ChatUser {
		t.Fatalf("expected system + user messages, got %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "STABILITY PROTOCOL") {
		t.Error("expected stability protocol in system prompt")
	}
	if len(prov.calls[0].Tools) != 0 {
		t.Error("expected no tools without a registry")
	}
}

func TestInvoke_ToolCallThenResponse(t *testing.T) {
	prov := &mockProvider{responses: []*protocol.ChatResponse{
		toolCall("call_1", "echo", map[string]any{"text": "world"}),
		{Content: "The echo said: world"},
	}}
	reg := tool.NewRegistry()
	reg.Register(&echoTool{})

	out, err := newTestAgent(prov).Invoke(context.Background(), Instruction{Prompt: "Echo world"}, reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "The echo said: world" {
		t.Errorf("unexpected text %q", out.Text)
	}

	// Second call: system + user + assistant(tool_calls) + tool result
	msgs := prov.calls[1].Messages
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages in second call, got %d", len(msgs))
	}
	if msgs[3].Role != protocol.ChatTool || msgs[3].Content != "world" || msgs[3].ToolCallID != "call_1" {
		t.Errorf("unexpected tool message %+v", msgs[3])
	}
	if len(out.Log) != 1 || !out.Log[0].Success || out.Log[0].Tool != "echo" || out.Log[0].Retries != 0 {
		t.Errorf("unexpected log %+v", out.Log)
	}
}

func TestInvoke_BatchRunsSequentially(t *testing.T) {
	prov := &mockProvider{responses: []*protocol.ChatResponse{
		{ToolCalls: []protocol.ToolCall{
			{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "a"}},
			{ID: "c2", Name: "echo", Arguments: map[string]any{"text": "b"}},
		}},
		{Content: "done"},
	}}
	reg := tool.NewRegistry()
	reg.Register(&echoTool{})

	out, err := newTestAgent(prov).Invoke(context.Background(), Instruction{Prompt: "go"}, reg)
	if err != nil {
		t.Fatal(err)
	}
	msgs := prov.calls[1].Messages
	if len(msgs) != 5 || msgs[3].Content != "a" || msgs[4].Content != "b" {
		t.Fatalf("expected results in call order, got %+v", msgs)
	}
	if len(out.Log) != 2 {
		t.Errorf("expected 2 log entries, got %d", len(out.Log))
	}
}

func TestInvoke_UnknownTool(t *testing.T) {
	prov := &mockProvider{responses: []*protocol.ChatResponse{
		toolCall("c1", "nonexistent", nil),
		{Content: "recovered"},
	}}
	reg := tool.NewRegistry()
	reg.Register(&echoTool{})

	out, err := newTestAgent(prov).Invoke(context.Background(), Instruction{Prompt: "try"}, reg)
	if err != nil {
		t.Fatal(err)
	}
	if got := prov.calls[1].Messages[3].Content; got != "Tool 'nonexistent' not found." {
		t.Errorf("unexpected tool content %q", got)
	}
	if out.Log[0].Success {
		t.Error("unknown tool must be logged as failure")
	}
}

func TestInvoke_ValidationFailureIsNotRetried(t *testing.T) {
	prov := &mockProvider{responses: []*protocol.ChatResponse{
		toolCall("c1", "echo", map[string]any{}),
		{Content: "ok"},
	}}
	reg := tool.NewRegistry()
	reg.Register(&echoTool{})

	out, err := newTestAgent(prov).Invoke(context.Background(), Instruction{Prompt: "go"}, reg)
	if err != nil {
		t.Fatal(err)
	}
	inv := out.Log[0]
	if inv.Success || inv.Retries != 0 || inv.Critical {
		t.Errorf("unexpected invocation %+v", inv)
	}
	if !strings.Contains(inv.Result, "Missing required parameter: text") {
		t.Errorf("unexpected result %q", inv.Result)
	}
}

func TestInvoke_RetriesThenSucceeds(t *testing.T) {
	flaky := &flakyTool{failures: 2}
	prov := &mockProvider{responses: []*protocol.ChatResponse{toolCall("c1", "flaky", nil), {Content: "ok"}}}
	reg := tool.NewRegistry()
	reg.Register(flaky)

	out, err := newTestAgent(prov).Invoke(context.Background(), Instruction{Prompt: "go"}, reg)
	if err != nil {
		t.Fatal(err)
	}
	if flaky.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", flaky.calls)
	}
	if inv := out.Log[0]; !inv.Success || inv.Retries != 2 {
		t.Errorf("unexpected invocation %+v", inv)
	}
}

func TestInvoke_CriticalFailureAfterRetries(t *testing.T) {
	for _, throw := range []bool{false, true} {
		flaky := &flakyTool{failures: 10, throw: throw}
		prov := &mockProvider{responses: []*protocol.ChatResponse{toolCall("c1", "flaky", nil), {Content: "reported"}}}
		reg := tool.NewRegistry()
		reg.Register(flaky)

		out, err := newTestAgent(prov).Invoke(context.Background(), Instruction{Prompt: "go"}, reg)
		if err != nil {
			t.Fatal(err)
		}
		if flaky.calls != 3 {
			t.Errorf("throw=%v: expected 3 attempts, got %d", throw, flaky.calls)
		}
		want := "CRITICAL_FAILURE: Tool 'flaky' failed after 3 attempts. Error: disk full\nDO NOT RETRY. Report this failure immediately to the user."
		if got := prov.calls[1].Messages[3].Content; got != want {
			t.Errorf("throw=%v: unexpected sentinel %q", throw, got)
		}
		if !out.CriticalFailure() || out.Log[0].Retries != 2 {
			t.Errorf("throw=%v: unexpected outcome %+v", throw, out.Log)
		}
	}
}

func TestInvoke_MaxRounds(t *testing.T) {
	responses := make([]*protocol.ChatResponse, 5)
	for i := range responses {
		responses[i] = toolCall("c", "echo", map[string]any{"text": "x"})
	}
	prov := &mockProvider{responses: responses}
	reg := tool.NewRegistry()
	reg.Register(&echoTool{})
	a := newTestAgent(prov)
	a.MaxRounds = 3

	out, err := a.Invoke(context.Background(), Instruction{Prompt: "loop forever"}, reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != MaxRoundsText || out.State != StateExhausted {
		t.Errorf("unexpected outcome %+v", out)
	}
	if len(prov.calls) != 3 || len(out.Log) != 3 {
		t.Errorf("expected 3 rounds and 3 invocations, got %d and %d", len(prov.calls), len(out.Log))
	}
}

func TestInvoke_ContextCancelled(t *testing.T) {
	prov := &mockProvider{responses: []*protocol.ChatResponse{{Content: "should not reach"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestAgent(prov).Invoke(ctx, Instruction{Prompt: "cancelled"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation error, got %v", err)
	}
	if len(prov.calls) != 0 {
		t.Error("expected no decision calls")
	}
}

func TestInvoke_ProviderError(t *testing.T) {
	_, err := newTestAgent(&mockProvider{}).Invoke(context.Background(), Instruction{Prompt: "x"}, nil)
	if err == nil {
		t.Fatal("expected provider error")
	}
}

func TestInvoke_ToolContext(t *testing.T) {
	var gotTicket, gotRole string
	ct := &ctxTool{fn: func(ctx context.Context) {
		gotTicket = tool.CurrentTicketFromContext(ctx)
		gotRole = tool.CurrentRoleFromContext(ctx)
	}}
	prov := &mockProvider{responses: []*protocol.ChatResponse{toolCall("c1", "whoami", nil), {Content: "ok"}}}
	reg := tool.NewRegistry()
	reg.Register(ct)

	_, err := newTestAgent(prov).Invoke(context.Background(), Instruction{Prompt: "go", Ticket: protocol.NewTicket("T-9", "x")}, reg)
	if err != nil {
		t.Fatal(err)
	}
	if gotTicket != "T-9" || gotRole != "backend_dev" {
		t.Errorf("unexpected context values %q %q", gotTicket, gotRole)
	}
}

type ctxTool struct{ fn func(context.Context) }

func (t *ctxTool) Name() string         { return "whoami" }
func (t *ctxTool) Description() string  { return "Report the call context" }
func (t *ctxTool) Params() []tool.Param { return nil }
func (t *ctxTool) Execute(ctx context.Context, _ map[string]any) (*tool.Result, error) {
	t.fn(ctx)
	return tool.Success("ok"), nil
}

func TestNew_FiltersTools(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(&echoTool{})
	reg.Register(&flakyTool{})
	a := New(protocol.RoleSpec{ID: protocol.RoleArchitect, ToolsBlacklist: []string{"flaky"}}, &mockProvider{}, reg, nil)
	if a.Tools.Has("flaky") || !a.Tools.Has("echo") {
		t.Errorf("unexpected tools %v", a.Tools.List())
	}
}
