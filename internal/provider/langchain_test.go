package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/h1v3-io/swarm/pkg/protocol"
)

// fakeModel records what it was asked and returns a canned response.
type fakeModel struct {
	resp     *llms.ContentResponse
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChainChat_TextResponse(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        "Hello!",
		GenerationInfo: map[string]any{"PromptTokens": 10, "CompletionTokens": 5},
	}}}}
	p := NewLangChain("openai", m)

	got, err := p.Chat(context.Background(), protocol.ChatRequest{
		Model:       "gpt-4o",
		Temperature: 0.3,
		Messages: []protocol.ChatMessage{
			{Role: protocol.ChatSystem, Content: "be brief"},
			{Role: protocol.ChatUser, Content: "Hi"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "Hello!" || got.HasToolCalls() {
		t.Errorf("unexpected response: %+v", got)
	}
	if got.Usage.TotalTokens() != 15 {
		t.Errorf("expected 15 total tokens, got %d", got.Usage.TotalTokens())
	}
	if m.opts.Model != "gpt-4o" || m.opts.Temperature != 0.3 {
		t.Errorf("options not forwarded: %+v", m.opts)
	}
	if len(m.messages) != 2 || m.messages[0].Role != llms.ChatMessageTypeSystem || m.messages[1].Role != llms.ChatMessageTypeHuman {
		t.Errorf("unexpected messages: %+v", m.messages)
	}
	if len(m.opts.Tools) != 0 {
		t.Error("expected no tools")
	}
}

func TestLangChainChat_ToolRoundTrip(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:           "call_2",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: "read_file", Arguments: `{"path":"main.go"}`},
		}},
		GenerationInfo: map[string]any{"InputTokens": 7, "OutputTokens": 3},
	}}}}
	p := NewLangChain("anthropic", m)

	schema := map[string]any{"type": "object", "properties": map[string]any{}}
	got, err := p.Chat(context.Background(), protocol.ChatRequest{
		Messages: []protocol.ChatMessage{
			{Role: protocol.ChatUser, Content: "look"},
			{Role: protocol.ChatAssistant, ToolCalls: []protocol.ToolCall{
				{ID: "call_1", Name: "git_status", Arguments: map[string]any{}},
			}},
			{Role: protocol.ChatTool, ToolCallID: "call_1", Name: "git_status", Content: "clean"},
		},
		Tools: []protocol.ToolDefinition{protocol.NewToolDefinition("read_file", "Read a file", schema)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(got.ToolCalls))
	}
	tc := got.ToolCalls[0]
	if tc.ID != "call_2" || tc.Name != "read_file" || tc.Arguments["path"] != "main.go" {
		t.Errorf("unexpected tool call: %+v", tc)
	}
	if got.Usage.TotalTokens() != 10 {
		t.Errorf("expected 10 total tokens, got %d", got.Usage.TotalTokens())
	}

	if len(m.opts.Tools) != 1 || m.opts.Tools[0].Function.Name != "read_file" {
		t.Errorf("tools not forwarded: %+v", m.opts.Tools)
	}
	ai := m.messages[1]
	call, ok := ai.Parts[0].(llms.ToolCall)
	if ai.Role != llms.ChatMessageTypeAI || !ok || call.FunctionCall.Arguments != "{}" {
		t.Errorf("unexpected assistant message: %+v", ai)
	}
	toolMsg := m.messages[2]
	resp, ok := toolMsg.Parts[0].(llms.ToolCallResponse)
	if toolMsg.Role != llms.ChatMessageTypeTool || !ok || resp.ToolCallID != "call_1" || resp.Content != "clean" {
		t.Errorf("unexpected tool message: %+v", toolMsg)
	}
}

func TestLangChainChat_MalformedArguments(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{ID: "c", FunctionCall: &llms.FunctionCall{Name: "x", Arguments: "{not json"}}},
	}}}}
	got, err := NewLangChain("openai", m).Chat(context.Background(), protocol.ChatRequest{
		Messages: []protocol.ChatMessage{{Role: protocol.ChatUser, Content: "go"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.ToolCalls[0].Arguments) != 0 || got.ToolCalls[0].RawArguments != "{not json" {
		t.Errorf("unexpected arguments: %+v", got.ToolCalls[0])
	}
}

func TestLangChainChat_Errors(t *testing.T) {
	p := NewLangChain("openai", &fakeModel{err: errors.New("rate limited")})
	if _, err := p.Chat(context.Background(), protocol.ChatRequest{}); err == nil {
		t.Error("expected generate error")
	}

	p = NewLangChain("openai", &fakeModel{resp: &llms.ContentResponse{}})
	if _, err := p.Chat(context.Background(), protocol.ChatRequest{}); err == nil {
		t.Error("expected empty response error")
	}

	_, err := p.Chat(context.Background(), protocol.ChatRequest{
		Messages: []protocol.ChatMessage{{Role: "narrator", Content: "?"}},
	})
	if err == nil {
		t.Error("expected unknown role error")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	if _, err := New(Config{Provider: "gemini", APIKey: "k"}); err == nil {
		t.Error("expected unsupported provider error")
	}
	p, err := New(Config{Provider: "anthropic", APIKey: "k", Model: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("expected anthropic, got %s", p.Name())
	}
}
