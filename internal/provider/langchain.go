package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/h1v3-io/swarm/pkg/protocol"
)

// LangChain adapts a langchaingo model to Provider.
type LangChain struct {
	name  string
	model llms.Model
}

func NewLangChain(name string, model llms.Model) *LangChain {
	return &LangChain{name: name, model: model}
}

func (p *LangChain) Name() string { return p.name }

func (p *LangChain) Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	messages, err := toMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}

	var opts []llms.CallOption
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}
	if len(req.Tools) > 0 {
		opts = append(opts, llms.WithTools(toTools(req.Tools)))
	}

	resp, err := p.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: generate: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty response", p.name)
	}
	choice := resp.Choices[0]

	out := &protocol.ChatResponse{Content: choice.Content, Usage: usage(choice.GenerationInfo)}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, protocol.ToolCall{
			ID:           tc.ID,
			Name:         tc.FunctionCall.Name,
			Arguments:    parseArguments(tc.FunctionCall.Arguments),
			RawArguments: tc.FunctionCall.Arguments,
		})
	}
	return out, nil
}

func toMessages(in []protocol.ChatMessage) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(in))
	for _, m := range in {
		switch m.Role {
		case protocol.ChatSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case protocol.ChatUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case protocol.ChatAssistant:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" {
				mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: rawArguments(tc),
					},
				})
			}
			out = append(out, mc)
		case protocol.ChatTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       m.Name,
					Content:    m.Content,
				}},
			})
		default:
			return nil, fmt.Errorf("unknown message role %q", m.Role)
		}
	}
	return out, nil
}

func toTools(defs []protocol.ToolDefinition) []llms.Tool {
	out := make([]llms.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        d.Function.Name,
				Description: d.Function.Description,
				Parameters:  d.Function.Parameters,
			},
		})
	}
	return out
}

func rawArguments(tc protocol.ToolCall) string {
	if tc.RawArguments != "" {
		return tc.RawArguments
	}
	if tc.Arguments == nil {
		return "{}"
	}
	data, err := json.Marshal(tc.Arguments)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// parseArguments decodes the model's argument string. Malformed input
// yields an empty map; validation then reports the missing parameters.
func parseArguments(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}

func usage(info map[string]any) protocol.Usage {
	var u protocol.Usage
	u.PromptTokens = firstInt(info, "PromptTokens", "InputTokens")
	u.CompletionTokens = firstInt(info, "CompletionTokens", "OutputTokens")
	return u
}

func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
