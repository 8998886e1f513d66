package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/h1v3-io/swarm/internal/tool"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

// LoopState is the state of one Invoke run.
type LoopState string

const (
	StateAwaitingDecision LoopState = "awaiting_decision"
	StateExecutingBatch   LoopState = "executing_batch"
	StateDone             LoopState = "done"
	StateExhausted        LoopState = "exhausted"
)

// MaxRoundsText is the outcome text when the round budget runs out.
const MaxRoundsText = "Max tool iterations reached"

// Instruction is what a role asks of the decision service.
type Instruction struct {
	Prompt  string
	Ticket  *protocol.Ticket
	Extra   string // additional context block
	History string // rendered conversation for the ticket
}

// Invocation records one tool call made during a run.
type Invocation struct {
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args"`
	Result  string         `json:"result"`
	Success bool           `json:"success"`
	Retries int            `json:"retries"`
	// Critical is set when every attempt failed.
	Critical bool `json:"critical,omitempty"`
}

// Outcome is the result of a run.
type Outcome struct {
	Text  string
	Log   []Invocation
	State LoopState
	Usage protocol.Usage
}

// CriticalFailure reports whether any tool exhausted its retries.
func (o Outcome) CriticalFailure() bool {
	for _, inv := range o.Log {
		if inv.Critical {
			return true
		}
	}
	return false
}

// Failed returns the invocations that did not succeed.
func (o Outcome) Failed() []Invocation {
	var out []Invocation
	for _, inv := range o.Log {
		if !inv.Success {
			out = append(out, inv)
		}
	}
	return out
}

// Invoke runs the tool-invocation loop. With a nil or empty registry it
// makes a single decision call. Tool failures never end the run; they are
// reported back to the decision service.
func (a *Agent) Invoke(ctx context.Context, in Instruction, reg *tool.Registry) (Outcome, error) {
	if in.Ticket != nil {
		ctx = tool.WithCurrentTicket(ctx, in.Ticket.ID)
	}
	ctx = tool.WithCurrentRole(ctx, string(a.Spec.ID))

	messages := []protocol.ChatMessage{
		{Role: protocol.ChatSystem, Content: a.SystemPrompt(reg)},
		{Role: protocol.ChatUser, Content: userMessage(in)},
	}
	var defs []protocol.ToolDefinition
	if reg != nil {
		defs = reg.Definitions()
	}

	var (
		out     = Outcome{State: StateAwaitingDecision}
		pending []protocol.ToolCall
		rounds  int
	)
	for {
		switch out.State {
		case StateAwaitingDecision:
			if rounds >= a.maxRounds() {
				out.State = StateExhausted
				continue
			}
			if err := ctx.Err(); err != nil {
				return out, fmt.Errorf("%s: %w", a.Spec.ID, err)
			}
			rounds++
			a.Logger.Debugw("decision request", "round", rounds, "messages", len(messages))

			resp, err := a.Provider.Chat(ctx, protocol.ChatRequest{
				Model:       a.Spec.Model,
				Messages:    messages,
				Tools:       defs,
				Temperature: a.Spec.Temperature,
				MaxTokens:   a.MaxTokens,
			})
			if err != nil {
				return out, fmt.Errorf("%s: decision service: %w", a.Spec.ID, err)
			}
			out.Usage.PromptTokens += resp.Usage.PromptTokens
			out.Usage.CompletionTokens += resp.Usage.CompletionTokens

			if !resp.HasToolCalls() || len(defs) == 0 {
				out.Text = resp.Content
				out.State = StateDone
				continue
			}
			messages = append(messages, protocol.ChatMessage{
				Role:      protocol.ChatAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			pending = resp.ToolCalls
			out.State = StateExecutingBatch

		case StateExecutingBatch:
			for _, tc := range pending {
				start := time.Now()
				inv := a.invoke(ctx, reg, tc)
				a.Activity.ToolCall(a.Spec.ID, tool.CurrentTicketFromContext(ctx), inv, time.Since(start))
				out.Log = append(out.Log, inv)
				messages = append(messages, protocol.ChatMessage{
					Role:       protocol.ChatTool,
					Content:    inv.Result,
					ToolCallID: tc.ID,
					Name:       tc.Name,
				})
			}
			pending = nil
			out.State = StateAwaitingDecision

		case StateDone:
			return out, nil

		case StateExhausted:
			a.Logger.Warnw("tool rounds exhausted", "rounds", rounds, "invocations", len(out.Log))
			out.Text = MaxRoundsText
			return out, nil
		}
	}
}

// invoke validates and executes one tool call, retrying failures.
func (a *Agent) invoke(ctx context.Context, reg *tool.Registry, tc protocol.ToolCall) Invocation {
	inv := Invocation{Tool: tc.Name, Args: tc.Arguments}
	if inv.Args == nil {
		inv.Args = map[string]any{}
	}

	t, ok := reg.Get(tc.Name)
	if !ok {
		inv.Result = fmt.Sprintf("Tool '%s' not found.", tc.Name)
		a.Logger.Warnw("unknown tool requested", "tool", tc.Name)
		return inv
	}
	if err := tool.Validate(t, inv.Args); err != nil {
		inv.Result = tool.Errorf("Invalid arguments: %v", err).Text()
		a.Logger.Warnw("tool arguments rejected", "tool", tc.Name, "error", err)
		return inv
	}

	a.Logger.Infow("tool call", "tool", tc.Name, "call_id", tc.ID)
	retries := a.toolRetries()
	var lastErr string
	for attempt := 0; attempt <= retries; attempt++ {
		inv.Retries = attempt
		res, err := tool.Run(ctx, t, inv.Args)
		if err == nil && res.OK() {
			inv.Result = res.Text()
			inv.Success = true
			a.Logger.Infow("tool result", "tool", tc.Name, "result_len", len(inv.Result), "retries", attempt)
			return inv
		}
		lastErr = failureText(res, err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt < retries {
			a.Logger.Warnw("tool failed, retrying", "tool", tc.Name, "attempt", attempt+1, "of", retries+1, "error", lastErr)
		}
	}

	res := Critical(tc.Name, inv.Retries+1, lastErr)
	inv.Result = res.Text()
	inv.Critical = res.Exhausted
	a.Logger.Errorw("tool failed after retries", "tool", tc.Name, "attempts", inv.Retries+1, "error", lastErr)
	return inv
}

// Critical builds the result reported once every attempt has failed.
func Critical(name string, attempts int, lastErr string) *tool.Result {
	return &tool.Result{
		Status: tool.StatusError,
		Error: fmt.Sprintf("CRITICAL_FAILURE: Tool '%s' failed after %d attempts. Error: %s\n"+
			"DO NOT RETRY. Report this failure immediately to the user.", name, attempts, lastErr),
		Exhausted: true,
	}
}

func failureText(res *tool.Result, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case res == nil:
		return "tool returned no result"
	case res.Error != "":
		return res.Error
	default:
		return res.Text()
	}
}
