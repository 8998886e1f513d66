package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/h1v3-io/swarm/pkg/protocol"
)

// TicketStore is the part of the ticket store the ticket tools use.
type TicketStore interface {
	Get(id string) (*protocol.Ticket, error)
	Save(t *protocol.Ticket) error
}

// TicketTools returns the ticket inspection and annotation tools.
func TicketTools(store TicketStore) []Tool {
	return []Tool{
		&GetTicketTool{Store: store},
		&AddTicketCommentTool{Store: store},
		&UpdateSubtaskTool{Store: store},
	}
}

func ticketParam() Param {
	return Param{Name: "ticket_id", Type: "string", Description: "Ticket ID (defaults to the current ticket)"}
}

func resolveTicket(ctx context.Context, store TicketStore, args map[string]any) (*protocol.Ticket, *Result) {
	id := getString(args, "ticket_id")
	if id == "" {
		id = CurrentTicketFromContext(ctx)
	}
	if id == "" {
		return nil, Errorf("ticket_id is required (no current ticket)")
	}
	tk, err := store.Get(id)
	if err != nil {
		return nil, Errorf("ticket %s: %v", id, err)
	}
	return tk, nil
}

// --- GetTicket ---

type GetTicketTool struct{ Store TicketStore }

func (t *GetTicketTool) Name() string        { return "get_ticket" }
func (t *GetTicketTool) Description() string { return "Get full ticket details as JSON" }
func (t *GetTicketTool) Params() []Param     { return []Param{ticketParam()} }

func (t *GetTicketTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	tk, failure := resolveTicket(ctx, t.Store, args)
	if failure != nil {
		return failure, nil
	}
	data, err := json.MarshalIndent(tk, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("get_ticket: marshal: %w", err)
	}
	return Success(string(data)), nil
}

// --- AddTicketComment ---

type AddTicketCommentTool struct{ Store TicketStore }

func (t *AddTicketCommentTool) Name() string        { return "add_ticket_comment" }
func (t *AddTicketCommentTool) Description() string { return "Append a comment to a ticket" }
func (t *AddTicketCommentTool) Params() []Param {
	return []Param{
		{Name: "message", Type: "string", Description: "Comment text", Required: true},
		ticketParam(),
	}
}

func (t *AddTicketCommentTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	message := getString(args, "message")
	if message == "" {
		return Errorf("add_ticket_comment: message is required"), nil
	}
	tk, failure := resolveTicket(ctx, t.Store, args)
	if failure != nil {
		return failure, nil
	}
	author := CurrentRoleFromContext(ctx)
	if author == "" {
		author = "tool"
	}
	tk.AddComment(author, message)
	if err := t.Store.Save(tk); err != nil {
		return nil, fmt.Errorf("add_ticket_comment: %w", err)
	}
	return Success(fmt.Sprintf("Comment added to %s", tk.ID)), nil
}

// --- UpdateSubtask ---

type UpdateSubtaskTool struct{ Store TicketStore }

func (t *UpdateSubtaskTool) Name() string { return "update_subtask" }
func (t *UpdateSubtaskTool) Description() string {
	return "Set a subtask's status to pending, in_progress or done"
}
func (t *UpdateSubtaskTool) Params() []Param {
	return []Param{
		{Name: "subtask_id", Type: "string", Description: "Subtask ID", Required: true},
		{Name: "status", Type: "string", Description: "pending, in_progress or done", Required: true},
		ticketParam(),
	}
}

func (t *UpdateSubtaskTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	status := protocol.SubtaskStatus(getString(args, "status"))
	switch status {
	case protocol.SubtaskPending, protocol.SubtaskInProgress, protocol.SubtaskDone:
	default:
		return Errorf("update_subtask: invalid status %q", status), nil
	}
	tk, failure := resolveTicket(ctx, t.Store, args)
	if failure != nil {
		return failure, nil
	}
	id := getString(args, "subtask_id")
	if !tk.MarkSubtask(id, status) {
		return Errorf("update_subtask: subtask %q not found on %s", id, tk.ID), nil
	}
	if err := t.Store.Save(tk); err != nil {
		return nil, fmt.Errorf("update_subtask: %w", err)
	}
	return Success(fmt.Sprintf("Subtask %s on %s is now %s", id, tk.ID, status)), nil
}
