package protocol

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind tags the intent of a message passed between roles.
type MessageKind string

const (
	KindTask     MessageKind = "task"
	KindResponse MessageKind = "response"
	KindQuestion MessageKind = "question"
	KindUpdate   MessageKind = "update"
	KindHandoff  MessageKind = "handoff"
)

// RoleMessage is the envelope passed from one role to another.
type RoleMessage struct {
	ID        string         `json:"id"`
	From      RoleID         `json:"from"`
	To        RoleID         `json:"to"`
	Kind      MessageKind    `json:"kind"`
	TicketID  string         `json:"ticket_id,omitempty"`
	Content   string         `json:"content"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewRoleMessage stamps a message with a fresh id and the current time.
func NewRoleMessage(from, to RoleID, kind MessageKind, ticketID, content string) RoleMessage {
	return RoleMessage{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Kind:      kind,
		TicketID:  ticketID,
		Content:   content,
		Context:   map[string]any{},
		Timestamp: time.Now().UTC(),
	}
}

// RoleResponse is what every role returns from handling a message.
// NextRole, when set, is the only thing that continues a handoff chain.
type RoleResponse struct {
	Success  bool           `json:"success"`
	Role     RoleID         `json:"role"`
	TicketID string         `json:"ticket_id,omitempty"`
	Action   string         `json:"action"`
	Result   map[string]any `json:"result,omitempty"`
	NextRole RoleID         `json:"next_role,omitempty"`
	Message  string         `json:"message"`
}

// HasNext reports whether the response hands off to another role.
func (r *RoleResponse) HasNext() bool {
	return r != nil && r.NextRole != ""
}
