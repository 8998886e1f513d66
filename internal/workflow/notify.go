package workflow

import (
	"context"

	"github.com/h1v3-io/swarm/pkg/protocol"
)

// Event describes a ticket reaching Blocked or Done.
type Event struct {
	Ticket   *protocol.Ticket
	Previous protocol.TicketStatus
	Role     protocol.RoleID // role whose handling caused the change
	Reason   string
}

// Notifier is told about Blocked and Done transitions. Errors are logged
// and never affect the workflow.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }
