package tool

import "context"

type contextKey string

const (
	ticketKey = contextKey("current_ticket_id")
	roleKey   = contextKey("current_role")
)

// WithCurrentTicket returns a context with the current ticket ID set.
func WithCurrentTicket(ctx context.Context, ticketID string) context.Context {
	return context.WithValue(ctx, ticketKey, ticketID)
}

// CurrentTicketFromContext returns the ticket ID from the context, if any.
func CurrentTicketFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ticketKey).(string); ok {
		return v
	}
	return ""
}

// WithCurrentRole records which role is running tools in ctx.
func WithCurrentRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

// CurrentRoleFromContext returns the role set by WithCurrentRole, if any.
func CurrentRoleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(roleKey).(string); ok {
		return v
	}
	return ""
}
