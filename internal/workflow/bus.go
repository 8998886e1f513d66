package workflow

import (
	"fmt"
	"strings"
	"sync"

	"github.com/h1v3-io/swarm/pkg/protocol"
)

// DefaultHistoryLimit bounds the message history kept by a Bus.
const DefaultHistoryLimit = 100

// Bus records every message dispatched between roles in a bounded,
// oldest-first history.
type Bus struct {
	mu      sync.RWMutex
	history []protocol.RoleMessage
	limit   int
}

// NewBus creates a Bus keeping at most limit messages. A non-positive
// limit uses DefaultHistoryLimit.
func NewBus(limit int) *Bus {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Bus{limit: limit}
}

// Record appends msg, dropping the oldest entry once the limit is reached.
func (b *Bus) Record(msg protocol.RoleMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, msg)
	if over := len(b.history) - b.limit; over > 0 {
		b.history = append(b.history[:0:0], b.history[over:]...)
	}
}

// History returns the most recent messages, optionally filtered by ticket
// and by a role that sent or received them. limit <= 0 returns all matches.
func (b *Bus) History(ticketID string, role protocol.RoleID, limit int) []protocol.RoleMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []protocol.RoleMessage
	for _, m := range b.history {
		if ticketID != "" && m.TicketID != ticketID {
			continue
		}
		if role != "" && m.From != role && m.To != role {
			continue
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ConversationContext renders the last limit messages about a ticket, one
// per line as "[HH:MM] from -> to: content".
func (b *Bus) ConversationContext(ticketID string, limit int) string {
	if limit <= 0 {
		limit = 10
	}
	msgs := b.History(ticketID, "", limit)
	if len(msgs) == 0 {
		return "No previous messages for this ticket."
	}
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		content := m.Content
		if r := []rune(content); len(r) > 200 {
			content = string(r[:200])
		}
		lines[i] = fmt.Sprintf("[%s] %s -> %s: %s", m.Timestamp.Format("15:04"), m.From, m.To, content)
	}
	return strings.Join(lines, "\n")
}

// Len returns the number of recorded messages.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}

// Clear drops the history.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()
}
