package agent

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/h1v3-io/swarm/pkg/protocol"
)

// Activity event types.
const (
	EventCycle        = "workflow_cycle"
	EventRoleStart    = "agent_start"
	EventRoleComplete = "agent_complete"
	EventHandoff      = "agent_handoff"
	EventToolCall     = "tool_call"
	EventStatusChange = "ticket_update"
)

// DefaultActivityMaxBytes is the size at which the log is rotated on open.
const DefaultActivityMaxBytes = 50 << 20

// maxArgLen caps string arguments recorded for a tool call.
const maxArgLen = 100

// ActivityLog is the audit trail of a workflow: one JSON object per line
// for every role run, handoff, tool call and ticket status change. A nil
// *ActivityLog records nothing.
type ActivityLog struct {
	path string
	file *os.File
	log  *zap.Logger
}

// OpenActivityLog opens the trail at path for appending. A file larger
// than maxBytes is first moved to path.1, replacing an older backup.
func OpenActivityLog(path string, maxBytes int64) (*ActivityLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("activity log: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultActivityMaxBytes
	}
	if fi, err := os.Stat(path); err == nil && fi.Size() > maxBytes {
		if err := os.Rename(path, path+".1"); err != nil {
			return nil, fmt.Errorf("activity log: rotate: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("activity log: %w", err)
	}

	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "type",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.Lock(f), zapcore.DebugLevel)
	return &ActivityLog{path: path, file: f, log: zap.New(core)}, nil
}

func (l *ActivityLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close flushes and closes the file.
func (l *ActivityLog) Close() error {
	if l == nil {
		return nil
	}
	_ = l.log.Sync()
	return l.file.Close()
}

func (l *ActivityLog) record(event string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.log.Info(event, fields...)
}

func optional(key, value string) zap.Field {
	if value == "" {
		return zap.Skip()
	}
	return zap.String(key, value)
}

// Cycle records the end of one workflow cycle.
func (l *ActivityLog) Cycle(n, maxCycles int, resp *protocol.RoleResponse) {
	result := ""
	if resp != nil {
		result = resp.Action
	}
	l.record(EventCycle, zap.Int("cycle", n), zap.Int("max_cycles", maxCycles), optional("result", result))
}

// RoleStart records a role picking up a message.
func (l *ActivityLog) RoleStart(msg protocol.RoleMessage) {
	l.record(EventRoleStart,
		zap.String("agent", string(msg.To)),
		optional("ticket", msg.TicketID),
		zap.String("kind", string(msg.Kind)),
		zap.String("from", string(msg.From)),
	)
}

// RoleComplete records a role's response.
func (l *ActivityLog) RoleComplete(resp *protocol.RoleResponse) {
	if resp == nil {
		return
	}
	l.record(EventRoleComplete,
		zap.String("agent", string(resp.Role)),
		optional("ticket", resp.TicketID),
		zap.String("action", resp.Action),
		zap.Bool("success", resp.Success),
		optional("message", clip(resp.Message, 200)),
	)
}

// Handoff records one role passing a ticket to the next.
func (l *ActivityLog) Handoff(from, to protocol.RoleID, ticketID, reason string) {
	l.record(EventHandoff,
		zap.String("agent", string(from)),
		zap.String("to_agent", string(to)),
		optional("ticket", ticketID),
		optional("reason", clip(reason, 100)),
	)
}

// ToolCall records one tool invocation. Long string arguments are clipped.
func (l *ActivityLog) ToolCall(role protocol.RoleID, ticketID string, inv Invocation, took time.Duration) {
	if l == nil {
		return
	}
	args := make(map[string]any, len(inv.Args))
	for k, v := range inv.Args {
		if s, ok := v.(string); ok && len(s) > maxArgLen {
			v = s[:maxArgLen] + "..."
		}
		args[k] = v
	}
	errText := ""
	if !inv.Success {
		errText = clip(inv.Result, 200)
	}
	l.record(EventToolCall,
		zap.String("agent", string(role)),
		optional("ticket", ticketID),
		zap.String("tool", inv.Tool),
		zap.Any("args", args),
		zap.Bool("success", inv.Success),
		zap.Int("retries", inv.Retries),
		optional("error", errText),
		zap.Duration("duration_ms", took),
	)
}

// StatusChange records a ticket moving between statuses.
func (l *ActivityLog) StatusChange(role protocol.RoleID, ticketID string, from, to protocol.TicketStatus) {
	l.record(EventStatusChange,
		zap.String("agent", string(role)),
		zap.String("ticket", ticketID),
		zap.String("field", "status"),
		zap.String("old", string(from)),
		zap.String("new", string(to)),
	)
}

// ActivityEvent is one decoded line of the trail.
type ActivityEvent map[string]any

func (e ActivityEvent) str(key string) string {
	s, _ := e[key].(string)
	return s
}

func (e ActivityEvent) Type() string   { return e.str("type") }
func (e ActivityEvent) Agent() string  { return e.str("agent") }
func (e ActivityEvent) Ticket() string { return e.str("ticket") }

// ActivityFilter selects events. Empty fields match everything.
type ActivityFilter struct {
	Type   string
	Agent  string
	Ticket string
}

func (f ActivityFilter) match(e ActivityEvent) bool {
	return (f.Type == "" || e.Type() == f.Type) &&
		(f.Agent == "" || e.Agent() == f.Agent) &&
		(f.Ticket == "" || e.Ticket() == f.Ticket)
}

// ReadActivity returns the last n events at path that match f, oldest
// first. n <= 0 returns every match. Malformed lines are skipped and a
// missing file yields no events.
func ReadActivity(path string, f ActivityFilter, n int) ([]ActivityEvent, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("activity log: %w", err)
	}
	defer file.Close()

	var out []ActivityEvent
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var e ActivityEvent
		if json.Unmarshal(sc.Bytes(), &e) != nil || !f.match(e) {
			continue
		}
		out = append(out, e)
		if n > 0 && len(out) > 2*n {
			out = append(out[:0], out[len(out)-n:]...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("activity log: %w", err)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
