package ticket

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/h1v3-io/swarm/pkg/protocol"
)

// SQLiteStore implements Store using SQLite. The ticket body is stored as
// JSON next to the columns used for filtering and ordering.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ticket store: open: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ticket store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tickets (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'backlog',
			priority    TEXT NOT NULL DEFAULT 'medium',
			assignee    TEXT NOT NULL DEFAULT '',
			body        TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ticket_comments (
			ticket_id TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
			pos       INTEGER NOT NULL,
			agent     TEXT NOT NULL,
			message   TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			PRIMARY KEY (ticket_id, pos)
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
		CREATE INDEX IF NOT EXISTS idx_tickets_assignee ON tickets(assignee);
	`)
	if err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Save(t *protocol.Ticket) error {
	return s.write(t, `
		INSERT INTO tickets (id, title, description, status, priority, assignee, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, description=excluded.description, status=excluded.status,
			priority=excluded.priority, assignee=excluded.assignee, body=excluded.body,
			updated_at=excluded.updated_at
	`, "save")
}

func (s *SQLiteStore) Create(t *protocol.Ticket) error {
	err := s.write(t, `
		INSERT INTO tickets (id, title, description, status, priority, assignee, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, "create")
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("ticket %q: %w", t.ID, ErrExists)
	}
	return err
}

func (s *SQLiteStore) write(t *protocol.Ticket, stmt, op string) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("ticket store: %s: ticket id is required", op)
	}
	t.Normalize()

	// Comments live in their own table.
	body := *t
	body.Comments = nil
	data, err := json.Marshal(&body)
	if err != nil {
		return fmt.Errorf("ticket store: %s: encode: %w", op, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("ticket store: %s: %w", op, err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(stmt, t.ID, t.Title, t.Description, string(t.Status), string(t.Priority),
		string(t.Implementation.AssignedTo), string(data),
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("ticket store: %s: %w", op, err)
	}

	if _, err := tx.Exec(`DELETE FROM ticket_comments WHERE ticket_id = ?`, t.ID); err != nil {
		return fmt.Errorf("ticket store: %s comments: %w", op, err)
	}
	for i, c := range t.Comments {
		_, err := tx.Exec(`INSERT INTO ticket_comments (ticket_id, pos, agent, message, timestamp) VALUES (?, ?, ?, ?, ?)`,
			t.ID, i, c.Agent, c.Message, c.Timestamp.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("ticket store: %s comments: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ticket store: %s: %w", op, err)
	}
	return nil
}

func (s *SQLiteStore) Get(id string) (*protocol.Ticket, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM tickets WHERE id = ?`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ticket %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}
	t, err := decodeTicket(body)
	if err != nil {
		return nil, err
	}
	if t.Comments, err = s.loadComments(id); err != nil {
		return nil, err
	}
	return t, nil
}

// selectionOrder sorts by priority rank, then insertion order.
const selectionOrder = ` ORDER BY CASE priority
	WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'low' THEN 3 ELSE 2 END, seq`

func (s *SQLiteStore) List(filter Filter) ([]*protocol.Ticket, error) {
	query := "SELECT id, body FROM tickets WHERE 1=1"
	var args []any

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.Assignee != "" {
		query += " AND assignee = ?"
		args = append(args, string(filter.Assignee))
	}
	if filter.Query != "" {
		query += " AND (title LIKE ? OR description LIKE ?)"
		pattern := fmt.Sprintf("%%%s%%", filter.Query)
		args = append(args, pattern, pattern)
	}
	query += selectionOrder
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list: %w", err)
	}

	var tickets []*protocol.Ticket
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			rows.Close()
			return nil, fmt.Errorf("ticket store: list scan: %w", err)
		}
		t, err := decodeTicket(body)
		if err != nil {
			rows.Close()
			return nil, err
		}
		tickets = append(tickets, t)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("ticket store: list: %w", err)
	}

	// Comments are loaded after the cursor is closed; the store holds one connection.
	for _, t := range tickets {
		if t.Comments, err = s.loadComments(t.ID); err != nil {
			return nil, err
		}
	}
	return tickets, nil
}

func (s *SQLiteStore) ByStatus(status protocol.TicketStatus) ([]*protocol.Ticket, error) {
	return s.List(Filter{Status: &status})
}

func (s *SQLiteStore) NextForRefinement() (*protocol.Ticket, error) {
	return s.first(protocol.StatusBacklog, func(t *protocol.Ticket) bool {
		return len(t.AcceptanceCriteria) == 0
	})
}

func (s *SQLiteStore) NextForWork() (*protocol.Ticket, error) {
	return s.first(protocol.StatusPlanned, (*protocol.Ticket).CanStart)
}

func (s *SQLiteStore) first(status protocol.TicketStatus, ok func(*protocol.Ticket) bool) (*protocol.Ticket, error) {
	tickets, err := s.ByStatus(status)
	if err != nil {
		return nil, err
	}
	for _, t := range tickets {
		if ok(t) {
			return t, nil
		}
	}
	return nil, nil
}

func (s *SQLiteStore) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("ticket store: delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ticket_comments WHERE ticket_id = ?`, id); err != nil {
		return fmt.Errorf("ticket store: delete comments: %w", err)
	}
	result, err := tx.Exec(`DELETE FROM tickets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("ticket store: delete: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("ticket %q: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// --- helpers ---

func (s *SQLiteStore) loadComments(ticketID string) ([]protocol.Comment, error) {
	rows, err := s.db.Query(`SELECT agent, message, timestamp FROM ticket_comments WHERE ticket_id = ? ORDER BY pos`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("ticket store: load comments: %w", err)
	}
	defer rows.Close()

	var comments []protocol.Comment
	for rows.Next() {
		var c protocol.Comment
		var ts string
		if err := rows.Scan(&c.Agent, &c.Message, &ts); err != nil {
			return nil, fmt.Errorf("ticket store: scan comment: %w", err)
		}
		c.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func decodeTicket(body string) (*protocol.Ticket, error) {
	var t protocol.Ticket
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return nil, fmt.Errorf("ticket store: decode: %w", err)
	}
	return &t, nil
}
