package ticket

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/h1v3-io/swarm/pkg/protocol"
)

// ErrNotFound is returned when a ticket id is unknown.
var ErrNotFound = errors.New("ticket not found")

// ErrExists is returned by Create when the id is already taken.
var ErrExists = errors.New("ticket already exists")

// Store is the persistence interface for tickets.
type Store interface {
	// Get retrieves a ticket by ID, including its comments.
	Get(id string) (*protocol.Ticket, error)
	// Save creates or updates a ticket. Insertion order survives updates.
	Save(t *protocol.Ticket) error
	// Create inserts a new ticket and fails with ErrExists on a duplicate id.
	Create(t *protocol.Ticket) error
	// List returns tickets matching the filter in selection order.
	List(filter Filter) ([]*protocol.Ticket, error)
	// ByStatus returns tickets with the given status in selection order.
	ByStatus(status protocol.TicketStatus) ([]*protocol.Ticket, error)
	// NextForRefinement returns the first backlog ticket without acceptance
	// criteria, or nil.
	NextForRefinement() (*protocol.Ticket, error)
	// NextForWork returns the first planned ticket that can start, or nil.
	NextForWork() (*protocol.Ticket, error)
	// Delete removes a ticket and its comments.
	Delete(id string) error
}

// Filter constrains ticket list queries.
type Filter struct {
	Status   *protocol.TicketStatus
	Assignee protocol.RoleID // matches implementation.assigned_to
	Query    string          // text search on title and description
	Limit    int             // 0 = no limit
}

// NewID returns a short random ticket id like "T-1A2B3C4D".
func NewID() string {
	return "T-" + strings.ToUpper(uuid.NewString()[:8])
}
