package protocol

import (
	"slices"
	"time"
)

// TicketStatus represents the lifecycle state of a ticket.
type TicketStatus string

const (
	StatusBacklog    TicketStatus = "backlog"
	StatusRefined    TicketStatus = "refined"
	StatusPlanned    TicketStatus = "planned"
	StatusInProgress TicketStatus = "in_progress"
	StatusReview     TicketStatus = "review"
	StatusDone       TicketStatus = "done"
	StatusBlocked    TicketStatus = "blocked"
)

// Statuses lists every status in lifecycle order, Blocked last.
var Statuses = []TicketStatus{
	StatusBacklog,
	StatusRefined,
	StatusPlanned,
	StatusInProgress,
	StatusReview,
	StatusDone,
	StatusBlocked,
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool { return slices.Contains(Statuses, s) }

// Terminal reports whether no further transitions are expected.
func (s TicketStatus) Terminal() bool { return s == StatusDone }

// Priority orders tickets during selection.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the sort key for p: critical=0 through low=3.
// Unknown priorities sort with medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// TicketType classifies the kind of work.
type TicketType string

const (
	TypeFeature  TicketType = "feature"
	TypeBug      TicketType = "bug"
	TypeRefactor TicketType = "refactor"
	TypeChore    TicketType = "chore"
	TypeSpike    TicketType = "spike"
)

// SubtaskStatus is the progress marker of a single subtask.
type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "pending"
	SubtaskInProgress SubtaskStatus = "in_progress"
	SubtaskDone       SubtaskStatus = "done"
)

type UserStory struct {
	AsA    string `json:"as_a" yaml:"as_a"`
	IWant  string `json:"i_want" yaml:"i_want"`
	SoThat string `json:"so_that" yaml:"so_that"`
}

// Empty reports whether no part of the story is filled in.
func (u *UserStory) Empty() bool {
	return u == nil || (u.AsA == "" && u.IWant == "" && u.SoThat == "")
}

type RelatedFile struct {
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
}

type TechnicalContext struct {
	AffectedAreas       []string      `json:"affected_areas" yaml:"affected_areas"`
	Dependencies        []string      `json:"dependencies" yaml:"dependencies"`
	RelatedFiles        []RelatedFile `json:"related_files" yaml:"related_files"`
	ImplementationNotes string        `json:"implementation_notes,omitempty" yaml:"implementation_notes,omitempty"`
}

type Estimation struct {
	StoryPoints int    `json:"story_points,omitempty" yaml:"story_points,omitempty"`
	Complexity  string `json:"complexity,omitempty" yaml:"complexity,omitempty"`
}

type Dependencies struct {
	BlockedBy []string `json:"blocked_by" yaml:"blocked_by"`
	Blocks    []string `json:"blocks" yaml:"blocks"`
}

type Subtask struct {
	ID          string        `json:"id" yaml:"id"`
	Description string        `json:"description" yaml:"description"`
	Status      SubtaskStatus `json:"status" yaml:"status"`
}

type Implementation struct {
	AssignedTo RoleID    `json:"assigned_to,omitempty" yaml:"assigned_to,omitempty"`
	Branch     string    `json:"branch,omitempty" yaml:"branch,omitempty"`
	Commits    []string  `json:"commits" yaml:"commits"`
	Subtasks   []Subtask `json:"subtasks" yaml:"subtasks"`
}

type Comment struct {
	Agent     string    `json:"agent" yaml:"agent"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Message   string    `json:"message" yaml:"message"`
}

// Ticket is a unit of work moving through the workflow.
type Ticket struct {
	ID                 string           `json:"id" yaml:"id"`
	Type               TicketType       `json:"type" yaml:"type"`
	Title              string           `json:"title" yaml:"title"`
	Description        string           `json:"description,omitempty" yaml:"description,omitempty"`
	Priority           Priority         `json:"priority" yaml:"priority"`
	Status             TicketStatus     `json:"status" yaml:"status"`
	AcceptanceCriteria []string         `json:"acceptance_criteria" yaml:"acceptance_criteria"`
	UserStory          *UserStory       `json:"user_story,omitempty" yaml:"user_story,omitempty"`
	TechnicalContext   TechnicalContext `json:"technical_context" yaml:"technical_context"`
	Estimation         Estimation       `json:"estimation" yaml:"estimation"`
	Dependencies       Dependencies     `json:"dependencies" yaml:"dependencies"`
	Implementation     Implementation   `json:"implementation" yaml:"implementation"`
	Comments           []Comment        `json:"comments" yaml:"comments"`
	CreatedBy          string           `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	Sprint             string           `json:"sprint,omitempty" yaml:"sprint,omitempty"`
	CreatedAt          time.Time        `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" yaml:"updated_at"`
}

// NewTicket returns a backlog ticket with default priority and type.
func NewTicket(id, title string) *Ticket {
	now := time.Now().UTC()
	return &Ticket{
		ID:        id,
		Type:      TypeFeature,
		Title:     title,
		Priority:  PriorityMedium,
		Status:    StatusBacklog,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Normalize fills defaults for fields left empty by decoders.
func (t *Ticket) Normalize() {
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Status == "" {
		t.Status = StatusBacklog
	}
	if t.Type == "" {
		t.Type = TypeFeature
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
}

// CanStart reports whether implementation work may begin.
func (t *Ticket) CanStart() bool {
	return t.Status == StatusPlanned &&
		len(t.AcceptanceCriteria) > 0 &&
		len(t.TechnicalContext.AffectedAreas) > 0 &&
		len(t.Dependencies.BlockedBy) == 0
}

// IsRefined reports whether the ticket carries criteria and a user story.
func (t *Ticket) IsRefined() bool {
	return len(t.AcceptanceCriteria) > 0 && !t.UserStory.Empty()
}

// SetStatus moves the ticket to s and touches UpdatedAt.
func (t *Ticket) SetStatus(s TicketStatus) {
	t.Status = s
	t.UpdatedAt = time.Now().UTC()
}

// AddComment appends a timestamped comment from the given author.
func (t *Ticket) AddComment(author, message string) {
	now := time.Now().UTC()
	t.Comments = append(t.Comments, Comment{Agent: author, Timestamp: now, Message: message})
	t.UpdatedAt = now
}

// PendingSubtasks returns subtasks not yet done.
func (t *Ticket) PendingSubtasks() []Subtask {
	var out []Subtask
	for _, st := range t.Implementation.Subtasks {
		if st.Status != SubtaskDone {
			out = append(out, st)
		}
	}
	return out
}

// MarkSubtask sets the status of the subtask with the given id.
// Returns false if no such subtask exists.
func (t *Ticket) MarkSubtask(id string, status SubtaskStatus) bool {
	for i := range t.Implementation.Subtasks {
		if t.Implementation.Subtasks[i].ID == id {
			t.Implementation.Subtasks[i].Status = status
			t.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}
