package protocol

import "testing"

func readyTicket() *Ticket {
	t := NewTicket("T-1", "Add login")
	t.Status = StatusPlanned
	t.AcceptanceCriteria = []string{"user can log in"}
	t.TechnicalContext.AffectedAreas = []string{"backend"}
	return t
}

func TestCanStart(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Ticket)
		want   bool
	}{
		{"ready", func(*Ticket) {}, true},
		{"not planned", func(tk *Ticket) { tk.Status = StatusRefined }, false},
		{"no criteria", func(tk *Ticket) { tk.AcceptanceCriteria = nil }, false},
		{"no affected areas", func(tk *Ticket) { tk.TechnicalContext.AffectedAreas = nil }, false},
		{"blocked by another", func(tk *Ticket) { tk.Dependencies.BlockedBy = []string{"T-0"} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := readyTicket()
			tt.mutate(tk)
			if got := tk.CanStart(); got != tt.want {
				t.Errorf("CanStart() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPriorityRank(t *testing.T) {
	order := []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
	for i, p := range order {
		if p.Rank() != i {
			t.Errorf("%s: expected rank %d, got %d", p, i, p.Rank())
		}
	}
	if Priority("").Rank() != PriorityMedium.Rank() {
		t.Error("expected unknown priority to rank as medium")
	}
}

func TestNewTicketDefaults(t *testing.T) {
	tk := NewTicket("T-9", "Anything")
	if tk.Status != StatusBacklog {
		t.Errorf("expected backlog, got %s", tk.Status)
	}
	if tk.Priority != PriorityMedium {
		t.Errorf("expected medium, got %s", tk.Priority)
	}
	if tk.IsRefined() {
		t.Error("new ticket should not be refined")
	}
}

func TestMarkSubtask(t *testing.T) {
	tk := readyTicket()
	tk.Implementation.Subtasks = []Subtask{
		{ID: "1", Description: "api", Status: SubtaskPending},
		{ID: "2", Description: "db", Status: SubtaskPending},
	}
	if !tk.MarkSubtask("2", SubtaskDone) {
		t.Fatal("expected subtask 2 to exist")
	}
	if tk.MarkSubtask("3", SubtaskDone) {
		t.Error("expected unknown subtask to report false")
	}
	pending := tk.PendingSubtasks()
	if len(pending) != 1 || pending[0].ID != "1" {
		t.Errorf("unexpected pending subtasks: %+v", pending)
	}
}

func TestAddComment(t *testing.T) {
	tk := NewTicket("T-2", "x")
	before := tk.UpdatedAt
	tk.AddComment("architect", "looks fine")
	if len(tk.Comments) != 1 || tk.Comments[0].Agent != "architect" {
		t.Fatalf("unexpected comments: %+v", tk.Comments)
	}
	if tk.UpdatedAt.Before(before) {
		t.Error("expected UpdatedAt to move forward")
	}
}
