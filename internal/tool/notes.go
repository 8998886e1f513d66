package tool

import (
	"context"
	"fmt"
)

// NoteStore keeps free-form notes per role across tickets.
type NoteStore interface {
	Get(scope string) string
	Append(scope, note string) error
}

// NoteTools returns the note read/write tools.
func NoteTools(store NoteStore) []Tool {
	return []Tool{
		&SaveNoteTool{Store: store},
		&ReadNotesTool{Store: store},
	}
}

func noteScope(ctx context.Context, args map[string]any) string {
	if role := getString(args, "role"); role != "" {
		return role
	}
	return CurrentRoleFromContext(ctx)
}

type SaveNoteTool struct{ Store NoteStore }

func (t *SaveNoteTool) Name() string { return "save_note" }
func (t *SaveNoteTool) Description() string {
	return "Save a note for later tickets (conventions, gotchas, decisions)"
}
func (t *SaveNoteTool) Params() []Param {
	return []Param{{Name: "note", Type: "string", Description: "Note text", Required: true}}
}

func (t *SaveNoteTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	scope := CurrentRoleFromContext(ctx)
	if scope == "" {
		return Errorf("save_note: no current role"), nil
	}
	if err := t.Store.Append(scope, getString(args, "note")); err != nil {
		return Errorf("save_note: %v", err), nil
	}
	return Success(fmt.Sprintf("Note saved for %s", scope)), nil
}

type ReadNotesTool struct{ Store NoteStore }

func (t *ReadNotesTool) Name() string { return "read_notes" }
func (t *ReadNotesTool) Description() string {
	return "Read saved notes for a role (defaults to your own)"
}
func (t *ReadNotesTool) Params() []Param {
	return []Param{{Name: "role", Type: "string", Description: "Role whose notes to read"}}
}

func (t *ReadNotesTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	scope := noteScope(ctx, args)
	if scope == "" {
		return Errorf("read_notes: role is required (no current role)"), nil
	}
	notes := t.Store.Get(scope)
	if notes == "" {
		return Success(fmt.Sprintf("No notes for %s", scope)), nil
	}
	return Success(notes), nil
}
