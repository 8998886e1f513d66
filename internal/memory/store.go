package memory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInvalidScope is returned for scope names that cannot be used as file names.
var ErrInvalidScope = errors.New("memory: invalid scope")

// Store keeps per-role notes as markdown files. Each scope (usually a role
// id) maps to {dir}/{scope}.md and survives restarts.
type Store struct {
	dir    string
	mu     sync.RWMutex
	scopes map[string]string
	now    func() time.Time
}

// NewStore creates a note store and loads any existing .md files from dir.
// The directory is created on the first write.
func NewStore(dir string) *Store {
	s := &Store{
		dir:    dir,
		scopes: make(map[string]string),
		now:    time.Now,
	}
	s.load()
	return s
}

// Dir returns the directory notes are kept in.
func (s *Store) Dir() string { return s.dir }

// Get returns the content of a scope, or "" if it has no notes.
func (s *Store) Get(scope string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scopes[scope]
}

// Set replaces the content of a scope and persists it.
func (s *Store) Set(scope, content string) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(scope, content)
}

// Append adds a timestamped bullet to a scope and persists it.
func (s *Store) Append(scope, note string) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return errors.New("memory: empty note")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	content := s.scopes[scope]
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += fmt.Sprintf("- [%s] %s\n", s.now().UTC().Format("2006-01-02 15:04"), note)
	return s.write(scope, content)
}

// Scopes returns the names of all scopes with notes, sorted.
func (s *Store) Scopes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.scopes))
	for k := range s.scopes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// List returns a copy of all scopes and their content.
func (s *Store) List() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.scopes))
	for k, v := range s.scopes {
		out[k] = v
	}
	return out
}

// Delete removes a scope from memory and disk.
func (s *Store) Delete(scope string) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(scope)); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(s.scopes, scope)
	return nil
}

func (s *Store) write(scope, content string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(s.path(scope), []byte(content), 0o644); err != nil {
		return err
	}
	s.scopes[scope] = content
	return nil
}

func (s *Store) path(scope string) string {
	return filepath.Join(s.dir, scope+".md")
}

// load reads all .md files from the directory into the scopes map.
func (s *Store) load() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		s.scopes[strings.TrimSuffix(e.Name(), ".md")] = string(data)
	}
}

func checkScope(scope string) error {
	if scope == "" || scope == "." || scope == ".." || strings.ContainsAny(scope, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	return nil
}
