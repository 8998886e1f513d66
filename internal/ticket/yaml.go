package ticket

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/h1v3-io/swarm/pkg/protocol"
)

// ParseYAML decodes a single ticket document and fills defaults.
func ParseYAML(data []byte) (*protocol.Ticket, error) {
	var t protocol.Ticket
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse ticket: %w", err)
	}
	if t.ID == "" {
		return nil, fmt.Errorf("parse ticket: id is required")
	}
	if t.Title == "" {
		return nil, fmt.Errorf("parse ticket %s: title is required", t.ID)
	}
	t.Normalize()
	if !t.Status.Valid() {
		return nil, fmt.Errorf("parse ticket %s: unknown status %q", t.ID, t.Status)
	}
	return &t, nil
}

// LoadYAMLDir reads every *.yaml and *.yml file in dir, one ticket per
// file, in file name order.
func LoadYAMLDir(dir string) ([]*protocol.Ticket, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var tickets []*protocol.Ticket
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("load tickets: %w", err)
		}
		t, err := ParseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

// Import saves tickets into store and returns how many were written.
func Import(store Store, tickets []*protocol.Ticket) (int, error) {
	for i, t := range tickets {
		if err := store.Save(t); err != nil {
			return i, err
		}
	}
	return len(tickets), nil
}
