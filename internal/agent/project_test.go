package agent

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h1v3-io/swarm/pkg/protocol"
)

const shopProject = `name: shop
description: Online shop backend
tech_stack:
  languages: [Go]
  databases: [PostgreSQL]
conventions:
  naming_conventions:
    packages: lower case
  testing_strategy: table tests
context:
  important_files: [README.md]
  architecture_notes: Hexagonal layout.
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestProject_ConfigDefaults(t *testing.T) {
	root := t.TempDir()
	p := NewProject(root)

	c, err := p.Config()
	require.NoError(t, err)
	assert.Nil(t, c)

	writeFile(t, filepath.Join(root, ProjectDir, ProjectFile), shopProject)
	c, err = p.Config()
	require.NoError(t, err)
	assert.Equal(t, "shop", c.Name)
	assert.Equal(t, []string{"src"}, c.Structure.SourceDirs)
	assert.Equal(t, "main", c.AgentConfig.DefaultBranch)

	writeFile(t, filepath.Join(root, ProjectDir, ProjectFile), "name: [broken")
	_, err = p.Config()
	assert.Error(t, err)
}

func TestProject_Context(t *testing.T) {
	root := t.TempDir()
	p := NewProject(root)
	assert.Empty(t, p.Context())
	assert.Empty(t, (*Project)(nil).Context())

	writeFile(t, filepath.Join(root, ProjectDir, ProjectFile), shopProject)
	writeFile(t, filepath.Join(root, ArchitectureFile), "# Architecture\n"+strings.Repeat("a", maxArchitectureLen+50))
	writeFile(t, filepath.Join(root, ADRDir, "README.md"), "index")
	for _, name := range []string{"001-sqlite", "002-queues", "003-auth", "004-cache"} {
		writeFile(t, filepath.Join(root, ADRDir, name+".md"), "# "+name+"\n"+strings.Repeat("b", maxADRLen))
	}

	got := p.Context()
	assert.Contains(t, got, "## Project: shop")
	assert.Contains(t, got, "**Languages:** Go")
	assert.Contains(t, got, "**Naming:** packages: lower case")
	assert.Contains(t, got, "### Architecture Notes\nHexagonal layout.")
	assert.Contains(t, got, "... (truncated)")
	assert.NotContains(t, got, "### 001-sqlite")
	assert.Contains(t, got, "### 004-cache")
	assert.NotContains(t, got, "### README")
	assert.Equal(t, 2, strings.Count(got, "\n\n---\n\n"))
}

func TestSystemPrompt_IncludesProjectContext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ProjectDir, ProjectFile), shopProject)

	a := New(protocol.RoleSpec{ID: protocol.RoleArchitect, Instructions: "Design things."}, nil, nil, nil)
	assert.NotContains(t, a.SystemPrompt(nil), "# Project Context")

	a.Project = NewProject(root)
	prompt := a.SystemPrompt(nil)
	assert.Contains(t, prompt, "# Project Context\n## Project: shop")
	assert.Less(t, strings.Index(prompt, "Design things."), strings.Index(prompt, "# Project Context"))
	assert.True(t, strings.HasSuffix(prompt, stabilityProtocol))
}

func TestProject_Init(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main")
	writeFile(t, filepath.Join(root, "web", "app.ts"), "")
	writeFile(t, filepath.Join(root, "node_modules", "x", "index.js"), "")
	writeFile(t, filepath.Join(root, "README.md"), "# shop")
	p := NewProject(root)
	p.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	var c ProjectConfig
	c.Name = "shop"
	got, err := p.Init(c, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "TypeScript"}, got.TechStack.Languages)
	assert.Equal(t, []string{"README.md"}, got.Context.ImportantFiles)
	assert.DirExists(t, filepath.Join(root, ADRDir))

	loaded, err := p.Config()
	require.NoError(t, err)
	assert.Equal(t, "shop", loaded.Name)
	assert.Equal(t, []string{"Go", "TypeScript"}, loaded.TechStack.Languages)
	assert.True(t, loaded.Metadata.CreatedAt.Equal(p.now()))

	_, err = p.Init(c, false)
	assert.True(t, errors.Is(err, ErrProjectExists))
	_, err = p.Init(c, true)
	assert.NoError(t, err)
}

func TestProject_ProposeADR(t *testing.T) {
	root := t.TempDir()
	p := NewProject(root)
	p.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	writeFile(t, filepath.Join(root, ADRDir, "007-event-bus.md"), "# 7. Event bus")
	writeFile(t, filepath.Join(root, ADRDir, "README.md"), "index")

	path, err := p.ProposeADR(ADRProposal{
		Title:    "Store sessions in Redis!",
		TicketID: "T-4",
		Context:  "Sessions must survive restarts.",
		Decision: "Proposed: use Redis",
	})
	require.NoError(t, err)
	assert.Equal(t, "docs/adr/008-store-sessions-in-redis.md", path)

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(path)))
	require.NoError(t, err)
	body := string(data)
	assert.True(t, strings.HasPrefix(body, "# 8. Store sessions in Redis!\n\nStatus: Proposed\nDate: 2026-03-01\n"))
	assert.Contains(t, body, "Ticket: T-4")
	assert.Contains(t, body, "Sessions must survive restarts.")
	assert.Contains(t, body, `Chosen option: "Proposed: use Redis"`)
	assert.Contains(t, body, "* TBD")

	path, err = p.ProposeADR(ADRProposal{Title: "???", TicketID: "T-5"})
	require.NoError(t, err)
	assert.Equal(t, "docs/adr/009-decision.md", path)
}
