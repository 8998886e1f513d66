package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Workspace-relative locations of the project description.
const (
	ProjectDir       = ".hive"
	ProjectFile      = "project.yaml"
	ArchitectureFile = "ARCHITECTURE.md"
	ADRDir           = "docs/adr"
)

const (
	maxArchitectureLen = 3000
	maxADRLen          = 500
	contextADRs        = 3
)

// ErrProjectExists is returned by Init when the project file is present.
var ErrProjectExists = errors.New("project already initialized")

// ProjectConfig is the project description kept in .hive/project.yaml.
type ProjectConfig struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Version     string      `yaml:"version,omitempty"`
	TechStack   TechStack   `yaml:"tech_stack"`
	Conventions Conventions `yaml:"conventions"`
	Structure   Structure   `yaml:"structure"`
	AgentConfig struct {
		DefaultBranch string `yaml:"default_branch,omitempty"`
		TicketPrefix  string `yaml:"ticket_prefix,omitempty"`
	} `yaml:"agent_config"`
	Context struct {
		ImportantFiles    []string `yaml:"important_files,omitempty"`
		ArchitectureNotes string   `yaml:"architecture_notes,omitempty"`
	} `yaml:"context"`
	Metadata struct {
		CreatedAt time.Time `yaml:"created_at,omitempty"`
		UpdatedAt time.Time `yaml:"updated_at,omitempty"`
	} `yaml:"metadata"`
}

type TechStack struct {
	Languages  []string `yaml:"languages,omitempty"`
	Frameworks []string `yaml:"frameworks,omitempty"`
	Databases  []string `yaml:"databases,omitempty"`
	Tools      []string `yaml:"tools,omitempty"`
}

type Conventions struct {
	StyleGuide      string            `yaml:"style_guide,omitempty"`
	Naming          map[string]string `yaml:"naming_conventions,omitempty"`
	FileStructure   map[string]string `yaml:"file_structure,omitempty"`
	TestingStrategy string            `yaml:"testing_strategy,omitempty"`
}

type Structure struct {
	SourceDirs []string `yaml:"source_dirs,omitempty"`
	TestDirs   []string `yaml:"test_dirs,omitempty"`
	DocDirs    []string `yaml:"doc_dirs,omitempty"`
}

func (c *ProjectConfig) applyDefaults() {
	if c.Version == "" {
		c.Version = "0.1.0"
	}
	if len(c.Structure.SourceDirs) == 0 {
		c.Structure.SourceDirs = []string{"src"}
	}
	if len(c.Structure.TestDirs) == 0 {
		c.Structure.TestDirs = []string{"tests"}
	}
	if len(c.Structure.DocDirs) == 0 {
		c.Structure.DocDirs = []string{"docs"}
	}
	if c.AgentConfig.DefaultBranch == "" {
		c.AgentConfig.DefaultBranch = "main"
	}
}

// Render formats the description as a markdown block.
func (c *ProjectConfig) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Project: %s\n", c.Name)
	if c.Description != "" {
		b.WriteString(c.Description + "\n")
	}

	b.WriteString("\n### Tech Stack\n")
	ts := c.TechStack
	n := b.Len()
	listLine(&b, "Languages", ts.Languages)
	listLine(&b, "Frameworks", ts.Frameworks)
	listLine(&b, "Databases", ts.Databases)
	listLine(&b, "Tools", ts.Tools)
	if b.Len() == n {
		b.WriteString("Not specified\n")
	}

	b.WriteString("\n### Conventions\n")
	cv := c.Conventions
	n = b.Len()
	if cv.StyleGuide != "" {
		fmt.Fprintf(&b, "**Style guide:** %s\n", cv.StyleGuide)
	}
	if len(cv.Naming) > 0 {
		keys := make([]string, 0, len(cv.Naming))
		for k := range cv.Naming {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + cv.Naming[k]
		}
		fmt.Fprintf(&b, "**Naming:** %s\n", strings.Join(parts, ", "))
	}
	if cv.TestingStrategy != "" {
		fmt.Fprintf(&b, "**Testing:** %s\n", cv.TestingStrategy)
	}
	if b.Len() == n {
		b.WriteString("Standard conventions\n")
	}

	st := c.Structure
	b.WriteString("\n### Structure\n")
	fmt.Fprintf(&b, "- **Source:** %s\n", strings.Join(st.SourceDirs, ", "))
	fmt.Fprintf(&b, "- **Tests:** %s\n", strings.Join(st.TestDirs, ", "))
	fmt.Fprintf(&b, "- **Docs:** %s\n", strings.Join(st.DocDirs, ", "))

	if files := c.Context.ImportantFiles; len(files) > 0 {
		b.WriteString("\n### Important Files\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if notes := c.Context.ArchitectureNotes; notes != "" {
		fmt.Fprintf(&b, "\n### Architecture Notes\n%s\n", notes)
	}
	return strings.TrimRight(b.String(), "\n")
}

func listLine(b *strings.Builder, label string, items []string) {
	if len(items) > 0 {
		fmt.Fprintf(b, "**%s:** %s\n", label, strings.Join(items, ", "))
	}
}

// ADR is one architecture decision record.
type ADR struct {
	Name string // file name without extension
	Body string
}

// Project reads and writes the project description of a workspace: the
// project file, ARCHITECTURE.md and the ADRs. A nil *Project has no
// context.
type Project struct {
	root string
	now  func() time.Time
}

func NewProject(root string) *Project {
	return &Project{root: root, now: time.Now}
}

func (p *Project) configPath() string { return filepath.Join(p.root, ProjectDir, ProjectFile) }
func (p *Project) adrDir() string     { return filepath.Join(p.root, ADRDir) }

// Config loads the project file. It returns nil without error when the
// workspace has none.
func (p *Project) Config() (*ProjectConfig, error) {
	data, err := os.ReadFile(p.configPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	var c ProjectConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("project: parse %s: %w", ProjectFile, err)
	}
	if c.Name == "" {
		c.Name = "Unknown"
	}
	c.applyDefaults()
	return &c, nil
}

// Init writes the project file and creates the ADR directory. Languages
// and important files found in the workspace are filled in when c leaves
// them empty. Without force an existing project file is an error.
func (p *Project) Init(c ProjectConfig, force bool) (*ProjectConfig, error) {
	if _, err := os.Stat(p.configPath()); err == nil && !force {
		return nil, fmt.Errorf("%w at %s", ErrProjectExists, p.configPath())
	}
	for _, dir := range []string{filepath.Dir(p.configPath()), p.adrDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("project: %w", err)
		}
	}

	c.applyDefaults()
	if len(c.TechStack.Languages) == 0 {
		c.TechStack.Languages = p.detectLanguages()
	}
	if len(c.Context.ImportantFiles) == 0 {
		for _, name := range []string{"README.md", ArchitectureFile, "CONTRIBUTING.md", "docker-compose.yml", "Dockerfile"} {
			if _, err := os.Stat(filepath.Join(p.root, name)); err == nil {
				c.Context.ImportantFiles = append(c.Context.ImportantFiles, name)
			}
		}
	}
	now := p.now().UTC()
	if c.Metadata.CreatedAt.IsZero() {
		c.Metadata.CreatedAt = now
	}
	c.Metadata.UpdatedAt = now

	data, err := yaml.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	if err := os.WriteFile(p.configPath(), data, 0o644); err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	return &c, nil
}

var languageByExt = []struct{ ext, name string }{
	{".go", "Go"},
	{".py", "Python"},
	{".js", "JavaScript"},
	{".ts", "TypeScript"},
	{".rs", "Rust"},
}

// detectLanguages looks at the first few thousand workspace files.
func (p *Project) detectLanguages() []string {
	seen := map[string]bool{}
	visited := 0
	filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if path != p.root && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		seen[filepath.Ext(path)] = true
		if visited++; visited >= 5000 {
			return fs.SkipAll
		}
		return nil
	})
	var out []string
	for _, l := range languageByExt {
		if seen[l.ext] {
			out = append(out, l.name)
		}
	}
	return out
}

// Architecture returns ARCHITECTURE.md, or "" when it is missing.
func (p *Project) Architecture() string {
	data, err := os.ReadFile(filepath.Join(p.root, ArchitectureFile))
	if err != nil {
		return ""
	}
	return string(data)
}

// ADRs returns the decision records sorted by file name. README.md and
// TEMPLATE.md are not records.
func (p *Project) ADRs() ([]ADR, error) {
	entries, err := os.ReadDir(p.adrDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	var out []ADR
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".md" || name == "README.md" || name == "TEMPLATE.md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(p.adrDir(), name))
		if err != nil {
			continue
		}
		out = append(out, ADR{Name: strings.TrimSuffix(name, ".md"), Body: string(data)})
	}
	return out, nil
}

// Context renders the project file, the architecture document and the
// latest ADRs for a system prompt. It is empty when the workspace has
// none of them.
func (p *Project) Context() string {
	if p == nil {
		return ""
	}
	var parts []string
	if c, err := p.Config(); err == nil && c != nil {
		parts = append(parts, c.Render())
	}
	if arch := strings.TrimSpace(p.Architecture()); arch != "" {
		if len(arch) > maxArchitectureLen {
			arch = arch[:maxArchitectureLen] + "\n... (truncated)"
		}
		parts = append(parts, "## Architecture\n"+arch)
	}
	if adrs, _ := p.ADRs(); len(adrs) > 0 {
		adrs = adrs[max(0, len(adrs)-contextADRs):]
		var b strings.Builder
		b.WriteString("## Recent ADRs")
		for _, a := range adrs {
			body := strings.TrimSpace(a.Body)
			if len(body) > maxADRLen {
				body = body[:maxADRLen] + "..."
			}
			fmt.Fprintf(&b, "\n\n### %s\n%s", a.Name, body)
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// ADRProposal is a decision the architect puts up for review.
type ADRProposal struct {
	Title        string
	TicketID     string
	Context      string
	Decision     string
	Consequences string
}

const adrDeciders = "Architect, Product Owner, Backend Dev, Frontend Dev"

// ProposeADR writes a proposed decision record numbered after the
// existing ones and returns its workspace-relative path.
func (p *Project) ProposeADR(prop ADRProposal) (string, error) {
	if err := os.MkdirAll(p.adrDir(), 0o755); err != nil {
		return "", fmt.Errorf("propose adr: %w", err)
	}
	next, err := p.nextADRNumber()
	if err != nil {
		return "", err
	}
	consequences := prop.Consequences
	if consequences == "" {
		consequences = "TBD"
	}
	slug := slugify(prop.Title, 50)
	if slug == "" {
		slug = "decision"
	}

	for attempt := 0; attempt < 10; attempt++ {
		n := next + attempt
		name := fmt.Sprintf("%03d-%s.md", n, slug)
		body := fmt.Sprintf(adrTemplate, n, prop.Title, p.now().UTC().Format("2006-01-02"), adrDeciders,
			prop.TicketID, prop.Context, prop.Decision, prop.TicketID, consequences)

		f, err := os.OpenFile(filepath.Join(p.adrDir(), name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("propose adr: %w", err)
		}
		_, werr := f.WriteString(body)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return "", fmt.Errorf("propose adr: %w", werr)
		}
		return filepath.ToSlash(filepath.Join(ADRDir, name)), nil
	}
	return "", fmt.Errorf("propose adr: no free number after %03d", next)
}

// nextADRNumber is one past the highest leading number in the ADR directory.
func (p *Project) nextADRNumber() (int, error) {
	entries, err := os.ReadDir(p.adrDir())
	if err != nil {
		return 0, fmt.Errorf("propose adr: %w", err)
	}
	highest := 0
	for _, e := range entries {
		name := e.Name()
		end := strings.IndexFunc(name, func(r rune) bool { return !unicode.IsDigit(r) })
		if end <= 0 {
			continue
		}
		if n, err := strconv.Atoi(name[:end]); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

const adrTemplate = `# %d. %s

Status: Proposed
Date: %s
Deciders: %s
Ticket: %s

## Context and Problem Statement

%s

## Decision Drivers

* Technical feasibility
* Maintainability
* Performance requirements

## Considered Options

* Option 1: [Proposed Solution]
* Option 2: [Status Quo / Alternatives]

## Decision Outcome

Chosen option: "%s"

### Positive Consequences

* Solves the immediate problem in %s

### Negative Consequences

* %s
`
