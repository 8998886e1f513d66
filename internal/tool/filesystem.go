package tool

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	maxReadSize   = 100 * 1024 // 100KB
	maxFindResult = 200
)

// skipDirs are never descended into by find_files.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".venv": true, "venv": true, "__pycache__": true,
}

// --- ReadFile ---

type ReadFileTool struct{ Root string }

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a file from the workspace, optionally a line range" }
func (t *ReadFileTool) Params() []Param {
	return []Param{
		{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
		{Name: "start_line", Type: "integer", Description: "First line to return (1-based)"},
		{Name: "end_line", Type: "integer", Description: "Last line to return (inclusive)"},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]any) (*Result, error) {
	path, err := checkPath(getString(args, "path"), t.Root)
	if err != nil {
		return Errorf("%v", err), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("read_file: %v", err), nil
	}

	start := getInt(args, "start_line", 0)
	end := getInt(args, "end_line", 0)
	if start > 0 || end > 0 {
		lines := strings.Split(string(data), "\n")
		if start < 1 {
			start = 1
		}
		if end <= 0 || end > len(lines) {
			end = len(lines)
		}
		if start > end {
			return Errorf("read_file: start_line %d is after end_line %d", start, end), nil
		}
		return Success(strings.Join(lines[start-1:end], "\n")).
			WithMeta("lines", end-start+1), nil
	}

	content := string(data)
	if len(data) > maxReadSize {
		content = string(data[:maxReadSize]) + "\n... [truncated]"
	}
	return Success(content).WithMeta("bytes", len(data)), nil
}

// --- WriteFile ---

type WriteFileTool struct{ Root string }

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file (creates parent directories if needed)"
}
func (t *WriteFileTool) Params() []Param {
	return []Param{
		{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
		{Name: "content", Type: "string", Description: "Content to write", Required: true},
		{Name: "overwrite", Type: "boolean", Description: "Replace the file if it already exists", Default: false},
	}
}

func (t *WriteFileTool) Execute(_ context.Context, args map[string]any) (*Result, error) {
	path, err := checkWritable(getString(args, "path"), t.Root)
	if err != nil {
		return Errorf("%v", err), nil
	}
	if _, err := os.Stat(path); err == nil && !getBool(args, "overwrite") {
		return Errorf("write_file: %s already exists (set overwrite to replace it)", getString(args, "path")), nil
	}
	content := getString(args, "content")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("write_file: create dirs: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write_file: %w", err)
	}
	return Success(fmt.Sprintf("Wrote %d bytes to %s", len(content), getString(args, "path"))), nil
}

// --- EditFile ---

type EditFileTool struct{ Root string }

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Replace old_string with new_string in a file (old_string must match exactly once unless replace_all is set)"
}
func (t *EditFileTool) Params() []Param {
	return []Param{
		{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
		{Name: "old_string", Type: "string", Description: "Text to find", Required: true},
		{Name: "new_string", Type: "string", Description: "Replacement text", Required: true},
		{Name: "replace_all", Type: "boolean", Description: "Replace every occurrence", Default: false},
	}
}

func (t *EditFileTool) Execute(_ context.Context, args map[string]any) (*Result, error) {
	path, err := checkWritable(getString(args, "path"), t.Root)
	if err != nil {
		return Errorf("%v", err), nil
	}
	oldText := getString(args, "old_string")
	newText := getString(args, "new_string")
	if oldText == "" {
		return Errorf("edit_file: old_string must not be empty"), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("edit_file: %v", err), nil
	}
	content := string(data)

	count := strings.Count(content, oldText)
	if count == 0 {
		return Errorf("edit_file: old_string not found in %s", getString(args, "path")), nil
	}
	replaceAll := getBool(args, "replace_all")
	if count > 1 && !replaceAll {
		return Errorf("edit_file: old_string matches %d times in %s (must be unique)", count, getString(args, "path")), nil
	}

	n := 1
	if replaceAll {
		n = -1
	}
	updated := strings.Replace(content, oldText, newText, n)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return nil, fmt.Errorf("edit_file: write: %w", err)
	}
	replaced := 1
	if replaceAll {
		replaced = count
	}
	return Success(fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, getString(args, "path"))).
		WithMeta("replacements", replaced), nil
}

// --- ListDirectory ---

type ListDirTool struct{ Root string }

func (t *ListDirTool) Name() string        { return "list_directory" }
func (t *ListDirTool) Description() string { return "List directory contents with file sizes" }
func (t *ListDirTool) Params() []Param {
	return []Param{
		{Name: "path", Type: "string", Description: "Directory relative to the workspace", Default: "."},
	}
}

func (t *ListDirTool) Execute(_ context.Context, args map[string]any) (*Result, error) {
	rel := getString(args, "path")
	if rel == "" {
		rel = "."
	}
	path, err := checkPath(rel, t.Root)
	if err != nil {
		return Errorf("%v", err), nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return Errorf("list_directory: %v", err), nil
	}

	var b strings.Builder
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if e.IsDir() {
			fmt.Fprintf(&b, "%s/\n", e.Name())
		} else {
			fmt.Fprintf(&b, "%s  %s\n", e.Name(), formatSize(info.Size()))
		}
	}
	return Success(b.String()).WithMeta("entries", len(entries)), nil
}

// --- FindFiles ---

type FindFilesTool struct{ Root string }

func (t *FindFilesTool) Name() string { return "find_files" }
func (t *FindFilesTool) Description() string {
	return "Find files whose name matches a glob pattern (e.g. *.go)"
}
func (t *FindFilesTool) Params() []Param {
	return []Param{
		{Name: "pattern", Type: "string", Description: "Glob matched against file names", Required: true},
		{Name: "path", Type: "string", Description: "Directory to search, relative to the workspace", Default: "."},
	}
}

func (t *FindFilesTool) Execute(_ context.Context, args map[string]any) (*Result, error) {
	pattern := getString(args, "pattern")
	if _, err := filepath.Match(pattern, ""); err != nil {
		return Errorf("find_files: bad pattern %q: %v", pattern, err), nil
	}
	rel := getString(args, "path")
	if rel == "" {
		rel = "."
	}
	start, err := checkPath(rel, t.Root)
	if err != nil {
		return Errorf("%v", err), nil
	}

	var matches []string
	truncated := false
	err = filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != start && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); !ok {
			return nil
		}
		if len(matches) >= maxFindResult {
			truncated = true
			return filepath.SkipAll
		}
		if r, err := filepath.Rel(start, p); err == nil {
			p = r
		}
		matches = append(matches, filepath.ToSlash(p))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find_files: %w", err)
	}
	sort.Strings(matches)

	if len(matches) == 0 {
		return Success("No files found."), nil
	}
	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n... [truncated at %d results]", maxFindResult)
	}
	return Success(out).WithMeta("count", len(matches)), nil
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
