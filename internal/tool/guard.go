package tool

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// protectedNames are path components that tools must never write or delete.
var protectedNames = map[string]bool{
	".git": true, ".gitignore": true, ".gitmodules": true, ".gitattributes": true,
	".env": true, ".swarm": true,
	"package-lock.json": true, "yarn.lock": true, "pnpm-lock.yaml": true,
	"poetry.lock": true, "Pipfile.lock": true, "Cargo.lock": true,
	"Gemfile.lock": true, "composer.lock": true, "go.sum": true,
	"node_modules": true, "venv": true, ".venv": true, "__pycache__": true,
	"dist": true, "build": true,
}

var protectedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`.*\.lock$`),
	regexp.MustCompile(`.*-lock\.json$`),
	regexp.MustCompile(`.*-lock\.yaml$`),
	regexp.MustCompile(`^\.env\..*`),
}

// checkPath resolves path against root and rejects anything that escapes it,
// including through a symlink. An empty root only rejects "..".
func checkPath(path, root string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal detected: '..' is not allowed")
	}
	if root == "" {
		return filepath.Abs(path)
	}
	base, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid workspace: %w", err)
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(base, path)
	}
	full = filepath.Clean(full)
	if !within(full, base) {
		return "", fmt.Errorf("path %q escapes workspace", path)
	}
	if resolved, err := filepath.EvalSymlinks(full); err == nil {
		realBase, _ := filepath.EvalSymlinks(base)
		if realBase == "" {
			realBase = base
		}
		if !within(resolved, realBase) {
			return "", fmt.Errorf("symlink target of %q is outside workspace", path)
		}
	}
	return full, nil
}

// checkWritable is checkPath plus the protected-path rules.
func checkWritable(path, root string) (string, error) {
	full, err := checkPath(path, root)
	if err != nil {
		return "", err
	}
	rel := full
	if root != "" {
		if base, err := filepath.Abs(root); err == nil {
			if r, err := filepath.Rel(base, full); err == nil {
				rel = r
			}
		}
	}
	if ok, reason := isProtected(rel); ok {
		return "", fmt.Errorf("protected path: %s", reason)
	}
	return full, nil
}

func isProtected(path string) (bool, string) {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if protectedNames[part] {
			return true, fmt.Sprintf("%q is protected", part)
		}
	}
	name := filepath.Base(path)
	for _, re := range protectedPatterns {
		if re.MatchString(name) {
			return true, fmt.Sprintf("%q matches protected pattern %s", name, re.String())
		}
	}
	return false, ""
}

func within(path, base string) bool {
	return path == base || strings.HasPrefix(path, base+string(filepath.Separator))
}
