// Package sandbox enforces which files a run's mutations may touch.
package sandbox

import (
	"path/filepath"
	"strings"
)

// AllowedFilesGuard enforces that every mutation applied during a run stays
// within that run's workspace and matches one of its allowed-file globs.
// Each run's task carries its own allow-list; a worker checks every
// WriteFile/DeleteFile/ApplyPatch target against the guard before applying
// it, so a misbehaving plan or implementor step cannot reach outside the
// files the task actually grants it.
type AllowedFilesGuard struct {
	WorkspaceDir string
	Patterns     []string // glob patterns, relative to WorkspaceDir
}

// Allow reports whether relPath (relative to WorkspaceDir) matches one of
// the guard's patterns and stays inside the workspace. An empty pattern
// list allows nothing: callers that want an unrestricted run must pass "**"
// or "*" explicitly rather than relying on a default.
func (g *AllowedFilesGuard) Allow(relPath string) bool {
	if relPath == "" || len(g.Patterns) == 0 {
		return false
	}
	clean := filepath.Clean(relPath)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return false
	}
	for _, pattern := range g.Patterns {
		if matchGlob(pattern, clean) {
			return true
		}
	}
	return false
}

// matchGlob matches pattern against path component-by-component so that a
// pattern like "internal/**/*.go" matches any depth, which filepath.Match
// alone cannot express (it treats "/" as a normal character boundary but
// has no recursive wildcard).
func matchGlob(pattern, path string) bool {
	if pattern == "**" || pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "**") {
		ok, err := filepath.Match(pattern, path)
		return err == nil && ok
	}
	parts := strings.SplitN(pattern, "**", 2)
	prefix := strings.TrimSuffix(parts[0], "/")
	suffix := strings.TrimPrefix(parts[1], "/")
	if prefix != "" && !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimPrefix(rest, "/")
	if suffix == "" {
		return true
	}
	ok, err := filepath.Match(suffix, filepath.Base(rest))
	if err == nil && ok {
		return true
	}
	ok, err = filepath.Match(suffix, rest)
	return err == nil && ok
}

// AbsPath joins relPath onto the guard's workspace, returning the absolute
// path a mutation should actually touch. Callers must still check Allow
// first; AbsPath does no enforcement of its own.
func (g *AllowedFilesGuard) AbsPath(relPath string) string {
	return filepath.Join(g.WorkspaceDir, filepath.Clean(relPath))
}
