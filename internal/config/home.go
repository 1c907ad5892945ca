package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

type homeKey struct{}

// WithHome stores the engine home path in the context.
func WithHome(ctx context.Context, home string) context.Context {
	return context.WithValue(ctx, homeKey{}, home)
}

// HomeFrom returns the engine home path from the context, if set.
func HomeFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(homeKey{})
	s, ok := v.(string)
	return s, ok
}

// MustHomeFrom returns the home path from the context, or panics if not set.
func MustHomeFrom(ctx context.Context) string {
	if h, ok := HomeFrom(ctx); ok && h != "" {
		return h
	}
	panic("forgequeue home missing from context")
}

// ResolveHome returns the engine home directory (override, FORGEQUEUE_HOME, or default ~/.forgequeue).
func ResolveHome(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	if env := os.Getenv("FORGEQUEUE_HOME"); env != "" {
		return filepath.Clean(env), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine user home directory")
	}
	return filepath.Join(home, ".forgequeue"), nil
}

// RunsDir returns <home>/runs.
func RunsDir(home string) string {
	return filepath.Join(home, "runs")
}

// RunDir returns <home>/runs/<runID>.
func RunDir(home, runID string) string {
	return filepath.Join(RunsDir(home), runID)
}

// WorkspacesDir returns <home>/workspaces.
func WorkspacesDir(home string) string {
	return filepath.Join(home, "workspaces")
}

// WorkspaceDir returns <home>/workspaces/<runID>.
func WorkspaceDir(home, runID string) string {
	return filepath.Join(WorkspacesDir(home), runID)
}

// QueueDBPath returns <home>/queue.db.
func QueueDBPath(home string) string {
	return filepath.Join(home, "queue.db")
}
