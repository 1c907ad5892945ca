package sandbox

import (
	"path/filepath"
	"testing"
)

func TestAllowedFilesGuard_exactAndGlob(t *testing.T) {
	base := t.TempDir()
	guard := &AllowedFilesGuard{
		WorkspaceDir: base,
		Patterns:     []string{"README.md", "internal/**/*.go"},
	}
	if !guard.Allow("README.md") {
		t.Error("expected exact match README.md allowed")
	}
	if !guard.Allow("internal/worker/worker.go") {
		t.Error("expected internal/**/*.go to match a nested .go file")
	}
	if guard.Allow("main.go") {
		t.Error("main.go should not match either pattern")
	}
}

func TestAllowedFilesGuard_rejectsEscapes(t *testing.T) {
	guard := &AllowedFilesGuard{
		WorkspaceDir: t.TempDir(),
		Patterns:     []string{"**"},
	}
	if guard.Allow("../outside.go") {
		t.Error("expected path traversal to be denied even with a catch-all pattern")
	}
	if guard.Allow("/etc/passwd") {
		t.Error("expected absolute path to be denied")
	}
}

func TestAllowedFilesGuard_emptyPatternsDenyAll(t *testing.T) {
	guard := &AllowedFilesGuard{WorkspaceDir: t.TempDir()}
	if guard.Allow("anything.go") {
		t.Error("expected empty pattern list to deny everything")
	}
}

func TestAllowedFilesGuard_AbsPath(t *testing.T) {
	base := t.TempDir()
	guard := &AllowedFilesGuard{WorkspaceDir: base, Patterns: []string{"*.go"}}
	got := guard.AbsPath("main.go")
	want := filepath.Join(base, "main.go")
	if got != want {
		t.Fatalf("AbsPath: got %q, want %q", got, want)
	}
}
