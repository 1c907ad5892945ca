package mutate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/forgequeue/forgequeue/internal/sandbox"
)

func TestApply_writeFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	guard := &sandbox.AllowedFilesGuard{WorkspaceDir: dir, Patterns: []string{"*.txt"}}

	err := Apply(context.Background(), dir, guard, Mutation{
		Kind:     KindWriteFile,
		Path:     "hello.txt",
		Contents: "hi",
	})
	if err != nil {
		t.Fatalf("Apply WriteFile: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "hello.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hi" {
		t.Fatalf("got %q", got)
	}
}

func TestApply_writeFile_deniedByGuard(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	guard := &sandbox.AllowedFilesGuard{WorkspaceDir: dir, Patterns: []string{"*.go"}}

	err := Apply(context.Background(), dir, guard, Mutation{
		Kind:     KindWriteFile,
		Path:     "hello.txt",
		Contents: "hi",
	})
	if err == nil {
		t.Fatal("expected error writing a file outside the allowed-files list")
	}
}

func TestApply_deleteFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := filepath.Join(dir, "gone.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	guard := &sandbox.AllowedFilesGuard{WorkspaceDir: dir, Patterns: []string{"*.txt"}}

	err := Apply(context.Background(), dir, guard, Mutation{Kind: KindDeleteFile, Path: "gone.txt"})
	if err != nil {
		t.Fatalf("Apply DeleteFile: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatal("expected file to be removed")
	}
}

func TestApply_deleteFile_missingIsNoop(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	guard := &sandbox.AllowedFilesGuard{WorkspaceDir: dir, Patterns: []string{"*.txt"}}
	err := Apply(context.Background(), dir, guard, Mutation{Kind: KindDeleteFile, Path: "nonexistent.txt"})
	if err != nil {
		t.Fatalf("Apply DeleteFile nonexistent: %v", err)
	}
}

func TestApply_unknownKind(t *testing.T) {
	t.Parallel()
	guard := &sandbox.AllowedFilesGuard{WorkspaceDir: t.TempDir(), Patterns: []string{"**"}}
	err := Apply(context.Background(), t.TempDir(), guard, Mutation{Kind: "bogus"})
	if err == nil {
		t.Fatal("expected error for unknown mutation kind")
	}
}

func TestDiffTargets(t *testing.T) {
	t.Parallel()
	patch := "diff --git a/foo.go b/foo.go\n--- a/foo.go\n+++ b/foo.go\n@@ -1 +1 @@\n-old\n+new\n"
	got := diffTargets(patch)
	if len(got) != 1 || got[0] != "foo.go" {
		t.Fatalf("diffTargets: got %v", got)
	}
}

func TestApply_patchDeniedByGuard(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	guard := &sandbox.AllowedFilesGuard{WorkspaceDir: dir, Patterns: []string{"allowed.go"}}
	patch := "diff --git a/other.go b/other.go\n--- a/other.go\n+++ b/other.go\n@@ -1 +1 @@\n-old\n+new\n"

	err := Apply(context.Background(), dir, guard, Mutation{Kind: KindApplyPatch, Patch: patch})
	if err == nil {
		t.Fatal("expected error applying a patch outside the allowed-files list")
	}
}

func TestApply_patchNoHeaders(t *testing.T) {
	t.Parallel()
	guard := &sandbox.AllowedFilesGuard{WorkspaceDir: t.TempDir(), Patterns: []string{"**"}}
	err := Apply(context.Background(), t.TempDir(), guard, Mutation{Kind: KindApplyPatch, Patch: "not a diff"})
	if err == nil {
		t.Fatal("expected error for a patch with no recognizable diff headers")
	}
}
