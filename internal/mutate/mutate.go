// Package mutate applies the file changes an implement step produces to a
// run's workspace, enforcing the task's allowed-files guard at the single
// point where a mutation actually touches disk.
package mutate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgequeue/forgequeue/internal/git"
	"github.com/forgequeue/forgequeue/internal/sandbox"
)

// Kind identifies which variant of Mutation is populated.
type Kind string

const (
	KindWriteFile  Kind = "write_file"
	KindDeleteFile Kind = "delete_file"
	KindApplyPatch Kind = "apply_patch"
)

// Mutation is a tagged variant of the three ways an implement step can
// change a workspace. Exactly the field matching Kind is meaningful.
type Mutation struct {
	Kind Kind

	// WriteFile / DeleteFile
	Path string

	// WriteFile
	Contents string

	// ApplyPatch
	Patch string
}

// Apply dispatches m to the matching operation inside worktreeDir, after
// checking m's target path(s) against guard. ApplyPatch is checked by
// parsing the patch's target paths out of its diff headers; a patch that
// touches any path outside the guard is rejected before git ever sees it.
func Apply(ctx context.Context, worktreeDir string, guard *sandbox.AllowedFilesGuard, m Mutation) error {
	switch m.Kind {
	case KindWriteFile:
		return applyWriteFile(guard, m)
	case KindDeleteFile:
		return applyDeleteFile(guard, m)
	case KindApplyPatch:
		return applyPatch(ctx, worktreeDir, guard, m)
	default:
		return fmt.Errorf("mutate: unknown mutation kind %q", m.Kind)
	}
}

func applyWriteFile(guard *sandbox.AllowedFilesGuard, m Mutation) error {
	if !guard.Allow(m.Path) {
		return fmt.Errorf("mutate: %s is not in the allowed-files list", m.Path)
	}
	dest := guard.AbsPath(m.Path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", m.Path, err)
	}
	if err := os.WriteFile(dest, []byte(m.Contents), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", m.Path, err)
	}
	return nil
}

func applyDeleteFile(guard *sandbox.AllowedFilesGuard, m Mutation) error {
	if !guard.Allow(m.Path) {
		return fmt.Errorf("mutate: %s is not in the allowed-files list", m.Path)
	}
	dest := guard.AbsPath(m.Path)
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", m.Path, err)
	}
	return nil
}

func applyPatch(ctx context.Context, worktreeDir string, guard *sandbox.AllowedFilesGuard, m Mutation) error {
	targets := diffTargets(m.Patch)
	if len(targets) == 0 {
		return fmt.Errorf("mutate: patch has no recognizable diff headers")
	}
	for _, target := range targets {
		if !guard.Allow(target) {
			return fmt.Errorf("mutate: patch touches %s, which is not in the allowed-files list", target)
		}
	}
	return git.ApplyPatch(ctx, worktreeDir, m.Patch)
}

// diffTargets extracts the "b/<path>" side of every "+++ b/<path>" header
// in a unified diff, the set of files the patch actually writes to.
func diffTargets(patch string) []string {
	var targets []string
	for _, line := range splitLines(patch) {
		const prefix = "+++ b/"
		if len(line) > len(prefix) && line[:len(prefix)] == prefix {
			targets = append(targets, line[len(prefix):])
		}
	}
	return targets
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
