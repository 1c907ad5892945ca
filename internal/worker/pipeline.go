package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgequeue/forgequeue/internal/artifact"
	"github.com/forgequeue/forgequeue/internal/git"
	"github.com/forgequeue/forgequeue/internal/handoff"
	"github.com/forgequeue/forgequeue/internal/identity"
	"github.com/forgequeue/forgequeue/internal/mutate"
	"github.com/forgequeue/forgequeue/internal/phase"
	"github.com/forgequeue/forgequeue/internal/sandbox"
	"github.com/forgequeue/forgequeue/pkg/models"
)

func (w *Worker) processPlan(ctx context.Context, art *artifact.Store, h models.Handoff) (models.Handoff, error) {
	if h.Run.Repo.URL == "" {
		return h, fmt.Errorf("plan: run %s has no repo url", h.Run.ID)
	}
	executor := w.executorFor(models.PhasePlan)
	if executor == nil {
		return h, fmt.Errorf("plan: no executor configured")
	}

	workspaceDir := w.workspaceRoot(h)
	branch := git.BranchName(h.Task.Prompt)
	baseBranch, baseSHA, err := git.CreateWorktree(ctx, workspaceDir, h.Run.Repo.URL, h.Run.Repo.BaseBranch, branch)
	if err != nil {
		return h, fmt.Errorf("plan: create worktree: %w", err)
	}
	h.Run.Repo = models.RepoInfo{
		Root:       workspaceDir,
		Branch:     branch,
		BaseBranch: baseBranch,
		URL:        h.Run.Repo.URL,
		BaseSHA:    baseSHA,
	}

	req := phase.Request{RunID: h.Run.ID, Phase: models.PhasePlan, Handoff: h, WorkspaceDir: workspaceDir}
	res, err := executor.Run(ctx, req, w.emitter(h.Run.ID, models.PhasePlan))
	if err != nil {
		_ = art.WriteJSON(models.ArtifactPlanError, map[string]any{"error": err.Error()})
		return h, fmt.Errorf("plan: %w", err)
	}
	if err := art.WriteJSON(models.ArtifactPlan, res.Output); err != nil {
		return h, fmt.Errorf("plan: write plan.json: %w", err)
	}

	requiresTests := planRequiresTests(res.Output)
	h = handoff.AppendHistory(h, models.PhasePlan, models.RunInProgress, time.Now().UTC(), models.ArtifactPlan)
	h.Constraints = &models.Constraints{RequireTestsForBehaviorChange: &requiresTests}
	h = handoff.WithNext(h, &models.NextPointer{
		Agent:          "implementer",
		InputArtifacts: []string{models.ArtifactPlan},
	})
	h = handoff.Advance(h, models.PhaseImplement, models.RunInProgress)
	if err := art.WriteHandoff(h); err != nil {
		return h, fmt.Errorf("plan: write handoff: %w", err)
	}
	if _, err := w.Store.Enqueue(ctx, h.Run.ID, models.PhaseImplement); err != nil {
		return h, fmt.Errorf("plan: enqueue implement: %w", err)
	}
	return h, nil
}

// planDoc is the subset of plan.json's shape the worker needs to drive the
// implement phase. The rest of the document is opaque and passes through
// untouched in the artifact file itself.
type planDoc struct {
	AllowedFiles []string      `json:"allowed_files"`
	Steps        []planStepDoc `json:"steps"`
	Tasks        []planTaskDoc `json:"tasks"`
}

type planStepDoc struct {
	ID           string `json:"id,omitempty"`
	File         string `json:"file"`
	Instructions string `json:"instructions,omitempty"`
}

type planTaskDoc struct {
	RequiresTests bool `json:"requiresTests"`
}

func planRequiresTests(output map[string]any) bool {
	rawTasks, ok := output["tasks"].([]any)
	if !ok {
		return false
	}
	for _, rt := range rawTasks {
		task, ok := rt.(map[string]any)
		if !ok {
			continue
		}
		if req, _ := task["requiresTests"].(bool); req {
			return true
		}
	}
	return false
}

type implementStep struct {
	ID           string
	File         string
	Instructions string
}

// expandSteps expands any step whose File field is itself a glob pattern
// into one step per match, synthesizing a unique id per match. Steps whose
// File names a path literally (no glob metacharacters, or a glob with no
// matches yet because the file doesn't exist) pass through unchanged.
func expandSteps(repoRoot string, steps []planStepDoc) []implementStep {
	var out []implementStep
	for i, s := range steps {
		id := s.ID
		if id == "" {
			id = fmt.Sprintf("step-%d", i+1)
		}
		if !strings.ContainsAny(s.File, "*?[") {
			out = append(out, implementStep{ID: id, File: s.File, Instructions: s.Instructions})
			continue
		}
		matches, err := filepath.Glob(filepath.Join(repoRoot, s.File))
		if err != nil || len(matches) == 0 {
			out = append(out, implementStep{ID: id, File: s.File, Instructions: s.Instructions})
			continue
		}
		for j, m := range matches {
			rel, err := filepath.Rel(repoRoot, m)
			if err != nil {
				continue
			}
			out = append(out, implementStep{ID: fmt.Sprintf("%s-%d", id, j+1), File: rel, Instructions: s.Instructions})
		}
	}
	return out
}

// expandAllowedFiles resolves plan.allowed_files into the concrete set of
// relative paths an implement step may touch: glob patterns are expanded
// against repoRoot, literal entries and step file names pass through
// verbatim, and the whole set is deduplicated.
func expandAllowedFiles(repoRoot string, patterns []string, steps []implementStep) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range patterns {
		if !strings.ContainsAny(p, "*?[") {
			add(p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(repoRoot, p))
		if err != nil || len(matches) == 0 {
			add(p)
			continue
		}
		for _, m := range matches {
			if rel, err := filepath.Rel(repoRoot, m); err == nil {
				add(rel)
			}
		}
	}
	for _, s := range steps {
		add(s.File)
	}
	return out
}

// injectedFiles reads the current contents of every existing allowed file
// under repoRoot, so the external implementor gets full file context
// alongside the plan without shelling back into the workspace itself.
// Non-existent allowed files (not yet created) and glob patterns that
// never expanded to a concrete path are silently skipped.
func injectedFiles(repoRoot string, allowed []string) map[string]string {
	files := make(map[string]string)
	for _, rel := range allowed {
		if strings.ContainsAny(rel, "*?[") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(repoRoot, rel))
		if err != nil {
			continue
		}
		files[rel] = string(data)
	}
	return files
}

func (w *Worker) processImplement(ctx context.Context, art *artifact.Store, h models.Handoff) (models.Handoff, error) {
	var plan planDoc
	if err := art.ReadJSON(models.ArtifactPlan, &plan); err != nil {
		return h, fmt.Errorf("implement: read plan.json: %w", err)
	}
	executor := w.executorFor(models.PhaseImplement)
	if executor == nil {
		return h, fmt.Errorf("implement: no executor configured")
	}

	repoRoot := w.workspaceRoot(h)
	steps := expandSteps(repoRoot, plan.Steps)
	allowed := expandAllowedFiles(repoRoot, plan.AllowedFiles, steps)
	guard := &sandbox.AllowedFilesGuard{WorkspaceDir: repoRoot, Patterns: allowed}

	if err := art.WriteJSON(models.ArtifactHandoffImpl, map[string]any{
		"handoff": h,
		"plan":    plan,
		"files":   injectedFiles(repoRoot, allowed),
	}); err != nil {
		return h, fmt.Errorf("implement: write handoff.implementor.json: %w", err)
	}

	var changedFiles []string
	for _, step := range steps {
		m, err := w.runImplementStep(ctx, executor, guard, repoRoot, h, step)
		if err != nil {
			_ = art.WriteJSON(models.ArtifactImplementorError, map[string]any{"step": step.ID, "error": err.Error()})
			return h, fmt.Errorf("implement: step %s: %w", step.ID, err)
		}
		changedFiles = append(changedFiles, m)
	}

	author, err := identity.Resolve(w.Home, repoRoot)
	if err != nil {
		slog.Warn("identity resolution failed, committing without an explicit author", "run_id", h.Run.ID, "error", err)
	}
	if err := git.CommitAs(ctx, repoRoot, "forgequeue implement: "+h.Run.ID, author.Name, author.Email); err != nil {
		return h, fmt.Errorf("implement: commit: %w", err)
	}
	diff, err := git.Diff(ctx, repoRoot, h.Run.Repo.BaseSHA, "HEAD")
	if err != nil {
		return h, fmt.Errorf("implement: diff: %w", err)
	}
	if err := art.WriteJSON(models.ArtifactImplementor, map[string]any{
		"changed_files": changedFiles,
		"diff":          diff,
	}); err != nil {
		return h, fmt.Errorf("implement: write implementor.json: %w", err)
	}

	h = handoff.AppendHistory(h, models.PhaseImplement, models.RunInProgress, time.Now().UTC(), models.ArtifactImplementor)
	h = handoff.WithNext(h, &models.NextPointer{
		Agent:          "reviewer",
		InputArtifacts: []string{models.ArtifactImplementor, models.ArtifactPlan},
	})
	h = handoff.Advance(h, models.PhaseReview, models.RunInProgress)
	if err := art.WriteHandoff(h); err != nil {
		return h, fmt.Errorf("implement: write handoff: %w", err)
	}
	if _, err := w.Store.Enqueue(ctx, h.Run.ID, models.PhaseReview); err != nil {
		return h, fmt.Errorf("implement: enqueue review: %w", err)
	}
	return h, nil
}

// runImplementStep retries the implementor call up to MaxImplementorRetries
// times for one step, applying the first mutation that succeeds. Returns
// the path of the file the step changed.
func (w *Worker) runImplementStep(ctx context.Context, executor phase.Executor, guard *sandbox.AllowedFilesGuard, repoRoot string, h models.Handoff, step implementStep) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= models.MaxImplementorRetries; attempt++ {
		stepHandoff := handoff.WithNote(h, fmt.Sprintf("implement step %s: %s (%s)", step.ID, step.File, step.Instructions))
		req := phase.Request{RunID: h.Run.ID, Phase: models.PhaseImplement, Handoff: stepHandoff, WorkspaceDir: repoRoot}
		res, err := executor.Run(ctx, req, w.emitter(h.Run.ID, models.PhaseImplement))
		if err != nil {
			lastErr = err
			continue
		}
		m, err := mutationFromOutput(step.File, res.Output)
		if err != nil {
			lastErr = err
			continue
		}
		if err := mutate.Apply(ctx, repoRoot, guard, m); err != nil {
			lastErr = err
			continue
		}
		return m.Path, nil
	}
	return "", fmt.Errorf("no successful attempt after %d retries: %w", models.MaxImplementorRetries, lastErr)
}

// mutationFromOutput interprets one implement step's result: a non-empty
// "diff" field means apply it as a unified diff; otherwise "action":"delete"
// deletes the step's file, and anything else writes "content" to it.
func mutationFromOutput(defaultPath string, output map[string]any) (mutate.Mutation, error) {
	if d, ok := output["diff"].(string); ok && strings.TrimSpace(d) != "" {
		return mutate.Mutation{Kind: mutate.KindApplyPatch, Patch: d}, nil
	}
	path := defaultPath
	if p, ok := output["path"].(string); ok && p != "" {
		path = p
	}
	if path == "" {
		return mutate.Mutation{}, fmt.Errorf("step result names no path")
	}
	if action, _ := output["action"].(string); action == "delete" {
		return mutate.Mutation{Kind: mutate.KindDeleteFile, Path: path}, nil
	}
	content, _ := output["content"].(string)
	return mutate.Mutation{Kind: mutate.KindWriteFile, Path: path, Contents: content}, nil
}

func (w *Worker) processReview(ctx context.Context, art *artifact.Store, h models.Handoff) (models.Handoff, error) {
	executor := w.executorFor(models.PhaseReview)
	if executor == nil {
		return h, fmt.Errorf("review: no executor configured")
	}

	var implementorResult map[string]any
	_ = art.ReadJSON(models.ArtifactImplementor, &implementorResult)
	if err := art.WriteJSON(models.ArtifactHandoffReview, map[string]any{
		"handoff":     h,
		"implementor": implementorResult,
	}); err != nil {
		return h, fmt.Errorf("review: write handoff.review.json: %w", err)
	}

	req := phase.Request{RunID: h.Run.ID, Phase: models.PhaseReview, Handoff: h, WorkspaceDir: w.workspaceRoot(h)}
	res, err := executor.Run(ctx, req, w.emitter(h.Run.ID, models.PhaseReview))
	if err != nil {
		_ = art.WriteJSON(models.ArtifactReviewError, map[string]any{"error": err.Error()})
		return h, fmt.Errorf("review: %w", err)
	}
	if err := art.WriteJSON(models.ArtifactReview, res.Output); err != nil {
		return h, fmt.Errorf("review: write review.json: %w", err)
	}
	h = handoff.AppendHistory(h, models.PhaseReview, models.RunInProgress, time.Now().UTC(), models.ArtifactReview)

	decision, _ := res.Output["decision"].(string)
	switch models.ReviewDecision(decision) {
	case models.ReviewApproved:
		h = handoff.WithReviewRetries(h, 0)
		h = handoff.WithNext(h, &models.NextPointer{Agent: "tester", InputArtifacts: []string{models.ArtifactReview}})
		h = handoff.Advance(h, models.PhaseTest, models.RunInProgress)
		if err := art.WriteHandoff(h); err != nil {
			return h, fmt.Errorf("review: write handoff: %w", err)
		}
		if _, err := w.Store.Enqueue(ctx, h.Run.ID, models.PhaseTest); err != nil {
			return h, fmt.Errorf("review: enqueue test: %w", err)
		}
		return h, nil

	case models.ReviewRejected:
		retries := h.State.ReviewRetries + 1
		if retries > models.MaxReviewRetries {
			h = handoff.WithNote(h, "Review rejected and retry budget exhausted.")
			return h, fmt.Errorf("Reviewer rejected: retry budget of %d exhausted", models.MaxReviewRetries)
		}
		h = handoff.WithReviewRetries(h, retries)
		if feedback, ok := res.Output["feedback"].(string); ok && feedback != "" {
			h = handoff.WithNote(h, "Review feedback: "+feedback)
		}
		h = handoff.WithNext(h, &models.NextPointer{Agent: "implementer", InputArtifacts: []string{models.ArtifactReview, models.ArtifactPlan}})
		h = handoff.Advance(h, models.PhaseImplement, models.RunInProgress)
		if err := art.WriteHandoff(h); err != nil {
			return h, fmt.Errorf("review: write handoff: %w", err)
		}
		if _, err := w.Store.Enqueue(ctx, h.Run.ID, models.PhaseImplement); err != nil {
			return h, fmt.Errorf("review: enqueue implement: %w", err)
		}
		return h, nil

	case models.ReviewBlocked:
		reason, _ := res.Output["reason"].(string)
		if reason == "" {
			reason = "blocked by reviewer"
		}
		return h, fmt.Errorf("review: %s", reason)

	default:
		return h, fmt.Errorf("review: unknown decision %q", decision)
	}
}

func (w *Worker) processTest(ctx context.Context, art *artifact.Store, h models.Handoff) (models.Handoff, error) {
	requiresTests := true
	if h.Constraints != nil && h.Constraints.RequireTestsForBehaviorChange != nil {
		requiresTests = *h.Constraints.RequireTestsForBehaviorChange
	}

	if !requiresTests {
		if err := art.WriteJSON(models.ArtifactTest, map[string]any{"status": "passed", "skipped": true}); err != nil {
			return h, fmt.Errorf("test: write test.json: %w", err)
		}
	} else {
		executor := w.executorFor(models.PhaseTest)
		if executor == nil {
			return h, fmt.Errorf("test: no executor configured")
		}
		var reviewResult map[string]any
		_ = art.ReadJSON(models.ArtifactReview, &reviewResult)
		if err := art.WriteJSON(models.ArtifactHandoffTest, map[string]any{
			"handoff": h,
			"review":  reviewResult,
		}); err != nil {
			return h, fmt.Errorf("test: write handoff.test.json: %w", err)
		}
		req := phase.Request{RunID: h.Run.ID, Phase: models.PhaseTest, Handoff: h, WorkspaceDir: w.workspaceRoot(h)}
		res, err := executor.Run(ctx, req, w.emitter(h.Run.ID, models.PhaseTest))
		if err != nil {
			_ = art.WriteJSON(models.ArtifactTestError, map[string]any{"error": err.Error()})
			return h, fmt.Errorf("test: %w", err)
		}
		if err := art.WriteJSON(models.ArtifactTest, res.Output); err != nil {
			return h, fmt.Errorf("test: write test.json: %w", err)
		}
		if status, _ := res.Output["status"].(string); status != "passed" {
			return h, fmt.Errorf("test: status %q", status)
		}
	}

	h = handoff.AppendHistory(h, models.PhaseTest, models.RunInProgress, time.Now().UTC(), models.ArtifactTest)
	h = handoff.WithNext(h, &models.NextPointer{Agent: "pr", InputArtifacts: []string{models.ArtifactTest}})
	h = handoff.Advance(h, models.PhasePR, models.RunInProgress)
	if err := art.WriteHandoff(h); err != nil {
		return h, fmt.Errorf("test: write handoff: %w", err)
	}
	if _, err := w.Store.Enqueue(ctx, h.Run.ID, models.PhasePR); err != nil {
		return h, fmt.Errorf("test: enqueue pr: %w", err)
	}
	return h, nil
}

func (w *Worker) processPR(ctx context.Context, art *artifact.Store, h models.Handoff) (models.Handoff, error) {
	root := w.workspaceRoot(h)
	draft := models.PRDraft{TaskID: h.Run.ID, Status: "ready_for_review", Repo: h.Run.Repo}
	if err := art.WriteJSON(models.ArtifactPRDraft, draft); err != nil {
		return h, fmt.Errorf("pr: write pr-draft.json: %w", err)
	}

	if h.Run.Repo.Branch != "" {
		if err := git.Push(ctx, root, h.Run.Repo.Branch); err != nil {
			// Publishing the branch is a best-effort collaborator step; its
			// absence (e.g. no push access configured) doesn't fail the run.
			slog.Warn("pr push failed", "run_id", h.Run.ID, "err", err)
		}
	}

	h = handoff.AppendHistory(h, models.PhasePR, models.RunCompleted, time.Now().UTC(), models.ArtifactPRDraft)
	h = handoff.WithNext(h, nil)
	h = handoff.Advance(h, models.PhasePR, models.RunCompleted)
	if err := art.WriteHandoff(h); err != nil {
		return h, fmt.Errorf("pr: write handoff: %w", err)
	}

	if !h.Run.KeepWorkspace {
		if err := git.DeleteWorktree(ctx, root); err != nil {
			slog.Warn("pr delete workspace failed", "run_id", h.Run.ID, "err", err)
		}
	}
	if w.Notify != nil {
		w.Notify(h)
	}
	return h, nil
}
