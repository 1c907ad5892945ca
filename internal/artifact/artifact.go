// Package artifact manages the per-run file tree under
// <home>/runs/<run_id>/: task.json, handoff.json, and the phase outputs
// each worker writes as it completes a step. All writes are atomic
// (write to a temp file, then rename) so a reader never observes a
// partially written artifact.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgequeue/forgequeue/internal/config"
	"github.com/forgequeue/forgequeue/pkg/models"
)

// Store reads and writes artifacts for one run.
type Store struct {
	Dir string // <home>/runs/<run_id>
}

// Open returns a Store for runID rooted at home, creating its directory.
func Open(home, runID string) (*Store, error) {
	dir := config.RunDir(home, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

// Path returns the absolute path of a canonical artifact name within the
// run directory.
func (s *Store) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// WriteJSON marshals v as indented JSON and writes it to name atomically.
func (s *Store) WriteJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	dest := s.Path(name)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// ReadJSON reads name and unmarshals it into v.
func (s *Store) ReadJSON(name string, v any) error {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}

// Exists reports whether an artifact by that name has been written.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// WriteHandoff atomically writes h as the run's canonical handoff.json.
func (s *Store) WriteHandoff(h models.Handoff) error {
	return s.WriteJSON(models.ArtifactHandoff, h)
}

// ReadHandoff reads the run's canonical handoff.json.
func (s *Store) ReadHandoff() (models.Handoff, error) {
	var h models.Handoff
	err := s.ReadJSON(models.ArtifactHandoff, &h)
	return h, err
}

// WriteTask atomically writes task as the run's task.json.
func (s *Store) WriteTask(task models.TaskInfo) error {
	return s.WriteJSON(models.ArtifactTask, task)
}
