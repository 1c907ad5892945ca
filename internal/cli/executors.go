package cli

import (
	"fmt"

	"github.com/forgequeue/forgequeue/internal/phase"
	"github.com/forgequeue/forgequeue/pkg/models"
)

var allPhases = []models.Phase{
	models.PhasePlan, models.PhaseImplement, models.PhaseReview, models.PhaseTest, models.PhasePR,
}

// buildExecutors maps every pipeline phase to the same collaborator,
// mirroring the teacher's single `--runtime`/`--subprocess-cmd` pair: one
// external binary receives the phase in its request and decides what to
// do, rather than wiring a different binary per phase.
func buildExecutors(runtimeKind, command string, args []string, home string) (map[models.Phase]phase.Executor, error) {
	var exec phase.Executor
	switch runtimeKind {
	case "", "stub":
		exec = phase.StubExecutor{}
	case "subprocess":
		if command == "" {
			return nil, fmt.Errorf("--executor-cmd is required for --runtime subprocess")
		}
		exec = phase.SubprocessExecutor{Command: command, Args: args, Home: home}
	default:
		return nil, fmt.Errorf("unknown runtime %q (want stub or subprocess)", runtimeKind)
	}

	executors := make(map[models.Phase]phase.Executor, len(allPhases))
	for _, p := range allPhases {
		executors[p] = exec
	}
	return executors, nil
}
