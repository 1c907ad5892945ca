package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgequeue/forgequeue/internal/artifact"
	"github.com/forgequeue/forgequeue/internal/config"
	"github.com/forgequeue/forgequeue/pkg/models"
)

func newStatusCmd() *cobra.Command {
	var (
		watch    bool
		interval int
	)

	cmd := &cobra.Command{
		Use:   "status [runId]",
		Short: "Show run status by reading its artifacts directly",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			var runID string
			if len(args) == 1 {
				runID = args[0]
			}

			print := func() error { return printStatus(cmd.OutOrStdout(), home, runID) }
			if !watch {
				return print()
			}

			d := time.Duration(interval) * time.Millisecond
			if d <= 0 {
				d = time.Second
			}
			ticker := time.NewTicker(d)
			defer ticker.Stop()
			ctx := cmd.Context()
			for {
				if err := print(); err != nil {
					return err
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Continuously refresh status until interrupted")
	cmd.Flags().IntVar(&interval, "interval", 1000, "Refresh interval in milliseconds (with --watch)")
	return cmd
}

func printStatus(w io.Writer, home, runID string) error {
	if runID == "" {
		summaries, err := listRunSummaries(home)
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			_, _ = fmt.Fprintln(w, "no runs")
			return nil
		}
		for _, s := range summaries {
			_, _ = fmt.Fprintf(w, "%-28s %-11s %-9s iter=%d\n", s.RunID, s.Phase, s.Status, s.Iteration)
		}
		return nil
	}

	art, err := artifact.Open(home, runID)
	if err != nil {
		return err
	}
	if !art.Exists(models.ArtifactHandoff) {
		return fmt.Errorf("run %s not found", runID)
	}
	h, err := art.ReadHandoff()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "run:       %s\n", h.Run.ID)
	_, _ = fmt.Fprintf(w, "phase:     %s\n", h.State.Phase)
	_, _ = fmt.Fprintf(w, "status:    %s\n", h.State.Status)
	_, _ = fmt.Fprintf(w, "iteration: %d/%d\n", h.State.Iteration, h.State.MaxIterations)
	if len(h.State.History) > 0 {
		last := h.State.History[len(h.State.History)-1]
		_, _ = fmt.Fprintf(w, "last:      %s -> %s at %s\n", last.Phase, last.Status, last.EndedAt.Format(time.RFC3339))
	}
	if len(h.Notes) > 0 {
		_, _ = fmt.Fprintf(w, "note:      %s\n", h.Notes[len(h.Notes)-1])
	}
	return nil
}

type runSummary struct {
	RunID     string
	Phase     models.Phase
	Status    models.RunStatus
	Iteration int
}

func listRunSummaries(home string) ([]runSummary, error) {
	entries, err := os.ReadDir(config.RunsDir(home))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	summaries := make([]runSummary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()
		art, err := artifact.Open(home, runID)
		if err != nil || !art.Exists(models.ArtifactHandoff) {
			continue
		}
		h, err := art.ReadHandoff()
		if err != nil {
			continue
		}
		summaries = append(summaries, runSummary{RunID: runID, Phase: h.State.Phase, Status: h.State.Status, Iteration: h.State.Iteration})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].RunID < summaries[j].RunID })
	return summaries, nil
}
