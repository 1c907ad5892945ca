package phase

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/forgequeue/forgequeue/internal/sandbox"
)

// SubprocessExecutor runs an external binary for one phase step: stdin is
// the JSON-encoded Request, stdout is NDJSON Events, and the Data of the
// last "result" event becomes the Result's Output; stdout lines that are not
// valid JSON are skipped. If Home is set and bubblewrap is available on Linux, the process
// runs sandboxed with only the run's own workspace writable.
type SubprocessExecutor struct {
	Command string
	Args    []string
	Home    string
}

func (e SubprocessExecutor) Name() string { return "subprocess:" + e.Command }

func (e SubprocessExecutor) Run(ctx context.Context, req Request, emit func(Event)) (Result, error) {
	if e.Command == "" {
		return Result{}, errors.New("subprocess command is required")
	}
	if sandbox.BlockedShellCommand(strings.Join(append([]string{e.Command}, e.Args...), " ")) {
		return Result{}, fmt.Errorf("phase executor command %q is on the deny list", e.Command)
	}
	cmd := sandbox.WrapCommand(ctx, e.Home, req.WorkspaceDir, e.Command, e.Args)

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return Result{}, err
	}
	cmd.Stdin = strings.NewReader(string(reqJSON) + "\n")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, err
	}
	if err := cmd.Start(); err != nil {
		return Result{}, err
	}
	defer func() {
		if ctx.Err() != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		if err := cmd.Wait(); err != nil {
			slog.Warn("phase subprocess exited with error", "command", e.Command, "run_id", req.RunID, "err", err)
		}
	}()

	var result Result
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		emit(ev)
		if ev.Type == "result" {
			result.Output = ev.Data
		}
	}
	if err := sc.Err(); err != nil {
		return Result{}, err
	}
	return result, nil
}
