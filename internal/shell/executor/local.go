package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/tambel/scalyr-agent-2/internal/core/step"
)

// =============================================================================
// Local Executor
// =============================================================================

// LocalExecutor runs a step's script as a subprocess on the host.
type LocalExecutor struct {
	logger *slog.Logger
}

// NewLocalExecutor creates a local executor.
func NewLocalExecutor(logger *slog.Logger) *LocalExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalExecutor{logger: logger}
}

// Execute runs the step's script on the host. The script gets an isolated
// copy of the tracked source files as its working directory, the output
// location and any step settings through the environment, and the step's
// cache directory as its argument when caching is enabled.
func (e *LocalExecutor) Execute(ctx context.Context, job Job) error {
	script, ok := job.Step.Step.Recipe().(step.Script)
	if !ok {
		return fmt.Errorf("step %q: recipe %T cannot run locally", job.Step.Step.Kind(), job.Step.Step.Recipe())
	}

	sourceRoot, err := prepareSourceRoot(job)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	interpreter, err := exec.LookPath(interpreterFor(script.ScriptPath))
	if err != nil {
		return fmt.Errorf("step %q: %w", job.Step.Step.Kind(), err)
	}

	args := []string{filepath.FromSlash(script.ScriptPath)}
	if job.CacheDir != "" {
		args = append(args, job.CacheDir)
	}

	cmd := exec.CommandContext(ctx, interpreter, args...)
	cmd.Dir = sourceRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	cmd.Env = append(os.Environ(),
		"SOURCE_ROOT="+sourceRoot,
		"STEP_OUTPUT_PATH="+job.OutputDir,
	)
	for k, v := range job.Step.Step.Settings() {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	e.logger.Info("running step locally",
		"step", job.Step.Step.Kind(),
		"script", script.ScriptPath,
	)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("step %q script %q: %w", job.Step.Step.Kind(), script.ScriptPath, err)
	}
	return nil
}
