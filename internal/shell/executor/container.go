package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/google/uuid"

	"github.com/tambel/scalyr-agent-2/internal/core/step"
	"github.com/tambel/scalyr-agent-2/internal/shell/docker"
)

// Paths inside step containers.
const (
	containerSourceRoot = "/tmp/agent-source"
	containerOutputPath = "/tmp/step/output"
	containerCachePath  = "/tmp/step/cache"
)

// =============================================================================
// Container Executor
// =============================================================================

// ContainerExecutor runs a step inside a container derived from the step's
// base image and commits the result to an image tagged with the step's
// cache key.
type ContainerExecutor struct {
	docker docker.Client
	logger *slog.Logger
}

// NewContainerExecutor creates a containerized executor.
func NewContainerExecutor(cli docker.Client, logger *slog.Logger) *ContainerExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContainerExecutor{docker: cli, logger: logger}
}

// Execute runs the step containerized. Script recipes run in a one-shot
// container that is committed to the result image; Dockerfile recipes build
// the result image directly. The transient container is removed on every
// exit path.
func (e *ContainerExecutor) Execute(ctx context.Context, job Job) error {
	if e.docker == nil {
		return fmt.Errorf("step %q: no docker client configured", job.Step.Step.Kind())
	}

	switch recipe := job.Step.Step.Recipe().(type) {
	case step.Script:
		return e.runScript(ctx, job, recipe)
	case step.Dockerfile:
		return e.buildImage(ctx, job, recipe)
	default:
		return fmt.Errorf("step %q: unsupported recipe %T", job.Step.Step.Kind(), recipe)
	}
}

func (e *ContainerExecutor) runScript(ctx context.Context, job Job, recipe step.Script) error {
	sourceRoot, err := prepareSourceRoot(job)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	resultImage := job.Step.ResultImageName()

	// The container name gets a random suffix so a crashed previous run, or
	// a concurrent pipeline building the same key, never collides on it.
	containerName := fmt.Sprintf("agent-build-%s-%s", job.Step.Step.Kind(), uuid.NewString()[:8])

	env := map[string]string{
		"SOURCE_ROOT":      containerSourceRoot,
		"STEP_OUTPUT_PATH": containerOutputPath,
	}
	for k, v := range job.Step.Step.Settings() {
		env[k] = v
	}

	mounts := []docker.BindMount{
		{Source: sourceRoot, Target: containerSourceRoot},
		{Source: job.OutputDir, Target: containerOutputPath},
	}

	cmd := []string{interpreterFor(recipe.ScriptPath), path.Join(containerSourceRoot, recipe.ScriptPath)}
	if job.CacheDir != "" {
		mounts = append(mounts, docker.BindMount{Source: job.CacheDir, Target: containerCachePath})
		cmd = append(cmd, containerCachePath)
	}

	e.logger.Info("running step in container",
		"step", job.Step.Step.Kind(),
		"base_image", job.BaseImage,
		"result_image", resultImage,
	)

	containerID, runErr := e.docker.RunContainer(ctx, docker.RunSpec{
		Name:       containerName,
		Image:      job.BaseImage,
		Platform:   job.Step.Step.Architecture().DockerPlatform(),
		Cmd:        cmd,
		Env:        env,
		Mounts:     mounts,
		WorkingDir: containerSourceRoot,
	})
	if containerID != "" {
		defer func() {
			if err := e.docker.RemoveContainer(context.WithoutCancel(ctx), containerID); err != nil {
				e.logger.Warn("failed to remove step container",
					"container", containerName,
					"error", err,
				)
			}
		}()
	}
	if runErr != nil {
		return fmt.Errorf("step %q: %w", job.Step.Step.Kind(), runErr)
	}

	if err := e.docker.CommitContainer(ctx, containerID, resultImage); err != nil {
		return fmt.Errorf("step %q: %w", job.Step.Step.Kind(), err)
	}
	return nil
}

func (e *ContainerExecutor) buildImage(ctx context.Context, job Job, recipe step.Dockerfile) error {
	sourceRoot, err := prepareSourceRoot(job)
	if err != nil {
		return err
	}

	buildArgs := job.Step.Step.Settings()
	if job.BaseImage != "" {
		buildArgs["BASE_IMAGE_NAME"] = job.BaseImage
	}

	e.logger.Info("building step image from dockerfile",
		"step", job.Step.Step.Kind(),
		"dockerfile", recipe.DockerfilePath,
		"result_image", job.Step.ResultImageName(),
	)

	err = e.docker.BuildImage(ctx, docker.BuildSpec{
		ContextDir: sourceRoot,
		Dockerfile: recipe.DockerfilePath,
		Tag:        job.Step.ResultImageName(),
		Platform:   job.Step.Step.Architecture().DockerPlatform(),
		BuildArgs:  buildArgs,
	})
	if err != nil {
		return fmt.Errorf("step %q: %w", job.Step.Step.Kind(), err)
	}
	return nil
}
