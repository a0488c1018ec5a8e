package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tambel/scalyr-agent-2/internal/core/deploy"
	"github.com/tambel/scalyr-agent-2/internal/core/step"
	"github.com/tambel/scalyr-agent-2/internal/shell/cache"
	"github.com/tambel/scalyr-agent-2/internal/shell/docker"
)

// =============================================================================
// Runner
// =============================================================================

// RunnerConfig configures a deployment runner. Local and Container may be
// left nil to use the real executors; tests substitute counting fakes.
type RunnerConfig struct {
	// SourceRoot is the project root tracked files resolve against.
	SourceRoot string
	// WorkRoot is the scratch directory for isolated source roots and
	// uncached step outputs.
	WorkRoot string
	// Docker is required when any containerized step has to run or be
	// probed; a fully local deployment works without it.
	Docker docker.Client
	Logger *slog.Logger

	Local     Executor
	Container Executor
}

// Runner executes deployments step by step, consulting the cache before any
// work and persisting results after it. Execution is strictly sequential:
// each step needs its predecessor's result as its base, so even cache
// probing is inherently ordered.
type Runner struct {
	sourceRoot string
	workRoot   string
	docker     docker.Client
	logger     *slog.Logger
	local      Executor
	container  Executor
}

// NewRunner creates a runner from the given configuration.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	local := cfg.Local
	if local == nil {
		local = NewLocalExecutor(logger)
	}
	container := cfg.Container
	if container == nil {
		container = NewContainerExecutor(cfg.Docker, logger)
	}

	return &Runner{
		sourceRoot: cfg.SourceRoot,
		workRoot:   cfg.WorkRoot,
		docker:     cfg.Docker,
		logger:     logger,
		local:      local,
		container:  container,
	}
}

// Deploy runs every step of the deployment in order. With a non-empty
// cacheDir each step gets its own subdirectory named by its cache key, and
// already materialized steps are skipped, which makes Deploy idempotent:
// a second call with the same cache directory performs no rebuild work.
func (r *Runner) Deploy(ctx context.Context, d *deploy.Deployment, cacheDir string) error {
	resolved, err := d.Resolve(r.sourceRoot)
	if err != nil {
		return err
	}

	var store *cache.Store
	if cacheDir != "" {
		store = cache.NewStore(cacheDir)
	}

	baseImage := ""
	if len(resolved) > 0 {
		baseImage = resolved[0].Step.InitialImage()
	}

	for _, res := range resolved {
		if err := r.runStep(ctx, res, baseImage, store); err != nil {
			r.logger.Error("deployment step failed",
				"deployment", d.Name(),
				"step", res.Step.Kind(),
				"tracked_files", res.Step.TrackedRefs(),
				"error", err,
			)
			return fmt.Errorf("deployment %q: %w", d.Name(), err)
		}
		// The next step builds on this step's committed result.
		baseImage = res.ResultImageName()
	}

	return nil
}

// =============================================================================
// Per-Step State Machine
// =============================================================================

// runStep takes one step through resolve-mode → cache-probe → execute →
// persist. A cache hit short-circuits before any executor is invoked;
// failure anywhere is terminal for the whole deployment.
func (r *Runner) runStep(ctx context.Context, res step.Resolved, baseImage string, store *cache.Store) error {
	if res.Step.InContainer() {
		return r.runContainerStep(ctx, res, baseImage, store)
	}
	return r.runLocalStep(ctx, res, store)
}

func (r *Runner) runContainerStep(ctx context.Context, res step.Resolved, baseImage string, store *cache.Store) error {
	if r.docker == nil {
		return fmt.Errorf("step %q runs in a container but no docker client is configured", res.Step.Kind())
	}

	resultImage := res.ResultImageName()

	// The tag embeds the content checksum, so tag identity guarantees
	// content identity: an existing image is always trustworthy.
	exists, err := r.docker.ImageExists(ctx, resultImage)
	if err != nil {
		return err
	}
	if exists {
		r.logger.Info("image already exists, skipping the build and reusing it",
			"step", res.Step.Kind(),
			"image", resultImage,
		)
		return nil
	}

	if store != nil && store.HasImage(res.CacheKey) {
		r.logger.Info("cached image file found, loading it instead of building",
			"step", res.Step.Kind(),
			"image", resultImage,
		)
		return r.docker.LoadImage(ctx, store.ImagePath(res.CacheKey))
	}

	job, err := r.jobFor(res, baseImage, store)
	if err != nil {
		return err
	}

	if err := r.container.Execute(ctx, job); err != nil {
		return err
	}

	if store != nil {
		if _, err := store.EnsureStepDir(res.CacheKey); err != nil {
			return err
		}
		r.logger.Info("saving result image into cache",
			"step", res.Step.Kind(),
			"image", resultImage,
		)
		if err := r.docker.SaveImage(ctx, resultImage, store.ImagePath(res.CacheKey)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runLocalStep(ctx context.Context, res step.Resolved, store *cache.Store) error {
	if store != nil && store.HasOutput(res.CacheKey) {
		r.logger.Info("cached step output found, skipping",
			"step", res.Step.Kind(),
			"cache_key", res.CacheKey,
		)
		return nil
	}

	job, err := r.jobFor(res, "", store)
	if err != nil {
		return err
	}

	if store != nil {
		if err := store.DiscardTempOutput(res.CacheKey); err != nil {
			return err
		}
	} else {
		if err := os.RemoveAll(job.OutputDir); err != nil {
			return fmt.Errorf("reset output dir: %w", err)
		}
	}

	if err := r.local.Execute(ctx, job); err != nil {
		return err
	}

	// Promote the temp output so only fully written results ever look like
	// valid cache entries.
	if store != nil {
		return store.PromoteOutput(res.CacheKey)
	}
	return nil
}

// jobFor assembles the work order for a step that has to run.
func (r *Runner) jobFor(res step.Resolved, baseImage string, store *cache.Store) (Job, error) {
	job := Job{
		Step:       res,
		BaseImage:  baseImage,
		SourceRoot: r.sourceRoot,
		WorkRoot:   r.workRoot,
	}

	if store != nil {
		stepDir, err := store.EnsureStepDir(res.CacheKey)
		if err != nil {
			return Job{}, err
		}
		job.CacheDir = stepDir
		job.OutputDir = store.TempOutputDir(res.CacheKey)
	} else {
		job.OutputDir = filepath.Join(r.workRoot, "step_outputs", res.CacheKey)
	}

	return job, nil
}
