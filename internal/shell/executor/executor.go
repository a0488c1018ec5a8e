// Package executor runs deployment steps, either directly on the host or
// inside docker containers, and orchestrates whole deployments with
// checksum-keyed caching.
package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tambel/scalyr-agent-2/internal/core/checksum"
	"github.com/tambel/scalyr-agent-2/internal/core/step"
)

// =============================================================================
// Job
// =============================================================================

// Job is the fully resolved work order for one step execution. The runner
// builds it after cache probing decided the step actually has to run.
type Job struct {
	// Step is the resolved step with its eagerly computed identity.
	Step step.Resolved
	// BaseImage is the image the step starts from: the predecessor's result
	// image, or the deployment's base image for the first step. Empty for
	// pure-local steps.
	BaseImage string
	// SourceRoot is the project root the step's tracked files live under.
	SourceRoot string
	// WorkRoot is the scratch directory for isolated source roots.
	WorkRoot string
	// OutputDir is where the step must write its results. It is a temporary
	// location; the runner promotes it after success.
	OutputDir string
	// CacheDir is the step's private cache directory, passed through to the
	// step script so it can keep its own intermediate results. Empty when
	// caching is disabled.
	CacheDir string
}

// Executor performs the actual execution of a step's logic. Exactly two
// implementations exist: one for the host and one for containers.
type Executor interface {
	Execute(ctx context.Context, job Job) error
}

// =============================================================================
// Isolated Source Roots
// =============================================================================

// prepareSourceRoot materializes an isolated copy of the step's tracked
// files under the work root. The step only ever sees the files it declared;
// an undeclared dependency fails visibly instead of silently defeating the
// checksum.
func prepareSourceRoot(job Job) (string, error) {
	dir := filepath.Join(job.WorkRoot, "source_roots", job.Step.CacheKey)

	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("reset source root: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create source root: %w", err)
	}

	paths, err := checksum.ResolveTrackedFiles(job.SourceRoot, job.Step.Step.TrackedRefs())
	if err != nil {
		return "", err
	}

	for _, rel := range paths {
		src := filepath.Join(job.SourceRoot, filepath.FromSlash(rel))
		dst := filepath.Join(dir, filepath.FromSlash(rel))

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", fmt.Errorf("copy tracked file %q: %w", rel, err)
		}
		if err := copyFile(src, dst); err != nil {
			return "", fmt.Errorf("copy tracked file %q: %w", rel, err)
		}
	}

	return dir, nil
}

// copyFile copies a regular file preserving its permission bits.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// =============================================================================
// Script Interpreters
// =============================================================================

// interpreterFor chooses the interpreter for a script by its extension.
func interpreterFor(scriptPath string) string {
	switch filepath.Ext(scriptPath) {
	case ".ps1":
		return "powershell"
	case ".py":
		return "python3"
	default:
		return "bash"
	}
}
