// Package docker wraps the Docker SDK with the image and container
// operations deployment steps need: running a step's script in a container,
// committing the result to a content-addressed tag, and moving images in and
// out of the filesystem cache.
package docker

import "context"

// =============================================================================
// Specs
// =============================================================================

// BindMount maps a host path into a container.
type BindMount struct {
	Source   string // Host path
	Target   string // Container path
	ReadOnly bool
}

// RunSpec describes a one-shot step container: create it, run the command to
// completion, leave the stopped container in place so it can be committed.
type RunSpec struct {
	Name       string
	Image      string
	Platform   string // e.g. "linux/amd64", "" for the daemon default
	Cmd        []string
	Env        map[string]string
	Mounts     []BindMount
	WorkingDir string
}

// BuildSpec describes a Dockerfile image build.
type BuildSpec struct {
	// ContextDir is the host directory sent as the build context.
	ContextDir string
	// Dockerfile is the Dockerfile path relative to ContextDir.
	Dockerfile string
	// Tag is the name the built image is tagged with.
	Tag      string
	Platform string
	// BuildArgs are passed through as --build-arg values.
	BuildArgs map[string]string
}

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the Docker operations used by step execution. The
// containerized executor is written against this interface so tests can
// substitute a fake daemon.
type Client interface {
	// Ping checks if the Docker daemon is reachable.
	Ping(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error

	// ImageExists checks if an image with the given tag exists locally.
	ImageExists(ctx context.Context, name string) (bool, error)
	// LoadImage loads a serialized image tar into the local daemon.
	LoadImage(ctx context.Context, tarPath string) error
	// SaveImage serializes an image into a tar file at tarPath.
	SaveImage(ctx context.Context, name, tarPath string) error
	// BuildImage builds and tags an image from a Dockerfile.
	BuildImage(ctx context.Context, spec BuildSpec) error

	// RunContainer creates a container from spec, runs its command to
	// completion streaming output, and returns the container ID. A non-zero
	// exit is an error; the stopped container is left for CommitContainer or
	// RemoveContainer either way.
	RunContainer(ctx context.Context, spec RunSpec) (string, error)
	// CommitContainer commits a stopped container's filesystem to an image
	// with the given tag.
	CommitContainer(ctx context.Context, containerID, imageName string) error
	// RemoveContainer force-removes a container. Removing an already-gone
	// container is not an error.
	RemoveContainer(ctx context.Context, containerID string) error
}
