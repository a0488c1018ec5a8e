package docker

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient implements the Client interface using the Docker SDK.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient creates a new Docker client. If host is empty, it uses the
// default Docker host from environment.
func NewDockerClient(host string) (*DockerClient, error) {
	var opts []client.Opt
	opts = append(opts, client.FromEnv)
	opts = append(opts, client.WithAPIVersionNegotiation())

	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewDockerClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	return &DockerClient{cli: cli}, nil
}

// Ping checks if the Docker daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Image Operations
// =============================================================================

// ImageExists checks if an image exists locally.
func (d *DockerClient) ImageExists(ctx context.Context, name string) (bool, error) {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, NewDockerError("ImageExists", "image", name, err.Error(), err)
	}
	return true, nil
}

// LoadImage loads a serialized image tar into the local daemon.
func (d *DockerClient) LoadImage(ctx context.Context, tarPath string) error {
	f, err := os.Open(tarPath)
	if err != nil {
		return NewDockerError("LoadImage", "image", tarPath, err.Error(), ErrImageLoadFailed)
	}
	defer f.Close()

	resp, err := d.cli.ImageLoad(ctx, f, true)
	if err != nil {
		return NewDockerError("LoadImage", "image", tarPath, err.Error(), ErrImageLoadFailed)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return NewDockerError("LoadImage", "image", tarPath, err.Error(), ErrImageLoadFailed)
	}
	return nil
}

// SaveImage serializes an image into a tar file. The file is written to a
// temporary sibling first and renamed into place, so a crash mid-save never
// leaves a truncated file at the final path.
func (d *DockerClient) SaveImage(ctx context.Context, name, tarPath string) error {
	reader, err := d.cli.ImageSave(ctx, []string{name})
	if err != nil {
		return NewDockerError("SaveImage", "image", name, err.Error(), ErrImageSaveFailed)
	}
	defer reader.Close()

	tmpPath := tarPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return NewDockerError("SaveImage", "image", name, err.Error(), ErrImageSaveFailed)
	}

	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return NewDockerError("SaveImage", "image", name, err.Error(), ErrImageSaveFailed)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return NewDockerError("SaveImage", "image", name, err.Error(), ErrImageSaveFailed)
	}

	if err := os.Rename(tmpPath, tarPath); err != nil {
		os.Remove(tmpPath)
		return NewDockerError("SaveImage", "image", name, err.Error(), ErrImageSaveFailed)
	}
	return nil
}

// BuildImage builds and tags an image from a Dockerfile.
func (d *DockerClient) BuildImage(ctx context.Context, spec BuildSpec) error {
	contextTar, err := tarDirectory(spec.ContextDir)
	if err != nil {
		return NewDockerError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}
	defer contextTar.Close()

	buildArgs := make(map[string]*string, len(spec.BuildArgs))
	for k, v := range spec.BuildArgs {
		value := v
		buildArgs[k] = &value
	}

	resp, err := d.cli.ImageBuild(ctx, contextTar, types.ImageBuildOptions{
		Tags:       []string{spec.Tag},
		Dockerfile: spec.Dockerfile,
		Platform:   spec.Platform,
		BuildArgs:  buildArgs,
		Remove:     true,
	})
	if err != nil {
		return NewDockerError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}
	defer resp.Body.Close()

	// The build result arrives as a JSON message stream; an error message in
	// the stream means the build failed even though the request succeeded.
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, os.Stdout, 0, false, nil); err != nil {
		return NewDockerError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}
	return nil
}

// =============================================================================
// Container Operations
// =============================================================================

// RunContainer creates a container, runs its command to completion and
// returns the container ID. Output is streamed to the process's stdout and
// stderr. The stopped container is left in place so the caller can commit
// or remove it; on a non-zero exit the ID is returned together with the
// error.
func (d *DockerClient) RunContainer(ctx context.Context, spec RunSpec) (string, error) {
	config := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		WorkingDir: spec.WorkingDir,
	}
	for k, v := range spec.Env {
		config.Env = append(config.Env, fmt.Sprintf("%s=%s", k, v))
	}

	hostConfig := &container.HostConfig{}
	for _, m := range spec.Mounts {
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, parsePlatform(spec.Platform), spec.Name)
	if err != nil {
		return "", NewDockerError("RunContainer", "container", spec.Name, err.Error(), err)
	}
	containerID := resp.ID

	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return containerID, NewDockerError("RunContainer", "container", spec.Name, err.Error(), err)
	}

	// Stream the container's output while it runs.
	logs, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err == nil {
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer logs.Close()
			stdcopy.StdCopy(os.Stdout, os.Stderr, logs)
		}()
		defer func() { <-done }()
	}

	statusCh, errCh := d.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return containerID, NewDockerError("RunContainer", "container", spec.Name, err.Error(), err)
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return containerID, NewDockerError("RunContainer", "container", spec.Name,
				fmt.Sprintf("exit status %d", status.StatusCode), ErrContainerFailed)
		}
	}

	return containerID, nil
}

// CommitContainer commits a stopped container's filesystem to an image tag.
func (d *DockerClient) CommitContainer(ctx context.Context, containerID, imageName string) error {
	_, err := d.cli.ContainerCommit(ctx, containerID, container.CommitOptions{
		Reference: imageName,
	})
	if err != nil {
		return NewDockerError("CommitContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// RemoveContainer force-removes a container. A missing container is treated
// as already removed.
func (d *DockerClient) RemoveContainer(ctx context.Context, containerID string) error {
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return NewDockerError("RemoveContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// parsePlatform converts "linux/amd64" style strings into the OCI platform
// the SDK expects. An empty string selects the daemon default.
func parsePlatform(platform string) *ocispec.Platform {
	if platform == "" {
		return nil
	}
	parts := strings.SplitN(platform, "/", 2)
	if len(parts) != 2 {
		return &ocispec.Platform{OS: "linux", Architecture: parts[0]}
	}
	return &ocispec.Platform{OS: parts[0], Architecture: parts[1]}
}

// tarDirectory packs a directory into an in-memory-backed tar stream for
// use as a docker build context.
func tarDirectory(dir string) (io.ReadCloser, error) {
	pr, pw := io.Pipe()

	go func() {
		tw := tar.NewWriter(pw)

		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}

			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			header.Name = filepath.ToSlash(rel)

			if err := tw.WriteHeader(header); err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			_, err = io.Copy(tw, f)
			return err
		})

		if closeErr := tw.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	return pr, nil
}
