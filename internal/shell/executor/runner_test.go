package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tambel/scalyr-agent-2/internal/core/deploy"
	"github.com/tambel/scalyr-agent-2/internal/core/step"
	"github.com/tambel/scalyr-agent-2/internal/shell/cache"
	"github.com/tambel/scalyr-agent-2/internal/shell/docker"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeExecutor records which steps it ran and produces a minimal output dir,
// the way a well-behaved step script would.
type fakeExecutor struct {
	calls  []string
	failOn string
}

func (f *fakeExecutor) Execute(ctx context.Context, job Job) error {
	kind := job.Step.Step.Kind()
	f.calls = append(f.calls, kind)
	if kind == f.failOn {
		return errors.New("step blew up")
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(job.OutputDir, "done"), []byte("ok"), 0o644)
}

// fakeContainerExecutor additionally registers the step's result image in
// the fake daemon, mirroring the real executor's commit.
type fakeContainerExecutor struct {
	fakeExecutor
	daemon *fakeDocker
}

func (f *fakeContainerExecutor) Execute(ctx context.Context, job Job) error {
	if err := f.fakeExecutor.Execute(ctx, job); err != nil {
		return err
	}
	f.daemon.images[job.Step.ResultImageName()] = true
	return nil
}

// fakeDocker is an in-memory stand-in for the docker daemon.
type fakeDocker struct {
	images    map[string]bool
	loaded    []string
	saved     []string
	runs      []docker.RunSpec
	builds    []docker.BuildSpec
	committed []string
	removed   []string
	runErr    error
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{images: map[string]bool{}}
}

func (f *fakeDocker) Ping(ctx context.Context) error { return nil }
func (f *fakeDocker) Close() error                   { return nil }

func (f *fakeDocker) ImageExists(ctx context.Context, name string) (bool, error) {
	return f.images[name], nil
}

func (f *fakeDocker) LoadImage(ctx context.Context, tarPath string) error {
	f.loaded = append(f.loaded, tarPath)
	return nil
}

func (f *fakeDocker) SaveImage(ctx context.Context, name, tarPath string) error {
	f.saved = append(f.saved, name)
	return os.WriteFile(tarPath, []byte("image tar"), 0o644)
}

func (f *fakeDocker) BuildImage(ctx context.Context, spec docker.BuildSpec) error {
	f.builds = append(f.builds, spec)
	f.images[spec.Tag] = true
	return nil
}

func (f *fakeDocker) RunContainer(ctx context.Context, spec docker.RunSpec) (string, error) {
	f.runs = append(f.runs, spec)
	if f.runErr != nil {
		return "container-" + spec.Name, f.runErr
	}
	return "container-" + spec.Name, nil
}

func (f *fakeDocker) CommitContainer(ctx context.Context, containerID, imageName string) error {
	f.committed = append(f.committed, imageName)
	f.images[imageName] = true
	return nil
}

func (f *fakeDocker) RemoveContainer(ctx context.Context, containerID string) error {
	f.removed = append(f.removed, containerID)
	return nil
}

// =============================================================================
// Test Setup
// =============================================================================

type runnerFixture struct {
	runner    *Runner
	local     *fakeExecutor
	container *fakeContainerExecutor
	daemon    *fakeDocker
	root      string
	cacheDir  string
}

func newFixture(t *testing.T) *runnerFixture {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		path := filepath.Join(root, "scripts", name+".sh")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("echo "+name), 0o644))
	}

	daemon := newFakeDocker()
	local := &fakeExecutor{}
	container := &fakeContainerExecutor{daemon: daemon}

	return &runnerFixture{
		runner: NewRunner(RunnerConfig{
			SourceRoot: root,
			WorkRoot:   t.TempDir(),
			Docker:     daemon,
			Local:      local,
			Container:  container,
		}),
		local:     local,
		container: container,
		daemon:    daemon,
		root:      root,
		cacheDir:  t.TempDir(),
	}
}

func (f *runnerFixture) deployment(t *testing.T, name, baseImage string) *deploy.Deployment {
	t.Helper()
	bps := []step.Blueprint{
		{Kind: "step-a", Recipe: step.Script{ScriptPath: "scripts/a.sh"}},
		{Kind: "step-b", Recipe: step.Script{ScriptPath: "scripts/b.sh"}},
		{Kind: "step-c", Recipe: step.Script{ScriptPath: "scripts/c.sh"}},
	}
	d, err := deploy.New(name, step.ArchX8664, baseImage, bps)
	require.NoError(t, err)
	return d
}

// =============================================================================
// Local Deployment Tests
// =============================================================================

func TestDeploy_RunsStepsInChainOrder(t *testing.T) {
	f := newFixture(t)
	d := f.deployment(t, "env", "")

	require.NoError(t, f.runner.Deploy(context.Background(), d, f.cacheDir))

	assert.Equal(t, []string{"step-a", "step-b", "step-c"}, f.local.calls)
	assert.Empty(t, f.container.calls)

	// Every step's output was promoted into its cache entry.
	store := cache.NewStore(f.cacheDir)
	resolved, err := d.Resolve(f.root)
	require.NoError(t, err)
	for _, r := range resolved {
		assert.True(t, store.HasOutput(r.CacheKey), r.CacheKey)
	}
}

func TestDeploy_SecondRunExecutesNothing(t *testing.T) {
	f := newFixture(t)
	d := f.deployment(t, "env", "")

	require.NoError(t, f.runner.Deploy(context.Background(), d, f.cacheDir))
	require.Len(t, f.local.calls, 3)

	f.local.calls = nil
	require.NoError(t, f.runner.Deploy(context.Background(), d, f.cacheDir))
	assert.Empty(t, f.local.calls)
}

func TestDeploy_WithoutCacheDirAlwaysExecutes(t *testing.T) {
	f := newFixture(t)
	d := f.deployment(t, "env", "")

	require.NoError(t, f.runner.Deploy(context.Background(), d, ""))
	require.NoError(t, f.runner.Deploy(context.Background(), d, ""))

	assert.Len(t, f.local.calls, 6)
}

func TestDeploy_TrackedChangeRerunsFromChangedStep(t *testing.T) {
	f := newFixture(t)
	d := f.deployment(t, "env", "")

	require.NoError(t, f.runner.Deploy(context.Background(), d, f.cacheDir))
	f.local.calls = nil

	// Changing step B's script invalidates B and C but leaves A cached.
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "scripts", "b.sh"), []byte("echo b2"), 0o644))

	require.NoError(t, f.runner.Deploy(context.Background(), d, f.cacheDir))
	assert.Equal(t, []string{"step-b", "step-c"}, f.local.calls)
}

func TestDeploy_FailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.local.failOn = "step-b"
	d := f.deployment(t, "env", "")

	err := f.runner.Deploy(context.Background(), d, f.cacheDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"env"`)

	// Step C was never reached and the failed step left no cache entry.
	assert.Equal(t, []string{"step-a", "step-b"}, f.local.calls)
	store := cache.NewStore(f.cacheDir)
	resolved, err := d.Resolve(f.root)
	require.NoError(t, err)
	assert.True(t, store.HasOutput(resolved[0].CacheKey))
	assert.False(t, store.HasOutput(resolved[1].CacheKey))
}

// =============================================================================
// Containerized Deployment Tests
// =============================================================================

func TestDeploy_ContainerizedMissExecutesAndSaves(t *testing.T) {
	f := newFixture(t)
	d := f.deployment(t, "env", "debian:bullseye")

	require.NoError(t, f.runner.Deploy(context.Background(), d, f.cacheDir))

	assert.Equal(t, []string{"step-a", "step-b", "step-c"}, f.container.calls)
	assert.Empty(t, f.local.calls)
	assert.Len(t, f.daemon.saved, 3)

	store := cache.NewStore(f.cacheDir)
	resolved, err := d.Resolve(f.root)
	require.NoError(t, err)
	for _, r := range resolved {
		assert.True(t, store.HasImage(r.CacheKey), r.CacheKey)
	}
}

func TestDeploy_ContainerizedImagePresentSkipsEverything(t *testing.T) {
	f := newFixture(t)
	d := f.deployment(t, "env", "debian:bullseye")

	require.NoError(t, f.runner.Deploy(context.Background(), d, f.cacheDir))
	f.container.calls = nil
	f.daemon.saved = nil

	// Images are still in the daemon, so nothing runs and nothing loads.
	require.NoError(t, f.runner.Deploy(context.Background(), d, f.cacheDir))
	assert.Empty(t, f.container.calls)
	assert.Empty(t, f.daemon.loaded)
}

func TestDeploy_ContainerizedLoadsFromCacheTar(t *testing.T) {
	f := newFixture(t)
	d := f.deployment(t, "env", "debian:bullseye")

	require.NoError(t, f.runner.Deploy(context.Background(), d, f.cacheDir))
	f.container.calls = nil

	// Daemon lost its images but the cache still holds the tars.
	f.daemon.images = map[string]bool{}

	require.NoError(t, f.runner.Deploy(context.Background(), d, f.cacheDir))
	assert.Empty(t, f.container.calls)
	assert.Len(t, f.daemon.loaded, 3)
}

func TestDeploy_ContainerizedNeedsDockerClient(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scripts", "a.sh"), []byte("echo a"), 0o644))

	runner := NewRunner(RunnerConfig{
		SourceRoot: root,
		WorkRoot:   t.TempDir(),
		Local:      &fakeExecutor{},
		Container:  &fakeExecutor{},
	})

	d, err := deploy.New("env", step.ArchX8664, "debian:bullseye", []step.Blueprint{
		{Kind: "step-a", Recipe: step.Script{ScriptPath: "scripts/a.sh"}},
	})
	require.NoError(t, err)

	err = runner.Deploy(context.Background(), d, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docker client")
}
