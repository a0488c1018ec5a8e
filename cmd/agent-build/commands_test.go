package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tambel/scalyr-agent-2/internal/catalog"
	"github.com/tambel/scalyr-agent-2/internal/core/deploy"
)

// execute runs the CLI with the given args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	app := &appState{}
	root := newRootCmd(app)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestListCommand(t *testing.T) {
	clearEnv(t)

	out, err := execute(t, "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Contains(t, lines, "test_environment")
	assert.Contains(t, lines, "linux_package_builder_x86_64")
	assert.IsIncreasing(t, lines)
}

func TestCacheNamesCommand_ReversedJSON(t *testing.T) {
	repoRoot := filepath.Join("..", "..")
	t.Setenv("AGENTBUILD_SOURCE_ROOT", repoRoot)

	out, err := execute(t, "get-deployment-all-cache-names", "linux_package_builder_x86_64")
	require.NoError(t, err)

	var keys []string
	require.NoError(t, json.Unmarshal([]byte(out), &keys))

	c, err := catalog.Default()
	require.NoError(t, err)
	d, err := c.Get("linux_package_builder_x86_64")
	require.NoError(t, err)
	want, err := d.CacheKeys(repoRoot)
	require.NoError(t, err)

	require.Len(t, keys, len(want))
	for i := range want {
		assert.Equal(t, want[len(want)-1-i], keys[i])
	}
}

func TestChecksumCommand(t *testing.T) {
	t.Setenv("AGENTBUILD_SOURCE_ROOT", filepath.Join("..", ".."))

	out, err := execute(t, "checksum", "test_environment")
	require.NoError(t, err)

	sum := strings.TrimSpace(out)
	assert.Len(t, sum, 64)
}

func TestUnknownDeployment(t *testing.T) {
	clearEnv(t)

	_, err := execute(t, "deploy", "no_such_environment")
	require.Error(t, err)
	assert.ErrorIs(t, err, deploy.ErrUnknownDeployment)
}
