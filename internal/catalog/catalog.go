// Package catalog defines the predefined build and test environment
// deployments for the agent and registers them into a single Catalog at
// startup.
package catalog

import (
	"fmt"

	"github.com/tambel/scalyr-agent-2/internal/core/deploy"
	"github.com/tambel/scalyr-agent-2/internal/core/step"
)

// =============================================================================
// Predefined Steps
// =============================================================================

// BaseEnvironmentImage is the image the containerized build chains start
// from. Versioned explicitly so environment checksums only change when we
// change them.
const BaseEnvironmentImage = "debian:bullseye-slim"

// scriptsDir holds the deployment scripts, relative to the project root.
const scriptsDir = "deployments/scripts"

// requirementFiles are tracked by every pip-installing step. The glob keeps
// new requirement files from silently missing the checksum.
const requirementFiles = "deployments/requirement-files/*.txt"

func installPythonBlueprint() step.Blueprint {
	return step.Blueprint{
		Kind:   "install-python",
		Recipe: step.Dockerfile{DockerfilePath: scriptsDir + "/install-python/Dockerfile"},
	}
}

func installBuildRequirementsBlueprint() step.Blueprint {
	return step.Blueprint{
		Kind:   "install-build-requirements",
		Recipe: step.Script{ScriptPath: scriptsDir + "/deploy_build_environment.sh"},
		Tracked: []string{
			scriptsDir + "/cache_lib.sh",
			requirementFiles,
		},
		Settings: map[string]string{
			"PIP_DISABLE_PIP_VERSION_CHECK": "1",
		},
	}
}

func installTestRequirementsBlueprint() step.Blueprint {
	return step.Blueprint{
		Kind:   "install-test-requirements",
		Recipe: step.Script{ScriptPath: scriptsDir + "/deploy_dev_environment.sh"},
		Tracked: []string{
			scriptsDir + "/cache_lib.sh",
			requirementFiles,
			"dev-requirements.txt",
		},
		Settings: map[string]string{
			"PIP_DISABLE_PIP_VERSION_CHECK": "1",
		},
	}
}

func installWindowsBuilderToolsBlueprint() step.Blueprint {
	return step.Blueprint{
		Kind:   "install-windows-builder-tools",
		Recipe: step.Script{ScriptPath: scriptsDir + "/deploy_windows_builder_tools.ps1"},
		Tracked: []string{
			requirementFiles,
		},
	}
}

// =============================================================================
// Catalog Assembly
// =============================================================================

// Default builds the catalog of all predefined deployments. Containerized
// deployments are registered per architecture; the test environments for
// packages share the exact step instances of their builder chains, so a
// builder image produced by one deployment is a cache hit for the other.
func Default() (*deploy.Catalog, error) {
	c := deploy.NewCatalog()

	testEnv, err := deploy.New("test_environment", step.ArchX8664, "", []step.Blueprint{
		installTestRequirementsBlueprint(),
	})
	if err != nil {
		return nil, err
	}
	if err := c.Add(testEnv); err != nil {
		return nil, err
	}

	windowsBuilder, err := deploy.New("windows_package_builder", step.ArchX8664, "", []step.Blueprint{
		installWindowsBuilderToolsBlueprint(),
	})
	if err != nil {
		return nil, err
	}
	if err := c.Add(windowsBuilder); err != nil {
		return nil, err
	}

	for _, arch := range []step.Architecture{step.ArchX8664, step.ArchARM64} {
		if err := addLinuxDeployments(c, arch); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// addLinuxDeployments registers the linux package builder chain for one
// architecture together with its tests environment, which extends the same
// step instances by one step.
func addLinuxDeployments(c *deploy.Catalog, arch step.Architecture) error {
	installPython, err := step.New(installPythonBlueprint(), arch, BaseEnvironmentImage, nil)
	if err != nil {
		return err
	}
	buildReqs, err := step.New(installBuildRequirementsBlueprint(), arch, "", installPython)
	if err != nil {
		return err
	}

	builderSteps := []*step.Step{installPython, buildReqs}
	builder, err := deploy.Chain(deploymentName("linux_package_builder", arch), arch, builderSteps)
	if err != nil {
		return err
	}
	if err := c.Add(builder); err != nil {
		return err
	}

	testReqs, err := step.New(installTestRequirementsBlueprint(), arch, "", buildReqs)
	if err != nil {
		return err
	}
	testsEnv, err := deploy.Chain(
		deploymentName("linux_package_tests_environment", arch),
		arch,
		append(append([]*step.Step{}, builderSteps...), testReqs),
	)
	if err != nil {
		return err
	}
	return c.Add(testsEnv)
}

func deploymentName(base string, arch step.Architecture) string {
	return fmt.Sprintf("%s_%s", base, arch)
}
