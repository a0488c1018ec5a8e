package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tambel/scalyr-agent-2/internal/core/deploy"
	"github.com/tambel/scalyr-agent-2/internal/core/step"
)

// =============================================================================
// YAML Manifest
// =============================================================================

// Manifest augments the predefined catalog with script-only deployments
// declared in YAML, so simple environments can be added without a rebuild
// of the tool.
type Manifest struct {
	Deployments []ManifestDeployment `yaml:"deployments"`
}

type ManifestDeployment struct {
	Name         string         `yaml:"name"`
	Architecture string         `yaml:"architecture"`
	BaseImage    string         `yaml:"base_image"`
	Steps        []ManifestStep `yaml:"steps"`
}

type ManifestStep struct {
	Kind     string            `yaml:"kind"`
	Script   string            `yaml:"script"`
	Tracked  []string          `yaml:"tracked"`
	Settings map[string]string `yaml:"settings"`
}

// LoadManifest reads and parses a deployment manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// Apply registers every manifest deployment into the catalog. Manifest
// steps are always script recipes; a base image makes the whole chain run
// containerized.
func (m *Manifest) Apply(c *deploy.Catalog) error {
	for _, md := range m.Deployments {
		arch, err := step.ParseArchitecture(md.Architecture)
		if err != nil {
			return fmt.Errorf("deployment %q: %w", md.Name, err)
		}

		blueprints := make([]step.Blueprint, 0, len(md.Steps))
		for _, ms := range md.Steps {
			if ms.Script == "" {
				return fmt.Errorf("deployment %q step %q: script is required", md.Name, ms.Kind)
			}
			blueprints = append(blueprints, step.Blueprint{
				Kind:     ms.Kind,
				Recipe:   step.Script{ScriptPath: ms.Script},
				Tracked:  ms.Tracked,
				Settings: ms.Settings,
			})
		}

		d, err := deploy.New(md.Name, arch, md.BaseImage, blueprints)
		if err != nil {
			return fmt.Errorf("deployment %q: %w", md.Name, err)
		}
		if err := c.Add(d); err != nil {
			return err
		}
	}
	return nil
}
