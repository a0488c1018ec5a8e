// Package deploy assembles deployment steps into named, ordered chains and
// keeps the catalog of every deployment the build system knows about.
package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tambel/scalyr-agent-2/internal/core/step"
)

// =============================================================================
// Errors
// =============================================================================

var ErrNoSteps = errors.New("deployment has no steps")

// =============================================================================
// Deployment
// =============================================================================

// Deployment is an ordered, non-empty chain of steps that materializes one
// build or test environment for one architecture. Step i chains onto step
// i-1; step 0 optionally starts from an external base image. Deployments are
// immutable after construction and Deploy may run against them any number of
// times.
type Deployment struct {
	name  string
	arch  step.Architecture
	steps []*step.Step
}

// New instantiates a deployment from an ordered list of step blueprints.
// baseImage, when non-empty, initiates the chain; every subsequent step
// starts from its predecessor's result image.
func New(name string, arch step.Architecture, baseImage string, blueprints []step.Blueprint) (*Deployment, error) {
	if len(blueprints) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoSteps, name)
	}

	steps := make([]*step.Step, 0, len(blueprints))

	var previous *step.Step
	for i, bp := range blueprints {
		base := ""
		if i == 0 {
			base = baseImage
		}
		s, err := step.New(bp, arch, base, previous)
		if err != nil {
			return nil, fmt.Errorf("deployment %q: %w", name, err)
		}
		steps = append(steps, s)
		previous = s
	}

	return &Deployment{name: name, arch: arch, steps: steps}, nil
}

// Chain builds a deployment from already constructed steps. It is used when
// deployments share step instances, e.g. a test environment extending a
// builder environment. The steps must already form a chain: each step's
// predecessor is the step before it.
func Chain(name string, arch step.Architecture, steps []*step.Step) (*Deployment, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoSteps, name)
	}
	for i := 1; i < len(steps); i++ {
		if steps[i].Previous() != steps[i-1] {
			return nil, fmt.Errorf("deployment %q: step %q does not chain onto %q",
				name, steps[i].Kind(), steps[i-1].Kind())
		}
	}

	return &Deployment{name: name, arch: arch, steps: steps}, nil
}

func (d *Deployment) Name() string                    { return d.name }
func (d *Deployment) Architecture() step.Architecture { return d.arch }

// Steps returns the ordered step chain. Callers must not mutate it.
func (d *Deployment) Steps() []*step.Step { return d.steps }

// =============================================================================
// Resolution
// =============================================================================

// Resolve computes the identity of every step in order against the
// filesystem under root. The work is done once, eagerly; checksums flow
// forward (a predecessor's checksum seeds its successor's) and the returned
// values never change afterwards.
func (d *Deployment) Resolve(root string) ([]step.Resolved, error) {
	resolved := make([]step.Resolved, 0, len(d.steps))
	for _, s := range d.steps {
		r, err := s.Resolve(root)
		if err != nil {
			return nil, fmt.Errorf("deployment %q: %w", d.name, err)
		}
		resolved = append(resolved, r)
	}
	return resolved, nil
}

// ResultImageName is the deployment's overall identity for downstream
// consumers: the result image name of its final step, lowercased.
func (d *Deployment) ResultImageName(root string) (string, error) {
	r, err := d.steps[len(d.steps)-1].Resolve(root)
	if err != nil {
		return "", err
	}
	return strings.ToLower(r.ResultImageName()), nil
}

// CacheKeys returns the per-step cache keys in chain order.
func (d *Deployment) CacheKeys(root string) ([]string, error) {
	resolved, err := d.Resolve(root)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(resolved))
	for _, r := range resolved {
		keys = append(keys, r.CacheKey)
	}
	return keys, nil
}

// CacheKeysJSON renders the step cache keys as the JSON array consumed by
// CI caching actions: ["keyN",...,"key1"], reversed so the first-needed key
// appears first. The format is an external contract and must not change.
func (d *Deployment) CacheKeysJSON(root string) ([]byte, error) {
	keys, err := d.CacheKeys(root)
	if err != nil {
		return nil, err
	}

	reversed := make([]string, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		reversed = append(reversed, keys[i])
	}
	return json.Marshal(reversed)
}
