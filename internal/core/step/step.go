// Package step models deployment steps: the atomic units of build/test
// environment preparation.
//
// A step wraps either a shell script or a declarative Dockerfile recipe,
// declares the files its result depends on, and may chain onto a previous
// step or an externally provided base image. From those inputs it derives a
// content-addressed cache key that doubles as its docker image tag.
package step

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tambel/scalyr-agent-2/internal/core/checksum"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrNoKind        = errors.New("step has no kind name")
	ErrNoRecipe      = errors.New("step has no recipe")
	ErrBaseWithChain = errors.New("base image is only allowed on a step without a predecessor")
)

// =============================================================================
// Recipes
// =============================================================================

// Recipe describes how a step performs its work. The set of variants is
// closed: a step either runs a script or builds from a Dockerfile.
type Recipe interface {
	// Path returns the recipe file's path relative to the source root.
	Path() string
	// ContainerOnly reports whether the recipe can only run containerized.
	ContainerOnly() bool

	isRecipe()
}

// Script is a recipe that runs a shell (or powershell/python) script, either
// directly on the host or inside a container derived from the step's base
// image.
type Script struct {
	// ScriptPath is the script's path relative to the source root.
	ScriptPath string
}

func (s Script) Path() string        { return s.ScriptPath }
func (s Script) ContainerOnly() bool { return false }
func (s Script) isRecipe()           {}

// Dockerfile is a declarative recipe: the build instructions live in a
// Dockerfile instead of an imperative script. It can only run containerized.
type Dockerfile struct {
	// DockerfilePath is the Dockerfile's path relative to the source root.
	DockerfilePath string
}

func (d Dockerfile) Path() string        { return d.DockerfilePath }
func (d Dockerfile) ContainerOnly() bool { return true }
func (d Dockerfile) isRecipe()           {}

// =============================================================================
// Step
// =============================================================================

// Blueprint is the reusable definition of a step, independent of the
// deployment chain it ends up in. The same blueprint may be instantiated
// into several deployments.
type Blueprint struct {
	// Kind is the stable kind name of the step, e.g. "install_python".
	Kind string
	// Recipe is the script or Dockerfile the step executes.
	Recipe Recipe
	// Tracked lists file references (relative to the source root, globs
	// allowed) whose content determines the step's checksum. The recipe file
	// itself is always tracked.
	Tracked []string
	// Settings are extra key/value pairs exposed verbatim to the step's
	// script as environment variables. They are part of the step's identity.
	Settings map[string]string
}

// Step is one atomic unit of environment preparation within a deployment
// chain. Steps are immutable after construction; a step references its
// predecessor but does not own it, so predecessors may be shared by several
// downstream steps.
type Step struct {
	kind      string
	arch      Architecture
	recipe    Recipe
	tracked   []string
	settings  map[string]string
	previous  *Step
	baseImage string
}

// New builds a step from a blueprint. baseImage may only be set when the
// step has no predecessor; a chained step always starts from its
// predecessor's result.
func New(bp Blueprint, arch Architecture, baseImage string, previous *Step) (*Step, error) {
	if bp.Kind == "" {
		return nil, ErrNoKind
	}
	if bp.Recipe == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoRecipe, bp.Kind)
	}
	if baseImage != "" && previous != nil {
		return nil, fmt.Errorf("%w: %q", ErrBaseWithChain, bp.Kind)
	}

	settings := make(map[string]string, len(bp.Settings))
	for k, v := range bp.Settings {
		settings[k] = v
	}

	return &Step{
		kind:      bp.Kind,
		arch:      arch,
		recipe:    bp.Recipe,
		tracked:   append([]string(nil), bp.Tracked...),
		settings:  settings,
		previous:  previous,
		baseImage: baseImage,
	}, nil
}

func (s *Step) Kind() string               { return s.kind }
func (s *Step) Architecture() Architecture { return s.arch }
func (s *Step) Recipe() Recipe             { return s.recipe }
func (s *Step) Previous() *Step            { return s.previous }

// Settings returns a copy of the step's additional settings.
func (s *Step) Settings() map[string]string {
	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out
}

// TrackedRefs returns the file references whose content feeds the step's
// checksum. The recipe file is always first.
func (s *Step) TrackedRefs() []string {
	refs := make([]string, 0, len(s.tracked)+1)
	refs = append(refs, s.recipe.Path())
	refs = append(refs, s.tracked...)
	return refs
}

// InitialImage returns the externally provided image that initiates the
// step's chain, or "" when the chain starts from nothing (pure-local).
func (s *Step) InitialImage() string {
	if s.previous != nil {
		return s.previous.InitialImage()
	}
	return s.baseImage
}

// InContainer reports whether the step executes containerized. The decision
// is made once from the chain: a chain initiated by a base image, or
// containing a Dockerfile recipe, runs in docker from that point on.
func (s *Step) InContainer() bool {
	if s.recipe.ContainerOnly() {
		return true
	}
	if s.InitialImage() != "" {
		return true
	}
	if s.previous != nil {
		return s.previous.InContainer()
	}
	return false
}

// =============================================================================
// Identity
// =============================================================================

// UniqueName encodes everything that distinguishes this step besides file
// content: its kind, the kinds of its predecessor chain, the architecture,
// and the initiating image (with ":" flattened to "_") when containerized.
func (s *Step) UniqueName() string {
	parts := []string{s.kind}
	for prev := s.previous; prev != nil; prev = prev.previous {
		parts = append(parts, prev.kind)
	}
	parts = append(parts, string(s.arch))

	name := strings.Join(parts, "_")

	if img := s.InitialImage(); img != "" {
		name = name + "_" + strings.ReplaceAll(img, ":", "_")
	}

	return strings.ToLower(name)
}

// Checksum computes the step's content checksum against the current
// filesystem state under root. It covers the step's tracked files and is
// seeded with the predecessor's checksum and the step's settings, so any
// upstream change propagates forward through the chain.
func (s *Step) Checksum(root string) (string, error) {
	seed := ""
	if s.previous != nil {
		prev, err := s.previous.Checksum(root)
		if err != nil {
			return "", err
		}
		seed = prev
	}

	if len(s.settings) > 0 {
		keys := make([]string, 0, len(s.settings))
		for k := range s.settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(seed)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s=%s", k, s.settings[k])
		}
		seed = b.String()
	}

	paths, err := checksum.ResolveTrackedFiles(root, s.TrackedRefs())
	if err != nil {
		return "", fmt.Errorf("step %q: %w", s.kind, err)
	}

	sum, err := checksum.Calculate(root, paths, seed)
	if err != nil {
		return "", fmt.Errorf("step %q: %w", s.kind, err)
	}
	return sum, nil
}

// Resolved is a step with its identity eagerly computed against one
// filesystem state. It is the immutable value the execution layer works
// with; nothing recomputes checksums mid-run.
type Resolved struct {
	Step *Step
	// Checksum is the step's content checksum.
	Checksum string
	// CacheKey is the cache lookup key and, when containerized, the docker
	// image tag of the step's result: "<unique_name>_<checksum>", lowercase.
	CacheKey string
}

// ResultImageName is the docker tag borne by the step's committed result.
// It equals the cache key: the name identity guarantees content identity.
func (r Resolved) ResultImageName() string { return r.CacheKey }

// Resolve computes the step's identity against the filesystem under root.
func (s *Step) Resolve(root string) (Resolved, error) {
	sum, err := s.Checksum(root)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{
		Step:     s,
		Checksum: sum,
		CacheKey: strings.ToLower(s.UniqueName() + "_" + sum),
	}, nil
}
