package step

import "fmt"

// Architecture identifies the target processor architecture of a step.
type Architecture string

const (
	ArchX8664 Architecture = "x86_64"
	ArchARM64 Architecture = "arm64"
)

// DockerPlatform returns the docker platform string for the architecture,
// e.g. "linux/amd64". Docker can use emulation to run foreign platforms.
func (a Architecture) DockerPlatform() string {
	switch a {
	case ArchX8664:
		return "linux/amd64"
	case ArchARM64:
		return "linux/arm64"
	}
	return ""
}

// ParseArchitecture converts a configuration string into an Architecture.
func ParseArchitecture(s string) (Architecture, error) {
	switch Architecture(s) {
	case ArchX8664, ArchARM64:
		return Architecture(s), nil
	}
	return "", fmt.Errorf("unknown architecture %q", s)
}
