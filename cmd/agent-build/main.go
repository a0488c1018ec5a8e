package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tambel/scalyr-agent-2/internal/core/deploy"
	"github.com/tambel/scalyr-agent-2/internal/shell/docker"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes
const (
	ExitSuccess           = 0
	ExitConfigError       = 1
	ExitUnknownDeployment = 2
	ExitDeployError       = 3
	ExitDockerError       = 4
)

// errConfig marks failures that happen before any deployment work starts.
var errConfig = errors.New("configuration error")

func main() {
	os.Exit(run())
}

func run() int {
	app := &appState{}

	root := newRootCmd(app)
	if err := root.Execute(); err != nil {
		if app.logger != nil {
			app.logger.Error("command failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}

		switch {
		case errors.Is(err, errConfig):
			return ExitConfigError
		case errors.Is(err, deploy.ErrUnknownDeployment):
			return ExitUnknownDeployment
		case errors.Is(err, docker.ErrConnectionFailed):
			return ExitDockerError
		}
		return ExitDeployError
	}

	return ExitSuccess
}
