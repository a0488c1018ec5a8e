package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tambel/scalyr-agent-2/internal/catalog"
	"github.com/tambel/scalyr-agent-2/internal/core/deploy"
	"github.com/tambel/scalyr-agent-2/internal/shell/docker"
	"github.com/tambel/scalyr-agent-2/internal/shell/executor"
)

// =============================================================================
// Application State
// =============================================================================

// appState carries what the persistent pre-run prepares for every command.
type appState struct {
	cfg     *Config
	logger  *slog.Logger
	catalog *deploy.Catalog
}

func (a *appState) setup(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	a.cfg = cfg
	a.logger = SetupLogger(cfg)

	c, err := catalog.Default()
	if err != nil {
		return fmt.Errorf("%w: build catalog: %v", errConfig, err)
	}
	if _, statErr := os.Stat(cfg.Manifest); statErr == nil {
		m, err := catalog.LoadManifest(cfg.Manifest)
		if err != nil {
			return fmt.Errorf("%w: %v", errConfig, err)
		}
		if err := m.Apply(c); err != nil {
			return fmt.Errorf("%w: %v", errConfig, err)
		}
	}
	a.catalog = c
	return nil
}

// =============================================================================
// Commands
// =============================================================================

func newRootCmd(app *appState) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "agent-build",
		Short:         "Build and test environment deployments for the agent",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	root.AddCommand(
		newListCmd(app),
		newDeployCmd(app),
		newCacheNamesCmd(app),
		newChecksumCmd(app),
	)
	return root
}

func newListCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range app.catalog.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newDeployCmd(app *appState) *cobra.Command {
	var cacheDir string

	cmd := &cobra.Command{
		Use:   "deploy <name>",
		Short: "Run the named deployment step by step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := app.catalog.Get(args[0])
			if err != nil {
				return err
			}

			if cacheDir == "" {
				cacheDir = app.cfg.Cache.Dir
			}

			runnerCfg := executor.RunnerConfig{
				SourceRoot: app.cfg.SourceRoot,
				WorkRoot:   app.cfg.WorkDir,
				Logger:     app.logger,
			}

			if deploymentNeedsDocker(d) {
				client, err := docker.NewDockerClient(app.cfg.Docker.Host)
				if err != nil {
					return err
				}
				defer client.Close()
				if err := client.Ping(cmd.Context()); err != nil {
					return err
				}
				runnerCfg.Docker = client
			}

			runner := executor.NewRunner(runnerCfg)
			app.logger.Info("starting deployment",
				"deployment", d.Name(),
				"architecture", d.Architecture(),
				"cache_dir", cacheDir,
			)
			if err := runner.Deploy(cmd.Context(), d, cacheDir); err != nil {
				return err
			}
			app.logger.Info("deployment finished", "deployment", d.Name())
			return nil
		},
	}
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Directory for per-step caches")
	return cmd
}

func newCacheNamesCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "get-deployment-all-cache-names <name>",
		Short: "Print the deployment's step cache keys as a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := app.catalog.Get(args[0])
			if err != nil {
				return err
			}
			data, err := d.CacheKeysJSON(app.cfg.SourceRoot)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newChecksumCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "checksum <name>",
		Short: "Print the checksum of the deployment's final step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := app.catalog.Get(args[0])
			if err != nil {
				return err
			}
			resolved, err := d.Resolve(app.cfg.SourceRoot)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resolved[len(resolved)-1].Checksum)
			return nil
		},
	}
}

func deploymentNeedsDocker(d *deploy.Deployment) bool {
	for _, s := range d.Steps() {
		if s.InContainer() {
			return true
		}
	}
	return false
}
