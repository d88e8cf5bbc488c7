// Package cmd defines the remotehive command line: one subcommand per
// deployable role plus version.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/remotehive-autoscraper/internal/config"
	"github.com/JakeFAU/remotehive-autoscraper/internal/server"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

// runnable is the part of server.App the commands use.
type runnable interface {
	Run(ctx context.Context) error
}

// newApp builds a role. It's a variable so tests can swap in a fake.
var newApp = func(ctx context.Context, cfg config.Config, role server.Role) (runnable, error) {
	return server.Build(ctx, cfg, role)
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "remotehive",
		Short: "RemoteHive autoscraper services.",
		Long: `remotehive runs the RemoteHive job-board autoscraper.

Each subcommand starts one role: the public web API, the autoscraper
service that owns the engine, a background worker that consumes the task
broker, or the beat scheduler that queues periodic scrapes.`,
		SilenceUsage: true,
		Version:      Version,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment variables override it")

	cmd.AddCommand(
		newRoleCmd(&cfgFile, "api", server.RoleWeb, "Run the web API service (auth and health)"),
		newRoleCmd(&cfgFile, "autoscraper", server.RoleAutoscraper, "Run the autoscraper service (engine, jobs, boards)"),
		newRoleCmd(&cfgFile, "worker", server.RoleWorker, "Run a background worker consuming the task broker"),
		newRoleCmd(&cfgFile, "beat", server.RoleBeat, "Run the periodic scheduler"),
		newVersionCmd(),
	)
	return cmd
}

func newRoleCmd(cfgFile *string, use string, role server.Role, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Application.Version == "" || cfg.Application.Version == "dev" {
				cfg.Application.Version = Version
			}
			app, err := newApp(cmd.Context(), cfg, role)
			if err != nil {
				return fmt.Errorf("failed to initialize %s: %w", role, err)
			}
			return app.Run(cmd.Context())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "remotehive %s\n", Version)
		},
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
