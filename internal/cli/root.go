// Package cli implements the taskwatch command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nhle/taskwatch/internal/app"
	"github.com/nhle/taskwatch/internal/model"
)

var (
	configPath string
	verbose    bool
	rootCmd    *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "taskwatch",
		Short: "Watch a project tracker for new tasks",
		Long: `taskwatch polls the project API, notifies when new projects or tasks
appear, and logs back in by email magic link when the access token expires.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", model.DefaultConfigPath(), "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command.
func Execute(ctx context.Context, version string) error {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(statusCmd)

	rootCmd.Version = version
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// loadApp reads the config file and wires every component.
func loadApp(stderr io.Writer) (*app.App, zerolog.Logger, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	logger := app.NewLogger(cfg.Log, stderr, verbose)

	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, logger, err
	}
	return a, logger, nil
}
