package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/goald/internal/app"
	"github.com/dokzlo13/goald/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "goald",
		Short:         "Track how fast goal resources accumulate",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "Path to configuration file")

	root.AddCommand(runCmd(opts))
	root.AddCommand(projectsCmd(opts))
	root.AddCommand(projectCmd(opts))
	root.AddCommand(goalCmd(opts))
	root.AddCommand(historyCmd(opts))
	return root
}

// loadConfig reads the config file. A missing default config file falls
// back to built-in defaults; a missing --config file is an error.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func runCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the tracker daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, opts)
		},
	}
}

func runDaemon(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}

	closer := setupLogging(cfg.Log)
	defer closer.Close()

	log.Info().Str("config", opts.configPath).Msg("Starting goald")

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := app.SignalContext(cmd.Context())
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Error().Err(err).Msg("goald stopped with an error")
		return err
	}
	return nil
}
