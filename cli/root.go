// Package cli implements the stratum command line: table creation, writes,
// scans and snapshot management against a configured warehouse.
package cli

import (
	"context"

	"github.com/gear6io/stratum/server/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type contextKey string

const envKey contextKey = "env"

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "stratum",
		Short: "Manage tables in a stratum warehouse",
		Long: `stratum manages versioned tables stored as immutable metadata, manifest
and data files. Every change commits a new table version atomically; readers
always see a complete snapshot.

The warehouse, pointer catalog and commit settings come from a YAML file
passed with --config. Without one, tables live under ./warehouse.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return openEnvironment(cmd, opts)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if e := envFrom(cmd.Context()); e != nil {
				return e.Close()
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a stratum YAML config")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	cmd.AddCommand(newTableCmd())
	return cmd
}

// Execute runs the command line given by args; cancel ctx to abort
func Execute(ctx context.Context, args ...string) error {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func openEnvironment(cmd *cobra.Command, opts *rootOptions) error {
	cfg := config.LoadDefaultConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if !opts.verbose && cfg.Log.FilePath == "" {
		cfg.Log.Level = zerolog.WarnLevel.String()
	}
	logger, err := config.SetupLogger(cfg)
	if err != nil {
		return err
	}

	e, err := newEnv(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	logger.Debug().Str("cmd", cmd.CommandPath()).Str("warehouse", e.warehouse).Msg("Executing command")
	cmd.SetContext(context.WithValue(cmd.Context(), envKey, e))
	return nil
}

func envFrom(ctx context.Context) *env {
	if ctx == nil {
		return nil
	}
	e, _ := ctx.Value(envKey).(*env)
	return e
}
