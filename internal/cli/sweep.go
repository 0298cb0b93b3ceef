package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/reflexgg/lightsout/internal/config"
	"github.com/reflexgg/lightsout/internal/store"
)

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	Config string
}

// SweepResult reports one reclamation pass.
type SweepResult struct {
	Removed int `json:"removed"`
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired records from storage",
		Long: `Remove expired challenges, sessions, and lapsed leaderboards in one
pass over the configured backend.

Storage expires records lazily on read; this reclaims space held by
keys nothing reads anymore.

Examples:
  lightsout sweep --config lightsout.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML config file")

	return cmd
}

func runSweep(opts *SweepOptions, cmd *cobra.Command) error {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return WrapExitError(ExitCommandError, "loading config", err)
		}
		cfg = loaded
	}

	if cfg.Storage.Backend == "memory" {
		return NewExitError(ExitCommandError, "sweep requires a persistent backend")
	}

	sq, err := store.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening storage", err)
	}

	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
	st, err := store.New(sq, store.Options{Logger: log})
	if err != nil {
		return WrapExitError(ExitCommandError, "building storage engine", err)
	}
	defer st.Close()

	removed, err := st.Sweep(context.Background())
	if err != nil {
		return WrapExitError(ExitCommandError, "sweep failed", err)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(SweepResult{Removed: removed})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired record(s)\n", removed)
	return nil
}
