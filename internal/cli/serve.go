package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/reflexgg/lightsout/internal/anticheat"
	"github.com/reflexgg/lightsout/internal/challenge"
	"github.com/reflexgg/lightsout/internal/config"
	"github.com/reflexgg/lightsout/internal/server"
	"github.com/reflexgg/lightsout/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Config string
	Addr   string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the challenge API server",
		Long: `Run the HTTP API: challenges, replay verification, and leaderboards.

Configuration comes from an optional YAML file; every omitted field
takes its default. --addr overrides the configured listen address.

Examples:
  lightsout serve
  lightsout serve --config lightsout.yaml
  lightsout serve --config lightsout.yaml --addr :9090`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address override")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return WrapExitError(ExitCommandError, "loading config", err)
		}
		cfg = loaded
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var backend store.Backend
	if cfg.Storage.Backend == "memory" {
		backend = store.NewMemory()
	} else {
		sq, err := store.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			return WrapExitError(ExitCommandError, "opening storage", err)
		}
		backend = sq
	}

	registry := prometheus.NewRegistry()

	// The engine does not exist yet when its quota hook is built, so the
	// closure binds the variable, not the value.
	var st *store.Store
	cleanup := func(ctx context.Context) {
		if st == nil {
			return
		}
		if removed, err := st.Sweep(ctx); err == nil && removed > 0 {
			log.Info("quota pressure sweep", "removed", removed)
		}
	}

	st, err := store.New(backend, store.Options{
		MaxAttempts:        cfg.Retry.MaxAttempts,
		BackoffBase:        time.Duration(cfg.Retry.BackoffBaseMS) * time.Millisecond,
		BreakerThreshold:   cfg.Retry.BreakerThreshold,
		BreakerCooldown:    time.Duration(cfg.Retry.BreakerCooldownMS) * time.Millisecond,
		ValueLimit:         cfg.Quota.ValueLimitBytes,
		UsageSoftLimit:     cfg.Quota.SoftLimitBytes,
		UsageCriticalLimit: cfg.Quota.CriticalLimitBytes,
		Logger:             log,
		Registerer:         registry,
		Cleanup:            cleanup,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "building storage engine", err)
	}
	defer st.Close()

	pipe := anticheat.New(st, anticheat.Options{
		Config: anticheat.Config{
			MinSequenceMS: cfg.Game.MinSequenceMS(),
			HourlyCeiling: cfg.Anticheat.HourlyCeiling,
			MinHistory:    cfg.Anticheat.MinHistory,
			OutlierSigma:  cfg.Anticheat.OutlierSigma,
		},
		Logger:     log,
		Registerer: registry,
	})

	svc := challenge.New(st, pipe, challenge.Options{
		GameConfig: &cfg.Game,
		BaseURL:    cfg.Server.BaseURL,
		Logger:     log,
		Registerer: registry,
	})

	if interval := time.Duration(cfg.Server.SweepIntervalMS) * time.Millisecond; interval > 0 {
		go sweepLoop(ctx, svc, log, interval)
	}

	srv := server.New(svc, st, server.Options{
		Logger:          log,
		Metrics:         registry,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutMS) * time.Millisecond,
	})
	if err := srv.Run(ctx, cfg.Server.Addr); err != nil {
		return WrapExitError(ExitCommandError, "server failed", err)
	}
	return nil
}

// sweepLoop periodically reclaims expired records until ctx ends.
func sweepLoop(ctx context.Context, svc *challenge.Service, log *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := svc.CleanupExpired(ctx)
			if err != nil {
				log.Warn("cleanup sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				log.Info("cleanup sweep", "removed", removed)
			}
		}
	}
}
