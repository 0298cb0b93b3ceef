package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reflexgg/lightsout/internal/config"
	"github.com/reflexgg/lightsout/internal/replay"
	"github.com/reflexgg/lightsout/internal/sequence"
)

// SequenceOptions holds flags for the sequence command.
type SequenceOptions struct {
	*RootOptions
	Seed       int32
	LightCount int
	IntervalMS int64
	MinDelayMS int64
	MaxDelayMS int64
}

// SequenceResult holds the derived plan for one seed.
type SequenceResult struct {
	Seed     int32             `json:"seed"`
	Config   sequence.Config   `json:"config"`
	Schedule sequence.Schedule `json:"schedule"`
	Replay   replay.Data       `json:"replay"`
}

// NewSequenceCommand creates the sequence command.
func NewSequenceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SequenceOptions{RootOptions: rootOpts}
	defaults := sequence.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "sequence",
		Short: "Derive the light schedule for a seed",
		Long: `Derive the deterministic light schedule for a seed.

Every client that receives the same seed and game config regenerates
the identical schedule, so this command answers "what exactly did that
challenge play like" for support and debugging.

Examples:
  lightsout sequence --seed 42
  lightsout sequence --seed -7 --lights 8
  lightsout sequence --seed 42 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSequence(opts, cmd)
		},
	}

	cmd.Flags().Int32Var(&opts.Seed, "seed", 0, "challenge seed (required)")
	_ = cmd.MarkFlagRequired("seed")
	cmd.Flags().IntVar(&opts.LightCount, "lights", defaults.LightCount, "number of lights")
	cmd.Flags().Int64Var(&opts.IntervalMS, "interval-ms", defaults.IntervalMS, "interval between lights")
	cmd.Flags().Int64Var(&opts.MinDelayMS, "min-delay-ms", defaults.MinDelayMS, "minimum lights-out delay")
	cmd.Flags().Int64Var(&opts.MaxDelayMS, "max-delay-ms", defaults.MaxDelayMS, "maximum lights-out delay")

	return cmd
}

func runSequence(opts *SequenceOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg := sequence.Config{
		LightCount: opts.LightCount,
		IntervalMS: opts.IntervalMS,
		MinDelayMS: opts.MinDelayMS,
		MaxDelayMS: opts.MaxDelayMS,
	}
	if err := config.ValidateGameConfig(cfg); err != nil {
		var cfgErr *config.GameConfigError
		if errors.As(err, &cfgErr) {
			_ = formatter.Error(ErrCodeGameConfig, "game config rejected", cfgErr.Problems)
			return NewExitError(ExitCommandError, "game config rejected")
		}
		return WrapExitError(ExitCommandError, "game config rejected", err)
	}

	gen := sequence.NewGenerator(opts.Seed)
	schedule := sequence.BuildSchedule(gen, cfg)
	ref, err := replay.Build(opts.Seed, gen.State().Trace, schedule.LightOffsetsMS, schedule.LightsOutMS, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "building reference replay", err)
	}

	result := SequenceResult{Seed: opts.Seed, Config: cfg, Schedule: schedule, Replay: ref}

	if opts.Format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: result})
	}
	return outputSequenceText(cmd, result)
}

// outputSequenceText renders the schedule as a timeline.
func outputSequenceText(cmd *cobra.Command, result SequenceResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Seed: %d\n", result.Seed)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Schedule ===")
	for i, offset := range result.Schedule.LightOffsetsMS {
		fmt.Fprintf(w, "  light %d on at %5dms\n", i+1, offset)
	}
	fmt.Fprintf(w, "  lights out at %5dms (delay %dms)\n", result.Schedule.LightsOutMS, result.Schedule.DelayMS)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Replay reference ===")
	fmt.Fprintf(w, "  Fastest legitimate finish: %dms\n", result.Schedule.MinPossibleMS)
	fmt.Fprintf(w, "  Trace draws: %d\n", len(result.Replay.Trace))
	fmt.Fprintf(w, "  Sequence hash: %s\n", result.Replay.SequenceHash)
	return nil
}
