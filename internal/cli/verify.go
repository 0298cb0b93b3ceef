package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reflexgg/lightsout/internal/replay"
	"github.com/reflexgg/lightsout/internal/sequence"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	ReplayPath    string
	ReferencePath string
	LightCount    int
	IntervalMS    int64
	MinDelayMS    int64
	MaxDelayMS    int64
}

// VerifyResult holds the verification verdict.
type VerifyResult struct {
	Valid      bool     `json:"is_valid"`
	Errors     []string `json:"errors,omitempty"`
	Confidence float64  `json:"confidence"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}
	defaults := sequence.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a replay against its reference",
		Long: `Verify a submitted replay file against the reference issued with the
session.

Exit code 0 means the replay holds up, 1 means at least one integrity
check failed.

Examples:
  lightsout verify --replay run.json --reference ref.json
  lightsout verify --replay run.json --reference ref.json --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ReplayPath, "replay", "", "path to the submitted replay JSON (required)")
	_ = cmd.MarkFlagRequired("replay")
	cmd.Flags().StringVar(&opts.ReferencePath, "reference", "", "path to the reference replay JSON (required)")
	_ = cmd.MarkFlagRequired("reference")
	cmd.Flags().IntVar(&opts.LightCount, "lights", defaults.LightCount, "number of lights")
	cmd.Flags().Int64Var(&opts.IntervalMS, "interval-ms", defaults.IntervalMS, "interval between lights")
	cmd.Flags().Int64Var(&opts.MinDelayMS, "min-delay-ms", defaults.MinDelayMS, "minimum lights-out delay")
	cmd.Flags().Int64Var(&opts.MaxDelayMS, "max-delay-ms", defaults.MaxDelayMS, "maximum lights-out delay")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	candidate, err := readReplayFile(opts.ReplayPath)
	if err != nil {
		return err
	}
	reference, err := readReplayFile(opts.ReferencePath)
	if err != nil {
		return err
	}

	cfg := sequence.Config{
		LightCount: opts.LightCount,
		IntervalMS: opts.IntervalMS,
		MinDelayMS: opts.MinDelayMS,
		MaxDelayMS: opts.MaxDelayMS,
	}

	outcome := replay.Validate(candidate, reference, cfg)
	result := VerifyResult{
		Valid:      outcome.Valid,
		Errors:     outcome.Errors(),
		Confidence: outcome.Confidence(),
	}

	if opts.Format == "json" {
		return outputVerifyJSON(cmd, result)
	}
	return outputVerifyText(cmd, result)
}

// readReplayFile loads one replay JSON from disk.
func readReplayFile(path string) (replay.Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return replay.Data{}, WrapExitError(ExitCommandError, "reading replay file", err)
	}
	var data replay.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return replay.Data{}, WrapExitError(ExitCommandError, fmt.Sprintf("parsing %s", path), err)
	}
	return data, nil
}

func outputVerifyJSON(cmd *cobra.Command, result VerifyResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if !result.Valid {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeBadReplay,
			Message: "replay failed verification",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("replay failed verification with %d error(s)", len(result.Errors)))
	}
	return nil
}

func outputVerifyText(cmd *cobra.Command, result VerifyResult) error {
	w := cmd.OutOrStdout()

	if result.Valid {
		fmt.Fprintf(w, "✓ Replay valid (confidence %.2f)\n", result.Confidence)
		return nil
	}

	fmt.Fprintf(w, "✗ Replay failed verification (confidence %.2f)\n", result.Confidence)
	fmt.Fprintln(w)
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("replay failed verification with %d error(s)", len(result.Errors)))
}
