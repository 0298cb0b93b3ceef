package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/reflexgg/lightsout/internal/sequence"
)

//go:embed schema.cue
var schemaSource string

// GameConfigError collects every constraint a game config violates.
type GameConfigError struct {
	Problems []string
}

func (e *GameConfigError) Error() string {
	return "invalid game config: " + strings.Join(e.Problems, "; ")
}

// IsGameConfigError reports whether err is a game-config violation.
func IsGameConfigError(err error) bool {
	var gce *GameConfigError
	return errors.As(err, &gce)
}

// ValidateGameConfig checks a timing envelope against the embedded CUE
// schema. All violations are collected, not just the first.
func ValidateGameConfig(cfg sequence.Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("game config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#GameConfig"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("game config schema: %w", err)
	}

	unified := def.Unify(ctx.Encode(cfg))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		problems := make([]string, 0, len(cueerrors.Errors(err)))
		for _, e := range cueerrors.Errors(err) {
			problems = append(problems, e.Error())
		}
		return &GameConfigError{Problems: problems}
	}
	return nil
}
