package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one end-to-end game scenario: a sequence of player
// operations with expected outcomes, plus assertions over the final
// trace and leaderboard state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Seed is the fixed sequence seed every create in this scenario
	// uses. Golden traces depend on it.
	Seed int32 `yaml:"seed"`

	// Setup contains steps run before the main flow to establish state,
	// for example seeding a player's validation history. Setup steps
	// must succeed and carry no expect clauses.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow contains the main steps with expected results.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and leaderboard state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one player operation.
type Step struct {
	// Do names the operation: create, accept, submit, replay, score,
	// top, advance, or sweep.
	Do string `yaml:"do"`

	// User is the acting player's id. It doubles as the display name.
	User string `yaml:"user,omitempty"`

	// Args holds the operation's parameters. Session metadata
	// (session_age_ms, game_duration_ms) defaults to plausible values
	// when omitted.
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Expect specifies the required completion. Nil means the step must
	// simply succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause pins a step's completion.
type ExpectClause struct {
	// Case is the expected output case. Successful operations complete
	// as "Success"; refusals complete as Rejected, NotFound, Expired,
	// NoSession, RapidSubmission, InvalidInput, or InvalidConfig.
	Case string `yaml:"case"`

	// Result contains expected result fields. Subset match: only the
	// named fields are compared.
	Result map[string]interface{} `yaml:"result,omitempty"`
}

// Assertion validates the trace or final leaderboard state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, or
	// final_state.
	Type string `yaml:"type"`

	// Step names the operation (trace_contains, trace_count).
	Step string `yaml:"step,omitempty"`

	// User restricts the match to one player (trace_contains).
	User string `yaml:"user,omitempty"`

	// Args are expected invocation arguments, subset matched
	// (trace_contains).
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Steps is the expected relative order of operations (trace_order).
	Steps []string `yaml:"steps,omitempty"`

	// Count is the exact number of invocations (trace_count).
	Count int `yaml:"count,omitempty"`

	// Scope and Period select the board to inspect (final_state).
	Scope  string `yaml:"scope,omitempty"`
	Period string `yaml:"period,omitempty"`

	// Expect holds expected board facts (final_state): size, order
	// (user ids fastest first), leader, leader_ms.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

var knownSteps = map[string]bool{
	"create":  true,
	"accept":  true,
	"submit":  true,
	"replay":  true,
	"score":   true,
	"top":     true,
	"advance": true,
	"sweep":   true,
}

// userlessSteps need no acting player.
var userlessSteps = map[string]bool{
	"top":     true,
	"advance": true,
	"sweep":   true,
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so typos like "assertion:" surface as load errors
// instead of silently skipped checks.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields before anything executes.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(&step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect clauses are not allowed in setup", i)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(&step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
		if step.Expect != nil && step.Expect.Case == "" {
			return fmt.Errorf("flow[%d].expect: case is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step *Step) error {
	if step.Do == "" {
		return fmt.Errorf("do is required")
	}
	if !knownSteps[step.Do] {
		return fmt.Errorf("unknown step %q", step.Do)
	}
	if step.User == "" && !userlessSteps[step.Do] {
		return fmt.Errorf("%s requires a user", step.Do)
	}

	switch step.Do {
	case "create", "submit", "score":
		if _, ok := step.Args["reaction_time_ms"]; !ok {
			return fmt.Errorf("%s requires args.reaction_time_ms", step.Do)
		}
	case "top":
		if _, ok := step.Args["period"]; !ok {
			return fmt.Errorf("top requires args.period")
		}
	case "advance":
		if _, ok := step.Args["ms"]; !ok {
			return fmt.Errorf("advance requires args.ms")
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Steps) == 0 {
			return fmt.Errorf("assertions[%d]: steps list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Period == "" {
			return fmt.Errorf("assertions[%d]: period is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
