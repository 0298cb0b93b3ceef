package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/reflexgg/lightsout/internal/challenge"
)

// AssertionContext gives assertions access to the live service so
// final_state can read the boards the flow produced.
type AssertionContext struct {
	Service *challenge.Service
	Ctx     context.Context
}

// EvaluateAssertions checks every assertion against the result and
// returns one message per failure. An empty slice means all held.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result, &a)
		case AssertTraceOrder:
			err = assertTraceOrder(result, &a)
		case AssertTraceCount:
			err = assertTraceCount(result, &a)
		case AssertFinalState:
			err = assertFinalState(actx, &a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertion[%d] %s: %v", i, a.Type, err))
		}
	}
	return failures
}

// assertTraceContains passes when some invocation matches the step
// name, the user if given, and every named arg.
func assertTraceContains(result *Result, a *Assertion) error {
	for _, ev := range result.Trace {
		if ev.Type != "invocation" || ev.Step != a.Step {
			continue
		}
		if a.User != "" && ev.User != a.User {
			continue
		}
		if matchArgs(a.Args, ev.Args) {
			return nil
		}
	}
	return fmt.Errorf("no invocation of %q matched", a.Step)
}

// assertTraceOrder passes when the named steps appear as invocations in
// the given relative order, other steps interleaved freely.
func assertTraceOrder(result *Result, a *Assertion) error {
	next := 0
	for _, ev := range result.Trace {
		if next >= len(a.Steps) {
			break
		}
		if ev.Type == "invocation" && ev.Step == a.Steps[next] {
			next++
		}
	}
	if next < len(a.Steps) {
		return fmt.Errorf("steps [%s] out of order, matched %d of %d",
			strings.Join(a.Steps, ", "), next, len(a.Steps))
	}
	return nil
}

func assertTraceCount(result *Result, a *Assertion) error {
	count := 0
	for _, ev := range result.Trace {
		if ev.Type == "invocation" && ev.Step == a.Step {
			count++
		}
	}
	if count != a.Count {
		return fmt.Errorf("step %q invoked %d times, want %d", a.Step, count, a.Count)
	}
	return nil
}

// assertFinalState reads the named board and checks the expected facts:
// size, leader, leader_ms, and order (a fastest-first prefix of user
// ids).
func assertFinalState(actx *AssertionContext, a *Assertion) error {
	period, err := challenge.ParsePeriod(a.Period)
	if err != nil {
		return err
	}
	entries, err := actx.Service.Top(actx.Ctx, a.Scope, period, 0)
	if err != nil {
		return err
	}

	for key, want := range a.Expect {
		switch key {
		case "size":
			if got := int64(len(entries)); got != toInt64(want) {
				return fmt.Errorf("board size %d, want %d", got, toInt64(want))
			}
		case "leader":
			if len(entries) == 0 {
				return fmt.Errorf("board empty, want leader %v", want)
			}
			if entries[0].UserID != want {
				return fmt.Errorf("leader %q, want %v", entries[0].UserID, want)
			}
		case "leader_ms":
			if len(entries) == 0 {
				return fmt.Errorf("board empty, want leader_ms %v", want)
			}
			if entries[0].ReactionTimeMS != toInt64(want) {
				return fmt.Errorf("leader time %dms, want %dms", entries[0].ReactionTimeMS, toInt64(want))
			}
		case "order":
			order, ok := want.([]interface{})
			if !ok {
				return fmt.Errorf("order must be a list of user ids")
			}
			if len(order) > len(entries) {
				return fmt.Errorf("board has %d entries, want order of %d", len(entries), len(order))
			}
			for i, u := range order {
				if entries[i].UserID != u {
					return fmt.Errorf("rank %d is %q, want %v", i+1, entries[i].UserID, u)
				}
			}
		default:
			return fmt.Errorf("unknown expect key %q", key)
		}
	}
	return nil
}

// matchArgs subset-matches expected args against actual ones. A nil
// expectation matches anything.
func matchArgs(expected, actual map[string]interface{}) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || !matchValue(want, got) {
			return false
		}
	}
	return true
}

// matchValue compares a YAML-sourced expectation against an actual
// value, widening integers so 20 matches int64(20).
func matchValue(want, got interface{}) bool {
	switch w := want.(type) {
	case map[string]interface{}:
		g, ok := got.(map[string]interface{})
		return ok && matchArgs(w, g)
	case []interface{}:
		g, ok := got.([]interface{})
		if !ok || len(g) != len(w) {
			return false
		}
		for i := range w {
			if !matchValue(w[i], g[i]) {
				return false
			}
		}
		return true
	}
	return normalize(want) == normalize(got)
}

func normalize(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
	}
	return v
}
