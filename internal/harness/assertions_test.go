package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func duelTrace() *Result {
	r := NewResult()
	r.AddInvocationTrace("create", "alice", map[string]interface{}{"reaction_time_ms": 250}, 1)
	r.AddCompletionTrace("Success", map[string]interface{}{"challenge_id": "ch-1"}, 2)
	r.AddInvocationTrace("submit", "bob", map[string]interface{}{"reaction_time_ms": 230}, 3)
	r.AddCompletionTrace("Success", map[string]interface{}{"winner": "user"}, 4)
	return r
}

func TestAssertTraceContains(t *testing.T) {
	result := duelTrace()

	t.Run("matches step and user", func(t *testing.T) {
		failures := EvaluateAssertions(result, []Assertion{
			{Type: AssertTraceContains, Step: "submit", User: "bob"},
		}, nil)
		assert.Empty(t, failures)
	})

	t.Run("matches args subset", func(t *testing.T) {
		failures := EvaluateAssertions(result, []Assertion{
			{Type: AssertTraceContains, Step: "create", Args: map[string]interface{}{"reaction_time_ms": 250}},
		}, nil)
		assert.Empty(t, failures)
	})

	t.Run("wrong user fails", func(t *testing.T) {
		failures := EvaluateAssertions(result, []Assertion{
			{Type: AssertTraceContains, Step: "submit", User: "alice"},
		}, nil)
		require.Len(t, failures, 1)
		assert.Contains(t, failures[0], `no invocation of "submit" matched`)
	})

	t.Run("wrong arg fails", func(t *testing.T) {
		failures := EvaluateAssertions(result, []Assertion{
			{Type: AssertTraceContains, Step: "create", Args: map[string]interface{}{"reaction_time_ms": 999}},
		}, nil)
		require.Len(t, failures, 1)
		assert.Contains(t, failures[0], "assertion[0] trace_contains")
	})
}

func TestAssertTraceOrder(t *testing.T) {
	result := duelTrace()

	t.Run("in order", func(t *testing.T) {
		failures := EvaluateAssertions(result, []Assertion{
			{Type: AssertTraceOrder, Steps: []string{"create", "submit"}},
		}, nil)
		assert.Empty(t, failures)
	})

	t.Run("out of order", func(t *testing.T) {
		failures := EvaluateAssertions(result, []Assertion{
			{Type: AssertTraceOrder, Steps: []string{"submit", "create"}},
		}, nil)
		require.Len(t, failures, 1)
		assert.Contains(t, failures[0], "steps [submit, create] out of order, matched 1 of 2")
	})
}

func TestAssertTraceCount(t *testing.T) {
	result := duelTrace()

	t.Run("exact count", func(t *testing.T) {
		failures := EvaluateAssertions(result, []Assertion{
			{Type: AssertTraceCount, Step: "create", Count: 1},
		}, nil)
		assert.Empty(t, failures)
	})

	t.Run("completions do not count", func(t *testing.T) {
		failures := EvaluateAssertions(result, []Assertion{
			{Type: AssertTraceCount, Step: "create", Count: 2},
		}, nil)
		require.Len(t, failures, 1)
		assert.Contains(t, failures[0], `step "create" invoked 1 times, want 2`)
	})
}

func TestEvaluateAssertionsUnknownType(t *testing.T) {
	failures := EvaluateAssertions(duelTrace(), []Assertion{{Type: "bogus"}}, nil)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], `unknown assertion type "bogus"`)
}

func TestAssertFinalState(t *testing.T) {
	scoreScenario := func(assertions []Assertion) *Scenario {
		return &Scenario{
			Name:        "final_state",
			Description: "board facts after two scores",
			Seed:        1,
			Flow: []Step{
				step("score", "alice", map[string]interface{}{"reaction_time_ms": 260}),
				step("score", "bob", map[string]interface{}{"reaction_time_ms": 240}),
			},
			Assertions: assertions,
		}
	}

	t.Run("holds", func(t *testing.T) {
		result, err := Run(scoreScenario([]Assertion{
			{Type: AssertFinalState, Period: "all-time", Expect: map[string]interface{}{
				"size":      2,
				"leader":    "bob",
				"leader_ms": 240,
				"order":     []interface{}{"bob", "alice"},
			}},
		}))
		require.NoError(t, err)
		assert.True(t, result.Pass, "errors: %v", result.Errors)
	})

	t.Run("wrong leader", func(t *testing.T) {
		result, err := Run(scoreScenario([]Assertion{
			{Type: AssertFinalState, Period: "all-time", Expect: map[string]interface{}{"leader": "alice"}},
		}))
		require.NoError(t, err)
		assert.False(t, result.Pass)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], `leader "bob", want alice`)
	})

	t.Run("wrong size", func(t *testing.T) {
		result, err := Run(scoreScenario([]Assertion{
			{Type: AssertFinalState, Period: "daily", Expect: map[string]interface{}{"size": 3}},
		}))
		require.NoError(t, err)
		assert.False(t, result.Pass)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "board size 2, want 3")
	})

	t.Run("unknown expect key", func(t *testing.T) {
		result, err := Run(scoreScenario([]Assertion{
			{Type: AssertFinalState, Period: "daily", Expect: map[string]interface{}{"median": 250}},
		}))
		require.NoError(t, err)
		assert.False(t, result.Pass)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], `unknown expect key "median"`)
	})
}

func TestMatchValue(t *testing.T) {
	assert.True(t, matchValue(20, int64(20)))
	assert.True(t, matchValue("tie", "tie"))
	assert.True(t, matchValue(true, true))
	assert.True(t, matchValue(
		map[string]interface{}{"rank": 1},
		map[string]interface{}{"rank": int64(1), "size": int64(2)}))
	assert.True(t, matchValue(
		[]interface{}{1, 2},
		[]interface{}{int64(1), int64(2)}))

	assert.False(t, matchValue(true, false))
	assert.False(t, matchValue([]interface{}{1, 2}, []interface{}{int64(1)}))
	assert.False(t, matchValue(0.5, int64(0)))
	assert.False(t, matchValue(map[string]interface{}{"rank": 1}, "not a map"))
}
