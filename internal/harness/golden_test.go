package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflexgg/lightsout/internal/canonical"
)

func simpleDuelScenario() *Scenario {
	return &Scenario{
		Name:        "simple_duel",
		Description: "the shortest possible duel, snapshotted",
		Seed:        5,
		Flow: []Step{
			step("create", "alice", map[string]interface{}{"reaction_time_ms": 300}),
			step("submit", "bob", map[string]interface{}{"reaction_time_ms": 320}),
		},
		Assertions: []Assertion{
			{Type: AssertTraceOrder, Steps: []string{"create", "submit"}},
		},
	}
}

func TestSimpleDuelGolden(t *testing.T) {
	require.NoError(t, RunWithGolden(t, simpleDuelScenario()))
}

// TestScenarioGoldens replays every scenario file and pins its trace to
// the golden under testdata/golden. Scenario names double as fixture
// names.
func TestScenarioGoldens(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(strings.TrimSuffix(filepath.Base(path), ".yaml"), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSuffix(filepath.Base(path), ".yaml"), scenario.Name)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)

			require.NoError(t, AssertGolden(t, scenario.Name, scenario.Seed, result))
		})
	}
}

func snapshotBytes(t *testing.T, scenario *Scenario) []byte {
	t.Helper()

	result, err := Run(scenario)
	require.NoError(t, err)

	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		Seed:         scenario.Seed,
		Trace:        result.Trace,
	}
	obj, err := snapshot.toCanonical()
	require.NoError(t, err)
	data, err := canonical.Marshal(obj)
	require.NoError(t, err)
	return data
}

func TestTraceSnapshotDeterministic(t *testing.T) {
	first := snapshotBytes(t, simpleDuelScenario())
	second := snapshotBytes(t, simpleDuelScenario())
	assert.Equal(t, first, second)
}

func TestTraceSnapshotCanonicalForm(t *testing.T) {
	data := string(snapshotBytes(t, simpleDuelScenario()))

	assert.True(t, strings.HasPrefix(data, `{"scenario_name":"simple_duel","seed":5,"trace":[`))
	assert.Contains(t, data, `{"args":{"reaction_time_ms":300},"seq":1,"step":"create","type":"invocation","user":"alice"}`)
	assert.Contains(t, data, `"winner":"opponent"`)
	assert.NotContains(t, data, ": ")
	assert.False(t, strings.HasSuffix(data, "\n"))
}

func TestConvertValue(t *testing.T) {
	t.Run("widens integers", func(t *testing.T) {
		for _, v := range []interface{}{42, int32(42), int64(42), float64(42)} {
			got, err := convertValue(v)
			require.NoError(t, err)
			assert.Equal(t, canonical.Int(42), got)
		}
	})

	t.Run("passes strings and bools", func(t *testing.T) {
		got, err := convertValue("1.00")
		require.NoError(t, err)
		assert.Equal(t, canonical.String("1.00"), got)

		got, err = convertValue(true)
		require.NoError(t, err)
		assert.Equal(t, canonical.Bool(true), got)
	})

	t.Run("descends into lists and maps", func(t *testing.T) {
		got, err := convertValue([]interface{}{
			map[string]interface{}{"rank": int64(1)},
		})
		require.NoError(t, err)
		assert.Equal(t, canonical.Array{canonical.Object{"rank": canonical.Int(1)}}, got)
	})

	t.Run("refuses fractional floats", func(t *testing.T) {
		_, err := convertValue(0.65)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fractional values are forbidden")
	})

	t.Run("refuses nulls", func(t *testing.T) {
		_, err := convertValue(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "null values are forbidden")
	})

	t.Run("refuses unknown types", func(t *testing.T) {
		_, err := convertValue(struct{}{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported type")
	})
}
