package harness

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/reflexgg/lightsout/internal/canonical"
)

// TraceSnapshot is the golden-file view of one scenario execution.
// Serialized canonically so byte comparison is sound.
type TraceSnapshot struct {
	ScenarioName string
	Seed         int32
	Trace        []TraceEvent
}

// toCanonical lowers the snapshot into canonical form. Optional event
// fields are omitted when empty, mirroring their JSON tags.
func (s *TraceSnapshot) toCanonical() (canonical.Object, error) {
	trace := make(canonical.Array, len(s.Trace))
	for i, ev := range s.Trace {
		obj := canonical.Object{
			"type": canonical.String(ev.Type),
			"seq":  canonical.Int(ev.Seq),
		}
		if ev.Step != "" {
			obj["step"] = canonical.String(ev.Step)
		}
		if ev.User != "" {
			obj["user"] = canonical.String(ev.User)
		}
		if ev.Args != nil {
			args, err := convertMap(ev.Args)
			if err != nil {
				return nil, fmt.Errorf("trace[%d] args: %w", i, err)
			}
			obj["args"] = args
		}
		if ev.Case != "" {
			obj["case"] = canonical.String(ev.Case)
		}
		if ev.Result != nil {
			res, err := convertMap(ev.Result)
			if err != nil {
				return nil, fmt.Errorf("trace[%d] result: %w", i, err)
			}
			obj["result"] = res
		}
		trace[i] = obj
	}

	return canonical.Object{
		"scenario_name": canonical.String(s.ScenarioName),
		"seed":          canonical.Int(int64(s.Seed)),
		"trace":         trace,
	}, nil
}

func convertMap(m map[string]interface{}) (canonical.Object, error) {
	obj := make(canonical.Object, len(m))
	for k, v := range m {
		cv, err := convertValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		obj[k] = cv
	}
	return obj, nil
}

// convertValue lowers a trace value into canonical form. Fractional
// floats are refused: anything fractional in a trace must already be
// formatted as a string, or the bytes stop being portable.
func convertValue(v interface{}) (canonical.Value, error) {
	switch val := v.(type) {
	case string:
		return canonical.String(val), nil
	case bool:
		return canonical.Bool(val), nil
	case int:
		return canonical.Int(int64(val)), nil
	case int32:
		return canonical.Int(int64(val)), nil
	case int64:
		return canonical.Int(val), nil
	case float64:
		if val == float64(int64(val)) {
			return canonical.Int(int64(val)), nil
		}
		return nil, fmt.Errorf("fractional values are forbidden in trace data: %v", val)
	case []interface{}:
		arr := make(canonical.Array, len(val))
		for i, elem := range val {
			cv, err := convertValue(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = cv
		}
		return arr, nil
	case map[string]interface{}:
		return convertMap(val)
	case nil:
		return nil, fmt.Errorf("null values are forbidden in trace data")
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden. Regenerate fixtures with
//
//	go test ./internal/harness -update
//
// Golden files are the source of truth for expected traces; any
// behavioral drift in the service shows up as a byte diff here.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}

	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		Seed:         scenario.Seed,
		Trace:        result.Trace,
	}
	return assertSnapshot(t, scenario.Name, &snapshot)
}

// AssertGolden compares an already-obtained result against the named
// golden file.
func AssertGolden(t *testing.T, scenarioName string, seed int32, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Seed:         seed,
		Trace:        result.Trace,
	}
	return assertSnapshot(t, scenarioName, &snapshot)
}

func assertSnapshot(t *testing.T, name string, snapshot *TraceSnapshot) error {
	t.Helper()

	obj, err := snapshot.toCanonical()
	if err != nil {
		return err
	}
	traceJSON, err := canonical.Marshal(obj)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, traceJSON)
	return nil
}
