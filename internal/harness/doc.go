// Package harness executes end-to-end game scenarios against the real
// challenge service.
//
// Scenarios are YAML files describing a sequence of player operations
// and the outcomes they must produce. The harness builds a fresh
// in-memory stack per run (storage engine, plausibility pipeline,
// challenge service), executes every step, and records an ordered
// trace of invocations and completions for assertions and golden
// comparison.
//
// # Scenario Format
//
//	name: duel_flow
//	description: "Creator posts a time, opponent beats it"
//	seed: 42
//	setup:
//	  - do: create
//	    user: alice
//	    args: { reaction_time_ms: 250 }
//	flow:
//	  - do: accept
//	    user: bob
//	  - do: submit
//	    user: bob
//	    args: { reaction_time_ms: 230 }
//	    expect:
//	      case: Success
//	      result: { winner: user, margin_ms: 20 }
//	assertions:
//	  - type: trace_order
//	    steps: [accept, submit]
//
// Steps: create, accept, submit, replay, score, top, advance, sweep.
// Setup steps must succeed; flow steps carry optional expect clauses
// validated against the actual completion. Omitted session metadata
// defaults to plausible values so scenarios only spell out what they
// exercise.
//
// # Assertion Types
//
//   - trace_contains: a step appears in the trace with matching args
//   - trace_order: steps appear in the given relative order
//   - trace_count: a step appears exactly N times
//   - final_state: a leaderboard holds the expected standings
//
// # Deterministic Execution
//
// Every run uses a clock frozen at a fixed epoch (moved only by
// explicit advance steps), sequential challenge ids, and the
// scenario's fixed seed. Identical scenarios therefore produce
// byte-identical traces, which is what makes golden comparison via
// RunWithGolden sound.
package harness
