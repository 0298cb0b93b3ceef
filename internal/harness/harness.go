package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/reflexgg/lightsout/internal/anticheat"
	"github.com/reflexgg/lightsout/internal/challenge"
	"github.com/reflexgg/lightsout/internal/config"
	"github.com/reflexgg/lightsout/internal/replay"
	"github.com/reflexgg/lightsout/internal/sequence"
	"github.com/reflexgg/lightsout/internal/store"
	"github.com/reflexgg/lightsout/internal/testutil"
)

// epoch is the frozen instant every scenario starts at. Time moves only
// through explicit advance steps.
var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Session metadata applied when a step omits it. Clean values for the
// default game envelope, so scenarios only spell out what they probe.
const (
	defaultSessionAgeMS   = 7000
	defaultGameDurationMS = 7000
)

// sequentialIDs mints ch-1, ch-2, ... so traces and golden files can
// name challenges literally.
type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (g *sequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("ch-%d", g.n)
}

// Harness drives one scenario against a fresh service stack.
type Harness struct {
	clock   *testutil.Clock
	service *challenge.Service

	// sessions caches each accept's session the way a client would,
	// keyed by challenge id and user. Replay steps build their
	// candidate from it.
	sessions map[string]challenge.Session

	// last is the most recently created challenge id, the default
	// target for accept, submit, and replay steps.
	last string

	seq     int64
	elapsed int64
}

// Run executes a scenario and returns its result.
//
// Each run builds an isolated in-memory stack: storage engine,
// plausibility pipeline, and challenge service, all sharing one frozen
// clock. Setup steps run first and must succeed; flow steps record
// trace events and validate their expect clauses; assertions evaluate
// last against the trace and final leaderboard state.
func Run(scenario *Scenario) (*Result, error) {
	clock := testutil.NewClock(epoch)
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.New(store.NewMemory(store.WithMemoryClock(clock.Now)), store.Options{
		Logger: discard,
		Now:    clock.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build storage engine: %w", err)
	}
	pipe := anticheat.New(st, anticheat.Options{Logger: discard, Now: clock.Now})
	svc := challenge.New(st, pipe, challenge.Options{
		IDs:    &sequentialIDs{},
		Logger: discard,
		Now:    clock.Now,
		Seed:   func() int32 { return scenario.Seed },
	})

	h := &Harness{
		clock:    clock,
		service:  svc,
		sessions: make(map[string]challenge.Session),
	}

	ctx := context.Background()
	result := NewResult()

	if err := h.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, err
	}
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Service: svc, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSetup runs the setup steps. Any outcome other than Success
// aborts the run: setup establishes preconditions, it does not test.
func (h *Harness) executeSetup(ctx context.Context, setup []Step, result *Result) error {
	for i, step := range setup {
		result.AddInvocationTrace(step.Do, step.User, step.Args, h.nextSeq())

		caseName, res, err := h.runStep(ctx, step)
		if err != nil {
			return fmt.Errorf("setup step %d (%s): %w", i, step.Do, err)
		}
		result.AddCompletionTrace(caseName, res, h.nextSeq())

		if caseName != "Success" {
			return fmt.Errorf("setup step %d (%s): completed as %q", i, step.Do, caseName)
		}
	}
	return nil
}

// executeFlow runs the main steps, recording real completions and
// checking them against the expect clauses.
func (h *Harness) executeFlow(ctx context.Context, flow []Step, result *Result) error {
	for i, step := range flow {
		result.AddInvocationTrace(step.Do, step.User, step.Args, h.nextSeq())

		caseName, res, err := h.runStep(ctx, step)
		if err != nil {
			return fmt.Errorf("flow step %d (%s): %w", i, step.Do, err)
		}
		result.AddCompletionTrace(caseName, res, h.nextSeq())

		expected := "Success"
		if step.Expect != nil {
			expected = step.Expect.Case
		}
		if caseName != expected {
			result.AddError(fmt.Sprintf("flow[%d] %s: completed as %q, want %q", i, step.Do, caseName, expected))
			continue
		}
		if step.Expect == nil || step.Expect.Result == nil {
			continue
		}

		fields := make([]string, 0, len(step.Expect.Result))
		for k := range step.Expect.Result {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		for _, k := range fields {
			want := step.Expect.Result[k]
			got, ok := res[k]
			if !ok {
				result.AddError(fmt.Sprintf("flow[%d] %s: result has no field %q", i, step.Do, k))
				continue
			}
			if !matchValue(want, got) {
				result.AddError(fmt.Sprintf("flow[%d] %s: result %s = %v, want %v", i, step.Do, k, got, want))
			}
		}
	}
	return nil
}

func (h *Harness) nextSeq() int64 {
	h.seq++
	return h.seq
}

// runStep executes one operation against the service. The returned
// case is "Success" or the refusal the service answered with; the
// error return is reserved for harness and infrastructure failures.
func (h *Harness) runStep(ctx context.Context, step Step) (string, map[string]interface{}, error) {
	switch step.Do {
	case "create":
		return h.runCreate(ctx, step)
	case "accept":
		return h.runAccept(ctx, step)
	case "submit":
		return h.runSubmit(ctx, step)
	case "replay":
		return h.runReplay(ctx, step)
	case "score":
		return h.runScore(ctx, step)
	case "top":
		return h.runTop(ctx, step)
	case "advance":
		return h.runAdvance(step)
	case "sweep":
		return h.runSweep(ctx)
	}
	return "", nil, fmt.Errorf("unknown step %q", step.Do)
}

func (h *Harness) runCreate(ctx context.Context, step Step) (string, map[string]interface{}, error) {
	req := challenge.CreateRequest{
		ReactionTimeMS: intArg(step.Args, "reaction_time_ms", 0),
		Session:        sessionMeta(step.Args),
	}
	if cfg, ok := gameConfig(step.Args); ok {
		req.GameConfig = &cfg
	}

	created, err := h.service.Create(ctx, step.User, step.User, req)
	if err != nil {
		return completionFor(err)
	}
	h.last = created.ChallengeID
	return "Success", map[string]interface{}{
		"challenge_id": created.ChallengeID,
		"url":          created.ChallengeURL,
	}, nil
}

func (h *Harness) runAccept(ctx context.Context, step Step) (string, map[string]interface{}, error) {
	id := strArg(step.Args, "challenge", h.last)
	sess, err := h.service.Accept(ctx, step.User, id)
	if err != nil {
		return completionFor(err)
	}
	h.sessions[id+"/"+step.User] = sess
	return "Success", map[string]interface{}{
		"seed":            int64(sess.Seed),
		"lights":          int64(len(sess.Schedule.LightOffsetsMS)),
		"lights_out_ms":   sess.Schedule.LightsOutMS,
		"min_possible_ms": sess.Schedule.MinPossibleMS,
		"opponent_ms":     sess.OpponentTimeMS,
	}, nil
}

func (h *Harness) runSubmit(ctx context.Context, step Step) (string, map[string]interface{}, error) {
	req := challenge.SubmitRequest{
		ChallengeID:    strArg(step.Args, "challenge", h.last),
		ReactionTimeMS: intArg(step.Args, "reaction_time_ms", 0),
		Session:        sessionMeta(step.Args),
	}
	res, err := h.service.Submit(ctx, step.User, req)
	if err != nil {
		return completionFor(err)
	}
	return "Success", map[string]interface{}{
		"winner":      res.Winner,
		"margin_ms":   res.MarginMS,
		"opponent_ms": res.OpponentTimeMS,
	}, nil
}

// runReplay builds a candidate from the session cached at accept time,
// optionally tampering with one field, and validates it. With no cached
// session an empty candidate goes in, which the service refuses as
// NoSession.
func (h *Harness) runReplay(ctx context.Context, step Step) (string, map[string]interface{}, error) {
	id := strArg(step.Args, "challenge", h.last)

	var candidate replay.Data
	if sess, ok := h.sessions[id+"/"+step.User]; ok {
		candidate = sess.Reference
	}
	if err := tamper(&candidate, strArg(step.Args, "tamper", "none")); err != nil {
		return "", nil, err
	}

	verdict, err := h.service.ValidateReplay(ctx, step.User, challenge.ReplayValidationRequest{
		ChallengeID: id,
		Replay:      candidate,
	})
	if err != nil {
		return completionFor(err)
	}
	return "Success", map[string]interface{}{
		"valid":      verdict.Valid,
		"errors":     int64(len(verdict.Errors)),
		"confidence": fmt.Sprintf("%.2f", verdict.Confidence),
	}, nil
}

func tamper(candidate *replay.Data, mode string) error {
	switch mode {
	case "", "none":
	case "duration":
		candidate.TotalDurationMS += 100
	case "seed":
		candidate.Seed++
	case "trace":
		trace := append([]float64(nil), candidate.Trace...)
		if len(trace) > 0 {
			trace[0] += 0.001
		}
		candidate.Trace = trace
	case "timing":
		timings := append([]int64(nil), candidate.LightTimingsMS...)
		if len(timings) > 0 {
			timings[0] += 50
		}
		candidate.LightTimingsMS = timings
	default:
		return fmt.Errorf("unknown tamper %q", mode)
	}
	return nil
}

func (h *Harness) runScore(ctx context.Context, step Step) (string, map[string]interface{}, error) {
	req := challenge.ScoreRequest{
		ReactionTimeMS: intArg(step.Args, "reaction_time_ms", 0),
		Scope:          strArg(step.Args, "scope", ""),
		Session:        sessionMeta(step.Args),
	}
	placements, err := h.service.SubmitScore(ctx, step.User, step.User, req)
	if err != nil {
		return completionFor(err)
	}

	list := make([]interface{}, 0, len(placements))
	for _, p := range placements {
		list = append(list, map[string]interface{}{
			"period": string(p.Period),
			"rank":   int64(p.Rank),
			"size":   int64(p.Size),
		})
	}
	return "Success", map[string]interface{}{"placements": list}, nil
}

func (h *Harness) runTop(ctx context.Context, step Step) (string, map[string]interface{}, error) {
	period, err := challenge.ParsePeriod(strArg(step.Args, "period", ""))
	if err != nil {
		return completionFor(err)
	}
	entries, err := h.service.Top(ctx, strArg(step.Args, "scope", ""), period, intN(step.Args, "limit", 0))
	if err != nil {
		return completionFor(err)
	}

	list := make([]interface{}, 0, len(entries))
	for i, e := range entries {
		list = append(list, map[string]interface{}{
			"rank":    int64(i + 1),
			"user":    e.UserID,
			"time_ms": e.ReactionTimeMS,
			"flagged": e.Flagged,
		})
	}
	return "Success", map[string]interface{}{
		"size":    int64(len(entries)),
		"entries": list,
	}, nil
}

func (h *Harness) runAdvance(step Step) (string, map[string]interface{}, error) {
	ms := intArg(step.Args, "ms", 0)
	if ms <= 0 {
		return "", nil, fmt.Errorf("advance: ms must be positive, got %d", ms)
	}
	h.clock.Advance(time.Duration(ms) * time.Millisecond)
	h.elapsed += ms
	return "Success", map[string]interface{}{"now_ms": h.elapsed}, nil
}

func (h *Harness) runSweep(ctx context.Context) (string, map[string]interface{}, error) {
	removed, err := h.service.CleanupExpired(ctx)
	if err != nil {
		return completionFor(err)
	}
	return "Success", map[string]interface{}{"removed": int64(removed)}, nil
}

// completionFor maps a service refusal onto its output case. Errors
// outside the known set are infrastructure failures and abort the run.
func completionFor(err error) (string, map[string]interface{}, error) {
	switch {
	case challenge.IsRejected(err):
		return "Rejected", nil, nil
	case challenge.IsRapidSubmission(err):
		return "RapidSubmission", nil, nil
	case challenge.IsNotFound(err):
		return "NotFound", nil, nil
	case challenge.IsExpired(err):
		return "Expired", nil, nil
	case challenge.IsNoSession(err):
		return "NoSession", nil, nil
	case challenge.IsInputError(err):
		return "InvalidInput", nil, nil
	case config.IsGameConfigError(err):
		return "InvalidConfig", nil, nil
	}
	return "", nil, err
}

func sessionMeta(args map[string]interface{}) challenge.SessionMeta {
	return challenge.SessionMeta{
		SessionAgeMS:   intArg(args, "session_age_ms", defaultSessionAgeMS),
		GameDurationMS: intArg(args, "game_duration_ms", defaultGameDurationMS),
	}
}

// gameConfig builds a custom timing envelope when the step carries any
// envelope argument. Absent fields keep their defaults.
func gameConfig(args map[string]interface{}) (sequence.Config, bool) {
	cfg := sequence.DefaultConfig()
	custom := false
	if v, ok := args["lights"]; ok {
		cfg.LightCount = int(toInt64(v))
		custom = true
	}
	if v, ok := args["interval_ms"]; ok {
		cfg.IntervalMS = toInt64(v)
		custom = true
	}
	if v, ok := args["min_delay_ms"]; ok {
		cfg.MinDelayMS = toInt64(v)
		custom = true
	}
	if v, ok := args["max_delay_ms"]; ok {
		cfg.MaxDelayMS = toInt64(v)
		custom = true
	}
	return cfg, custom
}

func intArg(args map[string]interface{}, key string, def int64) int64 {
	v, ok := args[key]
	if !ok {
		return def
	}
	return toInt64(v)
}

func intN(args map[string]interface{}, key string, def int) int {
	return int(intArg(args, key, int64(def)))
}

func strArg(args map[string]interface{}, key, def string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// toInt64 widens the numeric types the YAML decoder produces.
func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
