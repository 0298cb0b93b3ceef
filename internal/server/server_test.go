package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflexgg/lightsout/internal/anticheat"
	"github.com/reflexgg/lightsout/internal/challenge"
	"github.com/reflexgg/lightsout/internal/store"
	"github.com/reflexgg/lightsout/internal/testutil"
)

type webFixture struct {
	clock   *testutil.Clock
	handler http.Handler
}

func newWebFixture(t *testing.T) *webFixture {
	t.Helper()

	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	reg := prometheus.NewRegistry()

	st, err := store.New(store.NewMemory(store.WithMemoryClock(clock.Now)), store.Options{
		Now:        clock.Now,
		Registerer: reg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pipe := anticheat.New(st, anticheat.Options{Now: clock.Now, Registerer: reg})
	svc := challenge.New(st, pipe, challenge.Options{
		IDs:        challenge.NewFixedGenerator("ch-1", "ch-2", "ch-3"),
		Registerer: reg,
		Now:        clock.Now,
		Seed:       func() int32 { return 42 },
	})

	srv := New(svc, st, Options{Metrics: reg})
	return &webFixture{clock: clock, handler: srv.Router()}
}

func (f *webFixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var raw []byte
	switch b := body.(type) {
	case nil:
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
		req.Header.Set("X-Username", userID)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.True(t, env.Success, "expected success envelope, got error %q", env.Error)

	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var env struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.False(t, env.Success)
	return env.Error
}

func meta() challenge.SessionMeta {
	return challenge.SessionMeta{SessionAgeMS: 7000, GameDurationMS: 7000}
}

func TestChallengeLifecycleOverHTTP(t *testing.T) {
	f := newWebFixture(t)

	rec := f.do(t, http.MethodPost, "/api/challenges", "alice", challenge.CreateRequest{
		ReactionTimeMS: 250,
		Session:        meta(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeData[challenge.Created](t, rec)
	assert.Equal(t, "ch-1", created.ChallengeID)
	assert.Contains(t, created.ChallengeURL, "/challenge/ch-1")

	rec = f.do(t, http.MethodPost, "/api/challenges/ch-1/accept", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sess := decodeData[challenge.Session](t, rec)
	assert.Equal(t, int32(42), sess.Seed)
	assert.Len(t, sess.Schedule.LightOffsetsMS, 5)
	assert.Equal(t, int64(250), sess.OpponentTimeMS)

	rec = f.do(t, http.MethodPost, "/api/challenges/ch-1/submit", "bob", challenge.SubmitRequest{
		ReactionTimeMS: 230,
		Session:        meta(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeData[challenge.Result](t, rec)
	assert.Equal(t, challenge.WinnerUser, res.Winner)
	assert.Equal(t, int64(20), res.MarginMS)

	rec = f.do(t, http.MethodPost, "/api/challenges/ch-1/replay", "bob", challenge.ReplayValidationRequest{
		Replay: sess.Reference,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	verdict := decodeData[challenge.ReplayValidation](t, rec)
	assert.True(t, verdict.Valid)
	assert.Equal(t, 1.0, verdict.Confidence)
}

func TestIdentityRequired(t *testing.T) {
	f := newWebFixture(t)

	rec := f.do(t, http.MethodPost, "/api/challenges", "", challenge.CreateRequest{
		ReactionTimeMS: 250,
		Session:        meta(),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "X-User-ID")
}

func TestStatusMapping(t *testing.T) {
	f := newWebFixture(t)

	rec := f.do(t, http.MethodPost, "/api/challenges", "alice", challenge.CreateRequest{
		ReactionTimeMS: 40,
		Session:        meta(),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "PHYSICALLY_IMPOSSIBLE")

	rec = f.do(t, http.MethodPost, "/api/challenges/ghost/accept", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/challenges", "alice", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/challenges/ch-9/replay", "bob", challenge.ReplayValidationRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScoresAndLeaderboardOverHTTP(t *testing.T) {
	f := newWebFixture(t)

	rec := f.do(t, http.MethodPost, "/api/scores", "alice", challenge.ScoreRequest{
		ReactionTimeMS: 250,
		Session:        meta(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	placements := decodeData[[]challenge.Placement](t, rec)
	require.Len(t, placements, 3)
	assert.Equal(t, 1, placements[0].Rank)

	rec = f.do(t, http.MethodGet, "/api/leaderboards/global/daily?limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entries := decodeData[[]challenge.Entry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].UserID)

	rec = f.do(t, http.MethodGet, "/api/leaderboards/global/hourly", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/leaderboards/global/daily?limit=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRapidDuplicateStatus(t *testing.T) {
	f := newWebFixture(t)

	req := challenge.ScoreRequest{ReactionTimeMS: 250, Session: meta()}
	rec := f.do(t, http.MethodPost, "/api/scores", "alice", req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/scores", "alice", req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "Submissions too rapid")
}

func TestHealthEndpoint(t *testing.T) {
	f := newWebFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decodeData[map[string]any](t, rec)
	assert.Equal(t, "ok", health["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newWebFixture(t)

	rec := f.do(t, http.MethodPost, "/api/challenges", "alice", challenge.CreateRequest{
		ReactionTimeMS: 250,
		Session:        meta(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lightsout_challenge_operations_total")
}
