package anticheat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflexgg/lightsout/internal/store"
)

func newTestPipeline(t *testing.T, at time.Time) *Pipeline {
	t.Helper()
	st, err := store.New(store.NewMemory(), store.Options{})
	require.NoError(t, err)
	return New(st, Options{Now: func() time.Time { return at }})
}

func cleanSubmission(userID string, timeMS int64) Submission {
	return Submission{
		UserID:         userID,
		ReactionTimeMS: timeMS,
		SessionAgeMS:   7000,
		GameDurationMS: 7000,
	}
}

func TestValidateAcceptIsAudited(t *testing.T) {
	at := time.Date(2026, 1, 15, 12, 30, 0, 0, time.UTC)
	p := newTestPipeline(t, at)
	ctx := context.Background()

	res := p.Validate(ctx, cleanSubmission("racer", 180))
	assert.Equal(t, ActionAccept, res.Action)
	assert.True(t, res.Valid)
	assert.Equal(t, 1.0, res.Confidence)

	entries, err := p.UserLog(ctx, "racer")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(180), entries[0].ReactionTimeMS)
	assert.Equal(t, "info", entries[0].Severity)
	assert.Equal(t, at, entries[0].At)

	agg, ok, err := p.HourMetrics(ctx, at)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, agg.Total)
	assert.Equal(t, map[string]int{"accept": 1}, agg.ByAction)
	assert.Equal(t, 1.0, agg.AvgConfidence)

	count, err := p.FlaggedCount(ctx, "racer")
	require.NoError(t, err)
	assert.Zero(t, count, "accepts raise no security event")
}

func TestValidateRejectRaisesSecurityEvent(t *testing.T) {
	at := time.Date(2026, 1, 15, 12, 30, 0, 0, time.UTC)
	p := newTestPipeline(t, at)
	ctx := context.Background()

	res := p.Validate(ctx, cleanSubmission("cheat", 40))
	assert.Equal(t, ActionReject, res.Action)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Flags, FlagPhysicallyImpossible)

	entries, err := p.UserLog(ctx, "cheat")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "critical", entries[0].Severity)

	count, err := p.FlaggedCount(ctx, "cheat")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	events, _, err := store.Get[[]SecurityEvent](ctx, p.store, eventsKey)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "cheat", events[0].UserID)
	assert.Contains(t, events[0].Flags, FlagPhysicallyImpossible)
}

func TestValidateFlagsBelowThreshold(t *testing.T) {
	at := time.Date(2026, 1, 15, 12, 30, 0, 0, time.UTC)
	p := newTestPipeline(t, at)

	// 222 is a repeated-digit value; the mechanical-input scaling pulls
	// it under the accept threshold without any check requesting a flag.
	res := p.Validate(context.Background(), cleanSubmission("racer", 222))
	assert.Equal(t, ActionFlag, res.Action)
	assert.True(t, res.Valid)
	assert.Contains(t, res.Flags, FlagRepeatedDigits)

	count, err := p.FlaggedCount(context.Background(), "racer")
	require.NoError(t, err)
	assert.Zero(t, count, "a plain flag is review friction, not a security event")
}

func TestUserLogCapped(t *testing.T) {
	at := time.Date(2026, 1, 15, 12, 30, 0, 0, time.UTC)
	p := newTestPipeline(t, at)
	ctx := context.Background()

	for i := 0; i < userLogCap+5; i++ {
		p.Validate(ctx, cleanSubmission("grinder", 501+int64(i)))
	}

	entries, err := p.UserLog(ctx, "grinder")
	require.NoError(t, err)
	require.Len(t, entries, userLogCap)
	// The oldest five were evicted.
	assert.Equal(t, int64(506), entries[0].ReactionTimeMS)
	assert.Equal(t, int64(505+userLogCap), entries[len(entries)-1].ReactionTimeMS)
}

func TestHourlyMetricsAggregate(t *testing.T) {
	at := time.Date(2026, 1, 15, 12, 30, 0, 0, time.UTC)
	p := newTestPipeline(t, at)
	ctx := context.Background()

	p.Validate(ctx, cleanSubmission("a", 180))
	p.Validate(ctx, cleanSubmission("b", 190))
	p.Validate(ctx, cleanSubmission("c", 40))

	agg, ok, err := p.HourMetrics(ctx, at)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, agg.Total)
	assert.Equal(t, map[string]int{"accept": 2, "reject": 1}, agg.ByAction)
	assert.InDelta(t, 2.0/3.0, agg.AvgConfidence, 1e-12)
	assert.Equal(t, 1, agg.FlagCounts[FlagPhysicallyImpossible])
}

func TestProfileFromAuditLog(t *testing.T) {
	at := time.Date(2026, 1, 15, 12, 30, 0, 0, time.UTC)
	p := newTestPipeline(t, at)
	ctx := context.Background()

	p.Validate(ctx, cleanSubmission("racer", 180)) // accept
	p.Validate(ctx, cleanSubmission("racer", 195)) // accept
	p.Validate(ctx, cleanSubmission("racer", 40))  // reject

	profile, err := p.Profile(ctx, "racer")
	require.NoError(t, err)
	assert.Equal(t, []int64{180, 195}, profile.History, "only accepted times feed the outlier check")
	assert.Equal(t, 3, profile.SubmissionsLastHour, "every submission counts toward the rate")
}

func TestProfileEmptyForUnknownUser(t *testing.T) {
	p := newTestPipeline(t, time.Date(2026, 1, 15, 12, 30, 0, 0, time.UTC))

	profile, err := p.Profile(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, profile.History)
	assert.Zero(t, profile.SubmissionsLastHour)
}

func TestAuditFailureNeverBlocksDecision(t *testing.T) {
	// A one-byte value ceiling refuses every audit write.
	st, err := store.New(store.NewMemory(), store.Options{ValueLimit: 1})
	require.NoError(t, err)
	p := New(st, Options{})

	res := p.Validate(context.Background(), cleanSubmission("racer", 180))
	assert.Equal(t, ActionAccept, res.Action)

	entries, err := p.UserLog(context.Background(), "racer")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
