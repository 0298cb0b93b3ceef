package anticheat

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reflexgg/lightsout/internal/store"
)

const (
	userLogCap  = 100
	eventLogCap = 200

	userLogTTL = 30 * 24 * time.Hour
	metricsTTL = 48 * time.Hour

	eventsKey = "security:events"
)

func userLogKey(userID string) string { return "validation:user:" + userID }
func flaggedKey(userID string) string { return "validation:flagged:" + userID }

func metricsKey(t time.Time) string {
	return "validation:metrics:" + t.UTC().Format("2006-01-02-15")
}

// LogEntry is one validation in a player's audit log. Entries are
// append-only; the log keeps the most recent userLogCap of them.
type LogEntry struct {
	UserID         string    `json:"user_id"`
	ReactionTimeMS int64     `json:"reaction_time_ms"`
	Result         Result    `json:"result"`
	Severity       string    `json:"severity"`
	At             time.Time `json:"at"`
}

// HourlyMetrics aggregates one hour of validations for monitoring.
type HourlyMetrics struct {
	Total         int            `json:"total"`
	ByAction      map[string]int `json:"by_action"`
	AvgConfidence float64        `json:"avg_confidence"`
	FlagCounts    map[string]int `json:"flag_counts,omitempty"`
}

// SecurityEvent records an auto-flagged validation.
type SecurityEvent struct {
	UserID     string    `json:"user_id"`
	Flags      []string  `json:"flags,omitempty"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

// Options configures a Pipeline.
type Options struct {
	Config     Config
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// Pipeline runs the checks and keeps the audit trail. Safe for
// concurrent use.
type Pipeline struct {
	store   *store.Store
	cfg     Config
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// New wires a pipeline over the storage engine.
func New(st *store.Store, opts Options) *Pipeline {
	opts.Config.applyDefaults()
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		store:   st,
		cfg:     opts.Config,
		log:     opts.Logger,
		metrics: NewMetrics(opts.Registerer),
		now:     opts.Now,
	}
}

// Validate runs every check over the submission and combines them into
// one decision. The outcome is always recorded; audit failures are
// logged but never change or block the decision itself.
func (p *Pipeline) Validate(ctx context.Context, sub Submission) Result {
	res := Combine(
		CheckBounds(sub),
		CheckSession(sub, p.cfg),
		CheckDevice(sub),
		CheckHistory(sub, p.cfg),
	)

	p.metrics.Validations.WithLabelValues(string(res.Action)).Inc()
	p.audit(ctx, sub, res)
	return res
}

// UserLog returns the player's recent validation history, newest last.
func (p *Pipeline) UserLog(ctx context.Context, userID string) ([]LogEntry, error) {
	entries, _, err := store.Get[[]LogEntry](ctx, p.store, userLogKey(userID))
	return entries, err
}

// FlaggedCount returns how many security events the player has raised.
func (p *Pipeline) FlaggedCount(ctx context.Context, userID string) (int, error) {
	count, _, err := store.Get[int](ctx, p.store, flaggedKey(userID))
	return count, err
}

// HourMetrics returns the aggregate for the hour containing at.
func (p *Pipeline) HourMetrics(ctx context.Context, at time.Time) (HourlyMetrics, bool, error) {
	return store.Get[HourlyMetrics](ctx, p.store, metricsKey(at))
}

// Profile summarizes a player's audit log for the checks that look at
// their past: accepted times for the outlier analysis and the last
// hour's submission count for the rate cap.
type Profile struct {
	History             []int64
	SubmissionsLastHour int
}

// Profile derives the player's validation context from their log.
func (p *Pipeline) Profile(ctx context.Context, userID string) (Profile, error) {
	entries, err := p.UserLog(ctx, userID)
	if err != nil {
		return Profile{}, err
	}

	cutoff := p.now().Add(-time.Hour)
	var out Profile
	for _, e := range entries {
		if e.Result.Action == ActionAccept {
			out.History = append(out.History, e.ReactionTimeMS)
		}
		if e.At.After(cutoff) {
			out.SubmissionsLastHour++
		}
	}
	return out, nil
}

func (p *Pipeline) audit(ctx context.Context, sub Submission, res Result) {
	now := p.now()
	entry := LogEntry{
		UserID:         sub.UserID,
		ReactionTimeMS: sub.ReactionTimeMS,
		Result:         res,
		Severity:       severity(res),
		At:             now,
	}

	_, err := store.Update(ctx, p.store, userLogKey(sub.UserID), userLogTTL,
		func(entries []LogEntry, _ bool) ([]LogEntry, error) {
			entries = append(entries, entry)
			if len(entries) > userLogCap {
				entries = entries[len(entries)-userLogCap:]
			}
			return entries, nil
		})
	if err != nil {
		p.metrics.AuditFailures.Inc()
		p.log.Warn("validation log write failed", "user", sub.UserID, "error", err)
	}

	_, err = store.Update(ctx, p.store, metricsKey(now), metricsTTL,
		func(agg HourlyMetrics, _ bool) (HourlyMetrics, error) {
			if agg.ByAction == nil {
				agg.ByAction = make(map[string]int)
			}
			if agg.FlagCounts == nil {
				agg.FlagCounts = make(map[string]int)
			}
			agg.Total++
			agg.ByAction[string(res.Action)]++
			agg.AvgConfidence += (res.Confidence - agg.AvgConfidence) / float64(agg.Total)
			for _, f := range res.Flags {
				agg.FlagCounts[f]++
			}
			return agg, nil
		})
	if err != nil {
		p.metrics.AuditFailures.Inc()
		p.log.Warn("validation metrics write failed", "hour", metricsKey(now), "error", err)
	}

	if !autoFlag(res) {
		return
	}

	p.metrics.SecurityEvents.Inc()
	p.log.Warn("security event",
		"user", sub.UserID, "action", res.Action,
		"confidence", res.Confidence, "flags", res.Flags)

	event := SecurityEvent{UserID: sub.UserID, Flags: res.Flags, Confidence: res.Confidence, At: now}
	_, err = store.Update(ctx, p.store, eventsKey, userLogTTL,
		func(events []SecurityEvent, _ bool) ([]SecurityEvent, error) {
			events = append(events, event)
			if len(events) > eventLogCap {
				events = events[len(events)-eventLogCap:]
			}
			return events, nil
		})
	if err != nil {
		p.metrics.AuditFailures.Inc()
		p.log.Warn("security event write failed", "user", sub.UserID, "error", err)
	}

	_, err = store.Update(ctx, p.store, flaggedKey(sub.UserID), userLogTTL,
		func(count int, _ bool) (int, error) {
			return count + 1, nil
		})
	if err != nil {
		p.metrics.AuditFailures.Inc()
		p.log.Warn("flagged count write failed", "user", sub.UserID, "error", err)
	}
}
