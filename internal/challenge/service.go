package challenge

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reflexgg/lightsout/internal/anticheat"
	"github.com/reflexgg/lightsout/internal/config"
	"github.com/reflexgg/lightsout/internal/replay"
	"github.com/reflexgg/lightsout/internal/sequence"
	"github.com/reflexgg/lightsout/internal/store"
)

// IDGenerator mints challenge ids.
type IDGenerator interface {
	Generate() string
}

// Options configures a Service. Zero values take the defaults below.
type Options struct {
	// GameConfig is the timing envelope for challenges that do not
	// carry their own. Defaults to sequence.DefaultConfig.
	GameConfig *sequence.Config

	// BaseURL prefixes shareable challenge links.
	BaseURL string

	// IDs defaults to UUIDv7Generator. Tests swap in FixedGenerator.
	IDs IDGenerator

	Logger     *slog.Logger
	Registerer prometheus.Registerer

	// Now and Seed are injectable for deterministic tests.
	Now  func() time.Time
	Seed func() int32
}

func (o *Options) applyDefaults() {
	if o.GameConfig == nil {
		cfg := sequence.DefaultConfig()
		o.GameConfig = &cfg
	}
	if o.BaseURL == "" {
		o.BaseURL = "https://lightsout.gg"
	}
	if o.IDs == nil {
		o.IDs = UUIDv7Generator{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Seed == nil {
		o.Seed = func() int32 { return int32(rand.Uint32()) }
	}
}

// Service orchestrates the challenge lifecycle: create a duel from the
// creator's run, hand opponents a regenerated session, resolve their
// submissions against the ghost, and validate replays.
type Service struct {
	store    *store.Store
	pipeline *anticheat.Pipeline
	cfg      sequence.Config
	baseURL  string
	ids      IDGenerator
	log      *slog.Logger
	metrics  *Metrics
	now      func() time.Time
	seed     func() int32
}

// New wires a Service over the storage engine and plausibility
// pipeline.
func New(st *store.Store, pipeline *anticheat.Pipeline, opts Options) *Service {
	opts.applyDefaults()
	return &Service{
		store:    st,
		pipeline: pipeline,
		cfg:      *opts.GameConfig,
		baseURL:  opts.BaseURL,
		ids:      opts.IDs,
		log:      opts.Logger,
		metrics:  NewMetrics(opts.Registerer),
		now:      opts.Now,
		seed:     opts.Seed,
	}
}

// Create opens a challenge from the creator's completed run. The run
// passes through the plausibility pipeline first; a rejected time never
// becomes a challenge.
func (s *Service) Create(ctx context.Context, userID, username string, req CreateRequest) (Created, error) {
	if userID == "" {
		return Created{}, &InputError{Field: "user_id", Reason: "required"}
	}
	if req.ReactionTimeMS <= 0 {
		return Created{}, &InputError{Field: "reaction_time_ms", Reason: "must be positive"}
	}

	cfg := s.cfg
	if req.GameConfig != nil {
		cfg = *req.GameConfig
	}
	if err := config.ValidateGameConfig(cfg); err != nil {
		return Created{}, err
	}

	sub := s.submission(ctx, userID, req.ReactionTimeMS, req.Session)
	sub.MinSequenceMS = cfg.MinSequenceMS()
	verdict := s.pipeline.Validate(ctx, sub)
	if verdict.Action == anticheat.ActionReject {
		return Created{}, &RejectedError{Result: verdict}
	}

	now := s.now()
	ch := Challenge{
		ID:            s.ids.Generate(),
		CreatorID:     userID,
		CreatorName:   username,
		CreatorTimeMS: req.ReactionTimeMS,
		CreatorRating: req.Rating,
		Seed:          s.seed(),
		CreatedAt:     now,
		ExpiresAt:     now.Add(challengeTTL),
		GameConfig:    cfg,
		Attempts:      []Attempt{},
	}
	if err := store.Set(ctx, s.store, challengeKey(ch.ID), ch, challengeTTL); err != nil {
		return Created{}, err
	}

	s.metrics.Operations.WithLabelValues("create").Inc()
	s.log.Info("challenge created",
		"challenge_id", ch.ID,
		"creator_id", userID,
		"time_ms", req.ReactionTimeMS,
		"seed", ch.Seed)

	return Created{
		ChallengeID:  ch.ID,
		ChallengeURL: s.baseURL + "/challenge/" + ch.ID,
		ExpiresAt:    ch.ExpiresAt,
	}, nil
}

// Accept regenerates the challenge's sequence for an opponent and
// persists the session they will play under. Accepting twice simply
// reissues the identical session: the schedule is a pure function of
// the stored seed.
func (s *Service) Accept(ctx context.Context, userID, challengeID string) (Session, error) {
	if userID == "" {
		return Session{}, &InputError{Field: "user_id", Reason: "required"}
	}

	now := s.now()
	ch, err := s.loadChallenge(ctx, challengeID, now)
	if err != nil {
		return Session{}, err
	}

	gen := sequence.NewGenerator(ch.Seed)
	schedule := sequence.BuildSchedule(gen, ch.GameConfig)
	ref, err := replay.Build(ch.Seed, gen.State().Trace, schedule.LightOffsetsMS, schedule.LightsOutMS, ch.GameConfig)
	if err != nil {
		return Session{}, err
	}

	sess := Session{
		ChallengeID:    ch.ID,
		UserID:         userID,
		Seed:           ch.Seed,
		GameConfig:     ch.GameConfig,
		Schedule:       schedule,
		OpponentTimeMS: ch.CreatorTimeMS,
		OpponentName:   ch.CreatorName,
		Reference:      ref,
		ExpiresAt:      now.Add(sessionTTL),
	}
	if err := store.Set(ctx, s.store, sessionKey(ch.ID, userID), sess, sessionTTL); err != nil {
		return Session{}, err
	}

	s.metrics.Operations.WithLabelValues("accept").Inc()
	s.log.Info("challenge accepted",
		"challenge_id", ch.ID,
		"user_id", userID,
		"delay_ms", schedule.DelayMS)

	return sess, nil
}

// Submit records an opponent's run and resolves it against the
// creator's ghost. A user resubmitting replaces their earlier attempt
// rather than stacking a new one.
func (s *Service) Submit(ctx context.Context, userID string, req SubmitRequest) (Result, error) {
	if userID == "" {
		return Result{}, &InputError{Field: "user_id", Reason: "required"}
	}
	if req.ChallengeID == "" {
		return Result{}, &InputError{Field: "challenge_id", Reason: "required"}
	}
	if req.ReactionTimeMS <= 0 {
		return Result{}, &InputError{Field: "reaction_time_ms", Reason: "must be positive"}
	}

	now := s.now()
	ch, err := s.loadChallenge(ctx, req.ChallengeID, now)
	if err != nil {
		return Result{}, err
	}
	if ch.CreatorID == userID {
		return Result{}, &InputError{Field: "user_id", Reason: "creator cannot play their own challenge"}
	}

	sub := s.submission(ctx, userID, req.ReactionTimeMS, req.Session)
	sub.MinSequenceMS = ch.GameConfig.MinSequenceMS()
	verdict := s.pipeline.Validate(ctx, sub)
	if verdict.Action == anticheat.ActionReject {
		return Result{}, &RejectedError{Result: verdict}
	}

	attempt := Attempt{
		UserID:         userID,
		ReactionTimeMS: req.ReactionTimeMS,
		Rating:         req.Rating,
		CompletedAt:    now,
	}

	// Re-setting the record must not extend its life, so the write
	// carries the remaining TTL rather than a fresh one.
	ttl := ch.ExpiresAt.Sub(now)
	updated, err := store.Update(ctx, s.store, challengeKey(ch.ID), ttl,
		func(current Challenge, exists bool) (Challenge, error) {
			if !exists {
				return Challenge{}, &NotFoundError{ChallengeID: ch.ID}
			}
			replaced := false
			for i := range current.Attempts {
				if current.Attempts[i].UserID == userID {
					current.Attempts[i] = attempt
					replaced = true
					break
				}
			}
			if !replaced {
				current.Attempts = append(current.Attempts, attempt)
			}
			return current, nil
		})
	if err != nil {
		return Result{}, err
	}

	winner, margin := decideWinner(req.ReactionTimeMS, updated.CreatorTimeMS)

	s.metrics.Operations.WithLabelValues("submit").Inc()
	s.log.Info("challenge attempt recorded",
		"challenge_id", ch.ID,
		"user_id", userID,
		"time_ms", req.ReactionTimeMS,
		"winner", winner,
		"margin_ms", margin)

	return Result{
		UserTimeMS:     req.ReactionTimeMS,
		OpponentTimeMS: updated.CreatorTimeMS,
		Winner:         winner,
		MarginMS:       margin,
	}, nil
}

// ValidateReplay checks a submitted replay against the reference issued
// with the user's session.
func (s *Service) ValidateReplay(ctx context.Context, userID string, req ReplayValidationRequest) (ReplayValidation, error) {
	if userID == "" {
		return ReplayValidation{}, &InputError{Field: "user_id", Reason: "required"}
	}
	if req.ChallengeID == "" {
		return ReplayValidation{}, &InputError{Field: "challenge_id", Reason: "required"}
	}

	sess, ok, err := store.Get[Session](ctx, s.store, sessionKey(req.ChallengeID, userID))
	if err != nil {
		return ReplayValidation{}, err
	}
	if !ok {
		return ReplayValidation{}, &NoSessionError{ChallengeID: req.ChallengeID, UserID: userID}
	}

	outcome := replay.Validate(req.Replay, sess.Reference, sess.GameConfig)

	s.metrics.Operations.WithLabelValues("replay_validate").Inc()
	if !outcome.Valid {
		s.log.Warn("replay mismatch",
			"challenge_id", req.ChallengeID,
			"user_id", userID,
			"mismatches", len(outcome.Mismatches))
	}

	return ReplayValidation{
		Valid:      outcome.Valid,
		Errors:     outcome.Errors(),
		Confidence: outcome.Confidence(),
	}, nil
}

// CleanupExpired removes lapsed challenges, sessions, and boards in one
// storage sweep.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	return s.store.Sweep(ctx)
}

// loadChallenge resolves a live challenge. Expiry is re-checked even
// though storage lazily expires, because a stale fallback read can
// still serve a lapsed record.
func (s *Service) loadChallenge(ctx context.Context, id string, now time.Time) (Challenge, error) {
	if id == "" {
		return Challenge{}, &InputError{Field: "challenge_id", Reason: "required"}
	}
	ch, ok, err := store.Get[Challenge](ctx, s.store, challengeKey(id))
	if err != nil {
		return Challenge{}, err
	}
	if !ok {
		return Challenge{}, &NotFoundError{ChallengeID: id}
	}
	if !ch.ExpiresAt.After(now) {
		return Challenge{}, &ExpiredError{ChallengeID: id, ExpiredAt: ch.ExpiresAt}
	}
	return ch, nil
}

// submission assembles the pipeline input, folding in the user's own
// audited history. A failed profile read degrades to a history-free
// check instead of blocking the run.
func (s *Service) submission(ctx context.Context, userID string, timeMS int64, meta SessionMeta) anticheat.Submission {
	sub := anticheat.Submission{
		UserID:         userID,
		ReactionTimeMS: timeMS,
		SessionAgeMS:   meta.SessionAgeMS,
		GameDurationMS: meta.GameDurationMS,
		Capabilities:   meta.Capabilities,
	}
	profile, err := s.pipeline.Profile(ctx, userID)
	if err != nil {
		s.log.Warn("profile lookup failed, validating without history",
			"user_id", userID,
			"error", err)
		return sub
	}
	sub.History = profile.History
	sub.SubmissionsLastHour = profile.SubmissionsLastHour
	return sub
}
