package challenge

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/reflexgg/lightsout/internal/anticheat"
	"github.com/reflexgg/lightsout/internal/store"
)

// Period selects a leaderboard window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodAllTime Period = "all-time"
)

// AllPeriods lists every window a score lands on.
var AllPeriods = []Period{PeriodDaily, PeriodWeekly, PeriodAllTime}

// ParsePeriod maps a request string onto a known window.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case PeriodDaily, PeriodWeekly, PeriodAllTime:
		return p, nil
	}
	return "", &InputError{Field: "period", Reason: `must be "daily", "weekly", or "all-time"`}
}

// TTL is the board's storage lifetime. Rolling windows outlive their
// nominal span so late readers still see the final standings; the
// all-time board never lapses.
func (p Period) TTL() time.Duration {
	switch p {
	case PeriodDaily:
		return 48 * time.Hour
	case PeriodWeekly:
		return 14 * 24 * time.Hour
	default:
		return 0
	}
}

const (
	// DefaultScope is the board every score lands on when the request
	// names none.
	DefaultScope = "global"

	// boardCap bounds each stored board.
	boardCap = 100

	// doubleSubmitWindow is how long an identical score from the same
	// user counts as an accidental double submit.
	doubleSubmitWindow = 500 * time.Millisecond
)

var scopePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

func boardKey(scope string, period Period) string {
	return "leaderboard:" + scope + ":" + string(period)
}

// Entry is one user's best time on one board.
type Entry struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username,omitempty"`
	ReactionTimeMS int64     `json:"reaction_time_ms"`
	SubmittedAt    time.Time `json:"timestamp"`
	Scope          string    `json:"scope"`
	Period         Period    `json:"period"`
	Flagged        bool      `json:"flagged,omitempty"`
}

// Board is a stored leaderboard, entries sorted fastest first.
type Board struct {
	Entries   []Entry   `json:"entries"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScoreRequest submits a run to the leaderboards.
type ScoreRequest struct {
	ReactionTimeMS int64       `json:"reaction_time_ms"`
	Scope          string      `json:"scope,omitempty"`
	Session        SessionMeta `json:"session"`
}

// Placement is where a score landed on one board. Rank is 1-based;
// zero means the score did not make the board.
type Placement struct {
	Period Period `json:"period"`
	Rank   int    `json:"rank"`
	Size   int    `json:"size"`
}

// SubmitScore runs a time through the plausibility pipeline and folds
// it into the scope's daily, weekly, and all-time boards. Flagged
// scores still place but carry the mark; rejected scores place
// nowhere.
func (s *Service) SubmitScore(ctx context.Context, userID, username string, req ScoreRequest) ([]Placement, error) {
	if userID == "" {
		return nil, &InputError{Field: "user_id", Reason: "required"}
	}
	if req.ReactionTimeMS <= 0 {
		return nil, &InputError{Field: "reaction_time_ms", Reason: "must be positive"}
	}
	scope := req.Scope
	if scope == "" {
		scope = DefaultScope
	}
	if !scopePattern.MatchString(scope) {
		return nil, &InputError{Field: "scope", Reason: "must match [a-z0-9_-]{1,64}"}
	}

	sub := s.submission(ctx, userID, req.ReactionTimeMS, req.Session)
	sub.MinSequenceMS = s.cfg.MinSequenceMS()
	verdict := s.pipeline.Validate(ctx, sub)
	if verdict.Action == anticheat.ActionReject {
		s.metrics.Scores.WithLabelValues("rejected").Inc()
		return nil, &RejectedError{Result: verdict}
	}
	flagged := verdict.Action == anticheat.ActionFlag

	now := s.now()
	placements := make([]Placement, 0, len(AllPeriods))
	for _, period := range AllPeriods {
		entry := Entry{
			UserID:         userID,
			Username:       username,
			ReactionTimeMS: req.ReactionTimeMS,
			SubmittedAt:    now,
			Scope:          scope,
			Period:         period,
			Flagged:        flagged,
		}
		board, err := store.Update(ctx, s.store, boardKey(scope, period), period.TTL(),
			func(current Board, exists bool) (Board, error) {
				return applyScore(current, entry, now)
			})
		if err != nil {
			if IsRapidSubmission(err) {
				s.metrics.Scores.WithLabelValues("rapid").Inc()
			}
			return nil, err
		}
		placements = append(placements, Placement{
			Period: period,
			Rank:   rankOf(board, userID),
			Size:   len(board.Entries),
		})
	}

	outcome := "accepted"
	if flagged {
		outcome = "flagged"
	}
	s.metrics.Scores.WithLabelValues(outcome).Inc()
	s.log.Info("score placed",
		"user_id", userID,
		"scope", scope,
		"time_ms", req.ReactionTimeMS,
		"flagged", flagged)

	return placements, nil
}

// Top returns the board's best entries, fastest first. A missing board
// reads as empty, never as an error.
func (s *Service) Top(ctx context.Context, scope string, period Period, n int) ([]Entry, error) {
	if scope == "" {
		scope = DefaultScope
	}
	if !scopePattern.MatchString(scope) {
		return nil, &InputError{Field: "scope", Reason: "must match [a-z0-9_-]{1,64}"}
	}

	board, ok, err := store.Get[Board](ctx, s.store, boardKey(scope, period))
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Entry{}, nil
	}
	if n <= 0 || n > len(board.Entries) {
		n = len(board.Entries)
	}
	return board.Entries[:n], nil
}

// applyScore folds one entry into a board: the double-submit guard
// first, then keep-the-best per user, then resort and prune. Runs
// inside the atomic update cycle, so a concurrent writer forces a
// clean re-run over fresh state.
func applyScore(b Board, e Entry, now time.Time) (Board, error) {
	found := false
	for i := range b.Entries {
		if b.Entries[i].UserID != e.UserID {
			continue
		}
		found = true
		prev := b.Entries[i]
		if prev.ReactionTimeMS == e.ReactionTimeMS {
			if since := now.Sub(prev.SubmittedAt); since >= 0 && since < doubleSubmitWindow {
				return Board{}, &RapidSubmissionError{UserID: e.UserID, SinceLast: since}
			}
		}
		if e.ReactionTimeMS < prev.ReactionTimeMS {
			b.Entries[i] = e
		}
		break
	}
	if !found {
		b.Entries = append(b.Entries, e)
	}

	sort.Slice(b.Entries, func(i, j int) bool {
		a, c := b.Entries[i], b.Entries[j]
		if a.ReactionTimeMS != c.ReactionTimeMS {
			return a.ReactionTimeMS < c.ReactionTimeMS
		}
		if !a.SubmittedAt.Equal(c.SubmittedAt) {
			return a.SubmittedAt.Before(c.SubmittedAt)
		}
		return a.UserID < c.UserID
	})
	if len(b.Entries) > boardCap {
		b.Entries = b.Entries[:boardCap]
	}
	b.UpdatedAt = now
	return b, nil
}

func rankOf(b Board, userID string) int {
	for i := range b.Entries {
		if b.Entries[i].UserID == userID {
			return i + 1
		}
	}
	return 0
}
