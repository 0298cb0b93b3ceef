package challenge

import (
	"time"

	"github.com/reflexgg/lightsout/internal/anticheat"
	"github.com/reflexgg/lightsout/internal/replay"
	"github.com/reflexgg/lightsout/internal/sequence"
)

const (
	challengeTTL = 7 * 24 * time.Hour
	sessionTTL   = 24 * time.Hour

	// tieWindowMS is the margin within which two times count as equal.
	tieWindowMS = 5
)

func challengeKey(id string) string { return "challenge:" + id }

func sessionKey(challengeID, userID string) string {
	return "challenge_session:" + challengeID + ":" + userID
}

// Challenge is the persistent duel record. Immutable after creation
// except for Attempts; Seed in particular never changes, it is the
// anchor that lets any opponent regenerate the identical sequence.
type Challenge struct {
	ID            string          `json:"id"`
	CreatorID     string          `json:"creator_id"`
	CreatorName   string          `json:"creator_name,omitempty"`
	CreatorTimeMS int64           `json:"creator_time_ms"`
	CreatorRating string          `json:"creator_rating,omitempty"`
	Seed          int32           `json:"seed"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	GameConfig    sequence.Config `json:"game_config"`
	Attempts      []Attempt       `json:"attempts"`
}

// Attempt is one opponent's run. At most one live entry per user;
// re-submission replaces it.
type Attempt struct {
	UserID         string    `json:"user_id"`
	ReactionTimeMS int64     `json:"reaction_time_ms"`
	Rating         string    `json:"rating,omitempty"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Session is the server-issued view an opponent plays against: the
// regenerated schedule, the creator's ghost time, and the reference
// replay later submissions are validated against.
type Session struct {
	ChallengeID    string            `json:"challenge_id"`
	UserID         string            `json:"user_id"`
	Seed           int32             `json:"seed"`
	GameConfig     sequence.Config   `json:"game_config"`
	Schedule       sequence.Schedule `json:"schedule"`
	OpponentTimeMS int64             `json:"opponent_time_ms"`
	OpponentName   string            `json:"opponent_name,omitempty"`
	Reference      replay.Data       `json:"reference"`
	ExpiresAt      time.Time         `json:"expires_at"`
}

// SessionMeta is client-reported context consumed by the plausibility
// pipeline.
type SessionMeta struct {
	SessionAgeMS   int64                         `json:"session_age_ms"`
	GameDurationMS int64                         `json:"game_duration_ms"`
	Capabilities   *anticheat.DeviceCapabilities `json:"capabilities,omitempty"`
}

// CreateRequest opens a new challenge from the creator's run.
type CreateRequest struct {
	ReactionTimeMS int64            `json:"reaction_time_ms"`
	Rating         string           `json:"rating,omitempty"`
	GameConfig     *sequence.Config `json:"game_config,omitempty"`
	Session        SessionMeta      `json:"session"`
}

// Created is the answer to a successful create.
type Created struct {
	ChallengeID  string    `json:"challenge_id"`
	ChallengeURL string    `json:"challenge_url"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SubmitRequest records an opponent's run against a challenge.
type SubmitRequest struct {
	ChallengeID    string      `json:"challenge_id"`
	ReactionTimeMS int64       `json:"reaction_time_ms"`
	Rating         string      `json:"rating,omitempty"`
	Session        SessionMeta `json:"session"`
}

// Winner values are relative to the submitting user.
const (
	WinnerUser     = "user"
	WinnerOpponent = "opponent"
	WinnerTie      = "tie"
)

// Result resolves one submission against the creator's ghost.
type Result struct {
	UserTimeMS     int64  `json:"user_time_ms"`
	OpponentTimeMS int64  `json:"opponent_time_ms"`
	Winner         string `json:"winner"`
	MarginMS       int64  `json:"margin_of_victory_ms"`
}

// ReplayValidationRequest asks whether a submitted replay matches the
// deterministic session it claims to come from.
type ReplayValidationRequest struct {
	ChallengeID string      `json:"challenge_id"`
	Replay      replay.Data `json:"replay"`
}

// ReplayValidation is the structured verdict.
type ReplayValidation struct {
	Valid      bool     `json:"is_valid"`
	Errors     []string `json:"errors,omitempty"`
	Confidence float64  `json:"confidence"`
}

// decideWinner applies the tie window, then lower-time-wins, from the
// submitting user's perspective.
func decideWinner(userMS, opponentMS int64) (string, int64) {
	margin := userMS - opponentMS
	if margin < 0 {
		margin = -margin
	}
	switch {
	case margin <= tieWindowMS:
		return WinnerTie, margin
	case userMS < opponentMS:
		return WinnerUser, margin
	default:
		return WinnerOpponent, margin
	}
}
