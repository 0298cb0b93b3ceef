package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/reflexgg/lightsout/internal/challenge"
	"github.com/reflexgg/lightsout/internal/config"
	"github.com/reflexgg/lightsout/internal/store"
)

const maxBodyBytes = 1 << 20

// envelope is the uniform response shape.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// identity reads the gateway-authenticated user from request headers.
func identity(r *http.Request) (userID, username string) {
	return r.Header.Get("X-User-ID"), r.Header.Get("X-Username")
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &challenge.InputError{Field: "body", Reason: err.Error()}
	}
	return nil
}

// writeServiceError maps domain errors onto HTTP statuses. Breaker
// refusals carry a Retry-After hint so well-behaved clients back off.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var boe *store.BreakerOpenError
	if errors.As(err, &boe) {
		seconds := int(boe.RetryAfter/time.Second) + 1
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		s.respondError(w, http.StatusServiceUnavailable, "storage temporarily unavailable")
		return
	}

	switch {
	case challenge.IsInputError(err), config.IsGameConfigError(err):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case challenge.IsNotFound(err), challenge.IsNoSession(err):
		s.respondError(w, http.StatusNotFound, err.Error())
	case challenge.IsExpired(err):
		s.respondError(w, http.StatusGone, err.Error())
	case challenge.IsRejected(err):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case challenge.IsRapidSubmission(err):
		s.respondError(w, http.StatusTooManyRequests, err.Error())
	case store.IsQuotaError(err):
		s.respondError(w, http.StatusInsufficientStorage, "storage quota exceeded")
	case store.IsStorageError(err):
		s.respondError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		s.log.Error("request failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	userID, username := identity(r)
	if userID == "" {
		s.respondError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return
	}

	var req challenge.CreateRequest
	if err := decode(w, r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}

	created, err := s.svc.Create(r.Context(), userID, username, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, created)
}

func (s *Server) handleAcceptChallenge(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity(r)
	if userID == "" {
		s.respondError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return
	}

	sess, err := s.svc.Accept(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.respond(w, http.StatusOK, sess)
}

func (s *Server) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity(r)
	if userID == "" {
		s.respondError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return
	}

	var req challenge.SubmitRequest
	if err := decode(w, r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	req.ChallengeID = mux.Vars(r)["id"]

	res, err := s.svc.Submit(r.Context(), userID, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.respond(w, http.StatusOK, res)
}

func (s *Server) handleValidateReplay(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity(r)
	if userID == "" {
		s.respondError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return
	}

	var req challenge.ReplayValidationRequest
	if err := decode(w, r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	req.ChallengeID = mux.Vars(r)["id"]

	verdict, err := s.svc.ValidateReplay(r.Context(), userID, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.respond(w, http.StatusOK, verdict)
}

func (s *Server) handleSubmitScore(w http.ResponseWriter, r *http.Request) {
	userID, username := identity(r)
	if userID == "" {
		s.respondError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return
	}

	var req challenge.ScoreRequest
	if err := decode(w, r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}

	placements, err := s.svc.SubmitScore(r.Context(), userID, username, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.respond(w, http.StatusOK, placements)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	period, err := challenge.ParsePeriod(vars["period"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeServiceError(w, &challenge.InputError{Field: "limit", Reason: "must be a non-negative integer"})
			return
		}
		limit = n
	}

	entries, err := s.svc.Top(r.Context(), vars["scope"], period, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.respond(w, http.StatusOK, entries)
}
