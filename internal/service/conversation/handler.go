package conversation

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	svcErr "github.com/oggyb/muzz-commitments/internal/errors"
	"github.com/oggyb/muzz-commitments/internal/server"
)

type handler struct {
	svc *Service
	log *slog.Logger
}

type createMatchRequest struct {
	UserAID uint64 `json:"user_a_id"`
	UserBID uint64 `json:"user_b_id"`
}

type actorRequest struct {
	UserID uint64 `json:"user_id"`
}

type unmatchRequest struct {
	UserID     uint64 `json:"user_id"`
	ReasonCode string `json:"reason_code"`
}

// createMatch handles POST /matches (onMatchCreated boundary).
func (h *handler) createMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.RespondError(w, h.log, svcErr.E(svcErr.ErrInvalidArgument, "invalid JSON body"))
		return
	}
	if req.UserAID == 0 || req.UserBID == 0 {
		server.RespondError(w, h.log, svcErr.E(svcErr.ErrInvalidArgument, "user_a_id and user_b_id are required"))
		return
	}

	match, created, err := h.svc.OnMatchCreated(r.Context(), req.UserAID, req.UserBID)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	server.RespondJSON(w, status, match)
}

// open handles POST /matches/{match_id}/open.
func (h *handler) open(w http.ResponseWriter, r *http.Request) {
	matchID, req, ok := h.matchAndActor(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Open(r.Context(), matchID, req.UserID)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusOK, view)
}

// commit handles POST /matches/{match_id}/commit.
func (h *handler) commit(w http.ResponseWriter, r *http.Request) {
	matchID, req, ok := h.matchAndActor(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Commit(r.Context(), matchID, req.UserID)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusOK, view)
}

// get handles GET /matches/{match_id}/conversation?user_id=N.
func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	matchID, ok := parseMatchID(w, h.log, r)
	if !ok {
		return
	}
	userID, err := strconv.ParseUint(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		server.RespondError(w, h.log, svcErr.E(svcErr.ErrInvalidArgument, "user_id query param is required"))
		return
	}
	view, err := h.svc.Get(r.Context(), matchID, userID)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusOK, view)
}

// seen handles POST /matches/{match_id}/seen.
func (h *handler) seen(w http.ResponseWriter, r *http.Request) {
	matchID, req, ok := h.matchAndActor(w, r)
	if !ok {
		return
	}
	if err := h.svc.Seen(r.Context(), matchID, req.UserID); err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusNoContent, nil)
}

// unmatch handles DELETE /matches/{match_id}.
func (h *handler) unmatch(w http.ResponseWriter, r *http.Request) {
	matchID, ok := parseMatchID(w, h.log, r)
	if !ok {
		return
	}
	var req unmatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		server.RespondError(w, h.log, svcErr.E(svcErr.ErrInvalidArgument, "user_id is required"))
		return
	}
	if err := h.svc.Unmatch(r.Context(), matchID, req.UserID, req.ReasonCode); err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusNoContent, nil)
}

func (h *handler) matchAndActor(w http.ResponseWriter, r *http.Request) (uint64, actorRequest, bool) {
	matchID, ok := parseMatchID(w, h.log, r)
	if !ok {
		return 0, actorRequest{}, false
	}
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		server.RespondError(w, h.log, svcErr.E(svcErr.ErrInvalidArgument, "user_id is required"))
		return 0, actorRequest{}, false
	}
	return matchID, req, true
}

func parseMatchID(w http.ResponseWriter, log *slog.Logger, r *http.Request) (uint64, bool) {
	matchID, err := strconv.ParseUint(chi.URLParam(r, "match_id"), 10, 64)
	if err != nil {
		server.RespondError(w, log, svcErr.E(svcErr.ErrInvalidArgument, "match_id must be a valid uint64"))
		return 0, false
	}
	return matchID, true
}
