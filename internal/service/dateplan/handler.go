package dateplan

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	svcErr "github.com/oggyb/muzz-commitments/internal/errors"
	"github.com/oggyb/muzz-commitments/internal/server"
)

type handler struct {
	svc *Service
	log *slog.Logger
}

type proposeRequest struct {
	UserID        uint64    `json:"user_id"`
	DateStart     time.Time `json:"date_start"`
	DateEnd       time.Time `json:"date_end"`
	ActivityLabel string    `json:"activity_label"`
	PlaceLabel    string    `json:"place_label"`
	PlaceID       string    `json:"place_id"`
}

type respondRequest struct {
	UserID uint64 `json:"user_id"`
	Accept bool   `json:"accept"`
}

type forceCompleteRequest struct {
	ActorUserID   *uint64   `json:"actor_user_id"`
	DateStart     time.Time `json:"date_start"`
	DateEnd       time.Time `json:"date_end"`
	ActivityLabel string    `json:"activity_label"`
	PlaceLabel    string    `json:"place_label"`
	PlaceID       string    `json:"place_id"`
}

// propose handles POST /matches/{match_id}/date.
func (h *handler) propose(w http.ResponseWriter, r *http.Request) {
	matchID, ok := parseMatchID(w, h.log, r)
	if !ok {
		return
	}
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		server.RespondError(w, h.log, svcErr.E(svcErr.ErrInvalidArgument, "user_id is required"))
		return
	}

	view, err := h.svc.Propose(r.Context(), matchID, req.UserID, req.DateStart, req.DateEnd,
		req.ActivityLabel, req.PlaceLabel, req.PlaceID)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusOK, view)
}

// respond handles POST /matches/{match_id}/date/respond.
func (h *handler) respond(w http.ResponseWriter, r *http.Request) {
	matchID, ok := parseMatchID(w, h.log, r)
	if !ok {
		return
	}
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		server.RespondError(w, h.log, svcErr.E(svcErr.ErrInvalidArgument, "user_id is required"))
		return
	}

	view, err := h.svc.Respond(r.Context(), matchID, req.UserID, req.Accept)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusOK, view)
}

// get handles GET /matches/{match_id}/date?user_id=N.
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

// forceComplete handles POST /matches/{match_id}/date/force-complete.
func (h *handler) forceComplete(w http.ResponseWriter, r *http.Request) {
	matchID, ok := parseMatchID(w, h.log, r)
	if !ok {
		return
	}
	var req forceCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.RespondError(w, h.log, svcErr.E(svcErr.ErrInvalidArgument, "invalid JSON body"))
		return
	}

	view, err := h.svc.ForceComplete(r.Context(), matchID, req.ActorUserID, req.DateStart, req.DateEnd,
		req.ActivityLabel, req.PlaceLabel, req.PlaceID)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusOK, view)
}

// events handles GET /matches/{match_id}/date/events.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	matchID, ok := parseMatchID(w, h.log, r)
	if !ok {
		return
	}
	events, err := h.svc.Events(r.Context(), matchID)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusOK, events)
}

func parseMatchID(w http.ResponseWriter, log *slog.Logger, r *http.Request) (uint64, bool) {
	matchID, err := strconv.ParseUint(chi.URLParam(r, "match_id"), 10, 64)
	if err != nil {
		server.RespondError(w, log, svcErr.E(svcErr.ErrInvalidArgument, "match_id must be a valid uint64"))
		return 0, false
	}
	return matchID, true
}
