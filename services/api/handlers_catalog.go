package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gamerent/services/notifier"
	"gamerent/services/rentals"
)

func (a *API) handleListDurations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	list, err := a.svc.ListDurations(ctx, chi.URLParam(r, "gameId"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (a *API) handleUpsertDuration(w http.ResponseWriter, r *http.Request) {
	var req upsertDurationRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	d, err := a.svc.UpsertDuration(ctx, chi.URLParam(r, "gameId"), *req.Duration, *req.Price)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (a *API) handleDeleteDuration(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.svc.DeleteDuration(ctx, id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSessionAnalytics(w http.ResponseWriter, r *http.Request) {
	if a.analytics == nil {
		respondError(w, http.StatusServiceUnavailable, codeDisabled, "analytics is not configured")
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	games, err := a.analytics.GameSessionStats(ctx)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	totals, err := a.analytics.Totals(ctx)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, struct {
		Games  []rentals.GameStats `json:"games"`
		Totals rentals.Totals      `json:"totals"`
	}{Games: games, Totals: totals})
}

func (a *API) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	if a.notes == nil {
		respondError(w, http.StatusServiceUnavailable, codeDisabled, "notifications are not configured")
		return
	}

	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	list, err := a.notes.List(ctx, chi.URLParam(r, "userId"), unread)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Notifications []notifier.Notification `json:"notifications"`
	}{Notifications: list})
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if a.notes == nil {
		respondError(w, http.StatusServiceUnavailable, codeDisabled, "notifications are not configured")
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.notes.MarkRead(ctx, id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if a.notes == nil {
		respondError(w, http.StatusServiceUnavailable, codeDisabled, "notifications are not configured")
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	n, err := a.notes.MarkAllRead(ctx, chi.URLParam(r, "userId"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
