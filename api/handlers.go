// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the usage-metering core over HTTP: quota checks,
// usage and settings reads, event ingestion from internal collaborators
// and the account-deletion hook.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"parlo/platform/billing"
	"parlo/platform/cache"
	"parlo/platform/settings"
	"parlo/platform/shared/logger"
)

// recordTimeout bounds the detached fire-and-forget recording goroutine
// so a stuck store cannot leak goroutines.
const recordTimeout = 10 * time.Second

// Handler provides the HTTP handlers of the metering service.
type Handler struct {
	guard    *billing.Guard
	tracker  *billing.Tracker
	repo     billing.Repository
	settings *settings.Cache
	store    *cache.Client
	logger   *logger.Logger
}

// NewHandler creates the API handler.
func NewHandler(guard *billing.Guard, tracker *billing.Tracker, repo billing.Repository, set *settings.Cache, store *cache.Client, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.New("api")
	}
	return &Handler{
		guard:    guard,
		tracker:  tracker,
		repo:     repo,
		settings: set,
		store:    store,
		logger:   log,
	}
}

// RegisterRoutes registers the API routes on the authenticated
// /api/v1 subrouter. Health and metrics stay outside it.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/quota/check", h.CheckQuota).Methods("POST", "OPTIONS")
	r.HandleFunc("/usage", h.GetUsage).Methods("GET", "OPTIONS")
	r.HandleFunc("/settings", h.GetSettings).Methods("GET", "OPTIONS")
	r.HandleFunc("/settings", h.PatchSettings).Methods("PATCH", "OPTIONS")
	r.HandleFunc("/events", h.IngestEvents).Methods("POST", "OPTIONS")
	r.HandleFunc("/account/delete", h.DeleteAccount).Methods("POST", "OPTIONS")

	gated := RequireQuota(h.guard)
	r.Handle("/practice/answer", gated(http.HandlerFunc(h.SubmitAnswer))).Methods("POST", "OPTIONS")
}

// CheckQuota handles POST /api/v1/quota/check. The full decision goes
// back to the client so the UI can show remaining budget.
func (h *Handler) CheckQuota(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	decision, err := h.guard.Status(r.Context(), userID)
	if err != nil {
		// Metering outage: the caller is denied, not errored into a
		// retry loop.
		h.logger.Error(userID, "quota status unavailable", err, nil)
		writeJSON(w, http.StatusOK, billing.Decision{Allowed: false})
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// usageResponse combines the live decision with the durable row detail.
type usageResponse struct {
	billing.Decision
	Totals *billing.Totals `json:"totals,omitempty"`
}

// GetUsage handles GET /api/v1/usage: current window totals for the
// authenticated user, read the same way the guard reads them.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	decision, err := h.guard.Status(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "usage temporarily unavailable")
		return
	}

	resp := usageResponse{Decision: decision}
	if totals, err := h.repo.GetTotals(r.Context(), userID, decision.PeriodKey); err == nil {
		resp.Totals = totals
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSettings handles GET /api/v1/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	blob := h.settings.Get(r.Context(), UserID(r.Context()))
	writeJSON(w, http.StatusOK, settingsView(blob, time.Now()))
}

// PatchSettings handles PATCH /api/v1/settings: a partial update where
// absent fields keep their stored values.
func (h *Handler) PatchSettings(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	var patch settings.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.settings.Update(r.Context(), userID, patch); err != nil {
		h.logger.Error(userID, "settings update failed", err, nil)
		writeError(w, http.StatusServiceUnavailable, "settings store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, settingsView(h.settings.Get(r.Context(), userID), time.Now()))
}

// settingsView is the client-facing shape of the blob, with the derived
// subscription-active flag attached.
func settingsView(blob settings.Blob, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"subscription":        blob.Subscription,
		"subscription_active": blob.Subscription.ActiveAt(now),
		"timezone":            blob.Timezone,
		"locale":              blob.Locale,
		"achievement_points":  blob.AchievementPoints,
		"answer_count":        blob.AnswerCount,
	}
}

// ingestRequest is the body of POST /api/v1/events.
type ingestRequest struct {
	Events []billing.Event `json:"events"`
}

// IngestEvents handles POST /api/v1/events: consumption events from the
// AI, TTS and storage collaborators. Recording is detached from the
// request so ingestion latency never reaches the user path.
func (h *Handler) IngestEvents(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "no events")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := h.tracker.Record(ctx, userID, req.Events); err != nil {
			h.logger.Error(userID, "event recording failed", err, map[string]interface{}{
				"events": len(req.Events),
			})
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": len(req.Events),
	})
}

// answerRequest is the body of POST /api/v1/practice/answer.
type answerRequest struct {
	Correct bool  `json:"correct"`
	Points  int64 `json:"points,omitempty"`
}

// SubmitAnswer handles POST /api/v1/practice/answer, the gated learning
// operation: it bumps the answer counter and, for correct answers, the
// achievement points. The quota gate runs before this handler.
func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	blob := h.settings.Get(r.Context(), userID)
	answers := blob.AnswerCount + 1
	points := blob.AchievementPoints
	if req.Correct {
		earned := req.Points
		if earned <= 0 {
			earned = 1
		}
		points += earned
	}

	patch := settings.Patch{AnswerCount: &answers, AchievementPoints: &points}
	if err := h.settings.Update(r.Context(), userID, patch); err != nil {
		h.logger.Error(userID, "answer counters update failed", err, nil)
		writeError(w, http.StatusServiceUnavailable, "settings store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"answer_count":       answers,
		"achievement_points": points,
	})
}

// DeleteAccount handles POST /api/v1/account/delete: it removes every
// cache key under the user's namespaces plus the settings blob. Durable
// usage rows are kept for financial audit.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	var removed int
	for _, prefix := range billing.UserPrefixes(userID) {
		n, err := h.store.DeleteByPrefix(r.Context(), prefix)
		if err != nil {
			h.logger.Error(userID, "account cache purge failed", err, map[string]interface{}{
				"prefix": prefix,
			})
			writeError(w, http.StatusServiceUnavailable, "deletion incomplete, retry")
			return
		}
		removed += n
	}
	if err := h.settings.Delete(r.Context(), userID); err != nil {
		h.logger.Error(userID, "settings blob deletion failed", err, nil)
		writeError(w, http.StatusServiceUnavailable, "deletion incomplete, retry")
		return
	}

	h.logger.Info(userID, "account cache data deleted", map[string]interface{}{
		"keys_removed": removed,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":      true,
		"keys_removed": removed,
	})
}

// Health reports liveness of both stores. Degraded dependencies are
// listed but the endpoint stays 200 as long as the process serves.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if err := h.store.Ping(r.Context()); err != nil {
		status["cache"] = "unavailable"
	} else {
		status["cache"] = "ok"
	}
	if err := h.repo.Ping(r.Context()); err != nil {
		status["database"] = "unavailable"
	} else {
		status["database"] = "ok"
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
