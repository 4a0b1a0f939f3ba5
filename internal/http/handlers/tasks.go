package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/domain"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/ledger"
)

// TaskStatus reports a generation task's progress. Finished tasks are served
// from the local track record; anything still in flight is re-queried at the
// provider and the record refreshed.
func (a *App) TaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		taskID = r.URL.Query().Get("taskId")
	}
	if taskID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "taskId is required")
		return
	}

	track, err := a.Tracks.GetByTaskID(r.Context(), taskID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "task could not be loaded")
		return
	}
	if track != nil && (track.Status == domain.TrackSucceeded || track.Status == domain.TrackFailed) {
		a.json(w, http.StatusOK, map[string]any{
			"taskId": track.TaskID,
			"status": track.Status,
			"data":   json.RawMessage(track.ResultJSON),
		})
		return
	}

	status, err := a.Provider.QueryStatus(r.Context(), taskID)
	if err != nil {
		a.Logger.Error().Err(err).Str("task_id", taskID).Msg("provider status query failed")
		a.error(w, http.StatusBadGateway, "provider_error", "task status unavailable")
		return
	}
	a.applyTaskOutcome(r, taskID, status.Done, status.Failed, status.Message, status.Raw)

	a.json(w, http.StatusOK, map[string]any{
		"taskId": taskID,
		"status": trackStatusOf(status.Done, status.Failed),
		"data":   json.RawMessage(status.Raw),
	})
}

type taskCallback struct {
	Data struct {
		TaskID       string          `json:"task_id"`
		CallbackType string          `json:"callbackType"`
		Data         json.RawMessage `json:"data"`
	} `json:"data"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// TaskCallback receives the provider's push notification for a finished task.
// Failures refund the spend settled at submission, at most once per task.
func (a *App) TaskCallback(w http.ResponseWriter, r *http.Request) {
	var cb taskCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if cb.Data.TaskID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "task_id is required")
		return
	}

	failed := cb.Code != 0 && cb.Code != 200
	done := !failed && cb.Data.CallbackType == "complete"
	a.applyTaskOutcome(r, cb.Data.TaskID, done, failed, cb.Msg, cb.Data.Data)

	a.json(w, http.StatusOK, map[string]any{"success": true})
}

// applyTaskOutcome refreshes the track record and, on a confirmed failure,
// reverses the charge.
func (a *App) applyTaskOutcome(r *http.Request, taskID string, done, failed bool, message string, raw json.RawMessage) {
	status := trackStatusOf(done, failed)
	if status == domain.TrackRunning {
		return
	}
	if err := a.Tracks.UpdateStatus(r.Context(), taskID, status, raw); err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.Logger.Warn().Err(err).Str("task_id", taskID).Msg("track status not persisted")
	}
	if !failed {
		return
	}
	if message == "" {
		message = "generation failed"
	}
	entry, err := a.Engine.RefundTask(r.Context(), taskID, message)
	switch {
	case err == nil:
		a.Logger.Info().Str("task_id", taskID).Int("amount", entry.Amount).Msg("failed task refunded")
	case ledger.IsDuplicate(err):
		// Replayed failure notice; already refunded.
	case errors.Is(err, domain.ErrNotFound):
		// No spend to reverse (gift dispatch or pre-settlement failure).
	default:
		a.Logger.Error().Err(err).Str("task_id", taskID).Msg("refund for failed task not settled")
	}
}

func trackStatusOf(done, failed bool) domain.TrackStatus {
	switch {
	case failed:
		return domain.TrackFailed
	case done:
		return domain.TrackSucceeded
	default:
		return domain.TrackRunning
	}
}
