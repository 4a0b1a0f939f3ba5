package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/domain"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/provider/kie"
)

// Generate starts a song generation task. Like every credit-consuming
// endpoint it acts first and settles on confirmed success: the guard runs
// read-only up front, the provider call happens, and only then is the credit
// spent. A provider failure therefore never charges the user.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	a.submitAndSettle(w, r, kie.TypeSong, domain.FeatureGenerate, domain.ActionGenerate)
}

// Extend starts an extension task for an uploaded track.
func (a *App) Extend(w http.ResponseWriter, r *http.Request) {
	a.submitAndSettle(w, r, kie.TypeExtend, domain.FeatureExtend, domain.ActionExtend)
}

// Cover starts a cover task for an uploaded track.
func (a *App) Cover(w http.ResponseWriter, r *http.Request) {
	a.submitAndSettle(w, r, kie.TypeCover, domain.FeatureCover, domain.ActionCover)
}

// Lyrics starts a lyrics generation task. No model gate applies.
func (a *App) Lyrics(w http.ResponseWriter, r *http.Request) {
	a.submitAndSettle(w, r, kie.TypeLyrics, domain.FeatureLyrics, domain.ActionLyrics)
}

// Persona creates a persona from a finished track.
func (a *App) Persona(w http.ResponseWriter, r *http.Request) {
	a.submitAndSettle(w, r, kie.TypePersona, domain.FeaturePersona, domain.ActionPersona)
}

func (a *App) submitAndSettle(w http.ResponseWriter, r *http.Request, genType, feature, action string) {
	identity := a.identity(r)
	if identity == nil {
		a.guardError(w, r, nil, domain.ErrUnauthenticated)
		return
	}

	var req kie.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.Type = genType

	model := req.Model
	if genType == kie.TypeLyrics || genType == kie.TypePersona {
		model = ""
	}

	account, err := a.Guard.Check(r.Context(), identity.UserID, feature, model)
	if err != nil {
		a.guardError(w, r, account, err)
		return
	}

	submission, err := a.Provider.Submit(r.Context(), req)
	if err != nil {
		a.Logger.Error().Err(err).Str("type", genType).Str("account_id", account.ID).Msg("provider submit failed")
		a.error(w, http.StatusBadGateway, "provider_error", "generation could not be started")
		return
	}

	response := map[string]any{
		"success": true,
		"taskId":  submission.TaskID,
		"data":    json.RawMessage(submission.Raw),
	}

	entry, err := a.Engine.Spend(r.Context(), account.ID, action, 1, submission.TaskID)
	if err != nil {
		// The task is already running; surface the result but flag the
		// unsettled credit for out-of-band reconciliation.
		a.Logger.Error().Err(err).
			Str("account_id", account.ID).
			Str("task_id", submission.TaskID).
			Bool("credit_sync_failed", true).
			Msg("spend could not be settled after provider accept")
		response["creditWarning"] = "credit_sync_failed"
		if errors.Is(err, domain.ErrInsufficientCredit) {
			response["credits"] = 0
		}
		a.recordTrack(r, account.ID, action, req, submission.TaskID)
		a.json(w, http.StatusOK, response)
		return
	}

	response["credits"] = entry.BalanceAfter
	a.recordTrack(r, account.ID, action, req, submission.TaskID)
	a.json(w, http.StatusOK, response)
}

func (a *App) recordTrack(r *http.Request, accountID, action string, req kie.GenerateRequest, taskID string) {
	if taskID == "" {
		return
	}
	track := &domain.Track{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		AccountID: accountID,
		Action:    action,
		Model:     req.Model,
		Title:     req.Title,
		Status:    domain.TrackQueued,
		CreatedAt: time.Now(),
	}
	if err := a.Tracks.Create(r.Context(), track); err != nil {
		a.Logger.Warn().Err(err).Str("task_id", taskID).Msg("track record not persisted")
	}
}
