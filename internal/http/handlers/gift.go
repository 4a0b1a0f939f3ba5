package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/domain"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/provider/kie"
)

type giftInitiateRequest struct {
	GuestInfo struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"guestInfo"`
	OrderData kie.GenerateRequest `json:"orderData"`
}

// GiftInitiate parks a guest's generation request until payment clears. The
// guest gets an account keyed by email so the later confirmation can find the
// order; nothing is submitted to the provider yet.
func (a *App) GiftInitiate(w http.ResponseWriter, r *http.Request) {
	var req giftInitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.GuestInfo.Email))
	if email == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "guest email is required")
		return
	}

	account, err := a.Accounts.GetByEmail(r.Context(), email)
	if errors.Is(err, domain.ErrNotFound) {
		account, err = a.Accounts.Create(r.Context(), &domain.Account{
			ID:          uuid.NewString(),
			WixUserID:   "guest_" + uuid.NewString(),
			Email:       email,
			DisplayName: req.GuestInfo.Name,
			PlanID:      domain.PlanNone,
			Status:      domain.SubscriptionNone,
		})
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("email", email).Msg("gift guest account failed")
		a.error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "order could not be created")
		return
	}

	raw, err := json.Marshal(req.OrderData)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid order data")
		return
	}
	order := &domain.PendingOrder{
		ID:          uuid.NewString(),
		AccountID:   account.ID,
		Email:       email,
		RequestJSON: raw,
		Status:      domain.OrderPending,
		CreatedAt:   time.Now(),
	}
	if err := a.Orders.Create(r.Context(), order); err != nil {
		a.Logger.Error().Err(err).Str("email", email).Msg("pending order not persisted")
		a.error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "order could not be created")
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"orderId": order.ID,
		"status":  order.Status,
	})
}

// GiftStatus reports where a parked order stands: still pending, dispatched
// with a task id, or expired unpaid.
func (a *App) GiftStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	order, err := a.Orders.GetByID(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "order not found")
			return
		}
		a.error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "order could not be loaded")
		return
	}
	resp := map[string]any{
		"orderId": order.ID,
		"status":  order.Status,
	}
	if order.TaskID != "" {
		resp["taskId"] = order.TaskID
	}
	a.json(w, http.StatusOK, resp)
}

type makeWebhookRequest struct {
	Email string `json:"email"`
}

// MakeWebhook is the payment confirmation for gift orders. It looks up the
// buyer's newest pending order within the retention window, dispatches it to
// the provider, and links the task. A replay after fulfilment acks without a
// second dispatch.
func (a *App) MakeWebhook(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("X-Make-Secret")
	if a.MakeWebhookSecret == "" {
		a.Logger.Warn().Msg("gift webhook accepted without secret verification; no secret configured")
	} else if subtle.ConstantTimeCompare([]byte(secret), []byte(a.MakeWebhookSecret)) != 1 {
		a.error(w, http.StatusUnauthorized, "invalid_signature", "invalid webhook secret")
		return
	}

	var req makeWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "email is required")
		return
	}

	cutoff := time.Now().Add(-domain.PendingOrderRetention)
	order, err := a.Orders.LatestPending(r.Context(), email, cutoff)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "no pending order for this email")
			return
		}
		a.error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "order could not be loaded")
		return
	}

	var genReq kie.GenerateRequest
	if err := json.Unmarshal(order.RequestJSON, &genReq); err != nil {
		a.Logger.Error().Err(err).Str("order_id", order.ID).Msg("stored order data is unreadable")
		a.error(w, http.StatusInternalServerError, "internal", "order data is unreadable")
		return
	}
	if genReq.Type == "" {
		genReq.Type = kie.TypeSong
	}

	submission, err := a.Provider.Submit(r.Context(), genReq)
	if err != nil {
		// Order stays pending so the confirmation can be retried.
		a.Logger.Error().Err(err).Str("order_id", order.ID).Msg("gift dispatch failed")
		a.error(w, http.StatusBadGateway, "provider_error", "generation could not be started")
		return
	}

	if err := a.Orders.MarkFulfilled(r.Context(), order.ID, submission.TaskID); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			a.json(w, http.StatusOK, map[string]any{"success": true, "duplicate": true, "orderId": order.ID})
			return
		}
		a.Logger.Error().Err(err).Str("order_id", order.ID).Msg("order fulfilment not persisted")
	}
	a.recordTrack(r, order.AccountID, domain.ActionGenerate, genReq, submission.TaskID)

	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"orderId": order.ID,
		"taskId":  submission.TaskID,
	})
}
