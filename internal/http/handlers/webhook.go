package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/domain"
)

type paymentEvent struct {
	EventType   string `json:"eventType"`
	WixUserID   string `json:"wixUserId"`
	PlanID      string `json:"planId"`
	OrderID     string `json:"orderId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// PaymentWebhook consumes payment and subscription lifecycle events. Replays
// of an already-applied orderId are acknowledged without reapplying the
// grant.
func (a *App) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable payload")
		return
	}

	if a.WixWebhookSecret == "" {
		a.Logger.Warn().Msg("payment webhook accepted without signature verification; no secret configured")
	} else if !verifySignature(body, r.Header.Get("X-Wix-Signature"), a.WixWebhookSecret) {
		a.Logger.Error().Msg("payment webhook rejected: invalid signature")
		a.error(w, http.StatusUnauthorized, "invalid_signature", "invalid signature")
		return
	}

	var event paymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if event.WixUserID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "wixUserId is required")
		return
	}

	switch normalizeEvent(event.EventType) {
	case "start":
		a.applyGrant(w, r, event, domain.ActionSubStart, true)
	case "renew":
		a.applyGrant(w, r, event, domain.ActionSubRenew, false)
	case "cancel":
		a.applyCancel(w, r, event)
	case "expire":
		a.applyExpire(w, r, event)
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported event type")
	}
}

// normalizeEvent folds the provider's spelling variants into the four
// lifecycle events.
func normalizeEvent(eventType string) string {
	switch strings.ToLower(eventType) {
	case "", "purchase", "subscription_start", "subscription.created":
		return "start"
	case "renewal", "subscription_renew", "subscription.renewed":
		return "renew"
	case "cancellation", "subscription_cancel", "subscription.cancelled":
		return "cancel"
	case "expiration", "subscription_expire", "subscription.expired":
		return "expire"
	}
	return strings.ToLower(eventType)
}

func (a *App) applyGrant(w http.ResponseWriter, r *http.Request, event paymentEvent, action string, createUnknown bool) {
	account, err := a.Accounts.GetByWixID(r.Context(), event.WixUserID)
	if errors.Is(err, domain.ErrNotFound) && createUnknown {
		account, err = a.Accounts.Create(r.Context(), &domain.Account{
			ID:          uuid.NewString(),
			WixUserID:   event.WixUserID,
			Email:       strings.ToLower(event.Email),
			DisplayName: event.DisplayName,
			PlanID:      domain.PlanNone,
			Status:      domain.SubscriptionNone,
		})
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "UNKNOWN_ACCOUNT", "account not found")
			return
		}
		a.error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "account could not be loaded")
		return
	}

	granted, entry, err := a.Engine.Grant(r.Context(), account.ID, domain.PlanID(strings.ToLower(event.PlanID)), action, event.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			// Idempotency short-circuit, not a failure.
			a.Logger.Info().Str("order_id", event.OrderID).Msg("payment event replayed; grant already applied")
			a.json(w, http.StatusOK, map[string]any{"success": true, "duplicate": true})
			return
		}
		if errors.Is(err, domain.ErrInvalidPlan) {
			a.error(w, http.StatusBadRequest, "INVALID_PLAN", "invalid plan: "+event.PlanID)
			return
		}
		a.Logger.Error().Err(err).Str("order_id", event.OrderID).Msg("grant failed")
		a.error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "grant could not be applied")
		return
	}

	a.Logger.Info().
		Str("wix_user_id", event.WixUserID).
		Str("plan_id", string(granted.PlanID)).
		Int("balance", granted.Balance).
		Msg("plan granted")

	a.json(w, http.StatusOK, map[string]any{
		"success":      true,
		"wixUserId":    event.WixUserID,
		"planId":       granted.PlanID,
		"creditsAdded": entry.Amount,
		"newBalance":   granted.Balance,
		"expiresAt":    granted.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (a *App) applyCancel(w http.ResponseWriter, r *http.Request, event paymentEvent) {
	account, err := a.Accounts.GetByWixID(r.Context(), event.WixUserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "UNKNOWN_ACCOUNT", "account not found")
			return
		}
		// A store outage is retryable; a 404 would make the platform drop
		// the event for good.
		a.error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "account could not be loaded")
		return
	}
	// Cancellation keeps the balance; remaining credits stay usable until
	// expiry.
	cancelled, err := a.Engine.Cancel(r.Context(), account.ID, event.OrderID)
	if err != nil {
		a.error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "cancellation could not be applied")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "status": cancelled.Status, "credits": cancelled.Balance})
}

func (a *App) applyExpire(w http.ResponseWriter, r *http.Request, event paymentEvent) {
	account, err := a.Accounts.GetByWixID(r.Context(), event.WixUserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "UNKNOWN_ACCOUNT", "account not found")
			return
		}
		a.error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "account could not be loaded")
		return
	}
	expired, err := a.Engine.Expire(r.Context(), account.ID)
	if err != nil {
		a.error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "expiration could not be applied")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "status": expired.Status, "credits": expired.Balance})
}

func verifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(bytes.TrimSpace(body))
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
