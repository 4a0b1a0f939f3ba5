package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/domain"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/ledger"
)

// CreditInfo returns the caller's current balance and entitlements.
func (a *App) CreditInfo(w http.ResponseWriter, r *http.Request) {
	identity := a.identity(r)
	if identity == nil {
		a.guardError(w, r, nil, domain.ErrUnauthenticated)
		return
	}
	account, err := a.Accounts.GetByWixID(r.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.guardError(w, r, nil, domain.ErrUnknownAccount)
			return
		}
		a.error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "account could not be loaded")
		return
	}
	a.json(w, http.StatusOK, creditInfo(account, time.Now()))
}

type adminGrantRequest struct {
	WixUserID string `json:"wixUserId"`
	PlanID    string `json:"planId"`
	Credits   int    `json:"credits"`
	Note      string `json:"note"`
}

// AdminGrant applies a plan or raw credits to an account, bypassing payment
// verification. It requires the operator secret, which is distinct from and
// stronger than user credentials.
func (a *App) AdminGrant(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-Admin-Key")
	if a.AdminKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(a.AdminKey)) != 1 {
		a.error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid admin key")
		return
	}

	var req adminGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.WixUserID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "wixUserId is required")
		return
	}

	account, err := a.Accounts.GetByWixID(r.Context(), req.WixUserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "UNKNOWN_ACCOUNT", "account not found")
			return
		}
		a.error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "account could not be loaded")
		return
	}

	previous := account.Balance

	switch {
	case req.PlanID != "":
		account, _, err = a.Engine.Grant(r.Context(), account.ID, domain.PlanID(strings.ToLower(req.PlanID)), domain.ActionManual, "")
		if errors.Is(err, domain.ErrInvalidPlan) {
			a.guardError(w, r, nil, err)
			return
		}
	case req.Credits > 0:
		account, _, err = a.Engine.GrantCredits(r.Context(), account.ID, req.Credits, req.Note)
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "planId or credits is required")
		return
	}
	if err != nil && !ledger.IsDuplicate(err) {
		a.Logger.Error().Err(err).Str("wix_user_id", req.WixUserID).Msg("admin grant failed")
		a.error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "grant could not be applied")
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"success":         true,
		"wixUserId":       account.WixUserID,
		"previousBalance": previous,
		"newBalance":      account.Balance,
		"planId":          account.PlanID,
	})
}

// PlanList returns the purchasable catalog, for client display.
func (a *App) PlanList(w http.ResponseWriter, r *http.Request) {
	plans := domain.Plans()
	items := make([]map[string]any, 0, len(plans))
	for _, p := range plans {
		items = append(items, map[string]any{
			"id":            p.ID,
			"name":          p.Name,
			"credits":       p.Credits,
			"durationDays":  p.DurationDays,
			"price":         p.PriceTRY,
			"features":      p.Features,
			"allowedModels": p.AllowedModels,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
