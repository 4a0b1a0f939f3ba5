package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/auth"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/domain"
)

type userSyncRequest struct {
	Action string `json:"action"`
	Data   struct {
		WixUserID   string `json:"wixUserId"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
	} `json:"data"`
}

// UserSync resolves or creates the account for the caller's identity and
// returns a fresh credential. Login requests may carry the identity in the
// body instead of a bearer token.
func (a *App) UserSync(w http.ResponseWriter, r *http.Request) {
	// Body is optional; a plain sync carries only the bearer token.
	var req userSyncRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	identity := a.identity(r)
	if req.Action == "login" && req.Data.WixUserID != "" {
		identity = &auth.Identity{
			UserID:      req.Data.WixUserID,
			Email:       req.Data.Email,
			DisplayName: req.Data.DisplayName,
			Timestamp:   time.Now().UnixMilli(),
		}
	}
	if identity == nil {
		a.guardError(w, r, nil, domain.ErrUnauthenticated)
		return
	}
	if req.Action == "logout" {
		a.json(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	account, err := a.Accounts.GetByWixID(r.Context(), identity.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		account, err = a.Accounts.Create(r.Context(), &domain.Account{
			ID:          uuid.NewString(),
			WixUserID:   identity.UserID,
			Email:       strings.ToLower(identity.Email),
			DisplayName: identity.DisplayName,
			PlanID:      domain.PlanNone,
			Status:      domain.SubscriptionNone,
		})
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("wix_user_id", identity.UserID).Msg("user sync failed")
		a.error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "account could not be loaded")
		return
	}

	token, err := auth.Sign(auth.Identity{
		UserID:      account.WixUserID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
		Timestamp:   time.Now().UnixMilli(),
	})
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "token could not be issued")
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
		"user": map[string]any{
			"wixUserId":   account.WixUserID,
			"email":       account.Email,
			"displayName": account.DisplayName,
		},
		"credits": creditInfo(account, time.Now()),
	})
}

// UserInfo returns the account's entitlement snapshot.
func (a *App) UserInfo(w http.ResponseWriter, r *http.Request) {
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
	a.json(w, http.StatusOK, map[string]any{
		"wixUserId":   account.WixUserID,
		"email":       account.Email,
		"displayName": account.DisplayName,
		"credits":     creditInfo(account, time.Now()),
	})
}

// UserTransactions lists the account's recent ledger entries with per-action
// usage counts.
func (a *App) UserTransactions(w http.ResponseWriter, r *http.Request) {
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

	entries, err := a.Entries.ListByAccount(r.Context(), account.ID, 50)
	if err != nil {
		a.error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "history could not be loaded")
		return
	}
	stats, err := a.Entries.ActionCounts(r.Context(), account.ID)
	if err != nil {
		stats = map[string]int{}
	}

	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]any{
			"id":           e.ID,
			"kind":         e.Kind,
			"action":       e.Action,
			"amount":       e.Amount,
			"balanceAfter": e.BalanceAfter,
			"taskId":       e.ExternalRef,
			"status":       e.Status,
			"createdAt":    e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items, "stats": stats})
}
