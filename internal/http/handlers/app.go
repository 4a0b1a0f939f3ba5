package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/auth"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/domain"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/ledger"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/middleware"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/provider/kie"
)

// MusicProvider is the slice of the generation provider the handlers need.
type MusicProvider interface {
	Submit(ctx context.Context, req kie.GenerateRequest) (*kie.Submission, error)
	QueryStatus(ctx context.Context, taskID string) (*kie.TaskStatus, error)
}

// App wires handler dependencies.
type App struct {
	Logger            zerolog.Logger
	Accounts          domain.AccountRepository
	Entries           domain.LedgerRepository
	Orders            domain.OrderRepository
	Tracks            domain.TrackRepository
	Guard             *ledger.Guard
	Engine            *ledger.Engine
	Provider          MusicProvider
	AdminKey          string
	WixWebhookSecret  string
	MakeWebhookSecret string
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{"error": code, "message": message})
}

// identity returns the decoded credential, or nil for guests.
func (a *App) identity(r *http.Request) *auth.Identity {
	return middleware.IdentityFromContext(r.Context())
}

// entitlement messages per locale; codes stay stable for clients.
var guardMessages = map[string]map[string]string{
	"tr": {
		"UNAUTHENTICATED":     "Lütfen giriş yapın.",
		"UNKNOWN_ACCOUNT":     "Kullanıcı bulunamadı.",
		"EXPIRED":             "Paket süreniz doldu. Lütfen yeni paket satın alın.",
		"NO_CREDITS":          "Yaratım hakkınız kalmadı. Lütfen yeni paket satın alın.",
		"FEATURE_NOT_ALLOWED": "Bu özellik paketinize dahil değil.",
		"MODEL_NOT_ALLOWED":   "Bu model paketinize dahil değil.",
		"INVALID_PLAN":        "Geçersiz paket.",
		"STORE_UNAVAILABLE":   "Sistem şu anda meşgul, lütfen tekrar deneyin.",
	},
	"en": {
		"UNAUTHENTICATED":     "Please sign in.",
		"UNKNOWN_ACCOUNT":     "Account not found.",
		"EXPIRED":             "Your plan has expired. Please purchase a new plan.",
		"NO_CREDITS":          "You are out of credits. Please purchase a new plan.",
		"FEATURE_NOT_ALLOWED": "This feature is not included in your plan.",
		"MODEL_NOT_ALLOWED":   "This model is not included in your plan.",
		"INVALID_PLAN":        "Invalid plan.",
		"STORE_UNAVAILABLE":   "The system is busy, please try again.",
	},
}

func guardMessage(locale, code string) string {
	msgs, ok := guardMessages[locale]
	if !ok {
		msgs = guardMessages["tr"]
	}
	if m, ok := msgs[code]; ok {
		return m
	}
	return code
}

// guardError maps entitlement failures to stable codes and, where relevant,
// attaches balance/expiry so clients can prompt for upgrade or renewal.
func (a *App) guardError(w http.ResponseWriter, r *http.Request, account *domain.Account, err error) {
	locale := middleware.LocaleFromContext(r.Context())
	status := http.StatusForbidden
	code := ""
	payload := map[string]any{}

	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		status, code = http.StatusUnauthorized, "UNAUTHENTICATED"
	case errors.Is(err, domain.ErrUnknownAccount):
		status, code = http.StatusUnauthorized, "UNKNOWN_ACCOUNT"
	case errors.Is(err, domain.ErrSubscriptionExpired):
		code = "EXPIRED"
		if account != nil && account.ExpiresAt != nil {
			payload["expiresAt"] = account.ExpiresAt.UTC().Format(time.RFC3339)
		}
	case errors.Is(err, domain.ErrInsufficientCredit):
		code = "NO_CREDITS"
		if account != nil {
			payload["credits"] = account.Balance
		}
	case errors.Is(err, domain.ErrFeatureNotEntitled):
		code = "FEATURE_NOT_ALLOWED"
	case errors.Is(err, domain.ErrModelNotEntitled):
		code = "MODEL_NOT_ALLOWED"
	case errors.Is(err, domain.ErrInvalidPlan):
		status, code = http.StatusBadRequest, "INVALID_PLAN"
	case errors.Is(err, domain.ErrStoreUnavailable):
		// Fail closed: a store outage before the external action denies it.
		status, code = http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("unexpected guard failure")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	payload["error"] = code
	payload["message"] = guardMessage(locale, code)
	a.json(w, status, payload)
}

// creditInfo is the client-facing snapshot of an account's entitlements.
func creditInfo(account *domain.Account, now time.Time) map[string]any {
	info := map[string]any{
		"credits":       account.Balance,
		"totalCredits":  account.TotalGranted,
		"used":          account.TotalSpent,
		"plan":          account.PlanID,
		"status":        account.Status,
		"features":      account.Features,
		"allowedModels": account.AllowedModels,
		"daysRemaining": account.DaysRemaining(now),
	}
	if account.ExpiresAt != nil {
		info["expiresAt"] = account.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return info
}
