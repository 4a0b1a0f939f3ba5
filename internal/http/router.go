package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/http/handlers"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/infra"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/middleware"
)

// NewRouter assembles the HTTP surface. Generation and account routes sit
// behind bearer auth; webhook and gift intake stay open and verify their own
// shared secrets.
func NewRouter(app *handlers.App, cfg *infra.Config, logger zerolog.Logger, lookup middleware.CountryLookup) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.I18N("tr", lookup))
	if cfg.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
	}

	r.Get("/health", app.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/plans", app.PlanList)

		r.Route("/user", func(r chi.Router) {
			r.With(middleware.OptionalAuth).Post("/sync", app.UserSync)
			r.With(middleware.Auth).Get("/info", app.UserInfo)
			r.With(middleware.Auth).Get("/transactions", app.UserTransactions)
		})

		r.With(middleware.Auth).Get("/credits", app.CreditInfo)

		r.Route("/generate", func(r chi.Router) {
			r.Use(middleware.Auth)
			r.Post("/", app.Generate)
			r.Post("/extend", app.Extend)
			r.Post("/cover", app.Cover)
			r.Post("/lyrics", app.Lyrics)
			r.Post("/persona", app.Persona)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/callback", app.TaskCallback)
			r.With(middleware.OptionalAuth).Get("/{taskID}", app.TaskStatus)
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/wix", app.PaymentWebhook)
			r.Post("/make", app.MakeWebhook)
		})

		r.Route("/gift", func(r chi.Router) {
			r.Post("/initiate", app.GiftInitiate)
			r.Get("/status/{orderID}", app.GiftStatus)
		})

		r.Post("/admin/grant", app.AdminGrant)
	})

	return r
}
