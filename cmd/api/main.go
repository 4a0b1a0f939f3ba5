package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/adapter/repo"
	httpapi "github.com/BurakAyaz/baz-hediye-muzik/internal/http"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/http/handlers"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/infra"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/infra/geoip"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/ledger"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/middleware"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/provider/kie"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	provider, err := kie.NewClient(kie.Options{
		APIKey:      cfg.KieAPIKey,
		BaseURL:     cfg.KieBaseURL,
		CallbackURL: cfg.CallbackBaseURL + "/api/tasks/callback",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure generation provider")
	}

	accounts := repo.NewAccountRepository(dbpool)
	entries := repo.NewLedgerRepository(dbpool)
	orders := repo.NewOrderRepository(dbpool)
	tracks := repo.NewTrackRepository(dbpool)

	engine := ledger.NewEngine(accounts, entries, logger)
	guard := ledger.NewGuard(accounts, engine)

	app := &handlers.App{
		Logger:            logger,
		Accounts:          accounts,
		Entries:           entries,
		Orders:            orders,
		Tracks:            tracks,
		Guard:             guard,
		Engine:            engine,
		Provider:          provider,
		AdminKey:          cfg.AdminKey,
		WixWebhookSecret:  cfg.WixWebhookSecret,
		MakeWebhookSecret: cfg.MakeWebhookSecret,
	}

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip database not loaded; locale falls back to headers")
	} else if resolver != nil {
		defer resolver.Close()
		lookup = resolver.CountryCode
	}

	router := httpapi.NewRouter(app, cfg, logger, lookup)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
