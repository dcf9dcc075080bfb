package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omran/offerwall-api/internal/config"
	"github.com/omran/offerwall-api/internal/domain/ledger"
	"github.com/omran/offerwall-api/internal/domain/postback"
	"github.com/omran/offerwall-api/internal/domain/user"
	"github.com/omran/offerwall-api/internal/middleware"
	"github.com/omran/offerwall-api/internal/pkg/database"
	"github.com/omran/offerwall-api/internal/pkg/response"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting offerwall API")

	// A provider secret missing at startup is a configuration error, not
	// something to discover one rejected postback at a time.
	if missing := cfg.Validate(); len(missing) > 0 {
		log.Fatal().Str("missing", strings.Join(missing, ", ")).Msg("Required configuration missing")
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	// ---------- Repositories ----------
	userRepo := user.NewRepository(db)
	postbackStore := postback.NewPostgresStore(db)
	ledgerRepo := ledger.NewRepository(db)

	// ---------- Services ----------
	postbackService := postback.NewService(postbackStore, redis, postback.Config{
		AdGemSecret:        cfg.AdGemWebhookSecret,
		AdGemAllowUnsigned: cfg.AdGemAllowUnsigned,
		AdGemPointsPerUnit: cfg.AdGemPointsPerUnit,
		CPXSecret:          cfg.CPXAppSecret,
		CPXPointsPerUnit:   cfg.CPXPointsPerUnit,
	})

	// ---------- Handlers ----------
	postbackHandler := postback.NewHandler(postbackService)
	ledgerHandler := ledger.NewHandler(ledgerRepo, userRepo)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/", statusPage)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/postbacks", postbackHandler.Routes())

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/ledger", ledgerHandler.Routes())
		r.Get("/transactions", ledgerHandler.Transactions)
		r.Get("/users/{id}/balance", ledgerHandler.Balance)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}
}

// statusPage is the decorative front page providers and humans hit to check
// the service is alive.
func statusPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Offerwall Postback API</title></head>
<body>
  <h1>Offerwall Postback API is running</h1>
  <p>Ready to receive AdGem and CPX Research postbacks.</p>
  <p><a href="/health">health</a> &middot; <a href="/metrics">metrics</a></p>
</body>
</html>
`))
}
