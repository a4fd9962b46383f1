package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"indication-validation-service/internal/api"
	"indication-validation-service/internal/audit"
	"indication-validation-service/internal/config"
	"indication-validation-service/internal/configsource"
	"indication-validation-service/internal/storage"
	"indication-validation-service/internal/validation"
)

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config.SetupLogging(cfg.Server.LogLevel)

	// Storage is optional: without it the service still validates, with a
	// log-only audit trail.
	var (
		apiStore   api.Store
		auditStore audit.Store
	)
	if cfg.AuditStorageEnabled() {
		store, err := storage.New(rootCtx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("init storage")
		}
		defer store.Close()
		apiStore = store
		auditStore = store
	} else {
		log.Warn().Msg("postgres not configured; running with log-only audit")
	}

	// Threshold cache, warmed before serving
	client := configsource.NewClient(cfg.ConfigService.BaseURL, cfg.FetchTimeout())
	cache := configsource.NewCache(client, cfg.CacheTTL())
	cache.Refresh(rootCtx)
	if cache.Degraded() {
		log.Warn().Msg("starting on fallback validation config")
	}
	configsource.StartRefresher(rootCtx, cache, cfg.CacheTTL())

	evaluator := validation.NewEvaluator(cache)
	recorder := audit.NewRecorder(auditStore)

	h := api.NewValidationHandler(evaluator, cache, recorder, apiStore)
	r := api.Router(h)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	waitForSignal()
	log.Info().Msg("shutdown...")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	_ = srv.Shutdown(shCtx)
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
