// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

// Package server wires the metering components together and runs the
// HTTP service.
package server

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"parlo/platform/api"
	"parlo/platform/billing"
	"parlo/platform/cache"
	"parlo/platform/settings"
	"parlo/platform/shared/config"
	"parlo/platform/shared/logger"
)

const shutdownTimeout = 15 * time.Second

// Run is the exported entry point for the metering service. It loads
// configuration, connects both stores, wires the components, sets up
// HTTP routes and blocks until the server shuts down.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8080)
//   - PARLO_REDIS_URL: redis connection URL
//   - DATABASE_URL: PostgreSQL connection string
//   - PARLO_JWT_SECRET: bearer-token secret (empty trusts X-User-ID)
//   - PARLO_CONFIG: optional YAML config file path
func Run() error {
	log := logger.New("server")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := cache.Connect(cfg.RedisURL, cfg.CacheTimeout)
	if err != nil {
		// The service still boots: the guard falls back to the durable
		// store and the tracker skips cache writes.
		log.Error("", "cache store unreachable at startup", err, nil)
	}
	defer func() {
		if store != nil {
			_ = store.Close()
		}
	}()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	repo := billing.NewPostgresRepository(db)
	set := settings.NewCache(store, logger.New("settings"))
	pricing := billing.LoadPricingFromEnv()
	limits := billing.Limits{
		SubscriptionMicro: billing.MicroUSD(cfg.SubscriptionCapMicro),
		FreeDailyMicro:    billing.MicroUSD(cfg.FreeDailyCapMicro),
	}

	tracker := billing.NewTracker(set, store, repo, pricing, cfg.DefaultTimezone, logger.New("billing"))
	guard := billing.NewGuard(set, store, repo, limits, cfg.DefaultTimezone, logger.New("quota"))
	handler := api.NewHandler(guard, tracker, repo, set, store, logger.New("api"))

	r := mux.NewRouter()
	r.Use(api.WithRequestID)

	r.HandleFunc("/health", handler.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	authed := r.PathPrefix("/api/v1").Subrouter()
	authed.Use(api.NewAuth(cfg.JWTSecret, logger.New("api")).Middleware)
	handler.RegisterRoutes(authed)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-User-ID", "X-Request-ID"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      c.Handler(r),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "metering service listening", map[string]interface{}{"port": cfg.Port})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("", "shutting down", map[string]interface{}{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
