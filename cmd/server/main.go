package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fitmirror/tryon-app/internal/api"
	"github.com/fitmirror/tryon-app/internal/audit"
	"github.com/fitmirror/tryon-app/internal/cleanup"
	"github.com/fitmirror/tryon-app/internal/config"
	"github.com/fitmirror/tryon-app/internal/events"
	"github.com/fitmirror/tryon-app/internal/kv"
	"github.com/fitmirror/tryon-app/internal/ratelimit"
	"github.com/fitmirror/tryon-app/internal/session"
)

func main() {
	cfg := config.Load()

	// --- Redis (the shared key-value store) ---
	store, err := kv.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	// --- NATS (optional lifecycle events) ---
	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		natsConfig := events.DefaultConfig()
		natsConfig.URL = cfg.NATSURL
		publisher, err = events.NewPublisher(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
	} else {
		log.Printf("NATS_URL not set, lifecycle events disabled")
	}

	// --- Postgres (optional cleanup audit history) ---
	var auditStore *audit.Store
	if cfg.DatabaseURL != "" {
		auditStore, err = audit.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
	} else {
		log.Printf("DATABASE_URL not set, cleanup audit history disabled")
	}

	limiter := ratelimit.NewLimiter(store)
	manager := session.NewManager(session.NewStore(store))
	manager.SetDefaultTTL(cfg.DefaultTTLMinutes)
	manager.SetDerivedCleaner(limiter)
	manager.SetOnPurge(func(rec *session.Record, reason string) {
		publisher.SessionPurged(rec, reason)
	})

	runner := cleanup.NewRunner(manager, limiter, store)
	runner.SetAudit(auditStore)
	runner.SetPublisher(publisher)

	router := api.NewRouter(api.RouterConfig{
		Manager:      manager,
		Limiter:      limiter,
		Runner:       runner,
		Publisher:    publisher,
		Store:        store,
		CronSecret:   cfg.CronSecret,
		StoreTimeout: cfg.StoreTimeout,
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("try-on session backend starting")
	log.Printf("  listen_addr:  %s", cfg.ListenAddr)
	log.Printf("  redis_addr:   %s", cfg.RedisAddr)
	log.Printf("  nats:         %v", cfg.NATSURL != "")
	log.Printf("  audit_db:     %v", cfg.DatabaseURL != "")
	log.Printf("  default_ttl:  %dm", cfg.DefaultTTLMinutes)

	// Graceful shutdown. ListenAndServe returns as soon as Shutdown
	// begins, so main blocks on done until in-flight requests have
	// drained and the connections are closed.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}

		publisher.Close()
		if err := auditStore.Close(); err != nil {
			log.Printf("audit store close error: %v", err)
		}
		if err := store.Close(); err != nil {
			log.Printf("kv store close error: %v", err)
		}
		close(done)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	<-done
	log.Printf("shutdown complete")
}
