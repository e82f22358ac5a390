// The sweeper is a standalone worker that runs the cleanup pass on a
// fixed interval, for deployments without an external cron hitting the
// HTTP endpoint. Sweeps are idempotent, so running the sweeper next to
// cron-triggered cleanups is safe.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

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

	store, err := kv.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	defer store.Close()

	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		natsConfig := events.DefaultConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "tryon-sweeper"
		publisher, err = events.NewPublisher(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		defer publisher.Close()
	}

	var auditStore *audit.Store
	if cfg.DatabaseURL != "" {
		auditStore, err = audit.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
		defer auditStore.Close()
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("sweeper starting interval=%s redis=%s", cfg.SweepInterval, cfg.RedisAddr)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	// One pass at startup, then on every tick.
	runner.Run(ctx, cleanup.DefaultOptions("sweeper"))
	for {
		select {
		case <-ctx.Done():
			log.Println("sweeper stopped")
			os.Exit(0)
		case <-ticker.C:
			runner.Run(ctx, cleanup.DefaultOptions("sweeper"))
		}
	}
}
