package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/monitor111/pwa-chat/internal/config"
	"github.com/monitor111/pwa-chat/internal/db"
	"github.com/monitor111/pwa-chat/internal/directory"
	internalhttp "github.com/monitor111/pwa-chat/internal/http"
	"github.com/monitor111/pwa-chat/internal/hub"
	"github.com/monitor111/pwa-chat/internal/jobs"
)

func main() {
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatalf("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("schema setup failed: %v", err)
	}

	store := directory.NewStore(pool)

	var roster *directory.Roster
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
		roster = directory.NewRoster(redisClient, cfg.LivenessTTL)
	}

	eventHub := hub.New()

	// With Redis, every instance publishes to the shared channel and the
	// hub drains the subscription; without it, events go straight to the
	// local hub.
	var events internalhttp.EventSink
	if roster != nil {
		events = roster
		go eventHub.Run(ctx, roster.Subscribe(ctx))
	} else {
		events = eventHub
		go eventHub.Run(ctx, nil)
	}

	server := internalhttp.NewServer(cfg, store, roster, events, eventHub)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	jobs.StartStaleSweepJob(ctx, cfg, store, roster, events)

	go func() {
		log.Printf("directory listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
