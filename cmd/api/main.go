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

	"claimtrail.org/internal/audit"
	"claimtrail.org/internal/auth"
	"claimtrail.org/internal/config"
	"claimtrail.org/internal/httpapi"
	"claimtrail.org/internal/obs"
	"claimtrail.org/internal/ratelimit"
	"claimtrail.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.PostgresDSN == "" {
		log.Fatal("CLAIMTRAIL_PG_DSN is required")
	}
	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	tokens, err := auth.NewTokens(cfg.AuthSecret, cfg.Issuer,
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	audits := audit.NewService(store.AuditStore())
	mfa := auth.NewMFA(cfg.Issuer)

	sessions, err := auth.NewService(store, tokens, audits, mfa)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	apikeys, err := auth.NewAPIKeys(store, audits)
	if err != nil {
		log.Fatalf("apikey service: %v", err)
	}

	// Per-process counters under-enforce across instances; a configured
	// Redis address switches to the shared store.
	var loginLimiter, apiLimiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		loginLimiter = ratelimit.NewRedis(client, cfg.LoginRateLimit, cfg.LoginRateWindow)
		apiLimiter = ratelimit.NewRedis(client, cfg.APIRateLimit, cfg.APIRateWindow)
	} else {
		loginLimiter = ratelimit.NewMemory(cfg.LoginRateLimit, cfg.LoginRateWindow)
		apiLimiter = ratelimit.NewMemory(cfg.APIRateLimit, cfg.APIRateWindow)
	}

	api := httpapi.New(httpapi.Config{
		Sessions:     sessions,
		APIKeys:      apikeys,
		Audits:       audits,
		Matrix:       auth.DefaultMatrix(),
		LoginLimiter: loginLimiter,
		APILimiter:   apiLimiter,
		ReadyProbe:   httpapi.ReadyProbe{DB: store.DB()},
		Version:      version,
		Development:  cfg.IsDevelopment(),
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting claimtrail-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
