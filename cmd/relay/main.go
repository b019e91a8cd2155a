package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/roadsense/internal/api"
	"github.com/banshee-data/roadsense/internal/relay"
	"github.com/banshee-data/roadsense/internal/timeutil"
	"github.com/banshee-data/roadsense/internal/version"
)

var (
	envFile     = flag.String("env", ".env", "Optional dotenv file with RELAY_* and REDIS_* settings")
	listen      = flag.String("listen", "", "Listen address (overrides RELAY_LISTEN)")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func openStore(ctx context.Context, cfg relayConfig) (relay.Store, error) {
	if cfg.Store == "redis" {
		return relay.NewRedisStore(ctx, relay.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		}, timeutil.RealClock{}, cfg.TTL)
	}
	return relay.NewMemoryStore(timeutil.RealClock{}, cfg.TTL), nil
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("roadsense-relay"))
		return
	}

	cfg, err := loadConfig(*envFile)
	if err != nil {
		log.Fatal(err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	store, err := openStore(connectCtx, cfg)
	cancel()
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.Store, err)
	}
	defer store.Close()

	srv := relay.NewServer(store)
	mux := srv.ServeMux()
	srv.AttachAdminRoutes(mux)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("relay listening on %s (%s store, ttl %s)", cfg.Listen, cfg.Store, cfg.TTL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down relay...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("relay shutdown error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
