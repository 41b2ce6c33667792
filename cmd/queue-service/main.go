package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"servicelane/queue-service/internal/config"
	"servicelane/queue-service/internal/database"
	"servicelane/queue-service/internal/httpapi"
	"servicelane/queue-service/internal/store/postgres"
	"servicelane/queue-service/internal/telemetry"
	"servicelane/queue-service/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()

	shutdownTracing := telemetry.Setup("queue-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	if err := database.Migrate(context.Background(), pool, migrations.FS); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	queueStore := postgres.NewStore(pool, postgres.Options{
		LinkBaseURL: cfg.LinkBaseURL,
		TokenTTL:    cfg.TokenTTL,
		LockTimeout: cfg.LockTimeout,
	})
	handler := httpapi.NewHandler(queueStore)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		BranchPerMinute: cfg.BranchRatePerMin,
		BranchBurst:     cfg.BranchRateBurst,
	})

	routes := httpapi.AuthMiddleware(queueStore, handler.Routes())
	chain := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(routes)), "queue-service")

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      chain,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("queue-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
