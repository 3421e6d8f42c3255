package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/shopfront/internal/config"
	"github.com/geocoder89/shopfront/internal/db"
	"github.com/geocoder89/shopfront/internal/http/handlers"
	"github.com/geocoder89/shopfront/internal/observability"
	"github.com/geocoder89/shopfront/internal/repo/postgres"
	"github.com/geocoder89/shopfront/internal/sweeper"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Standalone sweeper for deployments that run several API replicas against
// one database and want a single process pruning refresh sessions.
func main() {
	cfg := config.Load()
	log := observability.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	pool, err := db.NewPool(ctx, cfg.DBURL)

	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}

	defer pool.Close()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)
	sessions := postgres.NewRefreshTokensRepo(pool, prom)

	sw := sweeper.New(sweeper.Config{Interval: cfg.SweepInterval}, log, sweeper.Task{
		Kind: sweeper.KindSessions,
		Run: func(ctx context.Context) (int, error) {
			n, err := sessions.DeleteExpired(ctx)
			return int(n), err
		},
	}).WithRecorder(prom)

	health := handlers.NewHealthHandler(map[string]handlers.Pinger{"postgres": pool.Ping})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port+1),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("health server failed", "err", err)
		}
	}()

	log.Info("sweeper has started", "interval", cfg.SweepInterval)

	if err := sw.Run(ctx); err != nil {
		log.Error("sweeper stopped with error", "err", err)
	}

	health.MarkShuttingDown()

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	log.Info("sweeper shutdown complete")
}
