package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/shopfront/internal/auth"
	"github.com/geocoder89/shopfront/internal/config"
	"github.com/geocoder89/shopfront/internal/db"
	httpx "github.com/geocoder89/shopfront/internal/http"
	"github.com/geocoder89/shopfront/internal/http/handlers"
	"github.com/geocoder89/shopfront/internal/http/middlewares"
	"github.com/geocoder89/shopfront/internal/oauth"
	"github.com/geocoder89/shopfront/internal/observability"
	"github.com/geocoder89/shopfront/internal/redisclient"
	"github.com/geocoder89/shopfront/internal/repo/cached"
	"github.com/geocoder89/shopfront/internal/repo/memory"
	"github.com/geocoder89/shopfront/internal/repo/postgres"
	"github.com/geocoder89/shopfront/internal/revocation"
	"github.com/geocoder89/shopfront/internal/sweeper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type sessionSweeper interface {
	handlers.SessionStore
	DeleteExpired(ctx context.Context) (int64, error)
}

func main() {
	// Load the config set up
	cfg := config.Load()

	// start up the observability logger
	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "shopfront", cfg.OTelEndpoint)
	if err != nil {
		log.Error("tracer init failed", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	checks := map[string]handlers.Pinger{}

	// storage
	var (
		users    httpx.UserRepository
		sessions sessionSweeper
	)

	switch cfg.Storage {
	case config.StoragePostgres:
		if err := db.Migrate(ctx, cfg.DBURL); err != nil {
			log.Error("migrations failed", "err", err)
			os.Exit(1)
		}

		pool, err := db.NewPool(ctx, cfg.DBURL)
		if err != nil {
			log.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()

		users = postgres.NewUsersRepo(pool, prom)
		sessions = postgres.NewRefreshTokensRepo(pool, prom)
		checks["postgres"] = pool.Ping

	default:
		log.Warn("using in-memory storage; data is lost on restart")
		users = memory.NewUsersRepo()
		sessions = memory.NewRefreshTokensRepo()
	}

	// background sweeps
	var tasks []sweeper.Task

	if cfg.UserCacheTTL > 0 {
		cachedUsers := cached.NewUsersRepo(users, cfg.UserCacheTTL)
		users = cachedUsers
		tasks = append(tasks, sweeper.Task{Kind: sweeper.KindUserCache, Run: cachedUsers.Prune})
	}

	rateLimiter := middlewares.NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
	userRateLimiter := middlewares.NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
	tasks = append(tasks,
		sweeper.Task{Kind: sweeper.KindSessions, Run: func(ctx context.Context) (int, error) {
			n, err := sessions.DeleteExpired(ctx)
			return int(n), err
		}},
		sweeper.Task{Kind: sweeper.KindRateLimits, Run: rateLimiter.Prune},
		sweeper.Task{Kind: sweeper.KindRateLimits, Run: userRateLimiter.Prune},
	)

	// revocation list
	var revoked revocation.List

	if cfg.RedisAddr != "" {
		rdb, err := redisclient.Connect(ctx, redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()

		revoked = revocation.NewRedisList(rdb.Raw())
		checks["redis"] = rdb.Ping
	} else {
		mem := revocation.NewMemoryList()
		revoked = mem
		tasks = append(tasks, sweeper.Task{Kind: sweeper.KindRevocations, Run: mem.Sweep})
	}

	seedCtx, cancelSeed := context.WithTimeout(ctx, 5*time.Second)
	created, err := db.EnsureAdminUser(seedCtx, users, cfg)
	cancelSeed()
	if err != nil {
		log.Error("admin seed failed", "err", err)
		os.Exit(1)
	}
	if created {
		log.Info("admin user created", "email", cfg.AdminEmail)
	}

	var google handlers.GoogleIdentity
	if cfg.GoogleEnabled() {
		google = oauth.NewGoogleProvider(cfg.Google)
	} else {
		log.Info("google sign-in disabled")
	}

	health := handlers.NewHealthHandler(checks)

	// set up routers
	router := httpx.NewRouter(httpx.Deps{
		Cfg:         cfg,
		Users:       users,
		Sessions:    sessions,
		Revoked:     revoked,
		JWT:         auth.NewManager(cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL),
		Google:      google,
		RateLimiter: rateLimiter,
		Health:      health,
		Prom:        prom,
		Registry:    reg,

		UserRateLimiter: userRateLimiter,
	})

	sw := sweeper.New(sweeper.Config{Interval: cfg.SweepInterval}, log, tasks...).WithRecorder(prom)
	go func() {
		_ = sw.Run(ctx)
	}()

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "storage", cfg.Storage)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown

	<-ctx.Done()
	log.Info("server shutting down")
	health.MarkShuttingDown()

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
		}

		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown failed", "err", err)
		}
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}
