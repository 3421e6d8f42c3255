package http

import (
	"github.com/geocoder89/shopfront/internal/auth"
	"github.com/geocoder89/shopfront/internal/config"
	"github.com/geocoder89/shopfront/internal/http/handlers"
	"github.com/geocoder89/shopfront/internal/http/middlewares"
	"github.com/geocoder89/shopfront/internal/observability"
	"github.com/geocoder89/shopfront/internal/revocation"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxBodyBytes = 1 << 20

// UserRepository is everything the HTTP layer needs from user storage.
type UserRepository interface {
	handlers.UserStore
	handlers.UserAdminStore
}

type Deps struct {
	Cfg         config.Config
	Users       UserRepository
	Sessions    handlers.SessionStore
	Revoked     revocation.List
	JWT         *auth.Manager
	Google      handlers.GoogleIdentity
	RateLimiter *middlewares.RateLimiter
	Health      *handlers.HealthHandler
	Prom        *observability.Prom
	Registry    *prometheus.Registry

	// UserRateLimiter buckets authenticated routes by user id.
	UserRateLimiter *middlewares.RateLimiter
}

func NewRouter(d Deps) *gin.Engine {
	if d.Cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(otelgin.Middleware("shopfront"))
	r.Use(middlewares.RequestLogger())
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.SecurityHeaders(d.Cfg.IsProd()))
	r.Use(middlewares.CORSMiddleware(d.Cfg.CORSOrigins))

	// health + metrics
	r.GET("/healthz", d.Health.Healthz)
	r.GET("/readyz", d.Health.Readyz)
	if d.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}

	// Wire up handlers
	authHandler := handlers.NewAuthHandler(d.Users, d.Sessions, d.JWT, d.Revoked, d.Google, d.Cfg)
	usersHandler := handlers.NewUsersHandler(d.Users, d.Sessions)
	authMW := middlewares.NewAuthMiddleware(d.JWT, d.Users, d.Revoked, d.Cfg.RevocationCheck)

	if d.Prom != nil {
		authHandler.WithMetrics(d.Prom)
		authMW.WithMetrics(d.Prom)
	}

	// browser redirect flow
	oauthGroup := r.Group("/auth/google")
	oauthGroup.GET("", authHandler.GoogleConsent)
	oauthGroup.GET("/callback", authHandler.GoogleCallback)

	api := r.Group("/api")
	if d.RateLimiter != nil {
		api.Use(d.RateLimiter.RateLimiterMiddleware(middlewares.KeyByIP))
	}
	api.Use(middlewares.MaxBodyBytes(maxBodyBytes))
	api.Use(middlewares.RequireJSON())

	users := api.Group("/users")

	// public
	users.POST("", authHandler.Register)
	users.POST("/login", authHandler.Login)
	users.POST("/google-login", authHandler.GoogleLogin)
	users.POST("/refresh", authHandler.Refresh)

	// authenticated
	authChain := []gin.HandlerFunc{authMW.RequireAuth()}
	if d.UserRateLimiter != nil {
		authChain = append(authChain, d.UserRateLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP))
	}

	authed := users.Group("", authChain...)
	authed.POST("/logout", authHandler.Logout)
	authed.GET("/profile", usersHandler.GetProfile)
	authed.PUT("/profile", usersHandler.UpdateProfile)

	// admin
	adminChain := append([]gin.HandlerFunc{}, authChain...)
	adminChain = append(adminChain, authMW.RequireAdmin())
	admin := users.Group("", adminChain...)
	admin.GET("", usersHandler.ListUsers)
	admin.GET("/:id", usersHandler.GetUser)
	admin.PUT("/:id", usersHandler.UpdateUser)
	admin.DELETE("/:id", usersHandler.DeleteUser)

	return r
}
