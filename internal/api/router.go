package api

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/postboard/internal/app"
	iauth "github.com/charlesng35/postboard/internal/auth"
	"github.com/charlesng35/postboard/internal/cache"
	"github.com/charlesng35/postboard/internal/database"
	"github.com/charlesng35/postboard/internal/handlers"
	"github.com/charlesng35/postboard/internal/middleware"
	"github.com/charlesng35/postboard/internal/services"
)

// Dependencies bundles the collaborators the router wires into handlers.
type Dependencies struct {
	Config *app.Config
	DB     *gorm.DB
	// Store is the fast store shared by sessions, login attempts, the cache and rate limiting.
	Store cache.Store
	Auth  *iauth.Service
	Users *services.UserService
	Posts *services.PostService
}

func (d Dependencies) validate() error {
	switch {
	case d.Config == nil:
		return fmt.Errorf("config must be provided")
	case d.DB == nil:
		return fmt.Errorf("database handle must be provided")
	case d.Store == nil:
		return fmt.Errorf("fast store must be provided")
	case d.Auth == nil:
		return fmt.Errorf("auth service must be provided")
	case d.Users == nil:
		return fmt.Errorf("user service must be provided")
	case d.Posts == nil:
		return fmt.Errorf("post service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	var rates middleware.RateStore
	switch {
	case !cfg.RateLimit.Enabled:
	case cfg.RateLimit.Local:
		rates = middleware.NewMemoryRateStore()
	default:
		rates = middleware.NewStoreRateStore(deps.Store)
	}

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))

	r.GET("/health", handlers.Health(map[string]handlers.HealthCheck{
		"database": func(context.Context) error { return database.Ping(deps.DB) },
		"store":    deps.Store.Ping,
	}))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(middleware.RateLimit(rates, middleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	}))

	requireAuth := middleware.Auth(deps.Auth)
	optionalAuth := middleware.OptionalAuth(deps.Auth)
	credentialLimit := middleware.RateLimit(rates, middleware.RateLimitConfig{
		Max:    cfg.RateLimit.AuthMax,
		Window: cfg.RateLimit.Window,
		Scope:  "auth",
	})

	authHandler, err := handlers.NewAuthHandler(deps.Auth)
	if err != nil {
		return nil, err
	}
	registerAuthRoutes(api, authRouteDeps{
		Handler:         authHandler,
		RequireAuth:     requireAuth,
		CredentialLimit: credentialLimit,
	})

	userHandler, err := handlers.NewUserHandler(deps.Users, deps.Auth.Sessions())
	if err != nil {
		return nil, err
	}
	postHandler, err := handlers.NewPostHandler(deps.Posts)
	if err != nil {
		return nil, err
	}
	registerUserRoutes(api, userHandler, postHandler, requireAuth)
	registerPostRoutes(api, postHandler, requireAuth, optionalAuth)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
