package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/postboard/internal/api"
	"github.com/charlesng35/postboard/internal/app"
	"github.com/charlesng35/postboard/internal/app/maintenance"
	iauth "github.com/charlesng35/postboard/internal/auth"
	"github.com/charlesng35/postboard/internal/cache"
	"github.com/charlesng35/postboard/internal/database"
	"github.com/charlesng35/postboard/internal/services"
	"github.com/charlesng35/postboard/pkg/mail"
)

const (
	storeRedis    = "redis"
	storeDatabase = "database"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     *cache.RedisClient
	Store     cache.Store
	StoreKind string
	Auth      *iauth.Service
	Cleaner   *maintenance.Cleaner
	Router    *gin.Engine
}

// bootstrapRuntime initialises the database, the fast store, services and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg, log)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	stack.Store, stack.StoreKind = dbStore, storeDatabase
	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed store", zap.Error(err))
		} else {
			stack.Store, stack.StoreKind = stack.Redis, storeRedis
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	aside := cache.NewAside(stack.Store, cfg.Cache.DefaultTTL)
	users, err := services.NewUserService(stack.DB, aside)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}
	posts, err := services.NewPostService(stack.DB, aside)
	if err != nil {
		return nil, fmt.Errorf("initialise post service: %w", err)
	}

	tokens, err := iauth.NewTokenCodec(cfg.Auth.TokenConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise token codec: %w", err)
	}
	serviceCfg := cfg.Auth.ServiceConfig()
	if serviceCfg.Delivery, err = resetDelivery(cfg); err != nil {
		return nil, err
	}
	stack.Auth, err = iauth.NewService(users, stack.Store, tokens, serviceCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise auth service: %w", err)
	}

	if cfg.Maintenance.Enabled {
		var purger maintenance.ExpiredPurger
		if stack.StoreKind == storeDatabase {
			purger = dbStore
		}
		stack.Cleaner = maintenance.NewCleaner(stack.Auth.Sessions(), purger, maintenance.WithSchedule(cfg.Maintenance.Schedule))
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config: cfg,
		DB:     stack.DB,
		Store:  stack.Store,
		Auth:   stack.Auth,
		Users:  users,
		Posts:  posts,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}

// resetDelivery emails reset tokens when SMTP is configured. A nil delivery lets the auth
// service fall back to logging the issuance.
func resetDelivery(cfg *app.Config) (iauth.ResetDelivery, error) {
	if !cfg.Email.SMTP.Enabled {
		return nil, nil
	}
	mailer, err := mail.NewSMTPMailer(cfg.Email.MailSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}
	delivery, err := iauth.NewMailResetDelivery(mailer, cfg.Auth.PasswordReset.URL)
	if err != nil {
		return nil, err
	}
	return delivery, nil
}

func initialiseDatabase(cfg *app.Config, log *zap.Logger) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db, cfg.SeedOptions()); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log.Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}
