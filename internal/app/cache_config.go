package app

import (
	"strings"

	"github.com/charlesng35/postboard/internal/cache"
	"github.com/charlesng35/postboard/internal/database"
)

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
		PoolSize: c.Redis.PoolSize,
		Prefix:   c.Redis.Prefix,
	}
}

// ConnectionConfig converts the database section into database.Open parameters.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	return database.Config{
		Driver:          strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:            strings.TrimSpace(c.Path),
		DSN:             strings.TrimSpace(c.DSN),
		Host:            strings.TrimSpace(c.Host),
		Port:            c.Port,
		User:            c.Username,
		Password:        c.Password,
		Name:            strings.TrimSpace(c.Name),
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		Debug:           c.Debug,
	}
}

// SeedOptions converts the seed section into migration seed parameters.
func (c Config) SeedOptions() database.SeedOptions {
	return database.SeedOptions{
		Enabled:       c.Seed.Enabled,
		AdminName:     strings.TrimSpace(c.Seed.AdminName),
		AdminEmail:    strings.TrimSpace(c.Seed.AdminEmail),
		AdminPassword: c.Seed.AdminPassword,
		BcryptCost:    c.Auth.bcryptCost(),
	}
}
