package app

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. POSTBOARD_SERVER_PORT.
const EnvPrefix = "POSTBOARD"

// Config represents the runtime configuration for the postboard API.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Auth        AuthConfig        `mapstructure:"auth"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Email       EmailConfig       `mapstructure:"email"`
	Seed        SeedConfig        `mapstructure:"seed"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Debug           bool          `mapstructure:"debug"`
}

// CacheConfig describes the fast store and the cache-aside layer built on it.
type CacheConfig struct {
	DefaultTTL time.Duration    `mapstructure:"default_ttl"`
	Redis      RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
	PoolSize int           `mapstructure:"pool_size"`
	Prefix   string        `mapstructure:"prefix"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT           JWTSettings           `mapstructure:"jwt"`
	Session       SessionSettings       `mapstructure:"session"`
	Login         LoginSettings         `mapstructure:"login"`
	PasswordReset PasswordResetSettings `mapstructure:"password_reset"`
	BcryptCost    int                   `mapstructure:"bcrypt_cost"`
}

// JWTSettings configures token signing.
type JWTSettings struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// SessionSettings configures the sliding session lifetime.
type SessionSettings struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// LoginSettings controls login throttling.
type LoginSettings struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	AttemptWindow time.Duration `mapstructure:"attempt_window"`
	TrackIP       bool          `mapstructure:"track_ip"`
}

// PasswordResetSettings controls password reset tokens.
type PasswordResetSettings struct {
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	// URL is the frontend page that accepts the token as a "token" query parameter.
	URL string `mapstructure:"url"`
}

// RateLimitConfig limits general API traffic per client IP.
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Window  time.Duration `mapstructure:"window"`
	Max     int           `mapstructure:"max"`
	// AuthMax applies a stricter limit to the unauthenticated auth endpoints.
	AuthMax int `mapstructure:"auth_max"`
	// Local keeps counters in process memory instead of the fast store.
	Local bool `mapstructure:"local"`
}

// MaintenanceConfig schedules background housekeeping.
type MaintenanceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SeedConfig controls the first-run administrator account.
type SeedConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AdminName     string `mapstructure:"admin_name"`
	AdminEmail    string `mapstructure:"admin_email"`
	AdminPassword string `mapstructure:"admin_password"`
}

// envAliases maps conventional un-prefixed variables onto configuration keys.
// Duration values given as bare integers are read as seconds.
var envAliases = map[string]string{
	"auth.session.ttl":              "SESSION_TTL",
	"auth.login.max_attempts":       "MAX_LOGIN_ATTEMPTS",
	"auth.login.attempt_window":     "LOGIN_ATTEMPT_WINDOW",
	"auth.password_reset.token_ttl": "PASSWORD_RESET_TOKEN_TTL",
	"auth.bcrypt_cost":              "BCRYPT_ROUNDS",
	"auth.jwt.secret":               "JWT_SECRET",
	"rate_limit.window":             "RATE_LIMIT_WINDOW",
	"rate_limit.max":                "RATE_LIMIT_MAX",
	"cache.redis.address":           "REDIS_ADDR",
	"cache.redis.password":          "REDIS_PASSWORD",
	"database.dsn":                  "DATABASE_URL",
	"email.smtp.host":               "SMTP_HOST",
	"email.smtp.password":           "SMTP_PASSWORD",
	"server.port":                   "PORT",
}

// LoadConfig initialises application configuration. Sources in increasing precedence:
// defaults, config.yaml from the search paths, a .env file, then the environment.
func LoadConfig(paths ...string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), alias); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", alias, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Auth.Session.TTL <= 0 {
		return errors.New("config: auth.session.ttl must be positive")
	}
	if c.Auth.Login.MaxAttempts <= 0 {
		return errors.New("config: auth.login.max_attempts must be positive")
	}
	if c.Auth.BcryptCost != 0 && (c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31) {
		return fmt.Errorf("config: auth.bcrypt_cost %d is out of range", c.Auth.BcryptCost)
	}
	if c.Email.SMTP.Enabled && (strings.TrimSpace(c.Email.SMTP.Host) == "" || strings.TrimSpace(c.Email.SMTP.From) == "") {
		return errors.New("config: email.smtp requires host and from when enabled")
	}
	if c.Seed.Enabled && (strings.TrimSpace(c.Seed.AdminEmail) == "" || c.Seed.AdminPassword == "") {
		return errors.New("config: seed requires admin_email and admin_password")
	}
	return nil
}

// loadDotEnv loads variables from the file named by POSTBOARD_ENV_FILE, or ./.env.
// A missing default file is ignored; variables already set win.
func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv(EnvPrefix + "_ENV_FILE"))
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/postboard.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.name", "")
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.conn_max_lifetime", "0s")
	v.SetDefault("database.debug", false)

	v.SetDefault("cache.default_ttl", "5m")
	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "2s")
	v.SetDefault("cache.redis.pool_size", 0)
	v.SetDefault("cache.redis.prefix", "postboard:")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "postboard")
	v.SetDefault("auth.session.ttl", "24h")
	v.SetDefault("auth.login.max_attempts", 5)
	v.SetDefault("auth.login.attempt_window", "15m")
	v.SetDefault("auth.login.track_ip", true)
	v.SetDefault("auth.password_reset.token_ttl", "1h")
	v.SetDefault("auth.password_reset.url", "")
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.window", "15m")
	v.SetDefault("rate_limit.max", 100)
	v.SetDefault("rate_limit.auth_max", 20)
	v.SetDefault("rate_limit.local", false)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "@every 10m")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.from", "")
	v.SetDefault("email.smtp.implicit_tls", false)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("seed.enabled", false)
	v.SetDefault("seed.admin_name", "Administrator")
	v.SetDefault("seed.admin_email", "")
	v.SetDefault("seed.admin_password", "")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// secondsToDurationHookFunc reads bare integers, numeric or textual, as seconds when
// the target is a time.Duration. Values with a unit ("15m") are left to the next hook.
func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch value := data.(type) {
		case int:
			return time.Duration(value) * time.Second, nil
		case int64:
			return time.Duration(value) * time.Second, nil
		case float64:
			return time.Duration(value * float64(time.Second)), nil
		case string:
			trimmed := strings.TrimSpace(value)
			if seconds, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
				return time.Duration(seconds) * time.Second, nil
			}
			return trimmed, nil
		default:
			return data, nil
		}
	}
}
