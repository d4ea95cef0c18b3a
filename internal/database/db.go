package database

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config contains database connection options.
type Config struct {
	Driver   string
	Path     string // SQLite database path when Driver == sqlite
	DSN      string // Optional DSN override
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Options  map[string]string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// Debug logs every statement through gorm's logger.
	Debug bool
}

// Open initialises a gorm.DB using the provided configuration.
func Open(cfg Config) (*gorm.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "sqlite"
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "sqlite", "sqlite3":
		db, err = openSQLite(cfg)
	case "postgres", "postgresql":
		db, err = openServer(cfg, buildPostgresDSN, postgres.Open)
	case "mysql", "mariadb":
		db, err = openServer(cfg, buildMySQLDSN, mysql.Open)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if err := configurePool(db, cfg); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrateAndSeed convenience helper used during application start-up.
func AutoMigrateAndSeed(db *gorm.DB, seed SeedOptions) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	if err := AutoMigrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if !seed.Enabled {
		return nil
	}
	if err := SeedData(db, seed); err != nil {
		return fmt.Errorf("seed data: %w", err)
	}

	return nil
}

// Ping verifies the underlying connection is usable.
func Ping(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// openServer opens a network database whose DSN is built from the connection fields
// unless an explicit DSN is configured.
func openServer(cfg Config, build func(Config) (string, error), dialect func(string) gorm.Dialector) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		var err error
		if dsn, err = build(cfg); err != nil {
			return nil, err
		}
	}
	return gorm.Open(dialect(dsn), gormConfig(cfg))
}

func buildPostgresDSN(cfg Config) (string, error) {
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("postgres configuration requires user and database name")
	}
	host, port := endpoint(cfg, "localhost", 5432)

	params := []string{
		"host=" + host,
		"port=" + strconv.Itoa(port),
		"user=" + cfg.User,
		"dbname=" + cfg.Name,
	}
	if cfg.Password != "" {
		params = append(params, "password="+cfg.Password)
	}
	params = append(params, joinOptions(map[string]string{"sslmode": "disable"}, cfg.Options)...)
	return strings.Join(params, " "), nil
}

func buildMySQLDSN(cfg Config) (string, error) {
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("mysql configuration requires user and database name")
	}
	host, port := endpoint(cfg, "127.0.0.1", 3306)

	credentials := cfg.User
	if cfg.Password != "" {
		credentials += ":" + cfg.Password
	}
	options := joinOptions(map[string]string{
		"charset":   "utf8mb4",
		"parseTime": "True",
		"loc":       "Local",
	}, cfg.Options)

	return fmt.Sprintf("%s@tcp(%s)/%s?%s",
		credentials, net.JoinHostPort(host, strconv.Itoa(port)), cfg.Name, strings.Join(options, "&")), nil
}

func endpoint(cfg Config, defaultHost string, defaultPort int) (string, int) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = defaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	return host, port
}

// joinOptions merges overrides onto defaults and renders key=value pairs in key order.
func joinOptions(defaults, overrides map[string]string) []string {
	merged := maps.Clone(defaults)
	maps.Copy(merged, overrides)

	keys := slices.Sorted(maps.Keys(merged))
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+merged[key])
	}
	return pairs
}

func gormConfig(cfg Config) *gorm.Config {
	level := logger.Silent
	if cfg.Debug {
		level = logger.Info
	}
	return &gorm.Config{
		Logger:  logger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func configurePool(db *gorm.DB, cfg Config) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return nil
}
