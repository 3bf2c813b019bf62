package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joshu-sajeev/profilejobs/internal/models"
	"github.com/sethvargo/go-envconfig"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultMaxOpenConns = 50
	defaultMaxIdleConns = 10
)

var sslModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Config holds the Postgres settings shared by every binary.
type Config struct {
	User           string        `env:"POSTGRES_USER,default=postgres"`
	Password       string        `env:"POSTGRES_PASSWORD,default=postgres"`
	Host           string        `env:"POSTGRES_HOST,default=postgres"`
	Port           string        `env:"POSTGRES_PORT,default=5432"`
	Database       string        `env:"POSTGRES_DB,default=profiles"`
	SSLMode        string        `env:"POSTGRES_SSLMODE,default=disable"`
	MaxRetries     int           `env:"DB_MAX_RETRIES,default=10"`
	RetryDelay     time.Duration `env:"DB_RETRY_DELAY,default=2s"`
	ConnectTimeout int           `env:"DB_CONNECT_TIMEOUT,default=5"`
	MaxOpenConns   int           `env:"DB_MAX_OPEN_CONNS,default=50"`
	MaxIdleConns   int           `env:"DB_MAX_IDLE_CONNS,default=10"`
	LogLevelString string        `env:"DB_LOG_LEVEL,default=warn"`
	LogLevel       logger.LogLevel
}

// to help with testing
var envProcess = envconfig.Process

func LoadConfigFromEnv(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envProcess(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.LogLevel = ParseLogLevel(cfg.LogLevelString)
	return &cfg, nil
}

// validateConfig reports every problem at once.
func validateConfig(cfg *Config) error {
	var problems []string
	required := func(value, name string) {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, name+" is required")
		}
	}

	required(cfg.User, "POSTGRES_USER")
	required(cfg.Database, "POSTGRES_DB")
	required(cfg.Host, "POSTGRES_HOST")
	required(cfg.Port, "POSTGRES_PORT")

	if cfg.Port != "" {
		port, err := strconv.Atoi(cfg.Port)
		switch {
		case err != nil:
			problems = append(problems, "POSTGRES_PORT must be a valid number")
		case port < 1 || port > 65535:
			problems = append(problems, "POSTGRES_PORT must be between 1 and 65535")
		}
	}

	if cfg.SSLMode != "" && !slices.Contains(sslModes, cfg.SSLMode) {
		problems = append(problems, "POSTGRES_SSLMODE must be one of "+strings.Join(sslModes, ", "))
	}

	if cfg.MaxRetries < 0 {
		problems = append(problems, "DB_MAX_RETRIES must be non-negative")
	}

	if cfg.RetryDelay <= 0 || cfg.RetryDelay > 10*time.Minute {
		problems = append(problems, "DB_RETRY_DELAY must be between 0 and 10 minutes")
	}

	if cfg.ConnectTimeout < 0 {
		problems = append(problems, "DB_CONNECT_TIMEOUT must be non-negative")
	}

	if cfg.MaxIdleConns > cfg.MaxOpenConns && cfg.MaxOpenConns > 0 {
		problems = append(problems, "DB_MAX_IDLE_CONNS must not exceed DB_MAX_OPEN_CONNS")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// DSN renders the libpq connection string for cfg.
func (cfg *Config) DSN() string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s connect_timeout=%d",
		cfg.Host, cfg.User, cfg.Password, cfg.Database, cfg.Port, sslMode, cfg.ConnectTimeout,
	)
}

// ConnectDB establishes connection to PostgreSQL, retrying up to
// cfg.MaxRetries times. It gives up early when ctx is done.
func ConnectDB(ctx context.Context, cfg *Config) (*gorm.DB, error) {
	if cfg == nil {
		loadedCfg, err := LoadConfigFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		cfg = loadedCfg
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	slog.Info("connecting to database", "user", cfg.User, "host", cfg.Host, "port", cfg.Port, "db", cfg.Database)

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(cfg.LogLevel),
		TranslateError: true,
	}

	var lastErr error
	for i := 0; i < cfg.MaxRetries; i++ {
		slog.Debug("database connect attempt", "attempt", i+1, "max", cfg.MaxRetries)

		gdb, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
		if err == nil {
			sqlDB, dbErr := gdb.DB()
			if dbErr == nil {
				pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				pingErr := sqlDB.PingContext(pingCtx)
				cancel()

				if pingErr == nil {
					slog.Info("database connected")

					configurePool(sqlDB, cfg)
					return gdb, nil
				}
				_ = sqlDB.Close()
				err = pingErr
			} else {
				err = dbErr
			}
		}
		lastErr = err

		slog.Warn("database not ready", "reason", simplifyDBError(err), "retry_in", cfg.RetryDelay)

		select {
		case <-time.After(cfg.RetryDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("connect database: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("database connection failed after %d attempts: %s", cfg.MaxRetries, simplifyDBError(lastErr))
}

func configurePool(sqlDB *sql.DB, cfg *Config) {
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(min(maxIdle, maxOpen))
	sqlDB.SetConnMaxLifetime(time.Hour)
}

// simplifyDBError returns a user-friendly error message
func simplifyDBError(err error) string {
	if err == nil {
		return "database error"
	}
	msg := err.Error()

	switch {
	case strings.Contains(msg, "password authentication failed"):
		return "invalid database credentials"
	case strings.Contains(msg, "connect"):
		return "cannot reach database server"
	case strings.Contains(msg, "timeout"):
		return "database connection timed out"
	case strings.Contains(msg, "SASL"):
		return "authentication error"
	}

	return "database error"
}

// Convert string to logger.LogLevel
func ParseLogLevel(levelStr string) logger.LogLevel {
	switch strings.ToLower(levelStr) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// MigrateModels auto-migrates every table the service owns. Production
// schemas come from the goose migrations; this is for tests and local runs.
func MigrateModels(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Profile{}, &models.JobRecord{}, &models.QueuedJob{}); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}
