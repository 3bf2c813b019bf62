package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// TerminalPolicy decides what happens when a second terminal lifecycle
// event arrives for a job that already reached SUCCESS or FAILURE.
type TerminalPolicy string

const (
	// FirstTerminalWins keeps the first terminal state and ignores later ones.
	FirstTerminalWins TerminalPolicy = "first-terminal-wins"
	// LastTerminalWins lets a later, different terminal state overwrite the record.
	LastTerminalWins TerminalPolicy = "last-terminal-wins"

	QueueBackendPostgres = "postgres"
	QueueBackendRedis    = "redis"
)

// App holds the settings shared by the api, worker and jobsctl binaries.
// Database settings live in postgres.Config.
type App struct {
	HTTPAddr       string         `env:"HTTP_ADDR,default=:8080"`
	MetricsAddr    string         `env:"METRICS_ADDR,default=:9090"`
	RunMigrations  bool           `env:"RUN_MIGRATIONS,default=false"`
	LogLevel       string         `env:"LOG_LEVEL,default=info"`
	LogFormat      string         `env:"LOG_FORMAT,default=json"`
	QueueBackend   string         `env:"QUEUE_BACKEND,default=postgres"`
	MaxWorkers     int            `env:"MAX_WORKERS,default=10"`
	LockDuration   time.Duration  `env:"LOCK_DURATION,default=1m"`
	PollInterval   time.Duration  `env:"POLL_INTERVAL,default=1s"`
	RetryBase      time.Duration  `env:"RETRY_BASE,default=2s"`
	TerminalPolicy TerminalPolicy `env:"TERMINAL_POLICY,default=first-terminal-wins"`
	ThumbnailSize  int            `env:"THUMBNAIL_SIZE,default=150"`
	RequestTimeout time.Duration  `env:"REQUEST_TIMEOUT,default=10s"`

	Redis     RedisConfig
	S3        S3Config
	Telemetry TelemetryConfig
}

// RedisConfig configures the redis broker.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
	Prefix   string `env:"REDIS_QUEUE_PREFIX,default=profilejobs"`
}

// S3Config configures the S3-compatible avatar bucket.
type S3Config struct {
	Endpoint   string        `env:"S3_ENDPOINT,default=rustfs:9000"`
	AccessKey  string        `env:"S3_ACCESS_KEY,default=rustfsadmin"`
	SecretKey  string        `env:"S3_SECRET_KEY,default=rustfsadmin123"`
	Bucket     string        `env:"S3_BUCKET,default=user-avatars"`
	Region     string        `env:"S3_REGION,default=us-east-1"`
	UseSSL     bool          `env:"S3_USE_SSL,default=false"`
	PresignTTL time.Duration `env:"PRESIGN_TTL,default=1h"`
}

// TelemetryConfig configures tracing. Spans go to the OTLP collector when
// an endpoint is set and to the log stream otherwise.
type TelemetryConfig struct {
	ServiceName  string `env:"OTEL_SERVICE_NAME,default=profilejobs"`
	Environment  string `env:"ENVIRONMENT,default=development"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Disabled     bool   `env:"OTEL_SDK_DISABLED,default=false"`
}

// to help with testing
var envProcess = envconfig.Process

func LoadAppFromEnv(ctx context.Context) (*App, error) {
	var cfg App
	if err := envProcess(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate collects every problem instead of stopping at the first one.
func (c *App) Validate() error {
	var problems []string

	if !slices.Contains([]string{QueueBackendPostgres, QueueBackendRedis}, c.QueueBackend) {
		problems = append(problems, "QUEUE_BACKEND must be postgres or redis")
	}

	if c.MaxWorkers < 1 {
		problems = append(problems, "MAX_WORKERS must be positive")
	}

	if c.LockDuration <= 0 {
		problems = append(problems, "LOCK_DURATION must be positive")
	}

	if c.PollInterval <= 0 {
		problems = append(problems, "POLL_INTERVAL must be positive")
	}

	if c.TerminalPolicy != FirstTerminalWins && c.TerminalPolicy != LastTerminalWins {
		problems = append(problems, "TERMINAL_POLICY must be first-terminal-wins or last-terminal-wins")
	}

	if c.ThumbnailSize < 1 {
		problems = append(problems, "THUMBNAIL_SIZE must be positive")
	}

	if c.QueueBackend == QueueBackendRedis && strings.TrimSpace(c.Redis.Addr) == "" {
		problems = append(problems, "REDIS_ADDR is required for the redis backend")
	}

	if strings.TrimSpace(c.S3.Bucket) == "" {
		problems = append(problems, "S3_BUCKET is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return nil
}

// ParseLevel converts a LOG_LEVEL string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger. format "text" is meant for local runs.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
