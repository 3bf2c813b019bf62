package config

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withEnv(t *testing.T, env map[string]string) {
	t.Helper()
	original := envProcess
	t.Cleanup(func() { envProcess = original })

	envProcess = func(ctx context.Context, v any, mus ...envconfig.Mutator) error {
		return envconfig.ProcessWith(ctx, &envconfig.Config{
			Target:   v,
			Lookuper: envconfig.MapLookuper(env),
			Mutators: mus,
		})
	}
}

func TestLoadAppFromEnv_Defaults(t *testing.T) {
	withEnv(t, map[string]string{})

	cfg, err := LoadAppFromEnv(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, QueueBackendPostgres, cfg.QueueBackend)
	assert.Equal(t, 10, cfg.MaxWorkers)
	assert.Equal(t, time.Minute, cfg.LockDuration)
	assert.Equal(t, FirstTerminalWins, cfg.TerminalPolicy)
	assert.Equal(t, 150, cfg.ThumbnailSize)
	assert.Equal(t, "user-avatars", cfg.S3.Bucket)
	assert.Equal(t, time.Hour, cfg.S3.PresignTTL)
	assert.Equal(t, "profilejobs", cfg.Redis.Prefix)
	assert.Equal(t, "profilejobs", cfg.Telemetry.ServiceName)
	assert.Equal(t, "development", cfg.Telemetry.Environment)
	assert.Empty(t, cfg.Telemetry.OTLPEndpoint)
	assert.False(t, cfg.Telemetry.Disabled)
}

func TestLoadAppFromEnv_Overrides(t *testing.T) {
	withEnv(t, map[string]string{
		"QUEUE_BACKEND":   "redis",
		"REDIS_ADDR":      "redis:6379",
		"MAX_WORKERS":     "3",
		"TERMINAL_POLICY": "last-terminal-wins",
		"RETRY_BASE":      "500ms",
		"S3_BUCKET":       "avatars",

		"OTEL_SERVICE_NAME":           "profilejobs-worker",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "http://collector:4317",
	})

	cfg, err := LoadAppFromEnv(context.Background())
	require.NoError(t, err)

	assert.Equal(t, QueueBackendRedis, cfg.QueueBackend)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.MaxWorkers)
	assert.Equal(t, LastTerminalWins, cfg.TerminalPolicy)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBase)
	assert.Equal(t, "avatars", cfg.S3.Bucket)
	assert.Equal(t, "profilejobs-worker", cfg.Telemetry.ServiceName)
	assert.Equal(t, "http://collector:4317", cfg.Telemetry.OTLPEndpoint)
}

func TestLoadAppFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name          string
		env           map[string]string
		errorContains []string
	}{
		{
			name:          "unknown backend",
			env:           map[string]string{"QUEUE_BACKEND": "kafka"},
			errorContains: []string{"QUEUE_BACKEND must be postgres or redis"},
		},
		{
			name: "several problems reported together",
			env: map[string]string{
				"MAX_WORKERS":     "0",
				"TERMINAL_POLICY": "random",
				"THUMBNAIL_SIZE":  "0",
			},
			errorContains: []string{
				"MAX_WORKERS must be positive",
				"TERMINAL_POLICY must be",
				"THUMBNAIL_SIZE must be positive",
			},
		},
		{
			name:          "redis without address",
			env:           map[string]string{"QUEUE_BACKEND": "redis", "REDIS_ADDR": " "},
			errorContains: []string{"REDIS_ADDR is required"},
		},
		{
			name:          "unparsable duration",
			env:           map[string]string{"LOCK_DURATION": "soon"},
			errorContains: []string{"failed to process env config"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withEnv(t, tt.env)

			_, err := LoadAppFromEnv(context.Background())
			require.Error(t, err)
			for _, want := range tt.errorContains {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "info", "json").Info("hello", "job_id", "job-1")
	assert.Contains(t, buf.String(), `"job_id":"job-1"`)

	buf.Reset()
	NewLogger(&buf, "info", "text").Info("hello", "job_id", "job-1")
	assert.Contains(t, buf.String(), "job_id=job-1")

	buf.Reset()
	NewLogger(&buf, "warn", "json").Info("dropped")
	assert.Empty(t, buf.String())
}

func TestJobStatus(t *testing.T) {
	assert.True(t, JobStatusPending.Valid())
	assert.False(t, JobStatus("DONE").Valid())
	assert.True(t, JobStatusSuccess.Terminal())
	assert.True(t, JobStatusFailure.Terminal())
	assert.False(t, JobStatusStarted.Terminal())
}
