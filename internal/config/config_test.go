package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Addr)
	assert.Equal(t, 4, cfg.DispatchConcurrency)
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout())
	assert.Equal(t, 15*time.Second, cfg.AppsScriptTimeout())
	assert.Equal(t, 10, cfg.SubmitRateLimit)
	assert.Equal(t, 100, cfg.TrackRateLimit)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ADDR", ":8080")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("DISPATCH_CONCURRENCY", "8")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, 8, cfg.DispatchConcurrency)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_InvalidNumber(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SUBMIT_RATE_LIMIT", "lots")

	_, err := Load(zap.NewNop())
	assert.ErrorContains(t, err, "SUBMIT_RATE_LIMIT")
}

func TestValidate_JWTSecret(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(zap.NewNop()))

	cfg.Debug = true
	require.NoError(t, cfg.Validate(zap.NewNop()))
	assert.Equal(t, DevJWTSecret, cfg.JWTSecret)
}

func TestRead_SkipsSecretCheck(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DISPATCH_CONCURRENCY", "0")

	cfg, err := Read(zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, cfg.JWTSecret)
	assert.Equal(t, 1, cfg.DispatchConcurrency)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "s****t", maskSecret("JWTSecret", "secret"))
	assert.Equal(t, "**", maskSecret("AdminPassword", "ab"))
	assert.Equal(t, "localhost:6379", maskSecret("RedisAddr", "localhost:6379"))
	assert.Equal(t, "postgres://app:xxxxx@db:5432/openflow?sslmode=disable",
		maskSecret("DatabaseURL", "postgres://app:hunter2@db:5432/openflow?sslmode=disable"))
	assert.Equal(t, "redis://:xxxxx@cache:6379/0", maskSecret("RedisAddr", "redis://:pw@cache:6379/0"))
	assert.Equal(t, "postgres://xxxxx@db/openflow", maskSecret("DatabaseURL", "postgres://tokenonly@db/openflow"))
}

func TestRead_DoesNotLogDatabasePassword(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://app:hunter2@db:5432/openflow")
	core, logs := observer.New(zap.InfoLevel)

	cfg, err := Read(zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:hunter2@db:5432/openflow", cfg.DatabaseURL)

	entries := logs.FilterField(zap.String("key", "Config.DatabaseURL")).All()
	require.Len(t, entries, 1)
	logged := entries[0].ContextMap()["value"]
	assert.NotContains(t, logged, "hunter2")
	assert.Equal(t, "postgres://app:xxxxx@db:5432/openflow", logged)
}
