package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_HOST", "db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.ServerAddr)
	assert.Equal(t, 3, cfg.MaxRetryAttempts)
	assert.Equal(t, 10*time.Minute, cfg.FlowIdleTTL)
	assert.True(t, cfg.ExchangeSandbox)
	assert.Equal(t, BusMemory, cfg.MessageBus)
	assert.Equal(t, JournalMemory, cfg.JournalDriver)
	assert.Equal(t, "1000", cfg.SandboxTwoFactorAt.String())
	assert.Equal(t, "postgres://withdraw:withdraw_pass@db:5432/withdraw?sslmode=disable", cfg.DatabaseURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MAX_RETRY_ATTEMPTS", "5")
	t.Setenv("MESSAGE_BUS", "REDIS")
	t.Setenv("JOURNAL_DRIVER", "sqlite")
	t.Setenv("FLOW_IDLE_TTL", "90s")
	t.Setenv("FLOW_ABANDON_TTL", "not-a-duration")
	t.Setenv("EXCHANGE_SANDBOX", "false")
	t.Setenv("EXCHANGE_API_URL", "https://connect.test")
	t.Setenv("DATABASE_URL", "postgres://x")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxRetryAttempts)
	assert.Equal(t, BusRedis, cfg.MessageBus)
	assert.Equal(t, JournalSQLite, cfg.JournalDriver)
	assert.Equal(t, 90*time.Second, cfg.FlowIdleTTL)
	assert.Equal(t, time.Hour, cfg.FlowAbandonTTL)
	assert.False(t, cfg.ExchangeSandbox)
	assert.Equal(t, "postgres://x", cfg.DatabaseURL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"retry attempts", map[string]string{"MAX_RETRY_ATTEMPTS": "zero"}},
		{"negative retry attempts", map[string]string{"MAX_RETRY_ATTEMPTS": "-1"}},
		{"bus", map[string]string{"MESSAGE_BUS": "kafka"}},
		{"journal", map[string]string{"JOURNAL_DRIVER": "mongo"}},
		{"threshold", map[string]string{"SANDBOX_2FA_THRESHOLD": "lots"}},
		{"api url", map[string]string{"EXCHANGE_SANDBOX": "false", "EXCHANGE_API_URL": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
