package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.DB.Host)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, "disable", cfg.DB.SSLMode)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, uint8(2), cfg.Ledger.DefaultDecimalPlaces)
	assert.Equal(t, 30*time.Second, cfg.Redis.BalanceTTL)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.env")
	require.NoError(t, os.WriteFile(path, []byte("DB_NAME=ledger\nLEDGER_DEFAULT_DECIMAL_PLACES=4\n"), 0o600))
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LEDGER_DEFAULT_MIN_ALLOWED_BALANCE", "-100")
	t.Cleanup(func() {
		os.Unsetenv("DB_NAME")
		os.Unsetenv("LEDGER_DEFAULT_DECIMAL_PLACES")
	})

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ledger", cfg.DB.Name)
	assert.Equal(t, uint8(4), cfg.Ledger.DefaultDecimalPlaces)
	assert.Equal(t, int64(-100), cfg.Ledger.DefaultMinAllowedBalance)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Kafka.GetRetryConfig().MaxAttempts)
}

func TestLoadRejectsWidePrecision(t *testing.T) {
	t.Setenv("LEDGER_DEFAULT_DECIMAL_PLACES", "19")
	_, err := LoadFile("")
	assert.Error(t, err)
}
