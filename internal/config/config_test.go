package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"emarsync/internal/config"
)

func TestGetConfig(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		config.Reset()
		t.Cleanup(config.Reset)
		t.Setenv("EMARSYNC_ENV", config.Test)

		cfg := config.GetConfig()

		assert.Equal(t, "emarsync", cfg.AppName)
		assert.Equal(t, "https://api.emarsys.net", cfg.BaseURI)
		assert.Equal(t, 30*time.Second, cfg.GetGatewayTimeout())
		assert.Equal(t, 3, cfg.GatewayMaxAttempts)
		assert.Equal(t, time.Hour, cfg.GetSyncInterval())
		assert.Equal(t, 180, cfg.InstanceRetentionDays)
		assert.Equal(t, filepath.Join("storage", "emarsync-test.db"), cfg.DatabaseName)
		assert.Equal(t, 1, cfg.GetMaxOpenConns())
		assert.True(t, cfg.IsTest())
	})

	t.Run("reads remote credentials from the environment", func(t *testing.T) {
		config.Reset()
		t.Cleanup(config.Reset)
		t.Setenv("EMARSYNC_ENV", config.Test)
		t.Setenv("EMARSYS_ACCOUNT", "acme001")
		t.Setenv("EMARSYS_PASSWORD", "s3cret")
		t.Setenv("EMARSYS_BASE_URI", "https://suite.example.net")
		t.Setenv("EMARSYNC_GENERAL_PROVIDER", config.GeneralProviderNull)
		t.Setenv("EMARSYNC_SYNC_INTERVAL_SECONDS", "0")

		cfg := config.GetConfig()

		assert.Equal(t, "acme001", cfg.Account)
		assert.Equal(t, "s3cret", cfg.Password)
		assert.Equal(t, "https://suite.example.net", cfg.BaseURI)
		assert.Equal(t, config.GeneralProviderNull, cfg.GeneralProvider)
		assert.Zero(t, cfg.GetSyncInterval())
	})

	t.Run("explicit pool sizes win", func(t *testing.T) {
		config.Reset()
		t.Cleanup(config.Reset)
		t.Setenv("EMARSYNC_ENV", config.Production)
		t.Setenv("EMARSYNC_SECRET_KEY", "a-unique-production-secret-key!!")
		t.Setenv("EMARSYNC_DB_MAX_OPEN_CONNS", "4")

		cfg := config.GetConfig()

		assert.Equal(t, 4, cfg.GetMaxOpenConns())
		assert.Equal(t, 5, cfg.GetMaxIdleConns())
	})
}
