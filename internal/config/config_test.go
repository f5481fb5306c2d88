package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing_hunter/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log_level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 50, cfg.Source.PageSize)
	assert.Equal(t, 50, cfg.Sync.PageSize)
	assert.Equal(t, 2*time.Minute, cfg.Sync.BackfillInterval)
	assert.Equal(t, 30*time.Second, cfg.Sync.CheckInterval)
	assert.Equal(t, []domain.Category{domain.CategoryApartment, domain.CategoryHouse}, cfg.Sync.Categories)
	assert.True(t, *cfg.Sync.NotifyOnStart)
	assert.True(t, *cfg.Telegram.Polling)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.UpdatedWithin)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Empty(t, cfg.RabbitMQ.URL)
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_HUNTER_TOKEN", "123:abc")

	cfg, err := Load(writeConfig(t, `
telegram:
  bot_token: ${TEST_HUNTER_TOKEN}
sync:
  categories: [house]
  notify_on_start: false
  page_size: 20
`))
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	assert.Equal(t, []domain.Category{domain.CategoryHouse}, cfg.Sync.Categories)
	assert.False(t, *cfg.Sync.NotifyOnStart)
	assert.Equal(t, 20, cfg.Sync.PageSize)
}

func TestLoad_RejectsUnknownCategory(t *testing.T) {
	_, err := Load(writeConfig(t, "sync:\n  categories: [garage]\n"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "hunter", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=hunter sslmode=disable", d.DSN())
}
