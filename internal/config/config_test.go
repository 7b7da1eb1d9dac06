package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "/metrics", cfg.Monitoring.MetricsPath)
	assert.False(t, cfg.Notifications.Ntfy.Enabled)
	assert.Equal(t, 5, cfg.Notifications.CircuitBreaker.MaxFailures)
	assert.Equal(t, 30*time.Second, cfg.Automation.DispatchTimeout)
}

func TestLoadFrom_ConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `
server:
  port: 9090
database:
  driver: sqlite
  path: ` + filepath.Join(dir, "test.db") + `
notifications:
  ntfy:
    enabled: true
    topic: helpdesk
    timeout: 3s
  smtp:
    recipients: [ops@example.com, lead@example.com]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "untouched keys keep defaults")
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, filepath.Join(dir, "test.db"), cfg.Database.DSN())
	assert.True(t, cfg.Notifications.Ntfy.Enabled)
	assert.Equal(t, "helpdesk", cfg.Notifications.Ntfy.Topic)
	assert.Equal(t, 3*time.Second, cfg.Notifications.Ntfy.Timeout)
	assert.Equal(t, "https://ntfy.sh", cfg.Notifications.Ntfy.BaseURL)
	assert.Equal(t, []string{"ops@example.com", "lead@example.com"}, cfg.Notifications.SMTP.Recipients)
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	t.Setenv("TACTICALDESK_DATABASE_DRIVER", "sqlite")
	t.Setenv("TACTICALDESK_NOTIFICATIONS_NTFY_TOKEN", "secret-token")

	v := viper.New()
	BindEnv(v)
	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "secret-token", cfg.Notifications.Ntfy.Token)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"ssl and tls", func(c *Config) { c.Notifications.SMTP.UseSSL = true; c.Notifications.SMTP.UseTLS = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := GetDefaultConfig().Database
	assert.Equal(t,
		"host=localhost user=postgres password=password dbname=tacticaldesk port=5432 sslmode=disable TimeZone=UTC",
		pg.DSN())

	assert.Equal(t, "file:tacticaldesk.db?cache=shared", DatabaseConfig{Driver: "sqlite"}.DSN())
}

func TestConfigureLogger(t *testing.T) {
	logger := logrus.New()
	require.NoError(t, ConfigureLogger(logger, LogConfig{Level: "debug", Format: "text", Output: "stdout"}))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	require.NoError(t, ConfigureLogger(logger, LogConfig{Level: "nope", Format: "json"}))
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	path := filepath.Join(t.TempDir(), "logs", "app.log")
	require.NoError(t, ConfigureLogger(logger, LogConfig{Level: "info", Output: "file", FilePath: path, MaxSize: 1}))
	rotating, ok := logger.Out.(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, path, rotating.Filename)
	_, err := os.Stat(filepath.Dir(path))
	assert.NoError(t, err)

	assert.Error(t, ConfigureLogger(logger, LogConfig{Level: "info", Output: "file"}))
}
