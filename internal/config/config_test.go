package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCMSConfigDefaults(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CMSConfig
		timeout time.Duration
		ttl     time.Duration
		menu    string
	}{
		{"empty", CMSConfig{}, 10 * time.Second, time.Minute, "navigation"},
		{"invalid durations", CMSConfig{Timeout: "soon", NavigationTTL: "-1s"}, 10 * time.Second, time.Minute, "navigation"},
		{"explicit", CMSConfig{Timeout: "3s", NavigationTTL: "5m", Menu: "main"}, 3 * time.Second, 5 * time.Minute, "main"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetTimeout(); got != tt.timeout {
				t.Errorf("GetTimeout() = %v, want %v", got, tt.timeout)
			}
			if got := tt.cfg.GetNavigationTTL(); got != tt.ttl {
				t.Errorf("GetNavigationTTL() = %v, want %v", got, tt.ttl)
			}
			if got := tt.cfg.GetMenu(); got != tt.menu {
				t.Errorf("GetMenu() = %q, want %q", got, tt.menu)
			}
		})
	}
}

func TestCMSBreakerCooldown(t *testing.T) {
	assert.Equal(t, 30*time.Second, CMSConfig{}.GetBreakerCooldown())
	assert.Equal(t, 2*time.Minute, CMSConfig{BreakerCooldown: "2m"}.GetBreakerCooldown())
}

func TestChatConfig(t *testing.T) {
	var empty ChatConfig
	assert.False(t, empty.IsEnabled())
	assert.Equal(t, 5, empty.GetMaxRetries())
	assert.Equal(t, time.Second, empty.GetRetryDelay())

	ws := ChatConfig{URL: "wss://bot.example.com/ws"}
	assert.True(t, ws.IsEnabled())
	assert.False(t, ws.IsHTTP())

	httpBot := ChatConfig{URL: "HTTPS://bot.example.com/chat", MaxRetries: 2, RetryDelay: "250ms"}
	assert.True(t, httpBot.IsHTTP())
	assert.Equal(t, 2, httpBot.GetMaxRetries())
	assert.Equal(t, 250*time.Millisecond, httpBot.GetRetryDelay())
}

func TestEmailConfig(t *testing.T) {
	cfg := EmailConfig{Username: "bookings@example.com", Password: "secret"}
	assert.False(t, cfg.IsEnabled(), "no recipient")

	cfg.To = "support@example.com"
	assert.True(t, cfg.IsEnabled())
	assert.Equal(t, "smtp.gmail.com", cfg.GetHost())
	assert.Equal(t, 465, cfg.GetPort())
	assert.Equal(t, "bookings@example.com", cfg.GetFrom())

	cfg.From = "Wing Heights <noreply@example.com>"
	assert.Equal(t, "Wing Heights <noreply@example.com>", cfg.GetFrom())
}

func TestAppointmentsConfig(t *testing.T) {
	var cfg AppointmentsConfig
	assert.Equal(t, "csv", cfg.GetStore())
	assert.Equal(t, "appointments.csv", cfg.GetPath())
	assert.Equal(t, "", cfg.GetDSN())

	cfg.Store = "SQLite"
	assert.Equal(t, "sqlite", cfg.GetStore())
	assert.Equal(t, "wingsite.db", cfg.GetDSN())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Africa/Accra", loc.String())

	cfg.Timezone = "Not/AZone"
	_, err = cfg.Location()
	assert.ErrorContains(t, err, `appointments timezone "Not/AZone"`)
}

func TestValidateRejectsUnknownTimezone(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Appointments.Timezone = "Africa/Acra"
	assert.ErrorContains(t, cfg.Validate(), `appointments timezone "Africa/Acra"`)
}

func TestRateLimitDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5.0, cfg.GetRateLimitRPS())
	assert.Equal(t, 10, cfg.GetRateLimitBurst())

	cfg.RateLimit = &RateLimitConfig{RequestsPerSecond: 1, Burst: 3}
	assert.Equal(t, 1.0, cfg.GetRateLimitRPS())
	assert.Equal(t, 3, cfg.GetRateLimitBurst())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(`
title: Wing Heights Ghana
server:
  port: 3000
cms:
  url: https://cms.example.com
  navigation_ttl: 2m
appointments:
  store: sqlite
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Wing Heights Ghana", cfg.Title)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host, "default kept")
	assert.Equal(t, "https://cms.example.com", cfg.CMS.URL)
	assert.Equal(t, 2*time.Minute, cfg.CMS.GetNavigationTTL())
	assert.Equal(t, "sqlite", cfg.Appointments.GetStore())
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"NEXT_PUBLIC_STRAPI_API_URL": "https://cms.example.com/",
		"STRAPI_API_TOKEN":           "tok",
		"NEXT_PUBLIC_SOCKET_URL":     "wss://bot.example.com",
		"EMAIL_USER":                 "bookings@example.com",
		"EMAIL_PASS":                 "secret",
		"SUPPORT_EMAIL":              "support@example.com",
		"SMTP_PORT":                  "587",
		"PORT":                       "9000",
		"APPOINTMENTS_STORE":         "postgres",
		"APPOINTMENTS_DSN":           "postgres://localhost/wing",
		"SLACK_WEBHOOK_URL":          "https://hooks.slack.com/services/T/B/x",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "https://cms.example.com", cfg.CMS.URL, "trailing slash trimmed")
	assert.Equal(t, "tok", cfg.CMS.Token)
	assert.Equal(t, "wss://bot.example.com", cfg.Chat.URL)
	assert.True(t, cfg.Email.IsEnabled())
	assert.Equal(t, 587, cfg.Email.GetPort())
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Appointments.GetStore())
	assert.True(t, cfg.Slack.IsEnabled())
	assert.Equal(t, "#appointments", cfg.Slack.GetChannel())
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvPrefersServerName(t *testing.T) {
	env := map[string]string{
		"STRAPI_API_URL":             "https://internal.example.com",
		"NEXT_PUBLIC_STRAPI_API_URL": "https://public.example.com",
		"PORT":                       "not-a-port",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "https://internal.example.com", cfg.CMS.URL)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Appointments.Store = "postgres"
	assert.Error(t, cfg.Validate(), "postgres needs a dsn")

	cfg.Appointments.Store = "redis"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.CMS.URL = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, LoadEnvFile(""))
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), ".env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("WINGSITE_TEST_VALUE=from-file\n"), 0644))
	t.Setenv("WINGSITE_TEST_VALUE", "")
	os.Unsetenv("WINGSITE_TEST_VALUE")

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("WINGSITE_TEST_VALUE"))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	cfg := DefaultConfig()
	cfg.CMS.Menu = "main"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "main", loaded.CMS.GetMenu())
}
