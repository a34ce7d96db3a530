package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Africa/Accra on hosts without a zoneinfo database

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up when none is given.
const DefaultFile = "wingsite.yaml"

// Config represents the wingsite configuration
type Config struct {
	Title        string             `yaml:"title"`
	Description  string             `yaml:"description"`
	Server       ServerConfig       `yaml:"server"`
	CMS          CMSConfig          `yaml:"cms"`
	Chat         ChatConfig         `yaml:"chat"`
	Email        EmailConfig        `yaml:"email"`
	Slack        SlackConfig        `yaml:"slack,omitempty"`
	Appointments AppointmentsConfig `yaml:"appointments"`
	RateLimit    *RateLimitConfig   `yaml:"rate_limit,omitempty"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port  int    `yaml:"port"`
	Host  string `yaml:"host"`
	Debug bool   `yaml:"debug"`
}

// Addr returns host:port for net.Listen.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CMSConfig points at the Strapi instance holding pages and navigation
type CMSConfig struct {
	URL           string `yaml:"url"`                      // Base URL, e.g. http://localhost:1337
	Token         string `yaml:"token,omitempty"`          // Optional API token sent as a bearer token
	Menu          string `yaml:"menu,omitempty"`           // Navigation menu slug. Default: navigation
	Timeout       string `yaml:"timeout,omitempty"`        // Request timeout (e.g., "10s"). Default: 10s
	NavigationTTL string `yaml:"navigation_ttl,omitempty"` // How long a fetched menu is reused. Default: 60s

	BreakerThreshold int    `yaml:"breaker_threshold,omitempty"` // Failures within a minute that stop CMS calls. Default: 5
	BreakerCooldown  string `yaml:"breaker_cooldown,omitempty"`  // How long CMS calls stay stopped. Default: 30s
}

// GetMenu returns the navigation menu slug (default: "navigation")
func (c CMSConfig) GetMenu() string {
	if c.Menu == "" {
		return "navigation"
	}
	return c.Menu
}

// GetTimeout returns the parsed timeout duration (default: 10s)
func (c CMSConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

// GetNavigationTTL returns the navigation cache TTL (default: 60s)
func (c CMSConfig) GetNavigationTTL() time.Duration {
	return parseDuration(c.NavigationTTL, 60*time.Second)
}

// GetBreakerCooldown returns how long the CMS circuit stays open (default: 30s)
func (c CMSConfig) GetBreakerCooldown() time.Duration {
	return parseDuration(c.BreakerCooldown, 30*time.Second)
}

// ChatConfig configures the upstream chat bot
type ChatConfig struct {
	URL        string `yaml:"url,omitempty"`         // ws(s):// for the socket bot, http(s):// for the request/response bot
	MaxRetries int    `yaml:"max_retries,omitempty"` // Reconnection attempts (default: 5)
	RetryDelay string `yaml:"retry_delay,omitempty"` // Delay between attempts (default: 1s)
}

// IsEnabled reports whether a chat backend is configured.
func (c ChatConfig) IsEnabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

// IsHTTP reports whether the backend speaks plain HTTP instead of WebSocket.
func (c ChatConfig) IsHTTP() bool {
	u := strings.ToLower(c.URL)
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// GetMaxRetries returns the reconnection attempts (default: 5)
func (c ChatConfig) GetMaxRetries() int {
	if c.MaxRetries <= 0 {
		return 5
	}
	return c.MaxRetries
}

// GetRetryDelay returns the delay between reconnection attempts (default: 1s)
func (c ChatConfig) GetRetryDelay() time.Duration {
	return parseDuration(c.RetryDelay, time.Second)
}

// EmailConfig holds SMTP settings for appointment notifications
type EmailConfig struct {
	Host     string `yaml:"host,omitempty"` // Default: smtp.gmail.com
	Port     int    `yaml:"port,omitempty"` // Default: 465 (implicit TLS)
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	From     string `yaml:"from,omitempty"` // Default: Username
	To       string `yaml:"to,omitempty"`   // Support mailbox receiving bookings
}

// IsEnabled reports whether enough is configured to send mail.
func (c EmailConfig) IsEnabled() bool {
	return c.Username != "" && c.Password != "" && c.To != ""
}

// GetHost returns the SMTP host (default: smtp.gmail.com)
func (c EmailConfig) GetHost() string {
	if c.Host == "" {
		return "smtp.gmail.com"
	}
	return c.Host
}

// GetPort returns the SMTP port (default: 465)
func (c EmailConfig) GetPort() int {
	if c.Port <= 0 {
		return 465
	}
	return c.Port
}

// GetFrom returns the sender address (default: Username)
func (c EmailConfig) GetFrom() string {
	if c.From == "" {
		return c.Username
	}
	return c.From
}

// SlackConfig posts a short notice to a staff channel for every booking
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url,omitempty"` // https://hooks.slack.com/...
	Channel    string `yaml:"channel,omitempty"`     // e.g. "#bookings"
}

// IsEnabled reports whether a webhook is configured.
func (c SlackConfig) IsEnabled() bool {
	return c.WebhookURL != ""
}

// GetChannel returns the channel (default: "#appointments")
func (c SlackConfig) GetChannel() string {
	if c.Channel == "" {
		return "#appointments"
	}
	return c.Channel
}

// AppointmentsConfig selects where bookings are recorded
type AppointmentsConfig struct {
	Store    string `yaml:"store,omitempty"`    // "csv", "sqlite" or "postgres". Default: csv
	Path     string `yaml:"path,omitempty"`     // CSV file. Default: appointments.csv
	DSN      string `yaml:"dsn,omitempty"`      // Database DSN for sqlite/postgres
	Timezone string `yaml:"timezone,omitempty"` // IANA zone the form's dates are in. Default: Africa/Accra
}

// GetStore returns the store kind (default: "csv")
func (c AppointmentsConfig) GetStore() string {
	if c.Store == "" {
		return "csv"
	}
	return strings.ToLower(c.Store)
}

// GetPath returns the CSV path (default: "appointments.csv")
func (c AppointmentsConfig) GetPath() string {
	if c.Path == "" {
		return "appointments.csv"
	}
	return c.Path
}

// GetDSN returns the database DSN. sqlite falls back to wingsite.db.
func (c AppointmentsConfig) GetDSN() string {
	if c.DSN == "" && c.GetStore() == "sqlite" {
		return "wingsite.db"
	}
	return c.DSN
}

// Location loads the configured time zone (default: Africa/Accra)
func (c AppointmentsConfig) Location() (*time.Location, error) {
	name := c.Timezone
	if name == "" {
		name = "Africa/Accra"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("appointments timezone %q: %w", name, err)
	}
	return loc, nil
}

// RateLimitConfig holds rate limiting configuration for the form and chat endpoints
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"` // Default: 5
	Burst             int     `yaml:"burst,omitempty"`               // Default: 10
}

// GetRateLimitRPS returns the rate limit in requests per second (default: 5)
func (c *Config) GetRateLimitRPS() float64 {
	if c.RateLimit == nil || c.RateLimit.RequestsPerSecond <= 0 {
		return 5
	}
	return c.RateLimit.RequestsPerSecond
}

// GetRateLimitBurst returns the burst size (default: 10)
func (c *Config) GetRateLimitBurst() int {
	if c.RateLimit == nil || c.RateLimit.Burst <= 0 {
		return 10
	}
	return c.RateLimit.Burst
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.CMS.URL == "" {
		return errors.New("cms url is required (set STRAPI_API_URL)")
	}
	switch c.Appointments.GetStore() {
	case "csv", "sqlite":
	case "postgres":
		if c.Appointments.DSN == "" {
			return errors.New("appointments dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown appointments store %q", c.Appointments.Store)
	}
	if _, err := c.Appointments.Location(); err != nil {
		return err
	}
	return nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Title:       "Wing Heights",
		Description: "Insurance brokerage in Ghana",
		Server: ServerConfig{
			Port:  8080,
			Host:  "localhost",
			Debug: false,
		},
		CMS: CMSConfig{
			URL: "http://localhost:1337",
		},
	}
}

// Load loads configuration from a YAML file
// If the file doesn't exist, returns the default configuration
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig() // Start with defaults
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadEnvFile reads KEY=value pairs from a dotenv file into the process
// environment. Variables already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides file settings with environment variables. The
// NEXT_PUBLIC_ names are accepted so an existing frontend .env keeps working.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				return v
			}
		}
		return ""
	}
	set := func(dst *string, keys ...string) {
		if v := first(keys...); v != "" {
			*dst = v
		}
	}

	set(&c.CMS.URL, "STRAPI_API_URL", "NEXT_PUBLIC_STRAPI_API_URL")
	set(&c.CMS.Token, "STRAPI_API_TOKEN")
	set(&c.Chat.URL, "SOCKET_URL", "NEXT_PUBLIC_SOCKET_URL")
	set(&c.Email.Username, "EMAIL_USER")
	set(&c.Email.Password, "EMAIL_PASS")
	set(&c.Email.To, "SUPPORT_EMAIL")
	set(&c.Email.Host, "SMTP_HOST")
	set(&c.Slack.WebhookURL, "SLACK_WEBHOOK_URL")
	set(&c.Slack.Channel, "SLACK_CHANNEL")
	set(&c.Appointments.Store, "APPOINTMENTS_STORE")
	set(&c.Appointments.DSN, "APPOINTMENTS_DSN")

	if v := first("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Email.Port = port
		}
	}
	if v := first("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	c.CMS.URL = strings.TrimRight(c.CMS.URL, "/")
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
