package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/serverbot/internal/game"
	"github.com/foxzi/serverbot/internal/ipfilter"
	"github.com/foxzi/serverbot/internal/trend"
)

// DisabledChannel is the channel id that turns notifications off
const DisabledChannel = "40"

// Config is the main configuration structure
type Config struct {
	Discord       DiscordConfig       `yaml:"discord"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Server        ServerConfig        `yaml:"server"`
	Thresholds    ThresholdsConfig    `yaml:"thresholds"`
	Profile       ProfileConfig       `yaml:"profile"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	API           APIConfig           `yaml:"api"`
	Render        RenderConfig        `yaml:"render"`
	Health        HealthConfig        `yaml:"health"`
	Metrics       MetricsConfig       `yaml:"metrics"` // Prometheus metrics configuration
	Storage       StorageConfig       `yaml:"storage"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Mail          MailConfig          `yaml:"mail"` // Email mirror of notifications
	Logging       LoggingConfig       `yaml:"logging"`

	// Internal: parsed server.game (not in YAML)
	variant game.Variant `yaml:"-"`
}

// DiscordConfig contains bot credentials and the target channel
type DiscordConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"` // Numeric channel id
}

// NotificationsConfig contains notification switches
type NotificationsConfig struct {
	DisabledChannel string `yaml:"disabled_channel"` // Channel id meaning "do not notify" (default: 40)
}

// ServerConfig identifies the monitored game server
type ServerConfig struct {
	Name            string `yaml:"name"`
	GUID            string `yaml:"guid"`     // "none" disables guid selection
	OwnerID         string `yaml:"owner_id"` // "none" disables owner selection
	Game            string `yaml:"game"`
	Platform        string `yaml:"platform"`
	Lang            string `yaml:"lang"`
	FakePlayers     bool   `yaml:"fake_players"`
	FavoritesMarker string `yaml:"favorites_marker"` // Default: AMG
}

// ThresholdsConfig contains the trend detector parameters
type ThresholdsConfig struct {
	MinPlayerAmount  int `yaml:"min_player_amount"`
	PrevRequestCount int `yaml:"prev_request_count"`
	StartedAmount    int `yaml:"started_amount"`
}

// ProfileConfig contains avatar and banner settings
type ProfileConfig struct {
	AvatarInterval time.Duration `yaml:"avatar_interval"` // Default: 1m
	FailureBackoff time.Duration `yaml:"failure_backoff"` // Default: 5m
	Banner         *bool         `yaml:"banner"`          // Default: true
	BannerPath     string        `yaml:"banner_path"`     // Default: ./map.jpg
}

// MonitorConfig contains poll loop settings
type MonitorConfig struct {
	Interval       time.Duration `yaml:"interval"`        // Delay between cycles (default: 60s)
	RequestTimeout time.Duration `yaml:"request_timeout"` // Per-stage timeout (default: 30s)
}

// APIConfig contains status API settings
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
}

// RenderConfig contains image output settings
type RenderConfig struct {
	Dir string `yaml:"dir"`
}

// HealthConfig contains staleness endpoint settings
type HealthConfig struct {
	ListenAddr string        `yaml:"listen_addr"` // Default: :3030
	StaleAfter time.Duration `yaml:"stale_after"` // Default: 5m
	AllowedIPs []string      `yaml:"allowed_ips"` // IP addresses/CIDRs allowed to query health (empty = allow all)
	TrustProxy bool          `yaml:"trust_proxy"` // Use X-Forwarded-For / X-Real-IP for filtering
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	Path            string        `yaml:"path"`             // Empty disables persistence
	RestoreState    bool          `yaml:"restore_state"`    // Resume the trend state after a restart
	HistorySize     int           `yaml:"history_size"`     // Max cycle records kept (default: 500)
	HistoryMaxAge   time.Duration `yaml:"history_max_age"`  // Drop cycle records older than this (0 = keep)
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // How often to prune history (default: 1h)
}

// TracingConfig contains OpenTelemetry settings
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`     // OTLP/HTTP endpoint, empty disables tracing
	ServiceName string `yaml:"service_name"` // Default: serverbot
}

// MailConfig contains the SMTP relay used to mirror notifications
type MailConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"` // host:port
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	To       []string      `yaml:"to"`
	Hostname string        `yaml:"hostname"` // EHLO name (default: os hostname)
	Timeout  time.Duration `yaml:"timeout"`  // Default: 30s
	TLS      string        `yaml:"tls"`      // none, starttls, tls (default: starttls)
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from an optional YAML file and the process
// environment. An empty path uses the environment alone.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// load reads the file, overlays environ (the process environment when nil),
// applies defaults and validates
func load(path string, environ map[string]string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(environ); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Notifications.DisabledChannel == "" {
		c.Notifications.DisabledChannel = DisabledChannel
	}

	c.Server.Name = escapeServerName(c.Server.Name)
	if c.Server.GUID == "" {
		c.Server.GUID = "none"
	}
	if c.Server.OwnerID == "" {
		c.Server.OwnerID = "none"
	}
	if c.Server.Game == "" {
		c.Server.Game = "tunguska"
	}
	if c.Server.Platform == "" {
		c.Server.Platform = "pc"
	}
	if c.Server.Lang == "" {
		c.Server.Lang = "en-us"
	}
	if c.Server.FavoritesMarker == "" {
		c.Server.FavoritesMarker = "AMG"
	}

	if c.Thresholds.MinPlayerAmount == 0 {
		c.Thresholds.MinPlayerAmount = 20
	}
	if c.Thresholds.PrevRequestCount == 0 {
		c.Thresholds.PrevRequestCount = 5
	}
	if c.Thresholds.StartedAmount == 0 {
		c.Thresholds.StartedAmount = 50
	}

	if c.Profile.AvatarInterval == 0 {
		c.Profile.AvatarInterval = time.Minute
	}
	if c.Profile.FailureBackoff == 0 {
		c.Profile.FailureBackoff = 5 * time.Minute
	}
	if c.Profile.Banner == nil {
		enabled := true
		c.Profile.Banner = &enabled
	}
	if c.Profile.BannerPath == "" {
		c.Profile.BannerPath = "./map.jpg"
	}

	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = 60 * time.Second
	}
	if c.Monitor.RequestTimeout == 0 {
		c.Monitor.RequestTimeout = 30 * time.Second
	}

	if c.API.BaseURL == "" {
		c.API.BaseURL = "https://api.gametools.network"
	}
	if c.Render.Dir == "" {
		c.Render.Dir = "."
	}

	if c.Health.ListenAddr == "" {
		c.Health.ListenAddr = ":3030"
	}
	if c.Health.StaleAfter == 0 {
		c.Health.StaleAfter = 5 * time.Minute
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}

	if c.Storage.HistorySize == 0 {
		c.Storage.HistorySize = 500
	}
	if c.Storage.CleanupInterval == 0 {
		c.Storage.CleanupInterval = time.Hour
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "serverbot"
	}

	if c.Mail.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Mail.Hostname = hostname
	}
	if c.Mail.Timeout == 0 {
		c.Mail.Timeout = 30 * time.Second
	}
	if c.Mail.TLS == "" {
		c.Mail.TLS = "starttls"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required")
	}
	if c.Discord.Channel == "" {
		return fmt.Errorf("discord.channel is required")
	}
	if _, err := strconv.ParseUint(c.Discord.Channel, 10, 64); err != nil {
		return fmt.Errorf("discord.channel must be a numeric id: %q", c.Discord.Channel)
	}
	if c.Server.Name == "" {
		return fmt.Errorf("server.name is required")
	}

	variant, err := game.Parse(c.Server.Game)
	if err != nil {
		return fmt.Errorf("invalid server.game: %w", err)
	}
	c.variant = variant

	tag, err := language.Parse(c.Server.Lang)
	if err != nil {
		return fmt.Errorf("invalid server.lang %q: %w", c.Server.Lang, err)
	}
	c.Server.Lang = strings.ToLower(tag.String())

	if c.Thresholds.PrevRequestCount <= 0 {
		return fmt.Errorf("thresholds.prev_request_count must be positive")
	}
	if c.Thresholds.MinPlayerAmount < 0 || c.Thresholds.StartedAmount < 0 {
		return fmt.Errorf("thresholds must not be negative")
	}
	if c.Profile.AvatarInterval < 0 || c.Profile.FailureBackoff < 0 {
		return fmt.Errorf("profile intervals must not be negative")
	}
	if c.Monitor.Interval < 0 || c.Monitor.RequestTimeout < 0 {
		return fmt.Errorf("monitor intervals must not be negative")
	}
	if c.Storage.HistorySize < 0 {
		return fmt.Errorf("storage.history_size must not be negative")
	}

	if err := c.validateMail(); err != nil {
		return err
	}

	if err := ipfilter.Validate(c.Health.AllowedIPs); err != nil {
		return fmt.Errorf("invalid health.allowed_ips: %w", err)
	}
	if err := ipfilter.Validate(c.Metrics.AllowedIPs); err != nil {
		return fmt.Errorf("invalid metrics.allowed_ips: %w", err)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

// validateMail validates the email mirror configuration
func (c *Config) validateMail() error {
	if !c.Mail.Enabled {
		return nil
	}

	if c.Mail.Addr == "" {
		return fmt.Errorf("mail.addr is required when mail is enabled")
	}
	if c.Mail.From == "" {
		return fmt.Errorf("mail.from is required when mail is enabled")
	}
	if len(c.Mail.To) == 0 {
		return fmt.Errorf("mail.to must not be empty when mail is enabled")
	}
	switch c.Mail.TLS {
	case "none", "starttls", "tls":
	default:
		return fmt.Errorf("mail.tls must be none, starttls or tls, got %q", c.Mail.TLS)
	}
	return nil
}

// Variant returns the parsed server.game. Valid after Load or Validate.
func (c *Config) Variant() game.Variant {
	return c.variant
}

// NotificationsDisabled reports whether the channel is the disabled sentinel
func (c *Config) NotificationsDisabled() bool {
	return c.Discord.Channel == c.Notifications.DisabledChannel
}

// BannerEnabled reports whether the banner is updated with the avatar
func (c *Config) BannerEnabled() bool {
	return c.Profile.Banner == nil || *c.Profile.Banner
}

// OwnerID returns server.owner_id with "none" mapped to empty
func (c *Config) OwnerID() string {
	return optional(c.Server.OwnerID)
}

// ServerGUID returns server.guid with "none" mapped to empty
func (c *Config) ServerGUID() string {
	return optional(c.Server.GUID)
}

// Params returns the trend detector parameters
func (c *Config) Params() trend.Params {
	return trend.Params{
		MinPlayerAmount:       c.Thresholds.MinPlayerAmount,
		PrevRequestCount:      c.Thresholds.PrevRequestCount,
		StartedAmount:         c.Thresholds.StartedAmount,
		FavoritesMarker:       c.Server.FavoritesMarker,
		NotificationsDisabled: c.NotificationsDisabled(),
	}
}

// escapeServerName replaces characters the API search chokes on
func escapeServerName(name string) string {
	return strings.NewReplacer("`", "#", "*", `\"`).Replace(name)
}

func optional(v string) string {
	if strings.EqualFold(v, "none") {
		return ""
	}
	return v
}
