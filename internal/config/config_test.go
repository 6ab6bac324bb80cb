package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/serverbot/internal/game"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	content := `
discord:
  token: "bot-token"
  channel: "123456789"

server:
  name: "[AMG] #1 Conquest"
  guid: "guid-1"
  game: "casablanca"
  platform: "ps4"
  lang: "de-DE"
  fake_players: true

thresholds:
  min_player_amount: 10
  prev_request_count: 3
  started_amount: 40

profile:
  avatar_interval: 10m
  banner: false

monitor:
  interval: 30s

health:
  listen_addr: ":4040"
  allowed_ips: ["127.0.0.1", "10.0.0.0/8"]

storage:
  path: "/tmp/serverbot.db"
  restore_state: true
  history_size: 50

logging:
  level: "debug"
  format: "json"
`
	cfg, err := load(writeConfig(t, content), map[string]string{})
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}

	if cfg.Discord.Token != "bot-token" || cfg.Discord.Channel != "123456789" {
		t.Errorf("Discord = %+v", cfg.Discord)
	}
	if cfg.Variant() != game.Casablanca {
		t.Errorf("Variant() = %v, want casablanca", cfg.Variant())
	}
	if cfg.Server.Lang != "de-de" {
		t.Errorf("Lang = %q, want lowercased canonical tag", cfg.Server.Lang)
	}
	if cfg.ServerGUID() != "guid-1" {
		t.Errorf("ServerGUID() = %q", cfg.ServerGUID())
	}
	if cfg.OwnerID() != "" {
		t.Errorf("OwnerID() = %q, want empty for default none", cfg.OwnerID())
	}
	if !cfg.Server.FakePlayers {
		t.Error("FakePlayers should be true")
	}
	if cfg.BannerEnabled() {
		t.Error("BannerEnabled() should be false")
	}
	if cfg.Profile.AvatarInterval != 10*time.Minute {
		t.Errorf("AvatarInterval = %v, want 10m", cfg.Profile.AvatarInterval)
	}
	if cfg.Monitor.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", cfg.Monitor.Interval)
	}
	if cfg.Health.ListenAddr != ":4040" || len(cfg.Health.AllowedIPs) != 2 {
		t.Errorf("Health = %+v", cfg.Health)
	}
	if !cfg.Storage.RestoreState || cfg.Storage.HistorySize != 50 {
		t.Errorf("Storage = %+v", cfg.Storage)
	}

	p := cfg.Params()
	if p.MinPlayerAmount != 10 || p.PrevRequestCount != 3 || p.StartedAmount != 40 {
		t.Errorf("Params() = %+v", p)
	}
	if p.WindowSize() != 6 {
		t.Errorf("WindowSize() = %d, want 6", p.WindowSize())
	}
	if p.NotificationsDisabled {
		t.Error("notifications should be enabled")
	}
}

func TestLoadDefaults(t *testing.T) {
	content := `
discord:
  token: "bot-token"
  channel: "42"
server:
  name: "Some server"
`
	cfg, err := load(writeConfig(t, content), map[string]string{})
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}

	if cfg.Variant() != game.Tunguska {
		t.Errorf("Variant() = %v, want tunguska", cfg.Variant())
	}
	if cfg.Server.Platform != "pc" {
		t.Errorf("Platform = %q, want pc", cfg.Server.Platform)
	}
	if cfg.Server.Lang != "en-us" {
		t.Errorf("Lang = %q, want en-us", cfg.Server.Lang)
	}
	if cfg.Server.GUID != "none" || cfg.Server.OwnerID != "none" {
		t.Errorf("GUID/OwnerID = %q/%q, want none", cfg.Server.GUID, cfg.Server.OwnerID)
	}
	if cfg.Server.FavoritesMarker != "AMG" {
		t.Errorf("FavoritesMarker = %q, want AMG", cfg.Server.FavoritesMarker)
	}
	if cfg.Thresholds.MinPlayerAmount != 20 {
		t.Errorf("MinPlayerAmount = %d, want 20", cfg.Thresholds.MinPlayerAmount)
	}
	if cfg.Thresholds.PrevRequestCount != 5 {
		t.Errorf("PrevRequestCount = %d, want 5", cfg.Thresholds.PrevRequestCount)
	}
	if cfg.Thresholds.StartedAmount != 50 {
		t.Errorf("StartedAmount = %d, want 50", cfg.Thresholds.StartedAmount)
	}
	if cfg.Profile.AvatarInterval != time.Minute {
		t.Errorf("AvatarInterval = %v, want 1m", cfg.Profile.AvatarInterval)
	}
	if cfg.Profile.FailureBackoff != 5*time.Minute {
		t.Errorf("FailureBackoff = %v, want 5m", cfg.Profile.FailureBackoff)
	}
	if !cfg.BannerEnabled() {
		t.Error("BannerEnabled() should default to true")
	}
	if cfg.Profile.BannerPath != "./map.jpg" {
		t.Errorf("BannerPath = %q", cfg.Profile.BannerPath)
	}
	if cfg.Monitor.Interval != 60*time.Second {
		t.Errorf("Interval = %v, want 60s", cfg.Monitor.Interval)
	}
	if cfg.Monitor.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.Monitor.RequestTimeout)
	}
	if cfg.API.BaseURL != "https://api.gametools.network" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Health.ListenAddr != ":3030" {
		t.Errorf("Health.ListenAddr = %q, want :3030", cfg.Health.ListenAddr)
	}
	if cfg.Health.StaleAfter != 5*time.Minute {
		t.Errorf("Health.StaleAfter = %v, want 5m", cfg.Health.StaleAfter)
	}
	if cfg.Metrics.ListenAddr != ":9090" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
	if cfg.Storage.HistorySize != 500 {
		t.Errorf("HistorySize = %d, want 500", cfg.Storage.HistorySize)
	}
	if cfg.Tracing.ServiceName != "serverbot" {
		t.Errorf("ServiceName = %q", cfg.Tracing.ServiceName)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadEnvironmentOnly(t *testing.T) {
	environ := map[string]string{
		"token":                      "env-token",
		"channel":                    "987",
		"name":                       "`AMG` *Hardcore*",
		"ownerId":                    "owner-7",
		"game":                       "kingston",
		"lang":                       "EN-GB",
		"fakeplayers":                "yes",
		"serverbanner":               "no",
		"minplayeramount":            "15",
		"prevrequestcount":           "4",
		"startedamount":              "30",
		"mins_between_avatar_change": "3",
	}

	cfg, err := load("", environ)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}

	if cfg.Discord.Token != "env-token" || cfg.Discord.Channel != "987" {
		t.Errorf("Discord = %+v", cfg.Discord)
	}
	if cfg.Server.Name != `#AMG# \"Hardcore\"` {
		t.Errorf("Name = %q, want escaped", cfg.Server.Name)
	}
	if cfg.OwnerID() != "owner-7" {
		t.Errorf("OwnerID() = %q", cfg.OwnerID())
	}
	if cfg.Variant() != game.Kingston {
		t.Errorf("Variant() = %v, want kingston", cfg.Variant())
	}
	if cfg.Server.Lang != "en-gb" {
		t.Errorf("Lang = %q, want en-gb", cfg.Server.Lang)
	}
	if !cfg.Server.FakePlayers {
		t.Error("FakePlayers should be true")
	}
	if cfg.BannerEnabled() {
		t.Error("BannerEnabled() should be false")
	}
	if cfg.Thresholds.MinPlayerAmount != 15 || cfg.Thresholds.PrevRequestCount != 4 || cfg.Thresholds.StartedAmount != 30 {
		t.Errorf("Thresholds = %+v", cfg.Thresholds)
	}
	if cfg.Profile.AvatarInterval != 3*time.Minute {
		t.Errorf("AvatarInterval = %v, want 3m", cfg.Profile.AvatarInterval)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	content := `
discord:
  token: "file-token"
  channel: "1"
server:
  name: "file name"
  game: "bf4"
`
	cfg, err := load(writeConfig(t, content), map[string]string{
		"token": "env-token",
		"game":  "bfv",
	})
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.Discord.Token != "env-token" {
		t.Errorf("Token = %q, want env value", cfg.Discord.Token)
	}
	if cfg.Discord.Channel != "1" {
		t.Errorf("Channel = %q, want file value", cfg.Discord.Channel)
	}
	if cfg.Variant() != game.Casablanca {
		t.Errorf("Variant() = %v, want casablanca", cfg.Variant())
	}
}

func TestLoadInvalidEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
	}{
		{name: "non-numeric threshold", environ: map[string]string{"minplayeramount": "many"}},
		{name: "bad yes/no", environ: map[string]string{"fakeplayers": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			environ := map[string]string{"token": "t", "channel": "1", "name": "n"}
			for k, v := range tt.environ {
				environ[k] = v
			}
			if _, err := load("", environ); err == nil {
				t.Error("load() should fail")
			}
		})
	}
}

func TestNotificationsDisabled(t *testing.T) {
	cfg, err := load("", map[string]string{"token": "t", "channel": "40", "name": "n"})
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if !cfg.NotificationsDisabled() {
		t.Error("channel 40 should disable notifications")
	}
	if !cfg.Params().NotificationsDisabled {
		t.Error("Params() should carry the disabled switch")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{
			Discord: DiscordConfig{Token: "t", Channel: "123"},
			Server:  ServerConfig{Name: "n"},
		}
		c.setDefaults()
		return c
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid config", modify: func(c *Config) {}},
		{name: "missing token", modify: func(c *Config) { c.Discord.Token = "" }, wantErr: "discord.token"},
		{name: "missing channel", modify: func(c *Config) { c.Discord.Channel = "" }, wantErr: "discord.channel"},
		{name: "non-numeric channel", modify: func(c *Config) { c.Discord.Channel = "general" }, wantErr: "numeric"},
		{name: "missing name", modify: func(c *Config) { c.Server.Name = "" }, wantErr: "server.name"},
		{name: "unknown game", modify: func(c *Config) { c.Server.Game = "bf3" }, wantErr: "server.game"},
		{name: "invalid lang", modify: func(c *Config) { c.Server.Lang = "not a language" }, wantErr: "server.lang"},
		{name: "non-positive window", modify: func(c *Config) { c.Thresholds.PrevRequestCount = -1 }, wantErr: "prev_request_count"},
		{name: "mail without addr", modify: func(c *Config) {
			c.Mail = MailConfig{Enabled: true, From: "bot@example.com", To: []string{"ops@example.com"}}
		}, wantErr: "mail.addr"},
		{name: "mail without recipients", modify: func(c *Config) {
			c.Mail = MailConfig{Enabled: true, Addr: "relay:25", From: "bot@example.com"}
		}, wantErr: "mail.to"},
		{name: "unknown mail tls mode", modify: func(c *Config) {
			c.Mail = MailConfig{Enabled: true, Addr: "relay:465", From: "bot@example.com", To: []string{"ops@example.com"}, TLS: "ssl"}
		}, wantErr: "mail.tls"},
		{name: "implicit mail tls", modify: func(c *Config) {
			c.Mail = MailConfig{Enabled: true, Addr: "relay:465", From: "bot@example.com", To: []string{"ops@example.com"}, TLS: "tls"}
		}},
		{name: "bad health allow list", modify: func(c *Config) { c.Health.AllowedIPs = []string{"nope"} }, wantErr: "health.allowed_ips"},
		{name: "bad metrics allow list", modify: func(c *Config) { c.Metrics.AllowedIPs = []string{"10.0.0.0/99"} }, wantErr: "metrics.allowed_ips"},
		{name: "invalid log level", modify: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: "logging.level"},
		{name: "invalid log format", modify: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() should fail with %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should fail for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := load(writeConfig(t, "invalid: yaml: content:"), map[string]string{})
	if err == nil {
		t.Error("load() should fail for invalid YAML")
	}
}
