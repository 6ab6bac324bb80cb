package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/serverbot/internal/config"
	"github.com/foxzi/serverbot/internal/store"
	"github.com/foxzi/serverbot/internal/trend"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Discord: config.DiscordConfig{Token: "token", Channel: "123"},
		Server: config.ServerConfig{
			Name:            "AMG",
			Game:            "bf1",
			Lang:            "en-us",
			Platform:        "pc",
			FavoritesMarker: "AMG",
		},
		Thresholds: config.ThresholdsConfig{
			MinPlayerAmount:  20,
			PrevRequestCount: 5,
			StartedAmount:    50,
		},
		Render:  config.RenderConfig{Dir: filepath.Join(dir, "images")},
		Storage: config.StorageConfig{Path: filepath.Join(dir, "serverbot.db")},
		Health:  config.HealthConfig{ListenAddr: "127.0.0.1:0"},
		Logging: config.LoggingConfig{Level: "error", Format: "text"},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewWithoutSavedState(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg, "test")
	require.NoError(t, err)
	t.Cleanup(func() { a.Shutdown(context.Background()) })

	assert.Equal(t, trend.State{}, a.monitor.State())
	assert.NotNil(t, a.store)
	assert.Nil(t, a.metricsServer, "metrics endpoint is opt-in")
}

func TestNewRestoresState(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.RestoreState = true
	cfg.Thresholds.PrevRequestCount = 2

	saved := trend.State{
		SessionID:       "7001",
		SinceEmpty:      true,
		RecentCounts:    []int{1, 2, 3, 4, 5, 6},
		CyclesSinceDrop: 3,
	}
	s, err := store.Open(cfg.Storage.Path)
	require.NoError(t, err)
	require.NoError(t, s.SaveState(context.Background(), saved))
	require.NoError(t, s.Close())

	a, err := New(cfg, "test")
	require.NoError(t, err)
	t.Cleanup(func() { a.Shutdown(context.Background()) })

	got := a.monitor.State()
	assert.Equal(t, "7001", got.SessionID)
	assert.True(t, got.SinceEmpty)
	assert.Equal(t, 3, got.CyclesSinceDrop)
	assert.Equal(t, []int{3, 4, 5, 6}, got.RecentCounts, "window is trimmed to the configured size")
}

func TestNewIgnoresSavedStateWhenDisabled(t *testing.T) {
	cfg := testConfig(t)

	s, err := store.Open(cfg.Storage.Path)
	require.NoError(t, err)
	require.NoError(t, s.SaveState(context.Background(), trend.State{SessionID: "old"}))
	require.NoError(t, s.Close())

	a, err := New(cfg, "test")
	require.NoError(t, err)
	t.Cleanup(func() { a.Shutdown(context.Background()) })

	assert.Empty(t, a.monitor.State().SessionID)
}

func TestNewWithMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics = config.MetricsConfig{Enabled: true, ListenAddr: "127.0.0.1:0", Path: "/metrics"}

	a, err := New(cfg, "test")
	require.NoError(t, err)
	t.Cleanup(func() { a.Shutdown(context.Background()) })

	assert.NotNil(t, a.metricsServer)
	assert.NotNil(t, a.collector)
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{level: "debug", want: slog.LevelDebug},
		{level: "info", want: slog.LevelInfo},
		{level: "warn", want: slog.LevelWarn},
		{level: "error", want: slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := SetupLogger(config.LoggingConfig{Level: tt.level, Format: "json"})
			assert.True(t, logger.Enabled(context.Background(), tt.want))
			assert.False(t, logger.Enabled(context.Background(), tt.want-1))
		})
	}
}
