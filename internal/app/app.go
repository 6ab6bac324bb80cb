package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"github.com/foxzi/serverbot/internal/config"
	"github.com/foxzi/serverbot/internal/discord"
	"github.com/foxzi/serverbot/internal/gametools"
	"github.com/foxzi/serverbot/internal/health"
	"github.com/foxzi/serverbot/internal/metrics"
	"github.com/foxzi/serverbot/internal/monitor"
	"github.com/foxzi/serverbot/internal/notify"
	"github.com/foxzi/serverbot/internal/profile"
	"github.com/foxzi/serverbot/internal/render"
	"github.com/foxzi/serverbot/internal/store"
	"github.com/foxzi/serverbot/internal/tracing"
)

// App is the main application
type App struct {
	config          *config.Config
	logger          *slog.Logger
	store           *store.BoltStore
	cleaner         *store.Cleaner
	discord         *discord.Client
	monitor         *monitor.Monitor
	liveness        *health.Liveness
	healthServer    *health.Server
	metrics         *metrics.Metrics
	metricsServer   *metrics.Server
	collector       *metrics.Collector
	shutdownTracing func(context.Context) error
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := SetupLogger(cfg.Logging)

	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup tracing: %w", err)
	}
	if cfg.Tracing.Endpoint != "" {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	a := &App{
		config:          cfg,
		logger:          logger,
		liveness:        health.NewLiveness(time.Now()),
		shutdownTracing: shutdownTracing,
	}

	// Metrics are always recorded; the HTTP endpoint is optional
	a.metrics = metrics.New()
	metrics.SetGlobal(a.metrics)

	if cfg.Storage.Path != "" {
		a.store, err = store.Open(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		a.cleaner = store.NewCleaner(a.store, store.CleanerConfig{
			MaxAge:   cfg.Storage.HistoryMaxAge,
			Interval: cfg.Storage.CleanupInterval,
		}, logger.With("component", "history_cleaner"))
		logger.Info("storage enabled", "path", cfg.Storage.Path)
	}

	if cfg.Metrics.Enabled {
		a.collector, err = metrics.NewCollector(a.boltDB(), a.metrics, cfg.Metrics.FlushInterval)
		if err != nil {
			a.closeStore()
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.metricsServer = metrics.NewServer(
			a.metrics,
			cfg.Metrics.ListenAddr,
			cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs,
			logger.With("component", "metrics"),
		)
	}

	a.discord, err = discord.New(cfg.Discord.Token, logger.With("component", "discord"))
	if err != nil {
		a.closeStore()
		return nil, err
	}

	renderer, err := render.New(render.Config{
		Dir:             cfg.Render.Dir,
		Variant:         cfg.Variant(),
		FavoritesMarker: cfg.Server.FavoritesMarker,
		Timeout:         cfg.Monitor.RequestTimeout,
	}, logger.With("component", "renderer"))
	if err != nil {
		a.closeStore()
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}

	updater := profile.NewUpdater(a.discord, profile.Config{
		AvatarInterval: cfg.Profile.AvatarInterval,
		FailureBackoff: cfg.Profile.FailureBackoff,
		Banner:         cfg.BannerEnabled(),
		BannerPath:     cfg.Profile.BannerPath,
	}, logger.With("component", "profile"))

	sinks := []notify.Sink{notify.NewDiscordSink(a.discord, cfg.Discord.Channel)}
	if cfg.Mail.Enabled {
		sinks = append(sinks, notify.NewMailSender(notify.MailConfig{
			Addr:     cfg.Mail.Addr,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			To:       cfg.Mail.To,
			Hostname: cfg.Mail.Hostname,
			Timeout:  cfg.Mail.Timeout,
			TLS:      cfg.Mail.TLS,
		}, logger.With("component", "mail")))
		logger.Info("mail mirror enabled", "relay", cfg.Mail.Addr, "recipients", len(cfg.Mail.To))
	}

	params := cfg.Params()
	fetcher := NewFetcher(cfg, logger)
	dispatcher := notify.NewDispatcher(cfg.Monitor.RequestTimeout, logger.With("component", "notify"), sinks...)
	deps := monitor.Deps{
		Fetcher:  fetcher,
		Renderer: renderer,
		Profile:  updater,
		Notifier: dispatcher,
		Composer: notify.Composer{
			Variant:         cfg.Variant(),
			Platform:        cfg.Server.Platform,
			MinPlayerAmount: params.MinPlayerAmount,
			WindowSize:      params.WindowSize(),
			FavoritesMarker: params.FavoritesMarker,
		},
		Liveness: a.liveness,
	}
	if a.store != nil {
		deps.Store = a.store
	}

	a.monitor = monitor.New(deps, monitor.Config{
		Interval:        cfg.Monitor.Interval,
		RequestTimeout:  cfg.Monitor.RequestTimeout,
		FetchTimeout:    fetcher.Budget(),
		DeliveryTimeout: dispatcher.Timeout(),
		Params:          params,
		HistorySize:     cfg.Storage.HistorySize,
		PersistState:    a.store != nil,
	}, logger.With("component", "monitor"))

	if err := a.restoreState(context.Background()); err != nil {
		a.closeStore()
		return nil, err
	}

	a.healthServer = health.NewServer(a.liveness, health.Config{
		ListenAddr: cfg.Health.ListenAddr,
		StaleAfter: cfg.Health.StaleAfter,
		AllowedIPs: cfg.Health.AllowedIPs,
		TrustProxy: cfg.Health.TrustProxy,
	}, logger.With("component", "health"))

	if params.NotificationsDisabled {
		logger.Info("notifications disabled", "channel", cfg.Discord.Channel)
	}

	return a, nil
}

// NewFetcher creates the status API client for cfg
func NewFetcher(cfg *config.Config, logger *slog.Logger) *gametools.Client {
	return gametools.NewClient(gametools.Config{
		BaseURL:     cfg.API.BaseURL,
		Variant:     cfg.Variant(),
		ServerName:  cfg.Server.Name,
		Lang:        cfg.Server.Lang,
		OwnerID:     cfg.OwnerID(),
		ServerID:    cfg.ServerGUID(),
		FakePlayers: cfg.Server.FakePlayers,
		Timeout:     cfg.Monitor.RequestTimeout,
	}, logger.With("component", "gametools"))
}

// restoreState resumes the last committed trend state when enabled
func (a *App) restoreState(ctx context.Context) error {
	if a.store == nil || !a.config.Storage.RestoreState {
		return nil
	}

	st, savedAt, ok, err := a.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}
	if !ok {
		a.logger.Info("no saved state, starting fresh")
		return nil
	}

	// The state may have been saved under a larger prev_request_count
	if window := a.config.Params().WindowSize(); len(st.RecentCounts) > window {
		st.RecentCounts = st.RecentCounts[len(st.RecentCounts)-window:]
	}

	a.monitor.SetState(st)
	a.logger.Info("state restored",
		"saved_at", savedAt,
		"session_id", st.SessionID,
		"samples", len(st.RecentCounts),
	)
	return nil
}

// Run starts all components and blocks until a shutdown signal or a fatal error
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.discord.Open(); err != nil {
		a.Shutdown(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.collector != nil {
		a.collector.Start(gctx)
	}
	if a.cleaner != nil {
		a.cleaner.Start(gctx)
	}

	g.Go(func() error {
		return a.monitor.Run(gctx)
	})

	g.Go(func() error {
		if err := a.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	if a.metricsServer != nil {
		g.Go(func() error {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	// Servers only return once shut down
	g.Go(func() error {
		<-gctx.Done()
		a.shutdownServers()
		return nil
	})

	err := g.Wait()
	if err != nil {
		a.logger.Error("server error", "error", err)
	} else {
		a.logger.Info("shutdown signal received")
	}

	if shutdownErr := a.Shutdown(context.Background()); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}

func (a *App) shutdownServers() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.healthServer.Shutdown(ctx); err != nil {
		a.logger.Error("health server shutdown error", "error", err)
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}
}

// Shutdown releases everything Run started
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.discord.Close(); err != nil {
		a.logger.Error("discord close error", "error", err)
	}

	if a.cleaner != nil {
		a.cleaner.Stop()
	}

	// Persists counters, so it runs before the store closes
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	a.closeStore()

	if err := a.shutdownTracing(shutdownCtx); err != nil {
		a.logger.Error("tracing shutdown error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) boltDB() *bolt.DB {
	if a.store == nil {
		return nil
	}
	return a.store.DB()
}

func (a *App) closeStore() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}
	a.store = nil
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
