// Package monitor runs the poll loop: fetch the server status, render its
// artwork, update the bot profile, decide notifications and deliver them.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/foxzi/serverbot/internal/health"
	"github.com/foxzi/serverbot/internal/metrics"
	"github.com/foxzi/serverbot/internal/notify"
	"github.com/foxzi/serverbot/internal/profile"
	"github.com/foxzi/serverbot/internal/render"
	"github.com/foxzi/serverbot/internal/status"
	"github.com/foxzi/serverbot/internal/store"
	"github.com/foxzi/serverbot/internal/tracing"
	"github.com/foxzi/serverbot/internal/trend"
)

// Cycle stages, used in logs, spans, metrics and history
const (
	StageFetching        = "fetching"
	StageRendering       = "rendering"
	StageUpdatingProfile = "updating_profile"
	StageDeciding        = "deciding"
	StageDone            = "done"
)

// Fetcher returns the current server status
type Fetcher interface {
	Fetch(ctx context.Context, prevSessionID string) (status.ServerStatus, error)
}

// Renderer writes the annotated images for a status
type Renderer interface {
	Render(ctx context.Context, st status.ServerStatus) (render.Images, error)
}

// ProfileUpdater mirrors the status onto the bot profile
type ProfileUpdater interface {
	Apply(ctx context.Context, st status.ServerStatus, imagePath string) profile.Outcome
	SetPresence(ctx context.Context, text string) error
}

// Notifier delivers one composed message
type Notifier interface {
	Deliver(ctx context.Context, msg notify.Message) error
}

// Store records cycles and the committed state
type Store interface {
	AppendCycle(ctx context.Context, rec store.CycleRecord, maxRecords int) error
	SaveState(ctx context.Context, st trend.State) error
}

// Config contains monitor settings
type Config struct {
	Interval       time.Duration
	RequestTimeout time.Duration
	// FetchTimeout caps the whole fetch stage, retries included
	// (default: 4 x RequestTimeout)
	FetchTimeout time.Duration
	// DeliveryTimeout bounds each notification on its own
	// (default: RequestTimeout)
	DeliveryTimeout time.Duration
	Params         trend.Params
	HistorySize    int
	PersistState   bool
}

// Deps are the collaborators of one monitor
type Deps struct {
	Fetcher  Fetcher
	Renderer Renderer
	Profile  ProfileUpdater
	Notifier Notifier
	Composer notify.Composer
	Liveness *health.Liveness
	// Store is optional
	Store Store
}

// Result is the outcome of one cycle. When Err is set, State is the
// unchanged previous state.
type Result struct {
	CycleID       string
	State         trend.State
	Err           error
	Stage         string
	Status        status.ServerStatus
	Notifications []trend.Notification
	Delivered     int
}

// Monitor owns the state carried between cycles
type Monitor struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu    sync.Mutex
	state trend.State
}

// New creates a monitor starting from the zero state
func New(deps Deps, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 4 * cfg.RequestTimeout
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = cfg.RequestTimeout
	}
	if deps.Liveness == nil {
		deps.Liveness = health.NewLiveness(time.Now())
	}

	return &Monitor{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		tracer: tracing.Tracer(),
		now:    time.Now,
	}
}

// SetState replaces the carried state, e.g. with one restored from storage
func (m *Monitor) SetState(st trend.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st.Clone()
}

// State returns a copy of the committed state
func (m *Monitor) State() trend.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Run polls until ctx is cancelled. The next cycle starts Interval after the
// previous one finished, so cycles never overlap.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("starting monitor", "interval", m.cfg.Interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return nil
		case <-timer.C:
		}

		m.Step(ctx)
		timer.Reset(m.cfg.Interval)
	}
}

// Step runs one cycle against the committed state, commits the result on
// success and records the cycle
func (m *Monitor) Step(ctx context.Context) Result {
	started := m.now()
	res := m.RunCycle(ctx, m.State())
	finished := m.now()

	outcome := "success"
	if res.Err != nil {
		outcome = "error"
	} else {
		m.SetState(res.State)
	}

	m.deps.Liveness.Stamp(finished)
	metrics.ObserveCycle(outcome, res.Stage, finished.Sub(started), finished)

	logger := m.logger.With("cycle_id", res.CycleID)
	if res.Err != nil {
		logger.Error("cycle failed, state rolled back", "stage", res.Stage, "error", res.Err)
	} else {
		metrics.SetServer(res.Status.CurrentPlayers, res.Status.MaxPlayers, res.Status.Queue, len(res.State.RecentCounts))
		logger.Info("cycle finished",
			"players", res.Status.CurrentPlayers,
			"max_players", res.Status.MaxPlayers,
			"queue", res.Status.Queue,
			"map", res.Status.MapName,
			"notifications", len(res.Notifications),
			"duration", finished.Sub(started),
		)
	}

	m.record(ctx, res, started, finished, logger)
	return res
}

// RunCycle executes fetch, render, profile and decide for prev without
// touching the committed state
func (m *Monitor) RunCycle(ctx context.Context, prev trend.State) Result {
	res := Result{
		CycleID: uuid.NewString(),
		State:   prev,
	}
	logger := m.logger.With("cycle_id", res.CycleID)

	ctx, span := m.tracer.Start(ctx, "monitor.cycle", trace.WithAttributes(
		attribute.String("cycle_id", res.CycleID),
	))
	defer span.End()

	fail := func(stage string, err error) Result {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		res.Stage = stage
		res.Err = err
		res.State = prev
		return res
	}

	// Fetch
	var st status.ServerStatus
	err := m.stage(ctx, StageFetching, m.cfg.FetchTimeout, func(ctx context.Context) error {
		var err error
		st, err = m.deps.Fetcher.Fetch(ctx, prev.SessionID)
		return err
	})
	if err != nil {
		m.showNotFound(ctx, logger)
		return fail(StageFetching, err)
	}
	res.Status = st
	logger.Debug("status fetched", "server", st.ServerName, "players", st.CurrentPlayers, "session_id", st.SessionID)

	// Render
	var images render.Images
	err = m.stage(ctx, StageRendering, m.cfg.RequestTimeout, func(ctx context.Context) error {
		var err error
		images, err = m.deps.Renderer.Render(ctx, st)
		return err
	})
	if err != nil {
		return fail(StageRendering, err)
	}

	// Profile
	m.stage(ctx, StageUpdatingProfile, m.cfg.RequestTimeout, func(ctx context.Context) error {
		out := m.deps.Profile.Apply(ctx, st, images.Selected)
		if out.Err != nil {
			logger.Warn("profile update failed", "error", out.Err)
		}
		if out.AvatarSkipped {
			logger.Debug("avatar change not due yet")
		}
		return out.Err
	})

	// Decide
	var next trend.State
	var notes []trend.Notification
	m.stage(ctx, StageDeciding, m.cfg.RequestTimeout, func(ctx context.Context) error {
		next, notes = trend.Decide(st, prev, m.cfg.Params)
		return nil
	})

	// Deliver; every message gets its own deadline from the cycle context
	for _, n := range notes {
		msg := m.deps.Composer.Compose(n, st, images.Selected)
		if err := m.deliver(ctx, msg); err != nil {
			logger.Warn("notification not delivered", "kind", n.Kind, "error", err)
			continue
		}
		res.Delivered++
	}

	span.SetAttributes(
		attribute.Int("players", st.CurrentPlayers),
		attribute.Int("notifications", len(notes)),
	)

	res.State = next
	res.Notifications = notes
	res.Stage = StageDone
	return res
}

// stage runs fn in its own span under timeout
func (m *Monitor) stage(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, span := m.tracer.Start(ctx, "monitor."+name)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (m *Monitor) deliver(ctx context.Context, msg notify.Message) error {
	ctx, span := m.tracer.Start(ctx, "monitor.deliver", trace.WithAttributes(
		attribute.String("kind", string(msg.Kind)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.DeliveryTimeout)
	defer cancel()

	err := m.deps.Notifier.Deliver(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// showNotFound sets the fallback presence; failures are only logged
func (m *Monitor) showNotFound(ctx context.Context, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	if err := m.deps.Profile.SetPresence(ctx, status.NotFoundPresence); err != nil {
		logger.Warn("failed to set fallback presence", "error", err)
	}
}

func (m *Monitor) record(ctx context.Context, res Result, started, finished time.Time, logger *slog.Logger) {
	if m.deps.Store == nil {
		return
	}

	rec := store.CycleRecord{
		ID:         res.CycleID,
		StartedAt:  started,
		FinishedAt: finished,
		Result:     "success",
		Stage:      res.Stage,
		Players:    res.Status.CurrentPlayers,
		MaxPlayers: res.Status.MaxPlayers,
		Queue:      res.Status.Queue,
		Map:        res.Status.MapName,
		SessionID:  res.State.SessionID,
	}
	if res.Err != nil {
		rec.Result = "error"
		rec.Error = res.Err.Error()
	}
	for _, n := range res.Notifications {
		rec.Notifications = append(rec.Notifications, string(n.Kind))
	}

	if err := m.deps.Store.AppendCycle(ctx, rec, m.cfg.HistorySize); err != nil {
		logger.Warn("failed to record cycle", "error", err)
	}

	if res.Err == nil && m.cfg.PersistState {
		if err := m.deps.Store.SaveState(ctx, res.State); err != nil {
			logger.Warn("failed to persist state", "error", err)
		}
	}
}
