// Package profile keeps the bot's presence and profile images in sync with
// the monitored server.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/foxzi/serverbot/internal/metrics"
	"github.com/foxzi/serverbot/internal/status"
)

// ErrProfileUpdate is returned when presence or profile images could not be changed
var ErrProfileUpdate = errors.New("profile update failed")

// DefaultFailureBackoff delays the next avatar attempt after a failure
const DefaultFailureBackoff = 5 * time.Minute

// Platform is the chat platform the profile lives on
type Platform interface {
	SetPresence(ctx context.Context, text string) error
	// EditProfile replaces the avatar, and the banner when banner is not nil
	EditProfile(ctx context.Context, avatar, banner []byte) error
}

// Config contains profile update settings
type Config struct {
	AvatarInterval time.Duration
	FailureBackoff time.Duration
	Banner         bool
	BannerPath     string
}

// Outcome reports what Apply changed
type Outcome struct {
	PresenceSet   bool
	AvatarUpdated bool
	AvatarSkipped bool
	Err           error
}

// Updater applies one status to the bot profile per cycle. Avatar changes are
// rate limited; the presence is set every time.
type Updater struct {
	platform Platform
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	// nextAvatar is the earliest time the avatar may change again.
	// The zero value lets the first cycle update it.
	nextAvatar time.Time
}

// NewUpdater creates a profile updater
func NewUpdater(p Platform, cfg Config, logger *slog.Logger) *Updater {
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = DefaultFailureBackoff
	}
	return &Updater{
		platform: p,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetPresence sets the presence text without touching the avatar
func (u *Updater) SetPresence(ctx context.Context, text string) error {
	if err := u.platform.SetPresence(ctx, text); err != nil {
		metrics.IncProfileUpdates("presence", "error")
		return fmt.Errorf("%w: presence: %v", ErrProfileUpdate, err)
	}
	metrics.IncProfileUpdates("presence", "success")
	return nil
}

// Apply sets the presence from st and, when the timer allows, uploads
// imagePath as the new avatar
func (u *Updater) Apply(ctx context.Context, st status.ServerStatus, imagePath string) Outcome {
	var out Outcome
	var errs []error

	if err := u.SetPresence(ctx, st.Summary()); err != nil {
		errs = append(errs, err)
	} else {
		out.PresenceSet = true
	}

	now := u.now()
	if now.Before(u.nextAvatar) {
		out.AvatarSkipped = true
		out.Err = errors.Join(errs...)
		return out
	}

	if err := u.updateAvatar(ctx, imagePath); err != nil {
		u.nextAvatar = now.Add(u.cfg.FailureBackoff)
		metrics.IncProfileUpdates("avatar", "error")
		u.logger.Warn("avatar update failed", "error", err, "retry_at", u.nextAvatar)
		errs = append(errs, fmt.Errorf("%w: avatar: %v", ErrProfileUpdate, err))
	} else {
		u.nextAvatar = now.Add(u.cfg.AvatarInterval)
		out.AvatarUpdated = true
		metrics.IncProfileUpdates("avatar", "success")
		u.logger.Debug("avatar updated", "next_at", u.nextAvatar)
	}

	out.Err = errors.Join(errs...)
	return out
}

// NextAvatar returns the earliest time of the next avatar change
func (u *Updater) NextAvatar() time.Time {
	return u.nextAvatar
}

func (u *Updater) updateAvatar(ctx context.Context, imagePath string) error {
	avatar, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("read avatar: %w", err)
	}

	var banner []byte
	if u.cfg.Banner {
		banner, err = os.ReadFile(u.cfg.BannerPath)
		if err != nil {
			return fmt.Errorf("read banner: %w", err)
		}
	}

	return u.platform.EditProfile(ctx, avatar, banner)
}
