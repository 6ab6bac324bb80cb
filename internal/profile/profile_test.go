package profile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/serverbot/internal/status"
)

type fakePlatform struct {
	presences  []string
	edits      int
	lastBanner []byte
	presErr    error
	editErr    error
}

func (f *fakePlatform) SetPresence(ctx context.Context, text string) error {
	if f.presErr != nil {
		return f.presErr
	}
	f.presences = append(f.presences, text)
	return nil
}

func (f *fakePlatform) EditProfile(ctx context.Context, avatar, banner []byte) error {
	if f.editErr != nil {
		return f.editErr
	}
	f.edits++
	f.lastBanner = banner
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func writeFile(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("\xff\xd8\xff image"), 0644))
	return p
}

func newTestUpdater(p Platform, cfg Config, c *clock) *Updater {
	u := NewUpdater(p, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	u.now = c.now
	return u
}

var sample = status.ServerStatus{CurrentPlayers: 54, MaxPlayers: 64, Queue: 3, MapName: "Amiens"}

func TestApplyAvatarRateLimit(t *testing.T) {
	p := &fakePlatform{}
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	u := newTestUpdater(p, Config{AvatarInterval: 5 * time.Minute}, c)
	img := writeFile(t, "info_image.jpg")

	out := u.Apply(context.Background(), sample, img)
	require.NoError(t, out.Err)
	assert.True(t, out.PresenceSet)
	assert.True(t, out.AvatarUpdated)
	assert.Equal(t, c.t.Add(5*time.Minute), u.NextAvatar())

	c.advance(time.Minute)
	out = u.Apply(context.Background(), sample, img)
	require.NoError(t, out.Err)
	assert.True(t, out.PresenceSet)
	assert.True(t, out.AvatarSkipped)
	assert.False(t, out.AvatarUpdated)

	c.advance(4 * time.Minute)
	out = u.Apply(context.Background(), sample, img)
	assert.True(t, out.AvatarUpdated)

	assert.Equal(t, 2, p.edits)
	assert.Equal(t, []string{"54/64 [3] - Amiens", "54/64 [3] - Amiens", "54/64 [3] - Amiens"}, p.presences)
}

func TestApplyAvatarFailureBackoff(t *testing.T) {
	p := &fakePlatform{editErr: errors.New("rate limited")}
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	u := newTestUpdater(p, Config{AvatarInterval: time.Minute}, c)
	img := writeFile(t, "info_image.jpg")

	out := u.Apply(context.Background(), sample, img)
	require.ErrorIs(t, out.Err, ErrProfileUpdate)
	assert.True(t, out.PresenceSet)
	assert.False(t, out.AvatarUpdated)
	assert.Equal(t, c.t.Add(DefaultFailureBackoff), u.NextAvatar())

	p.editErr = nil
	c.advance(4 * time.Minute)
	out = u.Apply(context.Background(), sample, img)
	assert.True(t, out.AvatarSkipped, "failure backoff must hold for five minutes")

	c.advance(time.Minute)
	out = u.Apply(context.Background(), sample, img)
	assert.True(t, out.AvatarUpdated)
}

func TestApplyMissingImage(t *testing.T) {
	p := &fakePlatform{}
	c := &clock{t: time.Now()}
	u := newTestUpdater(p, Config{AvatarInterval: time.Minute}, c)

	out := u.Apply(context.Background(), sample, filepath.Join(t.TempDir(), "missing.jpg"))
	require.ErrorIs(t, out.Err, ErrProfileUpdate)
	assert.Zero(t, p.edits)
	assert.Equal(t, c.t.Add(DefaultFailureBackoff), u.NextAvatar())
}

func TestApplyBanner(t *testing.T) {
	img := writeFile(t, "info_image.jpg")

	t.Run("enabled", func(t *testing.T) {
		p := &fakePlatform{}
		u := newTestUpdater(p, Config{Banner: true, BannerPath: writeFile(t, "map.jpg")}, &clock{t: time.Now()})
		out := u.Apply(context.Background(), sample, img)
		require.NoError(t, out.Err)
		assert.NotNil(t, p.lastBanner)
	})

	t.Run("disabled", func(t *testing.T) {
		p := &fakePlatform{}
		u := newTestUpdater(p, Config{}, &clock{t: time.Now()})
		out := u.Apply(context.Background(), sample, img)
		require.NoError(t, out.Err)
		assert.Nil(t, p.lastBanner)
	})

	t.Run("missing banner file", func(t *testing.T) {
		p := &fakePlatform{}
		u := newTestUpdater(p, Config{Banner: true, BannerPath: "/nonexistent/map.jpg"}, &clock{t: time.Now()})
		out := u.Apply(context.Background(), sample, img)
		require.ErrorIs(t, out.Err, ErrProfileUpdate)
		assert.Zero(t, p.edits)
	})
}

func TestApplyPresenceFailure(t *testing.T) {
	p := &fakePlatform{presErr: errors.New("gateway closed")}
	u := newTestUpdater(p, Config{}, &clock{t: time.Now()})

	out := u.Apply(context.Background(), sample, writeFile(t, "info_image.jpg"))
	require.ErrorIs(t, out.Err, ErrProfileUpdate)
	assert.False(t, out.PresenceSet)
	assert.True(t, out.AvatarUpdated, "avatar still follows its own timer")
}
