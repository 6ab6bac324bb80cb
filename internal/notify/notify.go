// Package notify turns decided notifications into channel messages and
// delivers them to the configured sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/foxzi/serverbot/internal/game"
	"github.com/foxzi/serverbot/internal/metrics"
	"github.com/foxzi/serverbot/internal/status"
	"github.com/foxzi/serverbot/internal/trend"
)

// ErrDelivery is returned when a sink could not deliver a message
var ErrDelivery = errors.New("notification delivery failed")

// Message is a composed notification ready for delivery
type Message struct {
	Kind        trend.Kind
	Title       string
	Description string
	URL         string
	Footer      string

	// ImagePath is the rendered image attached to the message
	ImagePath string
	// LargeImage shows the attachment as the main image instead of a thumbnail
	LargeImage bool
}

// ImageName returns the attachment file name
func (m Message) ImageName() string {
	return filepath.Base(m.ImagePath)
}

// Composer builds messages from notifications
type Composer struct {
	Variant         game.Variant
	Platform        string
	MinPlayerAmount int
	WindowSize      int
	FavoritesMarker string
}

// Compose builds the message for n using the current status and the selected image
func (c Composer) Compose(n trend.Notification, st status.ServerStatus, imagePath string) Message {
	return Message{
		Kind:        n.Kind,
		Title:       n.Title,
		Description: n.Lead + "\n" + st.Summary(),
		URL:         fmt.Sprintf("https://gametools.network/servers/%s/gameid/%s/%s", c.Variant.Slug(), st.SessionID, c.Platform),
		Footer: fmt.Sprintf("player threshold set to %d players, checks difference of previous %d minutes and in-between",
			c.MinPlayerAmount, c.WindowSize),
		ImagePath:  imagePath,
		LargeImage: st.HasMarker(c.FavoritesMarker),
	}
}

// Sink delivers messages to one destination
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// Dispatcher fans a message out to every sink. A failing sink does not stop
// the others.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher over sinks. Each sink gets timeout on
// its own; zero leaves the caller's deadline alone.
func NewDispatcher(timeout time.Duration, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:   sinks,
		timeout: timeout,
		logger:  logger,
	}
}

// Timeout is the longest one Deliver may take when every sink times out
func (d *Dispatcher) Timeout() time.Duration {
	return time.Duration(len(d.sinks)) * d.timeout
}

// Deliver sends msg to all sinks and returns the joined failures
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range d.sinks {
		if err := d.deliverOne(ctx, s, msg); err != nil {
			metrics.IncNotifications(string(msg.Kind), s.Name(), "error")
			d.logger.Warn("notification delivery failed",
				"sink", s.Name(),
				"kind", msg.Kind,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrDelivery, s.Name(), err))
			continue
		}
		metrics.IncNotifications(string(msg.Kind), s.Name(), "success")
		d.logger.Info("notification delivered", "sink", s.Name(), "kind", msg.Kind)
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) deliverOne(ctx context.Context, s Sink, msg Message) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return s.Deliver(ctx, msg)
}
