// Package health exposes how long ago the monitor last completed a cycle.
package health

import (
	"sync/atomic"
	"time"
)

// Liveness holds the time of the last finished cycle in unix minutes. It is
// written by the monitor loop and read by the HTTP handler.
type Liveness struct {
	minutes atomic.Int64
}

// NewLiveness creates a liveness stamp set to now, so the endpoint reports
// healthy while the first cycle runs.
func NewLiveness(now time.Time) *Liveness {
	l := &Liveness{}
	l.Stamp(now)
	return l
}

// Stamp records a finished cycle
func (l *Liveness) Stamp(now time.Time) {
	l.minutes.Store(now.Unix() / 60)
}

// MinutesSince returns whole minutes elapsed since the last stamp
func (l *Liveness) MinutesSince(now time.Time) int64 {
	return now.Unix()/60 - l.minutes.Load()
}
