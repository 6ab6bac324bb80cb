// Package trend decides, from the rolling player-count history, which
// notifications fire for the current poll cycle.
package trend

import (
	"slices"

	"github.com/foxzi/serverbot/internal/status"
)

// EmptyThreshold is the player count at or below which the server counts as
// empty
const EmptyThreshold = 5

// Kind identifies a notification rule
type Kind string

const (
	// KindLowPlayers fires when the count fell by at least the minimum within the window
	KindLowPlayers Kind = "low_players"
	// KindServerUp fires once the server fills up again after being empty
	KindServerUp Kind = "server_up"
	// KindPreRoundOver fires when the whole window was below the minimum and
	// the current count reaches it
	KindPreRoundOver Kind = "preround_over"
)

// Notification is a decided, not yet delivered, channel message
type Notification struct {
	Kind  Kind
	Title string
	Lead  string
}

// State is carried from one cycle to the next
type State struct {
	SessionID       string `json:"session_id"`
	SinceEmpty      bool   `json:"since_empty"`
	RecentCounts    []int  `json:"recent_counts"`
	CyclesSinceDrop int    `json:"cycles_since_drop"`
}

// Clone returns a deep copy of the state
func (s State) Clone() State {
	s.RecentCounts = slices.Clone(s.RecentCounts)
	return s
}

// Params holds the static thresholds the rules are evaluated against
type Params struct {
	// MinPlayerAmount is the drop size and the "round is on" threshold
	MinPlayerAmount int
	// PrevRequestCount sets the window (2x) and the drop cooldown (4x)
	PrevRequestCount int
	// StartedAmount is the player count that ends the since-empty phase
	StartedAmount int
	// FavoritesMarker gates the server-up notification on the display name
	FavoritesMarker string
	// NotificationsDisabled skips every rule and only carries the session id
	NotificationsDisabled bool
}

// WindowSize is the maximum number of samples kept in RecentCounts
func (p Params) WindowSize() int {
	return 2 * p.PrevRequestCount
}

// Cooldown is the number of cycles that must pass between drop alerts
func (p Params) Cooldown() int {
	return 4 * p.PrevRequestCount
}

// Decide evaluates the rules for one cycle. It never mutates prev; the
// returned state shares no memory with it.
func Decide(st status.ServerStatus, prev State, p Params) (State, []Notification) {
	next := prev.Clone()
	next.SessionID = st.SessionID

	if p.NotificationsDisabled {
		return next, nil
	}

	var out []Notification
	current := st.CurrentPlayers

	// Rules are evaluated against the window as it was before this sample.
	if dropped(prev.RecentCounts, current, p.MinPlayerAmount) && prev.CyclesSinceDrop > p.Cooldown() {
		next.CyclesSinceDrop = 0
		out = append(out, Notification{
			Kind:  KindLowPlayers,
			Title: "I'm low on players! Join me now!",
			Lead:  "Perfect time to join without queue!",
		})
	} else {
		next.CyclesSinceDrop = prev.CyclesSinceDrop + 1
	}

	if current <= EmptyThreshold {
		next.SinceEmpty = true
	}

	if next.SinceEmpty && current >= p.StartedAmount {
		if st.HasMarker(p.FavoritesMarker) {
			out = append(out, Notification{
				Kind:  KindServerUp,
				Title: "I'm up and running!",
				Lead:  "Feeling good :slight_smile:",
			})
		}
		next.SinceEmpty = false
	}

	window := p.WindowSize()
	full := len(prev.RecentCounts) >= window
	if current >= p.MinPlayerAmount && full && len(prev.RecentCounts) > 0 &&
		slices.Max(prev.RecentCounts) < p.MinPlayerAmount {
		out = append(out, Notification{
			Kind:  KindPreRoundOver,
			Title: "Pre-round is over!",
			Lead:  "No more waiting. If you join now you can instantly play.",
		})
	}

	next.RecentCounts = push(next.RecentCounts, current, window)

	return next, out
}

// dropped reports whether any earlier sample exceeds current by at least threshold
func dropped(counts []int, current, threshold int) bool {
	for _, c := range counts {
		if c-current >= threshold {
			return true
		}
	}
	return false
}

// push evicts the oldest samples until there is room, then appends v
func push(counts []int, v, window int) []int {
	if window <= 0 {
		return counts[:0]
	}
	for len(counts) >= window {
		counts = counts[1:]
	}
	return append(counts, v)
}
