// Package status holds the normalized server snapshot produced by one fetch.
package status

import (
	"fmt"
	"strings"
)

// NotFoundPresence is shown while the server cannot be fetched
const NotFoundPresence = "¯\\_(ツ)_/¯ server not found"

// ServerStatus is an immutable snapshot of the monitored server
type ServerStatus struct {
	CurrentPlayers int
	MaxPlayers     int
	Queue          int
	SmallMode      string
	MapName        string
	MapImageURL    string
	MapMode        string
	ServerName     string
	Region         string
	Favorites      string

	// SessionID is the upstream game id. It is empty when it could not be
	// resolved and no previous id was known.
	SessionID string
}

// Summary returns the presence line, e.g. "54/64 [3] - Amiens".
// The queue part is omitted when nobody is queued.
func (s ServerStatus) Summary() string {
	if s.Queue == 0 {
		return fmt.Sprintf("%d/%d - %s", s.CurrentPlayers, s.MaxPlayers, s.MapName)
	}
	return fmt.Sprintf("%d/%d [%d] - %s", s.CurrentPlayers, s.MaxPlayers, s.Queue, s.MapName)
}

// HasMarker reports whether the display name contains marker.
// An empty marker never matches.
func (s ServerStatus) HasMarker(marker string) bool {
	return marker != "" && strings.Contains(s.ServerName, marker)
}
