// Package game describes the supported game variants and how each one is
// served by the gametools.network API.
package game

import (
	"fmt"
	"strings"
)

// Variant is a closed set of monitored game titles
type Variant int

const (
	// Tunguska is Battlefield 1
	Tunguska Variant = iota + 1
	// Casablanca is Battlefield V
	Casablanca
	// Kingston is Battlefield 2042
	Kingston
	// BF4 is Battlefield 4
	BF4
)

// Parse maps a configured game name to a Variant. Both code names and API
// slugs are accepted.
func Parse(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "tunguska", "bf1":
		return Tunguska, nil
	case "casablanca", "bfv":
		return Casablanca, nil
	case "kingston", "bf2042":
		return Kingston, nil
	case "bf4":
		return BF4, nil
	}
	return 0, fmt.Errorf("unknown game %q (must be tunguska, casablanca, kingston or bf4)", name)
}

// Slug returns the path segment used by the upstream API and the
// gametools.network website
func (v Variant) Slug() string {
	switch v {
	case Tunguska:
		return "bf1"
	case Casablanca:
		return "bfv"
	case Kingston:
		return "bf2042"
	case BF4:
		return "bf4"
	}
	return "unknown"
}

func (v Variant) String() string {
	switch v {
	case Tunguska:
		return "tunguska"
	case Casablanca:
		return "casablanca"
	case Kingston:
		return "kingston"
	case BF4:
		return "bf4"
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// Legacy reports whether the server list lacks detail fields, so a second
// detailed-server lookup by game id is needed. Legacy variants also carry a
// favorites counter.
func (v Variant) Legacy() bool {
	return v == Tunguska || v == BF4
}

// SupportsOwnerID reports whether list entries carry an owner id usable for
// server selection
func (v Variant) SupportsOwnerID() bool {
	return !v.Legacy()
}

// SupportsFakePlayers reports whether the detail record has a bot-free
// player count
func (v Variant) SupportsFakePlayers() bool {
	return v == BF4
}

// Modern reports whether the variant uses the newer artwork style
func (v Variant) Modern() bool {
	return v == Kingston
}

// MarshalText implements encoding.TextMarshaler
func (v Variant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (v *Variant) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
