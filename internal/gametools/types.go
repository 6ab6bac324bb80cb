package gametools

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/foxzi/serverbot/internal/status"
)

// battlelogPrefix replaces the [BB_PREFIX] placeholder in legacy image URLs
const battlelogPrefix = "https://eaassets-a.akamaihd.net/battlelog/battlebinary"

// listResponse is the envelope of the server search endpoint
type listResponse struct {
	errorEnvelope
	Servers []json.RawMessage `json:"servers"`
}

// errorEnvelope detects the "errors" member the API returns on failure
type errorEnvelope struct {
	Errors json.RawMessage `json:"errors"`
}

func (e errorEnvelope) failed() bool {
	return len(e.Errors) > 0 && !bytes.Equal(e.Errors, []byte("null"))
}

// MainInfo is one entry of the server search result
type MainInfo struct {
	CurrentPlayers int        `json:"playerAmount"`
	MaxPlayers     int        `json:"maxPlayers"`
	InQueue        *int       `json:"inQue"`
	SmallMode      string     `json:"smallMode"`
	CurrentMap     *string    `json:"currentMap"`
	Map            *string    `json:"map"`
	MapURL         *string    `json:"url"`
	MapImage       *string    `json:"mapImage"`
	Mode           *string    `json:"mode"`
	ServerName     string     `json:"prefix"`
	Region         *string    `json:"region"`
	GameID         flexString `json:"gameId"`
	OwnerID        flexString `json:"ownerId"`
	ServerID       flexString `json:"serverId"`
}

// DetailedInfo is the detailed-server record of legacy variants
type DetailedInfo struct {
	CurrentPlayers int        `json:"playerAmount"`
	MaxPlayers     int        `json:"maxPlayerAmount"`
	InQueue        *int       `json:"inQueue"`
	SmallMode      string     `json:"smallmode"`
	ServerName     string     `json:"prefix"`
	CurrentMap     string     `json:"currentMap"`
	MapImage       string     `json:"currentMapImage"`
	Mode           string     `json:"mode"`
	Region         string     `json:"region"`
	Favorites      flexString `json:"favorites"`
	NoBotsPlayers  *int       `json:"noBotsPlayerAmount"`
}

// toStatus normalizes a search entry
func (m MainInfo) toStatus() status.ServerStatus {
	return status.ServerStatus{
		CurrentPlayers: m.CurrentPlayers,
		MaxPlayers:     m.MaxPlayers,
		Queue:          deref(m.InQueue),
		SmallMode:      m.SmallMode,
		MapName:        firstOf(m.CurrentMap, m.Map),
		MapImageURL:    ExpandImageURL(firstOf(m.MapURL, m.MapImage)),
		MapMode:        firstOf(m.Mode),
		ServerName:     m.ServerName,
		Region:         firstOf(m.Region),
		Favorites:      "0",
	}
}

// toStatus normalizes a detailed record. fakePlayers substitutes the
// bot-free player count.
func (d DetailedInfo) toStatus(fakePlayers bool) status.ServerStatus {
	current := d.CurrentPlayers
	if fakePlayers {
		current = deref(d.NoBotsPlayers)
	}
	favorites := string(d.Favorites)
	if favorites == "" {
		favorites = "0"
	}
	return status.ServerStatus{
		CurrentPlayers: current,
		MaxPlayers:     d.MaxPlayers,
		Queue:          deref(d.InQueue),
		SmallMode:      d.SmallMode,
		MapName:        d.CurrentMap,
		MapImageURL:    ExpandImageURL(d.MapImage),
		MapMode:        d.Mode,
		ServerName:     d.ServerName,
		Region:         d.Region,
		Favorites:      favorites,
	}
}

// flexString accepts both JSON strings and numbers
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func firstOf(values ...*string) string {
	for _, v := range values {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

// ExpandImageURL replaces the battlelog CDN placeholder in image URLs
func ExpandImageURL(u string) string {
	return strings.ReplaceAll(u, "[BB_PREFIX]", battlelogPrefix)
}
