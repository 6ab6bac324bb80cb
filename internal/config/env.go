package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var errYesNo = errors.New("expected yes or no")

// yesNo parses the historic yes/no switches
type yesNo bool

// UnmarshalText implements encoding.TextUnmarshaler
func (y *yesNo) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "yes", "true", "1":
		*y = true
	case "no", "false", "0":
		*y = false
	default:
		return fmt.Errorf("%w: %q", errYesNo, text)
	}
	return nil
}

// environment holds the keys the bot has always been configured with
type environment struct {
	Token            string `env:"token"`
	Channel          string `env:"channel"`
	Name             string `env:"name"`
	GUID             string `env:"guid"`
	OwnerID          string `env:"ownerId"`
	Game             string `env:"game"`
	Platform         string `env:"platform"`
	Lang             string `env:"lang"`
	FakePlayers      yesNo  `env:"fakeplayers"`
	ServerBanner     yesNo  `env:"serverbanner"`
	MinPlayerAmount  int    `env:"minplayeramount"`
	PrevRequestCount int    `env:"prevrequestcount"`
	StartedAmount    int    `env:"startedamount"`
	AvatarMinutes    int    `env:"mins_between_avatar_change"`
}

// applyEnv overlays the environment variables that are present onto c.
// environ replaces the process environment when not nil.
func (c *Config) applyEnv(environ map[string]string) error {
	if environ == nil {
		environ = processEnv()
	}

	var e environment
	if err := env.ParseWithOptions(&e, env.Options{Environment: environ}); err != nil {
		return err
	}

	set := func(key string) bool {
		_, ok := environ[key]
		return ok
	}

	if set("token") {
		c.Discord.Token = e.Token
	}
	if set("channel") {
		c.Discord.Channel = e.Channel
	}
	if set("name") {
		c.Server.Name = e.Name
	}
	if set("guid") {
		c.Server.GUID = e.GUID
	}
	if set("ownerId") {
		c.Server.OwnerID = e.OwnerID
	}
	if set("game") {
		c.Server.Game = e.Game
	}
	if set("platform") {
		c.Server.Platform = e.Platform
	}
	if set("lang") {
		c.Server.Lang = e.Lang
	}
	if set("fakeplayers") {
		c.Server.FakePlayers = bool(e.FakePlayers)
	}
	if set("serverbanner") {
		banner := bool(e.ServerBanner)
		c.Profile.Banner = &banner
	}
	if set("minplayeramount") {
		c.Thresholds.MinPlayerAmount = e.MinPlayerAmount
	}
	if set("prevrequestcount") {
		c.Thresholds.PrevRequestCount = e.PrevRequestCount
	}
	if set("startedamount") {
		c.Thresholds.StartedAmount = e.StartedAmount
	}
	if set("mins_between_avatar_change") {
		c.Profile.AvatarInterval = time.Duration(e.AvatarMinutes) * time.Minute
	}
	return nil
}

func processEnv() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}
