// Package discord wraps the discordgo session with the few calls the bot
// makes: presence, profile images and channel messages.
package discord

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// Client is a connected bot session
type Client struct {
	session *discordgo.Session
	logger  *slog.Logger
}

// New creates a bot session for token. The gateway is not opened yet.
func New(token string, logger *slog.Logger) (*Client, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	c := &Client{
		session: session,
		logger:  logger,
	}

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		logger.Info("connected to discord", "user", r.User.Username, "guilds", len(r.Guilds))
	})

	return c, nil
}

// Open connects to the gateway
func (c *Client) Open() error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway
func (c *Client) Close() error {
	return c.session.Close()
}

// SetPresence shows text as the bot's "Playing" activity
func (c *Client) SetPresence(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.session.UpdateGameStatus(0, text); err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	return nil
}

// EditProfile replaces the bot's avatar, and its banner when banner is not nil
func (c *Client) EditProfile(ctx context.Context, avatar, banner []byte) error {
	data := map[string]string{
		"avatar": DataURI(avatar),
	}
	if banner != nil {
		data["banner"] = DataURI(banner)
	}

	_, err := c.session.RequestWithBucketID(
		http.MethodPatch,
		discordgo.EndpointUser("@me"),
		data,
		discordgo.EndpointUsers,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("edit profile: %w", err)
	}
	return nil
}

// Send posts a message with embeds and attachments to channelID
func (c *Client) Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) error {
	if _, err := c.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send message to channel %s: %w", channelID, err)
	}
	return nil
}

// DataURI encodes an image as a data URI with a sniffed content type
func DataURI(b []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", http.DetectContentType(b), base64.StdEncoding.EncodeToString(b))
}
