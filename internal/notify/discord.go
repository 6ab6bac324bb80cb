package notify

import (
	"context"
	"fmt"
	"os"

	"github.com/bwmarrin/discordgo"
)

// ChannelSender posts a complex message to a channel
type ChannelSender interface {
	Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) error
}

// DiscordSink delivers messages as a single embed with the rendered image attached
type DiscordSink struct {
	sender    ChannelSender
	channelID string
}

// NewDiscordSink creates a sink posting to channelID
func NewDiscordSink(sender ChannelSender, channelID string) *DiscordSink {
	return &DiscordSink{sender: sender, channelID: channelID}
}

// Name implements Sink
func (s *DiscordSink) Name() string {
	return "discord"
}

// Deliver implements Sink
func (s *DiscordSink) Deliver(ctx context.Context, msg Message) error {
	f, err := os.Open(msg.ImagePath)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	return s.sender.Send(ctx, s.channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{buildEmbed(msg)},
		Files: []*discordgo.File{{
			Name:        msg.ImageName(),
			ContentType: "image/jpeg",
			Reader:      f,
		}},
	})
}

func buildEmbed(msg Message) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		URL:         msg.URL,
		Title:       msg.Title,
		Description: msg.Description,
		Footer:      &discordgo.MessageEmbedFooter{Text: msg.Footer},
	}

	attachment := "attachment://" + msg.ImageName()
	if msg.LargeImage {
		embed.Image = &discordgo.MessageEmbedImage{URL: attachment}
	} else {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: attachment}
	}
	return embed
}
