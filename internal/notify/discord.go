package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/shopfloor/internal/events"
)

// discordSession abstracts the discordgo.Session methods we use, enabling
// test mocks.
type discordSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts event summaries to a Discord channel over the REST API.
// No gateway connection is held; one-shot sends only need the token.
type Discord struct {
	sess      discordSession
	channelID string
}

// DiscordOpts holds parameters for creating a Discord sink.
type DiscordOpts struct {
	Token     string
	ChannelID string
	// For testing: inject a mock session instead of the real API.
	Session discordSession
}

// NewDiscord creates a Discord sink.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.Session == nil && opts.Token == "" {
		return nil, fmt.Errorf("discord: token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel ID is required")
	}
	d := &Discord{sess: opts.Session, channelID: opts.ChannelID}
	if d.sess == nil {
		dg, err := discordgo.New("Bot " + opts.Token)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		d.sess = dg
	}
	return d, nil
}

// Name implements events.Sink.
func (d *Discord) Name() string { return "discord" }

// Publish implements events.Sink.
func (d *Discord) Publish(ctx context.Context, ev events.Event) error {
	_, err := d.sess.ChannelMessageSend(d.channelID, Summary(ev), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: send %s: %w", ev.ID, err)
	}
	return nil
}
