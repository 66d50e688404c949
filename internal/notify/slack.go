package notify

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/shopfloor/internal/events"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts event summaries to a Slack channel.
type Slack struct {
	client  slackClient
	channel string
}

// SlackOpts holds parameters for creating a Slack sink.
type SlackOpts struct {
	BotToken string
	Channel  string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// NewSlack creates a Slack sink.
func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	s := &Slack{client: opts.Client, channel: opts.Channel}
	if s.client == nil {
		s.client = slackapi.New(opts.BotToken)
	}
	return s, nil
}

// Name implements events.Sink.
func (s *Slack) Name() string { return "slack" }

// Publish implements events.Sink.
func (s *Slack) Publish(ctx context.Context, ev events.Event) error {
	attachment := slackapi.Attachment{
		Color: eventColor(ev.Type),
		Text:  Summary(ev),
		Fields: []slackapi.AttachmentField{
			{Title: "Job", Value: ev.JobID, Short: true},
			{Title: "Event", Value: ev.Type, Short: true},
		},
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slackapi.MsgOptionAttachments(attachment))
	if err != nil {
		return fmt.Errorf("slack: post %s: %w", ev.ID, err)
	}
	return nil
}

// eventColor picks the attachment sidebar color for an event type.
func eventColor(eventType string) string {
	switch eventType {
	case events.OperationCompleted, events.PartCompleted, events.JobCompleted:
		return "#36a64f"
	case events.OperationPaused:
		return "#daa038"
	default:
		return "#439fe0"
	}
}
