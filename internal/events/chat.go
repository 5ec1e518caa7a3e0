package events

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/config"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/logger"
	slackapi "github.com/slack-go/slack"
	"gorm.io/gorm"
)

// slackClient abstracts the Slack API method we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackSink posts events to a Slack channel.
type SlackSink struct {
	client  slackClient
	channel string
}

// NewSlackSink returns a sink posting to channel with the given bot token.
func NewSlackSink(botToken, channel string) (*SlackSink, error) {
	if botToken == "" {
		return nil, fmt.Errorf("events: slack bot token is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("events: slack channel is required")
	}
	return &SlackSink{client: slackapi.New(botToken), channel: channel}, nil
}

// Publish posts the event as plain text.
func (s *SlackSink) Publish(ctx context.Context, ev Event) error {
	if _, _, err := s.client.PostMessageContext(ctx, s.channel, slackapi.MsgOptionText(ev.Text(), false)); err != nil {
		return fmt.Errorf("events: slack post: %w", err)
	}
	return nil
}

// discordSession abstracts the Discord API method we use, enabling test mocks.
type discordSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink posts events to a Discord channel over the REST API.
type DiscordSink struct {
	sess    discordSession
	channel string
}

// NewDiscordSink returns a sink posting to channel with the given bot token.
func NewDiscordSink(botToken, channel string) (*DiscordSink, error) {
	if botToken == "" {
		return nil, fmt.Errorf("events: discord bot token is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("events: discord channel is required")
	}
	sess, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("events: discord session: %w", err)
	}
	return &DiscordSink{sess: sess, channel: channel}, nil
}

// Publish posts the event as plain text.
func (d *DiscordSink) Publish(ctx context.Context, ev Event) error {
	if _, err := d.sess.ChannelMessageSend(d.channel, ev.Text(), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("events: discord send: %w", err)
	}
	return nil
}

// FromConfig builds a Bus with the activity log sink plus any chat sinks
// configured in cfg.
func FromConfig(cfg config.NotifyConfig, db *gorm.DB, log *logger.Logger) (*Bus, error) {
	sinks := []Sink{NewActivitySink(db)}
	if cfg.SlackBotToken != "" {
		s, err := NewSlackSink(cfg.SlackBotToken, cfg.SlackChannel)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.DiscordBotToken != "" {
		d, err := NewDiscordSink(cfg.DiscordBotToken, cfg.DiscordChannel)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, d)
	}
	return NewBus(log, sinks...), nil
}
