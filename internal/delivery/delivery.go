// Package delivery sends stored digests to email, chat webhooks and Telegram.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"polibrief/internal/core"
)

// Deliverer sends one digest over one channel.
type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, rec *core.DigestRecord) error
}

// Multi fans a digest out to several channels. Every channel is attempted;
// the failures are joined.
type Multi struct {
	channels []Deliverer
	log      zerolog.Logger
}

// NewMulti creates a Multi over channels.
func NewMulti(log zerolog.Logger, channels ...Deliverer) *Multi {
	return &Multi{
		channels: channels,
		log:      log.With().Str("component", "delivery").Logger(),
	}
}

// Name implements Deliverer.
func (m *Multi) Name() string { return "multi" }

// Len returns the number of channels.
func (m *Multi) Len() int { return len(m.channels) }

// Channels returns the channel names.
func (m *Multi) Channels() []string {
	names := make([]string, len(m.channels))
	for i, c := range m.channels {
		names[i] = c.Name()
	}
	return names
}

// Deliver implements Deliverer.
func (m *Multi) Deliver(ctx context.Context, rec *core.DigestRecord) error {
	var errs []error
	for _, c := range m.channels {
		if err := c.Deliver(ctx, rec); err != nil {
			m.log.Warn().Err(err).Str("channel", c.Name()).Str("date", rec.DigestDate).Msg("delivery channel failed")
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			continue
		}
		m.log.Info().Str("channel", c.Name()).Str("date", rec.DigestDate).Msg("digest sent")
	}
	return errors.Join(errs...)
}

// Config selects the delivery channels. A channel is enabled when its
// endpoint is set.
type Config struct {
	Title             string
	Timeout           time.Duration
	Email             EmailConfig
	SlackWebhookURL   string
	DiscordWebhookURL string
	Telegram          TelegramConfig
}

// FromConfig builds a Multi over every configured channel. It may hold no
// channels.
func FromConfig(cfg Config, log zerolog.Logger) (*Multi, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: cfg.Timeout}

	var channels []Deliverer
	if cfg.Email.Host != "" {
		e, err := NewEmailDeliverer(cfg.Email, cfg.Title)
		if err != nil {
			return nil, err
		}
		channels = append(channels, e)
	}
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, NewWebhookDeliverer(PlatformSlack, cfg.SlackWebhookURL, cfg.Title, client))
	}
	if cfg.DiscordWebhookURL != "" {
		channels = append(channels, NewWebhookDeliverer(PlatformDiscord, cfg.DiscordWebhookURL, cfg.Title, client))
	}
	if cfg.Telegram.BotToken != "" || cfg.Telegram.ChatID != "" {
		t, err := NewTelegramDeliverer(cfg.Telegram, client)
		if err != nil {
			return nil, err
		}
		channels = append(channels, t)
	}
	return NewMulti(log, channels...), nil
}
