package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"polibrief/internal/core"
)

// MessagePlatform represents different messaging platforms
type MessagePlatform string

const (
	PlatformSlack   MessagePlatform = "slack"
	PlatformDiscord MessagePlatform = "discord"
)

// SlackMessage represents a Slack message structure
type SlackMessage struct {
	Text   string       `json:"text,omitempty"`
	Blocks []SlackBlock `json:"blocks,omitempty"`
}

// SlackBlock represents a Slack block kit element
type SlackBlock struct {
	Type     string      `json:"type"`
	Text     *SlackText  `json:"text,omitempty"`
	Elements []SlackText `json:"elements,omitempty"`
}

// SlackText represents text in Slack blocks
type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// DiscordMessage represents a Discord message structure
type DiscordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

// DiscordEmbed represents a Discord embed
type DiscordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []DiscordEmbedField `json:"fields,omitempty"`
	Footer      *DiscordEmbedFooter `json:"footer,omitempty"`
}

// DiscordEmbedField represents fields in Discord embeds
type DiscordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordEmbedFooter represents footer in Discord embeds
type DiscordEmbedFooter struct {
	Text string `json:"text"`
}

// Discord rejects field values longer than this.
const discordFieldLimit = 1024

// ConvertToSlackMessage converts a digest to a Slack block kit message
func ConvertToSlackMessage(rec *core.DigestRecord, title string) *SlackMessage {
	heading := fmt.Sprintf("%s - %s", title, rec.DigestDate)
	msg := &SlackMessage{
		Text: heading,
		Blocks: []SlackBlock{
			{Type: "header", Text: &SlackText{Type: "plain_text", Text: heading}},
			{Type: "context", Elements: []SlackText{{Type: "mrkdwn", Text: countsLine(rec)}}},
		},
	}

	if rec.Empty() {
		msg.Blocks = append(msg.Blocks, SlackBlock{Type: "section", Text: &SlackText{Type: "mrkdwn", Text: "No political content in this window."}})
		return msg
	}

	for _, c := range rec.Clusters {
		var sb strings.Builder
		fmt.Fprintf(&sb, "*%d. %s*\n", c.Rank, c.Label)
		if c.Summary != "" {
			sb.WriteString(c.Summary + "\n")
		}
		for _, ref := range c.References {
			if ref.URL != "" {
				fmt.Fprintf(&sb, "• <%s|%s> (%s)\n", ref.URL, ref.Title, ref.BiasLabel)
			} else {
				fmt.Fprintf(&sb, "• %s (%s)\n", ref.Title, ref.BiasLabel)
			}
		}
		msg.Blocks = append(msg.Blocks,
			SlackBlock{Type: "divider"},
			SlackBlock{Type: "section", Text: &SlackText{Type: "mrkdwn", Text: strings.TrimSpace(sb.String())}},
		)
	}
	return msg
}

// ConvertToDiscordMessage converts a digest to a Discord embed message
func ConvertToDiscordMessage(rec *core.DigestRecord, title string) *DiscordMessage {
	embed := DiscordEmbed{
		Title:       fmt.Sprintf("%s - %s", title, rec.DigestDate),
		Description: countsLine(rec),
		Color:       0x1e3a8a,
		Footer:      &DiscordEmbedFooter{Text: "polibrief"},
	}
	if rec.Empty() {
		embed.Description += "\nNo political content in this window."
	}

	for _, c := range rec.Clusters {
		var sb strings.Builder
		if c.Summary != "" {
			sb.WriteString(c.Summary + "\n")
		}
		for _, ref := range c.References {
			if ref.URL != "" {
				fmt.Fprintf(&sb, "• [%s](%s) (%s)\n", ref.Title, ref.URL, ref.BiasLabel)
			} else {
				fmt.Fprintf(&sb, "• %s (%s)\n", ref.Title, ref.BiasLabel)
			}
		}
		value := strings.TrimSpace(sb.String())
		if r := []rune(value); len(r) > discordFieldLimit {
			value = string(r[:discordFieldLimit-1]) + "…"
		}
		embed.Fields = append(embed.Fields, DiscordEmbedField{
			Name:  fmt.Sprintf("%d. %s", c.Rank, c.Label),
			Value: value,
		})
	}
	return &DiscordMessage{Embeds: []DiscordEmbed{embed}}
}

func countsLine(rec *core.DigestRecord) string {
	return fmt.Sprintf("%d political items from %d captured", rec.PoliticalItemsCount, rec.ItemsConsidered)
}

// WebhookDeliverer posts digests to a Slack or Discord incoming webhook.
type WebhookDeliverer struct {
	platform   MessagePlatform
	webhookURL string
	title      string
	client     *http.Client
}

// NewWebhookDeliverer creates a WebhookDeliverer.
func NewWebhookDeliverer(platform MessagePlatform, webhookURL, title string, client *http.Client) *WebhookDeliverer {
	if title == "" {
		title = "Political Digest"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookDeliverer{platform: platform, webhookURL: webhookURL, title: title, client: client}
}

// Name implements Deliverer.
func (w *WebhookDeliverer) Name() string { return string(w.platform) }

// Deliver implements Deliverer.
func (w *WebhookDeliverer) Deliver(ctx context.Context, rec *core.DigestRecord) error {
	var message any
	switch w.platform {
	case PlatformSlack:
		message = ConvertToSlackMessage(rec, w.title)
	case PlatformDiscord:
		message = ConvertToDiscordMessage(rec, w.title)
	default:
		return fmt.Errorf("unsupported platform: %s", w.platform)
	}

	// Slack link markup (<url|text>) stays literal
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(message); err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", w.platform, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, &body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", w.platform, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s message: %w", w.platform, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s webhook returned status %d: %s", w.platform, resp.StatusCode, string(body))
	}
	return nil
}
