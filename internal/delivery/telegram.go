package delivery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"polibrief/internal/core"
)

// Telegram rejects messages longer than this many characters.
const telegramMessageLimit = 4096

// TelegramConfig holds bot delivery settings
type TelegramConfig struct {
	BotToken string
	ChatID   string
	BaseURL  string // defaults to https://api.telegram.org
}

// TelegramDeliverer sends digests to a Telegram chat via the bot API.
type TelegramDeliverer struct {
	cfg    TelegramConfig
	client *http.Client
}

// NewTelegramDeliverer registers bot token and chat identifier.
func NewTelegramDeliverer(cfg TelegramConfig, client *http.Client) (*TelegramDeliverer, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram delivery needs bot_token and chat_id")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &TelegramDeliverer{cfg: cfg, client: client}, nil
}

// Name implements Deliverer.
func (t *TelegramDeliverer) Name() string { return "telegram" }

// Deliver posts the markdown body as plain text, split into as many
// messages as the size limit requires.
func (t *TelegramDeliverer) Deliver(ctx context.Context, rec *core.DigestRecord) error {
	for i, part := range SplitMessage(rec.Body, telegramMessageLimit) {
		if err := t.send(ctx, part); err != nil {
			return fmt.Errorf("message part %d: %w", i+1, err)
		}
	}
	return nil
}

func (t *TelegramDeliverer) send(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.cfg.BaseURL, "/"), t.cfg.BotToken)
	form := url.Values{}
	form.Set("chat_id", t.cfg.ChatID)
	form.Set("text", text)
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		// the URL carries the bot token
		if uerr, ok := err.(*url.Error); ok {
			err = uerr.Err
		}
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}
	return nil
}

// SplitMessage splits text into parts of at most limit runes, breaking at
// line boundaries where possible.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len([]rune(text)) <= limit {
		return []string{text}
	}

	var parts []string
	var cur []rune
	flush := func() {
		if s := strings.TrimRight(string(cur), "\n"); s != "" {
			parts = append(parts, s)
		}
		cur = cur[:0]
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		r := []rune(line)
		if len(cur)+len(r) > limit {
			flush()
		}
		for len(r) > limit {
			parts = append(parts, string(r[:limit]))
			r = r[limit:]
		}
		cur = append(cur, r...)
	}
	flush()
	return parts
}
