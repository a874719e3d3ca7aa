package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polibrief/internal/core"
)

func sampleDigest() *core.DigestRecord {
	return &core.DigestRecord{
		ID:                  "d1",
		DigestDate:          "2026-05-05",
		WindowStart:         time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC),
		WindowEnd:           time.Date(2026, 5, 5, 7, 0, 0, 0, time.UTC),
		ItemsConsidered:     10,
		PoliticalItemsCount: 4,
		Clusters: []core.ClusterSummary{
			{
				Rank: 1, ClusterID: "cluster-1", Label: "Budget advances", Summary: "The budget moved forward.",
				BiasMix: map[string]int{"center": 2},
				References: []core.ItemReference{
					{ID: "a", Title: "Budget vote", URL: "https://news.example/a", BiasLabel: core.BiasCenter, Quality: 9},
				},
			},
		},
		Body:     "# Political Digest - 2026-05-05\n\n## 1. Budget advances\n",
		HTMLBody: "<h1>Political Digest - 2026-05-05</h1>\n<h2>1. Budget advances</h2>\n",
	}
}

type captured struct {
	mu     sync.Mutex
	bodies []string
	paths  []string
}

func (c *captured) server(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, string(body))
		c.paths = append(c.paths, r.URL.Path)
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebhookDeliverer_Slack(t *testing.T) {
	var got captured
	srv := got.server(t, http.StatusOK)

	err := NewWebhookDeliverer(PlatformSlack, srv.URL, "", nil).Deliver(context.Background(), sampleDigest())
	require.NoError(t, err)
	require.Len(t, got.bodies, 1)

	var msg SlackMessage
	require.NoError(t, json.Unmarshal([]byte(got.bodies[0]), &msg))
	assert.Equal(t, "Political Digest - 2026-05-05", msg.Text)
	assert.Equal(t, "header", msg.Blocks[0].Type)
	assert.Contains(t, got.bodies[0], "<https://news.example/a|Budget vote>")
	assert.NotContains(t, got.bodies[0], `\u003c`)
}

func TestWebhookDeliverer_Discord(t *testing.T) {
	var got captured
	srv := got.server(t, http.StatusNoContent)

	err := NewWebhookDeliverer(PlatformDiscord, srv.URL, "Daily", nil).Deliver(context.Background(), sampleDigest())
	require.NoError(t, err)

	var msg DiscordMessage
	require.NoError(t, json.Unmarshal([]byte(got.bodies[0]), &msg))
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, "Daily - 2026-05-05", msg.Embeds[0].Title)
	require.Len(t, msg.Embeds[0].Fields, 1)
	assert.Equal(t, "1. Budget advances", msg.Embeds[0].Fields[0].Name)
	assert.Contains(t, msg.Embeds[0].Fields[0].Value, "[Budget vote](https://news.example/a)")
}

func TestWebhookDeliverer_ErrorStatus(t *testing.T) {
	var got captured
	srv := got.server(t, http.StatusBadRequest)

	err := NewWebhookDeliverer(PlatformSlack, srv.URL, "", nil).Deliver(context.Background(), sampleDigest())
	assert.ErrorContains(t, err, "status 400")
}

func TestTelegramDeliverer(t *testing.T) {
	var got captured
	srv := got.server(t, http.StatusOK)

	tg, err := NewTelegramDeliverer(TelegramConfig{BotToken: "TOKEN", ChatID: "42", BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	require.NoError(t, tg.Deliver(context.Background(), sampleDigest()))

	require.Len(t, got.paths, 1)
	assert.Equal(t, "/botTOKEN/sendMessage", got.paths[0])
	form, err := url.ParseQuery(got.bodies[0])
	require.NoError(t, err)
	assert.Equal(t, "42", form.Get("chat_id"))
	assert.Equal(t, sampleDigest().Body, form.Get("text"))

	_, err = NewTelegramDeliverer(TelegramConfig{BotToken: "TOKEN"}, nil)
	assert.Error(t, err)
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"fits", "short", 10, []string{"short"}},
		{"line boundaries", "aaaa\nbbbb\ncccc\n", 10, []string{"aaaa\nbbbb", "cccc"}},
		{"long line", "abcdefghij\n", 4, []string{"abcd", "efgh", "ij"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitMessage(tt.text, tt.limit)
			assert.Equal(t, tt.want, got)
			for _, p := range got {
				assert.LessOrEqual(t, len([]rune(p)), tt.limit)
			}
		})
	}
}

func TestEmailDeliverer(t *testing.T) {
	e, err := NewEmailDeliverer(EmailConfig{
		Host: "smtp.example", Username: "user", Password: "secret",
		From: "digest@example.com", To: []string{"a@example.com", "b@example.com"}, SubjectPrefix: "[polibrief]",
	}, "")
	require.NoError(t, err)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	e.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	require.NoError(t, e.Deliver(context.Background(), sampleDigest()))
	assert.Equal(t, "smtp.example:587", gotAddr)
	assert.Equal(t, "digest@example.com", gotFrom)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, gotTo)

	msg := string(gotMsg)
	assert.Contains(t, msg, "Subject: [polibrief] Political Digest - 2026-05-05\r\n")
	assert.Contains(t, msg, "Content-Type: text/html; charset=UTF-8")
	assert.Contains(t, msg, "<h2>1. Budget advances</h2>")
	assert.Contains(t, msg, "4 political items from 10 captured")
	assert.NotContains(t, msg, "ZgotmplZ")

	e.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("421 try later") }
	assert.ErrorContains(t, e.Deliver(context.Background(), sampleDigest()), "421 try later")

	_, err = NewEmailDeliverer(EmailConfig{Host: "smtp.example"}, "")
	assert.Error(t, err)
}

type stubChannel struct {
	name string
	err  error
	hits int
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Deliver(context.Context, *core.DigestRecord) error {
	s.hits++
	return s.err
}

func TestMulti_AttemptsEveryChannel(t *testing.T) {
	failing := &stubChannel{name: "email", err: errors.New("refused")}
	ok := &stubChannel{name: "slack"}
	m := NewMulti(zerolog.Nop(), failing, ok)

	err := m.Deliver(context.Background(), sampleDigest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email: refused")
	assert.Equal(t, 1, ok.hits)

	assert.NoError(t, NewMulti(zerolog.Nop(), ok).Deliver(context.Background(), sampleDigest()))
}

func TestFromConfig(t *testing.T) {
	m, err := FromConfig(Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, m.Len())

	m, err = FromConfig(Config{
		Email:             EmailConfig{Host: "smtp.example", From: "a@example.com", To: []string{"b@example.com"}},
		SlackWebhookURL:   "https://hooks.slack.com/services/x",
		DiscordWebhookURL: "https://discord.com/api/webhooks/x",
		Telegram:          TelegramConfig{BotToken: "t", ChatID: "1"},
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "slack", "discord", "telegram"}, m.Channels())

	_, err = FromConfig(Config{Telegram: TelegramConfig{ChatID: "1"}}, zerolog.Nop())
	assert.True(t, err != nil && strings.Contains(err.Error(), "bot_token"))
}
