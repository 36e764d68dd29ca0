package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskwatch/internal/model"
)

func newTestTelegram(srv *httptest.Server, failures int) *Telegram {
	return NewTelegram(TelegramConfig{
		Token:             "bot-token",
		ChatID:            "1234",
		ParseMode:         "Markdown",
		MessagesPerMinute: 60000,
		BreakerFailures:   failures,
		BaseURL:           srv.URL,
		HTTPClient:        srv.Client(),
	}, zerolog.Nop())
}

func TestTelegramSend(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botbot-token/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	err := newTestTelegram(srv, 5).Send(context.Background(), "hello *world*")
	require.NoError(t, err)

	assert.Equal(t, sendMessageRequest{
		ChatID:    "1234",
		Text:      "hello *world*",
		ParseMode: "Markdown",
	}, got)
}

func TestTelegramRetriesPlainTextOnParseError(t *testing.T) {
	var modes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		modes = append(modes, req.ParseMode)
		if req.ParseMode != "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: can't parse entities"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	err := newTestTelegram(srv, 5).Send(context.Background(), "snake_case_error")
	require.NoError(t, err)
	assert.Equal(t, []string{"Markdown", ""}, modes)
}

func TestTelegramBreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tg := newTestTelegram(srv, 2)
	ctx := context.Background()

	require.Error(t, tg.Send(ctx, "one"))
	require.Error(t, tg.Send(ctx, "two"))

	err := tg.Send(ctx, "three")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(2), calls.Load())
}

func TestTelegramErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	tg := newTestTelegram(srv, 5)
	srv.Close()

	err := tg.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "bot-token")
}

type recordingNotifier struct {
	sent []string
	err  error
}

func (r *recordingNotifier) Send(_ context.Context, text string) error {
	r.sent = append(r.sent, text)
	return r.err
}

func TestMulti(t *testing.T) {
	ctx := context.Background()
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("down")}

	require.NoError(t, NewMulti(ok, bad).Send(ctx, "partial"))
	assert.Equal(t, []string{"partial"}, ok.sent)
	assert.Equal(t, []string{"partial"}, bad.sent)

	err := NewMulti(bad, &recordingNotifier{err: errors.New("also down")}).Send(ctx, "none")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")

	assert.NoError(t, NewMulti().Send(ctx, "nobody"))
}

func TestFormatEvent(t *testing.T) {
	entity := model.Entity{ID: "p1", Name: "Alpha", Total: 5, Draft: 2}

	assert.Equal(t,
		"🚀 *NEW PROJECT FOUND*\nName: `Alpha`\nTotal Tasks: 5\nDrafts (Available): 2",
		FormatEvent(model.Event{Kind: model.EventNewEntity, Entity: entity}),
	)
	assert.Equal(t,
		"🔔 *TASKS ADDED*\nProject: `Alpha`\nNew Tasks: +2\nTotal Drafts: 2",
		FormatEvent(model.Event{Kind: model.EventCountIncreased, Entity: entity, Delta: 2}),
	)
}

func TestComposeMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	raw, err := composeMessage("bot@example.com", "ops@example.com", "🔔 *TASKS ADDED*\nProject: `Alpha`", now)
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer mr.Close()

	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "[taskwatch] 🔔 TASKS ADDED", subject)

	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "ops@example.com", to[0].Address)

	part, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Project: `Alpha`")
}
