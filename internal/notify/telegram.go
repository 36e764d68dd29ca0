package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

// TelegramConfig configures the Telegram bot channel.
type TelegramConfig struct {
	Token     string
	ChatID    string
	ParseMode string

	// MessagesPerMinute caps sends to the chat. Defaults to 20.
	MessagesPerMinute int

	// BreakerFailures is the consecutive failure count that opens the
	// breaker. Defaults to 5.
	BreakerFailures int

	// BaseURL overrides the Bot API root.
	BaseURL    string
	HTTPClient *http.Client
}

// Telegram sends messages through the Telegram Bot API.
type Telegram struct {
	cfg        TelegramConfig
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cb         *gobreaker.CircuitBreaker
	logger     zerolog.Logger
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(cfg TelegramConfig, logger zerolog.Logger) *Telegram {
	logger = logger.With().Str("component", "notify").Str("channel", "telegram").Logger()

	perMinute := cfg.MessagesPerMinute
	if perMinute <= 0 {
		perMinute = 20
	}
	failures := cfg.BreakerFailures
	if failures <= 0 {
		failures = 5
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultTelegramBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	cbSettings := gobreaker.Settings{
		Name:    "telegram",
		Timeout: 5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &Telegram{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
		cb:         gobreaker.NewCircuitBreaker(cbSettings),
		logger:     logger,
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts text to the configured chat. A message Telegram cannot parse
// as Markdown is resent once as plain text.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for telegram rate limit: %w", err)
	}

	_, err := t.cb.Execute(func() (interface{}, error) {
		status, err := t.post(ctx, text, t.cfg.ParseMode)
		if status == http.StatusBadRequest && t.cfg.ParseMode != "" {
			t.logger.Debug().Msg("formatted send rejected, retrying as plain text")
			_, err = t.post(ctx, text, "")
		}
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

func (t *Telegram) post(ctx context.Context, text, parseMode string) (int, error) {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:    t.cfg.ChatID,
		Text:      text,
		ParseMode: parseMode,
	})
	if err != nil {
		return 0, fmt.Errorf("marshaling request body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of the error.
		return 0, fmt.Errorf("executing request to telegram: %w", unwrapURLError(err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiResp sendMessageResponse
		if json.Unmarshal(body, &apiResp) == nil && apiResp.Description != "" {
			return resp.StatusCode, fmt.Errorf("telegram API error (%d): %s", resp.StatusCode, apiResp.Description)
		}
		return resp.StatusCode, fmt.Errorf("unexpected status %d from telegram", resp.StatusCode)
	}

	return resp.StatusCode, nil
}

// unwrapURLError strips the request URL from a *url.Error.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
