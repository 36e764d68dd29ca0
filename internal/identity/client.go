package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nhle/taskwatch/internal/source"
)

// ClientOptions configures the identity provider client.
type ClientOptions struct {
	BaseURL      string
	LoginPath    string
	ExchangePath string
	Email        string
	CallbackURL  string
	UserAgent    string
	HTTPClient   *http.Client
}

// Client talks to the identity provider's magic-link endpoints.
type Client struct {
	opts       ClientOptions
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an identity provider client.
func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		opts:       opts,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
	}
}

type loginRequest struct {
	Email       string `json:"email"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type exchangeRequest struct {
	Token string `json:"token"`
}

// TriggerLogin asks the provider to email a fresh magic link. The response
// body carries no contract; any 2xx is success.
func (c *Client) TriggerLogin(ctx context.Context) error {
	_, err := c.post(ctx, c.opts.LoginPath, loginRequest{
		Email:       c.opts.Email,
		CallbackURL: c.opts.CallbackURL,
	})
	return err
}

// Exchange trades a verification token for an access credential.
func (c *Client) Exchange(ctx context.Context, verificationToken string) (string, error) {
	body, err := c.post(ctx, c.opts.ExchangePath, exchangeRequest{
		Token: verificationToken,
	})
	if err != nil {
		return "", err
	}
	return parseExchangeResponse("POST "+c.opts.ExchangePath, body)
}

// post sends a JSON body and returns the response body of a 2xx reply.
func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	op := "POST " + path

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &source.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &source.TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &source.StatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	return body, nil
}
