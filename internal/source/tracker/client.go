package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/taskwatch/internal/model"
	"github.com/nhle/taskwatch/internal/source"
)

// defaultProjectName is used for projects the API returns without a name.
const defaultProjectName = "Unknown Project"

// CredentialStore supplies the bearer credential for each request.
type CredentialStore interface {
	Load(ctx context.Context) (string, bool)
}

// Refresher obtains a fresh credential after the current one is rejected.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Options configures a Client.
type Options struct {
	BaseURL      string
	ProjectsPath string
	Page         int
	PageSize     int
	UserAgent    string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client is a thin HTTP client for the project-tracking API. It attaches
// the stored credential as a Bearer token and, on a 401, refreshes the
// credential once and retries the request once.
type Client struct {
	baseURL      string
	projectsPath string
	page         int
	pageSize     int
	userAgent    string
	httpClient   *http.Client
	creds        CredentialStore
	refresher    Refresher
	logger       zerolog.Logger
}

// NewClient creates a tracker client.
func NewClient(
	opts Options,
	creds CredentialStore,
	refresher Refresher,
	logger zerolog.Logger,
) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = 8
	}

	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		projectsPath: opts.ProjectsPath,
		page:         page,
		pageSize:     pageSize,
		userAgent:    opts.UserAgent,
		httpClient:   httpClient,
		creds:        creds,
		refresher:    refresher,
		logger:       logger.With().Str("component", "tracker").Logger(),
	}
}

// FetchEntities lists the current projects. A 401 triggers exactly one
// refresh followed by exactly one retry; a second 401 is returned as an
// AuthError so a dead identity provider is never hot-looped.
func (c *Client) FetchEntities(ctx context.Context) ([]model.Entity, error) {
	token, ok := c.creds.Load(ctx)
	if !ok {
		c.logger.Warn().Msg("no stored credential, request will be unauthenticated")
	}

	resp, err := c.getProjects(ctx, token)
	if source.IsAuthError(err) {
		c.logger.Warn().Msg("credential rejected, refreshing")

		fresh, refreshErr := c.refresher.Refresh(ctx)
		if refreshErr != nil {
			return nil, refreshErr
		}

		resp, err = c.getProjects(ctx, fresh)
		if err != nil {
			return nil, fmt.Errorf("retrying after refresh: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}

	return c.toEntities(resp), nil
}

// getProjects performs a single GET of the projects endpoint.
func (c *Client) getProjects(
	ctx context.Context,
	token string,
) (*ProjectsResponse, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(c.page))
	query.Set("page_size", strconv.Itoa(c.pageSize))
	reqURL := c.baseURL + c.projectsPath + "?" + query.Encode()
	op := "GET " + c.projectsPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
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

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &source.AuthError{
			Message: fmt.Sprintf("%s returned 401", op),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &source.StatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var parsed ProjectsResponse
	if len(strings.TrimSpace(string(body))) == 0 {
		return &parsed, nil
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &source.MalformedResponseError{Op: op, Body: string(body)}
	}

	return &parsed, nil
}

// toEntities converts the wire projects, applying defaults for missing
// fields. Projects without a usable ID cannot be tracked and are skipped.
func (c *Client) toEntities(resp *ProjectsResponse) []model.Entity {
	entities := make([]model.Entity, 0, len(resp.Data))
	for i, raw := range resp.Data {
		var p Project
		if err := json.Unmarshal(raw, &p); err != nil {
			c.logger.Warn().Err(err).Int("index", i).Msg("skipping unreadable project")
			continue
		}
		if p.ID == "" {
			c.logger.Warn().Str("name", string(p.Name)).Msg("skipping project without id")
			continue
		}

		e := model.Entity{
			ID:   string(p.ID),
			Name: string(p.Name),
		}
		if e.Name == "" {
			e.Name = defaultProjectName
		}
		if p.TaskStatistics != nil {
			e.Total = c.count(e.ID, "total", p.TaskStatistics.Total)
			e.Draft = c.count(e.ID, "draft", p.TaskStatistics.Draft)
		}
		entities = append(entities, e)
	}
	return entities
}

// count returns n, or zero when the API reports a negative value.
func (c *Client) count(id, field string, n flexInt) int {
	if n < 0 {
		c.logger.Warn().Str("project", id).Str("field", field).Int("value", int(n)).Msg("negative count, using 0")
		return 0
	}
	return int(n)
}
