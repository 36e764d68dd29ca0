package tracker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskwatch/internal/model"
	"github.com/nhle/taskwatch/internal/source"
)

type staticCreds struct {
	token string
}

func (s *staticCreds) Load(context.Context) (string, bool) {
	return s.token, s.token != ""
}

type fakeRefresher struct {
	calls int
	token string
	err   error
}

func (f *fakeRefresher) Refresh(context.Context) (string, error) {
	f.calls++
	return f.token, f.err
}

const alphaBody = `{"data":[{"id":"p1","name":"Alpha","task_statistics":{"total":5,"draft":2}}]}`

func newTestClient(srv *httptest.Server, creds CredentialStore, r Refresher) *Client {
	return NewClient(Options{
		BaseURL:      srv.URL,
		ProjectsPath: "/v1/projects",
		Page:         1,
		PageSize:     8,
		UserAgent:    "taskwatch-test",
		HTTPClient:   srv.Client(),
	}, creds, r, zerolog.Nop())
}

func TestFetchEntitiesRetriesOnceAfterRefresh(t *testing.T) {
	var calls atomic.Int32
	var lastAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		lastAuth.Store(r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(alphaBody))
	}))
	defer srv.Close()

	refresher := &fakeRefresher{token: "fresh"}
	c := newTestClient(srv, &staticCreds{token: "stale"}, refresher)

	entities, err := c.FetchEntities(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "Bearer fresh", lastAuth.Load())
	assert.Equal(t, []model.Entity{{ID: "p1", Name: "Alpha", Total: 5, Draft: 2}}, entities)
}

func TestFetchEntitiesDoesNotLoopOnPersistent401(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	refresher := &fakeRefresher{token: "fresh"}
	c := newTestClient(srv, &staticCreds{token: "stale"}, refresher)

	_, err := c.FetchEntities(context.Background())
	require.Error(t, err)

	assert.True(t, source.IsAuthError(err))
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchEntitiesSurfacesRefreshFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	refresher := &fakeRefresher{err: &source.RefreshFailedError{
		Stage: "mailbox",
		Err:   source.ErrNotFound,
	}}
	c := newTestClient(srv, &staticCreds{token: "stale"}, refresher)

	_, err := c.FetchEntities(context.Background())
	require.Error(t, err)

	assert.True(t, source.IsRefreshFailed(err))
	assert.True(t, errors.Is(err, source.ErrNotFound))
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchEntitiesDoesNotRefreshOnOtherStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	refresher := &fakeRefresher{token: "fresh"}
	c := newTestClient(srv, &staticCreds{token: "stale"}, refresher)

	_, err := c.FetchEntities(context.Background())

	var statusErr *source.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, 0, refresher.calls)
}

func TestFetchEntitiesSendsQueryAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/projects", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "8", r.URL.Query().Get("page_size"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "taskwatch-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, &staticCreds{token: "tok"}, &fakeRefresher{})

	entities, err := c.FetchEntities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestFetchEntitiesAppliesDefaults(t *testing.T) {
	body := `{"data":[
		{"id":42,"task_statistics":{"total":"7"}},
		{"id":"p2","name":"Beta"},
		{"name":"no id","task_statistics":{"total":3,"draft":1}},
		{"id":"p3","name":"Gamma","task_statistics":{"total":null,"draft":4}},
		{"id":"p4","name":"Delta","task_statistics":{"total":-1,"draft":-3}},
		{"id":"p5","name":123,"task_statistics":{"total":2}},
		{"id":"p6","name":{"en":"Epsilon"}},
		{"id":{"nested":true},"name":"bad id"},
		{"id":true,"name":"bool id"},
		"not an object"
	]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := newTestClient(srv, &staticCreds{token: "tok"}, &fakeRefresher{})

	entities, err := c.FetchEntities(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []model.Entity{
		{ID: "42", Name: "Unknown Project", Total: 7},
		{ID: "p2", Name: "Beta"},
		{ID: "p3", Name: "Gamma", Draft: 4},
		{ID: "p4", Name: "Delta"},
		{ID: "p5", Name: "123", Total: 2},
		{ID: "p6", Name: "Unknown Project"},
	}, entities)
}

func TestFetchEntitiesMissingDataKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"meta":{"page":1}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, &staticCreds{token: "tok"}, &fakeRefresher{})

	entities, err := c.FetchEntities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestFetchEntitiesMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	c := newTestClient(srv, &staticCreds{token: "tok"}, &fakeRefresher{})

	_, err := c.FetchEntities(context.Background())
	require.Error(t, err)
	assert.True(t, source.IsMalformed(err))
}

func TestFetchEntitiesTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(srv, &staticCreds{token: "tok"}, &fakeRefresher{})
	srv.Close()

	_, err := c.FetchEntities(context.Background())
	require.Error(t, err)
	assert.True(t, source.IsTransportError(err))
}
