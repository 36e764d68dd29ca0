package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/taskwatch/internal/model"
)

// ErrNotFound is returned when a mailbox search or the link pattern match
// yields nothing. It is a legitimate empty result, not a fault.
var ErrNotFound = errors.New("not found")

// TransportError wraps a network or timeout failure talking to a remote
// service. Callers retry on the next cycle rather than looping.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthError indicates that the access credential was rejected.
// It is returned by clients when a 401 response is received.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s", e.Message)
}

// RefreshFailedError reports that re-authentication did not produce a
// usable credential. Stage names the step that failed.
type RefreshFailedError struct {
	Stage string
	Err   error
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("refresh failed at %s: %v", e.Stage, e.Err)
}

func (e *RefreshFailedError) Unwrap() error {
	return e.Err
}

// MalformedResponseError reports a response body that matched none of the
// shapes the caller knows how to read.
type MalformedResponseError struct {
	Op   string
	Body string
}

func (e *MalformedResponseError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("malformed response from %s: %s", e.Op, body)
}

// StatusError reports a non-success HTTP status that is not handled
// specially.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d on %s: %s", e.StatusCode, e.Op, e.Body)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsTransportError reports whether err (or any error in its chain) is a
// TransportError.
func IsTransportError(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}

// IsRefreshFailed reports whether err (or any error in its chain) is a
// RefreshFailedError.
func IsRefreshFailed(err error) bool {
	var rErr *RefreshFailedError
	return errors.As(err, &rErr)
}

// IsMalformed reports whether err (or any error in its chain) is a
// MalformedResponseError.
func IsMalformed(err error) bool {
	var mErr *MalformedResponseError
	return errors.As(err, &mErr)
}

// Source is implemented by anything that can list the entities to watch.
type Source interface {
	// FetchEntities returns the current entities. Authentication
	// recovery, if any, happens inside the call.
	FetchEntities(ctx context.Context) ([]model.Entity, error)
}
