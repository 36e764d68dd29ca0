// Package identity re-authenticates against the tracker's identity
// provider using an emailed magic link.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/taskwatch/internal/credential"
	"github.com/nhle/taskwatch/internal/mailbox"
	"github.com/nhle/taskwatch/internal/notify"
	"github.com/nhle/taskwatch/internal/source"
)

// ErrRefreshInProgress is returned when a second refresh starts while one
// is still running.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// LoginProvider is the identity provider capability used by Refresher.
type LoginProvider interface {
	TriggerLogin(ctx context.Context) error
	Exchange(ctx context.Context, verificationToken string) (string, error)
}

// TokenFinder locates verification tokens in the mailbox.
type TokenFinder interface {
	LatestUID(ctx context.Context, criteria mailbox.Criteria) (uint32, error)
	FindVerificationToken(ctx context.Context, criteria mailbox.Criteria) (*mailbox.Token, error)
}

// Backoff bounds the wait for login mail. The mailbox is checked after
// Initial, then at doubling intervals capped at Max, until Deadline has
// elapsed since the first check was scheduled.
type Backoff struct {
	Initial  time.Duration
	Max      time.Duration
	Deadline time.Duration
}

// DefaultBackoff is used for zero fields of Options.Backoff.
var DefaultBackoff = Backoff{
	Initial:  5 * time.Second,
	Max:      30 * time.Second,
	Deadline: 2 * time.Minute,
}

// alertTimeout bounds delivery of a single operator alert.
const alertTimeout = 30 * time.Second

// Options configures a Refresher.
type Options struct {
	Criteria mailbox.Criteria
	Backoff  Backoff

	// AllowTokenFallback uses the verification token as the access
	// credential when the exchange fails.
	AllowTokenFallback bool
}

// Refresher runs the magic-link login flow and persists the result.
type Refresher struct {
	provider LoginProvider
	finder   TokenFinder
	store    credential.Store
	alerter  notify.Notifier
	opts     Options
	logger   zerolog.Logger

	inFlight atomic.Bool

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewRefresher creates a Refresher. alerter receives operator alerts and
// may be nil.
func NewRefresher(
	provider LoginProvider,
	finder TokenFinder,
	store credential.Store,
	alerter notify.Notifier,
	opts Options,
	logger zerolog.Logger,
) *Refresher {
	if opts.Backoff.Initial <= 0 {
		opts.Backoff.Initial = DefaultBackoff.Initial
	}
	if opts.Backoff.Max < opts.Backoff.Initial {
		opts.Backoff.Max = max(DefaultBackoff.Max, opts.Backoff.Initial)
	}
	if opts.Backoff.Deadline <= 0 {
		opts.Backoff.Deadline = DefaultBackoff.Deadline
	}

	return &Refresher{
		provider: provider,
		finder:   finder,
		store:    store,
		alerter:  alerter,
		opts:     opts,
		logger:   logger.With().Str("component", "identity").Logger(),
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// Refresh obtains and persists a new access credential. Any failure is
// returned as a *source.RefreshFailedError and alerted to the operator.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		return "", &source.RefreshFailedError{Stage: "start", Err: ErrRefreshInProgress}
	}
	defer r.inFlight.Store(false)

	r.logger.Info().Msg("starting magic-link login")

	token, err := r.refresh(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("login failed")
		r.alert(ctx, notify.FormatRefreshFailed(err))
		return "", err
	}

	r.logger.Info().Msg("login succeeded")
	return token, nil
}

func (r *Refresher) refresh(ctx context.Context) (string, error) {
	criteria := r.opts.Criteria

	// Mail already in the box was sent for an earlier login; only newer
	// messages can carry a link for this one.
	baseline, err := r.finder.LatestUID(ctx, criteria)
	if err != nil {
		r.logger.Warn().Err(err).Msg("reading mailbox baseline failed")
	} else {
		criteria.AfterUID = baseline
	}

	// A failed trigger is not fatal: a link from an earlier trigger may
	// still be on its way.
	if err := r.provider.TriggerLogin(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("login trigger failed, checking mailbox anyway")
	} else {
		r.logger.Info().Msg("login email requested")
	}

	tok, err := r.waitForToken(ctx, criteria)
	if err != nil {
		return "", &source.RefreshFailedError{Stage: "mailbox", Err: err}
	}

	access, err := r.provider.Exchange(ctx, tok.Value)
	if err != nil {
		if ctx.Err() != nil || !r.opts.AllowTokenFallback {
			return "", &source.RefreshFailedError{Stage: "exchange", Err: err}
		}
		r.logger.Error().Err(err).Msg("token exchange failed, using verification token as credential")
		r.alert(ctx, notify.FormatTokenFallback(err))
		access = tok.Value
	}

	if err := r.store.Save(ctx, access); err != nil {
		r.logger.Error().Err(err).Msg("persisting credential failed, it is only valid for this run")
	}

	return access, nil
}

// waitForToken polls the mailbox with capped exponential backoff until a
// token is found, a mailbox fault occurs, or the deadline passes.
func (r *Refresher) waitForToken(
	ctx context.Context,
	criteria mailbox.Criteria,
) (*mailbox.Token, error) {
	b := r.opts.Backoff
	deadline := r.now().Add(b.Deadline)
	delay := b.Initial

	for attempt := 1; ; attempt++ {
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}

		tok, err := r.finder.FindVerificationToken(ctx, criteria)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, source.ErrNotFound) {
			return nil, err
		}

		delay = min(delay*2, b.Max)
		if !r.now().Add(delay).Before(deadline) {
			return nil, fmt.Errorf("no login email after %d checks in %s: %w", attempt, b.Deadline, err)
		}
		r.logger.Debug().Int("attempt", attempt).Dur("next", delay).Msg("login email not there yet")
	}
}

// alert notifies the operator. It runs detached from ctx so that a
// refresh ended by cancellation or a deadline is still reported.
func (r *Refresher) alert(ctx context.Context, text string) {
	if r.alerter == nil {
		return
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()

	if err := r.alerter.Send(actx, text); err != nil {
		r.logger.Warn().Err(err).Msg("sending alert failed")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
