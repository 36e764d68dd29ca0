// Package sync drives poll cycles: fetch, diff, persist, notify.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/taskwatch/internal/detect"
	"github.com/nhle/taskwatch/internal/model"
	"github.com/nhle/taskwatch/internal/notify"
	"github.com/nhle/taskwatch/internal/source"
	"github.com/nhle/taskwatch/internal/store"
)

// CycleState is the overall result of one poll cycle.
type CycleState int

const (
	// CycleOK means entities were fetched and the snapshot is current.
	CycleOK CycleState = iota
	// CycleNoData means the fetch failed and the snapshot was left as is.
	CycleNoData
	// CycleStateError means the snapshot could not be read or written.
	CycleStateError
	// CycleSkipped means a previous cycle was still running.
	CycleSkipped
)

func (s CycleState) String() string {
	switch s {
	case CycleOK:
		return "ok"
	case CycleNoData:
		return "no_data"
	case CycleStateError:
		return "state_error"
	case CycleSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("CycleState(%d)", int(s))
	}
}

// Outcome reports what a cycle did. Err is informational; a cycle never
// fails the process.
type Outcome struct {
	State     CycleState
	Entities  int
	Events    int
	Delivered int
	Err       error
}

// defaultCycleTimeout bounds a whole cycle, including a re-authentication
// that waits for login mail.
const defaultCycleTimeout = 5 * time.Minute

// Poller runs poll cycles against a single source. Cycles never overlap.
type Poller struct {
	src      source.Source
	state    store.SnapshotStore
	history  store.NotificationLog
	notifier notify.Notifier
	logger   zerolog.Logger

	// CycleTimeout bounds each cycle started by Run.
	CycleTimeout time.Duration

	mu  gosync.Mutex
	now func() time.Time
}

// New creates a Poller. history may be nil, in which case sent messages are
// not recorded.
func New(
	src source.Source,
	state store.SnapshotStore,
	history store.NotificationLog,
	notifier notify.Notifier,
	logger zerolog.Logger,
) *Poller {
	return &Poller{
		src:          src,
		state:        state,
		history:      history,
		notifier:     notifier,
		logger:       logger.With().Str("component", "poller").Logger(),
		CycleTimeout: defaultCycleTimeout,
		now:          time.Now,
	}
}

// RunOnce performs one cycle. If another cycle is in progress it returns
// immediately with CycleSkipped.
func (p *Poller) RunOnce(ctx context.Context) Outcome {
	if !p.mu.TryLock() {
		p.logger.Warn().Msg("previous cycle still running, skipping")
		return Outcome{State: CycleSkipped}
	}
	defer p.mu.Unlock()

	entities, err := p.src.FetchEntities(ctx)
	if err != nil {
		p.logFetchError(err)
		return Outcome{State: CycleNoData, Err: err}
	}

	prev, err := p.state.LoadSnapshot(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("loading snapshot failed")
		return Outcome{State: CycleStateError, Entities: len(entities), Err: err}
	}

	events, next := detect.Diff(entities, prev)
	out := Outcome{State: CycleOK, Entities: len(entities), Events: len(events)}

	if !next.Equal(prev) {
		if err := p.state.ReplaceSnapshot(ctx, next); err != nil {
			// Notifying now would repeat the same events next cycle.
			p.logger.Error().Err(err).Int("events", len(events)).Msg("saving snapshot failed, notifications held back")
			out.State = CycleStateError
			out.Err = err
			return out
		}
	}

	for _, ev := range events {
		if p.deliver(ctx, ev) {
			out.Delivered++
		}
	}

	p.logger.Info().
		Int("entities", out.Entities).
		Int("events", out.Events).
		Int("delivered", out.Delivered).
		Msg("cycle complete")

	return out
}

// Run executes a cycle immediately and then once per interval until ctx is
// done. When announce is set, the startup message is sent first.
func (p *Poller) Run(ctx context.Context, interval time.Duration, announce bool) error {
	if interval <= 0 {
		return fmt.Errorf("invalid poll interval %s", interval)
	}

	if announce {
		if err := p.notifier.Send(ctx, notify.StartupMessage); err != nil {
			p.logger.Warn().Err(err).Msg("sending startup message failed")
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("poller stopped")
			return nil
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

func (p *Poller) runCycle(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, p.CycleTimeout)
	defer cancel()

	out := p.RunOnce(cctx)
	if out.State != CycleOK {
		p.logger.Debug().Stringer("state", out.State).Msg("cycle ended without update")
	}
}

// deliver sends the message for ev and records it in the history.
func (p *Poller) deliver(ctx context.Context, ev model.Event) bool {
	text := notify.FormatEvent(ev)

	delivered := true
	if err := p.notifier.Send(ctx, text); err != nil {
		delivered = false
		p.logger.Warn().Err(err).Str("entity", ev.Entity.ID).Msg("sending notification failed")
	}

	if p.history != nil {
		n := model.Notification{
			ID:        uuid.New().String(),
			EntityID:  ev.Entity.ID,
			Kind:      string(ev.Kind),
			Message:   text,
			Delivered: delivered,
			CreatedAt: p.now(),
		}
		if err := p.history.CreateNotification(ctx, n); err != nil {
			p.logger.Warn().Err(err).Msg("recording notification failed")
		}
	}

	return delivered
}

func (p *Poller) logFetchError(err error) {
	if source.IsRefreshFailed(err) {
		p.logger.Error().Err(err).Msg("login failed, no data this cycle")
		return
	}

	kind := "other"
	switch {
	case source.IsAuthError(err):
		kind = "auth"
	case source.IsTransportError(err):
		kind = "transport"
	case source.IsMalformed(err):
		kind = "malformed"
	}
	p.logger.Warn().Err(err).Str("kind", kind).Msg("fetch failed, no data this cycle")
}

// AlertRecorder forwards operator alerts and records each one in the
// notification history.
type AlertRecorder struct {
	next    notify.Notifier
	history store.NotificationLog
	logger  zerolog.Logger
}

// NewAlertRecorder wraps next so every alert is also written to history.
func NewAlertRecorder(next notify.Notifier, history store.NotificationLog, logger zerolog.Logger) *AlertRecorder {
	return &AlertRecorder{next: next, history: history, logger: logger}
}

// Send delivers text and records the attempt.
func (a *AlertRecorder) Send(ctx context.Context, text string) error {
	sendErr := a.next.Send(ctx, text)

	n := model.Notification{
		ID:        uuid.New().String(),
		Kind:      model.KindAlert,
		Message:   text,
		Delivered: sendErr == nil,
		CreatedAt: time.Now(),
	}
	if err := a.history.CreateNotification(ctx, n); err != nil {
		a.logger.Warn().Err(err).Msg("recording alert failed")
	}

	return sendErr
}
