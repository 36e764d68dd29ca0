package sync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskwatch/internal/model"
	"github.com/nhle/taskwatch/internal/notify"
	"github.com/nhle/taskwatch/internal/source"
	"github.com/nhle/taskwatch/internal/sync"
	"github.com/nhle/taskwatch/tests/testutil"
)

type fakeSource struct {
	entities []model.Entity
	err      error
	calls    int
	block    chan struct{}
	started  chan struct{}
}

func (f *fakeSource) FetchEntities(context.Context) ([]model.Entity, error) {
	f.calls++
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return f.entities, f.err
}

type recordingNotifier struct {
	sent []string
	err  error
}

func (r *recordingNotifier) Send(_ context.Context, text string) error {
	r.sent = append(r.sent, text)
	return r.err
}

type brokenSnapshots struct {
	loadErr    error
	replaceErr error
}

func (b *brokenSnapshots) LoadSnapshot(context.Context) (model.Snapshot, error) {
	return model.Snapshot{}, b.loadErr
}

func (b *brokenSnapshots) ReplaceSnapshot(context.Context, model.Snapshot) error {
	return b.replaceErr
}

func TestRunOnceFirstCycleNotifiesEverything(t *testing.T) {
	st := testutil.NewTestStore(t)
	src := &fakeSource{entities: []model.Entity{
		{ID: "p1", Name: "Alpha", Total: 10, Draft: 3},
		{ID: "p2", Name: "Beta", Total: 4, Draft: 1},
	}}
	n := &recordingNotifier{}
	p := sync.New(src, st, st, n, zerolog.Nop())

	out := p.RunOnce(context.Background())

	assert.Equal(t, sync.CycleOK, out.State)
	assert.Equal(t, 2, out.Entities)
	assert.Equal(t, 2, out.Events)
	assert.Equal(t, 2, out.Delivered)
	require.Len(t, n.sent, 2)
	assert.Contains(t, n.sent[0], "NEW PROJECT FOUND")

	snap, err := st.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Snapshot{"p1": 10, "p2": 4}, snap)

	history, err := st.RecentNotifications(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, h := range history {
		assert.True(t, h.Delivered)
		assert.Equal(t, string(model.EventNewEntity), h.Kind)
		assert.NotEmpty(t, h.ID)
	}
}

func TestRunOnceSteadyStateIsQuiet(t *testing.T) {
	st := testutil.NewTestStore(t)
	src := &fakeSource{entities: []model.Entity{{ID: "p1", Name: "Alpha", Total: 10}}}
	n := &recordingNotifier{}
	p := sync.New(src, st, st, n, zerolog.Nop())

	p.RunOnce(context.Background())
	out := p.RunOnce(context.Background())

	assert.Equal(t, sync.CycleOK, out.State)
	assert.Zero(t, out.Events)
	assert.Len(t, n.sent, 1)
}

func TestRunOnceIncrease(t *testing.T) {
	st := testutil.NewTestStore(t)
	require.NoError(t, st.ReplaceSnapshot(context.Background(), model.Snapshot{"p1": 10}))

	src := &fakeSource{entities: []model.Entity{{ID: "p1", Name: "Alpha", Total: 13, Draft: 5}}}
	n := &recordingNotifier{}
	p := sync.New(src, st, st, n, zerolog.Nop())

	out := p.RunOnce(context.Background())

	assert.Equal(t, 1, out.Events)
	require.Len(t, n.sent, 1)
	assert.Contains(t, n.sent[0], "New Tasks: +3")
}

func TestRunOnceFetchFailurePreservesState(t *testing.T) {
	st := testutil.NewTestStore(t)
	require.NoError(t, st.ReplaceSnapshot(context.Background(), model.Snapshot{"p1": 10}))

	fetchErr := &source.TransportError{Op: "GET /v1/projects", Err: errors.New("timeout")}
	src := &fakeSource{err: fetchErr}
	n := &recordingNotifier{}
	p := sync.New(src, st, st, n, zerolog.Nop())

	out := p.RunOnce(context.Background())

	assert.Equal(t, sync.CycleNoData, out.State)
	assert.ErrorIs(t, out.Err, fetchErr)
	assert.Empty(t, n.sent)

	snap, err := st.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Snapshot{"p1": 10}, snap)
}

func TestRunOnceUndeliveredIsRecorded(t *testing.T) {
	st := testutil.NewTestStore(t)
	src := &fakeSource{entities: []model.Entity{{ID: "p1", Name: "Alpha", Total: 1}}}
	n := &recordingNotifier{err: errors.New("bot blocked")}
	p := sync.New(src, st, st, n, zerolog.Nop())

	out := p.RunOnce(context.Background())

	assert.Equal(t, sync.CycleOK, out.State)
	assert.Equal(t, 1, out.Events)
	assert.Zero(t, out.Delivered)

	history, err := st.RecentNotifications(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Delivered)
	assert.Equal(t, "p1", history[0].EntityID)
}

func TestRunOnceSnapshotWriteFailureHoldsNotifications(t *testing.T) {
	src := &fakeSource{entities: []model.Entity{{ID: "p1", Name: "Alpha", Total: 1}}}
	n := &recordingNotifier{}
	snaps := &brokenSnapshots{replaceErr: errors.New("disk full")}
	p := sync.New(src, snaps, nil, n, zerolog.Nop())

	out := p.RunOnce(context.Background())

	assert.Equal(t, sync.CycleStateError, out.State)
	assert.Equal(t, 1, out.Events)
	assert.Empty(t, n.sent)
}

func TestRunOnceSnapshotReadFailureSkipsCycle(t *testing.T) {
	src := &fakeSource{entities: []model.Entity{{ID: "p1", Total: 1}}}
	n := &recordingNotifier{}
	p := sync.New(src, &brokenSnapshots{loadErr: errors.New("locked")}, nil, n, zerolog.Nop())

	out := p.RunOnce(context.Background())

	assert.Equal(t, sync.CycleStateError, out.State)
	assert.Empty(t, n.sent)
}

func TestRunOnceCyclesDoNotOverlap(t *testing.T) {
	st := testutil.NewTestStore(t)
	src := &fakeSource{block: make(chan struct{}), started: make(chan struct{})}
	p := sync.New(src, st, st, &recordingNotifier{}, zerolog.Nop())

	done := make(chan sync.Outcome)
	go func() { done <- p.RunOnce(context.Background()) }()

	<-src.started
	second := p.RunOnce(context.Background())
	assert.Equal(t, sync.CycleSkipped, second.State)

	close(src.block)
	first := <-done
	assert.Equal(t, sync.CycleOK, first.State)
	assert.Equal(t, 1, src.calls)
}

func TestRunAnnouncesAndStops(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	src := &fakeSource{entities: []model.Entity{{ID: "p1", Name: "Alpha", Total: 2}}}
	n := &cancelingNotifier{after: 2, cancel: cancel}
	p := sync.New(src, st, st, n, zerolog.Nop())

	require.NoError(t, p.Run(ctx, time.Hour, true))

	require.Len(t, n.sent, 2)
	assert.Equal(t, notify.StartupMessage, n.sent[0])
	assert.Contains(t, n.sent[1], "Alpha")
	assert.Equal(t, 1, src.calls)
}

func TestRunRejectsZeroInterval(t *testing.T) {
	p := sync.New(&fakeSource{}, testutil.NewTestStore(t), nil, &recordingNotifier{}, zerolog.Nop())
	assert.Error(t, p.Run(context.Background(), 0, false))
}

// cancelingNotifier stops the run once it has sent the given number of
// messages.
type cancelingNotifier struct {
	recordingNotifier
	after  int
	cancel context.CancelFunc
}

func (c *cancelingNotifier) Send(ctx context.Context, text string) error {
	err := c.recordingNotifier.Send(ctx, text)
	if len(c.sent) >= c.after {
		c.cancel()
	}
	return err
}

func TestAlertRecorder(t *testing.T) {
	st := testutil.NewTestStore(t)
	n := &recordingNotifier{err: errors.New("offline")}
	rec := sync.NewAlertRecorder(n, st, zerolog.Nop())

	err := rec.Send(context.Background(), "login failed")
	assert.Error(t, err)

	history, err := st.RecentNotifications(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.KindAlert, history[0].Kind)
	assert.Equal(t, "login failed", history[0].Message)
	assert.False(t, history[0].Delivered)
}
