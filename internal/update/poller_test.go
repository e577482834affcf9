package update

import (
	"context"
	"testing"
	"time"

	"github.com/bryan-buckman/onosendai/internal/model"
	"github.com/go-playground/assert/v2"
)

func newTestPoller(store *fakeStore, puller *fakePuller, columns ...model.Column) *Poller {
	u := New(store, registryOf(puller), WithObserver(quiet))
	p := NewPoller(u, []model.Account{twitterAccount}, columns, false, time.Hour)
	p.limiter.delay = 0
	return p
}

func waitIdle(t *testing.T, p *Poller, columnID int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for p.Running(columnID) {
		if time.Now().After(deadline) {
			t.Fatalf("column %d still running", columnID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTryRefreshCoalescesRunningColumn(t *testing.T) {
	store := newFakeStore()
	puller := &fakePuller{started: make(chan struct{}, 1), release: make(chan struct{})}
	p := newTestPoller(store, puller, homeColumn)
	defer p.Stop()

	assert.Equal(t, nil, p.TryRefresh(homeColumn.ID))
	<-puller.started
	assert.Equal(t, true, p.Running(homeColumn.ID))
	assert.Equal(t, ErrRunning, p.TryRefresh(homeColumn.ID))

	close(puller.release)
	waitIdle(t, p, homeColumn.ID)
	assert.Equal(t, 1, puller.calls())
}

func TestTryRefreshRejectsUnknownAndAccountless(t *testing.T) {
	store := newFakeStore()
	loose := model.Column{ID: 9, Title: "Loose"}
	p := newTestPoller(store, &fakePuller{}, homeColumn, loose)
	defer p.Stop()

	assert.Equal(t, ErrUnknownColumn, p.TryRefresh(42))
	assert.Equal(t, ErrNoAccount, p.TryRefresh(loose.ID))
}

func TestRunDueSkipsManualAndAccountlessColumns(t *testing.T) {
	store := newFakeStore()
	puller := &fakePuller{}
	manual := homeColumn.WithID(3)
	manual.RefreshIntervalMins = 0
	loose := model.Column{ID: 4, RefreshIntervalMins: 5}
	p := newTestPoller(store, puller, homeColumn, manual, loose)
	defer p.Stop()

	assert.Equal(t, 1, p.RunDue())
	assert.Equal(t, 1, puller.calls())

	// not due again until the interval passes
	assert.Equal(t, 0, p.RunDue())

	// manual columns still refresh on demand
	assert.Equal(t, nil, p.TryRefresh(manual.ID))
	waitIdle(t, p, manual.ID)
	assert.Equal(t, 2, puller.calls())
}

func TestProviderLimiterBoundsConcurrency(t *testing.T) {
	pl := newProviderLimiter()
	pl.delay = 0
	ctx := context.Background()

	for i := 0; i < MaxConcurrencyPerProvider; i++ {
		assert.Equal(t, nil, pl.acquire(ctx, model.ProviderTwitter))
	}
	// a different provider is independent
	assert.Equal(t, nil, pl.acquire(ctx, model.ProviderInstapaper))

	done := make(chan struct{})
	go func() {
		_ = pl.acquire(ctx, model.ProviderTwitter)
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("acquire did not block at the provider limit")
	case <-time.After(50 * time.Millisecond):
	}
	pl.release(model.ProviderTwitter)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire did not resume after release")
	}
}

func TestStopCancelsRunWithoutRecordingError(t *testing.T) {
	store := newFakeStore()
	puller := &fakePuller{started: make(chan struct{}, 1)}
	// FetchSince blocks until the run context is cancelled
	puller.release = make(chan struct{})
	p := newTestPoller(store, puller, homeColumn)

	assert.Equal(t, nil, p.TryRefresh(homeColumn.ID))
	<-puller.started
	go func() {
		<-p.ctx.Done()
		close(puller.release)
	}()
	puller.err = context.Canceled

	p.Stop()
	p.Stop()

	_, hasErr := store.value(model.LastRefreshErrorKey(homeColumn.ID))
	assert.Equal(t, false, hasErr)
	assert.Equal(t, false, p.Running(homeColumn.ID))
}
