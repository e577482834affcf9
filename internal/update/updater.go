// Package update syncs columns with their providers.
//
// An Updater runs one column at a time: it pulls new tweets into the store
// for feed providers, or pushes stored tweets out for read-later providers.
// The Poller schedules those runs and never lets two overlap for a column.
package update

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/bryan-buckman/onosendai/internal/model"
	"github.com/bryan-buckman/onosendai/internal/provider"
)

// DefaultPushBatchSize is how many stored tweets a push run sends at most.
const DefaultPushBatchSize = 10

// Store is the part of database.Store an Updater needs.
type Store interface {
	GetTweets(columnID, limit int) ([]model.Tweet, error)
	GetTweetsSinceTime(columnID int, since int64, limit int) ([]model.Tweet, error)
	GetTweetDetails(columnID int, tweet model.Tweet) (*model.Tweet, error)
	StoreTweets(column model.Column, tweets []model.Tweet) error
	GetValue(key string) (string, bool, error)
	StoreValue(key, value string) error
	DeleteValue(key string) error
	NotifyColumnState(columnID int, state model.ColumnState)
}

// Report describes one finished column run.
type Report struct {
	ColumnID int
	Title    string
	Provider model.ProviderKind
	Items    int
	Duration time.Duration
	Err      error
}

// Observer receives a Report after every run.
type Observer func(Report)

// LogReport is the default Observer.
func LogReport(r Report) {
	if r.Err != nil {
		log.Printf("Column %d '%s' failed after %d millis: %v", r.ColumnID, r.Title, r.Duration.Milliseconds(), r.Err)
		return
	}
	log.Printf("Fetched %d items for '%s' in %d millis.", r.Items, r.Title, r.Duration.Milliseconds())
}

// Updater runs a single sync pass for a column.
type Updater struct {
	store         Store
	registry      *provider.Registry
	pushBatchSize int
	observe       Observer
}

// Option configures an Updater.
type Option func(*Updater)

// WithPushBatchSize caps how many tweets one push run sends.
func WithPushBatchSize(n int) Option {
	return func(u *Updater) {
		if n > 0 {
			u.pushBatchSize = n
		}
	}
}

// WithObserver replaces the logging observer.
func WithObserver(o Observer) Option {
	return func(u *Updater) {
		if o != nil {
			u.observe = o
		}
	}
}

// New creates an Updater.
func New(store Store, registry *provider.Registry, opts ...Option) *Updater {
	u := &Updater{
		store:         store,
		registry:      registry,
		pushBatchSize: DefaultPushBatchSize,
		observe:       LogReport,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// FetchColumn syncs column with the provider of account. It never returns
// an error: a failure is stored as the column's last refresh error, and a
// success clears it. The column is reported running for the duration of
// the call.
func (u *Updater) FetchColumn(ctx context.Context, account model.Account, column model.Column) {
	u.store.NotifyColumnState(column.ID, model.UpdateRunning)
	defer u.store.NotifyColumnState(column.ID, model.UpdateOver)

	start := time.Now()
	items, err := u.run(ctx, account, column)
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.Canceled):
		// Aborted by the caller, usually shutdown. The column itself is fine.
		log.Printf("Column %d refresh cancelled: %v", column.ID, err)
	default:
		if serr := u.store.StoreValue(model.LastRefreshErrorKey(column.ID), provider.FriendlyMessage(err)); serr != nil {
			log.Printf("Error recording failure for column %d: %v", column.ID, serr)
		}
	}
	u.observe(Report{
		ColumnID: column.ID,
		Title:    column.Title,
		Provider: account.Provider,
		Items:    items,
		Duration: time.Since(start),
		Err:      err,
	})
}

func (u *Updater) run(ctx context.Context, account model.Account, column model.Column) (items int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = provider.Errorf(provider.ClassInternal, "update", "panic: %v", r)
		}
	}()

	adapter, err := u.registry.Get(account.Provider)
	if err != nil {
		return 0, err
	}
	switch a := adapter.(type) {
	case provider.Puller:
		items, err = u.pull(ctx, a, account, column)
	case provider.Pusher:
		items, err = u.push(ctx, a, account, column)
	default:
		return 0, provider.Errorf(provider.ClassInternal, "update", "unknown account type: %s", account.Provider)
	}
	return items, err
}

func (u *Updater) pull(ctx context.Context, p provider.Puller, account model.Account, column model.Column) (int, error) {
	if err := p.AddAccount(account); err != nil {
		return 0, err
	}
	feed, err := p.ResolveFeed(column)
	if err != nil {
		return 0, err
	}

	var cursor provider.Cursor
	newest, err := u.store.GetTweets(column.ID, 1)
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	if len(newest) > 0 {
		cursor = provider.Cursor(newest[len(newest)-1].Sid)
	}

	list, err := p.FetchSince(ctx, feed, account, cursor)
	if err != nil {
		return 0, err
	}
	if list.Count() > 0 {
		if err := u.store.StoreTweets(column, list.Tweets()); err != nil {
			return 0, fmt.Errorf("store tweets: %w", err)
		}
	}
	if err := u.store.DeleteValue(model.LastRefreshErrorKey(column.ID)); err != nil {
		return list.Count(), fmt.Errorf("clear error: %w", err)
	}
	return list.Count(), nil
}

// push sends the oldest unsent tweets, advancing the push marker after each
// confirmed send so a failure part way resumes with the failed tweet.
func (u *Updater) push(ctx context.Context, p provider.Pusher, account model.Account, column model.Column) (int, error) {
	m, err := u.readPushMarker(column.ID)
	if err != nil {
		return 0, err
	}
	tweets, err := u.unpushed(column.ID, m)
	if err != nil {
		return 0, err
	}

	pushed := 0
	for _, t := range tweets {
		if err := ctx.Err(); err != nil {
			return pushed, provider.Errorf(provider.ClassTransport, "update", "push cancelled: %w", err)
		}
		full, err := u.store.GetTweetDetails(column.ID, t)
		if err != nil {
			return pushed, fmt.Errorf("load tweet %s: %w", t.Sid, err)
		}
		if full == nil {
			return pushed, provider.Errorf(provider.ClassInternal, "update", "tweet %s vanished from column %d", t.Sid, column.ID)
		}
		if err := p.Push(ctx, account, *full); err != nil {
			return pushed, err
		}
		// sid first: a stale time with a newer sid only repeats a push.
		if err := u.store.StoreValue(model.LastPushSidKey(column.ID), t.Sid); err != nil {
			return pushed, fmt.Errorf("advance push marker: %w", err)
		}
		if err := u.store.StoreValue(model.LastPushTimeKey(column.ID), strconv.FormatInt(t.Time, 10)); err != nil {
			return pushed, fmt.Errorf("advance push marker: %w", err)
		}
		pushed++
	}
	if err := u.store.DeleteValue(model.LastRefreshErrorKey(column.ID)); err != nil {
		return pushed, fmt.Errorf("clear error: %w", err)
	}
	return pushed, nil
}

// pushMarker is the last confirmed push. sid is empty when only the time
// is known, in which case everything at that time counts as sent.
type pushMarker struct {
	time int64
	sid  string
}

func (u *Updater) readPushMarker(columnID int) (pushMarker, error) {
	var m pushMarker
	raw, ok, err := u.store.GetValue(model.LastPushTimeKey(columnID))
	if err != nil {
		return m, fmt.Errorf("read push marker: %w", err)
	}
	if !ok {
		return m, nil
	}
	m.time, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return m, provider.Errorf(provider.ClassNumericParse, "update", "push marker %q: %w", raw, err)
	}
	m.sid, _, err = u.store.GetValue(model.LastPushSidKey(columnID))
	if err != nil {
		return m, fmt.Errorf("read push marker: %w", err)
	}
	return m, nil
}

// unpushed returns up to a batch of tweets after m, oldest first. Tweets
// sharing the marker's time are read again and those stored up to and
// including the marker sid are dropped, so ties are neither skipped nor
// sent twice.
func (u *Updater) unpushed(columnID int, m pushMarker) ([]model.Tweet, error) {
	if m.sid == "" {
		tweets, err := u.store.GetTweetsSinceTime(columnID, m.time, u.pushBatchSize)
		if err != nil {
			return nil, fmt.Errorf("read unsent tweets: %w", err)
		}
		return tweets, nil
	}

	for limit := u.pushBatchSize; ; limit += u.pushBatchSize {
		tweets, err := u.store.GetTweetsSinceTime(columnID, m.time-1, limit)
		if err != nil {
			return nil, fmt.Errorf("read unsent tweets: %w", err)
		}
		pending := afterMarker(tweets, m)
		if len(pending) >= u.pushBatchSize {
			return pending[:u.pushBatchSize], nil
		}
		if len(tweets) < limit {
			return pending, nil
		}
	}
}

// afterMarker drops the leading tweets at the marker's time up to and
// including the marker sid.
func afterMarker(tweets []model.Tweet, m pushMarker) []model.Tweet {
	skipping := true
	var pending []model.Tweet
	for _, t := range tweets {
		if skipping && t.Time == m.time {
			if t.Sid == m.sid {
				skipping = false
			}
			continue
		}
		skipping = false
		pending = append(pending, t)
	}
	return pending
}

// DismissError clears the stored refresh error of column.
func DismissError(store Store, column model.Column) error {
	return store.DeleteValue(model.LastRefreshErrorKey(column.ID))
}
