package update

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/bryan-buckman/onosendai/internal/model"
)

// Concurrency settings
const (
	// MaxConcurrencyPostgres is the number of parallel column runs for PostgreSQL
	MaxConcurrencyPostgres = 10
	// MaxConcurrencySQLite is the number of parallel column runs for SQLite (limited due to locking)
	MaxConcurrencySQLite = 1
	// MaxConcurrencyPerProvider limits parallel runs against any single provider
	MaxConcurrencyPerProvider = 2
	// DelayBetweenProviderRequests is the minimum delay between runs against the same provider
	DelayBetweenProviderRequests = 500 * time.Millisecond
	// RunTimeout bounds a single column run.
	RunTimeout = 10 * time.Minute
)

var (
	ErrUnknownColumn = errors.New("unknown column")
	ErrNoAccount     = errors.New("column has no account")
	ErrRunning       = errors.New("column refresh already running")
)

// providerLimiter controls rate limiting per provider to avoid hammering a service.
type providerLimiter struct {
	mu          sync.Mutex
	delay       time.Duration
	semaphores  map[model.ProviderKind]chan struct{}
	lastRequest map[model.ProviderKind]time.Time
}

func newProviderLimiter() *providerLimiter {
	return &providerLimiter{
		delay:       DelayBetweenProviderRequests,
		semaphores:  make(map[model.ProviderKind]chan struct{}),
		lastRequest: make(map[model.ProviderKind]time.Time),
	}
}

// acquire gets a slot for the provider, blocking if necessary.
// It also enforces the minimum delay between runs against the same provider.
func (pl *providerLimiter) acquire(ctx context.Context, kind model.ProviderKind) error {
	pl.mu.Lock()
	sem, ok := pl.semaphores[kind]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerProvider)
		pl.semaphores[kind] = sem
	}
	pl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	pl.mu.Lock()
	lastReq := pl.lastRequest[kind]
	pl.mu.Unlock()

	if !lastReq.IsZero() {
		if elapsed := time.Since(lastReq); elapsed < pl.delay {
			select {
			case <-time.After(pl.delay - elapsed):
			case <-ctx.Done():
				<-sem
				return ctx.Err()
			}
		}
	}
	return nil
}

// release returns a slot for the provider and records the run time.
func (pl *providerLimiter) release(kind model.ProviderKind) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	pl.lastRequest[kind] = time.Now()
	if sem, ok := pl.semaphores[kind]; ok {
		<-sem
	}
}

// Poller runs columns on their refresh interval and on demand. At most one
// run per column is in flight; a request for a busy column is dropped.
type Poller struct {
	updater  *Updater
	accounts map[string]model.Account
	columns  []model.Column
	interval time.Duration
	limiter  *providerLimiter
	slots    chan struct{}

	mu       sync.Mutex
	inFlight map[int]bool
	lastRun  map[int]time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller creates a background poller. Workers are sized by whether the
// store handles concurrent writes. interval is how often due columns are
// looked for.
func NewPoller(u *Updater, accounts []model.Account, columns []model.Column, highConcurrency bool, interval time.Duration) *Poller {
	concurrency := MaxConcurrencySQLite
	if highConcurrency {
		concurrency = MaxConcurrencyPostgres
	}
	byID := make(map[string]model.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		updater:  u,
		accounts: byID,
		columns:  columns,
		interval: interval,
		limiter:  newProviderLimiter(),
		slots:    make(chan struct{}, concurrency),
		inFlight: make(map[int]bool),
		lastRun:  make(map[int]time.Time),
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
	}
}

// Columns returns the configured columns.
func (p *Poller) Columns() []model.Column {
	return p.columns
}

// Running reports whether a run for the column is in flight.
func (p *Poller) Running(columnID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight[columnID]
}

// TryRefresh starts a run for the column in the background. It returns
// ErrRunning if one is already in flight.
func (p *Poller) TryRefresh(columnID int) error {
	col, acct, err := p.lookup(columnID)
	if err != nil {
		return err
	}
	if !p.claim(col.ID) {
		return ErrRunning
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(col, acct)
	}()
	return nil
}

func (p *Poller) lookup(columnID int) (model.Column, model.Account, error) {
	for _, c := range p.columns {
		if c.ID != columnID {
			continue
		}
		if c.AccountID == "" {
			return c, model.Account{}, ErrNoAccount
		}
		a, ok := p.accounts[c.AccountID]
		if !ok {
			return c, model.Account{}, ErrNoAccount
		}
		return c, a, nil
	}
	return model.Column{}, model.Account{}, ErrUnknownColumn
}

func (p *Poller) claim(columnID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[columnID] {
		return false
	}
	p.inFlight[columnID] = true
	return true
}

// due reports whether a column should run at now.
func (p *Poller) due(c model.Column, now time.Time) bool {
	if c.RefreshIntervalMins <= 0 || c.AccountID == "" {
		return false
	}
	p.mu.Lock()
	last, ok := p.lastRun[c.ID]
	p.mu.Unlock()
	return !ok || now.Sub(last) >= time.Duration(c.RefreshIntervalMins)*time.Minute
}

// RunDue runs every due column and waits for them to finish. Returns the
// number of runs started.
func (p *Poller) RunDue() int {
	now := time.Now()
	var wg sync.WaitGroup
	started := 0
	for _, c := range p.columns {
		if !p.due(c, now) {
			continue
		}
		col, acct, err := p.lookup(c.ID)
		if err != nil {
			continue
		}
		if !p.claim(col.ID) {
			continue
		}
		started++
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.run(col, acct)
		}()
	}
	wg.Wait()
	return started
}

func (p *Poller) run(col model.Column, acct model.Account) {
	defer func() {
		p.mu.Lock()
		p.lastRun[col.ID] = time.Now()
		delete(p.inFlight, col.ID)
		p.mu.Unlock()
	}()

	select {
	case p.slots <- struct{}{}:
	case <-p.ctx.Done():
		return
	}
	defer func() { <-p.slots }()

	if err := p.limiter.acquire(p.ctx, acct.Provider); err != nil {
		log.Printf("Column %d refresh cancelled: %v", col.ID, err)
		return
	}
	defer p.limiter.release(acct.Provider)

	ctx, cancel := context.WithTimeout(p.ctx, RunTimeout)
	defer cancel()
	p.updater.FetchColumn(ctx, acct, col)
}

// Start begins the polling loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Printf("Poller: watching %d columns (interval: %s, workers: %d)", len(p.columns), p.interval, cap(p.slots))
		for {
			if n := p.RunDue(); n > 0 {
				log.Printf("Poller: refreshed %d columns", n)
			}
			select {
			case <-p.stopChan:
				return
			case <-time.After(p.interval):
			}
		}
	}()
}

// Stop stops the poller gracefully, cancelling runs in progress. Runs cut
// short this way leave the columns' stored errors untouched. Safe to call
// more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		p.cancel()
	})
	p.wg.Wait()
}
