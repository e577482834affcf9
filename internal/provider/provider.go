// Package provider wraps the remote services columns are synced with.
//
// Adapters come in two capabilities: a Puller fetches items newer than a
// cursor, a Pusher sends one item at a time to a read-later service. The
// Registry holds one adapter per provider kind for the life of the process.
package provider

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/bryan-buckman/onosendai/internal/model"
)

// Adapter is implemented by every provider variant.
type Adapter interface {
	Kind() model.ProviderKind
}

// Feed is a provider-specific description of what a column fetches.
type Feed interface {
	String() string
}

// Cursor is the service id of the newest stored item in a column. It is
// empty when the column has never been fetched.
type Cursor string

// Int64 parses a numeric cursor. ok is false for an empty cursor.
func (c Cursor) Int64() (id int64, ok bool, err error) {
	if c == "" {
		return 0, false, nil
	}
	id, err = strconv.ParseInt(string(c), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("cursor %q: %w", string(c), err)
	}
	return id, true, nil
}

// Puller fetches new items for a column.
type Puller interface {
	Adapter
	// AddAccount registers credentials; repeated calls are cheap.
	AddAccount(account model.Account) error
	ResolveFeed(column model.Column) (Feed, error)
	// FetchSince returns items newer than cursor in provider order.
	FetchSince(ctx context.Context, feed Feed, account model.Account, cursor Cursor) (model.TweetList, error)
}

// Pusher sends items to a remote service.
type Pusher interface {
	Adapter
	Push(ctx context.Context, account model.Account, tweet model.Tweet) error
}

// Factory builds the adapter for one provider kind.
type Factory func() (Adapter, error)

// Registry lazily builds and caches one adapter per provider kind.
type Registry struct {
	mu        sync.Mutex
	factories map[model.ProviderKind]Factory
	adapters  map[model.ProviderKind]Adapter
}

// NewRegistry creates a registry over the given factories.
func NewRegistry(factories map[model.ProviderKind]Factory) *Registry {
	return &Registry{
		factories: factories,
		adapters:  make(map[model.ProviderKind]Adapter),
	}
}

// Get returns the adapter for kind, building it on first use. Concurrent
// first calls build exactly one adapter.
func (r *Registry) Get(kind model.ProviderKind) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.adapters[kind]; ok {
		return a, nil
	}
	factory, ok := r.factories[kind]
	if !ok {
		return nil, Errorf(ClassInternal, "registry", "unknown account type: %s", kind)
	}
	a, err := factory()
	if err != nil {
		return nil, newError(ClassInternal, "registry", fmt.Errorf("build %s adapter: %w", kind, err))
	}
	if a.Kind() != kind {
		return nil, Errorf(ClassInternal, "registry", "factory for %s built a %s adapter", kind, a.Kind())
	}
	r.adapters[kind] = a
	return a, nil
}
