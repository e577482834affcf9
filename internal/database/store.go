// Package database provides storage backends for column timelines.
package database

import (
	"github.com/bryan-buckman/onosendai/internal/model"
)

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	// Tweet operations
	GetTweets(columnID, limit int) ([]model.Tweet, error)
	GetTweetsSinceTime(columnID int, since int64, limit int) ([]model.Tweet, error)
	GetTweetDetails(columnID int, tweet model.Tweet) (*model.Tweet, error)
	StoreTweets(column model.Column, tweets []model.Tweet) error

	// Key/value operations
	GetValue(key string) (string, bool, error)
	StoreValue(key, value string) error
	DeleteValue(key string) error

	// NotifyColumnState broadcasts a column state change without blocking.
	NotifyColumnState(columnID int, state model.ColumnState)
}
