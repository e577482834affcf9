// Package database provides SQLite storage for column timelines.
package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/bryan-buckman/onosendai/internal/broadcast"
	"github.com/bryan-buckman/onosendai/internal/model"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	conn   *sql.DB
	states broadcast.Publisher
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path. Column states
// are published to states, or to a private hub when states is nil.
func New(path string, states broadcast.Publisher) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows one writer; a single connection avoids "database is locked".
	conn.SetMaxOpenConns(1)
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if states == nil {
		states = broadcast.NewHub()
	}
	db := &DB{conn: conn, states: states}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

// SupportsHighConcurrency returns false for SQLite.
func (db *DB) SupportsHighConcurrency() bool {
	return false
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tweets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		column_id INTEGER NOT NULL,
		sid TEXT NOT NULL,
		time INTEGER NOT NULL,
		username TEXT DEFAULT '',
		fullname TEXT DEFAULT '',
		body TEXT DEFAULT '',
		avatar_url TEXT DEFAULT '',
		inline_media_url TEXT DEFAULT '',
		UNIQUE(column_id, sid)
	);
	CREATE INDEX IF NOT EXISTS idx_tweets_column_time ON tweets(column_id, time);
	CREATE TABLE IF NOT EXISTS tweet_media (
		tweet_id INTEGER NOT NULL REFERENCES tweets(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		PRIMARY KEY(tweet_id, url)
	);
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// --- Tweet Methods ---

const tweetColumns = "sid, time, username, fullname, body, avatar_url, inline_media_url"

// GetTweets returns up to limit tweets for a column, most recent first.
func (db *DB) GetTweets(columnID, limit int) ([]model.Tweet, error) {
	rows, err := db.conn.Query(
		"SELECT "+tweetColumns+" FROM tweets WHERE column_id = ? ORDER BY time DESC, id DESC LIMIT ?",
		columnID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTweets(rows)
}

// GetTweetsSinceTime returns up to limit tweets newer than since, oldest first.
func (db *DB) GetTweetsSinceTime(columnID int, since int64, limit int) ([]model.Tweet, error) {
	rows, err := db.conn.Query(
		"SELECT "+tweetColumns+" FROM tweets WHERE column_id = ? AND time > ? ORDER BY time ASC, id ASC LIMIT ?",
		columnID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTweets(rows)
}

// GetTweetDetails loads the full record for a stored tweet, including media.
// Returns nil if the tweet is not stored in the column.
func (db *DB) GetTweetDetails(columnID int, tweet model.Tweet) (*model.Tweet, error) {
	var id int64
	var t model.Tweet
	err := db.conn.QueryRow(
		"SELECT id, "+tweetColumns+" FROM tweets WHERE column_id = ? AND sid = ?",
		columnID, tweet.Sid).Scan(&id, &t.Sid, &t.Time, &t.Username, &t.Fullname, &t.Body, &t.AvatarURL, &t.InlineMediaURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.Query("SELECT url FROM tweet_media WHERE tweet_id = ? ORDER BY rowid", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		t.Media = append(t.Media, url)
	}
	return &t, rows.Err()
}

// StoreTweets inserts tweets for a column in one transaction. Tweets already
// stored under the same sid are left untouched.
func (db *DB) StoreTweets(column model.Column, tweets []model.Tweet) error {
	if len(tweets) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO tweets (column_id, sid, time, username, fullname, body, avatar_url, inline_media_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(column_id, sid) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	mediaStmt, err := tx.Prepare("INSERT OR IGNORE INTO tweet_media (tweet_id, url) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer mediaStmt.Close()

	for _, t := range tweets {
		res, err := stmt.Exec(column.ID, t.Sid, t.Time, t.Username, t.Fullname, t.Body, t.AvatarURL, t.InlineMediaURL)
		if err != nil {
			return fmt.Errorf("insert tweet %s: %w", t.Sid, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			continue
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for _, url := range t.Media {
			if _, err := mediaStmt.Exec(id, url); err != nil {
				return fmt.Errorf("insert media for %s: %w", t.Sid, err)
			}
		}
	}
	return tx.Commit()
}

func scanTweets(rows *sql.Rows) ([]model.Tweet, error) {
	var tweets []model.Tweet
	for rows.Next() {
		var t model.Tweet
		if err := rows.Scan(&t.Sid, &t.Time, &t.Username, &t.Fullname, &t.Body, &t.AvatarURL, &t.InlineMediaURL); err != nil {
			return nil, err
		}
		tweets = append(tweets, t)
	}
	return tweets, rows.Err()
}

// --- Key/Value Methods ---

// GetValue retrieves a value. ok is false if the key is absent.
func (db *DB) GetValue(key string) (string, bool, error) {
	var val string
	err := db.conn.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// StoreValue saves a value.
func (db *DB) StoreValue(key, value string) error {
	_, err := db.conn.Exec("INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = ?", key, value, value)
	return err
}

// DeleteValue removes a key. Deleting an absent key is not an error.
func (db *DB) DeleteValue(key string) error {
	_, err := db.conn.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}

// NotifyColumnState publishes a column state change.
func (db *DB) NotifyColumnState(columnID int, state model.ColumnState) {
	db.states.Publish(columnID, state)
}
