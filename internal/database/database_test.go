package database

import (
	"path/filepath"
	"testing"

	"github.com/bryan-buckman/onosendai/internal/broadcast"
	"github.com/bryan-buckman/onosendai/internal/model"
	"github.com/go-playground/assert/v2"
)

func newTestDB(t *testing.T, hub *broadcast.Hub) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"), hub)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoreAndGetTweetsNewestFirst(t *testing.T) {
	db := newTestDB(t, nil)
	col := model.Column{ID: 1}

	err := db.StoreTweets(col, []model.Tweet{
		{Sid: "3", Time: 300, Username: "c", Body: "third"},
		{Sid: "1", Time: 100, Username: "a", Body: "first"},
		{Sid: "2", Time: 200, Username: "b", Body: "second"},
	})
	assert.Equal(t, nil, err)

	tweets, err := db.GetTweets(1, 10)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(tweets))
	assert.Equal(t, "3", tweets[0].Sid)
	assert.Equal(t, "2", tweets[1].Sid)
	assert.Equal(t, "1", tweets[2].Sid)

	newest, err := db.GetTweets(1, 1)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(newest))
	assert.Equal(t, "3", newest[0].Sid)

	other, err := db.GetTweets(2, 10)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(other))
}

func TestStoreTweetsDeduplicatesBySid(t *testing.T) {
	db := newTestDB(t, nil)
	col := model.Column{ID: 1}

	assert.Equal(t, nil, db.StoreTweets(col, []model.Tweet{{Sid: "1", Time: 100, Body: "original"}}))
	assert.Equal(t, nil, db.StoreTweets(col, []model.Tweet{{Sid: "1", Time: 100, Body: "again"}, {Sid: "2", Time: 200}}))

	tweets, err := db.GetTweets(1, 10)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(tweets))
	assert.Equal(t, "original", tweets[1].Body)

	// the same sid may live in another column
	assert.Equal(t, nil, db.StoreTweets(model.Column{ID: 2}, []model.Tweet{{Sid: "1", Time: 100}}))
	tweets, _ = db.GetTweets(2, 10)
	assert.Equal(t, 1, len(tweets))
}

func TestGetTweetsSinceTimeOldestFirst(t *testing.T) {
	db := newTestDB(t, nil)
	col := model.Column{ID: 5}
	assert.Equal(t, nil, db.StoreTweets(col, []model.Tweet{
		{Sid: "d", Time: 40}, {Sid: "c", Time: 30}, {Sid: "b", Time: 20}, {Sid: "a", Time: 10},
	}))

	tweets, err := db.GetTweetsSinceTime(5, 10, 2)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(tweets))
	assert.Equal(t, "b", tweets[0].Sid)
	assert.Equal(t, "c", tweets[1].Sid)
}

func TestGetTweetDetailsIncludesMedia(t *testing.T) {
	db := newTestDB(t, nil)
	col := model.Column{ID: 1}
	assert.Equal(t, nil, db.StoreTweets(col, []model.Tweet{
		{Sid: "9", Time: 90, Body: "pics", InlineMediaURL: "https://img/1", Media: []string{"https://img/1", "https://img/2"}},
	}))

	listed, _ := db.GetTweets(1, 1)
	assert.Equal(t, 0, len(listed[0].Media))

	full, err := db.GetTweetDetails(1, listed[0])
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"https://img/1", "https://img/2"}, full.Media)
	assert.Equal(t, "pics", full.Body)

	missing, err := db.GetTweetDetails(1, model.Tweet{Sid: "nope"})
	assert.Equal(t, nil, err)
	assert.Equal(t, (*model.Tweet)(nil), missing)
}

func TestKeyValue(t *testing.T) {
	db := newTestDB(t, nil)
	key := model.LastRefreshErrorKey(4)

	_, ok, err := db.GetValue(key)
	assert.Equal(t, nil, err)
	assert.Equal(t, false, ok)

	assert.Equal(t, nil, db.StoreValue(key, "boom"))
	assert.Equal(t, nil, db.StoreValue(key, "bang"))
	v, ok, err := db.GetValue(key)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, ok)
	assert.Equal(t, "bang", v)

	assert.Equal(t, nil, db.DeleteValue(key))
	assert.Equal(t, nil, db.DeleteValue(key))
	_, ok, _ = db.GetValue(key)
	assert.Equal(t, false, ok)
}

func TestNotifyColumnStatePublishes(t *testing.T) {
	hub := broadcast.NewHub()
	db := newTestDB(t, hub)
	db.NotifyColumnState(7, model.UpdateRunning)
	assert.Equal(t, true, hub.Running(7))
	db.NotifyColumnState(7, model.UpdateOver)
	assert.Equal(t, false, hub.Running(7))
}
