// Package model defines shared data structures.
package model

import (
	"slices"
	"strconv"
)

// ProviderKind identifies the remote service an account authenticates against.
type ProviderKind string

const (
	ProviderTwitter      ProviderKind = "twitter"
	ProviderSuccessWhale ProviderKind = "successwhale"
	ProviderInstapaper   ProviderKind = "instapaper"
)

// Account is a configured identity on one provider. Credentials are opaque to
// the sync engine and only read by the matching provider adapter.
type Account struct {
	ID           string
	Provider     ProviderKind
	Title        string
	AccessToken  string
	AccessSecret string
	Username     string
	Password     string
}

// NotificationStyle controls how new items in a column are announced.
type NotificationStyle struct {
	Lights  bool
	Vibrate bool
	Sound   bool
}

// DefaultNotificationStyle is used when a column only says "notify: true".
var DefaultNotificationStyle = NotificationStyle{Lights: true}

// Column is a user-configured timeline view. Columns are values: edits
// produce a new Column carrying the same ID.
type Column struct {
	ID                  int
	Title               string
	AccountID           string // empty for account-less columns
	Resource            string // meaningful only to the account's provider
	RefreshIntervalMins int
	ExcludeColumnIDs    []int
	Notification        *NotificationStyle // nil = no notifications
	InlineMedia         bool
	HDMedia             bool
}

// WithID returns a copy of c with a different ID.
func (c Column) WithID(id int) Column {
	c.ExcludeColumnIDs = slices.Clone(c.ExcludeColumnIDs)
	c.ID = id
	return c
}

// WithAccount returns a copy of c bound to another account.
func (c Column) WithAccount(accountID string) Column {
	c.ExcludeColumnIDs = slices.Clone(c.ExcludeColumnIDs)
	c.AccountID = accountID
	return c
}

// WithExcludes returns a copy of c with a new exclusion set.
func (c Column) WithExcludes(ids []int) Column {
	c.ExcludeColumnIDs = slices.Clone(ids)
	return c
}

// Equal reports whether two columns carry the same configuration.
func (c Column) Equal(o Column) bool {
	if c.ID != o.ID || c.Title != o.Title || c.AccountID != o.AccountID ||
		c.Resource != o.Resource || c.RefreshIntervalMins != o.RefreshIntervalMins ||
		c.InlineMedia != o.InlineMedia || c.HDMedia != o.HDMedia {
		return false
	}
	if (c.Notification == nil) != (o.Notification == nil) {
		return false
	}
	if c.Notification != nil && *c.Notification != *o.Notification {
		return false
	}
	a, b := slices.Clone(c.ExcludeColumnIDs), slices.Clone(o.ExcludeColumnIDs)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(slices.Compact(a), slices.Compact(b))
}

// UITitle is the title shown for the column, falling back to its ID.
func (c Column) UITitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "(" + strconv.Itoa(c.ID) + ")"
}

// Tweet is a single fetched item.
type Tweet struct {
	Sid            string // provider-defined id, used as the fetch cursor
	Time           int64  // unix seconds
	Username       string
	Fullname       string
	Body           string
	AvatarURL      string
	InlineMediaURL string
	Media          []string // only populated by detail lookups
}

// TweetList is an ordered batch of tweets in provider response order.
type TweetList struct {
	tweets []Tweet
}

// NewTweetList wraps tweets without reordering them.
func NewTweetList(tweets []Tweet) TweetList {
	return TweetList{tweets: tweets}
}

// Count returns the number of tweets in the list.
func (l TweetList) Count() int {
	return len(l.tweets)
}

// Tweets returns the tweets in provider order.
func (l TweetList) Tweets() []Tweet {
	return l.tweets
}

// ColumnState is broadcast while a column is being fetched. Not persisted.
type ColumnState int

const (
	UpdateRunning ColumnState = iota
	UpdateOver
)

func (s ColumnState) String() string {
	switch s {
	case UpdateRunning:
		return "running"
	case UpdateOver:
		return "over"
	default:
		return "unknown"
	}
}

// Key/value key prefixes, namespaced by column ID.
const (
	KeyPrefixColLastRefreshError = "col-last-refresh-error:"
	KeyPrefixColLastPushTime     = "col-last-push-time:"
	KeyPrefixColLastPushSid      = "col-last-push-sid:"
)

// LastRefreshErrorKey is absent while the column's last run succeeded.
func LastRefreshErrorKey(columnID int) string {
	return KeyPrefixColLastRefreshError + strconv.Itoa(columnID)
}

// LastPushTimeKey holds the timestamp of the last confirmed push.
func LastPushTimeKey(columnID int) string {
	return KeyPrefixColLastPushTime + strconv.Itoa(columnID)
}

// LastPushSidKey holds the sid of the last confirmed push, telling apart
// tweets that share its timestamp.
func LastPushSidKey(columnID int) string {
	return KeyPrefixColLastPushSid + strconv.Itoa(columnID)
}
