package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/ChimeraCoder/anaconda"
	"github.com/bryan-buckman/onosendai/internal/model"
)

// TwitterPageSize is the count requested per timeline call.
const TwitterPageSize = 200

// TimelineClient is the subset of the anaconda API used for fetching.
type TimelineClient interface {
	GetHomeTimeline(v url.Values) ([]anaconda.Tweet, error)
	GetMentionsTimeline(v url.Values) ([]anaconda.Tweet, error)
	GetUserTimeline(v url.Values) ([]anaconda.Tweet, error)
	GetListTweets(listID int64, includeRTs bool, v url.Values) ([]anaconda.Tweet, error)
	GetSearch(query string, v url.Values) (anaconda.SearchResponse, error)
}

// TwitterFeedKind names the timeline a column reads.
type TwitterFeedKind string

const (
	TwitterTimeline TwitterFeedKind = "timeline"
	TwitterMentions TwitterFeedKind = "mentions"
	TwitterMe       TwitterFeedKind = "me"
	TwitterUser     TwitterFeedKind = "user"
	TwitterList     TwitterFeedKind = "lists"
	TwitterSearch   TwitterFeedKind = "search"
)

// TwitterFeed is a parsed column resource such as "lists/1234".
type TwitterFeed struct {
	Kind TwitterFeedKind
	Arg  string
}

func (f TwitterFeed) String() string {
	if f.Arg == "" {
		return string(f.Kind)
	}
	return string(f.Kind) + "/" + f.Arg
}

// ParseTwitterFeed parses a column resource.
func ParseTwitterFeed(resource string) (TwitterFeed, error) {
	kind, arg, _ := strings.Cut(strings.TrimSpace(resource), "/")
	f := TwitterFeed{Kind: TwitterFeedKind(kind), Arg: arg}
	switch f.Kind {
	case TwitterTimeline, TwitterMentions, TwitterMe:
		if arg != "" {
			return TwitterFeed{}, fmt.Errorf("feed %q takes no argument", kind)
		}
	case TwitterUser, TwitterSearch:
		if arg == "" {
			return TwitterFeed{}, fmt.Errorf("feed %q needs an argument", kind)
		}
	case TwitterList:
		if _, err := strconv.ParseInt(arg, 10, 64); err != nil {
			return TwitterFeed{}, fmt.Errorf("list id %q: %w", arg, err)
		}
	default:
		return TwitterFeed{}, fmt.Errorf("unknown twitter feed %q", resource)
	}
	return f, nil
}

// Twitter is the PrimaryFeed adapter.
type Twitter struct {
	newClient func(account model.Account) TimelineClient

	mu      sync.Mutex
	clients map[string]TimelineClient
}

// NewTwitter creates an adapter using the app's consumer credentials.
func NewTwitter(consumerKey, consumerSecret string) *Twitter {
	return NewTwitterWithClients(func(a model.Account) TimelineClient {
		return anaconda.NewTwitterApiWithCredentials(a.AccessToken, a.AccessSecret, consumerKey, consumerSecret)
	})
}

// NewTwitterWithClients creates an adapter with a custom client constructor.
func NewTwitterWithClients(newClient func(account model.Account) TimelineClient) *Twitter {
	return &Twitter{
		newClient: newClient,
		clients:   make(map[string]TimelineClient),
	}
}

// Kind returns model.ProviderTwitter.
func (t *Twitter) Kind() model.ProviderKind {
	return model.ProviderTwitter
}

// AddAccount creates the API client for account if it does not exist yet.
func (t *Twitter) AddAccount(account model.Account) error {
	if account.AccessToken == "" || account.AccessSecret == "" {
		return Errorf(ClassAuth, "twitter", "account %s has no access token", account.ID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.clients[account.ID]; !ok {
		t.clients[account.ID] = t.newClient(account)
	}
	return nil
}

// ResolveFeed parses the column resource.
func (t *Twitter) ResolveFeed(column model.Column) (Feed, error) {
	f, err := ParseTwitterFeed(column.Resource)
	if err != nil {
		return nil, newError(ClassFormat, "twitter feed", err)
	}
	return f, nil
}

// FetchSince fetches one page of the feed, newer than cursor if set.
func (t *Twitter) FetchSince(ctx context.Context, feed Feed, account model.Account, cursor Cursor) (model.TweetList, error) {
	const op = "twitter fetch"
	tf, ok := feed.(TwitterFeed)
	if !ok {
		return model.TweetList{}, Errorf(ClassInternal, op, "unexpected feed type %T", feed)
	}
	sinceID, hasSince, err := cursor.Int64()
	if err != nil {
		return model.TweetList{}, newError(ClassNumericParse, op, err)
	}

	t.mu.Lock()
	client, ok := t.clients[account.ID]
	t.mu.Unlock()
	if !ok {
		return model.TweetList{}, Errorf(ClassInternal, op, "account %s not registered", account.ID)
	}
	if err := ctx.Err(); err != nil {
		return model.TweetList{}, newError(ClassTransport, op, err)
	}

	v := url.Values{}
	v.Set("count", strconv.Itoa(TwitterPageSize))
	v.Set("tweet_mode", "extended")
	if hasSince {
		v.Set("since_id", strconv.FormatInt(sinceID, 10))
	}

	raw, err := fetchTwitterFeed(client, tf, account, v)
	if err != nil {
		return model.TweetList{}, classifyTwitterError(op, err)
	}

	tweets := make([]model.Tweet, 0, len(raw))
	for _, rt := range raw {
		tw, err := convertTwitterTweet(rt)
		if err != nil {
			return model.TweetList{}, newError(ClassFormat, op, err)
		}
		tweets = append(tweets, tw)
	}
	return model.NewTweetList(tweets), nil
}

func fetchTwitterFeed(client TimelineClient, f TwitterFeed, account model.Account, v url.Values) ([]anaconda.Tweet, error) {
	switch f.Kind {
	case TwitterTimeline:
		return client.GetHomeTimeline(v)
	case TwitterMentions:
		return client.GetMentionsTimeline(v)
	case TwitterMe:
		if account.Username != "" {
			v.Set("screen_name", account.Username)
		}
		return client.GetUserTimeline(v)
	case TwitterUser:
		v.Set("screen_name", f.Arg)
		return client.GetUserTimeline(v)
	case TwitterList:
		listID, err := strconv.ParseInt(f.Arg, 10, 64)
		if err != nil {
			return nil, err
		}
		return client.GetListTweets(listID, true, v)
	case TwitterSearch:
		sr, err := client.GetSearch(f.Arg, v)
		if err != nil {
			return nil, err
		}
		return sr.Statuses, nil
	}
	return nil, fmt.Errorf("unsupported feed %s", f)
}

func classifyTwitterError(op string, err error) *Error {
	var apiErr *anaconda.ApiError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return newError(ClassRateLimit, op, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return newError(ClassAuth, op, err)
		}
	}
	return newError(ClassTransport, op, err)
}

func convertTwitterTweet(rt anaconda.Tweet) (model.Tweet, error) {
	created, err := rt.CreatedAtTime()
	if err != nil {
		return model.Tweet{}, fmt.Errorf("tweet %s created_at: %w", rt.IdStr, err)
	}
	sid := rt.IdStr
	if sid == "" {
		sid = strconv.FormatInt(rt.Id, 10)
	}
	body := rt.FullText
	if body == "" {
		body = rt.Text
	}
	tw := model.Tweet{
		Sid:       sid,
		Time:      created.Unix(),
		Username:  rt.User.ScreenName,
		Fullname:  rt.User.Name,
		Body:      body,
		AvatarURL: rt.User.ProfileImageUrlHttps,
	}
	for _, m := range rt.Entities.Media {
		tw.Media = append(tw.Media, m.Media_url_https)
	}
	if len(tw.Media) > 0 {
		tw.InlineMediaURL = tw.Media[0]
	}
	return tw, nil
}
