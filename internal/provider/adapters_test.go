package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/ChimeraCoder/anaconda"
	"github.com/bryan-buckman/onosendai/internal/model"
	"github.com/go-playground/assert/v2"
)

const swFeed = `<?xml version="1.0" encoding="UTF-8"?>
<successwhale>
  <entry><id>20</id><fromuser>carol</fromuser><text>newer</text><time>1700000100</time></entry>
  <entry><id>19</id><fromuser>dave</fromuser><text>older</text><time>1700000000</time></entry>
</successwhale>`

func TestSuccessWhaleFetchSince(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/feed.xml", r.URL.Path)
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(swFeed))
	}))
	defer srv.Close()

	sw := NewSuccessWhale(srv.URL, srv.Client())
	account := model.Account{ID: "sw", Provider: model.ProviderSuccessWhale, AccessToken: "tok"}
	assert.Equal(t, nil, sw.AddAccount(account))

	feed, err := sw.ResolveFeed(model.Column{ID: 1, Resource: "twitter/1/statuses/home_timeline"})
	assert.Equal(t, nil, err)

	list, err := sw.FetchSince(context.Background(), feed, account, Cursor("abc-18"))
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, list.Count())
	assert.Equal(t, "20", list.Tweets()[0].Sid)
	assert.Equal(t, "19", list.Tweets()[1].Sid)

	assert.Equal(t, "abc-18", gotQuery.Get("since_id"))
	assert.Equal(t, "tok", gotQuery.Get("token"))
	assert.Equal(t, "twitter/1/statuses/home_timeline", gotQuery.Get("sources"))
}

func TestSuccessWhaleFirstFetchHasNoSinceID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.URL.Query()["since_id"]
		assert.Equal(t, false, present)
		w.Write([]byte(`<successwhale></successwhale>`))
	}))
	defer srv.Close()

	sw := NewSuccessWhale(srv.URL, srv.Client())
	account := model.Account{ID: "sw", AccessToken: "tok"}
	sw.AddAccount(account)
	list, err := sw.FetchSince(context.Background(), SuccessWhaleFeed{Sources: "x"}, account, "")
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, list.Count())
}

func TestSuccessWhaleErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		class  Class
	}{
		{"auth", http.StatusUnauthorized, "bad token", ClassAuth},
		{"rate limit", http.StatusTooManyRequests, "", ClassRateLimit},
		{"server", http.StatusBadGateway, "", ClassTransport},
		{"malformed", http.StatusOK, `<successwhale><entry>`, ClassFormat},
		{"numeric", http.StatusOK, `<successwhale><entry><id>x</id></entry></successwhale>`, ClassNumericParse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			sw := NewSuccessWhale(srv.URL, srv.Client())
			account := model.Account{ID: "sw", AccessToken: "tok"}
			sw.AddAccount(account)
			_, err := sw.FetchSince(context.Background(), SuccessWhaleFeed{Sources: "x"}, account, "")
			assert.Equal(t, tc.class, ClassOf(err))
		})
	}
}

func TestSuccessWhaleRequiresToken(t *testing.T) {
	sw := NewSuccessWhale("http://localhost", nil)
	err := sw.AddAccount(model.Account{ID: "sw"})
	assert.Equal(t, ClassAuth, ClassOf(err))
}

func TestInstapaperPush(t *testing.T) {
	var form url.Values
	var user, pass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/add", r.URL.Path)
		user, pass, _ = r.BasicAuth()
		r.ParseForm()
		form = r.PostForm
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	ip := NewInstapaper(srv.URL, srv.Client())
	account := model.Account{ID: "ip", Username: "reader", Password: "secret"}
	tweet := model.Tweet{Sid: "5", Username: "erin", Body: "read <b>this</b> https://example.com/a?b=1 &amp; more"}

	err := ip.Push(context.Background(), account, tweet)
	assert.Equal(t, nil, err)
	assert.Equal(t, "reader", user)
	assert.Equal(t, "secret", pass)
	assert.Equal(t, "https://example.com/a?b=1", form.Get("url"))
	assert.Equal(t, "read this https://example.com/a?b=1 & more", form.Get("selection"))
	assert.Equal(t, "@erin: read this https://example.com/a?b=1 & more", form.Get("title"))
}

func TestInstapaperPushPermalinkWhenNoLink(t *testing.T) {
	assert.Equal(t, "https://twitter.com/erin/status/5", tweetLink(model.Tweet{Sid: "5", Username: "erin", Body: "no links"}))
}

func TestInstapaperPushErrors(t *testing.T) {
	cases := map[int]Class{
		http.StatusForbidden:           ClassAuth,
		http.StatusBadRequest:          ClassFormat,
		http.StatusInternalServerError: ClassTransport,
	}
	for status, class := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		ip := NewInstapaper(srv.URL, srv.Client())
		err := ip.Push(context.Background(), model.Account{ID: "ip", Username: "u"}, model.Tweet{Body: "x"})
		assert.Equal(t, class, ClassOf(err))
		srv.Close()
	}
}

type fakeTimeline struct {
	tweets   []anaconda.Tweet
	err      error
	lastArgs url.Values
	listID   int64
	query    string
}

func (f *fakeTimeline) GetHomeTimeline(v url.Values) ([]anaconda.Tweet, error) {
	f.lastArgs = v
	return f.tweets, f.err
}

func (f *fakeTimeline) GetMentionsTimeline(v url.Values) ([]anaconda.Tweet, error) {
	f.lastArgs = v
	return f.tweets, f.err
}

func (f *fakeTimeline) GetUserTimeline(v url.Values) ([]anaconda.Tweet, error) {
	f.lastArgs = v
	return f.tweets, f.err
}

func (f *fakeTimeline) GetListTweets(listID int64, includeRTs bool, v url.Values) ([]anaconda.Tweet, error) {
	f.listID = listID
	f.lastArgs = v
	return f.tweets, f.err
}

func (f *fakeTimeline) GetSearch(query string, v url.Values) (anaconda.SearchResponse, error) {
	f.query = query
	f.lastArgs = v
	return anaconda.SearchResponse{Statuses: f.tweets}, f.err
}

func newFakeTwitter(client *fakeTimeline) (*Twitter, model.Account) {
	tw := NewTwitterWithClients(func(model.Account) TimelineClient { return client })
	account := model.Account{ID: "t0", Provider: model.ProviderTwitter, AccessToken: "a", AccessSecret: "b", Username: "me"}
	tw.AddAccount(account)
	return tw, account
}

func TestTwitterFetchSince(t *testing.T) {
	client := &fakeTimeline{tweets: []anaconda.Tweet{
		{IdStr: "102", CreatedAt: "Tue Nov 14 22:15:00 +0000 2023", FullText: "second", User: anaconda.User{ScreenName: "amy", Name: "Amy"}},
		{IdStr: "101", CreatedAt: "Tue Nov 14 22:13:20 +0000 2023", Text: "first", User: anaconda.User{ScreenName: "bo"}},
	}}
	tw, account := newFakeTwitter(client)

	feed, err := tw.ResolveFeed(model.Column{Resource: "timeline"})
	assert.Equal(t, nil, err)

	list, err := tw.FetchSince(context.Background(), feed, account, Cursor("100"))
	assert.Equal(t, nil, err)
	assert.Equal(t, "100", client.lastArgs.Get("since_id"))
	assert.Equal(t, 2, list.Count())
	assert.Equal(t, "102", list.Tweets()[0].Sid)
	assert.Equal(t, "second", list.Tweets()[0].Body)
	assert.Equal(t, "Amy", list.Tweets()[0].Fullname)
	assert.Equal(t, "first", list.Tweets()[1].Body)
	assert.Equal(t, int64(1700000000), list.Tweets()[1].Time)
}

func TestTwitterFetchWithoutCursor(t *testing.T) {
	client := &fakeTimeline{}
	tw, account := newFakeTwitter(client)
	feed, _ := tw.ResolveFeed(model.Column{Resource: "lists/42"})

	_, err := tw.FetchSince(context.Background(), feed, account, "")
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(42), client.listID)
	_, present := client.lastArgs["since_id"]
	assert.Equal(t, false, present)
}

func TestTwitterNonNumericCursor(t *testing.T) {
	tw, account := newFakeTwitter(&fakeTimeline{})
	_, err := tw.FetchSince(context.Background(), TwitterFeed{Kind: TwitterTimeline}, account, "abc")
	assert.Equal(t, ClassNumericParse, ClassOf(err))
}

func TestTwitterErrorClasses(t *testing.T) {
	cases := map[int]Class{
		http.StatusTooManyRequests: ClassRateLimit,
		http.StatusUnauthorized:    ClassAuth,
		http.StatusBadGateway:      ClassTransport,
	}
	for status, class := range cases {
		tw, account := newFakeTwitter(&fakeTimeline{err: &anaconda.ApiError{StatusCode: status}})
		_, err := tw.FetchSince(context.Background(), TwitterFeed{Kind: TwitterMentions}, account, "")
		assert.Equal(t, class, ClassOf(err))
	}

	tw, account := newFakeTwitter(&fakeTimeline{err: errors.New("dial tcp: timeout")})
	_, err := tw.FetchSince(context.Background(), TwitterFeed{Kind: TwitterMentions}, account, "")
	assert.Equal(t, ClassTransport, ClassOf(err))
}

func TestParseTwitterFeed(t *testing.T) {
	for _, ok := range []string{"timeline", "mentions", "me", "user/jack", "lists/12", "search/golang news"} {
		f, err := ParseTwitterFeed(ok)
		assert.Equal(t, nil, err)
		assert.Equal(t, ok, f.String())
	}
	for _, bad := range []string{"", "timeline/x", "lists/abc", "user/", "followers"} {
		_, err := ParseTwitterFeed(bad)
		assert.NotEqual(t, nil, err)
	}
}

func TestTwitterRequiresCredentials(t *testing.T) {
	tw := NewTwitterWithClients(func(model.Account) TimelineClient { return &fakeTimeline{} })
	err := tw.AddAccount(model.Account{ID: "t0"})
	assert.Equal(t, ClassAuth, ClassOf(err))
}
