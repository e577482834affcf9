package provider

import (
	"context"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bryan-buckman/onosendai/internal/model"
	"github.com/microcosm-cc/bluemonday"
)

const instapaperTitleMax = 100

var linkPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// Instapaper is the ReadLater adapter. Each pushed tweet becomes a saved
// link with the tweet text as the selection.
type Instapaper struct {
	baseURL    string
	httpClient *http.Client
	sanitizer  *bluemonday.Policy
}

// NewInstapaper creates an adapter against baseURL.
func NewInstapaper(baseURL string, httpClient *http.Client) *Instapaper {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Instapaper{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		sanitizer:  bluemonday.StrictPolicy(),
	}
}

// Kind returns model.ProviderInstapaper.
func (p *Instapaper) Kind() model.ProviderKind {
	return model.ProviderInstapaper
}

// Push saves tweet to the account's reading list.
func (p *Instapaper) Push(ctx context.Context, account model.Account, tweet model.Tweet) error {
	const op = "instapaper push"
	if account.Username == "" {
		return Errorf(ClassAuth, op, "account %s has no username", account.ID)
	}

	form := url.Values{}
	form.Set("url", tweetLink(tweet))
	form.Set("title", p.title(tweet))
	form.Set("selection", p.plainText(tweet.Body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/add", strings.NewReader(form.Encode()))
	if err != nil {
		return newError(ClassInternal, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(account.Username, account.Password)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return newError(ClassTransport, op, err)
	}
	defer resp.Body.Close()
	return checkStatus(op, resp)
}

func (p *Instapaper) plainText(body string) string {
	return strings.TrimSpace(html.UnescapeString(p.sanitizer.Sanitize(body)))
}

// tweetLink picks the first link in the body, else a permalink.
func tweetLink(t model.Tweet) string {
	if m := linkPattern.FindString(t.Body); m != "" {
		return m
	}
	if t.Username != "" && t.Sid != "" {
		return "https://twitter.com/" + url.PathEscape(t.Username) + "/status/" + url.PathEscape(t.Sid)
	}
	if t.InlineMediaURL != "" {
		return t.InlineMediaURL
	}
	return ""
}

func (p *Instapaper) title(t model.Tweet) string {
	title := strings.Join(strings.Fields(p.plainText(t.Body)), " ")
	if t.Username != "" {
		title = "@" + t.Username + ": " + title
	}
	if utf8.RuneCountInString(title) > instapaperTitleMax {
		r := []rune(title)
		title = string(r[:instapaperTitleMax-1]) + "…"
	}
	return title
}
