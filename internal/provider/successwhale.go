package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/onosendai/internal/feedxml"
	"github.com/bryan-buckman/onosendai/internal/model"
)

// SuccessWhaleFeed is the set of sources an aggregator column reads.
type SuccessWhaleFeed struct {
	Sources string
}

func (f SuccessWhaleFeed) String() string {
	return f.Sources
}

// SuccessWhale is the Aggregator adapter. It reads the XML feed endpoint
// and decodes it with feedxml.
type SuccessWhale struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	tokens map[string]string
}

// NewSuccessWhale creates an adapter against baseURL.
func NewSuccessWhale(baseURL string, httpClient *http.Client) *SuccessWhale {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &SuccessWhale{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		tokens:     make(map[string]string),
	}
}

// Kind returns model.ProviderSuccessWhale.
func (s *SuccessWhale) Kind() model.ProviderKind {
	return model.ProviderSuccessWhale
}

// AddAccount records the account's API token.
func (s *SuccessWhale) AddAccount(account model.Account) error {
	if account.AccessToken == "" {
		return Errorf(ClassAuth, "successwhale", "account %s has no token", account.ID)
	}
	s.mu.Lock()
	s.tokens[account.ID] = account.AccessToken
	s.mu.Unlock()
	return nil
}

// ResolveFeed takes the column resource as the source list.
func (s *SuccessWhale) ResolveFeed(column model.Column) (Feed, error) {
	sources := strings.TrimSpace(column.Resource)
	if sources == "" {
		return nil, Errorf(ClassFormat, "successwhale feed", "column %d has no sources", column.ID)
	}
	return SuccessWhaleFeed{Sources: sources}, nil
}

// FetchSince requests the feed; the cursor is passed through unparsed.
func (s *SuccessWhale) FetchSince(ctx context.Context, feed Feed, account model.Account, cursor Cursor) (model.TweetList, error) {
	const op = "successwhale fetch"
	sf, ok := feed.(SuccessWhaleFeed)
	if !ok {
		return model.TweetList{}, Errorf(ClassInternal, op, "unexpected feed type %T", feed)
	}
	s.mu.Lock()
	token, ok := s.tokens[account.ID]
	s.mu.Unlock()
	if !ok {
		return model.TweetList{}, Errorf(ClassInternal, op, "account %s not registered", account.ID)
	}

	q := url.Values{}
	q.Set("sources", sf.Sources)
	q.Set("token", token)
	if cursor != "" {
		q.Set("since_id", string(cursor))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v3/feed.xml?"+q.Encode(), nil)
	if err != nil {
		return model.TweetList{}, newError(ClassInternal, op, err)
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return model.TweetList{}, newError(ClassTransport, op, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return model.TweetList{}, err
	}

	list, err := feedxml.Parse(resp.Body)
	if err != nil {
		class := ClassOf(err)
		if class == ClassInternal {
			// the body could not be read
			class = ClassTransport
		}
		return model.TweetList{}, newError(class, op, err)
	}
	return list, nil
}

// checkStatus maps non-2xx responses onto error classes.
func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return newError(ClassAuth, op, cause)
	case http.StatusTooManyRequests:
		return newError(ClassRateLimit, op, cause)
	case http.StatusBadRequest:
		return newError(ClassFormat, op, cause)
	default:
		return newError(ClassTransport, op, cause)
	}
}
