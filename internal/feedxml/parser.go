// Package feedxml decodes the SuccessWhale XML feed into tweets.
//
// The feed is a document whose root holds repeating <entry> elements, each
// with leaf elements id, fromuser, text and time:
//
//	<feed>
//	  <entry><id>1</id><fromuser>a</fromuser><text>hi</text><time>...</time></entry>
//	</feed>
//
// Parsing is driven by a flat event stream rather than a tree decode so
// that the Parser can be fed directly in tests.
package feedxml

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bryan-buckman/onosendai/internal/model"
)

var (
	// ErrMalformed reports a structurally invalid feed document.
	ErrMalformed = errors.New("malformed feed")
	// ErrNumericID reports an entry whose id is not an integer.
	ErrNumericID = errors.New("non-numeric entry id")
)

const (
	entryDepth = 2
	leafDepth  = 3

	tagEntry    = "entry"
	tagID       = "id"
	tagFromUser = "fromuser"
	tagText     = "text"
	tagTime     = "time"
)

// timeLayouts are tried in order after plain unix seconds.
var timeLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RubyDate,
}

// Parser is the feed state machine. Feed it StartElement, Characters and
// EndElement events in document order, then call EndDocument.
type Parser struct {
	stack   []string
	text    *strings.Builder // characters seen since the last open tag
	current *model.Tweet
	tweets  []model.Tweet
}

// NewParser returns a parser ready for a new document.
func NewParser() *Parser {
	return &Parser{}
}

// Reset discards all state so the parser can read another document.
func (p *Parser) Reset() {
	p.stack = p.stack[:0]
	p.text = nil
	p.current = nil
	p.tweets = nil
}

// StartElement handles an open tag.
func (p *Parser) StartElement(name string) {
	p.stack = append(p.stack, name)
	// Keep an empty buffer so text directly inside a leaf survives
	// intervening empty elements.
	if p.text == nil || p.text.Len() > 0 {
		p.text = &strings.Builder{}
	}
	if len(p.stack) == entryDepth && name == tagEntry {
		p.current = &model.Tweet{}
	}
}

// Characters appends character data to the pending text buffer.
func (p *Parser) Characters(s string) {
	if p.text == nil {
		return
	}
	p.text.WriteString(s)
}

// EndElement handles a close tag. Every call pops exactly one tag.
func (p *Parser) EndElement(name string) error {
	depth := len(p.stack)
	if depth == 0 {
		return fmt.Errorf("%w: unexpected </%s> at document level", ErrMalformed, name)
	}
	if top := p.stack[depth-1]; top != name {
		return fmt.Errorf("%w: </%s> closes <%s>", ErrMalformed, name, top)
	}

	switch {
	case depth == entryDepth && name == tagEntry:
		if p.current == nil {
			return fmt.Errorf("%w: </entry> without open entry", ErrMalformed)
		}
		p.tweets = append(p.tweets, *p.current)
		p.current = nil
	case depth == leafDepth && p.current != nil && p.stack[entryDepth-1] == tagEntry:
		if err := p.assignLeaf(name); err != nil {
			return err
		}
	}

	p.stack = p.stack[:depth-1]
	return nil
}

// EndDocument checks that every opened tag was closed.
func (p *Parser) EndDocument() error {
	if len(p.stack) != 0 {
		return fmt.Errorf("%w: %d unclosed elements at end of document", ErrMalformed, len(p.stack))
	}
	if p.current != nil {
		return fmt.Errorf("%w: unterminated entry", ErrMalformed)
	}
	return nil
}

// Tweets returns the records emitted so far, in document order.
func (p *Parser) Tweets() []model.Tweet {
	return p.tweets
}

func (p *Parser) assignLeaf(name string) error {
	val := ""
	if p.text != nil {
		val = p.text.String()
	}
	switch name {
	case tagID:
		id, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q: %w", ErrNumericID, val, err)
		}
		p.current.Sid = strconv.FormatInt(id, 10)
	case tagFromUser:
		p.current.Username = val
	case tagText:
		p.current.Body = val
	case tagTime:
		t, err := parseTime(val)
		if err != nil {
			return err
		}
		p.current.Time = t
	}
	return nil
}

func parseTime(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return secs, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("%w: unrecognised time %q", ErrMalformed, raw)
}
