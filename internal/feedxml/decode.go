package feedxml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/bryan-buckman/onosendai/internal/model"
	xpp "github.com/mmcdole/goxpp"
	"golang.org/x/net/html/charset"
)

// Parse reads a whole feed document from r. It fails with ErrMalformed on
// invalid XML or structure, ErrNumericID on a bad entry id, or the reader's
// own error if r cannot be read. No tweets are returned on failure.
func Parse(r io.Reader) (model.TweetList, error) {
	p := NewParser()
	if err := p.Consume(r); err != nil {
		return model.TweetList{}, err
	}
	return model.NewTweetList(p.Tweets()), nil
}

// Consume drives the parser with events pulled from r until end of document.
func (p *Parser) Consume(r io.Reader) error {
	pull := xpp.NewXMLPullParser(r, true, charset.NewReaderLabel)
	for {
		event, err := pull.Next()
		if err != nil {
			return classifyReadError(err)
		}
		switch event {
		case xpp.StartTag:
			p.StartElement(pull.Name)
		case xpp.Text:
			p.Characters(pull.Text)
		case xpp.EndTag:
			if err := p.EndElement(pull.Name); err != nil {
				return err
			}
		case xpp.EndDocument:
			return p.EndDocument()
		}
	}
}

func classifyReadError(err error) error {
	var syntaxErr *xml.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return fmt.Errorf("read feed: %w", err)
}
