package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bryan-buckman/onosendai/internal/feedxml"
)

// Class groups provider failures by how they are reported to the user.
type Class int

const (
	ClassInternal Class = iota
	ClassTransport
	ClassAuth
	ClassRateLimit
	ClassFormat
	ClassNumericParse
)

func (c Class) String() string {
	switch c {
	case ClassTransport:
		return "transport"
	case ClassAuth:
		return "auth"
	case ClassRateLimit:
		return "rate limit"
	case ClassFormat:
		return "format"
	case ClassNumericParse:
		return "numeric parse"
	default:
		return "internal"
	}
}

// Error is a classified provider failure.
type Error struct {
	Class Class
	Op    string // e.g. "twitter fetch", "instapaper push"
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Class.String() + " error"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted cause.
func Errorf(class Class, op, format string, args ...any) *Error {
	return newError(class, op, fmt.Errorf(format, args...))
}

// ClassOf returns the class of err. Parser errors map to Format and
// NumericParse; anything unclassified is Internal.
func ClassOf(err error) Class {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	switch {
	case errors.Is(err, feedxml.ErrNumericID):
		return ClassNumericParse
	case errors.Is(err, feedxml.ErrMalformed):
		return ClassFormat
	}
	return ClassInternal
}

// FriendlyMessage converts err into the text stored as a column's error.
// Interactive failures get a short sentence; everything else gets the
// full cause chain.
func FriendlyMessage(err error) string {
	switch ClassOf(err) {
	case ClassRateLimit:
		return "Rate limit exceeded, try again later."
	case ClassAuth:
		return "Authentication failed, check the account credentials."
	case ClassTransport:
		return "Network error: " + rootCause(err).Error()
	default:
		return CauseTrace(err)
	}
}

// CauseTrace renders err followed by each distinct wrapped cause.
func CauseTrace(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(err.Error())
	prev := err.Error()
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		msg := cause.Error()
		if msg == prev {
			continue
		}
		fmt.Fprintf(&b, "\n  caused by %T: %s", cause, msg)
		prev = msg
	}
	return b.String()
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
