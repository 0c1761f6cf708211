package main

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why a booking step failed.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidRequest
	KindTransport
	KindChallengeUnresolved
	KindSubmissionRejected
	KindDateOutOfRange
	KindSoldOut
	KindParse
	KindExhausted
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindTransport:
		return "transport"
	case KindChallengeUnresolved:
		return "challenge_unresolved"
	case KindSubmissionRejected:
		return "submission_rejected"
	case KindDateOutOfRange:
		return "date_out_of_range"
	case KindSoldOut:
		return "sold_out"
	case KindParse:
		return "parse"
	case KindExhausted:
		return "exhausted"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrCancelled is returned once a stop has been requested.
var ErrCancelled = &BookingError{Kind: KindCancelled}

// BookingError carries the kind of failure plus any error banners the site showed.
type BookingError struct {
	Kind     ErrorKind
	Op       string
	Messages []string
	Err      error
}

func (e *BookingError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if len(e.Messages) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *BookingError) Unwrap() error { return e.Err }

// Is matches on kind when the target has no Op, so errors.Is(err, ErrCancelled)
// holds for any cancelled error.
func (e *BookingError) Is(target error) bool {
	t, ok := target.(*BookingError)
	if !ok {
		return false
	}
	return t.Op == "" && t.Kind == e.Kind
}

func newError(kind ErrorKind, op string, err error, messages ...string) *BookingError {
	return &BookingError{Kind: kind, Op: op, Err: err, Messages: messages}
}

// KindOf returns the kind of the outermost BookingError in err's chain.
func KindOf(err error) ErrorKind {
	var be *BookingError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// IsTerminal reports whether the outer run loop must stop instead of retrying.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindInvalidRequest, KindDateOutOfRange, KindParse, KindCancelled:
		return true
	}
	return false
}
