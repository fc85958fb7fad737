// Package classify decides whether a failed job attempt is worth retrying.
//
// Handlers surface failures either as a *StatusError carrying the upstream
// HTTP status, as a network or context error, or as a plain error whose
// message embeds the status ("503 Service Unavailable"). Anything the
// classifier cannot place is treated as retryable.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/job"
)

// Class is the retry classification of an error.
type Class int

const (
	Unknown Class = iota
	Transient
	RateLimited
	ServerError
	AuthFailure
	ClientError
	InvalidPayload
)

var classNames = map[Class]string{
	Unknown:        "unknown",
	Transient:      "transient",
	RateLimited:    "rate_limited",
	ServerError:    "server_error",
	AuthFailure:    "auth_failure",
	ClientError:    "client_error",
	InvalidPayload: "invalid_payload",
}

func (c Class) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return "class(" + strconv.Itoa(int(c)) + ")"
}

// Retryable reports whether jobs failing with this class run again.
func (c Class) Retryable() bool {
	switch c {
	case AuthFailure, ClientError, InvalidPayload:
		return false
	default:
		return true
	}
}

// StatusError is returned by upstream clients for non-2xx responses.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = strconv.Itoa(e.Code) + " " + http.StatusText(e.Code)
	}
	if e.Body == "" {
		return "upstream: " + status
	}
	return fmt.Sprintf("upstream: %s: %s", status, e.Body)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

type temporaryError struct{ err error }

func (e *temporaryError) Error() string { return e.err.Error() }
func (e *temporaryError) Unwrap() error { return e.err }

// Permanent marks err as not retryable regardless of its contents.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Temporary marks err as retryable regardless of its contents.
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return &temporaryError{err: err}
}

var (
	// "503 Service Unavailable", "429 Too Many Requests"
	codeWithReason = regexp.MustCompile(`\b([1-5]\d{2})\s+[A-Z][A-Za-z'-]*(?:\s+[A-Z][A-Za-z'-]*)*`)
	// "HTTP 502", "status code: 404", "status=500"
	codeAfterLabel = regexp.MustCompile(`(?i)\b(?:http|status(?:\s*code)?)\b\D{0,4}([1-5]\d{2})\b`)
)

var messageHints = []struct {
	needle string
	class  Class
}{
	{"rate limit", RateLimited},
	{"too many requests", RateLimited},
	{"throttled", RateLimited},
	{"unauthorized", AuthFailure},
	{"forbidden", AuthFailure},
	{"timeout", Transient},
	{"timed out", Transient},
	{"deadline exceeded", Transient},
	{"connection refused", Transient},
	{"connection reset", Transient},
	{"econnrefused", Transient},
	{"econnreset", Transient},
	{"enotfound", Transient},
	{"no such host", Transient},
	{"network", Transient},
	{"socket hang up", Transient},
	{"eof", Transient},
}

// Classify returns the class of err. A nil error is Unknown.
func Classify(err error) Class {
	if err == nil {
		return Unknown
	}

	var perm *permanentError
	var temp *temporaryError
	switch {
	case errors.As(err, &perm):
		return ClientError
	case errors.As(err, &temp):
		return Transient
	}

	if errors.Is(err, job.ErrInvalidPayload) ||
		errors.Is(err, outbox.ErrUnknownJobType) ||
		errors.Is(err, outbox.ErrNoHandler) {
		return InvalidPayload
	}

	var se *StatusError
	if errors.As(err, &se) {
		if c, ok := fromCode(se.Code); ok {
			return c
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return Transient
	}

	msg := err.Error()
	if code, ok := CodeFromMessage(msg); ok {
		if c, ok := fromCode(code); ok {
			return c
		}
	}

	lower := strings.ToLower(msg)
	for _, h := range messageHints {
		if strings.Contains(lower, h.needle) {
			return h.class
		}
	}
	return Unknown
}

// Retryable is shorthand for Classify(err).Retryable().
func Retryable(err error) bool {
	return Classify(err).Retryable()
}

// CodeFromMessage extracts an HTTP status code embedded in msg.
func CodeFromMessage(msg string) (int, bool) {
	for _, re := range []*regexp.Regexp{codeWithReason, codeAfterLabel} {
		if m := re.FindStringSubmatch(msg); m != nil {
			code, err := strconv.Atoi(m[1])
			if err == nil {
				return code, true
			}
		}
	}
	return 0, false
}

func fromCode(code int) (Class, bool) {
	switch {
	case code == http.StatusTooManyRequests:
		return RateLimited, true
	case code == http.StatusRequestTimeout:
		return Transient, true
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return AuthFailure, true
	case code >= 500 && code <= 599:
		return ServerError, true
	case code >= 400 && code <= 499:
		return ClientError, true
	}
	return Unknown, false
}
