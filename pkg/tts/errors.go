package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error kinds. Every provider failure matches exactly one of these with errors.Is.
var (
	// ErrProviderUnavailable means credentials or a local dependency are missing.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrRateLimited is a transient refusal; the call may be retried after a delay.
	ErrRateLimited = errors.New("rate limited")
	// ErrSynthesisFailed covers every other failure, transient or fatal.
	ErrSynthesisFailed = errors.New("synthesis failed")
	// ErrEmptyInput means there was nothing to synthesize.
	ErrEmptyInput = errors.New("empty input")
)

// Error is a provider failure tagged with its kind.
type Error struct {
	Provider   string
	Kind       error
	StatusCode int
	Message    string
	// Fatal marks a SynthesisFailed error that must not be retried.
	Fatal bool
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unavailable creates an ErrProviderUnavailable error.
func Unavailable(provider, message string) error {
	return &Error{Provider: provider, Kind: ErrProviderUnavailable, Message: message}
}

// RateLimited creates an ErrRateLimited error.
func RateLimited(provider string, statusCode int, message string) error {
	return &Error{Provider: provider, Kind: ErrRateLimited, StatusCode: statusCode, Message: message}
}

// Failed creates a retryable ErrSynthesisFailed error.
func Failed(provider string, statusCode int, message string, err error) error {
	return &Error{Provider: provider, Kind: ErrSynthesisFailed, StatusCode: statusCode, Message: message, Err: err}
}

// NewFatalError creates an ErrSynthesisFailed error that must not be retried.
func NewFatalError(provider string, statusCode int, message string) error {
	return &Error{Provider: provider, Kind: ErrSynthesisFailed, StatusCode: statusCode, Message: message, Fatal: true}
}

// FromStatus maps a non-2xx HTTP response into the error taxonomy.
func FromStatus(provider string, statusCode int, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		body = "[empty body]"
	}
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &Error{Provider: provider, Kind: ErrProviderUnavailable, StatusCode: statusCode, Message: body}
	case statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout:
		return RateLimited(provider, statusCode, body)
	case statusCode >= 500:
		return Failed(provider, statusCode, body, nil)
	default:
		return NewFatalError(provider, statusCode, body)
	}
}

// Class is the retry classification of an error.
type Class int

const (
	// Transient errors may succeed when retried.
	Transient Class = iota
	// Fatal errors fail the same way every time.
	Fatal
)

func (c Class) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "transient"
}

// Classify decides whether err is worth retrying against the same provider.
func Classify(err error) Class {
	switch {
	case err == nil:
		return Transient
	case errors.Is(err, context.Canceled):
		return Fatal
	case errors.Is(err, ErrEmptyInput), errors.Is(err, ErrProviderUnavailable):
		return Fatal
	case errors.Is(err, ErrRateLimited):
		return Transient
	}

	var te *Error
	if errors.As(err, &te) {
		if te.Fatal {
			return Fatal
		}
		return Transient
	}

	if IsAuthMessage(err.Error()) {
		return Fatal
	}
	return Transient
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	return err != nil && Classify(err) == Fatal
}

var rateLimitMarkers = []string{
	"429", "rate limit", "ratelimit", "too many requests", "no audio", "blocked",
	"resource_exhausted", "resource exhausted", "quota", "throttl",
}

// IsRateLimitMessage reports whether a backend message reads like throttling.
// Some backends signal throttling only through the message text, for example
// an edge-tts session that closes with "no audio received".
func IsRateLimitMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsAuthMessage reports whether a backend message reads like a credential failure.
func IsAuthMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "invalid_api_key") || strings.Contains(msg, "api key not valid") ||
		strings.Contains(msg, "permission_denied")
}

// FromMessage classifies an SDK error that carries no structured status.
func FromMessage(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Failed(provider, 0, "", err)
	}
	msg := err.Error()
	switch {
	case IsAuthMessage(msg):
		return &Error{Provider: provider, Kind: ErrProviderUnavailable, Err: err}
	case IsRateLimitMessage(msg):
		return &Error{Provider: provider, Kind: ErrRateLimited, Err: err}
	default:
		return Failed(provider, 0, "", err)
	}
}
