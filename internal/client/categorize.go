package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ProviderErrorKind is a stable label for weather provider failures. It is used
// as a segment error kind and as a metric label.
type ProviderErrorKind string

const (
	KindTimeout           ProviderErrorKind = "timeout"
	KindRateLimited       ProviderErrorKind = "rate_limited"
	KindMalformedResponse ProviderErrorKind = "malformed_response"
	KindUpstream          ProviderErrorKind = "upstream"
	KindUnavailable       ProviderErrorKind = "unavailable"
	KindInvalidAPIKey     ProviderErrorKind = "invalid_api_key"
)

var (
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed response")
)

// ProviderError is returned by WeatherProvider implementations for every fetch failure.
type ProviderError struct {
	Kind ProviderErrorKind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("weather provider %s: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func providerError(kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Err: err}
}

// KindOf classifies err. Errors that are not ProviderErrors are classified by
// context and network timeouts, falling back to upstream.
func KindOf(err error) ProviderErrorKind {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformedResponse
	case errors.Is(err, ErrInvalidAPIKey):
		return KindInvalidAPIKey
	}
	return KindUpstream
}

// retryable reports whether another attempt could succeed.
func retryable(kind ProviderErrorKind) bool {
	switch kind {
	case KindTimeout, KindRateLimited, KindUpstream:
		return true
	}
	return false
}
