package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// TestKindOf verifies classification of provider errors, wrapped sentinels and
// context failures into segment error kinds.
func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ProviderErrorKind
	}{
		{"nil", nil, ""},
		{"provider error", providerError(KindRateLimited, ErrRateLimited), KindRateLimited},
		{"wrapped provider error", fmt.Errorf("segment 2: %w", providerError(KindUnavailable, errors.New("open"))), KindUnavailable},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", context.Canceled, KindTimeout},
		{"invalid API key", fmt.Errorf("auth: %w", ErrInvalidAPIKey), KindInvalidAPIKey},
		{"malformed", ErrMalformedResponse, KindMalformedResponse},
		{"rate limited", ErrRateLimited, KindRateLimited},
		{"unknown", errors.New("connection refused"), KindUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	err := providerError(KindInvalidAPIKey, ErrInvalidAPIKey)
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Error("ProviderError should unwrap to its cause")
	}
	if got := err.Error(); got != "weather provider invalid_api_key: invalid API key" {
		t.Errorf("Error() = %q", got)
	}
}
