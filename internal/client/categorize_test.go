package client

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kjstillabower/air-quality-proxy/internal/circuitbreaker"
)

// TestCategorizeError verifies that CategorizeError maps errors to the correct ErrorCategory
// for metrics labeling, including sentinel errors, upstream statuses and message heuristics.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"timeout context", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled context", context.Canceled, ErrorCategoryTimeout},
		{"wrapped timeout", &UpstreamError{Err: fmt.Errorf("%w: %w", ErrUpstreamFailure, context.DeadlineExceeded)}, ErrorCategoryTimeout},
		{"missing API key", ErrMissingAPIKey, ErrorCategoryMissingAPIKey},
		{"invalid API key", &UpstreamError{Status: 401, Err: ErrInvalidAPIKey}, ErrorCategoryInvalidAPIKey},
		{"rate limited", &UpstreamError{Status: 429, Err: ErrRateLimited}, ErrorCategoryRateLimited},
		{"circuit open", &UpstreamError{Err: fmt.Errorf("%w: %w", ErrUpstreamFailure, circuitbreaker.ErrOpen)}, ErrorCategoryCircuitOpen},
		{"bad request", &UpstreamError{Status: 400, Err: ErrUpstreamFailure}, ErrorCategoryUpstream4xx},
		{"server error", &UpstreamError{Status: 503, Err: ErrUpstreamFailure}, ErrorCategoryUpstream5xx},
		{"network in message", errors.New("dial tcp: connection refused"), ErrorCategoryNetwork},
		{"parse in message", errors.New("parse response: invalid json"), ErrorCategoryParsing},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CategorizeError(tt.err)
			if got != tt.want {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}
