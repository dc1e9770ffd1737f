package scanning

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedExtractor caps the rate of outbound model calls
type RateLimitedExtractor struct {
	next    Extractor
	limiter *rate.Limiter
}

// NewRateLimitedExtractor allows perSecond calls per second with the given burst
func NewRateLimitedExtractor(next Extractor, perSecond float64, burst int) *RateLimitedExtractor {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedExtractor{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Extract waits for a token and delegates. A wait cut short by ctx is an extraction failure.
func (r *RateLimitedExtractor) Extract(ctx context.Context, imageData []byte, contentType string) (*RawExtraction, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, extractionFailed("ratelimit", fmt.Errorf("waiting for rate limiter: %w", err))
	}
	return r.next.Extract(ctx, imageData, contentType)
}

// Close closes the wrapped extractor
func (r *RateLimitedExtractor) Close() error {
	return r.next.Close()
}
