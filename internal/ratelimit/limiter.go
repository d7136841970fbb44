package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"payrail/internal/metrics"
)

// Limiter wraps a token-bucket limiter shared by the calls of one remote client.
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// NewLimiter allows rps requests per second with the given burst.
// A non-positive rps disables limiting.
func NewLimiter(rps float64, burst int, name string) *Limiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(limit, burst),
		name:    name,
	}
}

// Wait blocks until one token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	r := l.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := r.Delay()
	if delay > 0 {
		metrics.ChainRateLimitWaits.WithLabelValues(l.name).Inc()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
	}
	return nil
}

// RecordCall records a chain RPC call with its outcome class.
func RecordCall(network, method string, err error) {
	metrics.ChainRPCCalls.WithLabelValues(network, method, Classify(err)).Inc()
}

// Classify buckets an RPC error for metrics labels.
func Classify(err error) string {
	if err == nil {
		return "ok"
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "timeout"
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		return "rate_limited"
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503"):
		return "server_error"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") || strings.Contains(lower, "eof"):
		return "network_error"
	default:
		return "client_error"
	}
}
