package enrich

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"movierecs/internal/domain"
	"movierecs/internal/metrics"
)

const (
	providerFailureThreshold = 3
	providerBlockBase        = 2 * time.Minute
	providerBlockMax         = 15 * time.Minute
)

// providerHealth blocks the provider after consecutive transient failures so
// a dead upstream costs one placeholder per item instead of a full timeout.
type providerHealth struct {
	name string

	mu                  sync.Mutex
	consecutiveFailures int
	blockedUntil        time.Time
	lastError           string
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastTimeout         bool
	totalRequests       int64
	totalFailures       int64
	timeoutCount        int64
}

func newProviderHealth(name string) *providerHealth {
	metrics.ProviderAvailable.WithLabelValues(name).Set(1)
	return &providerHealth{name: name}
}

func (h *providerHealth) blocked(now time.Time) (bool, time.Time, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.blockedUntil.IsZero() || now.After(h.blockedUntil) {
		return false, time.Time{}, ""
	}
	return true, h.blockedUntil, h.lastError
}

// record updates the counters for one provider call. Permanent errors, such
// as an unknown movie id, prove the provider is reachable and reset the
// failure streak.
func (h *providerHealth) record(err error, latency time.Duration, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalRequests++
	if latency > 0 {
		h.lastLatency = latency
	}
	h.lastTimeout = isTimeoutLike(err)
	if h.lastTimeout {
		h.timeoutCount++
	}

	if err == nil || !isTransient(err) {
		if err != nil {
			h.totalFailures++
			h.lastFailureAt = now
			h.lastError = err.Error()
		} else {
			h.lastSuccessAt = now
			h.lastError = ""
		}
		h.consecutiveFailures = 0
		h.blockedUntil = time.Time{}
		metrics.ProviderAvailable.WithLabelValues(h.name).Set(1)
		return
	}

	h.consecutiveFailures++
	h.totalFailures++
	h.lastFailureAt = now
	h.lastError = err.Error()
	if h.consecutiveFailures >= providerFailureThreshold {
		h.blockedUntil = now.Add(blockDuration(h.consecutiveFailures))
		metrics.ProviderAvailable.WithLabelValues(h.name).Set(0)
	}
}

// blockDuration is providerBlockBase × 2^(failures - threshold), capped.
func blockDuration(consecutiveFailures int) time.Duration {
	d := providerBlockBase
	for i := providerFailureThreshold; i < consecutiveFailures; i++ {
		d *= 2
		if d >= providerBlockMax {
			return providerBlockMax
		}
	}
	return d
}

func isTimeoutLike(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "timeout") || strings.Contains(value, "deadline exceeded")
}

func (h *providerHealth) snapshot() domain.ProviderDiagnostics {
	h.mu.Lock()
	defer h.mu.Unlock()

	item := domain.ProviderDiagnostics{
		Name:                h.name,
		ConsecutiveFailures: h.consecutiveFailures,
		LastError:           h.lastError,
		LastLatencyMS:       h.lastLatency.Milliseconds(),
		LastTimeout:         h.lastTimeout,
		TotalRequests:       h.totalRequests,
		TotalFailures:       h.totalFailures,
		TimeoutCount:        h.timeoutCount,
	}
	if !h.blockedUntil.IsZero() {
		blockedUntil := h.blockedUntil
		item.BlockedUntil = &blockedUntil
	}
	if !h.lastSuccessAt.IsZero() {
		lastSuccessAt := h.lastSuccessAt
		item.LastSuccessAt = &lastSuccessAt
	}
	if !h.lastFailureAt.IsZero() {
		lastFailureAt := h.lastFailureAt
		item.LastFailureAt = &lastFailureAt
	}
	return item
}
