package adapters

import (
	"sync"
	"time"

	"github.com/Rajchodisetti/marketfeed/internal/observ"
)

// ProviderStatus represents the health state of a data provider
type ProviderStatus string

const (
	ProviderStatusHealthy  ProviderStatus = "healthy"
	ProviderStatusDegraded ProviderStatus = "degraded"
	ProviderStatusFailed   ProviderStatus = "failed"
)

// ProviderHealth tracks provider reliability and latency
type ProviderHealth struct {
	mu                   sync.RWMutex
	name                 string
	status               ProviderStatus
	lastSuccessful       time.Time
	lastError            time.Time
	lastErrorKind        ErrorKind
	errorCount           int64
	successCount         int64
	consecutiveErrors    int
	consecutiveSuccesses int
	latencyEMA           time.Duration

	// Health thresholds
	degradedErrorRate    float64 // 0.20 = 20%
	failedErrorRate      float64 // 0.50 = 50%
	maxConsecutiveErrors int
	recoverAfter         int // consecutive successes needed to return to healthy
}

// HealthSnapshot is a point-in-time copy of a provider's health
type HealthSnapshot struct {
	Provider          string         `json:"provider"`
	Status            ProviderStatus `json:"status"`
	ErrorRate         float64        `json:"error_rate"`
	ConsecutiveErrors int            `json:"consecutive_errors"`
	SuccessCount      int64          `json:"success_count"`
	ErrorCount        int64          `json:"error_count"`
	LastSuccessful    time.Time      `json:"last_successful,omitempty"`
	LastError         time.Time      `json:"last_error,omitempty"`
	LastErrorKind     ErrorKind      `json:"last_error_kind,omitempty"`
	LatencyMs         int64          `json:"latency_ms"`
}

// NewProviderHealth creates a new provider health monitor
func NewProviderHealth(name string) *ProviderHealth {
	return &ProviderHealth{
		name:                 name,
		status:               ProviderStatusHealthy,
		degradedErrorRate:    0.20,
		failedErrorRate:      0.50,
		maxConsecutiveErrors: 5,
		recoverAfter:         3,
	}
}

// RecordSuccess records a successful fetch
func (ph *ProviderHealth) RecordSuccess(latency time.Duration) {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.lastSuccessful = time.Now()
	ph.successCount++
	ph.consecutiveErrors = 0
	ph.consecutiveSuccesses++
	ph.updateLatency(latency)

	if ph.status != ProviderStatusHealthy && ph.consecutiveSuccesses >= ph.recoverAfter {
		ph.transition(ProviderStatusHealthy)
	}

	observ.IncCounter("provider_operations_total", map[string]string{
		"provider": ph.name,
		"result":   "success",
	})
	observ.SetGauge("provider_status", ph.statusToFloat(), map[string]string{"provider": ph.name})
}

// RecordError records a failed fetch
func (ph *ProviderHealth) RecordError(err error) {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.lastError = time.Now()
	ph.lastErrorKind = KindOf(err)
	ph.errorCount++
	ph.consecutiveErrors++
	ph.consecutiveSuccesses = 0

	if next := ph.evaluate(); next != ph.status {
		ph.transition(next)
	}

	observ.IncCounter("provider_operations_total", map[string]string{
		"provider": ph.name,
		"result":   string(ph.lastErrorKind),
	})
	observ.SetGauge("provider_status", ph.statusToFloat(), map[string]string{"provider": ph.name})
}

// GetStatus returns the current provider status
func (ph *ProviderHealth) GetStatus() ProviderStatus {
	ph.mu.RLock()
	defer ph.mu.RUnlock()
	return ph.status
}

// Snapshot returns current health metrics
func (ph *ProviderHealth) Snapshot() HealthSnapshot {
	ph.mu.RLock()
	defer ph.mu.RUnlock()

	return HealthSnapshot{
		Provider:          ph.name,
		Status:            ph.status,
		ErrorRate:         ph.errorRate(),
		ConsecutiveErrors: ph.consecutiveErrors,
		SuccessCount:      ph.successCount,
		ErrorCount:        ph.errorCount,
		LastSuccessful:    ph.lastSuccessful,
		LastError:         ph.lastError,
		LastErrorKind:     ph.lastErrorKind,
		LatencyMs:         ph.latencyEMA.Milliseconds(),
	}
}

func (ph *ProviderHealth) errorRate() float64 {
	total := ph.successCount + ph.errorCount
	if total == 0 {
		return 0
	}
	return float64(ph.errorCount) / float64(total)
}

// evaluate calculates the status implied by the error pattern
func (ph *ProviderHealth) evaluate() ProviderStatus {
	if ph.consecutiveErrors >= ph.maxConsecutiveErrors {
		return ProviderStatusFailed
	}
	rate := ph.errorRate()
	switch {
	case rate >= ph.failedErrorRate:
		return ProviderStatusFailed
	case rate >= ph.degradedErrorRate:
		return ProviderStatusDegraded
	default:
		return ph.status
	}
}

func (ph *ProviderHealth) transition(to ProviderStatus) {
	from := ph.status
	ph.status = to
	observ.Log("provider_status_change", map[string]any{
		"provider":           ph.name,
		"from":               string(from),
		"to":                 string(to),
		"consecutive_errors": ph.consecutiveErrors,
	})
	observ.IncCounter("provider_status_change_total", map[string]string{
		"provider": ph.name,
		"from":     string(from),
		"to":       string(to),
	})
}

// updateLatency keeps an exponential moving average of fetch latency
func (ph *ProviderHealth) updateLatency(latency time.Duration) {
	if ph.latencyEMA == 0 {
		ph.latencyEMA = latency
	} else {
		alpha := 0.1
		ph.latencyEMA = time.Duration(float64(ph.latencyEMA)*(1-alpha) + float64(latency)*alpha)
	}

	observ.RecordDuration("provider_latency", latency, map[string]string{
		"provider": ph.name,
	})
}

// statusToFloat converts status to numeric value for metrics
func (ph *ProviderHealth) statusToFloat() float64 {
	switch ph.status {
	case ProviderStatusHealthy:
		return 1.0
	case ProviderStatusDegraded:
		return 0.5
	case ProviderStatusFailed:
		return 0.0
	default:
		return -1.0
	}
}
