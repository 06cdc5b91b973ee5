package adapters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProviderHealth_Transitions(t *testing.T) {
	ph := NewProviderHealth("yahoo")
	assert.Equal(t, ProviderStatusHealthy, ph.GetStatus())

	ph.RecordSuccess(40 * time.Millisecond)
	ph.RecordSuccess(60 * time.Millisecond)
	ph.RecordSuccess(50 * time.Millisecond)
	ph.RecordError(NewHTTPError("yahoo", "AAPL", 500, "boom", nil))
	// 1 of 4 failed: above the 20% degraded threshold
	assert.Equal(t, ProviderStatusDegraded, ph.GetStatus())

	ph.RecordError(NewTimeoutError("yahoo", "AAPL", nil))
	ph.RecordError(NewTimeoutError("yahoo", "AAPL", nil))
	assert.Equal(t, ProviderStatusFailed, ph.GetStatus())

	snap := ph.Snapshot()
	assert.Equal(t, "yahoo", snap.Provider)
	assert.Equal(t, int64(3), snap.SuccessCount)
	assert.Equal(t, int64(3), snap.ErrorCount)
	assert.Equal(t, 3, snap.ConsecutiveErrors)
	assert.Equal(t, KindTimeout, snap.LastErrorKind)
	assert.InDelta(t, 0.5, snap.ErrorRate, 1e-9)
	assert.Positive(t, snap.LatencyMs)
}

func TestProviderHealth_Recovers(t *testing.T) {
	ph := NewProviderHealth("fmp")
	for i := 0; i < 5; i++ {
		ph.RecordError(NewRateLimitError("fmp", "AAPL", "HTTP 429"))
	}
	assert.Equal(t, ProviderStatusFailed, ph.GetStatus())

	ph.RecordSuccess(time.Millisecond)
	ph.RecordSuccess(time.Millisecond)
	assert.Equal(t, ProviderStatusFailed, ph.GetStatus())

	ph.RecordSuccess(time.Millisecond)
	assert.Equal(t, ProviderStatusHealthy, ph.GetStatus())
	assert.Zero(t, ph.Snapshot().ConsecutiveErrors)
}
