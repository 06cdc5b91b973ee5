package pipeline

import (
	"sync"
	"time"

	"github.com/Rajchodisetti/marketfeed/internal/observ"
)

// ServiceKey is the breaker shared by every provider
const ServiceKey = "service"

// Scope decides how provider rate limits map onto breakers
type Scope string

const (
	// ScopeService trips the single service breaker on any provider's limit
	ScopeService Scope = "service"
	// ScopeProvider keeps one breaker per provider; the service breaker only
	// trips on manual activation
	ScopeProvider Scope = "provider"
)

// Window is one cooldown window
type Window struct {
	Active bool      `json:"active"`
	Until  time.Time `json:"until"`
}

// Tracker holds the cooldown windows
type Tracker struct {
	mu              sync.RWMutex
	windows         map[string]Window
	defaultCooldown time.Duration
	now             func() time.Time
}

func NewTracker(defaultCooldown time.Duration) *Tracker {
	if defaultCooldown <= 0 {
		defaultCooldown = DefaultCooldown
	}
	return &Tracker{
		windows:         make(map[string]Window),
		defaultCooldown: defaultCooldown,
		now:             time.Now,
	}
}

// IsLimited reports whether the window for key is active and unexpired
func (t *Tracker) IsLimited(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, ok := t.windows[key]
	return ok && w.Active && t.now().Before(w.Until)
}

// Activate opens a window of d for key; d <= 0 uses the default cooldown
func (t *Tracker) Activate(key string, d time.Duration) time.Time {
	if d <= 0 {
		d = t.defaultCooldown
	}

	t.mu.Lock()
	until := t.now().Add(d)
	t.windows[key] = Window{Active: true, Until: until}
	t.mu.Unlock()

	observ.Log("rate_limit_activated", map[string]any{
		"key":         key,
		"cooldown_ms": d.Milliseconds(),
		"until":       until.UTC().Format(time.RFC3339Nano),
	})
	observ.IncCounter("market_rate_limit_activations_total", map[string]string{"key": key})
	return until
}

// restore reinstates a persisted window without counting an activation.
// Windows already expired are ignored.
func (t *Tracker) restore(key string, until time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.now().Before(until) {
		return false
	}
	t.windows[key] = Window{Active: true, Until: until}
	return true
}

// Reset clears the window for key
func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	delete(t.windows, key)
	t.mu.Unlock()
}

// ResetAll clears every window
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	n := len(t.windows)
	t.windows = make(map[string]Window)
	t.mu.Unlock()

	observ.Log("rate_limit_reset", map[string]any{"windows_cleared": n})
}

// Until returns the expiry for key, zero when not limited
func (t *Tracker) Until(key string) time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, ok := t.windows[key]
	if !ok || !w.Active || !t.now().Before(w.Until) {
		return time.Time{}
	}
	return w.Until
}

// Snapshot returns the currently active windows
func (t *Tracker) Snapshot() map[string]Window {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	out := make(map[string]Window, len(t.windows))
	for k, w := range t.windows {
		if w.Active && now.Before(w.Until) {
			out[k] = w
		}
	}
	return out
}
