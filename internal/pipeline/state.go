package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rajchodisetti/marketfeed/internal/observ"
	"github.com/Rajchodisetti/marketfeed/internal/store"
)

// RateLimitStateKey holds the persisted breaker windows
const RateLimitStateKey = "rate_limit_state"

const stateVersion = 1

type trackerState struct {
	Version int               `json:"version"`
	SavedAt time.Time         `json:"savedAt"`
	Windows map[string]Window `json:"windows"`
}

// SaveState persists the active breaker windows so a restarted process
// keeps honoring a cooldown a provider imposed on the previous one
func (s *Service) SaveState(ctx context.Context) error {
	windows := s.tracker.Snapshot()
	if len(windows) == 0 {
		return s.store.Delete(ctx, RateLimitStateKey)
	}

	raw, err := json.Marshal(trackerState{
		Version: stateVersion,
		SavedAt: s.tracker.now().UTC(),
		Windows: windows,
	})
	if err != nil {
		return fmt.Errorf("marshal rate limit state: %w", err)
	}
	if err := s.store.Set(ctx, RateLimitStateKey, raw); err != nil {
		return fmt.Errorf("save rate limit state: %w", err)
	}
	observ.Log("rate_limit_state_saved", map[string]any{"windows": len(windows)})
	return nil
}

// RestoreState reloads persisted windows; expired ones are dropped.
// It returns how many windows were restored.
func (s *Service) RestoreState(ctx context.Context) (int, error) {
	raw, err := s.store.Get(ctx, RateLimitStateKey)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load rate limit state: %w", err)
	}

	var state trackerState
	if err := json.Unmarshal(raw, &state); err != nil {
		return 0, fmt.Errorf("parse rate limit state: %w", err)
	}
	if state.Version != stateVersion {
		observ.Log("rate_limit_state_version_mismatch", map[string]any{"version": state.Version})
		return 0, nil
	}

	restored := 0
	for key, w := range state.Windows {
		if w.Active && s.tracker.restore(key, w.Until) {
			restored++
		}
	}
	observ.Log("rate_limit_state_restored", map[string]any{
		"restored": restored,
		"saved_at": state.SavedAt.Format(time.RFC3339),
	})
	return restored, nil
}
