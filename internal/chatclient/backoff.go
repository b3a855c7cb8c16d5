package chatclient

import (
	"math"
	"time"

	"chatsync/backend/internal/config"
)

// Backoff describes the reconnect schedule: attempt n waits
// min(Initial * Multiplier^(n-1), Max), never less than MinSpacing.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
	MinSpacing  time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     config.ReconnectInitialDelay,
		Max:         config.ReconnectMaxDelay,
		Multiplier:  config.ReconnectMultiplier,
		MaxAttempts: config.ReconnectMaxAttempts,
		MinSpacing:  config.ReconnectMinSpacing,
	}
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt-1))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return max(time.Duration(delay), b.MinSpacing)
}

// Exhausted reports whether attempt n would exceed MaxAttempts.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt > b.MaxAttempts
}
