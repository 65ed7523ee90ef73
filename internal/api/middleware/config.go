// Package middleware provides HTTP middleware components for the sequencer's
// control-plane API.
package middleware

import (
	"time"

	"github.com/jotautomation/iris/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers:
//   - Global: Applied to all requests
//   - Per-caller: Applied to authenticated requests
//   - Unauthenticated: Applied to requests without a caller ID
//
// Burst capacity allows temporary bursts above sustained rate.
// If burst fields are 0, they are computed automatically as 2 × rate.
type Config struct {
	// Rate limits (requests per second)
	GlobalRPS int // Default: 100
	CallerRPS int // Default: 50
	UnAuthRPS int // Default: 10

	// Optional burst capacity overrides (0 = compute automatically as 2 × rate) using computeBurstCapacity()
	GlobalBurst int // Default: 0 (computed as 2 × GlobalRPS = 200)
	CallerBurst int // Default: 0 (computed as 2 × CallerRPS = 100)
	UnAuthBurst int // Default: 0 (computed as 2 × UnAuthRPS = 20)

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxCallers      int           // Default: 10,000
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
//
// Default burst capacity: 2 × rate (allows 2-second burst)
// Default cleanup: every 5 minutes, removes callers idle >1 hour
// Default max callers: 10,000 (a warning is logged at 80% of it; the count
// is not capped).
func LoadConfig() *Config {
	return &Config{
		// Rate limits
		GlobalRPS: config.GetEnvInt("SEQUENCER_GLOBAL_RPS", defaultGlobalRPS),
		CallerRPS: config.GetEnvInt("SEQUENCER_CALLER_RPS", defaultCallerRPS),
		UnAuthRPS: config.GetEnvInt("SEQUENCER_UNAUTH_RPS", defaultUnAuthRPS),

		// Burst overrides (0 = auto-compute)
		GlobalBurst: config.GetEnvInt("SEQUENCER_GLOBAL_BURST", 0),
		CallerBurst: config.GetEnvInt("SEQUENCER_CALLER_BURST", 0),
		UnAuthBurst: config.GetEnvInt("SEQUENCER_UNAUTH_BURST", 0),

		// Cleanup configuration
		CleanupInterval: config.GetEnvDuration(
			"SEQUENCER_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("SEQUENCER_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxCallers:  config.GetEnvInt("SEQUENCER_RATE_LIMIT_MAX_CALLERS", maxCallers),
	}
}
