package session

import (
	"math/rand"
	"time"
)

// RetryConfig tunes the managed-transaction retry loop. Zero value is not
// meaningful; use DefaultRetryConfig.
type RetryConfig struct {
	MaxRetryTime  time.Duration
	InitialDelay  time.Duration
	Multiplier    float64
	Jitter        float64
}

// DefaultRetryConfig matches the protocol spec's defaults: 30s ceiling, 1s
// initial delay, 2x backoff multiplier, +/-20% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetryTime: 30 * time.Second,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// jitteredDelay returns delay scaled by a uniform random factor in
// [1-jitter, 1+jitter], per the retry loop's delay formula.
func jitteredDelay(delay time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return delay
	}
	factor := 1 - jitter + rand.Float64()*2*jitter
	return time.Duration(float64(delay) * factor)
}
