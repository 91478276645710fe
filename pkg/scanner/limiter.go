package scanner

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/merlya/merlya/pkg/config"
)

var (
	limiterMu     sync.Mutex
	sharedLimiter *rate.Limiter
)

// SharedLimiter returns the process-wide scan rate limiter, creating it from
// cfg on first use. Every Scanner in the process draws from the same bucket,
// so concurrent scan requests cannot multiply the configured rate.
//
// rate.Limiter sleeps outside its internal lock while waiting for a token,
// so one waiting host never serializes the rest of the fleet.
func SharedLimiter(cfg config.ScannerConfig) *rate.Limiter {
	limiterMu.Lock()
	defer limiterMu.Unlock()
	if sharedLimiter == nil {
		sharedLimiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return sharedLimiter
}

// ResetLimiter discards the shared limiter so the next SharedLimiter call
// rebuilds it. Test-only.
func ResetLimiter() {
	limiterMu.Lock()
	defer limiterMu.Unlock()
	sharedLimiter = nil
}
