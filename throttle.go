package lookupd

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle wraps a ResolveFunc to limit the outbound resolver call rate.
// A nil Throttle is equivalent to identity.
type Throttle interface {
	Wrap(fn ResolveFunc) ResolveFunc
}

// noThrottle is the identity wrapper used when no throttling strategy is
// configured.
type noThrottle struct{}

func (noThrottle) Wrap(fn ResolveFunc) ResolveFunc { return fn }

// RateThrottle limits outbound resolver calls to a fixed rate using
// golang.org/x/time/rate, the limiter the pack's own cache/fetch-rate
// configuration (EntryFetchRate) is built on.
type RateThrottle struct {
	limiter *rate.Limiter
}

// NewRateThrottle allows up to ratePerSecond calls per second, with burst
// concurrent calls admitted immediately.
func NewRateThrottle(ratePerSecond float64, burst int) *RateThrottle {
	return &RateThrottle{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

func (t *RateThrottle) Wrap(fn ResolveFunc) ResolveFunc {
	return func(ctx context.Context, host string) ([]ResolvedAddress, error) {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, NewLookupError(CodeCancelled, host, err)
		}
		return fn(ctx, host)
	}
}
