// Package throttle paces outbound deliveries per campaign using token
// bucket rate limiting. Provider reputation is shared across workers,
// so the pace is enforced centrally rather than per goroutine.
package throttle

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/cadencehq/cadence/id"
)

// Limiter enforces a per-campaign send rate. Campaigns not seen before
// get a fresh bucket on first use.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	perSecond rate.Limit
	burst     int
}

// New creates a Limiter allowing perSecond sends per campaign with the
// given burst. A non-positive perSecond disables throttling.
func New(perSecond float64, burst int) *Limiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters:  make(map[string]*rate.Limiter),
		perSecond: limit,
		burst:     burst,
	}
}

func (l *Limiter) limiterFor(campaignID id.CampaignID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := campaignID.String()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.perSecond, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Wait blocks until the campaign may send or ctx is done.
func (l *Limiter) Wait(ctx context.Context, campaignID id.CampaignID) error {
	return l.limiterFor(campaignID).Wait(ctx)
}

// Allow reports whether the campaign may send right now, consuming a
// token when it may.
func (l *Limiter) Allow(campaignID id.CampaignID) bool {
	return l.limiterFor(campaignID).Allow()
}
