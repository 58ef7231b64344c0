package app

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/dkeye/Livecall/internal/domain"
)

const limiterCap = 4096

// CreateLimiter is a per-creator token bucket on session creation. The
// least recently seen creators are forgotten past limiterCap.
type CreateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters *lru.Cache[domain.UserID, *rate.Limiter]
}

// NewCreateLimiter allows perSecond creations with bursts of burst.
// A non-positive perSecond disables limiting.
func NewCreateLimiter(perSecond float64, burst int) *CreateLimiter {
	limiters, _ := lru.New[domain.UserID, *rate.Limiter](limiterCap)
	l := rate.Limit(perSecond)
	if perSecond <= 0 {
		l = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &CreateLimiter{limit: l, burst: burst, limiters: limiters}
}

func (c *CreateLimiter) Allow(creator domain.UserID) bool {
	c.mu.Lock()
	lim, ok := c.limiters.Get(creator)
	if !ok {
		lim = rate.NewLimiter(c.limit, c.burst)
		c.limiters.Add(creator, lim)
	}
	c.mu.Unlock()
	return lim.Allow()
}
