package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arpitpandey/jobagent/internal/posting"
)

// sourceLimiter paces submissions per job board. Each source gets its own
// limiter so a slow board never delays submissions to another one.
type sourceLimiter struct {
	mu    sync.Mutex
	m     map[posting.Source]*rate.Limiter
	delay time.Duration
}

func newSourceLimiter(minDelay time.Duration) *sourceLimiter {
	return &sourceLimiter{
		m:     make(map[posting.Source]*rate.Limiter),
		delay: minDelay,
	}
}

func (sl *sourceLimiter) limiterFor(src posting.Source) *rate.Limiter {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if lim, ok := sl.m[src]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Every(sl.delay), 1)
	sl.m[src] = lim
	return lim
}

// Wait blocks until the next submission to src is allowed.
func (sl *sourceLimiter) Wait(ctx context.Context, src posting.Source) error {
	if sl.delay <= 0 {
		return nil
	}
	return sl.limiterFor(src).Wait(ctx)
}
