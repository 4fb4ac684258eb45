package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// backpressure bounds concurrent agent runs globally and throttles
// per-user request rates. Requests from the same user are processed
// one at a time, in arrival order.
type backpressure struct {
	sem *semaphore.Weighted

	floodRate  rate.Limit
	floodBurst int

	mu    sync.Mutex
	users map[string]*userGate
}

type userGate struct {
	limiter *rate.Limiter
	queue   sync.Mutex
}

func newBackpressure(maxConcurrent int, floodRatePerSec float64, floodBurst int) *backpressure {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if floodRatePerSec <= 0 {
		floodRatePerSec = 1
	}
	if floodBurst <= 0 {
		floodBurst = 3
	}
	return &backpressure{
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		floodRate:  rate.Limit(floodRatePerSec),
		floodBurst: floodBurst,
		users:      make(map[string]*userGate),
	}
}

func (b *backpressure) gate(userID string) *userGate {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.users[userID]
	if !ok {
		g = &userGate{limiter: rate.NewLimiter(b.floodRate, b.floodBurst)}
		b.users[userID] = g
	}
	return g
}

// acquire admits one request for the user. A flood-limited request is
// rejected immediately with the wait it would need; an admitted
// request holds the user's queue slot and one global slot until
// release is called.
func (b *backpressure) acquire(ctx context.Context, userID string) (release func(), retryAfter time.Duration, err error) {
	g := b.gate(userID)

	reservation := g.limiter.Reserve()
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		return nil, delay, errFlooded
	}

	g.queue.Lock()
	if err := b.sem.Acquire(ctx, 1); err != nil {
		g.queue.Unlock()
		return nil, 0, err
	}
	return func() {
		b.sem.Release(1)
		g.queue.Unlock()
	}, 0, nil
}
