package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryLimiter: misma ventana fija que el limiter de redis pero
// process-local, con contadores que expiran solos vía go-cache. Para
// dev/tests y deployments de una sola instancia.
type memoryLimiter struct {
	max    int64
	window time.Duration

	mu    sync.Mutex
	slots *gocache.Cache
}

func NewMemoryLimiter(max int, window time.Duration) Limiter {
	return &memoryLimiter{
		max:    int64(max),
		window: window,
		slots:  gocache.New(window, time.Minute),
	}
}

func (l *memoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	slot := time.Now().UTC().Truncate(l.window)
	slotEnd := slot.Add(l.window)
	k := fmt.Sprintf("%s:%d", key, slot.Unix())

	l.mu.Lock()
	var hits int64 = 1
	if v, ok := l.slots.Get(k); ok {
		hits = v.(int64) + 1
	}
	l.slots.Set(k, hits, time.Until(slotEnd))
	l.mu.Unlock()

	return verdict(hits, l.max, slotEnd), nil
}
