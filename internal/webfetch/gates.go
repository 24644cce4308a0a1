package webfetch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gates bounds web fetch concurrency globally and per host. Waiters queue
// FIFO on both levels.
type Gates struct {
	global *semaphore.Weighted

	mu      sync.Mutex
	perHost map[string]*semaphore.Weighted
	hostCap int64
}

// NewGates builds gates with the given global and per-host limits.
func NewGates(globalLimit, perHostLimit int) *Gates {
	if globalLimit < 1 {
		globalLimit = 1
	}
	if perHostLimit < 1 {
		perHostLimit = 1
	}
	return &Gates{
		global:  semaphore.NewWeighted(int64(globalLimit)),
		perHost: make(map[string]*semaphore.Weighted),
		hostCap: int64(perHostLimit),
	}
}

func (g *Gates) hostSem(host string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()
	sem, ok := g.perHost[host]
	if !ok {
		sem = semaphore.NewWeighted(g.hostCap)
		g.perHost[host] = sem
	}
	return sem
}

// Acquire takes the global slot then the host slot. On failure nothing is
// held.
func (g *Gates) Acquire(ctx context.Context, host string) error {
	if err := g.global.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := g.hostSem(host).Acquire(ctx, 1); err != nil {
		g.global.Release(1)
		return err
	}
	return nil
}

// Release returns both slots.
func (g *Gates) Release(host string) {
	g.hostSem(host).Release(1)
	g.global.Release(1)
}
