package webfetch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGatesPerHostLimit(t *testing.T) {
	t.Parallel()
	g := NewGates(8, 2)

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Acquire(context.Background(), "example.com"); err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			g.Release("example.com")
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Errorf("peak per-host in-flight = %d, want <= 2", got)
	}
	if got := atomic.LoadInt32(&inFlight); got != 0 {
		t.Errorf("in-flight after drain = %d, want 0", got)
	}
}

func TestGatesGlobalLimit(t *testing.T) {
	t.Parallel()
	g := NewGates(2, 2)

	var inFlight, peak int32
	var wg sync.WaitGroup
	hosts := []string{"a.example", "b.example", "c.example", "d.example"}
	for _, host := range hosts {
		host := host
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Acquire(context.Background(), host); err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			g.Release(host)
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Errorf("peak global in-flight = %d, want <= 2", got)
	}
}

func TestGatesAcquireCancelled(t *testing.T) {
	t.Parallel()
	g := NewGates(1, 1)
	if err := g.Acquire(context.Background(), "x.example"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := g.Acquire(ctx, "x.example"); err == nil {
		t.Fatal("expected context error while gate is held")
	}
	g.Release("x.example")
	// The failed acquire must not have leaked a slot.
	if err := g.Acquire(context.Background(), "x.example"); err != nil {
		t.Fatalf("gate leaked after cancelled acquire: %v", err)
	}
	g.Release("x.example")
}
