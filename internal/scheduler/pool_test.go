package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitBlocksUntilSlotFree(t *testing.T) {
	p := NewPool("test", 1)
	release := make(chan struct{})
	if err := p.Submit(context.Background(), func() { <-release }); err != nil {
		t.Fatalf("submit: %v", err)
	}

	accepted := make(chan struct{})
	go func() {
		if err := p.Submit(context.Background(), func() {}); err == nil {
			close(accepted)
		}
	}()

	select {
	case <-accepted:
		t.Fatal("submit should block while the slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("submit did not proceed after the slot freed")
	}
	p.Wait()
}

func TestSubmitHonorsContext(t *testing.T) {
	p := NewPool("test", 1)
	release := make(chan struct{})
	if err := p.Submit(context.Background(), func() { <-release }); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Submit(ctx, func() {}); err == nil {
		t.Fatal("expected context error from a blocked submit")
	}
	close(release)
	p.Wait()
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool("test", 3)
	var running, peak int64
	var mu sync.Mutex
	release := make(chan struct{})

	for i := 0; i < 10; i++ {
		go func() {
			_ = p.Submit(context.Background(), func() {
				n := atomic.AddInt64(&running, 1)
				mu.Lock()
				if n > peak {
					peak = n
				}
				mu.Unlock()
				<-release
				atomic.AddInt64(&running, -1)
			})
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	p.Wait()

	mu.Lock()
	defer mu.Unlock()
	if peak > 3 {
		t.Fatalf("pool ran %d tasks concurrently, limit is 3", peak)
	}
}

func TestTrySubmitRejectsWhenSaturated(t *testing.T) {
	p := NewPool("test", 1)
	release := make(chan struct{})
	if !p.TrySubmit(func() { <-release }) {
		t.Fatal("first submit should be accepted")
	}
	// Wait for the task to hold the slot.
	deadline := time.After(time.Second)
	for p.Available() != 0 {
		select {
		case <-deadline:
			t.Fatal("task never occupied the slot")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if p.TrySubmit(func() {}) {
		t.Fatal("submit should be rejected while saturated")
	}
	close(release)
	p.Wait()
}

func TestPoolRecoversFromPanic(t *testing.T) {
	p := NewPool("test", 1)
	if err := p.Submit(context.Background(), func() { panic("boom") }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	p.Wait()
	if p.Available() != 1 {
		t.Fatal("slot should be released after panic")
	}
}
