package approval

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestApproveWakesWaiter(t *testing.T) {
	g := NewGate(nil, time.Minute, time.Second)
	id := g.Create(&Request{Tool: "service_restart", Origin: "sess-1", OriginKind: OriginSession})

	done := make(chan Resolution, 1)
	go func() {
		res, err := g.Wait(context.Background(), id)
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		done <- res
	}()

	// Give the waiter a moment to park.
	time.Sleep(10 * time.Millisecond)
	if err := g.Approve(id, "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	select {
	case res := <-done:
		if !res.Approved || res.Responder != "alice" {
			t.Fatalf("unexpected resolution: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken")
	}
}

func TestResolveExactlyOnce(t *testing.T) {
	g := NewGate(nil, time.Minute, time.Second)
	id := g.Create(&Request{Tool: "exec", Origin: "sess-1", OriginKind: OriginSession})

	if err := g.Deny(id, "bob", "too risky"); err != nil {
		t.Fatalf("first Deny: %v", err)
	}
	if err := g.Approve(id, "alice"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if err := g.Deny(id, "carol", "again"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestUnknownRequest(t *testing.T) {
	g := NewGate(nil, time.Minute, time.Second)
	if err := g.Approve("nope", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := g.Wait(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExpirySweepDeliversSyntheticDenial(t *testing.T) {
	g := NewGate(nil, 20*time.Millisecond, time.Hour)
	id := g.Create(&Request{Tool: "exec", Origin: "exec-1", OriginKind: OriginExecution})

	done := make(chan Resolution, 1)
	go func() {
		res, err := g.Wait(context.Background(), id)
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		done <- res
	}()

	time.Sleep(30 * time.Millisecond)
	g.sweepExpired(time.Now())

	select {
	case res := <-done:
		if res.Approved || !res.Expired {
			t.Fatalf("expected synthetic denial via expiry, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter hung past expiry")
	}

	// Expired requests resolve exactly once too.
	if err := g.Approve(id, "late"); !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected conflict or not-found for late approve, got %v", err)
	}
}

func TestSweepSkipsUnexpired(t *testing.T) {
	g := NewGate(nil, time.Hour, time.Hour)
	id := g.Create(&Request{Tool: "exec", Origin: "sess-1", OriginKind: OriginSession})

	g.sweepExpired(time.Now())
	if got := len(g.Pending()); got != 1 {
		t.Fatalf("expected 1 pending request, got %d", got)
	}
	if err := g.Approve(id, "alice"); err != nil {
		t.Fatalf("Approve after sweep: %v", err)
	}
}

func TestWaitCancellation(t *testing.T) {
	g := NewGate(nil, time.Hour, time.Hour)
	id := g.Create(&Request{Tool: "exec", Origin: "sess-1", OriginKind: OriginSession})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.Wait(ctx, id); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

// statusStore records persisted status transitions.
type statusStore struct {
	statuses map[string]string
}

func (s *statusStore) InsertApproval(req *Request) error {
	s.statuses[req.ID] = req.Status
	return nil
}

func (s *statusStore) UpdateApprovalStatus(id, status, _, _ string) error {
	s.statuses[id] = status
	return nil
}

func TestCancelledWaitPersistsAsAbandoned(t *testing.T) {
	store := &statusStore{statuses: make(map[string]string)}
	g := NewGate(store, time.Hour, time.Hour)
	id := g.Create(&Request{Tool: "exec", Origin: "sess-1", OriginKind: OriginSession})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Wait(ctx, id); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}

	// The persisted record distinguishes abandonment from a TTL expiry,
	// and a late response still gets a conflict, not a silent success.
	if store.statuses[id] != StatusAbandoned {
		t.Fatalf("expected abandoned status, got %q", store.statuses[id])
	}
	if err := g.Approve(id, "late"); !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected conflict for late approve, got %v", err)
	}
}
