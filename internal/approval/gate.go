// Package approval provides the shared human sign-off gate for tool calls
// that policy marks REQUIRE_APPROVAL.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Request statuses. A request transitions out of StatusPending exactly once.
// StatusAbandoned records a waiter that gave up (abort or shutdown) before
// anyone responded, as opposed to a TTL expiry.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusDenied    = "denied"
	StatusExpired   = "expired"
	StatusAbandoned = "abandoned"
)

// Origin kinds.
const (
	OriginSession   = "session"
	OriginExecution = "execution"
)

var (
	// ErrNotFound is returned when no request with the given id is pending.
	ErrNotFound = errors.New("approval request not found")
	// ErrAlreadyResolved is the conflict signal for resolving a request
	// that has already left the pending state.
	ErrAlreadyResolved = errors.New("approval request already resolved")
)

// Request represents a blocked tool invocation awaiting human sign-off.
type Request struct {
	ID          string         `json:"id"`
	Tool        string         `json:"tool"`
	Arguments   map[string]any `json:"arguments"`
	Origin      string         `json:"origin"`
	OriginKind  string         `json:"origin_kind"`
	Reason      string         `json:"reason"`
	Status      string         `json:"status"`
	RequestedAt time.Time      `json:"requested_at"`
	RespondedAt time.Time      `json:"responded_at,omitempty"`
	Responder   string         `json:"responder,omitempty"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// Resolution is delivered to the waiting session or execution.
type Resolution struct {
	Approved  bool
	Expired   bool
	Responder string
	Reason    string
}

// Store persists approval requests. All writes are best-effort; the gate
// works without one.
type Store interface {
	InsertApproval(req *Request) error
	UpdateApprovalStatus(id, status, responder, reason string) error
}

type entry struct {
	req *Request
	ch  chan Resolution
}

// Gate holds blocked invocations and resolves each exactly once, by human
// action or by the expiry sweep.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*entry
	store   Store
	ttl     time.Duration
	sweep   time.Duration
}

// NewGate creates an approval gate. store may be nil.
func NewGate(store Store, ttl, sweepInterval time.Duration) *Gate {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = 15 * time.Second
	}
	return &Gate{
		pending: make(map[string]*entry),
		store:   store,
		ttl:     ttl,
		sweep:   sweepInterval,
	}
}

// Run drives the periodic expiry sweep until ctx is cancelled.
func (g *Gate) Run(ctx context.Context) {
	ticker := time.NewTicker(g.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweepExpired(time.Now())
		}
	}
}

// Create registers a new pending request and returns its id.
func (g *Gate) Create(req *Request) string {
	req.ID = uuid.NewString()
	req.Status = StatusPending
	req.RequestedAt = time.Now()
	req.ExpiresAt = req.RequestedAt.Add(g.ttl)

	g.mu.Lock()
	g.pending[req.ID] = &entry{req: req, ch: make(chan Resolution, 1)}
	g.mu.Unlock()

	if g.store != nil {
		if err := g.store.InsertApproval(req); err != nil {
			slog.Warn("Approval persist failed", "id", req.ID, "error", err)
		}
	}
	slog.Info("Approval requested", "id", req.ID, "tool", req.Tool, "origin", req.Origin)
	return req.ID
}

// Wait blocks until the request is resolved or ctx ends. The entry is
// removed once the resolution is consumed.
func (g *Gate) Wait(ctx context.Context, id string) (Resolution, error) {
	g.mu.Lock()
	e, ok := g.pending[id]
	g.mu.Unlock()
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	select {
	case res := <-e.ch:
		g.remove(id)
		return res, nil
	case <-ctx.Done():
		// Caller gave up; settle the request so a late human response
		// gets the conflict signal instead of waking nobody.
		g.resolve(id, Resolution{Expired: true, Reason: "requester abandoned the wait"}, StatusAbandoned)
		g.remove(id)
		return Resolution{}, ctx.Err()
	}
}

// Approve resolves a pending request positively.
func (g *Gate) Approve(id, responder string) error {
	return g.resolve(id, Resolution{Approved: true, Responder: responder}, StatusApproved)
}

// Deny resolves a pending request negatively.
func (g *Gate) Deny(id, responder, reason string) error {
	return g.resolve(id, Resolution{Responder: responder, Reason: reason}, StatusDenied)
}

// Pending returns a snapshot of requests still awaiting resolution.
func (g *Gate) Pending() []*Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Request, 0, len(g.pending))
	for _, e := range g.pending {
		if e.req.Status == StatusPending {
			cp := *e.req
			out = append(out, &cp)
		}
	}
	return out
}

// resolve transitions a request out of pending exactly once and wakes the
// waiter. Resolving a settled or unknown request fails with a conflict
// signal, never a crash.
func (g *Gate) resolve(id string, res Resolution, status string) error {
	g.mu.Lock()
	e, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.req.Status != StatusPending {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, id, e.req.Status)
	}
	e.req.Status = status
	e.req.Responder = res.Responder
	e.req.RespondedAt = time.Now()
	g.mu.Unlock()

	// Buffered channel: the send never blocks, the waiter may arrive later.
	select {
	case e.ch <- res:
	default:
	}

	if g.store != nil {
		if err := g.store.UpdateApprovalStatus(id, status, res.Responder, res.Reason); err != nil {
			slog.Warn("Approval status persist failed", "id", id, "error", err)
		}
	}
	slog.Info("Approval resolved", "id", id, "status", status, "responder", res.Responder)
	return nil
}

// sweepExpired marks pending requests past expiry as EXPIRED and wakes
// their waiters with a synthetic denial.
func (g *Gate) sweepExpired(now time.Time) {
	g.mu.Lock()
	var expired []string
	for id, e := range g.pending {
		if e.req.Status == StatusPending && now.After(e.req.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	g.mu.Unlock()

	for _, id := range expired {
		if err := g.resolve(id, Resolution{Expired: true, Reason: "approval expired"}, StatusExpired); err != nil {
			// Lost the race against a human response; that is fine.
			continue
		}
	}
}

func (g *Gate) remove(id string) {
	g.mu.Lock()
	delete(g.pending, id)
	g.mu.Unlock()
}
