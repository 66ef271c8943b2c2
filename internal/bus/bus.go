// Package bus provides the async message bus between the transport layer
// and the agent core.
package bus

import (
	"context"
	"sync"
	"time"
)

// Event kinds emitted by the core.
const (
	EventResponse        = "response"
	EventApprovalPrompt  = "approval_prompt"
	EventExecutionUpdate = "execution_update"
	EventSessionUpdate   = "session_update"
)

// Instruction is an inbound operator instruction for a session.
type Instruction struct {
	SessionID string         `json:"session_id"`
	Text      string         `json:"text"`
	Profile   string         `json:"profile,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Group     string         `json:"group,omitempty"`
	Sandboxed bool           `json:"sandboxed,omitempty"`
	Subagent  bool           `json:"subagent,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Event is an outbound notification from the core to the transport layer.
type Event struct {
	Kind      string    `json:"kind"`
	Origin    string    `json:"origin"`
	TraceID   string    `json:"trace_id,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus decouples the transport layer from the agent core.
type Bus struct {
	inbound  chan *Instruction
	outbound chan *Event
	subs     []func(*Event)
	mu       sync.RWMutex
}

// New creates a new bus.
func New() *Bus {
	return &Bus{
		inbound:  make(chan *Instruction, 100),
		outbound: make(chan *Event, 100),
	}
}

// PublishInstruction sends an instruction toward the core.
func (b *Bus) PublishInstruction(ins *Instruction) {
	if ins.Timestamp.IsZero() {
		ins.Timestamp = time.Now()
	}
	b.inbound <- ins
}

// ConsumeInstruction blocks until an instruction is available or ctx ends.
func (b *Bus) ConsumeInstruction(ctx context.Context) (*Instruction, error) {
	select {
	case ins := <-b.inbound:
		return ins, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishEvent sends an event toward the transport layer. Events are
// dropped when no dispatcher is draining and the buffer is full; the core
// must never block on notification delivery.
func (b *Bus) PublishEvent(ev *Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case b.outbound <- ev:
	default:
	}
}

// Subscribe registers a callback for outbound events.
func (b *Bus) Subscribe(callback func(*Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, callback)
}

// DispatchEvents runs the outbound event dispatcher. Run as a goroutine.
func (b *Bus) DispatchEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.outbound:
			b.mu.RLock()
			subs := b.subs
			b.mu.RUnlock()
			for _, cb := range subs {
				cb(ev)
			}
		}
	}
}

// PendingEvents returns the number of undelivered outbound events.
func (b *Bus) PendingEvents() int {
	return len(b.outbound)
}
