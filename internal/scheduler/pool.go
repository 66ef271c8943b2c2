// Package scheduler provides bounded worker pools for the agent core.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
)

// Pool runs tasks on goroutines, bounded by a slot channel. Submission
// blocks until a slot is free, which backpressures the caller instead of
// growing an unbounded queue.
type Pool struct {
	name  string
	slots chan struct{}
	wg    sync.WaitGroup
}

// NewPool creates a named pool with the given concurrency limit.
func NewPool(name string, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{name: name, slots: make(chan struct{}, size)}
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Submit takes a slot and runs task on a new goroutine. It blocks until a
// slot is available or ctx ends.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.launch(task)
	return nil
}

// TrySubmit runs task on a new goroutine if a slot is free, without
// blocking. Returns false when the pool is saturated.
func (p *Pool) TrySubmit(task func()) bool {
	select {
	case p.slots <- struct{}{}:
	default:
		return false
	}
	p.launch(task)
	return true
}

// launch runs task on a goroutine that returns its slot when done, even
// on panic.
func (p *Pool) launch(task func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.slots }()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("pool task panicked", "pool", p.name, "panic", r)
			}
		}()
		task()
	}()
}

// Available returns the number of free slots.
func (p *Pool) Available() int {
	return cap(p.slots) - len(p.slots)
}

// Wait blocks until all submitted tasks have finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Pools holds the three bounded pools the core runs work on: reasoning
// sessions, monitor probes, and playbook executions.
type Pools struct {
	Agent    *Pool
	Monitor  *Pool
	Playbook *Pool
}

// NewPools creates the pool set from configured sizes.
func NewPools(agentSize, monitorSize, playbookSize int) *Pools {
	return &Pools{
		Agent:    NewPool("agent", agentSize),
		Monitor:  NewPool("monitor", monitorSize),
		Playbook: NewPool("playbook", playbookSize),
	}
}

// Wait blocks until all pools have drained. Monitor drains first because
// its tasks fan out into the agent and playbook pools.
func (p *Pools) Wait() {
	p.Monitor.Wait()
	p.Playbook.Wait()
	p.Agent.Wait()
}
