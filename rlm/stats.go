// Execution statistics shared across a recursive call tree.
//
// One Tracker and one iteration Pool are created per request and passed by
// reference down through every session. Both must be safe for concurrent use:
// fan-out children increment them from worker goroutines.

package rlm

import "sync/atomic"

// Tracker accumulates per-request execution counters.
type Tracker struct {
	LLMCalls   atomic.Int64 // provider attempts, one per call that reaches the provider
	Iterations atomic.Int64 // loop steps consumed anywhere in the tree
	maxDepth   atomic.Int64 // deepest session level reached
}

// RecordDepth raises the maximum depth if d is deeper than anything seen.
func (t *Tracker) RecordDepth(d int) {
	for {
		current := t.maxDepth.Load()
		if int64(d) <= current {
			return
		}
		if t.maxDepth.CompareAndSwap(current, int64(d)) {
			return
		}
	}
}

// MaxDepth returns the deepest session level reached so far.
func (t *Tracker) MaxDepth() int {
	return int(t.maxDepth.Load())
}

// Stats is the caller-facing snapshot of a Tracker.
type Stats struct {
	LLMCalls   int `json:"llm_calls"`
	Iterations int `json:"iterations"`
	Depth      int `json:"depth"`
}

// Snapshot captures the current counter values.
func (t *Tracker) Snapshot() Stats {
	return Stats{
		LLMCalls:   int(t.LLMCalls.Load()),
		Iterations: int(t.Iterations.Load()),
		Depth:      t.MaxDepth(),
	}
}

// Pool is the single iteration budget shared by an entire call tree. A slot
// must be acquired before every model turn; acquisition is atomic so that
// concurrent fan-out cannot overshoot the budget.
type Pool struct {
	remaining atomic.Int64
}

// NewPool creates a pool with the given capacity. Capacity zero is legal and
// yields a pool that denies every acquisition.
func NewPool(capacity int) *Pool {
	p := &Pool{}
	p.remaining.Add(int64(capacity))
	return p
}

// Acquire takes one slot. It reports false when the pool is exhausted.
func (p *Pool) Acquire() bool {
	for {
		current := p.remaining.Load()
		if current <= 0 {
			return false
		}
		if p.remaining.CompareAndSwap(current, current-1) {
			return true
		}
	}
}

// Remaining returns the number of slots left.
func (p *Pool) Remaining() int {
	return int(p.remaining.Load())
}
