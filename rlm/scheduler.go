// Recursion scheduling: child sessions for recurse directives and bounded
// concurrent fan-out for map directives.
//
// Depth is enforced here: a recurse past max_depth is denied with an
// observation, never an error. Fan-out children share the tree's single
// iteration pool and tracker; results are reassembled by chunk index no
// matter which worker finishes first.

package rlm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// execRecurse runs one child session over the selected sub-context.
// Returns the observation for the parent's transcript; a non-nil error is
// fatal for the whole request.
func (s *session) execRecurse(ctx context.Context, act Action) (string, error) {
	if s.depth+1 > s.engine.maxDepth {
		return fmt.Sprintf("recursion denied: maximum depth (%d) reached; answer from the context you can already see", s.engine.maxDepth), nil
	}

	var childStore *Store
	if act.HasContext {
		childStore = NewStore(act.Context)
	} else {
		childStore = NewStore(s.store.Slice(act.Region))
	}

	child := newSession(s.engine, s.shared, s.depth+1, act.Query, childStore)
	out, err := child.run(ctx)
	if err != nil {
		return "", err
	}
	return childObservation(act.Query, out), nil
}

// execMap partitions the region into n chunks and runs the sub-query over
// each as a child session, concurrently up to the engine's worker bound.
func (s *session) execMap(ctx context.Context, act Action) (string, error) {
	if s.depth+1 > s.engine.maxDepth {
		return fmt.Sprintf("recursion denied: maximum depth (%d) reached; answer from the context you can already see", s.engine.maxDepth), nil
	}

	chunks := s.store.Partition(act.N, act.Region)

	mapCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type mapResult struct {
		index int
		out   outcome
		err   error
	}

	workers := s.engine.maxWorkers
	if workers > len(chunks) {
		workers = len(chunks)
	}

	jobs := make(chan int)
	// Buffered channel prevents goroutine leaks
	results := make(chan mapResult, len(chunks))

	for w := 0; w < workers; w++ {
		go func() {
			for idx := range jobs {
				if mapCtx.Err() != nil {
					results <- mapResult{index: idx, err: mapCtx.Err()}
					continue
				}
				childStore := NewStore(s.store.Slice(chunks[idx]))
				child := newSession(s.engine, s.shared, s.depth+1, act.Query, childStore)
				out, err := child.run(mapCtx)
				results <- mapResult{index: idx, out: out, err: err}
			}
		}()
	}

	go func() {
		for i := range chunks {
			jobs <- i
		}
		close(jobs)
	}()

	outcomes := make([]outcome, len(chunks))
	var fatal error
	for i := 0; i < len(chunks); i++ {
		r := <-results
		if r.err != nil {
			// Cancellation errors are fallout from an earlier failure or
			// pool exhaustion, not a failure in their own right.
			if fatal == nil && !errors.Is(r.err, context.Canceled) {
				fatal = r.err
			}
			// Stop siblings; keep draining so workers can exit.
			cancel()
			continue
		}
		if r.out.status == StatusIterationExhausted {
			// Pool is dry for everyone; no point letting siblings spin.
			cancel()
		}
		outcomes[r.index] = r.out
	}

	if fatal != nil {
		return "", fatal
	}

	var b strings.Builder
	fmt.Fprintf(&b, "map results over %d chunks:\n", len(chunks))
	for i, out := range outcomes {
		answer := out.answer
		if out.status == "" {
			answer = "(cancelled)"
		}
		fmt.Fprintf(&b, "chunk %d: %s\n", i, answer)
	}
	return b.String(), nil
}

// childObservation phrases a child outcome for the parent transcript.
func childObservation(query string, out outcome) string {
	switch out.status {
	case StatusFinalized:
		return fmt.Sprintf("sub-query %q answered: %s", query, out.answer)
	case StatusIterationExhausted:
		return fmt.Sprintf("sub-query %q did not finish: iteration budget exhausted; best effort: %s", query, out.answer)
	default:
		return fmt.Sprintf("sub-query %q failed", query)
	}
}
