// Metacognitive controller - optional self-critique before finalizing.
//
// Implemented as a wrapper around the finalize transition rather than a
// branch in the main loop: the base loop stays testable with the mode off.
// One critique per candidate, at most one revision per session, and the
// critique draws from the same iteration pool as everything else.

package rlm

import (
	"context"
	"fmt"
	"strings"

	"github.com/richinex/daedalus/llm"
)

type critiqueKind int

const (
	critiqueConfirmed critiqueKind = iota
	critiqueRevision
	critiqueSkipped
)

type critiqueVerdict struct {
	kind critiqueKind
	text string
}

// shouldCritique gates the self-check: only at the root session, only when
// the mode is on, and only before the single allowed revision was spent.
func (s *session) shouldCritique() bool {
	return s.engine.metacognitive && s.depth == 0 && !s.revised
}

// critique asks the model to challenge the candidate answer. It consumes one
// pooled iteration; with the pool dry the candidate passes unchecked.
func (s *session) critique(ctx context.Context, answer string) (critiqueVerdict, error) {
	if !s.shared.pool.Acquire() {
		return critiqueVerdict{kind: critiqueSkipped}, nil
	}
	s.shared.tracker.Iterations.Add(1)

	reply, err := s.client().Chat(ctx, []llm.Message{
		llm.UserMessage(critiquePrompt(s.query, answer)),
	})
	if err != nil {
		if ctx.Err() != nil {
			return critiqueVerdict{}, ctx.Err()
		}
		return critiqueVerdict{}, fmt.Errorf("%w: critique: %v", ErrProviderFailed, err)
	}

	s.record("critique", len(reply))

	if strings.Contains(strings.ToUpper(reply), "CONFIRM") {
		return critiqueVerdict{kind: critiqueConfirmed}, nil
	}
	return critiqueVerdict{kind: critiqueRevision, text: reply}, nil
}
