// Session - one root-to-leaf execution of the directive loop.
//
// A session owns an append-only transcript and loops: acquire an iteration
// slot, ask the model for the next directive, execute it, append the
// observation. The only shared mutable state is the Tracker and the iteration
// Pool; everything else is session-local.

package rlm

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/richinex/daedalus/llm"
)

// outcome is the terminal result of one session.
type outcome struct {
	answer string
	status Status
}

// runState is the per-request state every session in the tree shares: the
// stat tracker, the iteration pool, the output validator, and the client
// pair whose attempts count into that tracker. Complete builds a fresh one
// per request so concurrent requests on one Engine stay independent.
type runState struct {
	tracker   *Tracker
	pool      *Pool
	validator *Validator

	root      *llm.Client
	recursive *llm.Client
	optimizer *llm.Client
}

type session struct {
	engine *Engine
	shared *runState
	id     string
	depth  int
	query  string
	store  *Store

	transcript []llm.Message

	// candidate holds the most recent finalize answer that was not yet
	// confirmed, so exhaustion mid-critique can still return it.
	candidate    string
	hasCandidate bool
	revised      bool
}

func newSession(engine *Engine, run *runState, depth int, query string, store *Store) *session {
	s := &session{
		engine: engine,
		shared: run,
		id:     uuid.NewString(),
		depth:  depth,
		query:  query,
		store:  store,
	}
	system := systemPrompt(query, store.Len(), depth, engine.maxDepth)
	if depth == 0 && run.validator != nil {
		system += schemaInstruction(run.validator.Schema())
	}
	s.transcript = []llm.Message{
		llm.SystemMessage(system),
		llm.UserMessage(query),
	}
	return s
}

// client selects the model for this session's depth: the recursive model for
// any nested session when one is configured, else the root model.
func (s *session) client() *llm.Client {
	if s.depth > 0 && s.shared.recursive != nil {
		return s.shared.recursive
	}
	return s.shared.root
}

// observe appends an observation turn to the transcript.
func (s *session) observe(text string) {
	s.transcript = append(s.transcript, llm.UserMessage("Observation: "+text))
}

// run drives the loop to a terminal state. A non-nil error is fatal for the
// whole request (provider failure or timeout); budget exhaustion is a normal
// outcome, not an error.
func (s *session) run(ctx context.Context) (outcome, error) {
	s.shared.tracker.RecordDepth(s.depth)

	for {
		if !s.shared.pool.Acquire() {
			return s.exhausted(), nil
		}
		s.shared.tracker.Iterations.Add(1)

		reply, err := s.client().Chat(ctx, s.transcript)
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled from elsewhere in the tree; report exhaustion so
				// the root's status, not ours, decides the request outcome.
				return s.exhausted(), ctx.Err()
			}
			return outcome{status: StatusProviderFailed},
				fmt.Errorf("%w: %v", ErrProviderFailed, err)
		}
		s.transcript = append(s.transcript, llm.AssistantMessage(reply))

		act, parseErr := ParseAction(reply)
		if parseErr != nil {
			s.engine.logger.Debug("directive rejected",
				"session", s.id, "depth", s.depth, "err", parseErr)
			s.record("parse_error", 0)
			s.observe(grammarReminder(parseErr))
			continue
		}

		done, out, err := s.execute(ctx, act)
		if err != nil {
			return out, err
		}
		if done {
			return out, nil
		}
	}
}

// execute dispatches one parsed directive. done reports a terminal state.
func (s *session) execute(ctx context.Context, act Action) (done bool, out outcome, err error) {
	switch act.Kind {
	case KindPeek:
		slice := s.store.Peek(act.Offset, act.Length)
		obs := fmt.Sprintf("bytes %q", slice)
		if slice == "" {
			obs = "(empty region)"
		}
		s.record(string(act.Kind), len(obs))
		s.observe(obs)

	case KindGrep:
		obs := s.execGrep(act)
		s.record(string(act.Kind), len(obs))
		s.observe(obs)

	case KindPartition:
		obs := s.execPartition(act)
		s.record(string(act.Kind), len(obs))
		s.observe(obs)

	case KindSummarize:
		obs, serr := s.execSummarize(ctx, act)
		if serr != nil {
			return true, outcome{status: StatusProviderFailed},
				fmt.Errorf("%w: summarize: %v", ErrProviderFailed, serr)
		}
		s.record(string(act.Kind), len(obs))
		s.observe(obs)

	case KindRecurse:
		obs, rerr := s.execRecurse(ctx, act)
		if rerr != nil {
			return true, outcome{status: StatusProviderFailed}, rerr
		}
		s.record(string(act.Kind), len(obs))
		s.observe(obs)

	case KindMap:
		obs, merr := s.execMap(ctx, act)
		if merr != nil {
			return true, outcome{status: StatusProviderFailed}, merr
		}
		s.record(string(act.Kind), len(obs))
		s.observe(obs)

	case KindFinal:
		s.record(string(act.Kind), len(act.Answer))
		return s.finalize(ctx, act.Answer)

	default:
		// Unreachable given ParseAction's validation.
		s.observe(grammarReminder(fmt.Errorf("unknown action %q", act.Kind)))
	}

	return false, outcome{}, nil
}

func (s *session) execGrep(act Action) string {
	matches, truncated, err := s.store.Grep(act.Pattern, act.Region)
	if err != nil {
		return err.Error()
	}
	if len(matches) == 0 {
		return fmt.Sprintf("no matches for %q", act.Pattern)
	}

	obs := fmt.Sprintf("%d matching lines:\n", len(matches))
	for _, m := range matches {
		obs += fmt.Sprintf("@%d: %s\n", m.Offset, m.Line)
	}
	if truncated {
		obs += fmt.Sprintf("(truncated: only the first %d matches shown; narrow the region to see more)", MaxGrepMatches)
	}
	return obs
}

func (s *session) execPartition(act Action) string {
	chunks := s.store.Partition(act.N, act.Region)
	obs := fmt.Sprintf("%d chunks:\n", len(chunks))
	for i, c := range chunks {
		obs += fmt.Sprintf("chunk %d: start=%d end=%d\n", i, c.Start, c.End)
	}
	return obs
}

// execSummarize issues exactly one model call over the selected region.
func (s *session) execSummarize(ctx context.Context, act Action) (string, error) {
	region := s.store.Slice(act.Region)
	if region == "" {
		return "(empty region)", nil
	}

	summary, err := s.client().Chat(ctx, []llm.Message{
		llm.UserMessage(summarizePrompt(s.query, region)),
	})
	if err != nil {
		return "", err
	}
	return "summary: " + summary, nil
}

// finalize ends the session, routing through the schema check and the
// metacognitive check when they apply. A rejection or revision re-enters the
// loop instead of terminating.
func (s *session) finalize(ctx context.Context, answer string) (bool, outcome, error) {
	if s.depth == 0 && s.shared.validator != nil {
		if err := s.shared.validator.CheckAnswer(answer); err != nil {
			s.candidate = answer
			s.hasCandidate = true
			s.record("schema_error", len(answer))
			s.observe("Final answer rejected: " + err.Error() +
				"\nEmit a corrected final directive whose answer is a JSON value matching the required schema.")
			return false, outcome{}, nil
		}
	}

	if !s.shouldCritique() {
		return true, outcome{answer: answer, status: StatusFinalized}, nil
	}

	s.candidate = answer
	s.hasCandidate = true

	verdict, err := s.critique(ctx, answer)
	if err != nil {
		return true, outcome{status: StatusProviderFailed}, err
	}

	switch verdict.kind {
	case critiqueConfirmed, critiqueSkipped:
		return true, outcome{answer: answer, status: StatusFinalized}, nil
	default:
		s.revised = true
		s.observe("Your answer was challenged: " + verdict.text +
			"\nRevisit the context and finalize again.")
		return false, outcome{}, nil
	}
}

// exhausted builds the iteration-exhaustion outcome, carrying the best
// candidate seen so far.
func (s *session) exhausted() outcome {
	answer := NoAnswer
	if s.hasCandidate {
		answer = s.candidate
	}
	return outcome{answer: answer, status: StatusIterationExhausted}
}

// record writes one trace row; tracing is best-effort.
func (s *session) record(action string, obsBytes int) {
	if s.engine.trace == nil {
		return
	}
	iter := int(s.shared.tracker.Iterations.Load())
	if err := s.engine.trace.RecordStep(s.id, s.depth, iter, action, obsBytes); err != nil {
		s.engine.logger.Debug("trace write failed", "err", err)
	}
}
