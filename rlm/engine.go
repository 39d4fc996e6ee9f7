// Engine - the request-level entry point for the recursive completion loop.
//
// One Complete call services one request: it creates the shared tracker and
// iteration pool, runs the root session at depth 0, and returns the answer
// with execution statistics. The engine holds no state between requests.

package rlm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/richinex/daedalus/llm"
)

// DefaultMaxWorkers bounds concurrent map fan-out. A resource limit, not part
// of the request schema.
const DefaultMaxWorkers = 4

// TraceRecorder receives one row per executed directive. Implementations must
// be safe for concurrent use; fan-out children record from worker goroutines.
type TraceRecorder interface {
	RecordStep(sessionID string, depth, iteration int, action string, observationBytes int) error
}

// Engine runs recursive completions against a pair of model clients.
type Engine struct {
	root      *llm.Client
	recursive *llm.Client
	optimizer *llm.Client

	maxDepth      int
	maxIterations int
	metacognitive bool
	optimize      bool
	maxWorkers    int
	timeout       time.Duration
	schema        *Schema

	logger *slog.Logger
	trace  TraceRecorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecursiveProvider sets the model used by sessions at depth > 0.
func WithRecursiveProvider(p llm.Provider) Option {
	return func(e *Engine) { e.recursive = llm.NewClient(p) }
}

// WithMaxDepth sets the recursion depth limit.
func WithMaxDepth(d int) Option {
	return func(e *Engine) { e.maxDepth = d }
}

// WithMaxIterations sets the shared iteration pool capacity.
func WithMaxIterations(n int) Option {
	return func(e *Engine) { e.maxIterations = n }
}

// WithMetacognition enables the self-critique pass before finalizing.
func WithMetacognition(enabled bool) Option {
	return func(e *Engine) { e.metacognitive = enabled }
}

// WithQueryOptimizer enables the pre-loop query rewrite stage.
func WithQueryOptimizer(enabled bool) Option {
	return func(e *Engine) { e.optimize = enabled }
}

// WithOptimizerProvider sets a dedicated model for the query rewrite call.
// Without one the rewrite uses the root model.
func WithOptimizerProvider(p llm.Provider) Option {
	return func(e *Engine) { e.optimizer = llm.NewClient(p) }
}

// WithOutputSchema constrains the final answer to a JSON value matching the
// schema. Answers that fail validation are rejected back into the loop.
func WithOutputSchema(s *Schema) Option {
	return func(e *Engine) { e.schema = s }
}

// WithMaxWorkers bounds concurrent map fan-out.
func WithMaxWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// WithTimeout bounds the wall-clock time of one Complete call.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithLogger sets the structured logger. Silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTrace attaches a per-run trace recorder.
func WithTrace(t TraceRecorder) Option {
	return func(e *Engine) { e.trace = t }
}

// New creates an engine around the root model provider.
func New(root llm.Provider, opts ...Option) *Engine {
	e := &Engine{
		root:          llm.NewClient(root),
		maxDepth:      5,
		maxIterations: 30,
		maxWorkers:    DefaultMaxWorkers,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the caller-facing outcome of one request.
type Result struct {
	Answer string
	Status Status
	Stats  Stats
}

// Complete answers the query over the given context. A non-nil error means
// the request failed fatally (bad budgets, provider failure, timeout);
// iteration exhaustion is reported through Result.Status, not the error.
func (e *Engine) Complete(ctx context.Context, query, contextText string) (Result, error) {
	if e.maxDepth < 1 {
		return Result{}, fmt.Errorf("max_depth must be at least 1, got %d", e.maxDepth)
	}
	if e.maxIterations < 0 {
		return Result{}, fmt.Errorf("max_iterations must not be negative, got %d", e.maxIterations)
	}

	var validator *Validator
	if e.schema != nil {
		var verr error
		validator, verr = NewValidator(e.schema)
		if verr != nil {
			return Result{}, fmt.Errorf("invalid output schema: %w", verr)
		}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := &Tracker{}

	// Every attempt that reaches a provider counts, including retries. The
	// hook is bound to this request's tracker on copies of the clients, so
	// concurrent Complete calls on one Engine count independently.
	count := func() { tracker.LLMCalls.Add(1) }
	run := &runState{
		tracker:   tracker,
		pool:      NewPool(e.maxIterations),
		validator: validator,
		root:      e.root.WithAttemptHook(count),
	}
	if e.recursive != nil {
		run.recursive = e.recursive.WithAttemptHook(count)
	}
	if e.optimizer != nil {
		run.optimizer = e.optimizer.WithAttemptHook(count)
	}

	e.logger.Debug("request start",
		"context_bytes", len(contextText),
		"max_depth", e.maxDepth,
		"max_iterations", e.maxIterations,
		"metacognitive", e.metacognitive)

	if e.optimize {
		query = e.optimizeQuery(ctx, run, query, contextText)
	}

	root := newSession(e, run, 0, query, NewStore(contextText))
	out, err := root.run(ctx)
	stats := tracker.Snapshot()

	if err != nil {
		e.logger.Debug("request failed", "err", err, "stats", stats)
		return Result{Status: StatusProviderFailed, Stats: stats}, err
	}

	e.logger.Debug("request done", "status", out.status, "stats", stats)
	return Result{Answer: out.answer, Status: out.status, Stats: stats}, nil
}
