package rlm

import "errors"

// Status describes how a run ended.
type Status string

const (
	// StatusFinalized means the model produced a final answer.
	StatusFinalized Status = "finalized"
	// StatusIterationExhausted means the shared iteration pool ran dry before
	// a final answer was confirmed. The result carries the best-effort
	// candidate, or NoAnswer if none was produced.
	StatusIterationExhausted Status = "iteration_budget_exhausted"
	// StatusProviderFailed means the LLM provider failed after retries.
	StatusProviderFailed Status = "provider_failed"
)

// NoAnswer is returned as the result when the iteration pool is exhausted
// before the model produced any candidate answer.
const NoAnswer = "(no answer produced)"

// ErrProviderFailed wraps the underlying provider error on fatal failure.
var ErrProviderFailed = errors.New("provider failed")
