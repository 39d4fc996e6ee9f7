// Query optimizer - optional pre-loop rewrite of vague queries.
//
// Short or underspecified queries tend to send the directive loop on
// aimless peeks. When the stage is enabled, one model call rewrites the
// query into an operational form before the root session starts. The
// rewrite is strictly best-effort: any failure falls back to the original
// query, and a query that already names its operation is left alone.

package rlm

import (
	"context"
	"strings"

	"github.com/richinex/daedalus/llm"
)

// shortQueryThreshold is the length below which a query is considered too
// terse to steer the loop on its own.
const shortQueryThreshold = 50

// operationalMarkers are phrasings that already tell the loop what to do.
// Rewriting them tends to strip the operation, so they are left untouched.
var operationalMarkers = []string{
	"extract", "parse", "find all", "identify", "list the", "count the", "summarize",
}

// queryNeedsRewrite gates the optimizer call.
func queryNeedsRewrite(query string) bool {
	lower := strings.ToLower(query)
	for _, marker := range operationalMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return len(query) < shortQueryThreshold
}

// optimizeQuery rewrites the query with one model call, consuming one pooled
// iteration. With the pool dry, a failing provider, or an empty reply the
// original query is returned unchanged.
func (e *Engine) optimizeQuery(ctx context.Context, run *runState, query, contextText string) string {
	if !queryNeedsRewrite(query) {
		return query
	}
	if !run.pool.Acquire() {
		return query
	}
	run.tracker.Iterations.Add(1)

	client := run.optimizer
	if client == nil {
		client = run.root
	}

	reply, err := client.Chat(ctx, []llm.Message{
		llm.UserMessage(optimizePrompt(query, contextText)),
	})
	if err != nil {
		e.logger.Debug("query rewrite failed", "err", err)
		return query
	}

	rewritten := strings.TrimSpace(reply)
	if rewritten == "" {
		return query
	}
	e.logger.Debug("query rewritten", "from", query, "to", rewritten)
	return rewritten
}
