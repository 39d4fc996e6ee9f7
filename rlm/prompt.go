// Prompt construction for the directive loop.

package rlm

import (
	"fmt"
	"strings"
)

// directiveGrammar is shown to the model in the system prompt and repeated
// verbatim after a parse failure.
const directiveGrammar = `Respond with exactly ONE JSON directive object per turn. Directives:

{"action":"peek","offset":<int>,"length":<int>}
  Read a bounded slice of the context. Negative offset reads from the end.
{"action":"grep","pattern":"<regex>","start":<int>,"end":<int>}
  Find matching lines in a region. start/end are optional byte offsets.
{"action":"partition","n":<int>}
  Split a region into n contiguous chunks; returns their boundaries.
{"action":"recurse","query":"<sub-question>","start":<int>,"end":<int>}
  Ask a sub-question over a region (or pass "context":"<literal text>").
{"action":"map","query":"<sub-question>","n":<int>}
  Partition a region into n chunks and ask the sub-question over each chunk
  concurrently; results come back in chunk order.
{"action":"summarize","start":<int>,"end":<int>}
  Summarize a region.
{"action":"final","answer":"<answer>"}
  Finish with the final answer. The answer should be as short as possible,
  a bare value when the question asks for one.

Surrounding prose is ignored, but a turn with zero or multiple directive
objects is rejected.`

// systemPrompt builds the root instruction for a session.
func systemPrompt(query string, contextLen, depth, maxDepth int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are answering a question over a large text context of %d bytes.\n", contextLen)
	b.WriteString("You cannot see the context directly; you inspect it through directives, one per turn.\n")
	b.WriteString("After each directive you receive an observation. Work iteratively: inspect, narrow down, then finalize.\n\n")
	fmt.Fprintf(&b, "Recursion depth: %d of %d. Recursing past the limit is denied.\n\n", depth, maxDepth)
	b.WriteString(directiveGrammar)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)

	return b.String()
}

// grammarReminder is the observation fed back after a parse failure.
func grammarReminder(parseErr error) string {
	return fmt.Sprintf("Could not parse your directive: %v.\n\n%s", parseErr, directiveGrammar)
}

// summarizePrompt asks for a one-call summary of a region.
func summarizePrompt(query, region string) string {
	return fmt.Sprintf(
		"Summarize the following text, keeping every detail relevant to the question %q. Reply with the summary only.\n\n%s",
		query, region)
}

// optimizeContextPreview bounds how much of the context the rewrite call
// sees; it only needs enough to name the material, not to read it.
const optimizeContextPreview = 500

// optimizePrompt asks for an operational rewrite of a vague query.
func optimizePrompt(query, contextText string) string {
	preview := contextText
	if len(preview) > optimizeContextPreview {
		preview = preview[:optimizeContextPreview]
	}
	return fmt.Sprintf(`Rewrite the following query so it can drive a precise search over a large text.

Query: %s

The text is %d bytes; it begins:
%s

Make the rewrite specific about what to look for and what form the answer takes, without changing the question's intent. Reply with the rewritten query only, no explanation.`,
		query, len(contextText), preview)
}

// schemaInstruction is appended to the root system prompt when the final
// answer must validate against a schema.
func schemaInstruction(schema *Schema) string {
	return fmt.Sprintf(`

Your final answer must be a single JSON value conforming to this JSON Schema:
%s
Put only that JSON value in the final directive's answer field.`, schema.JSON())
}

// critiquePrompt drives the metacognitive self-check of a candidate answer.
func critiquePrompt(query, answer string) string {
	return fmt.Sprintf(`You previously answered a question. Critique your answer against the question.

Question: %s
Answer: %s

If the answer is correct and complete, reply with exactly CONFIRM.
Otherwise describe concretely what is wrong or missing.`, query, answer)
}
