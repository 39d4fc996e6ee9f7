package rlm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/richinex/daedalus/llm"
)

func TestMain(m *testing.M) {
	// go.opencensus.io (a transitive dependency of the genai SDK) starts a
	// background worker in its package init that can never be stopped here.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// scriptProvider replies from a fixed queue, or via a reply function when
// responses must depend on the transcript (concurrent fan-out).
type scriptProvider struct {
	mu      sync.Mutex
	replies []string
	reply   func(messages []llm.Message) string
	err     error
}

func (p *scriptProvider) Name() string  { return "script" }
func (p *scriptProvider) Model() string { return "script-model" }

func (p *scriptProvider) Complete(_ context.Context, messages []llm.Message) (llm.Completion, error) {
	if p.err != nil {
		return llm.Completion{}, p.err
	}
	if p.reply != nil {
		return llm.Completion{Content: p.reply(messages)}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return llm.Completion{}, errors.New("script exhausted")
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return llm.Completion{Content: r}, nil
}

func lastMessage(messages []llm.Message) string {
	return messages[len(messages)-1].Content
}

func sessionDepth(messages []llm.Message) int {
	m := regexp.MustCompile(`Recursion depth: (\d+) of`).FindStringSubmatch(messages[0].Content)
	if len(m) < 2 {
		return 0
	}
	var d int
	fmt.Sscanf(m[1], "%d", &d)
	return d
}

func assistantTurns(messages []llm.Message) int {
	n := 0
	for _, m := range messages {
		if m.Role == "assistant" {
			n++
		}
	}
	return n
}

func TestCountOccurrences(t *testing.T) {
	provider := &scriptProvider{replies: []string{
		`{"action":"grep","pattern":"test"}`,
		`{"action":"final","answer":"3"}`,
	}}
	engine := New(provider)

	result, err := engine.Complete(context.Background(),
		"How many times does 'test' appear?",
		"This is a test. Another test here. Final test.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Answer != "3" {
		t.Errorf("answer = %q, want \"3\"", result.Answer)
	}
	if result.Status != StatusFinalized {
		t.Errorf("status = %q, want finalized", result.Status)
	}
	if result.Stats.LLMCalls != 2 || result.Stats.Iterations != 2 || result.Stats.Depth != 0 {
		t.Errorf("stats = %+v", result.Stats)
	}
}

func TestOrgChartViaRecursion(t *testing.T) {
	provider := &scriptProvider{replies: []string{
		`{"action":"recurse","query":"Who does Bob report to?","context":"Bob reports to Carol."}`,
		`{"action":"final","answer":"Carol"}`, // child session
		`{"action":"final","answer":"Carol"}`, // parent, after child observation
	}}
	engine := New(provider)

	result, err := engine.Complete(context.Background(),
		"Who is Alice's manager's manager?",
		"Alice reports to Bob. Bob reports to Carol. Carol reports to David. David is the CEO.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Answer != "Carol" {
		t.Errorf("answer = %q, want \"Carol\"", result.Answer)
	}
	if result.Stats.Depth != 1 {
		t.Errorf("depth = %d, want 1", result.Stats.Depth)
	}
	if result.Stats.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", result.Stats.Iterations)
	}
}

func TestPriceTotal(t *testing.T) {
	provider := &scriptProvider{replies: []string{
		`{"action":"grep","pattern":"Alice"}`,
		`{"action":"final","answer":"50"}`,
	}}
	engine := New(provider)

	result, err := engine.Complete(context.Background(),
		"total price for all items Alice bought",
		"Alice: ItemA $10\nAlice: ItemB $25\nAlice: ItemC $15\nBob: ItemD $99\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Answer != "50" {
		t.Errorf("answer = %q, want \"50\"", result.Answer)
	}
}

func TestNumberSum(t *testing.T) {
	provider := &scriptProvider{replies: []string{
		`{"action":"peek","offset":0,"length":100}`,
		`{"action":"final","answer":"24444442"}`,
	}}
	engine := New(provider)

	result, err := engine.Complete(context.Background(),
		"sum of all numbers",
		"Numbers: 1234567, 9876543, 5555555, 7777777")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Answer != "24444442" {
		t.Errorf("answer = %q, want \"24444442\"", result.Answer)
	}
}

// TestTailRetrieval verifies that a suffix peek over a large context reaches
// the real tail: the scripted model reads its answer out of the observation,
// so a truncated retrieval would produce the wrong item number.
func TestTailRetrieval(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 500; i++ {
		fmt.Fprintf(&b, "Item %d\n", i)
	}
	itemRe := regexp.MustCompile(`Item (\d+)`)

	provider := &scriptProvider{reply: func(messages []llm.Message) string {
		if assistantTurns(messages) == 0 {
			return `{"action":"peek","offset":-40,"length":40}`
		}
		nums := itemRe.FindAllStringSubmatch(lastMessage(messages), -1)
		if len(nums) == 0 {
			return `{"action":"final","answer":"none"}`
		}
		return fmt.Sprintf(`{"action":"final","answer":"%s"}`, nums[len(nums)-1][1])
	}}
	engine := New(provider)

	result, err := engine.Complete(context.Background(), "last item number", b.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Answer != "500" {
		t.Errorf("answer = %q, want \"500\"", result.Answer)
	}
}

// TestMapFanOutPreservesChunkOrder makes earlier chunks finish last and
// asserts the reassembled observation still lists them in chunk order.
func TestMapFanOutPreservesChunkOrder(t *testing.T) {
	contextText := strings.Repeat("A", 25) + strings.Repeat("B", 25) +
		strings.Repeat("C", 25) + strings.Repeat("D", 25)
	chunkRe := regexp.MustCompile(`chunk \d+: ([A-D])`)

	provider := &scriptProvider{reply: func(messages []llm.Message) string {
		if sessionDepth(messages) == 0 {
			if assistantTurns(messages) == 0 {
				return `{"action":"map","query":"what letter?","n":4}`
			}
			// Echo the map observation's per-chunk answers in order.
			var letters []string
			for _, m := range chunkRe.FindAllStringSubmatch(lastMessage(messages), -1) {
				letters = append(letters, m[1])
			}
			return fmt.Sprintf(`{"action":"final","answer":"%s"}`, strings.Join(letters, ""))
		}

		// Child session: peek, then answer with the chunk's letter, earlier
		// letters sleeping longer so completion order is reversed.
		if assistantTurns(messages) == 0 {
			return `{"action":"peek","offset":0,"length":5}`
		}
		last := lastMessage(messages)
		letter := ""
		for _, l := range []string{"A", "B", "C", "D"} {
			if strings.Contains(last, l) {
				letter = l
				break
			}
		}
		delay := time.Duration('E'-letter[0]) * 10 * time.Millisecond
		time.Sleep(delay)
		return fmt.Sprintf(`{"action":"final","answer":"%s"}`, letter)
	}}
	engine := New(provider)

	result, err := engine.Complete(context.Background(), "spell the context", contextText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Answer != "ABCD" {
		t.Errorf("answer = %q, want \"ABCD\" (chunk order broken)", result.Answer)
	}
	if result.Stats.Depth != 1 {
		t.Errorf("depth = %d, want 1", result.Stats.Depth)
	}
}

func TestSummarizeIssuesOneExtraCall(t *testing.T) {
	provider := &scriptProvider{replies: []string{
		`{"action":"summarize","start":0,"end":50}`,
		"the text is about widgets", // summarize call, not a directive turn
		`{"action":"final","answer":"widgets"}`,
	}}
	engine := New(provider)

	result, err := engine.Complete(context.Background(), "topic?",
		"Widgets are small. Widgets are useful. Widgets everywhere.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Answer != "widgets" {
		t.Errorf("answer = %q", result.Answer)
	}
	if result.Stats.Iterations != 2 {
		t.Errorf("iterations = %d, want 2 (summarize is not a loop step)", result.Stats.Iterations)
	}
	if result.Stats.LLMCalls != 3 {
		t.Errorf("llm_calls = %d, want 3", result.Stats.LLMCalls)
	}
}

func TestZeroIterationBudgetTerminates(t *testing.T) {
	provider := &scriptProvider{replies: []string{`{"action":"final","answer":"x"}`}}
	engine := New(provider, WithMaxIterations(0))

	result, err := engine.Complete(context.Background(), "q", "ctx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusIterationExhausted {
		t.Errorf("status = %q, want iteration_budget_exhausted", result.Status)
	}
	if result.Answer != NoAnswer {
		t.Errorf("answer = %q, want %q", result.Answer, NoAnswer)
	}
	if result.Stats.LLMCalls != 0 {
		t.Errorf("llm_calls = %d, want 0", result.Stats.LLMCalls)
	}
}

func TestParseErrorStormTerminates(t *testing.T) {
	provider := &scriptProvider{reply: func([]llm.Message) string {
		return "I refuse to emit a directive."
	}}
	engine := New(provider, WithMaxIterations(5))

	result, err := engine.Complete(context.Background(), "q", "ctx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusIterationExhausted {
		t.Errorf("status = %q, want iteration_budget_exhausted", result.Status)
	}
	if result.Stats.Iterations != 5 {
		t.Errorf("iterations = %d, want exactly the budget", result.Stats.Iterations)
	}
}

func TestDepthDenialIsRecoverable(t *testing.T) {
	provider := &scriptProvider{replies: []string{
		`{"action":"recurse","query":"sub","start":0,"end":10}`,
		`{"action":"recurse","query":"sub sub","start":0,"end":5}`, // child at max depth
		`{"action":"final","answer":"from child"}`,                 // child recovers
		`{"action":"final","answer":"done"}`,                       // parent
	}}
	engine := New(provider, WithMaxDepth(1))

	result, err := engine.Complete(context.Background(), "q", "some context here")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusFinalized {
		t.Errorf("status = %q, want finalized (denial must not be fatal)", result.Status)
	}
	if result.Answer != "done" {
		t.Errorf("answer = %q", result.Answer)
	}
	if result.Stats.Depth != 1 {
		t.Errorf("depth = %d, want 1", result.Stats.Depth)
	}
	if result.Stats.Depth > 1 {
		t.Error("depth exceeded max_depth")
	}
}

func TestProviderFailureIsFatal(t *testing.T) {
	provider := &scriptProvider{err: errors.New("invalid api key")}
	engine := New(provider)

	result, err := engine.Complete(context.Background(), "q", "ctx")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrProviderFailed) {
		t.Errorf("error should wrap ErrProviderFailed: %v", err)
	}
	if result.Status != StatusProviderFailed {
		t.Errorf("status = %q, want provider_failed", result.Status)
	}
	if result.Stats.LLMCalls != 1 {
		t.Errorf("llm_calls = %d, want 1 (failed attempts still count)", result.Stats.LLMCalls)
	}
}

func TestInvalidBudgetsRejectedBeforeAnyCall(t *testing.T) {
	provider := &scriptProvider{replies: []string{`{"action":"final","answer":"x"}`}}
	engine := New(provider, WithMaxDepth(0))

	_, err := engine.Complete(context.Background(), "q", "ctx")
	if err == nil {
		t.Fatal("expected error for max_depth 0")
	}
	if len(provider.replies) != 1 {
		t.Error("no LLM call may be made on a config error")
	}
}

func TestMetacognitiveRevision(t *testing.T) {
	provider := &scriptProvider{replies: []string{
		`{"action":"final","answer":"41"}`,
		"The sum is off by one; recheck the last number.", // critique
		`{"action":"final","answer":"42"}`,
	}}
	engine := New(provider, WithMetacognition(true))

	result, err := engine.Complete(context.Background(), "sum?", "21 and 21")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Answer != "42" {
		t.Errorf("answer = %q, want revised \"42\"", result.Answer)
	}
	if result.Status != StatusFinalized {
		t.Errorf("status = %q", result.Status)
	}
	if result.Stats.Iterations != 3 {
		t.Errorf("iterations = %d, want 3 (critique consumes one)", result.Stats.Iterations)
	}
}

func TestMetacognitiveConfirmation(t *testing.T) {
	provider := &scriptProvider{replies: []string{
		`{"action":"final","answer":"42"}`,
		"CONFIRM",
	}}
	engine := New(provider, WithMetacognition(true))

	result, err := engine.Complete(context.Background(), "sum?", "21 and 21")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Answer != "42" {
		t.Errorf("answer = %q", result.Answer)
	}
	if result.Stats.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", result.Stats.Iterations)
	}
}

func TestMetacognitiveSkippedWhenPoolDry(t *testing.T) {
	provider := &scriptProvider{replies: []string{
		`{"action":"final","answer":"42"}`,
		"should never be consulted",
	}}
	engine := New(provider, WithMetacognition(true), WithMaxIterations(1))

	result, err := engine.Complete(context.Background(), "q", "ctx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Answer != "42" {
		t.Errorf("unconfirmed candidate should be returned as-is, got %q", result.Answer)
	}
	if result.Status != StatusFinalized {
		t.Errorf("status = %q", result.Status)
	}
	if result.Stats.LLMCalls != 1 {
		t.Errorf("llm_calls = %d, want 1", result.Stats.LLMCalls)
	}
}

func TestConcurrentCompletesCountIndependently(t *testing.T) {
	provider := &scriptProvider{reply: func([]llm.Message) string {
		return `{"action":"final","answer":"ok"}`
	}}
	engine := New(provider)

	const runs = 8
	var wg sync.WaitGroup
	errs := make(chan string, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := engine.Complete(context.Background(), "q", "ctx")
			if err != nil {
				errs <- err.Error()
				return
			}
			if result.Stats.LLMCalls != 1 || result.Stats.Iterations != 1 {
				errs <- fmt.Sprintf("stats = %+v, want exactly one call and one iteration per request", result.Stats)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}

// TestChildSessionsFinalizeWithoutCritique pins the critique to the root:
// if a child consumed a critique turn, the scripted queue would misalign and
// the root answer would not survive.
func TestChildSessionsFinalizeWithoutCritique(t *testing.T) {
	provider := &scriptProvider{replies: []string{
		`{"action":"recurse","query":"sub","context":"child context"}`,
		`{"action":"final","answer":"child done"}`,
		`{"action":"final","answer":"root done"}`,
		"CONFIRM",
	}}
	engine := New(provider, WithMetacognition(true))

	result, err := engine.Complete(context.Background(), "q", "ctx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Answer != "root done" {
		t.Errorf("answer = %q, want \"root done\"", result.Answer)
	}
	if result.Status != StatusFinalized {
		t.Errorf("status = %q", result.Status)
	}
	if result.Stats.Iterations != 4 {
		t.Errorf("iterations = %d, want 4 (three directives plus one root critique)", result.Stats.Iterations)
	}
}

func TestRecursiveModelUsedBelowRoot(t *testing.T) {
	rootProvider := &scriptProvider{replies: []string{
		`{"action":"recurse","query":"sub","context":"child context"}`,
		`{"action":"final","answer":"root done"}`,
	}}
	childProvider := &scriptProvider{replies: []string{
		`{"action":"final","answer":"child done"}`,
	}}
	engine := New(rootProvider, WithRecursiveProvider(childProvider))

	result, err := engine.Complete(context.Background(), "q", "ctx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Answer != "root done" {
		t.Errorf("answer = %q", result.Answer)
	}
	if len(childProvider.replies) != 0 {
		t.Error("recursive provider was not consulted for the child session")
	}
	if len(rootProvider.replies) != 0 {
		t.Error("root provider script not fully consumed")
	}
}

func TestStatsInvariants(t *testing.T) {
	provider := &scriptProvider{replies: []string{
		`{"action":"peek","offset":0,"length":10}`,
		`{"action":"recurse","query":"sub","start":0,"end":20}`,
		`{"action":"final","answer":"inner"}`,
		`{"action":"final","answer":"outer"}`,
	}}
	const maxDepth, maxIter = 3, 10
	engine := New(provider, WithMaxDepth(maxDepth), WithMaxIterations(maxIter))

	result, err := engine.Complete(context.Background(), "q", "a context of some length")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stats.Depth > maxDepth {
		t.Errorf("depth %d exceeds max_depth %d", result.Stats.Depth, maxDepth)
	}
	if result.Stats.Iterations > maxIter {
		t.Errorf("iterations %d exceed max_iterations %d", result.Stats.Iterations, maxIter)
	}
	if result.Stats.LLMCalls < 1 {
		t.Error("successful request must consult the model at least once")
	}
}

// recordingTrace captures trace rows for assertions.
type recordingTrace struct {
	mu   sync.Mutex
	rows []string
}

func (r *recordingTrace) RecordStep(sessionID string, depth, iteration int, action string, obsBytes int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, fmt.Sprintf("%d/%s", depth, action))
	return nil
}

func TestTraceReceivesOneRowPerDirective(t *testing.T) {
	provider := &scriptProvider{replies: []string{
		`{"action":"peek","offset":0,"length":10}`,
		"not a directive",
		`{"action":"final","answer":"x"}`,
	}}
	rec := &recordingTrace{}
	engine := New(provider, WithTrace(rec))

	if _, err := engine.Complete(context.Background(), "q", "ctx"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"0/peek", "0/parse_error", "0/final"}
	if len(rec.rows) != len(want) {
		t.Fatalf("rows = %v, want %v", rec.rows, want)
	}
	for i := range want {
		if rec.rows[i] != want[i] {
			t.Errorf("row %d = %q, want %q", i, rec.rows[i], want[i])
		}
	}
}
