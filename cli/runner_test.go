package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/richinex/daedalus/rlm"
)

func TestDecodeRequest(t *testing.T) {
	input := `{
		"model": "gpt-4o-mini",
		"query": "how many?",
		"context": "one two three",
		"config": {"api_key": "sk-x", "max_depth": 3},
		"output_schema": {"type": "object", "properties": {"count": {"type": "number"}}, "required": ["count"]}
	}`

	req, err := DecodeRequest(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Model != "gpt-4o-mini" || req.Query != "how many?" || req.Context != "one two three" {
		t.Errorf("decoded request = %+v", req)
	}
	if req.Config["max_depth"] != float64(3) {
		t.Errorf("config not preserved: %v", req.Config)
	}
	if req.OutputSchema == nil || req.OutputSchema.Type != "object" ||
		req.OutputSchema.Properties["count"] == nil || req.OutputSchema.Properties["count"].Type != "number" {
		t.Errorf("output schema not decoded: %+v", req.OutputSchema)
	}
}

func TestDecodeRequestRejections(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "model: yaml"},
		{"missing model", `{"query":"q","context":"c"}`},
		{"missing query", `{"model":"m","context":"c"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRequest(strings.NewReader(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEncodeResponse(t *testing.T) {
	var buf bytes.Buffer
	err := EncodeResponse(&buf, rlm.Result{
		Answer: "42",
		Status: rlm.StatusFinalized,
		Stats:  rlm.Stats{LLMCalls: 3, Iterations: 2, Depth: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if resp.Result != "42" || resp.Status != "finalized" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Stats.LLMCalls != 3 || resp.Stats.Iterations != 2 || resp.Stats.Depth != 1 {
		t.Errorf("stats = %+v", resp.Stats)
	}
}

func TestExhaustionStatusIsDistinguishable(t *testing.T) {
	var buf bytes.Buffer
	err := EncodeResponse(&buf, rlm.Result{
		Answer: rlm.NoAnswer,
		Status: rlm.StatusIterationExhausted,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "iteration_budget_exhausted") {
		t.Errorf("exhaustion not marked in output: %s", buf.String())
	}
}

func TestAPIKeyFromEnvRouting(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("GEMINI_API_KEY", "sk-gem")

	tests := []struct {
		model   string
		apiBase string
		want    string
	}{
		{"gpt-4o-mini", "", "sk-openai"},
		{"claude-sonnet-4-20250514", "", "sk-ant"},
		{"gemini-2.0-flash", "", "sk-gem"},
		{"claude-sonnet-4-20250514", "https://gateway/v1", "sk-openai"},
	}

	for _, tt := range tests {
		if got := apiKeyFromEnv(tt.model, tt.apiBase); got != tt.want {
			t.Errorf("apiKeyFromEnv(%q, %q) = %q, want %q", tt.model, tt.apiBase, got, tt.want)
		}
	}
}
