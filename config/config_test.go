package config

import (
	"strings"
	"testing"
)

func TestFromMapDefaults(t *testing.T) {
	cfg, err := FromMap(nil)
	if err != nil {
		t.Fatalf("FromMap(nil) error: %v", err)
	}
	if cfg.MaxDepth != 5 {
		t.Errorf("MaxDepth = %d, want 5", cfg.MaxDepth)
	}
	if cfg.MaxIterations != 30 {
		t.Errorf("MaxIterations = %d, want 30", cfg.MaxIterations)
	}
	if cfg.UseMetacognitive {
		t.Error("UseMetacognitive should default to false")
	}
}

func TestFromMapRecognizedKeys(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"recursive_model":   "gpt-4o-mini",
		"optimizer_model":   "gpt-4o-mini",
		"use_optimizer":     true,
		"api_base":          "https://llm.internal/v1",
		"api_key":           "sk-test",
		"max_depth":         float64(3), // JSON numbers decode as float64
		"max_iterations":    float64(12),
		"temperature":       0.2,
		"use_metacognitive": true,
		"top_p":             0.9,
	})
	if err != nil {
		t.Fatalf("FromMap error: %v", err)
	}

	if cfg.RecursiveModel != "gpt-4o-mini" {
		t.Errorf("RecursiveModel = %q", cfg.RecursiveModel)
	}
	if cfg.APIBase != "https://llm.internal/v1" {
		t.Errorf("APIBase = %q", cfg.APIBase)
	}
	if cfg.MaxDepth != 3 || cfg.MaxIterations != 12 {
		t.Errorf("budgets = %d/%d, want 3/12", cfg.MaxDepth, cfg.MaxIterations)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", cfg.Temperature)
	}
	if !cfg.UseMetacognitive {
		t.Error("UseMetacognitive = false, want true")
	}
	if !cfg.UseOptimizer || cfg.OptimizerModel != "gpt-4o-mini" {
		t.Errorf("optimizer config = %v/%q", cfg.UseOptimizer, cfg.OptimizerModel)
	}
	if _, ok := cfg.Extra["top_p"]; !ok {
		t.Error("unrecognized key top_p should be kept in Extra")
	}
}

func TestFromMapStringyNumbers(t *testing.T) {
	cfg, err := FromMap(map[string]any{"max_depth": "7"})
	if err != nil {
		t.Fatalf("FromMap error: %v", err)
	}
	if cfg.MaxDepth != 7 {
		t.Errorf("MaxDepth = %d, want 7", cfg.MaxDepth)
	}
}

func TestFromMapTypeErrors(t *testing.T) {
	tests := []struct {
		name string
		m    map[string]any
	}{
		{name: "bad model type", m: map[string]any{"recursive_model": 3}},
		{name: "fractional depth", m: map[string]any{"max_depth": 2.5}},
		{name: "bad metacognitive", m: map[string]any{"use_metacognitive": "yes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromMap(tt.m); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) { c.APIKey = "sk-x" }},
		{name: "missing key", mutate: func(c *Config) {}, wantErr: "api_key"},
		{
			name:    "zero depth",
			mutate:  func(c *Config) { c.APIKey = "sk-x"; c.MaxDepth = 0 },
			wantErr: "max_depth",
		},
		{
			name:    "negative iterations",
			mutate:  func(c *Config) { c.APIKey = "sk-x"; c.MaxIterations = -1 },
			wantErr: "max_iterations",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestZeroIterationsAllowed(t *testing.T) {
	cfg := Default()
	cfg.APIKey = "sk-x"
	cfg.MaxIterations = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("max_iterations=0 should validate (bounded-termination scenario): %v", err)
	}
}
