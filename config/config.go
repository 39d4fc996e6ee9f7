// Package config parses and validates per-request engine configuration.
//
// The request carries an open config object: a handful of recognized keys
// with defaults, plus arbitrary provider-passthrough fields that are kept
// in Extra without interpretation.
package config

import (
	"fmt"
	"strconv"
)

// Defaults for recognized config keys.
const (
	DefaultMaxDepth      = 5
	DefaultMaxIterations = 30
)

// Config holds the recognized request configuration. Immutable once a run
// starts: the engine only ever reads it.
type Config struct {
	RecursiveModel   string
	OptimizerModel   string
	APIBase          string
	APIKey           string
	MaxDepth         int
	MaxIterations    int
	Temperature      *float64
	MaxTokens        int
	TimeoutSeconds   int
	UseMetacognitive bool
	UseOptimizer     bool

	// Extra holds unrecognized keys for provider passthrough.
	Extra map[string]any
}

// Default returns a Config with all defaults applied and no credentials.
func Default() Config {
	return Config{
		MaxDepth:      DefaultMaxDepth,
		MaxIterations: DefaultMaxIterations,
		Extra:         map[string]any{},
	}
}

// FromMap builds a Config from a decoded JSON config object. Unknown keys
// land in Extra; recognized keys with the wrong type are an error rather
// than a silent default.
func FromMap(m map[string]any) (Config, error) {
	cfg := Default()
	if m == nil {
		return cfg, nil
	}

	for key, value := range m {
		var err error
		switch key {
		case "recursive_model":
			cfg.RecursiveModel, err = asString(key, value)
		case "optimizer_model":
			cfg.OptimizerModel, err = asString(key, value)
		case "api_base":
			cfg.APIBase, err = asString(key, value)
		case "api_key":
			cfg.APIKey, err = asString(key, value)
		case "max_depth":
			cfg.MaxDepth, err = asInt(key, value)
		case "max_iterations":
			cfg.MaxIterations, err = asInt(key, value)
		case "max_tokens":
			cfg.MaxTokens, err = asInt(key, value)
		case "timeout":
			cfg.TimeoutSeconds, err = asInt(key, value)
		case "temperature":
			var t float64
			t, err = asFloat(key, value)
			if err == nil {
				cfg.Temperature = &t
			}
		case "use_metacognitive", "metacognitive":
			b, ok := value.(bool)
			if !ok {
				err = fmt.Errorf("config key %q: expected bool, got %T", key, value)
			}
			cfg.UseMetacognitive = b
		case "use_optimizer", "optimizer":
			b, ok := value.(bool)
			if !ok {
				err = fmt.Errorf("config key %q: expected bool, got %T", key, value)
			}
			cfg.UseOptimizer = b
		default:
			cfg.Extra[key] = value
		}
		if err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

// Validate checks the budgets and credentials before any LLM call is made.
// A failure here is fatal for the request.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: api_key is required")
	}
	return c.ValidateBudgets()
}

// ValidateBudgets checks only the budget fields. Split out so embedded
// callers that supply their own provider can skip the credential check.
func (c Config) ValidateBudgets() error {
	if c.MaxDepth < 1 {
		return fmt.Errorf("config: max_depth must be >= 1, got %d", c.MaxDepth)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("config: max_iterations must be >= 0, got %d", c.MaxIterations)
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("config: timeout must be >= 0, got %d", c.TimeoutSeconds)
	}
	return nil
}

func asString(key string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("config key %q: expected string, got %T", key, value)
	}
	return s, nil
}

// asInt accepts the numeric shapes JSON decoding produces. Strings holding
// integers are accepted too, matching what loosely typed callers send.
func asInt(key string, value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("config key %q: expected integer, got %v", key, v)
		}
		return int(v), nil
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("config key %q: expected integer, got %q", key, v)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("config key %q: expected integer, got %T", key, value)
	}
}

func asFloat(key string, value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("config key %q: expected number, got %q", key, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("config key %q: expected number, got %T", key, value)
	}
}
