// Request/response shuttling for the CLI.
//
// Information Hiding:
// - Request decoding and validation hidden
// - Engine and provider setup hidden
// - Output formatting hidden
//
// One invocation services one request: JSON in, JSON out, nothing held
// between runs.

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/richinex/daedalus/config"
	"github.com/richinex/daedalus/llm"
	"github.com/richinex/daedalus/rlm"
	"github.com/richinex/daedalus/trace"
)

// Request is the single JSON object a caller submits.
type Request struct {
	Model        string         `json:"model"`
	Query        string         `json:"query"`
	Context      string         `json:"context"`
	Config       map[string]any `json:"config"`
	OutputSchema *rlm.Schema    `json:"output_schema,omitempty"`
}

// Response is the single JSON object written on a completed run.
type Response struct {
	Result string    `json:"result"`
	Status string    `json:"status"`
	Stats  rlm.Stats `json:"stats"`
}

// Options holds CLI execution options.
type Options struct {
	File      string // read the request from this file instead of stdin
	TracePath string // persist the run trace to this sqlite file
	Workers   int    // map fan-out worker bound, 0 for the default
	Verbose   bool
}

// DecodeRequest reads and validates one request.
func DecodeRequest(r io.Reader) (Request, error) {
	var req Request
	dec := json.NewDecoder(r)
	if err := dec.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("invalid request: %w", err)
	}
	if req.Model == "" {
		return Request{}, fmt.Errorf("invalid request: model is required")
	}
	if req.Query == "" {
		return Request{}, fmt.Errorf("invalid request: query is required")
	}
	return req, nil
}

// EncodeResponse writes the response as one JSON object.
func EncodeResponse(w io.Writer, result rlm.Result) error {
	return json.NewEncoder(w).Encode(Response{
		Result: result.Answer,
		Status: string(result.Status),
		Stats:  result.Stats,
	})
}

// apiKeyFromEnv picks the conventional environment variable for the backend
// the model routes to. A key in the request config always wins.
func apiKeyFromEnv(model, apiBase string) string {
	switch llm.DetectProviderType(model, apiBase) {
	case llm.ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case llm.ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}

// Run services one request end to end. A returned error means the request
// failed fatally and the process should exit non-zero; budget exhaustion is
// a normal response, not an error.
func Run(ctx context.Context, opts Options) error {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	input := io.Reader(os.Stdin)
	if opts.File != "" {
		f, err := os.Open(opts.File)
		if err != nil {
			return fmt.Errorf("failed to open request file: %w", err)
		}
		defer f.Close()
		input = f
	}

	req, err := DecodeRequest(input)
	if err != nil {
		return err
	}

	cfg, err := config.FromMap(req.Config)
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		cfg.APIKey = apiKeyFromEnv(req.Model, cfg.APIBase)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	for key := range cfg.Extra {
		logger.Debug("ignoring passthrough config key", "key", key)
	}

	root, err := llm.NewProvider(llm.ProviderOptions{
		APIKey:      cfg.APIKey,
		APIBase:     cfg.APIBase,
		Model:       req.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return err
	}

	engineOpts := []rlm.Option{
		rlm.WithMaxDepth(cfg.MaxDepth),
		rlm.WithMaxIterations(cfg.MaxIterations),
		rlm.WithMetacognition(cfg.UseMetacognitive),
		rlm.WithQueryOptimizer(cfg.UseOptimizer),
		rlm.WithLogger(logger),
	}

	if cfg.RecursiveModel != "" {
		recursive, err := llm.NewProvider(llm.ProviderOptions{
			APIKey:      cfg.APIKey,
			APIBase:     cfg.APIBase,
			Model:       cfg.RecursiveModel,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, rlm.WithRecursiveProvider(recursive))
	}
	if cfg.OptimizerModel != "" {
		optimizer, err := llm.NewProvider(llm.ProviderOptions{
			APIKey:      cfg.APIKey,
			APIBase:     cfg.APIBase,
			Model:       cfg.OptimizerModel,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, rlm.WithOptimizerProvider(optimizer))
	}
	if req.OutputSchema != nil {
		engineOpts = append(engineOpts, rlm.WithOutputSchema(req.OutputSchema))
	}
	if cfg.TimeoutSeconds > 0 {
		engineOpts = append(engineOpts, rlm.WithTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second))
	}
	if opts.Workers > 0 {
		engineOpts = append(engineOpts, rlm.WithMaxWorkers(opts.Workers))
	}

	recorder, err := openRecorder(opts.TracePath)
	if err != nil {
		return err
	}
	defer recorder.Close()
	engineOpts = append(engineOpts, rlm.WithTrace(recorder))

	engine := rlm.New(root, engineOpts...)

	result, err := engine.Complete(ctx, req.Query, req.Context)
	if err != nil {
		return err
	}

	if steps, serr := recorder.StepCount(); serr == nil {
		logger.Debug("run trace", "run_id", recorder.RunID(), "steps", steps)
	}

	return EncodeResponse(os.Stdout, result)
}

func openRecorder(path string) (*trace.Recorder, error) {
	if path == "" {
		return trace.OpenInMemory()
	}
	return trace.Open(path)
}
