package agent

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"planforge/pkg/agent/internal/llmimpl/anthropic"
	"planforge/pkg/agent/internal/llmimpl/google"
	"planforge/pkg/agent/internal/llmimpl/ollama"
	"planforge/pkg/agent/internal/llmimpl/openaiofficial"
	"planforge/pkg/agent/llm"
	"planforge/pkg/agent/middleware/metrics"
	"planforge/pkg/agent/middleware/resilience/ratelimit"
	"planforge/pkg/agent/middleware/resilience/timeout"
	"planforge/pkg/config"
	"planforge/pkg/logx"
)

// LLMClient is re-exported so callers only need this package.
type LLMClient = llm.LLMClient

// Options carries the optional collaborators of NewLLMClient.
type Options struct {
	// Registerer receives the LLM metrics. Nil disables Prometheus recording.
	Registerer prometheus.Registerer
	// HTTPClient is used by the Ollama backend. Nil means http.DefaultClient.
	HTTPClient *http.Client
	Logger     *logx.Logger
}

// NewLLMClient creates the provider client named by cfg and wraps it:
//
//	Metrics -> RateLimit -> Timeout -> RawClient
//
// There is no retry layer; callers decide whether to re-request.
func NewLLMClient(cfg *config.ModelConfig, opts Options) (LLMClient, error) {
	provider, err := cfg.ResolvedProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", cfg.Name, err)
	}

	rawClient, err := newRawClient(provider, cfg, opts.HTTPClient)
	if err != nil {
		return nil, err
	}

	var recorder metrics.Recorder = metrics.Nop()
	if opts.Registerer != nil {
		recorder = metrics.NewPrometheusRecorder(opts.Registerer)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logx.NewLogger("llm")
	}

	limiter := ratelimit.NewLimiter(provider, ratelimit.Config{
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxConcurrency:    cfg.MaxConcurrency,
	})

	return llm.Chain(rawClient,
		metrics.Middleware(recorder, nil, logger),
		ratelimit.Middleware(limiter, recorder),
		timeout.Middleware(cfg.Timeout),
	), nil
}

func newRawClient(provider string, cfg *config.ModelConfig, httpClient *http.Client) (LLMClient, error) {
	if provider == config.ProviderOllama {
		return ollama.NewOllamaClientWithModel(cfg.Host, cfg.ModelID(), httpClient), nil
	}

	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClientWithModel(apiKey, cfg.Name), nil
	case config.ProviderOpenAI:
		return openaiofficial.NewClientWithModel(apiKey, cfg.Name), nil
	case config.ProviderGoogle:
		return google.NewGeminiClientWithModel(apiKey, cfg.Name), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
