package mnemo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundprediction/mnemo/pkg/config"
	"github.com/soundprediction/mnemo/pkg/embed"
	"github.com/soundprediction/mnemo/pkg/extract"
	"github.com/soundprediction/mnemo/pkg/index"
	"github.com/soundprediction/mnemo/pkg/lifecycle"
	"github.com/soundprediction/mnemo/pkg/provider"
	"github.com/soundprediction/mnemo/pkg/reason"
	"github.com/soundprediction/mnemo/pkg/store"
	"github.com/soundprediction/mnemo/pkg/telemetry"
	"github.com/soundprediction/mnemo/pkg/types"
)

// Engine is the main entry point for the temporal knowledge memory system.
// It coordinates the graph store, the semantic index, the extraction and
// embedding collaborators, and the insight pipeline.
type Engine struct {
	store     store.GraphStore
	index     index.VectorIndex
	extractor extract.Extractor
	embedder  embed.Embedder
	fallback  *embed.FallbackEmbedder
	insights  reason.InsightProvider
	pipeline  *lifecycle.Pipeline
	sink      telemetry.Sink

	extractBreaker *provider.Breaker
	embedBreaker   *provider.Breaker

	config      *Config
	pipelineCfg *lifecycle.Config
	logger      *slog.Logger
	clock       func() time.Time
}

// Config holds engine-level configuration. Backend and collaborator
// construction is handled by FromConfig; Config tunes the engine itself.
type Config struct {
	// GroupID scopes all reads and writes.
	GroupID string
	// Timeout bounds each collaborator call during ingestion and search.
	Timeout time.Duration
	// Retry configures backoff for transient collaborator failures.
	Retry provider.RetryConfig
	// Breaker configures the circuit breakers around collaborators.
	Breaker provider.BreakerConfig
	// ConfirmBoost is added to relationship confidence on confirmation.
	ConfirmBoost float64
	// RejectFactor multiplies relationship confidence on rejection.
	RejectFactor float64
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() *Config {
	return &Config{
		GroupID:      "default",
		Timeout:      30 * time.Second,
		Retry:        provider.DefaultRetryConfig(),
		Breaker:      provider.DefaultBreakerConfig(),
		ConfirmBoost: 0.1,
		RejectFactor: 0.5,
	}
}

func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultEngineConfig()
	}
	out := *c
	if out.GroupID == "" {
		out.GroupID = "default"
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	if out.ConfirmBoost <= 0 {
		out.ConfirmBoost = 0.1
	}
	if out.RejectFactor <= 0 {
		out.RejectFactor = 0.5
	}
	return &out
}

// Option customizes engine construction.
type Option func(*Engine)

// WithClock overrides the engine's time source. Used in tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithTelemetry attaches an operation-event sink.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithPipeline overrides the insight pipeline configuration.
func WithPipeline(cfg lifecycle.Config) Option {
	return func(e *Engine) { e.pipelineCfg = &cfg }
}

// NewEngine creates an engine over the provided store, index and
// collaborators. extractor, embedder and insightProvider may be nil; the
// corresponding operations then run in permanently degraded mode.
func NewEngine(graphStore store.GraphStore, vectorIndex index.VectorIndex,
	extractor extract.Extractor, embedder embed.Embedder,
	insightProvider reason.InsightProvider,
	cfg *Config, logger *slog.Logger, opts ...Option) (*Engine, error) {

	if graphStore == nil {
		return nil, fmt.Errorf("graph store is required")
	}
	if vectorIndex == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	e := &Engine{
		store:          graphStore,
		index:          vectorIndex,
		extractor:      extractor,
		embedder:       embedder,
		fallback:       embed.NewFallbackEmbedder(vectorIndex.Dimensions()),
		insights:       insightProvider,
		sink:           telemetry.NopSink{},
		extractBreaker: provider.NewBreaker("extract", cfg.Breaker),
		embedBreaker:   provider.NewBreaker("embed", cfg.Breaker),
		config:         cfg,
		logger:         logger,
		clock:          time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	pipelineCfg := lifecycle.DefaultConfig()
	if e.pipelineCfg != nil {
		pipelineCfg = *e.pipelineCfg
	}
	if pipelineCfg.GroupID == "" || pipelineCfg.GroupID == "default" {
		pipelineCfg.GroupID = cfg.GroupID
	}
	e.pipeline = lifecycle.New(graphStore, insightProvider, pipelineCfg, logger, e.clock)
	return e, nil
}

// FromConfig opens backends and collaborators from a loaded configuration
// and assembles an engine.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if logger == nil {
		logger = slog.Default()
	}

	graphStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}

	vectorIndex, err := index.Open(cfg.Index)
	if err != nil {
		graphStore.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	extractor, err := openExtractor(cfg.Extract)
	if err != nil {
		logger.Warn("extractor unavailable, ingestion will run degraded", "error", err)
	}
	embedder, err := openEmbedder(cfg.Embed)
	if err != nil {
		logger.Warn("embedder unavailable, falling back to hash embeddings", "error", err)
	}

	var insightProvider reason.InsightProvider
	if cfg.Reason.APIKey != "" || cfg.Reason.BaseURL != "" {
		insightProvider = reason.NewOpenAIProvider(cfg.Reason)
	}

	engineCfg := &Config{
		GroupID:      cfg.GroupID,
		Timeout:      cfg.Providers.Timeout,
		Retry:        cfg.Providers.Retry,
		Breaker:      cfg.Providers.Breaker,
		ConfirmBoost: cfg.Feedback.ConfirmBoost,
		RejectFactor: cfg.Feedback.RejectFactor,
	}

	opts := []Option{}
	if cfg.Telemetry.Enabled && cfg.Telemetry.ParquetPath != "" {
		sink, err := telemetry.NewParquetSink(cfg.Telemetry.ParquetPath, logger)
		if err != nil {
			logger.Warn("telemetry sink unavailable", "error", err)
		} else {
			opts = append(opts, WithTelemetry(sink))
		}
	}

	pipelineCfg := cfg.Pipeline
	pipelineCfg.GroupID = cfg.GroupID
	pipelineCfg.Retry = cfg.Providers.Retry
	opts = append(opts, WithPipeline(pipelineCfg))

	return NewEngine(graphStore, vectorIndex, extractor, embedder, insightProvider, engineCfg, logger, opts...)
}

func openExtractor(cfg extract.Config) (extract.Extractor, error) {
	switch cfg.Provider {
	case "gliner":
		return extract.NewGlinerExtractor(cfg.Model, "", nil)
	case "openai", "":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai extractor requires an api key or base url")
		}
		return extract.NewOpenAIExtractor(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported extract provider: %s", cfg.Provider)
	}
}

func openEmbedder(cfg embed.Config) (embed.Embedder, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai embedder requires an api key or base url")
		}
		return embed.NewOpenAIEmbedder(cfg), nil
	case "local", "":
		return embed.NewLocalEmbedder(cfg, false)
	case "fallback":
		return embed.NewFallbackEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embed provider: %s", cfg.Provider)
	}
}

// GroupID returns the group all engine operations are scoped to.
func (e *Engine) GroupID() string {
	return e.config.GroupID
}

// Store returns the underlying graph store.
func (e *Engine) Store() store.GraphStore {
	return e.store
}

// Index returns the underlying vector index.
func (e *Engine) Index() index.VectorIndex {
	return e.index
}

// Pipeline returns the insight pipeline.
func (e *Engine) Pipeline() *lifecycle.Pipeline {
	return e.pipeline
}

// RunCycle executes one insight-pipeline pass over the given events,
// subject to the pipeline cooldown.
func (e *Engine) RunCycle(ctx context.Context, events []types.RawEvent) (*types.RunReport, error) {
	started := e.clock()
	report, err := e.pipeline.RunOnce(ctx, events)
	if err != nil {
		return nil, err
	}
	e.sink.Record(telemetry.Event{
		Timestamp:  started.UTC(),
		Operation:  telemetry.OpPipelineRun,
		GroupID:    e.config.GroupID,
		DurationMS: e.clock().Sub(started).Milliseconds(),
		Attributes: telemetry.MarshalAttributes(map[string]any{
			"ran":     report.Ran,
			"reason":  report.Reason,
			"applied": report.InsightsApplied,
		}),
	})
	return report, nil
}

// Insights returns persisted insights, most recent first.
func (e *Engine) Insights(ctx context.Context, limit int) ([]*types.Insight, error) {
	if limit <= 0 {
		return nil, types.ErrInvalidLimit
	}
	return e.store.Insights(ctx, e.config.GroupID, limit)
}

// GetEpisode retrieves a stored episode by ID.
func (e *Engine) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	return e.store.GetEpisode(ctx, id, e.config.GroupID)
}

// GetRelationship retrieves a relationship by its identity key.
func (e *Engine) GetRelationship(ctx context.Context, key types.RelationshipKey) (*types.Relationship, error) {
	return e.store.GetRelationship(ctx, key, e.config.GroupID)
}

// Stats returns counters about the stored graph.
func (e *Engine) Stats(ctx context.Context) (*types.GraphStats, error) {
	return e.store.Stats(ctx, e.config.GroupID)
}

// Close releases the engine's resources.
func (e *Engine) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if e.extractor != nil {
		keep(e.extractor.Close())
	}
	if e.embedder != nil {
		keep(e.embedder.Close())
	}
	if e.insights != nil {
		keep(e.insights.Close())
	}
	keep(e.sink.Close())
	keep(e.index.Close())
	keep(e.store.Close())
	return firstErr
}
