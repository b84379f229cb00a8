// Package lifecycle implements the insight pipeline: raw events are
// deduped and batched, analyzed deterministically, distilled into insights
// by the reasoning collaborator, and persisted only above a confidence
// threshold. Runs are rate-limited by a cooldown.
package lifecycle

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/mnemo/pkg/provider"
	"github.com/soundprediction/mnemo/pkg/reason"
	"github.com/soundprediction/mnemo/pkg/store"
	"github.com/soundprediction/mnemo/pkg/types"
)

// Phase is a step in the pipeline run.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseIngesting          Phase = "ingesting"
	PhaseAnalyzing          Phase = "analyzing"
	PhaseRequestingInsights Phase = "requesting_insights"
	PhasePersisting         Phase = "persisting"
	PhaseApplying           Phase = "applying"
)

// ReasonCooldown is the RunReport reason when a run is gated.
const ReasonCooldown = "cooldown"

// maxSamplesPerType bounds the examples included in an analysis.
const maxSamplesPerType = 3

// Config holds pipeline configuration.
type Config struct {
	// ConfidenceMin is the persistence threshold for insights.
	ConfidenceMin float64 `mapstructure:"confidence_min" yaml:"confidence_min"`
	// BatchSize caps the events considered per run.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	// Cooldown is the minimum interval between runs.
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	// Retry configures the insight-provider call.
	Retry provider.RetryConfig `mapstructure:"retry" yaml:"retry"`
	// GroupID scopes persisted insights.
	GroupID string `mapstructure:"group_id" yaml:"group_id"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		ConfidenceMin: 0.6,
		BatchSize:     50,
		Cooldown:      60 * time.Second,
		Retry:         provider.DefaultRetryConfig(),
		GroupID:       "default",
	}
}

func (c Config) withDefaults() Config {
	if c.ConfidenceMin <= 0 {
		c.ConfidenceMin = 0.6
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.GroupID == "" {
		c.GroupID = "default"
	}
	return c
}

// Pipeline is the insight learning loop. The only long-lived state is the
// last-run timestamp; everything else is per-run.
type Pipeline struct {
	store    store.GraphStore
	provider reason.InsightProvider
	config   Config
	logger   *slog.Logger
	clock    func() time.Time

	// lastRunNanos is the CAS-guarded cooldown gate; 0 means never ran.
	lastRunNanos atomic.Int64
	phase        atomic.Value // Phase
}

// New creates a pipeline. clock may be nil for time.Now.
func New(graphStore store.GraphStore, insightProvider reason.InsightProvider, cfg Config, logger *slog.Logger, clock func() time.Time) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	p := &Pipeline{
		store:    graphStore,
		provider: insightProvider,
		config:   cfg.withDefaults(),
		logger:   logger,
		clock:    clock,
	}
	p.phase.Store(PhaseIdle)
	return p
}

// Phase returns the pipeline's current phase.
func (p *Pipeline) Phase() Phase {
	return p.phase.Load().(Phase)
}

func (p *Pipeline) setPhase(phase Phase) {
	p.phase.Store(phase)
}

// Dedupe removes events with duplicate content hashes, preserving
// first-seen order, and caps the batch at BatchSize. Dedup is guaranteed
// only within one batch.
func (p *Pipeline) Dedupe(events []types.RawEvent) []types.RawEvent {
	seen := make(map[string]struct{}, len(events))
	batch := make([]types.RawEvent, 0, len(events))
	for _, event := range events {
		hash := event.ContentHash()
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = struct{}{}
		batch = append(batch, event)
		if len(batch) >= p.config.BatchSize {
			break
		}
	}
	return batch
}

// Analyze aggregates a batch deterministically: counts by event type plus
// the first samples of each type. No external calls.
func (p *Pipeline) Analyze(batch []types.RawEvent) *types.Analysis {
	analysis := &types.Analysis{
		TotalEvents:  len(batch),
		CountsByType: make(map[string]int),
		Samples:      make(map[string][]string),
	}
	for _, event := range batch {
		analysis.CountsByType[event.Type]++
		if len(analysis.Samples[event.Type]) < maxSamplesPerType {
			analysis.Samples[event.Type] = append(analysis.Samples[event.Type], event.Content)
		}
	}
	return analysis
}

// GenerateInsights asks the reasoning collaborator for insights, retrying
// with exponential backoff on failure or malformed output. Exhausted
// retries yield an empty slice, never an error.
func (p *Pipeline) GenerateInsights(ctx context.Context, analysis *types.Analysis) []types.Insight {
	if p.provider == nil {
		return nil
	}
	insights, err := provider.Retry(ctx, p.config.Retry, func(ctx context.Context) ([]types.Insight, error) {
		return p.provider.GenerateInsights(ctx, analysis)
	})
	if err != nil {
		p.logger.Warn("insight generation exhausted retries, continuing without insights",
			"error", err)
		return nil
	}
	return insights
}

// Persist stores insights meeting the confidence threshold and counts the
// rest. Returns (persisted, dropped).
func (p *Pipeline) Persist(ctx context.Context, insights []types.Insight) (int, int, error) {
	persisted, dropped := 0, 0
	now := p.clock()
	for _, insight := range insights {
		if insight.Confidence < p.config.ConfidenceMin {
			dropped++
			continue
		}
		stored := insight
		stored.ID = uuid.New().String()
		stored.GroupID = p.config.GroupID
		stored.PersistedAt = now
		if err := p.store.PutInsight(ctx, &stored); err != nil {
			return persisted, dropped, err
		}
		persisted++
	}
	return persisted, dropped, nil
}

// Apply reports how many insights met the threshold. It performs no
// side-effecting actions itself.
func (p *Pipeline) Apply(insights []types.Insight) int {
	applied := 0
	for _, insight := range insights {
		if insight.Confidence >= p.config.ConfidenceMin {
			applied++
		}
	}
	return applied
}

// RunOnce executes one full pipeline pass if the cooldown has elapsed.
// The gate is a single compare-and-swap of the last-run timestamp, so
// concurrent callers cannot both win. A gated run returns Ran:false and
// drops the submitted events.
func (p *Pipeline) RunOnce(ctx context.Context, events []types.RawEvent) (*types.RunReport, error) {
	now := p.clock()
	for {
		last := p.lastRunNanos.Load()
		if last != 0 && now.Sub(time.Unix(0, last)) < p.config.Cooldown {
			return &types.RunReport{Ran: false, Reason: ReasonCooldown, StartedAt: now, FinishedAt: now}, nil
		}
		if p.lastRunNanos.CompareAndSwap(last, now.UnixNano()) {
			break
		}
	}

	report := &types.RunReport{Ran: true, StartedAt: now}
	defer func() {
		p.setPhase(PhaseIdle)
		report.FinishedAt = p.clock()
	}()

	p.setPhase(PhaseIngesting)
	batch := p.Dedupe(events)
	report.EventsIngested = len(batch)
	report.EventsDeduped = len(events) - len(batch)

	p.setPhase(PhaseAnalyzing)
	analysis := p.Analyze(batch)

	p.setPhase(PhaseRequestingInsights)
	insights := p.GenerateInsights(ctx, analysis)
	report.InsightsProposed = len(insights)

	p.setPhase(PhasePersisting)
	persisted, dropped, err := p.Persist(ctx, insights)
	report.InsightsDropped = dropped
	if err != nil {
		// Already-persisted insights are self-contained units; report what
		// landed rather than failing the run.
		p.logger.Error("insight persistence interrupted", "persisted", persisted, "error", err)
		report.InsightsApplied = persisted
		return report, nil
	}

	p.setPhase(PhaseApplying)
	report.InsightsApplied = p.Apply(insights)

	p.logger.Info("insight pipeline run complete",
		"events", report.EventsIngested,
		"deduped", report.EventsDeduped,
		"proposed", report.InsightsProposed,
		"applied", report.InsightsApplied,
		"dropped", report.InsightsDropped)
	return report, nil
}

// LastRun returns the time of the last successful gate pass, zero if the
// pipeline never ran.
func (p *Pipeline) LastRun() time.Time {
	nanos := p.lastRunNanos.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
