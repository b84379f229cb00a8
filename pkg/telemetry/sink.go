// Package telemetry records engine operation events to Parquet files for
// offline analysis. The sink is best-effort: a failed write never fails
// the operation that produced the event.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
)

// Event is a single engine operation record for Parquet storage.
type Event struct {
	ID         string    `parquet:"id"`
	Timestamp  time.Time `parquet:"timestamp"`
	Operation  string    `parquet:"operation"`
	GroupID    string    `parquet:"group_id"`
	SubjectID  string    `parquet:"subject_id"`
	DurationMS int64     `parquet:"duration_ms"`
	Degraded   bool      `parquet:"degraded"`
	Attributes string    `parquet:"attributes"` // JSON string
}

// Operation names recorded by the engine.
const (
	OpAddEpisode  = "add_episode"
	OpSearch      = "search"
	OpFeedback    = "feedback"
	OpPipelineRun = "pipeline_run"
)

// Sink receives operation events. Implementations must never return the
// event's cost to the caller; Record is fire-and-forget.
type Sink interface {
	Record(event Event)
	Close() error
}

// NopSink discards all events. The default when telemetry is disabled.
type NopSink struct{}

func (NopSink) Record(Event) {}

func (NopSink) Close() error { return nil }

// ParquetSink buffers events and writes them to timestamped Parquet files
// in an output directory, one file per flush.
type ParquetSink struct {
	outputDir string
	logger    *slog.Logger

	mu        sync.Mutex
	buffer    []Event
	batchSize int
}

// NewParquetSink creates a sink writing to outputDir, creating it if needed.
func NewParquetSink(outputDir string, logger *slog.Logger) (*ParquetSink, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ParquetSink{
		outputDir: outputDir,
		logger:    logger,
		batchSize: 100,
		buffer:    make([]Event, 0, 100),
	}, nil
}

// Record buffers an event, flushing when the batch fills. Write failures
// are logged and swallowed.
func (s *ParquetSink) Record(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, event)
	if len(s.buffer) >= s.batchSize {
		s.flush()
	}
}

// Close flushes any buffered events.
func (s *ParquetSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flush()
	return nil
}

// flush writes the current buffer to a new Parquet file.
// Caller must hold the lock.
func (s *ParquetSink) flush() {
	if len(s.buffer) == 0 {
		return
	}

	now := time.Now()
	filename := fmt.Sprintf("events_%s_%d.parquet", now.Format("20060102_150405"), now.UnixNano())
	path := filepath.Join(s.outputDir, filename)

	if err := parquet.WriteFile(path, s.buffer); err != nil {
		s.logger.Warn("failed to write telemetry parquet file", "path", path, "error", err)
		return
	}
	s.buffer = s.buffer[:0]
}

// MarshalAttributes renders extra event attributes as the JSON string the
// Attributes column expects. Marshal failures yield an empty string.
func MarshalAttributes(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return ""
	}
	return string(raw)
}
