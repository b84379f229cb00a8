// Package mnemo provides a temporal knowledge memory engine for Go.
//
// Mnemo ingests episodes of text, extracts entities and relationships into
// a confidence-weighted knowledge graph, embeds content into a semantic
// index, and distills recurring patterns into insights through a gated
// learning pipeline. Every record carries temporal validity, so queries can
// be evaluated as of any past instant.
//
// # Basic Usage
//
// Assemble an engine from a configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	engine, err := mnemo.FromConfig(ctx, cfg, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
// Or wire the components directly:
//
//	graphStore := store.NewMemoryStore()
//	vectorIndex := index.NewMemoryIndex(768)
//	engine, err := mnemo.NewEngine(graphStore, vectorIndex, extractor, embedder, nil, nil, logger)
//
// # Ingesting Episodes
//
// Episodes are write-once units of content. Ingestion extracts entities and
// relationships, links mentions, and indexes an embedding:
//
//	result, err := engine.AddEpisode(ctx, "Replaced the hydraulic pump on the Bobcat after error E-1042", &mnemo.AddEpisodeOptions{
//		Source: "maintenance-log",
//	})
//
// Collaborator failures never fail an ingestion: extraction degrades to an
// empty result and embedding degrades to a deterministic fallback vector,
// with the degradation recorded on the result.
//
// # Searching
//
// Search merges a semantic vector branch with a graph-traversal branch,
// both filtered by the same point-in-time visibility rule:
//
//	results, err := engine.Search(ctx, "hydraulic pump failure", nil)
//	for _, hit := range results.Hits {
//		fmt.Println(hit.Episode.Content, hit.Score)
//	}
//
// # Feedback
//
// Human judgments tune relationship confidence over time:
//
//	engine.ConfirmRelationship(ctx, types.RelationshipKey{
//		SourceName: "E-1042", TargetName: "hydraulic pump", Type: "indicates",
//	})
//
// # Insight Pipeline
//
// RunCycle feeds raw events through dedup, analysis and the reasoning
// collaborator, persisting insights above the confidence threshold. Runs
// are rate-limited by a cooldown.
//
// # Architecture
//
//   - pkg/store: temporal graph store (memory, badger, neo4j)
//   - pkg/index: semantic vector index (memory, sqlite-vec)
//   - pkg/extract: entity/relationship extraction collaborators
//   - pkg/embed: embedding collaborators
//   - pkg/reason: insight-generation collaborators
//   - pkg/lifecycle: the insight pipeline
//   - pkg/provider: retry, timeout and circuit-breaking helpers
//   - pkg/types: core type definitions
package mnemo
