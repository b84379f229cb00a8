package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteVecIndex persists vectors in sqlite with a vec0 virtual table for
// fast KNN. If the vec0 extension fails to load the index degrades to a
// brute-force cosine scan over the stored vectors; either path answers the
// same Nearest contract.
type SQLiteVecIndex struct {
	db         *sql.DB
	dimensions int
	// vecAvailable reports whether the vec0 virtual table could be created.
	vecAvailable bool
}

// OpenSQLiteVecIndex opens (or creates) a sqlite-backed vector index.
func OpenSQLiteVecIndex(path string, dimensions int) (*SQLiteVecIndex, error) {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite index: %w", err)
	}

	idx := &SQLiteVecIndex{db: db, dimensions: dimensions}
	if err := idx.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *SQLiteVecIndex) ensureSchema() error {
	// Base table holds the vector JSON and recency; it also backs the
	// brute-force fallback path.
	if _, err := idx.db.Exec(`CREATE TABLE IF NOT EXISTS vectors (
		vec_id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id TEXT UNIQUE NOT NULL,
		embedding TEXT NOT NULL,
		at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create vectors table: %w", err)
	}

	// vec0 needs integer rowids; the vectors table provides the mapping.
	var vecVersion string
	if err := idx.db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		idx.vecAvailable = false
		return nil
	}
	createSQL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(embedding float[%d] distance_metric=cosine)`,
		idx.dimensions,
	)
	if _, err := idx.db.Exec(createSQL); err != nil {
		idx.vecAvailable = false
		return nil
	}
	idx.vecAvailable = true
	return nil
}

func (idx *SQLiteVecIndex) Dimensions() int { return idx.dimensions }

func (idx *SQLiteVecIndex) Close() error { return idx.db.Close() }

func (idx *SQLiteVecIndex) Index(ctx context.Context, id string, vector []float32, at time.Time) error {
	if len(vector) != idx.dimensions {
		return ErrDimensionMismatch
	}

	embJSON, err := json.Marshal(vector)
	if err != nil {
		return err
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vectors (item_id, embedding, at) VALUES (?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET embedding = excluded.embedding, at = excluded.at
	`, id, string(embJSON), at.UnixNano()); err != nil {
		return fmt.Errorf("failed to store vector: %w", err)
	}

	if idx.vecAvailable {
		var vecID int64
		if err := tx.QueryRowContext(ctx, `SELECT vec_id FROM vectors WHERE item_id = ?`, id).Scan(&vecID); err != nil {
			return err
		}
		blob, err := sqlite_vec.SerializeFloat32(vector)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding: %w", err)
		}
		// vec0 doesn't support ON CONFLICT, so delete first.
		tx.ExecContext(ctx, `DELETE FROM vec_embeddings WHERE rowid = ?`, vecID)
		if _, err := tx.ExecContext(ctx, `INSERT INTO vec_embeddings (rowid, embedding) VALUES (?, ?)`, vecID, blob); err != nil {
			return fmt.Errorf("failed to insert into vec0: %w", err)
		}
	}

	return tx.Commit()
}

func (idx *SQLiteVecIndex) Remove(ctx context.Context, id string) error {
	var vecID int64
	err := idx.db.QueryRowContext(ctx, `SELECT vec_id FROM vectors WHERE item_id = ?`, id).Scan(&vecID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if idx.vecAvailable {
		idx.db.ExecContext(ctx, `DELETE FROM vec_embeddings WHERE rowid = ?`, vecID)
	}
	_, err = idx.db.ExecContext(ctx, `DELETE FROM vectors WHERE vec_id = ?`, vecID)
	return err
}

func (idx *SQLiteVecIndex) Nearest(ctx context.Context, query []float32, k int, f *Filter) ([]Hit, error) {
	if len(query) != idx.dimensions {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}
	if idx.vecAvailable {
		return idx.nearestKNN(ctx, query, k, f)
	}
	return idx.nearestScan(ctx, query, k, f)
}

// nearestKNN over-fetches from vec0 so post-hoc visibility filtering still
// has enough candidates, then reranks with the shared tie-break rule.
func (idx *SQLiteVecIndex) nearestKNN(ctx context.Context, query []float32, k int, f *Filter) ([]Hit, error) {
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query: %w", err)
	}

	fetch := k * 4
	if fetch < 50 {
		fetch = 50
	}
	rows, err := idx.db.QueryContext(ctx, `
		SELECT rowid, distance
		FROM vec_embeddings
		WHERE embedding MATCH ?
		ORDER BY distance
		LIMIT ?
	`, blob, fetch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type rowResult struct {
		vecID    int64
		distance float64
	}
	var rowResults []rowResult
	for rows.Next() {
		var r rowResult
		if err := rows.Scan(&r.vecID, &r.distance); err != nil {
			continue
		}
		rowResults = append(rowResults, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rowResults) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(rowResults))
	args := make([]interface{}, len(rowResults))
	for i, rr := range rowResults {
		placeholders[i] = "?"
		args[i] = rr.vecID
	}
	mapRows, err := idx.db.QueryContext(ctx,
		`SELECT vec_id, item_id, at FROM vectors WHERE vec_id IN (`+strings.Join(placeholders, ",")+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer mapRows.Close()

	type meta struct {
		itemID string
		at     time.Time
	}
	metaByVecID := make(map[int64]meta)
	for mapRows.Next() {
		var vecID, atNanos int64
		var itemID string
		if err := mapRows.Scan(&vecID, &itemID, &atNanos); err != nil {
			continue
		}
		metaByVecID[vecID] = meta{itemID: itemID, at: time.Unix(0, atNanos)}
	}

	var candidates []Hit
	for _, rr := range rowResults {
		m, ok := metaByVecID[rr.vecID]
		if !ok {
			continue
		}
		// cosine distance → similarity
		score := 1 - rr.distance
		if !f.admits(m.itemID, score) {
			continue
		}
		candidates = append(candidates, Hit{ID: m.itemID, Score: score, At: m.at})
	}
	return topK(candidates, k), nil
}

// nearestScan is the brute-force fallback over the stored vector JSON.
func (idx *SQLiteVecIndex) nearestScan(ctx context.Context, query []float32, k int, f *Filter) ([]Hit, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT item_id, embedding, at FROM vectors`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []Hit
	for rows.Next() {
		var itemID, embJSON string
		var atNanos int64
		if err := rows.Scan(&itemID, &embJSON, &atNanos); err != nil {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
			continue
		}
		score := CosineSimilarity(query, vec)
		if !f.admits(itemID, score) {
			continue
		}
		candidates = append(candidates, Hit{ID: itemID, Score: score, At: time.Unix(0, atNanos)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topK(candidates, k), nil
}
