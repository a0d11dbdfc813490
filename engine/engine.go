// Package engine runs lexical and vector queries over indexed chunks stored
// in Postgres (tsvector and pgvector columns of the chunks table).
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"hybridsearch/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type SearchEngine interface {
	// LexicalSearch returns up to size chunks that contain at least
	// MinimumShouldMatch of the query terms.
	LexicalSearch(ctx context.Context, query string, size int) ([]types.SearchHit, error)
	// VectorSearch returns the k nearest chunks, exploring numCandidates
	// entries of the ANN index.
	VectorSearch(ctx context.Context, vec []float32, k, numCandidates int) ([]types.SearchHit, error)
}

type ChunkIndexer interface {
	// IndexChunks replaces every chunk of correlationID with chunks.
	IndexChunks(ctx context.Context, correlationID string, chunks []types.Chunk) error
	DeleteChunks(ctx context.Context, correlationID string) error
}

type PostgresEngine struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var (
	_ SearchEngine = (*PostgresEngine)(nil)
	_ ChunkIndexer = (*PostgresEngine)(nil)
)

func NewPostgresEngine(pool *pgxpool.Pool, logger *slog.Logger) *PostgresEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresEngine{pool: pool, logger: logger}
}

func (e *PostgresEngine) IndexChunks(ctx context.Context, correlationID string, chunks []types.Chunk) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM chunks WHERE correlation_id = $1", correlationID); err != nil {
		return fmt.Errorf("error deleting old chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO chunks (id, correlation_id, position, title, source_uri, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ID, correlationID, c.Position, c.Title, c.SourceURI, c.Content, pgvector.NewVector(c.Embedding))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("error saving chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.logger.Debug("chunks indexed", "correlation_id", correlationID, "count", len(chunks))
	return nil
}

func (e *PostgresEngine) DeleteChunks(ctx context.Context, correlationID string) error {
	_, err := e.pool.Exec(ctx, "DELETE FROM chunks WHERE correlation_id = $1", correlationID)
	return err
}

func (e *PostgresEngine) LexicalSearch(ctx context.Context, query string, size int) ([]types.SearchHit, error) {
	terms := QueryTerms(query)
	if len(terms) == 0 || size < 1 {
		return nil, nil
	}

	rows, err := e.pool.Query(ctx, `
		SELECT c.correlation_id, coalesce(c.title, ''), coalesce(c.source_uri, ''), c.content,
		       ts_rank_cd(c.content_tsv, to_tsquery('simple', $2)) AS score
		FROM chunks c
		WHERE c.content_tsv @@ to_tsquery('simple', $2)
		  AND (SELECT count(*) FROM unnest($1::text[]) AS t(term)
		       WHERE c.content_tsv @@ to_tsquery('simple', t.term)) >= $3
		ORDER BY score DESC, c.correlation_id, c.position
		LIMIT $4`,
		terms, AnyOf(terms), MinimumShouldMatch(len(terms)), size)
	if err != nil {
		return nil, err
	}
	return collectHits(rows)
}

func (e *PostgresEngine) VectorSearch(ctx context.Context, vec []float32, k, numCandidates int) ([]types.SearchHit, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if k < 1 {
		return nil, nil
	}
	if numCandidates < k {
		numCandidates = k
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// SET cannot take bind parameters.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", numCandidates)); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT c.correlation_id, coalesce(c.title, ''), coalesce(c.source_uri, ''), c.content,
		       1 - (c.embedding <=> $1) AS score
		FROM chunks c
		WHERE c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $1
		LIMIT $2`, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, err
	}
	hits, err := collectHits(rows)
	if err != nil {
		return nil, err
	}
	return hits, tx.Commit(ctx)
}

func collectHits(rows pgx.Rows) ([]types.SearchHit, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.SearchHit, error) {
		var h types.SearchHit
		err := row.Scan(&h.CorrelationID, &h.Title, &h.SourceURI, &h.Content, &h.Score)
		return h, err
	})
}
