package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"hybridsearch/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentStorer persists documents and their indexing status. The
// content_hash unique constraint is the only dedup point: CreateDocument
// returns ErrDuplicateContent when another job already stored the same text.
type DocumentStorer interface {
	CreateDocument(context.Context, types.Document) (*types.Document, error)
	CreateDocumentMetadata(ctx context.Context, correlationID, contentHash string, status types.IndexStatus) (*types.DocumentMetadata, error)
	UpdateIndexStatus(ctx context.Context, correlationID string, status types.IndexStatus) (*types.DocumentMetadata, error)
	GetDocumentByCorrelationID(context.Context, string) (*types.Document, error)
	GetDocumentByContentHash(context.Context, string) (*types.Document, error)
	GetMetadata(context.Context, string) (*types.DocumentMetadata, error)
	ListDocumentsByOwner(context.Context, int64) ([]types.Document, error)
	UpdateDocumentTitle(ctx context.Context, correlationID, title string) (*types.Document, error)
	DeleteDocument(context.Context, string) (bool, error)
	SaveDeadLetter(context.Context, types.DeadLetter) error
}

type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ DocumentStorer = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:   pool,
		logger: slog.Default(),
	}, nil
}

// Pool exposes the connection pool so the search engine and the Postgres
// queue backend share it.
func (p *PostgresStore) Pool() *pgxpool.Pool {
	return p.pool
}

const documentColumns = `id, owner_id, correlation_id, content_hash, coalesce(title, ''), coalesce(source_uri, ''), doc_details, create_time`

func scanDocument(row pgx.Row) (*types.Document, error) {
	doc := &types.Document{}
	err := row.Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.CorrelationID,
		&doc.ContentHash,
		&doc.Title,
		&doc.SourceURI,
		&doc.Details,
		&doc.CreateTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func scanMetadata(row pgx.Row) (*types.DocumentMetadata, error) {
	md := &types.DocumentMetadata{}
	var status string
	err := row.Scan(&md.ID, &md.CorrelationID, &status, &md.DocContentHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	md.IndexStatus = types.IndexStatus(status)
	return md, nil
}

// CreateDocument inserts the document and its PENDING metadata row in one
// transaction.
func (p *PostgresStore) CreateDocument(ctx context.Context, doc types.Document) (*types.Document, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO documents (owner_id, correlation_id, content_hash, title, source_uri, doc_details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + documentColumns
	created, err := scanDocument(tx.QueryRow(ctx, query,
		doc.OwnerID,
		doc.CorrelationID,
		doc.ContentHash,
		doc.Title,
		doc.SourceURI,
		doc.Details,
	))
	if err != nil {
		return nil, mapUniqueViolation(err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO document_metadata (correlation_id, index_status, doc_content_hash)
		VALUES ($1, $2, $3)`, created.CorrelationID, string(types.StatusPending), created.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("create pending metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// CreateDocumentMetadata is idempotent per correlation id: an existing row
// is returned unchanged.
func (p *PostgresStore) CreateDocumentMetadata(ctx context.Context, correlationID, contentHash string, status types.IndexStatus) (*types.DocumentMetadata, error) {
	_, err := p.pool.Exec(ctx, `INSERT INTO document_metadata (correlation_id, index_status, doc_content_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (correlation_id) DO NOTHING`, correlationID, string(status), contentHash)
	if err != nil {
		return nil, err
	}
	return p.GetMetadata(ctx, correlationID)
}

// UpdateIndexStatus moves the metadata row to status. Setting the current
// status again is a no-op; a move the state machine forbids returns
// ErrInvalidTransition.
func (p *PostgresStore) UpdateIndexStatus(ctx context.Context, correlationID string, status types.IndexStatus) (*types.DocumentMetadata, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	current, err := scanMetadata(tx.QueryRow(ctx, `SELECT id, correlation_id, index_status, doc_content_hash
		FROM document_metadata WHERE correlation_id = $1 FOR UPDATE`, correlationID))
	if err != nil {
		return nil, err
	}
	if current.IndexStatus == status {
		return current, nil
	}
	if !current.IndexStatus.CanTransition(status) {
		return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.IndexStatus, status)
	}

	updated, err := scanMetadata(tx.QueryRow(ctx, `UPDATE document_metadata
		SET index_status = $2, update_time = now()
		WHERE correlation_id = $1
		RETURNING id, correlation_id, index_status, doc_content_hash`, correlationID, string(status)))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func (p *PostgresStore) GetDocumentByCorrelationID(ctx context.Context, correlationID string) (*types.Document, error) {
	return scanDocument(p.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE correlation_id = $1`, correlationID))
}

func (p *PostgresStore) GetDocumentByContentHash(ctx context.Context, contentHash string) (*types.Document, error) {
	return scanDocument(p.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE content_hash = $1`, contentHash))
}

func (p *PostgresStore) GetMetadata(ctx context.Context, correlationID string) (*types.DocumentMetadata, error) {
	return scanMetadata(p.pool.QueryRow(ctx, `SELECT id, correlation_id, index_status, doc_content_hash
		FROM document_metadata WHERE correlation_id = $1`, correlationID))
}

func (p *PostgresStore) ListDocumentsByOwner(ctx context.Context, ownerID int64) ([]types.Document, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE owner_id = $1
		ORDER BY create_time DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (p *PostgresStore) UpdateDocumentTitle(ctx context.Context, correlationID, title string) (*types.Document, error) {
	return scanDocument(p.pool.QueryRow(ctx, `UPDATE documents SET title = $2
		WHERE correlation_id = $1
		RETURNING `+documentColumns, correlationID, title))
}

// DeleteDocument removes the document; metadata rows referencing its
// content hash go with it through ON DELETE CASCADE.
func (p *PostgresStore) DeleteDocument(ctx context.Context, correlationID string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE correlation_id = $1`, correlationID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PostgresStore) SaveDeadLetter(ctx context.Context, dl types.DeadLetter) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO dead_letters (topic, partition, "offset", key, payload, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (topic, partition, "offset") DO NOTHING`,
		dl.Topic, dl.Partition, dl.Offset, dl.Key, dl.Payload, dl.Reason)
	return err
}

// Close закрывает пул подключений
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("postgres connection pool is closed")
	}
	return nil
}
