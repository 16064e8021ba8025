package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
)

const (
	schemaVersion     = 1
	schemaAdvisoryKey = int64(2026101901)
)

// PaperRepository is the Postgres paper store. It is safe for concurrent use.
type PaperRepository struct {
	db *sql.DB

	schemaMu      sync.Mutex
	schemaApplied int
}

func NewPaperRepository(db *sql.DB) *PaperRepository {
	return &PaperRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema applies the DDL once per repository instance; later calls are no-ops.
func (r *PaperRepository) EnsureSchema(ctx context.Context) error {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()
	if r.schemaApplied >= schemaVersion {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker/cli startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaAdvisoryKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS papers (
	id BIGSERIAL PRIMARY KEY,
	arxiv_id TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	abstract TEXT NOT NULL DEFAULT '',
	authors JSONB NOT NULL DEFAULT '[]'::jsonb,
	published_at TIMESTAMPTZ,
	category TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_papers_published_at ON papers(published_at DESC);

CREATE TABLE IF NOT EXISTS paper_chunks (
	id BIGSERIAL PRIMARY KEY,
	paper_id BIGINT NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
	chunk_index INT NOT NULL,
	content TEXT NOT NULL,
	UNIQUE (paper_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS chunk_embeddings (
	chunk_id BIGINT PRIMARY KEY REFERENCES paper_chunks(id) ON DELETE CASCADE,
	dimension INT NOT NULL,
	vector BYTEA NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	r.schemaApplied = schemaVersion
	return nil
}

const paperColumns = `id, arxiv_id, title, abstract, authors, published_at, category, url, created_at, updated_at`

// SearchByText matches substring case-sensitively against title and abstract, newest first.
func (r *PaperRepository) SearchByText(ctx context.Context, substring string, limit int) ([]domain.Paper, error) {
	pattern := "%" + escapeLike(substring) + "%"
	rows, err := r.db.QueryContext(ctx, `
SELECT `+paperColumns+`
FROM papers
WHERE title LIKE $1 ESCAPE '\' OR abstract LIKE $1 ESCAPE '\'
ORDER BY published_at DESC NULLS LAST, arxiv_id
LIMIT $2
`, pattern, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreAccess, "search papers by text", err)
	}
	defer rows.Close()

	papers := make([]domain.Paper, 0, limit)
	for rows.Next() {
		paper, err := scanPaper(rows)
		if err != nil {
			return nil, domain.WrapError(domain.ErrStoreAccess, "scan paper", err)
		}
		papers = append(papers, paper)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrStoreAccess, "iterate papers", err)
	}
	return papers, nil
}

// ListChunksWithEmbeddings returns every embedded chunk joined with its paper.
func (r *PaperRepository) ListChunksWithEmbeddings(ctx context.Context) ([]domain.ChunkRow, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT c.id, c.paper_id, c.chunk_index, c.content, e.vector,
	p.id, p.arxiv_id, p.title, p.abstract, p.authors, p.published_at, p.category, p.url, p.created_at, p.updated_at
FROM paper_chunks c
JOIN chunk_embeddings e ON e.chunk_id = c.id
JOIN papers p ON p.id = c.paper_id
ORDER BY c.paper_id, c.chunk_index
`)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreAccess, "list chunks with embeddings", err)
	}
	defer rows.Close()

	out := make([]domain.ChunkRow, 0, 256)
	for rows.Next() {
		var (
			row        domain.ChunkRow
			authorsRaw []byte
			published  sql.NullTime
		)
		err := rows.Scan(
			&row.ChunkID, &row.PaperID, &row.ChunkIndex, &row.Content, &row.EmbeddingBlob,
			&row.Paper.ID, &row.Paper.ArxivID, &row.Paper.Title, &row.Paper.Abstract, &authorsRaw,
			&published, &row.Paper.Category, &row.Paper.URL, &row.Paper.CreatedAt, &row.Paper.UpdatedAt,
		)
		if err != nil {
			return nil, domain.WrapError(domain.ErrStoreAccess, "scan chunk row", err)
		}
		if err := decodeAuthors(authorsRaw, &row.Paper); err != nil {
			return nil, domain.WrapError(domain.ErrStoreAccess, "scan chunk row", err)
		}
		if published.Valid {
			row.Paper.PublishedAt = published.Time
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrStoreAccess, "iterate chunk rows", err)
	}
	return out, nil
}

func (r *PaperRepository) GetByArxivID(ctx context.Context, arxivID string) (*domain.Paper, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+paperColumns+`
FROM papers
WHERE arxiv_id = $1
`, arxivID)

	paper, err := scanPaper(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewError(domain.ErrPaperNotFound, "get paper", arxivID)
		}
		return nil, domain.WrapError(domain.ErrStoreAccess, "get paper", err)
	}
	return &paper, nil
}

// UpsertPaper inserts or refreshes a paper by arxiv id and sets paper.ID.
func (r *PaperRepository) UpsertPaper(ctx context.Context, paper *domain.Paper) error {
	authors := paper.Authors
	if authors == nil {
		authors = []string{}
	}
	authorsJSON, err := json.Marshal(authors)
	if err != nil {
		return fmt.Errorf("marshal authors: %w", err)
	}

	var published sql.NullTime
	if !paper.PublishedAt.IsZero() {
		published = sql.NullTime{Time: paper.PublishedAt, Valid: true}
	}

	err = r.db.QueryRowContext(ctx, `
INSERT INTO papers (arxiv_id, title, abstract, authors, published_at, category, url, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (arxiv_id) DO UPDATE SET
	title = EXCLUDED.title,
	abstract = EXCLUDED.abstract,
	authors = EXCLUDED.authors,
	published_at = EXCLUDED.published_at,
	category = EXCLUDED.category,
	url = EXCLUDED.url,
	updated_at = EXCLUDED.updated_at
RETURNING id, created_at
`,
		paper.ArxivID, paper.Title, paper.Abstract, authorsJSON, published,
		paper.Category, paper.URL, paper.CreatedAt, paper.UpdatedAt,
	).Scan(&paper.ID, &paper.CreatedAt)
	if err != nil {
		return domain.WrapError(domain.ErrStoreAccess, "upsert paper", err)
	}
	return nil
}

// ReplaceChunks swaps the paper's chunk set and embeddings in one transaction.
func (r *PaperRepository) ReplaceChunks(ctx context.Context, paperID int64, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return domain.NewError(domain.ErrInvalidInput, "replace chunks",
			fmt.Sprintf("%d chunks but %d vectors", len(chunks), len(vectors)))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapError(domain.ErrStoreAccess, "begin chunks tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM paper_chunks WHERE paper_id = $1`, paperID); err != nil {
		return domain.WrapError(domain.ErrStoreAccess, "delete chunks", err)
	}

	for i, chunk := range chunks {
		var chunkID int64
		err := tx.QueryRowContext(ctx, `
INSERT INTO paper_chunks (paper_id, chunk_index, content)
VALUES ($1,$2,$3)
RETURNING id
`, paperID, chunk.Index, chunk.Content).Scan(&chunkID)
		if err != nil {
			return domain.WrapError(domain.ErrStoreAccess, "insert chunk", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO chunk_embeddings (chunk_id, dimension, vector)
VALUES ($1,$2,$3)
`, chunkID, len(vectors[i]), domain.EncodeVector(vectors[i])); err != nil {
			return domain.WrapError(domain.ErrStoreAccess, "insert chunk embedding", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.ErrStoreAccess, "commit chunks tx", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaper(row rowScanner) (domain.Paper, error) {
	var (
		paper      domain.Paper
		authorsRaw []byte
		published  sql.NullTime
	)
	err := row.Scan(
		&paper.ID, &paper.ArxivID, &paper.Title, &paper.Abstract, &authorsRaw,
		&published, &paper.Category, &paper.URL, &paper.CreatedAt, &paper.UpdatedAt,
	)
	if err != nil {
		return domain.Paper{}, err
	}
	if err := decodeAuthors(authorsRaw, &paper); err != nil {
		return domain.Paper{}, err
	}
	if published.Valid {
		paper.PublishedAt = published.Time
	}
	return paper, nil
}

func decodeAuthors(raw []byte, paper *domain.Paper) error {
	if len(raw) == 0 {
		paper.Authors = []string{}
		return nil
	}
	if err := json.Unmarshal(raw, &paper.Authors); err != nil {
		return fmt.Errorf("unmarshal authors: %w", err)
	}
	if paper.Authors == nil {
		paper.Authors = []string{}
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
