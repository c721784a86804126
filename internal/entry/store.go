package entry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// querier is the common interface satisfied by both *pgxpool.Pool and
// pgx.Tx. Row-read helpers take it so the same lookup works inside and
// outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// entryCols is the standard SELECT column list for scanEntries.
const entryCols = `id, data, metadata, created, updated`

// Store manages entries and their embeddings backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates an entry Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Create inserts a new entry. A nil ID is replaced with a fresh UUID v4;
// a supplied ID must itself be version 4. Returns ErrExists when the id
// is already taken.
func (s *Store) Create(ctx context.Context, data string, md Metadata, id uuid.UUID) (*Entry, error) {
	if data == "" {
		return nil, fmt.Errorf("data is required")
	}
	if id == uuid.Nil {
		id = uuid.New()
	} else if id.Version() != 4 {
		return nil, fmt.Errorf("id %s is not a version 4 UUID", id)
	}

	e := &Entry{ID: id, Data: data, Metadata: md}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO commonbase (id, data, metadata)
		 VALUES ($1, $2, $3)
		 RETURNING created, updated`,
		id, data, md,
	).Scan(&e.Created, &e.Updated)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("entry %s: %w", id, ErrExists)
		}
		return nil, fmt.Errorf("inserting entry: %w", err)
	}
	return e, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Get returns the entry with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return getEntry(ctx, s.pool, id)
}

// getEntry reads one entry through q, or ErrNotFound.
func getEntry(ctx context.Context, q querier, id uuid.UUID) (*Entry, error) {
	e := &Entry{}
	err := q.QueryRow(ctx,
		`SELECT `+entryCols+` FROM commonbase WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Data, &e.Metadata, &e.Created, &e.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting entry %s: %w", id, err)
	}
	return e, nil
}

// GetMany returns the entries with the given ids. Missing ids are skipped;
// callers that need existence guarantees use CountByIDs first.
func (s *Store) GetMany(ctx context.Context, ids []uuid.UUID) ([]*Entry, error) {
	if len(ids) == 0 {
		return []*Entry{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryCols+` FROM commonbase WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("getting entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// CountByIDs returns how many of the given ids exist.
func (s *Store) CountByIDs(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM commonbase WHERE id = ANY($1)`,
		ids,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return count, nil
}

// List returns entries ordered by creation time descending.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryCols+` FROM commonbase
		 ORDER BY created DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Random returns up to count random entries, excluding the given ids.
func (s *Store) Random(ctx context.Context, count int, exclude []uuid.UUID) ([]*Entry, error) {
	if count <= 0 {
		count = 1
	}
	if exclude == nil {
		exclude = []uuid.UUID{}
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryCols+` FROM commonbase
		 WHERE id != ALL($1)
		 ORDER BY RANDOM()
		 LIMIT $2`,
		exclude, count,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting random entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// SetData replaces an entry's data and bumps its updated timestamp.
func (s *Store) SetData(ctx context.Context, id uuid.UUID, data string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE commonbase SET data = $2, updated = now() WHERE id = $1`,
		id, data,
	)
	if err != nil {
		return fmt.Errorf("updating entry data %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MutateMetadata applies fn to an entry's metadata inside a transaction
// serialized by a per-entry advisory lock, then persists the result.
//
// The lock makes concurrent link maintenance on the same entry
// read-modify-write safe: two writers touching the same adjacency lists
// are applied one after the other instead of losing an update.
// pg_advisory_xact_lock releases automatically at commit/rollback.
func (s *Store) MutateMetadata(ctx context.Context, id uuid.UUID, fn func(md *Metadata) error) (*Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	if _, lockErr := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id.String()); lockErr != nil {
		return nil, fmt.Errorf("acquiring advisory lock: %w", lockErr)
	}

	e, err := getEntry(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := fn(&e.Metadata); err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx,
		`UPDATE commonbase SET metadata = $2, updated = now()
		 WHERE id = $1
		 RETURNING updated`,
		id, e.Metadata,
	).Scan(&e.Updated)
	if err != nil {
		return nil, fmt.Errorf("updating entry metadata %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing metadata update: %w", err)
	}
	return e, nil
}

// Delete removes an entry. The embeddings row goes with it via
// ON DELETE CASCADE. Returns ErrNotFound if the entry doesn't exist.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM commonbase WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deleting entry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMany removes all entries with the given ids and returns how many
// rows were deleted.
func (s *Store) DeleteMany(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM commonbase WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UpsertEmbedding stores or replaces the vector for an entry.
func (s *Store) UpsertEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	if len(embedding) != EmbeddingDim {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(embedding), EmbeddingDim)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO embeddings (id, embedding)
		 VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding`,
		id, pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("upserting embedding for %s: %w", id, err)
	}
	return nil
}

// GetEmbedded returns an entry together with its stored vector.
// Returns ErrNotFound if the entry doesn't exist and ErrNoEmbedding if it
// exists without a vector.
func (s *Store) GetEmbedded(ctx context.Context, id uuid.UUID) (*Embedded, error) {
	e := &Embedded{}
	var vec *pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT c.id, c.data, c.metadata, c.created, c.updated, e.embedding
		 FROM commonbase c
		 LEFT JOIN embeddings e ON c.id = e.id
		 WHERE c.id = $1`,
		id,
	).Scan(&e.ID, &e.Data, &e.Metadata, &e.Created, &e.Updated, &vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting embedded entry %s: %w", id, err)
	}
	if vec == nil {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNoEmbedding)
	}
	e.Embedding = vec.Slice()
	return e, nil
}

// GetManyEmbedded returns the entries among ids that have a stored vector,
// joined with their raw vectors. Entries without embeddings are omitted.
func (s *Store) GetManyEmbedded(ctx context.Context, ids []uuid.UUID) ([]*Embedded, error) {
	if len(ids) == 0 {
		return []*Embedded{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.data, c.metadata, c.created, c.updated, e.embedding
		 FROM commonbase c
		 INNER JOIN embeddings e ON c.id = e.id
		 WHERE c.id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("getting embedded entries: %w", err)
	}
	defer rows.Close()

	var out []*Embedded
	for rows.Next() {
		e := &Embedded{}
		var vec pgvector.Vector
		if err := rows.Scan(&e.ID, &e.Data, &e.Metadata, &e.Created, &e.Updated, &vec); err != nil {
			return nil, fmt.Errorf("scanning embedded entry: %w", err)
		}
		e.Embedding = vec.Slice()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embedded entries: %w", err)
	}
	return out, nil
}

// SemanticSearch returns entries whose cosine similarity to vec exceeds
// threshold, most similar first.
func (s *Store) SemanticSearch(ctx context.Context, vec []float32, threshold float64, limit int) ([]*Scored, error) {
	v := pgvector.NewVector(vec)
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.data, c.metadata, c.created, c.updated,
		        1 - (e.embedding <=> $1) AS similarity
		 FROM commonbase c
		 INNER JOIN embeddings e ON c.id = e.id
		 WHERE 1 - (e.embedding <=> $1) > $2
		 ORDER BY e.embedding <=> $1
		 LIMIT $3`,
		v, threshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer rows.Close()
	return scanScored(rows)
}

// FullTextSearch returns entries matching the query via English full-text
// search, ranked by ts_rank descending. Similarity is left at zero.
func (s *Store) FullTextSearch(ctx context.Context, query string, limit int) ([]*Scored, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryCols+`, 0::float8 AS similarity
		 FROM commonbase
		 WHERE to_tsvector('english', data) @@ plainto_tsquery('english', $1)
		 ORDER BY ts_rank(to_tsvector('english', data), plainto_tsquery('english', $1)) DESC
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	defer rows.Close()
	return scanScored(rows)
}

// Nearest returns up to limit entries whose raw cosine similarity to vec is
// at least floor, excluding the given ids, most similar first. Backs the
// global "similar" bucket of the similarity graph.
func (s *Store) Nearest(ctx context.Context, vec []float32, floor float64, limit int, exclude []uuid.UUID) ([]*Scored, error) {
	if exclude == nil {
		exclude = []uuid.UUID{}
	}
	v := pgvector.NewVector(vec)
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.data, c.metadata, c.created, c.updated,
		        1 - (e.embedding <=> $1) AS similarity
		 FROM commonbase c
		 INNER JOIN embeddings e ON c.id = e.id
		 WHERE c.id != ALL($2)
		   AND 1 - (e.embedding <=> $1) >= $3
		 ORDER BY e.embedding <=> $1
		 LIMIT $4`,
		v, exclude, floor, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("nearest entries: %w", err)
	}
	defer rows.Close()
	return scanScored(rows)
}

// scanEntries reads Entry structs from pgx.Rows (standard column set).
func scanEntries(rows pgx.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.Data, &e.Metadata, &e.Created, &e.Updated); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return entries, nil
}

// scanScored reads Scored structs from pgx.Rows (standard columns plus a
// trailing similarity column).
func scanScored(rows pgx.Rows) ([]*Scored, error) {
	var entries []*Scored
	for rows.Next() {
		e := &Scored{}
		if err := rows.Scan(&e.ID, &e.Data, &e.Metadata, &e.Created, &e.Updated, &e.Similarity); err != nil {
			return nil, fmt.Errorf("scanning scored entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scored entries: %w", err)
	}
	return entries, nil
}
