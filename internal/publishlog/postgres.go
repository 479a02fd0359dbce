package publishlog

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/quickreview/pkg/models"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// PostgresStore keeps the log in Postgres. Locks are session advisory locks,
// so parallel processes sharing the database exclude each other per PR.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, migrates and returns the store
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres store requires store.dsn or DATABASE_URL")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	err = RunPostgresMigrations(db)
	db.Close()
	if err != nil {
		pool.Close()
		return nil, err
	}
	return NewPostgresStore(pool), nil
}

// NewPostgresStore wraps a pool whose schema is already migrated
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the pool to components sharing the database, like the job queue
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Lock takes pg_advisory_lock on a dedicated connection held until unlock
func (s *PostgresStore) Lock(ctx context.Context, key Key) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	id := advisoryKey(key)
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", id); err != nil {
		conn.Release()
		return nil, fmt.Errorf("pg_advisory_lock %s: %w", key, err)
	}
	return func() {
		// a fresh context: the caller's may already be cancelled
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", id); err != nil {
			// closing the session releases the lock server side
			_ = conn.Conn().Close(context.Background())
		}
		conn.Release()
	}, nil
}

func (s *PostgresStore) Latest(ctx context.Context, key Key, contentHash string) (*models.PublishRecord, error) {
	q := psql.Select(recordColumns...).
		From("publish_records").
		Where(squirrel.Eq{"platform": string(key.Platform), "pr_id": key.PRID, "content_hash": contentHash}).
		OrderBy("id DESC").
		Limit(1)
	return s.one(ctx, q)
}

func (s *PostgresStore) LatestComplete(ctx context.Context, key Key, revision string) (*models.PublishRecord, error) {
	q := psql.Select(recordColumns...).
		From("publish_records").
		Where(squirrel.Eq{
			"platform": string(key.Platform),
			"pr_id":    key.PRID,
			"revision": revision,
			"status":   string(models.PublishComplete),
		}).
		OrderBy("id DESC").
		Limit(1)
	return s.one(ctx, q)
}

func (s *PostgresStore) Append(ctx context.Context, rec *models.PublishRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	query, args, err := psql.Insert("publish_records").
		Columns("platform", "pr_id", "content_hash", "revision", "status", "summary_id", "posted_comments", "run_id").
		Values(string(rec.Platform), rec.PRID, rec.ContentHash, rec.Revision, string(rec.Status),
			rec.SummaryID, nonNil(rec.PostedComments), rec.RunID).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building append record query: %w", err)
	}
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return fmt.Errorf("executing append record query: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]models.PublishRecord, error) {
	q := psql.Select(recordColumns...).From("publish_records").OrderBy("id DESC")
	if filter.Platform != "" {
		q = q.Where(squirrel.Eq{"platform": string(filter.Platform)})
	}
	if filter.PRID != "" {
		q = q.Where(squirrel.Eq{"pr_id": filter.PRID})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list records query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list records query: %w", err)
	}
	defer rows.Close()

	var out []models.PublishRecord
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) one(ctx context.Context, q squirrel.SelectBuilder) (*models.PublishRecord, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building record query: %w", err)
	}
	rec, err := scanPostgres(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func scanPostgres(row pgx.Row) (*models.PublishRecord, error) {
	var (
		rec      models.PublishRecord
		platform string
		status   string
	)
	err := row.Scan(&rec.ID, &platform, &rec.PRID, &rec.ContentHash, &rec.Revision, &status,
		&rec.SummaryID, &rec.PostedComments, &rec.RunID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning record: %w", err)
	}
	rec.Platform = models.Platform(platform)
	rec.Status = models.PublishStatus(status)
	return &rec, nil
}

// advisoryKey maps a PR key onto the bigint space of pg_advisory_lock
func advisoryKey(key Key) int64 {
	h := fnv.New64a()
	h.Write([]byte("quickreview|" + key.String()))
	return int64(h.Sum64())
}
