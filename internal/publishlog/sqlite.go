package publishlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/quickreview/pkg/models"
)

var recordColumns = []string{
	"id", "platform", "pr_id", "content_hash", "revision", "status",
	"summary_id", "posted_comments", "run_id", "created_at",
}

const (
	defaultLockTTL   = 2 * time.Minute
	lockPollInterval = 100 * time.Millisecond
)

// SQLiteStore keeps the log in a local SQLite file. A lock is a row in
// publish_locks, so separate processes sharing the file exclude each other.
// Holders refresh heartbeat_at while they run; a row whose heartbeat is older
// than the TTL belongs to a dead process and is taken over.
type SQLiteStore struct {
	db      *sql.DB
	locks   *keyedMutex
	lockTTL time.Duration
}

// OpenSQLite opens dsn (a file path or a file: URI), enables WAL and migrates
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "quickreview.db"
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dsn)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := RunSQLiteMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an already migrated database
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, locks: newKeyedMutex(), lockTTL: defaultLockTTL}
}

// Lock serializes goroutines on the keyed mutex first, then claims the lock row
func (s *SQLiteStore) Lock(ctx context.Context, key Key) (func(), error) {
	release, err := s.locks.Lock(ctx, key.String())
	if err != nil {
		return nil, err
	}
	holder := uuid.NewString()
	if err := s.claim(ctx, key, holder); err != nil {
		release()
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go s.heartbeat(key, holder, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			query, args, err := squirrel.Delete("publish_locks").
				Where(squirrel.Eq{"lock_key": key.String(), "holder": holder}).
				ToSql()
			if err == nil {
				_, err = s.db.ExecContext(context.Background(), query, args...)
			}
			if err != nil {
				log.Warn().Err(err).Str("key", key.String()).Msg("Failed to release publish lock row, it expires with its heartbeat")
			}
			release()
		})
	}, nil
}

func (s *SQLiteStore) claim(ctx context.Context, key Key, holder string) error {
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		ok, err := s.tryClaim(ctx, key, holder)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *SQLiteStore) tryClaim(ctx context.Context, key Key, holder string) (bool, error) {
	now := time.Now().UTC()
	query, args, err := squirrel.Delete("publish_locks").
		Where(squirrel.Eq{"lock_key": key.String()}).
		Where(squirrel.Lt{"heartbeat_at": now.Add(-s.lockTTL).UnixNano()}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building stale lock query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("clearing stale lock %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Warn().Str("key", key.String()).Msg("Took over publish lock from a holder that stopped heartbeating")
	}

	query, args, err = squirrel.Insert("publish_locks").
		Columns("lock_key", "holder", "heartbeat_at").
		Values(key.String(), holder, now.UnixNano()).
		Suffix("ON CONFLICT (lock_key) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building lock query: %w", err)
	}
	res, err = s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("claiming lock %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading lock result: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) heartbeat(key Key, holder string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.lockTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			query, args, err := squirrel.Update("publish_locks").
				Set("heartbeat_at", time.Now().UTC().UnixNano()).
				Where(squirrel.Eq{"lock_key": key.String(), "holder": holder}).
				ToSql()
			if err == nil {
				_, err = s.db.ExecContext(context.Background(), query, args...)
			}
			if err != nil {
				log.Warn().Err(err).Str("key", key.String()).Msg("Failed to refresh publish lock heartbeat")
			}
		}
	}
}

func (s *SQLiteStore) Latest(ctx context.Context, key Key, contentHash string) (*models.PublishRecord, error) {
	q := squirrel.Select(recordColumns...).
		From("publish_records").
		Where(squirrel.Eq{"platform": string(key.Platform), "pr_id": key.PRID, "content_hash": contentHash}).
		OrderBy("id DESC").
		Limit(1)
	return s.one(ctx, q)
}

func (s *SQLiteStore) LatestComplete(ctx context.Context, key Key, revision string) (*models.PublishRecord, error) {
	q := squirrel.Select(recordColumns...).
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

func (s *SQLiteStore) Append(ctx context.Context, rec *models.PublishRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	posted, err := json.Marshal(nonNil(rec.PostedComments))
	if err != nil {
		return fmt.Errorf("marshaling posted comments: %w", err)
	}

	query, args, err := squirrel.Insert("publish_records").
		Columns(recordColumns[1:]...).
		Values(string(rec.Platform), rec.PRID, rec.ContentHash, rec.Revision, string(rec.Status),
			rec.SummaryID, string(posted), rec.RunID, rec.CreatedAt.Format(time.RFC3339Nano)).
		ToSql()
	if err != nil {
		return fmt.Errorf("building append record query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing append record query: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading record id: %w", err)
	}
	rec.ID = id
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]models.PublishRecord, error) {
	q := squirrel.Select(recordColumns...).From("publish_records").OrderBy("id DESC")
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
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list records query: %w", err)
	}
	defer rows.Close()

	var out []models.PublishRecord
	for rows.Next() {
		rec, err := scanSQLite(rows)
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) one(ctx context.Context, q squirrel.SelectBuilder) (*models.PublishRecord, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building record query: %w", err)
	}
	rec, err := scanSQLite(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (*models.PublishRecord, error) {
	var (
		rec       models.PublishRecord
		platform  string
		status    string
		posted    string
		createdAt string
	)
	err := row.Scan(&rec.ID, &platform, &rec.PRID, &rec.ContentHash, &rec.Revision, &status,
		&rec.SummaryID, &posted, &rec.RunID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning record: %w", err)
	}
	rec.Platform = models.Platform(platform)
	rec.Status = models.PublishStatus(status)
	if err := json.Unmarshal([]byte(posted), &rec.PostedComments); err != nil {
		return nil, fmt.Errorf("unmarshaling posted comments: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
