package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maaaruch/tg-pod-poll-bot/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS polls (
    key        TEXT PRIMARY KEY,
    poll_id    TEXT NOT NULL,
    version    BIGINT NOT NULL,
    data       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_polls_updated_at ON polls(updated_at);
`

// PostgresStore is the PostgreSQL flavour of the poll table, for deployments
// that run more than one bot process against the same round.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPool parses dsn and returns a pinged pool.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, postgresSchema)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Record, error) {
	row := s.db.QueryRow(ctx, `SELECT key, version, data, updated_at FROM polls WHERE key = $1`, key)
	return scanPgRecord(row)
}

func (s *PostgresStore) Latest(ctx context.Context) (Record, error) {
	row := s.db.QueryRow(ctx, `SELECT key, version, data, updated_at FROM polls ORDER BY updated_at DESC LIMIT 1`)
	return scanPgRecord(row)
}

func (s *PostgresStore) Put(ctx context.Context, key string, p domain.Poll, version int64) (int64, error) {
	data, err := encodePoll(p)
	if err != nil {
		return 0, err
	}

	var sql string
	args := []any{key, p.ID, data}
	if version == 0 {
		sql = `INSERT INTO polls (key, poll_id, version, data, updated_at)
		       VALUES ($1, $2, 1, $3, now())
		       ON CONFLICT (key) DO NOTHING`
	} else {
		sql = `UPDATE polls
		       SET poll_id = $2, data = $3, version = version + 1, updated_at = now()
		       WHERE key = $1 AND version = $4`
		args = append(args, version)
	}

	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("put poll: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrConflict
	}
	return version + 1, nil
}

func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM polls`); err != nil {
		return fmt.Errorf("delete polls: %w", err)
	}
	return nil
}

func scanPgRecord(row pgx.Row) (Record, error) {
	var (
		r    Record
		data []byte
	)
	if err := row.Scan(&r.Key, &r.Version, &data, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get poll: %w", err)
	}

	p, err := decodePoll(data)
	if err != nil {
		return Record{}, err
	}
	r.Poll = p
	return r, nil
}
