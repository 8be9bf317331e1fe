package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"strings"
	"time"

	"github.com/maaaruch/tg-pod-poll-bot/internal/domain"
)

//go:embed schema.sql
var embeddedSchema embed.FS

// SQLiteStore keeps polls as JSON blobs in a single key-value table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) InitSchema() error {
	b, err := embeddedSchema.ReadFile("schema.sql")
	if err != nil {
		return err
	}

	schema := strings.TrimSpace(string(b))
	_, err = s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, version, data, updated_at FROM polls WHERE key = ?`, key)
	return scanRecord(row)
}

// Latest returns the most recently written poll.
func (s *SQLiteStore) Latest(ctx context.Context) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT key, version, data, updated_at
FROM polls
ORDER BY updated_at DESC, rowid DESC
LIMIT 1
`)
	return scanRecord(row)
}

// Put writes the poll under key. Version 0 creates the entry; any other
// value must match the stored version. Returns the new version.
func (s *SQLiteStore) Put(ctx context.Context, key string, p domain.Poll, version int64) (int64, error) {
	data, err := encodePoll(p)
	if err != nil {
		return 0, err
	}
	now := s.now().UTC()

	var res sql.Result
	if version == 0 {
		res, err = s.db.ExecContext(ctx, `
INSERT INTO polls(key, poll_id, version, data, updated_at)
VALUES (?, ?, 1, ?, ?)
ON CONFLICT(key) DO NOTHING
`, key, p.ID, data, now)
	} else {
		res, err = s.db.ExecContext(ctx, `
UPDATE polls
SET poll_id = ?, version = version + 1, data = ?, updated_at = ?
WHERE key = ? AND version = ?
`, p.ID, data, now, key, version)
	}
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrConflict
	}
	return version + 1, nil
}

func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM polls`)
	return err
}

func scanRecord(row *sql.Row) (Record, error) {
	var (
		r    Record
		data []byte
	)
	if err := row.Scan(&r.Key, &r.Version, &data, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}

	p, err := decodePoll(data)
	if err != nil {
		return Record{}, err
	}
	r.Poll = p
	return r, nil
}
