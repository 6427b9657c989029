package dedupe

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/luhtaf/blobseen/internal/blobid"

	_ "modernc.org/sqlite"
)

type SQLite struct {
	db *sql.DB
}

type Record struct {
	ID        blobid.ID
	Path      string
	Size      int64
	MIME      string
	ObjectKey string
	FirstSeen time.Time
	LastSeen  time.Time
	Count     int64
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS blobs (
  blob_id TEXT PRIMARY KEY,
  path TEXT,
  size INTEGER,
  mime TEXT,
  object_key TEXT,
  first_seen TEXT,
  last_seen TEXT,
  count INTEGER DEFAULT 1
);`); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Seen(ctx context.Context, id blobid.ID) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM blobs WHERE blob_id=?`, id.String())
	var one int
	switch err := row.Scan(&one); err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, err
	}
}

// Mark upserts rec. A repeated id bumps count and last_seen and keeps the
// first path and object key. Zero FirstSeen/LastSeen mean now.
func (s *SQLite) Mark(ctx context.Context, rec Record) error {
	now := time.Now().UTC()
	first, last := rec.FirstSeen, rec.LastSeen
	if first.IsZero() {
		first = now
	}
	if last.IsZero() {
		last = now
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO blobs(blob_id, path, size, mime, object_key, first_seen, last_seen, count)
VALUES(?,?,?,?,?,?,?,1)
ON CONFLICT(blob_id) DO UPDATE SET last_seen=MAX(last_seen, excluded.last_seen), count=count+1,
  object_key=CASE WHEN object_key='' THEN excluded.object_key ELSE object_key END;`,
		rec.ID.String(), rec.Path, rec.Size, rec.MIME, rec.ObjectKey,
		first.UTC().Format(time.RFC3339), last.UTC().Format(time.RFC3339))
	return err
}

// Touch bumps count and last_seen of an already catalogued id. It reports
// false, without inserting, when the id is unknown.
func (s *SQLite) Touch(ctx context.Context, id blobid.ID) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `UPDATE blobs SET last_seen=?, count=count+1 WHERE blob_id=?`, now, id.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get loads the record for id. ok is false when the id is unknown.
func (s *SQLite) Get(ctx context.Context, id blobid.ID) (rec Record, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT path, size, mime, object_key, first_seen, last_seen, count FROM blobs WHERE blob_id=?`, id.String())
	var first, last string
	switch err = row.Scan(&rec.Path, &rec.Size, &rec.MIME, &rec.ObjectKey, &first, &last, &rec.Count); err {
	case nil:
	case sql.ErrNoRows:
		return Record{}, false, nil
	default:
		return Record{}, false, err
	}
	rec.ID = id
	if rec.FirstSeen, err = time.Parse(time.RFC3339, first); err != nil {
		return Record{}, false, fmt.Errorf("blob %s first_seen: %w", id, err)
	}
	if rec.LastSeen, err = time.Parse(time.RFC3339, last); err != nil {
		return Record{}, false, fmt.Errorf("blob %s last_seen: %w", id, err)
	}
	return rec, true, nil
}

// Load marks every catalogued id in mem and returns how many rows were read.
func (s *SQLite) Load(ctx context.Context, mem *InMemory) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT blob_id FROM blobs`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return n, err
		}
		id, err := blobid.Parse(hex)
		if err != nil {
			return n, fmt.Errorf("catalog row %d: %w", n, err)
		}
		mem.Mark(id)
		n++
	}
	return n, rows.Err()
}

func (s *SQLite) GC(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, nil
	}
	threshold := time.Now().AddDate(0, 0, -olderThanDays).UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE last_seen < ?`, threshold)
	if err != nil {
		return 0, err
	}
	rows, _ := res.RowsAffected()
	return rows, nil
}
