package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS filings (
	accession  TEXT PRIMARY KEY,
	filed_date TEXT NOT NULL,
	doc        BLOB NOT NULL,
	fetched_at INTEGER NOT NULL
);`

// Store caches raw filing documents by accession number so repeated
// runs do not re-download (or re-pay for) the same filings.
type Store struct {
	db *sql.DB
}

// Open creates the database and schema if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the cached document for an accession if it is younger
// than maxAge. A zero maxAge never expires.
func (s *Store) Get(accession string, maxAge time.Duration) ([]byte, bool, error) {
	var doc []byte
	var fetchedAt int64
	err := s.db.QueryRow(
		`SELECT doc, fetched_at FROM filings WHERE accession = ?`, accession,
	).Scan(&doc, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s: %w", accession, err)
	}
	if maxAge > 0 && time.Since(time.Unix(fetchedAt, 0)) > maxAge {
		return nil, false, nil
	}
	return doc, true, nil
}

// Put stores or refreshes a filing document.
func (s *Store) Put(accession string, filedDate time.Time, doc []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO filings (accession, filed_date, doc, fetched_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(accession) DO UPDATE SET
		   filed_date = excluded.filed_date,
		   doc        = excluded.doc,
		   fetched_at = excluded.fetched_at`,
		accession, filedDate.Format("2006-01-02"), doc, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: put %s: %w", accession, err)
	}
	return nil
}

// FiledDate returns the stored filed date for an accession.
func (s *Store) FiledDate(accession string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT filed_date FROM filings WHERE accession = ?`, accession).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, false, nil
	}
	return d, true, nil
}
