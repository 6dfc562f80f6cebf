// Package keywords persists the user-maintained keyword list and the
// monitor's active flag in SQLite, and exposes a briefly-cached read-only
// Source for the matching pipeline.
package keywords

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/chatwatch/dbopen"
	"github.com/hazyhaar/chatwatch/idgen"
)

// Schema creates the keyword store tables.
const Schema = `
CREATE TABLE IF NOT EXISTS keywords (
	id         TEXT PRIMARY KEY,
	phrase     TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// ErrNotFound is returned when a keyword ID does not exist.
var ErrNotFound = errors.New("keywords: not found")

// ErrEmptyPhrase is returned when an added phrase is empty or whitespace
// only. An empty phrase can never match, so the row would just be dead
// weight.
var ErrEmptyPhrase = errors.New("keywords: empty phrase")

// Keyword is one stored entry. A phrase containing spaces is a combined
// keyword: every token must appear for a match.
type Keyword struct {
	ID        string    `json:"id"`
	Phrase    string    `json:"phrase"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the SQLite-backed keyword store.
type Store struct {
	DB    *sql.DB
	newID idgen.Generator
}

// Open opens (or creates) the store at path with production pragmas.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("keywords: open: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("keywords: schema: %w", err)
	}
	return &Store{DB: db, newID: idgen.Prefixed("kw_", idgen.UUIDv7())}, nil
}

// New wraps an already-open database (tests, shared handles). The schema
// must have been applied.
func New(db *sql.DB) *Store {
	return &Store{DB: db, newID: idgen.Prefixed("kw_", idgen.UUIDv7())}
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.DB.Close() }

// Add inserts a keyword phrase, trimmed. Empty phrases and duplicates
// are errors.
func (s *Store) Add(ctx context.Context, phrase string) (*Keyword, error) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return nil, ErrEmptyPhrase
	}
	kw := &Keyword{ID: s.newID(), Phrase: phrase, CreatedAt: time.Now()}
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO keywords (id, phrase, created_at) VALUES (?,?,?)`,
		kw.ID, kw.Phrase, kw.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("keywords: add: %w", err)
	}
	return kw, nil
}

// List returns all keywords in insertion order.
func (s *Store) List(ctx context.Context) ([]*Keyword, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, phrase, created_at FROM keywords ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("keywords: list: %w", err)
	}
	defer rows.Close()

	var out []*Keyword
	for rows.Next() {
		var kw Keyword
		var created int64
		if err := rows.Scan(&kw.ID, &kw.Phrase, &created); err != nil {
			return nil, fmt.Errorf("keywords: scan: %w", err)
		}
		kw.CreatedAt = time.UnixMilli(created)
		out = append(out, &kw)
	}
	return out, rows.Err()
}

// Phrases returns just the phrase strings, in insertion order.
func (s *Store) Phrases(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT phrase FROM keywords ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("keywords: phrases: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("keywords: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes a keyword by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := dbopen.Exec(ctx, s.DB, `DELETE FROM keywords WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("keywords: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Active reads the persisted active flag. Missing means false.
func (s *Store) Active(ctx context.Context) (bool, error) {
	var v string
	err := s.DB.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = 'active'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("keywords: active: %w", err)
	}
	return v == "1", nil
}

// SetActive persists the active flag.
func (s *Store) SetActive(ctx context.Context, active bool) error {
	v := "0"
	if active {
		v = "1"
	}
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO settings (key, value) VALUES ('active', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, v)
	if err != nil {
		return fmt.Errorf("keywords: set active: %w", err)
	}
	return nil
}
