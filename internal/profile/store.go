package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a named profile does not exist.
var ErrNotFound = errors.New("profile not found")

// Store persists profiles in SQLite (modernc.org/sqlite driver, CGO-free).
// Profiles are stored as JSON documents keyed by name; the active profile is
// a single-row pointer so activation survives panel restarts.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the profile database at path. Use ":memory:" for
// tests.
func Open(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &Store{db: d}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS profiles(
			name TEXT PRIMARY KEY,
			doc TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS active_profile(
			id INTEGER PRIMARY KEY CHECK (id = 1),
			name TEXT NOT NULL REFERENCES profiles(name)
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save inserts or replaces a profile by name.
func (s *Store) Save(ctx context.Context, p Profile) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles(name, doc, updated_at)
		VALUES(?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			doc=excluded.doc,
			updated_at=excluded.updated_at;`,
		p.Name, string(doc), time.Now().UTC())
	return err
}

// Get returns the profile with the given name.
func (s *Store) Get(ctx context.Context, name string) (Profile, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM profiles WHERE name=?;`, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return Profile{}, fmt.Errorf("decode profile %s: %w", name, err)
	}
	return p, nil
}

// List returns all profiles ordered by name.
func (s *Store) List(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM profiles ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]Profile, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p Profile
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes a profile. Deleting the active profile clears the active
// pointer as well.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE name=?;`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM active_profile WHERE name=?;`, name)
	return nil
}

// SetActive marks name as the active profile. The profile must exist.
func (s *Store) SetActive(ctx context.Context, name string) error {
	if _, err := s.Get(ctx, name); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO active_profile(id, name) VALUES(1, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name;`, name)
	return err
}

// Active returns the currently active profile, or ErrNotFound when none has
// been activated yet.
func (s *Store) Active(ctx context.Context) (Profile, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM active_profile WHERE id=1;`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, fmt.Errorf("%w: no active profile", ErrNotFound)
	}
	if err != nil {
		return Profile{}, err
	}
	return s.Get(ctx, name)
}
