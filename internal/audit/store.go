// Package audit records admin-gated dispatch commands (add/remove/stop/
// shutdown) to a small append-only SQLite ledger, so a restarted process
// can show provenance of who tore down what. It never gates a command —
// spec.md's Non-goal that "authoritative mediation of admin commands"
// stays an external concern is untouched; this package only observes.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// migrations is append-only, mirroring the teacher's own store package
// convention: each entry runs exactly once, tracked in schema_migrations.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`,
	`CREATE TABLE IF NOT EXISTS admin_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at INTEGER NOT NULL,
		username TEXT NOT NULL,
		verb TEXT NOT NULL,
		params TEXT NOT NULL
	);`,
}

// Store wraps the ledger's database handle.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path and applies any
// pending migrations. An empty path opens an in-process, non-persistent
// ledger (":memory:"), useful for tests and for servers run without an
// admin audit requirement.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	version := -1 // stays -1 on a fresh database, where schema_migrations does not exist yet
	_ = s.db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_migrations`).Scan(&version)
	for i, stmt := range migrations {
		if i <= version {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO schema_migrations (version) VALUES (?)`, len(migrations)-1); err != nil {
		return err
	}
	return nil
}

// Record appends one admin command to the ledger. params is stored as the
// wire codec's original chunk list joined with "|" — human-readable, not
// meant for programmatic re-parsing.
func (s *Store) Record(username, verb string, params []string) error {
	joined := ""
	for i, p := range params {
		if i > 0 {
			joined += "|"
		}
		joined += p
	}
	_, err := s.db.Exec(
		`INSERT INTO admin_log (at, username, verb, params) VALUES (?, ?, ?, ?)`,
		time.Now().Unix(), username, verb, joined,
	)
	return err
}

// Entry is one recorded admin action.
type Entry struct {
	At       time.Time
	Username string
	Verb     string
	Params   string
}

// Recent returns the last n ledger entries, most recent first.
func (s *Store) Recent(n int) ([]Entry, error) {
	rows, err := s.db.Query(`SELECT at, username, verb, params FROM admin_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&at, &e.Username, &e.Verb, &e.Params); err != nil {
			return nil, err
		}
		e.At = time.Unix(at, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
