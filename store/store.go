// Package store keeps the mapping between LMS identities and WIMS
// identities in a local sqlite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/russross/meddler"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an insert hits a uniqueness constraint.
	ErrConflict = errors.New("already exists")
)

const schema = `
CREATE TABLE IF NOT EXISTS lms (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	guid          TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	url           TEXT NOT NULL,
	oauth_key     TEXT NOT NULL UNIQUE,
	oauth_secret  TEXT NOT NULL,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS wims_servers (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	name             TEXT NOT NULL,
	url              TEXT NOT NULL UNIQUE,
	ident            TEXT NOT NULL,
	passwd           TEXT NOT NULL,
	rclass           TEXT NOT NULL,
	class_limit      INTEGER NOT NULL,
	expiration_days  INTEGER NOT NULL,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS wims_server_lms (
	wims_server_id  INTEGER NOT NULL REFERENCES wims_servers (id) ON DELETE CASCADE,
	lms_id          INTEGER NOT NULL REFERENCES lms (id) ON DELETE CASCADE,
	PRIMARY KEY (wims_server_id, lms_id)
);

CREATE TABLE IF NOT EXISTS class_mappings (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	lms_id           INTEGER NOT NULL REFERENCES lms (id) ON DELETE CASCADE,
	lms_context_id   TEXT NOT NULL,
	wims_server_id   INTEGER NOT NULL REFERENCES wims_servers (id) ON DELETE CASCADE,
	remote_class_id  TEXT NOT NULL,
	name             TEXT NOT NULL,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL,
	UNIQUE (wims_server_id, lms_id, lms_context_id),
	UNIQUE (wims_server_id, remote_class_id)
);

CREATE TABLE IF NOT EXISTS user_mappings (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	class_mapping_id  INTEGER NOT NULL REFERENCES class_mappings (id) ON DELETE CASCADE,
	lms_user_id       TEXT,
	remote_username   TEXT NOT NULL,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	UNIQUE (class_mapping_id, remote_username),
	UNIQUE (class_mapping_id, lms_user_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS user_mappings_one_supervisor
	ON user_mappings (class_mapping_id) WHERE lms_user_id IS NULL;

CREATE TABLE IF NOT EXISTS activity_mappings (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	class_mapping_id      INTEGER NOT NULL REFERENCES class_mappings (id) ON DELETE CASCADE,
	kind                  TEXT NOT NULL CHECK (kind IN ('sheet', 'exam')),
	remote_activity_id    INTEGER NOT NULL,
	lms_resource_link_id  TEXT NOT NULL,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL,
	UNIQUE (class_mapping_id, remote_activity_id, kind)
);

CREATE TABLE IF NOT EXISTS grade_links (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	user_mapping_id       INTEGER NOT NULL REFERENCES user_mappings (id) ON DELETE CASCADE,
	activity_mapping_id   INTEGER NOT NULL REFERENCES activity_mappings (id) ON DELETE CASCADE,
	outcome_sourcedid     TEXT NOT NULL,
	outcome_callback_url  TEXT NOT NULL,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL,
	UNIQUE (user_mapping_id, activity_mapping_id)
);
`

// Store is the mapping database. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the sqlite database at path and makes
// sure the schema exists. The path ":memory:" gives a private database
// that lives as long as the Store.
func Open(path string) (*Store, error) {
	meddler.Default = meddler.SQLite

	options :=
		"?" + "_busy_timeout=10000" +
			"&" + "_cache_size=-20000" +
			"&" + "_foreign_keys=ON" +
			"&" + "_journal_mode=WAL" +
			"&" + "_synchronous=NORMAL" +
			"&" + "_temp_store=MEMORY"
	db, err := sql.Open("sqlite3", path+options)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	if path == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema in %s: %w", path, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// IsUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint. meddler flattens driver errors into strings, so the message
// is checked when the typed error is gone.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed")
}

// translate maps driver-level outcomes onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (s *Store) queryRow(dst interface{}, query string, args ...interface{}) error {
	return translate(meddler.QueryRow(s.db, dst, query, args...))
}

func (s *Store) queryAll(dst interface{}, query string, args ...interface{}) error {
	return translate(meddler.QueryAll(s.db, dst, query, args...))
}

func (s *Store) insert(table string, src interface{}) error {
	return translate(meddler.Insert(s.db, table, src))
}

func (s *Store) update(table string, src interface{}) error {
	return translate(meddler.Update(s.db, table, src))
}

func (s *Store) deleteByID(table string, id int64) error {
	res, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func addWhereEq(where string, args []interface{}, label string, value interface{}) (string, []interface{}) {
	if where == "" {
		where = " WHERE"
	} else {
		where += " AND"
	}
	args = append(args, value)
	where += fmt.Sprintf(" %s = ?", label)
	return where, args
}
