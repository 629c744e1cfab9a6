// Package store is the relational store (C1): a durable SQLite-backed
// home for every entity in the data model, the natural_path collation
// required by §6.1, and the small meta key-value table used for pause
// state. The schema version is recorded in schema_migrations.
package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/mattn/go-sqlite3"

	"github.com/fspulse/fspulse/internal/fserr"
)

// driverName is registered once at package init with the natural_path
// collation attached via ConnectHook, the same hook point
// mattn/go-sqlite3 exposes for registering custom collations per
// connection.
const driverName = "fspulse-sqlite3"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterCollation("natural_path", naturalPathCollate)
		},
	})
}

// DB wraps *sql.DB with the store's connection settings. SQLite permits
// only a single writer, so, as in the teacher's database wrapper, the
// pool is pinned to one connection to avoid SQLITE_BUSY thrashing
// between the scan task and the selection poll.
type DB struct {
	*sql.DB
}

// Open opens (creating if necessary) the SQLite file at path, applies
// pragma tuning, and runs pending migrations.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fserr.UserInput("database path must not be empty")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fserr.Storage(err, "resolve database path %q", path)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", abs)

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fserr.Storage(err, "open database %q", abs)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fserr.Storage(err, "ping database %q", abs)
	}

	db := &DB{DB: sqlDB}

	if err := db.applyPragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	if err := db.Migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) applyPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-32000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fserr.Storage(err, "apply pragma %q", p)
		}
	}
	return nil
}

// Compact runs the maintenance pass backing compact_store(): VACUUM
// reclaims free pages, ANALYZE refreshes the query planner's
// statistics.
func (db *DB) Compact() error {
	if _, err := db.Exec("VACUUM"); err != nil {
		return fserr.Storage(err, "vacuum database")
	}
	if _, err := db.Exec("ANALYZE"); err != nil {
		return fserr.Storage(err, "analyze database")
	}
	return nil
}

// MetaGet reads a single value from the meta key-value table, returning
// ("", false, nil) when the key is unset.
func (db *DB) MetaGet(key string) (string, bool, error) {
	var val string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&val)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fserr.Storage(err, "read meta key %q", key)
	}
	return val, true, nil
}

// MetaSet upserts a value into the meta key-value table.
func (db *DB) MetaSet(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fserr.Storage(err, "write meta key %q", key)
	}
	return nil
}

// naturalPathCollate implements the natural_path collation: a
// case-insensitive, numeric-aware ordering of path segments that
// respects OS path separators, so that a directory sorts before its
// children and "proj" sorts before "proj-A" while "file2" sorts before
// "file10".
func naturalPathCollate(a, b string) int {
	sa := splitPathSegments(a)
	sb := splitPathSegments(b)

	for i := 0; i < len(sa) && i < len(sb); i++ {
		if c := compareSegment(sa[i], sb[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(sa) < len(sb):
		return -1
	case len(sa) > len(sb):
		return 1
	default:
		return 0
	}
}

func splitPathSegments(p string) []string {
	return strings.Split(p, "/")
}

// compareSegment compares two path segments case-insensitively,
// treating runs of digits as numbers so "file2" < "file10", and
// ensuring a separator boundary sorts before any further character so a
// parent directory name is ordered before "parent-suffix" siblings.
func compareSegment(a, b string) int {
	ia, ib := 0, 0
	for ia < len(a) && ib < len(b) {
		ca, cb := rune(a[ia]), rune(b[ib])

		if unicode.IsDigit(ca) && unicode.IsDigit(cb) {
			na, ja := scanNumber(a, ia)
			nb, jb := scanNumber(b, ib)
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			ia, ib = ja, jb
			continue
		}

		lca, lcb := unicode.ToLower(ca), unicode.ToLower(cb)
		if lca != lcb {
			if lca < lcb {
				return -1
			}
			return 1
		}
		ia++
		ib++
	}
	switch {
	case len(a)-ia < len(b)-ib:
		return -1
	case len(a)-ia > len(b)-ib:
		return 1
	default:
		return 0
	}
}

func scanNumber(s string, i int) (value int64, next int) {
	for i < len(s) && unicode.IsDigit(rune(s[i])) {
		value = value*10 + int64(s[i]-'0')
		i++
	}
	return value, i
}
