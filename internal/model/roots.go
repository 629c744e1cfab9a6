package model

import (
	"database/sql"
	"strings"

	"github.com/fspulse/fspulse/internal/fserr"
)

// InsertRoot registers a new scan boundary. The caller is responsible
// for canonicalising path first (§6.2: "canonicalised on root
// registration and stored verbatim thereafter").
func InsertRoot(ex Execer, path string) (*Root, error) {
	res, err := ex.Exec(`INSERT INTO roots (root_path) VALUES (?)`, path)
	if err != nil {
		if isUniqueConstraint(err) {
			return nil, fserr.Storage(err, "root %q is already registered", path)
		}
		return nil, fserr.Storage(err, "insert root %q", path)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fserr.Storage(err, "read inserted root id")
	}
	return &Root{RootID: id, RootPath: path}, nil
}

// GetRoot loads a root by id, returning nil if it doesn't exist.
func GetRoot(ex Execer, rootID int64) (*Root, error) {
	var r Root
	err := ex.QueryRow(`SELECT root_id, root_path FROM roots WHERE root_id = ?`, rootID).Scan(&r.RootID, &r.RootPath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fserr.Storage(err, "read root %d", rootID)
	}
	return &r, nil
}

// ListRoots returns every registered root ordered by id.
func ListRoots(ex Execer) ([]Root, error) {
	rows, err := ex.Query(`SELECT root_id, root_path FROM roots ORDER BY root_id ASC`)
	if err != nil {
		return nil, fserr.Storage(err, "list roots")
	}
	defer rows.Close()

	var out []Root
	for rows.Next() {
		var r Root
		if err := rows.Scan(&r.RootID, &r.RootPath); err != nil {
			return nil, fserr.Storage(err, "scan root row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRoot removes a root and, via ON DELETE CASCADE, every item,
// version, scan, undo entry, task, and schedule that references it.
func DeleteRoot(ex Execer, rootID int64) error {
	res, err := ex.Exec(`DELETE FROM roots WHERE root_id = ?`, rootID)
	if err != nil {
		return fserr.Storage(err, "delete root %d", rootID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fserr.Storage(err, "read rows affected deleting root %d", rootID)
	}
	if n == 0 {
		return fserr.UserInput("root %d does not exist", rootID)
	}
	return nil
}

func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed")
}
