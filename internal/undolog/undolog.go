// Package undolog implements the per-scan journal of pre-scan field
// values (C2): written whenever Walk touches a version without
// replacing it, drained and applied on rollback, cleared on normal
// completion.
package undolog

import (
	"database/sql"

	"github.com/fspulse/fspulse/internal/fserr"
)

// Entry is one recorded pre-scan value. Kept local to this package
// (rather than in internal/model) since model's version-maintenance
// operations are themselves a caller of Write.
type Entry struct {
	UndoID          int64
	VersionID       int64
	OldLastScanID   int64
	OldLastHashScan *int64
	OldLastValScan  *int64
}

// Execer is satisfied by both *sql.DB and *sql.Tx, so callers can write
// undo entries either standalone or inside a larger transaction.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Write appends an undo entry recording the pre-scan values a
// touch_last_scan or update_bookkeeping operation is about to
// overwrite.
func Write(ex Execer, scanID int64, versionID int64, oldLastScanID int64, oldLastHashScan, oldLastValScan *int64) error {
	_, err := ex.Exec(`
		INSERT INTO undo_log (scan_id, version_id, old_last_scan_id, old_last_hash_scan, old_last_val_scan)
		VALUES (?, ?, ?, ?, ?)`,
		scanID, versionID, oldLastScanID, oldLastHashScan, oldLastValScan)
	if err != nil {
		return fserr.Storage(err, "write undo entry for version %d", versionID)
	}
	return nil
}

// Entries returns every undo entry recorded for a scan, in the order
// they were written.
func Entries(ex Execer, scanID int64) ([]Entry, error) {
	rows, err := ex.Query(`
		SELECT undo_id, version_id, old_last_scan_id, old_last_hash_scan, old_last_val_scan
		FROM undo_log WHERE scan_id = ? ORDER BY undo_id ASC`, scanID)
	if err != nil {
		return nil, fserr.Storage(err, "read undo log for scan %d", scanID)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var oldHash, oldVal sql.NullInt64
		if err := rows.Scan(&e.UndoID, &e.VersionID, &e.OldLastScanID, &oldHash, &oldVal); err != nil {
			return nil, fserr.Storage(err, "scan undo log row")
		}
		if oldHash.Valid {
			v := oldHash.Int64
			e.OldLastHashScan = &v
		}
		if oldVal.Valid {
			v := oldVal.Int64
			e.OldLastValScan = &v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fserr.Storage(err, "iterate undo log for scan %d", scanID)
	}
	return entries, nil
}

// IsEmpty reports whether a scan's undo log has no entries, used by
// tests verifying P3/L3.
func IsEmpty(ex Execer, scanID int64) (bool, error) {
	entries, err := Entries(ex, scanID)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// Clear discards every undo entry for a scan, called on normal
// Completed transition since a completed scan's mutations are final.
func Clear(ex Execer, scanID int64) error {
	_, err := ex.Exec(`DELETE FROM undo_log WHERE scan_id = ?`, scanID)
	if err != nil {
		return fserr.Storage(err, "clear undo log for scan %d", scanID)
	}
	return nil
}

// RestoreIfTouched restores versionID's last_scan_id from the most
// recent undo entry recorded against it in this scan (if any) and
// removes that entry. Called when a version that was merely touched
// earlier in a scan is about to be superseded by a freshly inserted
// version, so the superseded row doesn't keep claiming last_scan_id =
// the current scan once it is no longer the item's current version.
func RestoreIfTouched(ex Execer, scanID, versionID int64) error {
	var undoID, oldLastScanID int64
	err := ex.QueryRow(`
		SELECT undo_id, old_last_scan_id FROM undo_log
		WHERE scan_id = ? AND version_id = ? ORDER BY undo_id DESC LIMIT 1`, scanID, versionID).
		Scan(&undoID, &oldLastScanID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fserr.Storage(err, "read undo entry for version %d", versionID)
	}

	if _, err := ex.Exec(`UPDATE item_versions SET last_scan_id = ? WHERE version_id = ?`, oldLastScanID, versionID); err != nil {
		return fserr.Storage(err, "restore touched last_scan for version %d", versionID)
	}
	if _, err := ex.Exec(`DELETE FROM undo_log WHERE undo_id = ?`, undoID); err != nil {
		return fserr.Storage(err, "delete superseded undo entry %d", undoID)
	}
	return nil
}

// Restore applies every undo entry for a scan, in reverse write order,
// setting each version's last_scan_id (and, where recorded,
// last_hash_scan/last_val_scan) back to its pre-scan value. Used by the
// Stopped/Error terminal transitions (§4.1) before deleting the scan's
// newly inserted rows.
func Restore(tx *sql.Tx, scanID int64) error {
	entries, err := Entries(tx, scanID)
	if err != nil {
		return err
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		_, err := tx.Exec(`
			UPDATE item_versions
			SET last_scan_id = ?,
			    last_hash_scan = COALESCE(?, last_hash_scan),
			    last_val_scan = COALESCE(?, last_val_scan)
			WHERE version_id = ?`,
			e.OldLastScanID, e.OldLastHashScan, e.OldLastValScan, e.VersionID)
		if err != nil {
			return fserr.Storage(err, "restore undo entry for version %d", e.VersionID)
		}
	}

	return Clear(tx, scanID)
}
