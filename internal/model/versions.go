package model

import (
	"database/sql"

	"github.com/fspulse/fspulse/internal/fserr"
	"github.com/fspulse/fspulse/internal/undolog"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// The version table is append-only except for the three operations
// below (plus UpdateAnalysisInPlace and SetFolderCounts, which only
// rewrite versions created in the current scan); confining mutation to
// these keeps V2 and V7 provable.

// InsertFull appends a brand-new version with a complete field set.
// Used by Walk (new item / metadata-changed / resurrection), Sweep
// (deletion), and Analyze (content changed).
func InsertFull(ex Execer, v *ItemVersion) (int64, error) {
	var fileHash, valCode, valError sql.NullString
	var lastHashScan, lastValScan sql.NullInt64
	if v.HasFileData {
		if v.FileHash != "" {
			fileHash = sql.NullString{String: v.FileHash, Valid: true}
		}
		valCode = sql.NullString{String: v.Val.Code(), Valid: true}
		if v.ValError != "" {
			valError = sql.NullString{String: v.ValError, Valid: true}
		}
		if v.LastHashScan != 0 {
			lastHashScan = sql.NullInt64{Int64: v.LastHashScan, Valid: true}
		}
		if v.LastValScan != 0 {
			lastValScan = sql.NullInt64{Int64: v.LastValScan, Valid: true}
		}
	}

	var addCount, modifyCount, deleteCount, unchangedCount sql.NullInt64
	if v.HasFolderData {
		addCount = sql.NullInt64{Int64: v.AddCount, Valid: true}
		modifyCount = sql.NullInt64{Int64: v.ModifyCount, Valid: true}
		deleteCount = sql.NullInt64{Int64: v.DeleteCount, Valid: true}
		unchangedCount = sql.NullInt64{Int64: v.UnchangedCount, Valid: true}
	}

	res, err := ex.Exec(`
		INSERT INTO item_versions
			(item_id, first_scan_id, last_scan_id, is_added, is_deleted,
			 access, mod_date, size,
			 file_hash, val, val_error, last_hash_scan, last_val_scan,
			 add_count, modify_count, delete_count, unchanged_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ItemID, v.FirstScanID, v.LastScanID, v.IsAdded, v.IsDeleted,
		string(v.Access), v.ModDate, v.Size,
		fileHash, valCode, valError, lastHashScan, lastValScan,
		addCount, modifyCount, deleteCount, unchangedCount,
	)
	if err != nil {
		return 0, fserr.Storage(err, "insert version for item %d", v.ItemID)
	}
	return res.LastInsertId()
}

// TouchLastScan advances a version's last_scan_id to the current scan,
// recording an undo entry so rollback can restore the prior value.
// Used by Walk's "metadata unchanged" sub-case.
func TouchLastScan(ex Execer, scanID, versionID, newLastScanID int64) error {
	var oldLastScanID int64
	var oldHashScan, oldValScan sql.NullInt64
	err := ex.QueryRow(`SELECT last_scan_id, last_hash_scan, last_val_scan FROM item_versions WHERE version_id = ?`, versionID).
		Scan(&oldLastScanID, &oldHashScan, &oldValScan)
	if err != nil {
		return fserr.Storage(err, "read version %d before touch", versionID)
	}

	var hashPtr, valPtr *int64
	if oldHashScan.Valid {
		hashPtr = &oldHashScan.Int64
	}
	if oldValScan.Valid {
		valPtr = &oldValScan.Int64
	}
	if err := undolog.Write(ex, scanID, versionID, oldLastScanID, hashPtr, valPtr); err != nil {
		return err
	}

	if _, err := ex.Exec(`UPDATE item_versions SET last_scan_id = ? WHERE version_id = ?`, newLastScanID, versionID); err != nil {
		return fserr.Storage(err, "touch last_scan for version %d", versionID)
	}
	return nil
}

// UpdateBookkeeping advances last_hash_scan and/or last_val_scan after
// an analysis pass that confirmed the prior content (no row insert),
// recording an undo entry for the changed columns.
func UpdateBookkeeping(ex Execer, scanID, versionID int64, newHashScan, newValScan *int64) error {
	var oldLastScanID int64
	var oldHashScan, oldValScan sql.NullInt64
	err := ex.QueryRow(`SELECT last_scan_id, last_hash_scan, last_val_scan FROM item_versions WHERE version_id = ?`, versionID).
		Scan(&oldLastScanID, &oldHashScan, &oldValScan)
	if err != nil {
		return fserr.Storage(err, "read version %d before bookkeeping update", versionID)
	}

	var hashPtr, valPtr *int64
	if oldHashScan.Valid {
		hashPtr = &oldHashScan.Int64
	}
	if oldValScan.Valid {
		valPtr = &oldValScan.Int64
	}
	if err := undolog.Write(ex, scanID, versionID, oldLastScanID, hashPtr, valPtr); err != nil {
		return err
	}

	if newHashScan != nil {
		if _, err := ex.Exec(`UPDATE item_versions SET last_hash_scan = ? WHERE version_id = ?`, *newHashScan, versionID); err != nil {
			return fserr.Storage(err, "update last_hash_scan for version %d", versionID)
		}
	}
	if newValScan != nil {
		if _, err := ex.Exec(`UPDATE item_versions SET last_val_scan = ? WHERE version_id = ?`, *newValScan, versionID); err != nil {
			return fserr.Storage(err, "update last_val_scan for version %d", versionID)
		}
	}
	return nil
}

// UpdateAnalysisInPlace rewrites the hash/validation fields of a
// version that was created during the current scan. Permitted only in
// that case: rollback simply deletes the whole row, so no undo entry
// is required.
func UpdateAnalysisInPlace(ex Execer, versionID int64, hash string, val ValidationState, valError string, access Access, hashScan, valScan int64) error {
	_, err := ex.Exec(`
		UPDATE item_versions
		SET file_hash = ?, val = ?, val_error = ?, access = ?, last_hash_scan = ?, last_val_scan = ?
		WHERE version_id = ?`,
		nullableString(hash), val.Code(), nullableString(valError), string(access), hashScan, valScan, versionID)
	if err != nil {
		return fserr.Storage(err, "update analysis in place for version %d", versionID)
	}
	return nil
}

// SetFolderCounts stores the direct-descendant deltas (§4.1, V5) on a
// folder version created in the current scan.
func SetFolderCounts(ex Execer, versionID, add, modify, del, unchanged int64) error {
	_, err := ex.Exec(`
		UPDATE item_versions
		SET add_count = ?, modify_count = ?, delete_count = ?, unchanged_count = ?
		WHERE version_id = ?`, add, modify, del, unchanged, versionID)
	if err != nil {
		return fserr.Storage(err, "set folder counts for version %d", versionID)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// CurrentVersion loads the version with the greatest first_scan_id not
// exceeding atOrBeforeScanID for a given item ("current" per the
// glossary's "alive version" definition generalised to any scan id).
func CurrentVersion(ex Execer, itemID, atOrBeforeScanID int64) (*ItemVersion, error) {
	row := ex.QueryRow(`
		SELECT version_id, item_id, first_scan_id, last_scan_id, is_added, is_deleted,
		       access, mod_date, size, file_hash, val, val_error, last_hash_scan, last_val_scan,
		       add_count, modify_count, delete_count, unchanged_count
		FROM item_versions
		WHERE item_id = ? AND first_scan_id <= ?
		ORDER BY first_scan_id DESC LIMIT 1`, itemID, atOrBeforeScanID)
	return scanVersionRow(row)
}

func scanVersionRow(row *sql.Row) (*ItemVersion, error) {
	var v ItemVersion
	var access string
	var valCode sql.NullString
	var fileHash, valError sql.NullString
	var lastHashScan, lastValScan sql.NullInt64
	var addCount, modifyCount, deleteCount, unchangedCount sql.NullInt64

	err := row.Scan(
		&v.VersionID, &v.ItemID, &v.FirstScanID, &v.LastScanID, &v.IsAdded, &v.IsDeleted,
		&access, &v.ModDate, &v.Size, &fileHash, &valCode, &valError, &lastHashScan, &lastValScan,
		&addCount, &modifyCount, &deleteCount, &unchangedCount,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fserr.Storage(err, "scan version row")
	}

	v.Access = Access(access)
	if valCode.Valid {
		v.HasFileData = true
		v.Val = ParseValidationCode(valCode.String)
		v.FileHash = fileHash.String
		v.ValError = valError.String
		v.LastHashScan = lastHashScan.Int64
		v.LastValScan = lastValScan.Int64
	}
	if addCount.Valid {
		v.HasFolderData = true
		v.AddCount = addCount.Int64
		v.ModifyCount = modifyCount.Int64
		v.DeleteCount = deleteCount.Int64
		v.UnchangedCount = unchangedCount.Int64
	}
	return &v, nil
}
