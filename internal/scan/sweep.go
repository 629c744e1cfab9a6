package scan

import (
	"github.com/fspulse/fspulse/internal/fserr"
	"github.com/fspulse/fspulse/internal/store"
)

// Sweep implements Phase Sweep (§4.1): a single relational statement
// per root that appends a deletion version for every item whose
// current version wasn't re-observed by Walk in this scan. No
// per-row undo entries are needed, since these are brand-new rows
// that rollback simply deletes.
func Sweep(db *store.DB, rootID, scanID int64) error {
	_, err := db.Exec(`
		INSERT INTO item_versions
			(item_id, first_scan_id, last_scan_id, is_added, is_deleted,
			 access, mod_date, size,
			 file_hash, val, val_error, last_hash_scan, last_val_scan,
			 add_count, modify_count, delete_count, unchanged_count)
		SELECT iv.item_id, ?, ?, 0, 1,
		       iv.access, iv.mod_date, iv.size,
		       CASE WHEN it.item_type = 'File' THEN iv.file_hash END,
		       CASE WHEN it.item_type = 'File' THEN iv.val END,
		       CASE WHEN it.item_type = 'File' THEN iv.val_error END,
		       CASE WHEN it.item_type = 'File' THEN iv.last_hash_scan END,
		       CASE WHEN it.item_type = 'File' THEN iv.last_val_scan END,
		       CASE WHEN it.item_type = 'Directory' THEN 0 END,
		       CASE WHEN it.item_type = 'Directory' THEN 0 END,
		       CASE WHEN it.item_type = 'Directory' THEN 0 END,
		       CASE WHEN it.item_type = 'Directory' THEN 0 END
		FROM item_versions iv
		JOIN items it ON it.item_id = iv.item_id
		WHERE it.root_id = ?
		  AND iv.is_deleted = 0
		  AND iv.last_scan_id < ?
		  AND iv.first_scan_id = (
		      SELECT MAX(v2.first_scan_id) FROM item_versions v2 WHERE v2.item_id = iv.item_id
		  )`,
		scanID, scanID, rootID, scanID)
	if err != nil {
		return fserr.Storage(err, "sweep root %d for scan %d", rootID, scanID)
	}
	return nil
}
