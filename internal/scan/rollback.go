package scan

import (
	"github.com/fspulse/fspulse/internal/fserr"
	"github.com/fspulse/fspulse/internal/model"
	"github.com/fspulse/fspulse/internal/store"
	"github.com/fspulse/fspulse/internal/undolog"
)

// Rollback implements the Stopped/Error terminal transitions (§4.1):
// drain the undo log restoring every touched version's pre-scan
// values, delete every version this scan inserted, delete any
// identity row this scan created that's now orphaned, and set the
// scan's final state — all inside one serialisable transaction so
// rollback is atomic with respect to external observers.
func Rollback(db *store.DB, scanID int64, terminal model.ScanState, errMessage string) error {
	tx, err := db.Begin()
	if err != nil {
		return fserr.Storage(err, "begin rollback tx for scan %d", scanID)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := undolog.Restore(tx, scanID); err != nil {
		return err
	}

	rows, err := tx.Query(`SELECT DISTINCT item_id FROM item_versions WHERE first_scan_id = ?`, scanID)
	if err != nil {
		return fserr.Storage(err, "find items touched by scan %d", scanID)
	}
	var itemIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fserr.Storage(err, "scan touched-item row")
		}
		itemIDs = append(itemIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fserr.Storage(err, "iterate touched-item rows")
	}
	rows.Close()

	if _, err := tx.Exec(`DELETE FROM item_versions WHERE first_scan_id = ?`, scanID); err != nil {
		return fserr.Storage(err, "delete versions inserted by scan %d", scanID)
	}

	for _, itemID := range itemIDs {
		n, err := model.VersionCount(tx, itemID)
		if err != nil {
			return err
		}
		if n == 0 {
			if err := model.DeleteItem(tx, itemID); err != nil {
				return err
			}
		}
	}

	if terminal == model.ScanError {
		if err := SetError(tx, scanID, errMessage); err != nil {
			return err
		}
	} else {
		if err := SetState(tx, scanID, terminal); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fserr.Storage(err, "commit rollback for scan %d", scanID)
	}
	committed = true
	return nil
}
