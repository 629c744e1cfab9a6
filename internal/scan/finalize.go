package scan

import (
	"path/filepath"

	"github.com/fspulse/fspulse/internal/model"
	"github.com/fspulse/fspulse/internal/store"
)

// Finalize computes, after Sweep, the per-scan file/folder totals
// (P4) and the per-folder descendant deltas (V5) for every folder
// version created in this scan, per §4.1 "After Sweep...".
func Finalize(db *store.DB, rootID, scanID int64) error {
	items, err := model.ListItems(db, rootID)
	if err != nil {
		return err
	}

	childrenOf := make(map[string][]model.Item)
	for _, it := range items {
		parent := filepath.Dir(it.ItemPath)
		childrenOf[parent] = append(childrenOf[parent], it)
	}

	var fileCount, folderCount int64
	for _, it := range items {
		cur, err := model.CurrentVersion(db, it.ItemID, scanID)
		if err != nil {
			return err
		}
		if cur == nil || cur.LastScanID != scanID || cur.IsDeleted {
			continue
		}
		if it.ItemType == model.ItemFile {
			fileCount++
		} else {
			folderCount++
		}
	}
	if err := SetCounts(db, scanID, fileCount, folderCount); err != nil {
		return err
	}

	for _, it := range items {
		if it.ItemType != model.ItemDirectory {
			continue
		}
		cur, err := model.CurrentVersion(db, it.ItemID, scanID)
		if err != nil {
			return err
		}
		if cur == nil || cur.FirstScanID != scanID {
			// Only versions created by this scan need fresh counts;
			// older folder versions were computed, and frozen, when
			// they were created (V5 is evaluated at a version's own
			// first_scan_id, not the current one).
			continue
		}
		if cur.IsDeleted {
			// Sweep already zeroed this deletion version's counts;
			// it has no descendant observations in this scan to
			// recompute a delta from.
			continue
		}

		var add, modify, del, unchanged int64
		for _, child := range childrenOf[it.ItemPath] {
			cv, err := model.CurrentVersion(db, child.ItemID, scanID)
			if err != nil {
				return err
			}
			if cv == nil {
				continue
			}
			switch {
			case cv.FirstScanID == scanID && cv.IsAdded:
				add++
			case cv.FirstScanID == scanID && cv.IsDeleted:
				del++
			case cv.FirstScanID == scanID:
				modify++
			case cv.LastScanID == scanID:
				unchanged++
			}
		}

		if err := model.SetFolderCounts(db, cur.VersionID, add, modify, del, unchanged); err != nil {
			return err
		}
	}

	return nil
}
