package scan

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fspulse/fspulse/internal/events"
	"github.com/fspulse/fspulse/internal/fserr"
	"github.com/fspulse/fspulse/internal/model"
	"github.com/fspulse/fspulse/internal/store"
	"github.com/fspulse/fspulse/internal/undolog"
)

// Walker drives the BFS traversal phase (§4.1 Phase Walk).
type Walker struct {
	DB    *store.DB
	Bcast *events.Broadcaster
}

// Walk traverses rootPath breadth-first, inserting or updating one
// item/version per discovered entry. Directories are never followed
// through symlinks, per §6.2.
func (w *Walker) Walk(taskID int64, scan *model.Scan, rootID int64, rootPath string, cancelled *atomic.Bool) error {
	queue := []string{rootPath}

	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		if cancelled != nil && cancelled.Load() {
			return fserr.ErrInterrupted
		}

		w.Bcast.Publish(events.Event{Kind: events.DirectoryEntered, TaskID: taskID, DirectoryPath: dir})

		entries, err := os.ReadDir(dir)
		if err != nil {
			if dir != rootPath {
				if err := w.markDirReadError(scan, rootID, dir); err != nil {
					return err
				}
			}
			continue
		}

		for _, entry := range entries {
			if cancelled != nil && cancelled.Load() {
				return fserr.ErrInterrupted
			}

			full := filepath.Join(dir, entry.Name())
			itemType, access, modDate, size := classify(full)

			if err := w.processEntry(scan, rootID, full, entry.Name(), itemType, access, modDate, size); err != nil {
				return err
			}

			w.Bcast.Publish(events.Event{Kind: events.FileObserved, TaskID: taskID, FilePath: full})

			if itemType == model.ItemDirectory {
				queue = append(queue, full)
			}
		}
	}

	return nil
}

// classify stats path (without following symlinks) and classifies it.
// A symlink_metadata failure is reported as MetaError with zero
// metadata rather than aborting the walk (§7, §9 Open Question 2).
func classify(path string) (model.ItemType, model.Access, time.Time, int64) {
	info, err := os.Lstat(path)
	if err != nil {
		return model.ItemUnknown, model.AccessMetaError, time.Time{}, 0
	}

	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return model.ItemSymlink, model.AccessOk, info.ModTime(), info.Size()
	case mode.IsDir():
		return model.ItemDirectory, model.AccessOk, info.ModTime(), info.Size()
	case mode.IsRegular():
		return model.ItemFile, model.AccessOk, info.ModTime(), info.Size()
	default:
		return model.ItemUnknown, model.AccessOk, info.ModTime(), info.Size()
	}
}

// markDirReadError records a read_dir failure on a directory's current
// version (§7: "Filesystem (per-item): open/read_dir failure ...
// access = MetaError | ReadError; scan proceeds"). The directory's own
// identity/version was already written when it was discovered as an
// entry of its parent; this only flags that its contents could not be
// enumerated, so the walk does not descend further.
func (w *Walker) markDirReadError(scan *model.Scan, rootID int64, dirPath string) error {
	item, err := model.GetItem(w.DB, rootID, dirPath, model.ItemDirectory)
	if err != nil || item == nil {
		return err
	}
	current, err := model.CurrentVersion(w.DB, item.ItemID, scan.ScanID)
	if err != nil || current == nil {
		return err
	}
	if current.LastScanID != scan.ScanID {
		return nil
	}

	if current.FirstScanID == scan.ScanID {
		// This version was inserted fresh earlier in this scan (a
		// brand-new directory); rollback deletes it outright, so
		// updating it in place needs no undo entry.
		_, err = w.DB.Exec(`UPDATE item_versions SET access = ? WHERE version_id = ?`, string(model.AccessReadError), current.VersionID)
		if err != nil {
			return fserr.Storage(err, "mark directory %q read error", dirPath)
		}
		return nil
	}

	// This version predates the scan and was only touched (its
	// undo entry covers last_scan_id, not access), so an in-place
	// access update would survive a rollback. Supersede it with a
	// fresh version instead, matching the metadata-changed path.
	if err := undolog.RestoreIfTouched(w.DB, scan.ScanID, current.VersionID); err != nil {
		return err
	}
	v := newVersion(item.ItemID, scan.ScanID, model.ItemDirectory)
	v.IsAdded = false
	v.Access = model.AccessReadError
	v.ModDate = current.ModDate
	v.Size = current.Size
	if _, err := model.InsertFull(w.DB, v); err != nil {
		return err
	}
	return nil
}

// processEntry implements the four Walk sub-cases (§4.1) for one
// discovered (root, path, type) tuple, inside a single transaction so
// Walk locks at most one (item, version) pair per transaction (§5).
func (w *Walker) processEntry(scan *model.Scan, rootID int64, path, name string, itemType model.ItemType, access model.Access, modDate time.Time, size int64) error {
	tx, err := w.DB.Begin()
	if err != nil {
		return fserr.Storage(err, "begin walk tx for %q", path)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	item, err := model.GetItem(tx, rootID, path, itemType)
	if err != nil {
		return err
	}

	if item == nil {
		itemID, err := model.InsertItem(tx, rootID, path, name, itemType)
		if err != nil {
			return err
		}
		v := newVersion(itemID, scan.ScanID, itemType)
		v.IsAdded = true
		v.Access = access
		v.ModDate = modDate
		v.Size = size
		if itemType == model.ItemFile {
			v.Val = model.ValUnknown
		}
		if _, err := model.InsertFull(tx, v); err != nil {
			return err
		}
		return commit(tx, &committed)
	}

	current, err := model.CurrentVersion(tx, item.ItemID, scan.ScanID)
	if err != nil {
		return err
	}
	if current == nil {
		return fserr.Fatal(nil, "item %d (%s) has no version", item.ItemID, path)
	}

	if current.FirstScanID == scan.ScanID || current.LastScanID == scan.ScanID {
		// Already processed earlier in this scan.
		return commit(tx, &committed)
	}

	if current.IsDeleted {
		v := newVersion(item.ItemID, scan.ScanID, itemType)
		v.IsAdded = false
		v.Access = access
		v.ModDate = modDate
		v.Size = size
		if itemType == model.ItemFile {
			v.FileHash = current.FileHash
			v.Val = current.Val
			v.ValError = current.ValError
			v.LastHashScan = current.LastHashScan
			v.LastValScan = current.LastValScan
		}
		if _, err := model.InsertFull(tx, v); err != nil {
			return err
		}
		return commit(tx, &committed)
	}

	if sameMetadata(current, modDate, size) {
		if err := model.TouchLastScan(tx, scan.ScanID, current.VersionID, scan.ScanID); err != nil {
			return err
		}
		return commit(tx, &committed)
	}

	// Metadata changed: undo any touch already recorded for the
	// superseded version in this scan before inserting its successor.
	if err := undolog.RestoreIfTouched(tx, scan.ScanID, current.VersionID); err != nil {
		return err
	}

	v := newVersion(item.ItemID, scan.ScanID, itemType)
	v.IsAdded = false
	v.Access = access
	v.ModDate = modDate
	v.Size = size
	if itemType == model.ItemFile {
		v.FileHash = current.FileHash
		v.Val = current.Val
		v.ValError = current.ValError
		v.LastHashScan = current.LastHashScan
		v.LastValScan = current.LastValScan
	}
	if _, err := model.InsertFull(tx, v); err != nil {
		return err
	}
	return commit(tx, &committed)
}

func sameMetadata(v *model.ItemVersion, modDate time.Time, size int64) bool {
	return v.ModDate.Unix() == modDate.Unix() && v.Size == size
}

func newVersion(itemID, scanID int64, itemType model.ItemType) *model.ItemVersion {
	v := &model.ItemVersion{
		ItemID:      itemID,
		FirstScanID: scanID,
		LastScanID:  scanID,
	}
	switch itemType {
	case model.ItemFile:
		v.HasFileData = true
	case model.ItemDirectory:
		v.HasFolderData = true
	}
	return v
}

func commit(tx interface {
	Commit() error
}, committed *bool) error {
	if err := tx.Commit(); err != nil {
		return fserr.Storage(err, "commit walk tx")
	}
	*committed = true
	return nil
}
