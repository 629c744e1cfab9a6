package scan_test

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fspulse/fspulse/internal/analysis"
	"github.com/fspulse/fspulse/internal/events"
	"github.com/fspulse/fspulse/internal/model"
	"github.com/fspulse/fspulse/internal/scan"
	"github.com/fspulse/fspulse/internal/store"
	"github.com/fspulse/fspulse/internal/undolog"
	"github.com/fspulse/fspulse/internal/validate"
)

// harness bundles everything one full scan cycle needs, mirroring how
// the scheduler wires scan.Runner in production.
type harness struct {
	db   *store.DB
	pool *analysis.Pool
	root *model.Root
}

func newHarness(t *testing.T, rootDir string) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	root, err := model.InsertRoot(db, rootDir)
	if err != nil {
		t.Fatalf("InsertRoot: %v", err)
	}

	pool := &analysis.Pool{
		DB:              db,
		Registry:        validate.NewRegistry(),
		Bcast:           events.NewBroadcaster(),
		Threads:         2,
		PageSize:        100,
		ChannelCapacity: 100,
	}

	return &harness{db: db, pool: pool, root: root}
}

func (h *harness) runScan(t *testing.T, spec model.AnalysisSpec) *model.Scan {
	t.Helper()
	s, err := scan.InsertScan(h.db, h.root.RootID, spec)
	if err != nil {
		t.Fatalf("InsertScan: %v", err)
	}

	runner := &scan.Runner{DB: h.db, Bcast: h.pool.Bcast, Pool: h.pool}
	finalState, err := runner.Run(s.ScanID, s, h.root, &atomic.Bool{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if finalState != model.ScanCompleted {
		t.Fatalf("finalState = %s, want Completed", finalState)
	}

	got, err := scan.GetScan(h.db, s.ScanID)
	if err != nil || got == nil {
		t.Fatalf("GetScan: %+v, %v", got, err)
	}
	return got
}

func md5Hex(data string) string {
	sum := md5.Sum([]byte(data))
	return hex.EncodeToString(sum[:])
}

// Scenario 1: fresh scan (§8 "Fresh scan").
func TestFreshScan(t *testing.T) {
	rootDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(rootDir, "a"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(rootDir, "a", "x.bin"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, rootDir)
	s := h.runScan(t, model.AnalysisSpec{HashMode: model.HashNew, ValidateMode: model.ValidateNone})

	if s.FileCount != 1 || s.FolderCount != 1 {
		t.Errorf("counts = {file:%d folder:%d}, want {1,1}", s.FileCount, s.FolderCount)
	}

	dirItem, err := model.GetItem(h.db, h.root.RootID, filepath.Join(rootDir, "a"), model.ItemDirectory)
	if err != nil || dirItem == nil {
		t.Fatalf("GetItem(a): %+v, %v", dirItem, err)
	}
	dirVersion, err := model.CurrentVersion(h.db, dirItem.ItemID, s.ScanID)
	if err != nil || dirVersion == nil || !dirVersion.IsAdded {
		t.Fatalf("folder version: %+v, %v", dirVersion, err)
	}
	if dirVersion.AddCount != 1 || dirVersion.ModifyCount != 0 || dirVersion.DeleteCount != 0 || dirVersion.UnchangedCount != 0 {
		t.Errorf("folder counts = %+v, want add:1 mod:0 del:0 unchanged:0", dirVersion)
	}

	fileItem, err := model.GetItem(h.db, h.root.RootID, filepath.Join(rootDir, "a", "x.bin"), model.ItemFile)
	if err != nil || fileItem == nil {
		t.Fatalf("GetItem(x.bin): %+v, %v", fileItem, err)
	}
	fileVersion, err := model.CurrentVersion(h.db, fileItem.ItemID, s.ScanID)
	if err != nil || fileVersion == nil {
		t.Fatalf("file version: %+v, %v", fileVersion, err)
	}
	if !fileVersion.IsAdded {
		t.Error("expected file version IsAdded=true")
	}
	if fileVersion.FileHash != md5Hex("0123456789") {
		t.Errorf("FileHash = %q, want %q", fileVersion.FileHash, md5Hex("0123456789"))
	}
}

// Scenario 2: unchanged rescan (§8).
func TestUnchangedRescan(t *testing.T) {
	rootDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(rootDir, "a"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(rootDir, "a", "x.bin"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, rootDir)
	spec := model.AnalysisSpec{HashMode: model.HashNew, ValidateMode: model.ValidateNone}
	h.runScan(t, spec)

	fileItem, _ := model.GetItem(h.db, h.root.RootID, filepath.Join(rootDir, "a", "x.bin"), model.ItemFile)
	beforeCount, err := model.VersionCount(h.db, fileItem.ItemID)
	if err != nil {
		t.Fatalf("VersionCount: %v", err)
	}

	s2 := h.runScan(t, spec)

	afterCount, err := model.VersionCount(h.db, fileItem.ItemID)
	if err != nil {
		t.Fatalf("VersionCount: %v", err)
	}
	if afterCount != beforeCount {
		t.Errorf("VersionCount after unchanged rescan = %d, want %d (P2: zero new versions)", afterCount, beforeCount)
	}

	cur, err := model.CurrentVersion(h.db, fileItem.ItemID, s2.ScanID)
	if err != nil || cur == nil || cur.LastScanID != s2.ScanID {
		t.Fatalf("expected current version's last_scan_id advanced to %d, got %+v", s2.ScanID, cur)
	}

	empty, err := undolog.IsEmpty(h.db, s2.ScanID)
	if err != nil || !empty {
		t.Fatalf("undo log after completion: empty=%v err=%v, want true,nil", empty, err)
	}
}

// Scenario 3: content modification (§8).
func TestContentModification(t *testing.T) {
	rootDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(rootDir, "a"), 0o755); err != nil {
		t.Fatal(err)
	}
	filePath := filepath.Join(rootDir, "a", "x.bin")
	if err := os.WriteFile(filePath, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, rootDir)
	spec := model.AnalysisSpec{HashMode: model.HashNew, ValidateMode: model.ValidateNone}
	s1 := h.runScan(t, spec)

	// Ensure a distinct mtime so the walk's metadata-changed branch fires
	// even on filesystems with coarse mtime resolution.
	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(filePath, []byte("9876543210"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(filePath, future, future); err != nil {
		t.Fatal(err)
	}

	s2 := h.runScan(t, spec)

	fileItem, _ := model.GetItem(h.db, h.root.RootID, filePath, model.ItemFile)
	cur, err := model.CurrentVersion(h.db, fileItem.ItemID, s2.ScanID)
	if err != nil || cur == nil {
		t.Fatalf("current version: %+v, %v", cur, err)
	}
	if cur.IsAdded {
		t.Error("modified version should have IsAdded=false")
	}
	if cur.FileHash != md5Hex("9876543210") {
		t.Errorf("FileHash = %q, want %q", cur.FileHash, md5Hex("9876543210"))
	}
	if cur.FirstScanID != s2.ScanID {
		t.Errorf("FirstScanID = %d, want %d", cur.FirstScanID, s2.ScanID)
	}

	prev, err := model.CurrentVersion(h.db, fileItem.ItemID, s1.ScanID)
	if err != nil || prev == nil || prev.LastScanID != s1.ScanID {
		t.Fatalf("prior version's last_scan_id should remain %d, got %+v", s1.ScanID, prev)
	}

	dirItem, _ := model.GetItem(h.db, h.root.RootID, filepath.Join(rootDir, "a"), model.ItemDirectory)
	dirVersion, err := model.CurrentVersion(h.db, dirItem.ItemID, s2.ScanID)
	if err != nil || dirVersion == nil {
		t.Fatalf("folder version: %+v, %v", dirVersion, err)
	}
	if dirVersion.ModifyCount != 1 || dirVersion.AddCount != 0 || dirVersion.DeleteCount != 0 {
		t.Errorf("folder counts = %+v, want mod:1 add:0 del:0", dirVersion)
	}
}

// Scenario 4: delete + resurrect (§8).
func TestDeleteAndResurrect(t *testing.T) {
	rootDir := t.TempDir()
	filePath := filepath.Join(rootDir, "x.bin")
	if err := os.WriteFile(filePath, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, rootDir)
	spec := model.AnalysisSpec{HashMode: model.HashNew, ValidateMode: model.ValidateNone}
	h.runScan(t, spec)

	if err := os.Remove(filePath); err != nil {
		t.Fatal(err)
	}
	sDel := h.runScan(t, spec)

	fileItem, _ := model.GetItem(h.db, h.root.RootID, filePath, model.ItemFile)
	deletedVersion, err := model.CurrentVersion(h.db, fileItem.ItemID, sDel.ScanID)
	if err != nil || deletedVersion == nil || !deletedVersion.IsDeleted {
		t.Fatalf("expected a deletion version, got %+v, %v", deletedVersion, err)
	}

	if err := os.WriteFile(filePath, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	sRes := h.runScan(t, spec)

	resurrected, err := model.CurrentVersion(h.db, fileItem.ItemID, sRes.ScanID)
	if err != nil || resurrected == nil {
		t.Fatalf("resurrected version: %+v, %v", resurrected, err)
	}
	if resurrected.IsDeleted {
		t.Error("resurrected version should not be IsDeleted")
	}
	if resurrected.FileHash != md5Hex("hello world") {
		t.Errorf("FileHash = %q, want %q (carried forward from original)", resurrected.FileHash, md5Hex("hello world"))
	}
}

// Scenario 5 (approximated): a scan cancelled before it reaches
// Completed rolls back to Stopped with no trace of the interrupted
// scan's mutations (§4.1 terminal transitions, P3).
func TestStopRollsBackCleanly(t *testing.T) {
	rootDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(rootDir, "x.bin"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, rootDir)
	spec := model.AnalysisSpec{HashMode: model.HashNew, ValidateMode: model.ValidateNone}

	s, err := scan.InsertScan(h.db, h.root.RootID, spec)
	if err != nil {
		t.Fatalf("InsertScan: %v", err)
	}

	cancelled := &atomic.Bool{}
	cancelled.Store(true)

	runner := &scan.Runner{DB: h.db, Bcast: h.pool.Bcast, Pool: h.pool}
	finalState, err := runner.Run(s.ScanID, s, h.root, cancelled)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if finalState != model.ScanStopped {
		t.Fatalf("finalState = %s, want Stopped", finalState)
	}

	var versionCount int
	if err := h.db.QueryRow(`SELECT COUNT(*) FROM item_versions WHERE first_scan_id = ? OR last_scan_id = ?`, s.ScanID, s.ScanID).Scan(&versionCount); err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if versionCount != 0 {
		t.Errorf("versions referencing stopped scan %d = %d, want 0 (P3)", s.ScanID, versionCount)
	}

	empty, err := undolog.IsEmpty(h.db, s.ScanID)
	if err != nil || !empty {
		t.Fatalf("undo log after rollback: empty=%v err=%v, want true,nil", empty, err)
	}
}

// Scenario 6: a corrupt FLAC file still lets the scan reach Completed,
// recording Invalid with a diagnostic message (§8).
func TestInvalidFlacStillCompletesScan(t *testing.T) {
	rootDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(rootDir, "corrupt.flac"), []byte("not really flac"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, rootDir)
	s := h.runScan(t, model.AnalysisSpec{HashMode: model.HashNone, ValidateMode: model.ValidateNew})

	if s.State != model.ScanCompleted {
		t.Fatalf("scan state = %s, want Completed", s.State)
	}

	item, err := model.GetItem(h.db, h.root.RootID, filepath.Join(rootDir, "corrupt.flac"), model.ItemFile)
	if err != nil || item == nil {
		t.Fatalf("GetItem: %+v, %v", item, err)
	}
	cur, err := model.CurrentVersion(h.db, item.ItemID, s.ScanID)
	if err != nil || cur == nil {
		t.Fatalf("CurrentVersion: %+v, %v", cur, err)
	}
	if cur.Val != model.ValInvalid || cur.ValError == "" {
		t.Errorf("version = %+v, want Val=Invalid with a non-empty ValError", cur)
	}
}

// P2: re-running hash_mode=All on an unchanged file still advances
// last_hash_scan without inserting a new version.
func TestRescanHashModeAllAdvancesBookkeeping(t *testing.T) {
	rootDir := t.TempDir()
	filePath := filepath.Join(rootDir, "x.bin")
	if err := os.WriteFile(filePath, []byte("stable content"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, rootDir)
	h.runScan(t, model.AnalysisSpec{HashMode: model.HashNew, ValidateMode: model.ValidateNone})

	item, _ := model.GetItem(h.db, h.root.RootID, filePath, model.ItemFile)
	before, err := model.VersionCount(h.db, item.ItemID)
	if err != nil {
		t.Fatalf("VersionCount: %v", err)
	}

	s2 := h.runScan(t, model.AnalysisSpec{HashMode: model.HashAll, ValidateMode: model.ValidateNone})

	after, err := model.VersionCount(h.db, item.ItemID)
	if err != nil {
		t.Fatalf("VersionCount: %v", err)
	}
	if after != before {
		t.Errorf("VersionCount after hash_mode=All rescan = %d, want %d (bookkeeping update, not insert)", after, before)
	}

	cur, err := model.CurrentVersion(h.db, item.ItemID, s2.ScanID)
	if err != nil || cur == nil {
		t.Fatalf("CurrentVersion: %+v, %v", cur, err)
	}
	if cur.LastHashScan != s2.ScanID {
		t.Errorf("LastHashScan = %d, want %d", cur.LastHashScan, s2.ScanID)
	}
}
