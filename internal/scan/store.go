package scan

import (
	"database/sql"

	"github.com/fspulse/fspulse/internal/fserr"
	"github.com/fspulse/fspulse/internal/model"
)

// InsertScan creates a new scan row in Pending, about to be driven
// through Scanning by Run.
func InsertScan(ex model.Execer, rootID int64, spec model.AnalysisSpec) (*model.Scan, error) {
	res, err := ex.Exec(`
		INSERT INTO scans (root_id, state, hash_mode, validate_mode, started_at, file_count, folder_count)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, 0, 0)`,
		rootID, string(model.ScanPending), string(spec.HashMode), string(spec.ValidateMode))
	if err != nil {
		return nil, fserr.Storage(err, "insert scan for root %d", rootID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fserr.Storage(err, "read inserted scan id")
	}
	return GetScan(ex, id)
}

// GetScan loads a scan row by id, returning nil if it doesn't exist.
func GetScan(ex model.Execer, scanID int64) (*model.Scan, error) {
	var s model.Scan
	var state, hashMode, valMode string
	var errMsg sql.NullString
	err := ex.QueryRow(`
		SELECT scan_id, root_id, state, hash_mode, validate_mode, started_at, file_count, folder_count, error_message
		FROM scans WHERE scan_id = ?`, scanID).
		Scan(&s.ScanID, &s.RootID, &state, &hashMode, &valMode, &s.StartedAt, &s.FileCount, &s.FolderCount, &errMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fserr.Storage(err, "read scan %d", scanID)
	}
	s.State = model.ScanState(state)
	s.AnalysisSpec = model.AnalysisSpec{HashMode: model.HashMode(hashMode), ValidateMode: model.ValidateMode(valMode)}
	s.ErrorMessage = errMsg.String
	return &s, nil
}

// SetState transitions a scan to a new state.
func SetState(ex model.Execer, scanID int64, state model.ScanState) error {
	if _, err := ex.Exec(`UPDATE scans SET state = ? WHERE scan_id = ?`, string(state), scanID); err != nil {
		return fserr.Storage(err, "set scan %d state to %s", scanID, state)
	}
	return nil
}

// SetError transitions a scan to Error and persists the message.
func SetError(ex model.Execer, scanID int64, message string) error {
	if _, err := ex.Exec(`UPDATE scans SET state = ?, error_message = ? WHERE scan_id = ?`, string(model.ScanError), message, scanID); err != nil {
		return fserr.Storage(err, "set scan %d error", scanID)
	}
	return nil
}

// SetCounts persists the per-scan file/folder totals computed after
// Sweep (§4.1, P4).
func SetCounts(ex model.Execer, scanID, fileCount, folderCount int64) error {
	if _, err := ex.Exec(`UPDATE scans SET file_count = ?, folder_count = ? WHERE scan_id = ?`, fileCount, folderCount, scanID); err != nil {
		return fserr.Storage(err, "set scan %d counts", scanID)
	}
	return nil
}

// IncompleteScanForRoot returns the most recent non-terminal scan for
// a root, if any, so the task selector can resume it instead of
// starting a new one (§4.5).
func IncompleteScanForRoot(ex model.Execer, rootID int64) (*model.Scan, error) {
	var scanID int64
	err := ex.QueryRow(`
		SELECT scan_id FROM scans
		WHERE root_id = ? AND state IN ('Pending','Scanning','Sweeping','Analyzing')
		ORDER BY scan_id DESC LIMIT 1`, rootID).Scan(&scanID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fserr.Storage(err, "find incomplete scan for root %d", rootID)
	}
	return GetScan(ex, scanID)
}
