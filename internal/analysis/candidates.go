// Package analysis is the bounded analysis worker pool (C5): a single
// producer issuing paged eligibility queries feeding a bounded channel
// consumed by a fixed worker count, each running the per-item
// hash/validate pipeline inside its own transaction.
package analysis

import (
	"database/sql"
	"time"

	"github.com/fspulse/fspulse/internal/fserr"
	"github.com/fspulse/fspulse/internal/model"
	"github.com/fspulse/fspulse/internal/store"
)

// Candidate is one file version the pool must bring to the scan's
// requested hash/validation state.
type Candidate struct {
	VersionID       int64
	ItemID          int64
	Path            string
	CreatedThisScan bool

	NeedsHash bool
	NeedsVal  bool

	ModDate time.Time
	Size    int64

	StoredHash         string
	StoredVal          model.ValidationState
	StoredValError     string
	StoredLastHashScan int64
	StoredLastValScan  int64
}

// queryCandidates fetches up to pageSize eligible file versions with
// item_id strictly greater than cursor, ordered by item_id ascending,
// so repeated calls with the last returned item_id skip in-flight
// work and stay correct under concurrent updates (§4.3).
func queryCandidates(db *store.DB, scan *model.Scan, cursor int64, pageSize int) ([]Candidate, error) {
	hashMode := string(scan.AnalysisSpec.HashMode)
	valMode := string(scan.AnalysisSpec.ValidateMode)

	rows, err := db.Query(`
		SELECT iv.version_id, iv.item_id, it.item_path, iv.first_scan_id,
		       iv.mod_date, iv.size,
		       iv.file_hash, iv.val, iv.val_error, iv.last_hash_scan, iv.last_val_scan,
		       (CASE WHEN ? != 'None' AND (
		              iv.file_hash IS NULL
		              OR (? = 'All' AND (iv.last_hash_scan IS NULL OR iv.last_hash_scan < ?))
		              OR iv.first_scan_id = ?
		              OR prev.is_deleted = 1
		              OR (prev.version_id IS NOT NULL AND (prev.mod_date IS NOT iv.mod_date OR prev.size IS NOT iv.size))
		            ) THEN 1 ELSE 0 END) AS needs_hash,
		       (CASE WHEN ? != 'None' AND (
		              iv.val IS NULL OR iv.val = 'U'
		              OR (? = 'All' AND (iv.last_val_scan IS NULL OR iv.last_val_scan < ?))
		              OR iv.first_scan_id = ?
		              OR prev.is_deleted = 1
		              OR (prev.version_id IS NOT NULL AND (prev.mod_date IS NOT iv.mod_date OR prev.size IS NOT iv.size))
		            ) THEN 1 ELSE 0 END) AS needs_val
		FROM item_versions iv
		JOIN items it ON it.item_id = iv.item_id
		LEFT JOIN item_versions prev ON prev.item_id = iv.item_id AND prev.first_scan_id = (
			SELECT MAX(v2.first_scan_id) FROM item_versions v2
			WHERE v2.item_id = iv.item_id AND v2.first_scan_id < iv.first_scan_id
		)
		WHERE iv.last_scan_id = ?
		  AND iv.is_deleted = 0
		  AND iv.access != 'ReadError'
		  AND it.item_type = 'File'
		  AND iv.item_id > ?
		  AND (
		    (? != 'None' AND (
		        iv.file_hash IS NULL
		        OR (? = 'All' AND (iv.last_hash_scan IS NULL OR iv.last_hash_scan < ?))
		        OR iv.first_scan_id = ?
		        OR prev.is_deleted = 1
		        OR (prev.version_id IS NOT NULL AND (prev.mod_date IS NOT iv.mod_date OR prev.size IS NOT iv.size))
		    ))
		    OR
		    (? != 'None' AND (
		        iv.val IS NULL OR iv.val = 'U'
		        OR (? = 'All' AND (iv.last_val_scan IS NULL OR iv.last_val_scan < ?))
		        OR iv.first_scan_id = ?
		        OR prev.is_deleted = 1
		        OR (prev.version_id IS NOT NULL AND (prev.mod_date IS NOT iv.mod_date OR prev.size IS NOT iv.size))
		    ))
		  )
		ORDER BY iv.item_id ASC
		LIMIT ?`,
		hashMode, hashMode, scan.ScanID, scan.ScanID,
		valMode, valMode, scan.ScanID, scan.ScanID,
		scan.ScanID, cursor,
		hashMode, hashMode, scan.ScanID, scan.ScanID,
		valMode, valMode, scan.ScanID, scan.ScanID,
		pageSize,
	)
	if err != nil {
		return nil, fserr.Storage(err, "query analysis candidates for scan %d", scan.ScanID)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var firstScanID int64
		var fileHash, valCode, valError sql.NullString
		var lastHashScan, lastValScan sql.NullInt64
		var needsHash, needsVal bool

		if err := rows.Scan(
			&c.VersionID, &c.ItemID, &c.Path, &firstScanID,
			&c.ModDate, &c.Size,
			&fileHash, &valCode, &valError, &lastHashScan, &lastValScan,
			&needsHash, &needsVal,
		); err != nil {
			return nil, fserr.Storage(err, "scan candidate row")
		}

		c.CreatedThisScan = firstScanID == scan.ScanID
		c.NeedsHash = needsHash
		c.NeedsVal = needsVal
		c.StoredHash = fileHash.String
		c.StoredVal = model.ParseValidationCode(valCode.String)
		c.StoredValError = valError.String
		c.StoredLastHashScan = lastHashScan.Int64
		c.StoredLastValScan = lastValScan.Int64

		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fserr.Storage(err, "iterate candidate rows")
	}
	return out, nil
}
