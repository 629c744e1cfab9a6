package model

import (
	"database/sql"

	"github.com/fspulse/fspulse/internal/fserr"
)

// InsertItem appends a new identity row. Items are immutable once
// created (§3.1): callers never update one, only insert.
func InsertItem(ex Execer, rootID int64, path, name string, itemType ItemType) (int64, error) {
	res, err := ex.Exec(`
		INSERT INTO items (root_id, item_path, item_name, item_type)
		VALUES (?, ?, ?, ?)`, rootID, path, name, string(itemType))
	if err != nil {
		return 0, fserr.Storage(err, "insert item %q", path)
	}
	return res.LastInsertId()
}

// GetItem looks up the identity row for (root, path, type), returning
// nil if it doesn't exist yet.
func GetItem(ex Execer, rootID int64, path string, itemType ItemType) (*Item, error) {
	var it Item
	err := ex.QueryRow(`
		SELECT item_id, root_id, item_path, item_name, item_type
		FROM items WHERE root_id = ? AND item_path = ? AND item_type = ?`,
		rootID, path, string(itemType)).
		Scan(&it.ItemID, &it.RootID, &it.ItemPath, &it.ItemName, &it.ItemType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fserr.Storage(err, "read item %q", path)
	}
	return &it, nil
}

// DeleteItem removes an identity row outright. Used only by scan
// rollback, to delete items this scan created that now have zero
// versions (§4.1 terminal transitions).
func DeleteItem(ex Execer, itemID int64) error {
	if _, err := ex.Exec(`DELETE FROM items WHERE item_id = ?`, itemID); err != nil {
		return fserr.Storage(err, "delete item %d", itemID)
	}
	return nil
}

// VersionCount returns how many version rows reference itemID, used by
// rollback to decide whether an item this scan created is now orphaned.
func VersionCount(ex Execer, itemID int64) (int64, error) {
	var n int64
	err := ex.QueryRow(`SELECT COUNT(*) FROM item_versions WHERE item_id = ?`, itemID).Scan(&n)
	if err != nil {
		return 0, fserr.Storage(err, "count versions for item %d", itemID)
	}
	return n, nil
}

// ListItems returns every identity row for a root, ordered by id. The
// scan package uses this to build an in-memory parent/child index for
// folder descendant counts (§4.1, V5) rather than expressing path
// prefix matching in SQL, where LIKE-escaping arbitrary path content
// is its own source of bugs.
func ListItems(ex Execer, rootID int64) ([]Item, error) {
	rows, err := ex.Query(`
		SELECT item_id, root_id, item_path, item_name, item_type
		FROM items WHERE root_id = ? ORDER BY item_id ASC`, rootID)
	if err != nil {
		return nil, fserr.Storage(err, "list items for root %d", rootID)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ItemID, &it.RootID, &it.ItemPath, &it.ItemName, &it.ItemType); err != nil {
			return nil, fserr.Storage(err, "scan item row")
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
