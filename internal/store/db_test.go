package store

import (
	"path/filepath"
	"sort"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNaturalPathCollate_DirectoryBeforeSiblingWithSuffix(t *testing.T) {
	// B3: "/proj" and its children must sort strictly before "/proj-A".
	paths := []string{"/proj-A", "/proj/x.bin", "/proj"}
	sort.Slice(paths, func(i, j int) bool {
		return naturalPathCollate(paths[i], paths[j]) < 0
	})

	want := []string{"/proj", "/proj/x.bin", "/proj-A"}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("sorted order = %v, want %v", paths, want)
		}
	}
}

func TestNaturalPathCollate_NumericAware(t *testing.T) {
	paths := []string{"file10.txt", "file2.txt", "file1.txt"}
	sort.Slice(paths, func(i, j int) bool {
		return naturalPathCollate(paths[i], paths[j]) < 0
	})

	want := []string{"file1.txt", "file2.txt", "file10.txt"}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("sorted order = %v, want %v", paths, want)
		}
	}
}

func TestNaturalPathCollate_CaseInsensitive(t *testing.T) {
	if naturalPathCollate("Proj", "proj") != 0 {
		t.Errorf("expected case-insensitive equality")
	}
}

func TestMetaGetSet(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.MetaGet("missing_key"); err != nil || ok {
		t.Fatalf("MetaGet(missing) = ok=%v err=%v, want ok=false", ok, err)
	}

	if err := db.MetaSet("pause_until", "-1"); err != nil {
		t.Fatalf("MetaSet: %v", err)
	}
	val, ok, err := db.MetaGet("pause_until")
	if err != nil || !ok || val != "-1" {
		t.Fatalf("MetaGet = %q, %v, %v; want -1, true, nil", val, ok, err)
	}

	if err := db.MetaSet("pause_until", "0"); err != nil {
		t.Fatalf("MetaSet overwrite: %v", err)
	}
	val, _, _ = db.MetaGet("pause_until")
	if val != "0" {
		t.Errorf("MetaGet after overwrite = %q, want 0", val)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate() call failed: %v", err)
	}
}

func TestCompact(t *testing.T) {
	db := testDB(t)
	if err := db.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
}
