package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_first.up.sql":   {Data: []byte("CREATE TABLE first (id INTEGER PRIMARY KEY);")},
		"20260101_000000_first.down.sql": {Data: []byte("DROP TABLE first;")},
		"20260102_000000_second.up.sql":  {Data: []byte("CREATE TABLE second (id INTEGER PRIMARY KEY);")},
		"README.md":                      {Data: []byte("not a migration")},
	}
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"first", "second"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	versions, err := db.AppliedVersions(ctx)
	if err != nil {
		t.Fatalf("AppliedVersions() error = %v", err)
	}
	if len(versions) != 2 || versions[0] != "20260101_000000" || versions[1] != "20260102_000000" {
		t.Errorf("AppliedVersions() = %v", versions)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := db.Migrate(ctx, testMigrations()); err != nil {
			t.Fatalf("Migrate() run %d error = %v", i+1, err)
		}
	}
}

func TestMigrate_FailureStops(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	source := fstest.MapFS{
		"20260101_000000_ok.up.sql":     {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"20260102_000000_broken.up.sql": {Data: []byte("CREATE TABLE (;")},
	}
	if err := db.Migrate(ctx, source); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}

	versions, err := db.AppliedVersions(ctx)
	if err != nil {
		t.Fatalf("AppliedVersions() error = %v", err)
	}
	if len(versions) != 1 {
		t.Errorf("AppliedVersions() = %v, want only the first migration", versions)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{"20261016_120000_log_entries.up.sql", "20261016_120000", "log_entries", true},
		{"20261016_120000.up.sql", "20261016_120000", "", true},
		{"20261016_120000_log_entries.down.sql", "", "", false},
		{"notes.txt", "", "", false},
		{"single.up.sql", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK || version != tt.wantVersion || name != tt.wantName {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.filename, version, name, ok, tt.wantVersion, tt.wantName, tt.wantOK)
			}
		})
	}
}
