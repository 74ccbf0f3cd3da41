package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}
}

func TestLoadMigrations(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"001_nutrition_report.sql": "CREATE TABLE nutrition_report (id UUID PRIMARY KEY);",
		"002_indexes.sql":          "CREATE INDEX a ON nutrition_report (id);",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "001_nutrition_report.sql" {
		t.Errorf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[0].SQL != "CREATE TABLE nutrition_report (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
	if migrations[1].Version != 2 {
		t.Errorf("expected version 2, got %d", migrations[1].Version)
	}
}

func TestLoadMigrations_SortOrderAndSkips(t *testing.T) {
	fsys := fstest.MapFS{
		"010_tables.sql":  {Data: []byte("SELECT 10;")},
		"002_second.sql":  {Data: []byte("SELECT 2;")},
		"001_first.sql":   {Data: []byte("SELECT 1;")},
		"readme.sql":      {Data: []byte("-- no prefix")},
		"abc_invalid.sql": {Data: []byte("-- non-numeric")},
		"notes.txt":       {Data: []byte("not sql")},
	}
	migrations, err := NewMigratorFS(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	want := []int{1, 2, 10}
	if len(migrations) != len(want) {
		t.Fatalf("expected %d migrations, got %d", len(want), len(migrations))
	}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("migration[%d]: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"1_b.sql":   {Data: []byte("SELECT 1;")},
	}
	if _, err := NewMigratorFS(nil, fsys).LoadMigrations(); err == nil {
		t.Error("expected error for duplicate version")
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	if _, err := NewMigrator(nil, "/nonexistent/path/that/does/not/exist").LoadMigrations(); err == nil {
		t.Error("expected error for non-existent directory")
	}
}

func TestPendingAndBuildStatus(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_nutrition_report.sql"},
		{Version: 2, Name: "002_indexes.sql"},
	}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	applied := map[int]time.Time{1: at}

	pending := Pending(migrations, applied)
	if len(pending) != 1 || pending[0].Version != 2 {
		t.Fatalf("expected only version 2 pending, got %+v", pending)
	}

	statuses := BuildStatus(migrations, applied)
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected migration 1 applied at %v, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected migration 2 pending, got %+v", statuses[1])
	}
}

func TestCheckSchema(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"public", true},
		{"nutrition_1", true},
		{"_private", true},
		{"1abc", false},
		{"a-b", false},
		{"drop;table", false},
		{"", false},
	}
	for _, tt := range tests {
		err := checkSchema(tt.input)
		if (err == nil) != tt.valid {
			t.Errorf("checkSchema(%q) error = %v, want valid=%v", tt.input, err, tt.valid)
		}
	}
}

func TestUp_InvalidSchema(t *testing.T) {
	if _, err := NewMigrator(nil, t.TempDir()).Up(context.Background(), "bad schema"); err == nil {
		t.Error("expected error for invalid schema")
	}
}
