package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCreateSQLMigrationBumpsPastLatestVersion(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	first, err := createSQLMigration(dir, "Add Rate Plans!", now)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if filepath.Base(first) != "20260901090000_add_rate_plans.sql" {
		t.Fatalf("unexpected filename %s", filepath.Base(first))
	}

	second, err := createSQLMigration(dir, "index rate plans", now)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(second), "20260901090001_") {
		t.Fatalf("expected bumped version, got %s", filepath.Base(second))
	}

	data, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := checkAnnotations(filepath.Base(second), string(data)); err != nil {
		t.Fatalf("template should validate: %v", err)
	}
}

func TestCreateSQLMigrationRejectsEmbeddedAndEmptyNames(t *testing.T) {
	if _, err := createSQLMigration(EmbeddedDir, "x", time.Now()); err == nil {
		t.Fatal("expected error for embedded dir")
	}
	if _, err := createSQLMigration(t.TempDir(), "!!!", time.Now()); err == nil {
		t.Fatal("expected error for empty sanitized name")
	}
}
