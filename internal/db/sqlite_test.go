package db

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMigrateAppliesOnlyNewSteps(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "m.db")

	steps := []string{
		"CREATE TABLE a (id INTEGER PRIMARY KEY)",
		"CREATE TABLE b (id INTEGER PRIMARY KEY)",
	}

	d, err := NewDatabase(path)
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	if n, err := d.Migrate(ctx, steps); err != nil || n != 2 {
		t.Fatalf("first Migrate = %d, %v", n, err)
	}
	d.Close()

	d, err = NewDatabase(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()

	steps = append(steps, "CREATE TABLE c (id INTEGER PRIMARY KEY)")
	if n, err := d.Migrate(ctx, steps); err != nil || n != 1 {
		t.Fatalf("second Migrate = %d, %v", n, err)
	}
	if v, err := d.SchemaVersion(ctx); err != nil || v != 3 {
		t.Fatalf("SchemaVersion = %d, %v", v, err)
	}
}

func TestMigrateRollsBackFailedStep(t *testing.T) {
	ctx := context.Background()
	d, err := NewDatabase(filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	defer d.Close()

	steps := []string{
		"CREATE TABLE a (id INTEGER PRIMARY KEY)",
		"CREATE TABLE a (id INTEGER PRIMARY KEY)",
	}
	n, err := d.Migrate(ctx, steps)
	if err == nil || n != 1 {
		t.Fatalf("Migrate = %d, %v", n, err)
	}
	if v, _ := d.SchemaVersion(ctx); v != 1 {
		t.Fatalf("SchemaVersion = %d, want 1", v)
	}
}
