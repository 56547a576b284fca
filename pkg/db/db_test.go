package db

import (
	"context"
	"io/fs"
	"testing"

	"fleettag/pkg/db/migrations"
)

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(migrations.FS, "*.go")
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(names) != 1 || names[0] != "0001_init.go" {
		t.Fatalf("embedded migrations = %v, want [0001_init.go]", names)
	}
}

func TestNilPool(t *testing.T) {
	if err := Migrate(context.Background(), nil); err == nil {
		t.Fatalf("Migrate(nil) error = nil")
	}
	if err := Ping(context.Background(), nil); err == nil {
		t.Fatalf("Ping(nil) error = nil")
	}
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatalf("Open(\"\") error = nil")
	}
}

func TestOpenRejectsBadDSN(t *testing.T) {
	if _, err := Open(context.Background(), "postgres://%zz"); err == nil {
		t.Fatalf("Open(bad dsn) error = nil")
	}
}
