package submission

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"strings"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("submission not found")

// Repository is the submission log.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Record, int, error)
	Ping(ctx context.Context) error
}

//go:embed migrations
var migrations embed.FS

// PostgresMigrations returns the schema migrations for the postgres backend.
func PostgresMigrations() fs.FS {
	sub, _ := fs.Sub(migrations, "migrations/postgres")
	return sub
}

// SQLiteMigrations returns the schema migrations for the sqlite backend.
func SQLiteMigrations() fs.FS {
	sub, _ := fs.Sub(migrations, "migrations/sqlite")
	return sub
}

func joinPlaceholders(p []string) string { return strings.Join(p, ",") }

func splitPlaceholders(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
