package submission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// sqliteTime has a fixed width so stored timestamps sort as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

type submissionRepoSQLite struct{ db *sql.DB }

// NewRepoSQLite returns a submission log backed by an SQLite database opened
// with db.OpenSQLite. The schema must already be migrated.
func NewRepoSQLite(db *sql.DB) Repository { return &submissionRepoSQLite{db: db} }

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *submissionRepoSQLite) scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var id, placeholders, submittedAt string
	err := row.Scan(&id, &rec.BundleIdentifier, &rec.PatientID, &rec.PractitionerID, &rec.Outcome,
		&rec.StatusCode, &rec.EntryCount, &placeholders, &rec.ErrorCount, &rec.WarningCount,
		&rec.ErrorMessage, &rec.ArchiveKey, &submittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse submission id %q: %w", id, err)
	}
	if rec.SubmittedAt, err = time.Parse(sqliteTime, submittedAt); err != nil {
		return nil, fmt.Errorf("parse submitted_at %q: %w", submittedAt, err)
	}
	rec.Placeholders = splitPlaceholders(placeholders)
	return &rec, nil
}

func (r *submissionRepoSQLite) Create(ctx context.Context, rec *Record) error {
	rec.prepare()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ips_submission (id, bundle_identifier, patient_id, practitioner_id, outcome,
			status_code, entry_count, placeholders, error_count, warning_count,
			error_message, archive_key, submitted_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID.String(), rec.BundleIdentifier, rec.PatientID, rec.PractitionerID, rec.Outcome,
		rec.StatusCode, rec.EntryCount, joinPlaceholders(rec.Placeholders), rec.ErrorCount, rec.WarningCount,
		rec.ErrorMessage, rec.ArchiveKey, rec.SubmittedAt.UTC().Format(sqliteTime))
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (r *submissionRepoSQLite) GetByID(ctx context.Context, id string) (*Record, error) {
	return r.scanRecord(r.db.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM ips_submission WHERE id = ?`, id))
}

func (r *submissionRepoSQLite) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Record, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ips_submission WHERE patient_id = ?`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+submissionCols+` FROM ips_submission WHERE patient_id = ? ORDER BY submitted_at DESC, id DESC LIMIT ? OFFSET ?`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	items := []*Record{}
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

func (r *submissionRepoSQLite) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
