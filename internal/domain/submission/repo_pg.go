package submission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type submissionRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &submissionRepoPG{pool: pool} }

func (r *submissionRepoPG) conn() queryable { return r.pool }

const submissionCols = `id, bundle_identifier, patient_id, practitioner_id, outcome,
	status_code, entry_count, placeholders, error_count, warning_count,
	error_message, archive_key, submitted_at`

func (r *submissionRepoPG) scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var placeholders string
	err := row.Scan(&rec.ID, &rec.BundleIdentifier, &rec.PatientID, &rec.PractitionerID, &rec.Outcome,
		&rec.StatusCode, &rec.EntryCount, &placeholders, &rec.ErrorCount, &rec.WarningCount,
		&rec.ErrorMessage, &rec.ArchiveKey, &rec.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Placeholders = splitPlaceholders(placeholders)
	return &rec, nil
}

func (r *submissionRepoPG) Create(ctx context.Context, rec *Record) error {
	rec.prepare()
	_, err := r.conn().Exec(ctx, `
		INSERT INTO ips_submission (id, bundle_identifier, patient_id, practitioner_id, outcome,
			status_code, entry_count, placeholders, error_count, warning_count,
			error_message, archive_key, submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		rec.ID, rec.BundleIdentifier, rec.PatientID, rec.PractitionerID, rec.Outcome,
		rec.StatusCode, rec.EntryCount, joinPlaceholders(rec.Placeholders), rec.ErrorCount, rec.WarningCount,
		rec.ErrorMessage, rec.ArchiveKey, rec.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (r *submissionRepoPG) GetByID(ctx context.Context, id string) (*Record, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return r.scanRecord(r.conn().QueryRow(ctx, `SELECT `+submissionCols+` FROM ips_submission WHERE id = $1`, uid))
}

func (r *submissionRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Record, int, error) {
	var total int
	if err := r.conn().QueryRow(ctx, `SELECT COUNT(*) FROM ips_submission WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn().Query(ctx, `SELECT `+submissionCols+` FROM ips_submission WHERE patient_id = $1 ORDER BY submitted_at DESC, id DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

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

func (r *submissionRepoPG) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
