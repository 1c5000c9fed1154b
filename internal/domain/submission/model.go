package submission

import (
	"time"

	"github.com/google/uuid"
)

// Outcomes of a validation attempt.
const (
	OutcomeValid          = "valid"
	OutcomeInvalid        = "invalid"
	OutcomeUnparsed       = "unparsed"
	OutcomeRejected       = "rejected"
	OutcomeTransportError = "transport_error"
)

// Record is one validation attempt of an assembled IPS document.
type Record struct {
	ID               uuid.UUID `db:"id" json:"id"`
	BundleIdentifier string    `db:"bundle_identifier" json:"bundle_identifier"`
	PatientID        string    `db:"patient_id" json:"patient_id"`
	PractitionerID   string    `db:"practitioner_id" json:"practitioner_id"`
	Outcome          string    `db:"outcome" json:"outcome"`
	StatusCode       int       `db:"status_code" json:"status_code,omitempty"`
	EntryCount       int       `db:"entry_count" json:"entry_count"`
	Placeholders     []string  `db:"placeholders" json:"placeholders,omitempty"`
	ErrorCount       int       `db:"error_count" json:"error_count"`
	WarningCount     int       `db:"warning_count" json:"warning_count"`
	ErrorMessage     string    `db:"error_message" json:"error_message,omitempty"`
	ArchiveKey       string    `db:"archive_key" json:"archive_key,omitempty"`
	SubmittedAt      time.Time `db:"submitted_at" json:"submitted_at"`
}

// Succeeded reports whether the validator accepted the request. An
// unparsed answer still counts: the validator replied 2xx.
func (r *Record) Succeeded() bool {
	return r.Outcome == OutcomeValid || r.Outcome == OutcomeInvalid || r.Outcome == OutcomeUnparsed
}

// prepare fills the server-assigned fields before insert.
func (r *Record) prepare() {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = time.Now().UTC()
	}
}
