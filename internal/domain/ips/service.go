package ips

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ips-exporter/internal/domain/submission"
	"github.com/ehr/ips-exporter/internal/platform/auth"
	"github.com/ehr/ips-exporter/internal/platform/blobstore"
	"github.com/ehr/ips-exporter/internal/platform/fhir"
)

// ExportResult is what a successful export returns to the caller.
type ExportResult struct {
	Resource         *fhir.DocumentBundle `json:"resource"`
	ValidationResult json.RawMessage      `json:"validationResult"`
}

// Archive stores exported documents.
type Archive interface {
	Put(ctx context.Context, key, contentType string, data []byte) (*blobstore.Object, error)
}

// Service ties assembly, validation and the optional sinks together.
type Service struct {
	assembler   *Assembler
	submitter   *Submitter
	sources     SourceFunc
	submissions submission.Repository
	archive     Archive
	logger      zerolog.Logger
}

type ServiceOption func(*Service)

// WithSubmissionLog records every validation attempt in repo.
func WithSubmissionLog(repo submission.Repository) ServiceOption {
	return func(s *Service) { s.submissions = repo }
}

// WithArchive stores every validated document in a.
func WithArchive(a Archive) ServiceOption {
	return func(s *Service) { s.archive = a }
}

func NewService(assembler *Assembler, submitter *Submitter, sources SourceFunc, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		assembler: assembler,
		submitter: submitter,
		sources:   sources,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Assemble builds the document for lc without validating it.
func (s *Service) Assemble(ctx context.Context, lc auth.LaunchContext) (*Document, error) {
	if !lc.Complete() {
		return nil, ErrMissingIdentityContext
	}
	src, err := s.sources(lc)
	if err != nil {
		return nil, fmt.Errorf("opening fhir source: %w", err)
	}
	return s.assembler.Assemble(ctx, lc, ReaderIdentity{Reader: src}, src)
}

// Export assembles the document, submits it for validation and returns both.
// A failed validation round trip is returned as a *ValidationError and the
// bundle is withheld.
func (s *Service) Export(ctx context.Context, lc auth.LaunchContext) (*ExportResult, error) {
	doc, err := s.Assemble(ctx, lc)
	if err != nil {
		return nil, err
	}

	result, verr := s.submitter.Submit(ctx, doc.Bundle)

	rec := newRecord(doc)
	if verr != nil {
		var ve *ValidationError
		if errors.As(verr, &ve) {
			rec.StatusCode = ve.StatusCode
			rec.Outcome = submission.OutcomeRejected
			if ve.Err != nil {
				rec.Outcome = submission.OutcomeTransportError
			}
		}
		rec.ErrorMessage = verr.Error()
		s.logger.Error().Err(verr).
			Int("status", rec.StatusCode).
			Str("bundle_identifier", rec.BundleIdentifier).
			Msg("ips validation failed")
		s.record(ctx, rec)
		return nil, verr
	}

	rec.StatusCode = result.StatusCode
	rec.ErrorCount = result.Summary.Fatal + result.Summary.Errors
	rec.WarningCount = result.Summary.Warnings
	rec.Outcome = result.Outcome()
	rec.ArchiveKey = s.store(ctx, doc)
	s.record(ctx, rec)

	s.logger.Info().
		Str("bundle_identifier", rec.BundleIdentifier).
		Str("outcome", rec.Outcome).
		Stringer("issues", result.Summary).
		Msg("ips document validated")

	return &ExportResult{Resource: doc.Bundle, ValidationResult: result.Body}, nil
}

// Submissions lists the submission log for a patient, newest first.
func (s *Service) Submissions(ctx context.Context, patientID string, limit, offset int) ([]*submission.Record, int, error) {
	if s.submissions == nil {
		return []*submission.Record{}, 0, nil
	}
	return s.submissions.ListByPatient(ctx, patientID, limit, offset)
}

// Submission returns one entry of patientID's submission log. Records of
// other patients and malformed ids are reported as submission.ErrNotFound.
func (s *Service) Submission(ctx context.Context, patientID, id string) (*submission.Record, error) {
	if s.submissions == nil {
		return nil, submission.ErrNotFound
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, submission.ErrNotFound
	}
	rec, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.PatientID != patientID {
		return nil, submission.ErrNotFound
	}
	return rec, nil
}

func newRecord(doc *Document) *submission.Record {
	return &submission.Record{
		BundleIdentifier: doc.Bundle.Identifier.Value,
		PatientID:        doc.Patient.ID,
		PractitionerID:   doc.Practitioner.ID,
		EntryCount:       len(doc.Bundle.Entry),
		Placeholders:     doc.Placeholders(),
		SubmittedAt:      doc.AssembledAt,
	}
}

// record writes rec to the submission log. Failures are logged only.
func (s *Service) record(ctx context.Context, rec *submission.Record) {
	if s.submissions == nil {
		return
	}
	if err := s.submissions.Create(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Str("bundle_identifier", rec.BundleIdentifier).Msg("recording submission")
	}
}

// store archives the bundle and returns its key, or "" when archiving is off
// or fails.
func (s *Service) store(ctx context.Context, doc *Document) string {
	if s.archive == nil {
		return ""
	}
	data, err := json.Marshal(doc.Bundle)
	if err != nil {
		s.logger.Warn().Err(err).Msg("marshalling bundle for archive")
		return ""
	}
	key := blobstore.DocumentKey(doc.Patient.ID, strings.TrimPrefix(doc.Bundle.Identifier.Value, "urn:uuid:"))
	if _, err := s.archive.Put(ctx, key, "application/fhir+json", data); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("archiving ips document")
		return ""
	}
	return key
}
