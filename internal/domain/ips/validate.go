package ips

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/ips-exporter/internal/domain/submission"
	"github.com/ehr/ips-exporter/internal/platform/fhir"
	"github.com/ehr/ips-exporter/internal/platform/telemetry"
)

// maxValidationBody caps how much of a validator response is read.
const maxValidationBody = 8 << 20

// ValidationClient sends the validation request. *http.Client satisfies it.
type ValidationClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ValidationResult is a successful validator round trip. Body is the
// validator's response, usually an OperationOutcome. Parsed is false when
// the body was not an OperationOutcome, in which case Summary is empty and
// says nothing about the document.
type ValidationResult struct {
	StatusCode int
	Body       json.RawMessage
	Summary    fhir.OutcomeSummary
	Parsed     bool
}

// Outcome classifies the result for the submission log and metrics.
func (r *ValidationResult) Outcome() string {
	switch {
	case !r.Parsed:
		return submission.OutcomeUnparsed
	case !r.Summary.Valid():
		return submission.OutcomeInvalid
	default:
		return submission.OutcomeValid
	}
}

// ValidationError reports a validator call that did not succeed: either the
// transport failed (Err set) or the validator answered with a non-2xx status.
type ValidationError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation request failed: %v", e.Err)
	}
	return fmt.Sprintf("validator returned status %d", e.StatusCode)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Submitter posts finished bundles to the validation endpoint.
type Submitter struct {
	client  ValidationClient
	url     string
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

func NewSubmitter(client ValidationClient, url string, logger zerolog.Logger, metrics *telemetry.Metrics) *Submitter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Submitter{client: client, url: url, logger: logger, metrics: metrics}
}

// Submit validates bundle. The request carries no credentials. There is no
// retry; callers that want one wrap the Submitter.
func (s *Submitter) Submit(ctx context.Context, bundle *fhir.DocumentBundle) (*ValidationResult, error) {
	payload, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("marshal bundle: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, &ValidationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/fhir+json, application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.ValidationFinished(submission.OutcomeTransportError, elapsed)
		return nil, &ValidationError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxValidationBody))
	if err != nil {
		s.metrics.ValidationFinished(submission.OutcomeTransportError, elapsed)
		return nil, &ValidationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.metrics.ValidationFinished(submission.OutcomeRejected, elapsed)
		return nil, &ValidationError{StatusCode: resp.StatusCode, Body: body}
	}

	result := &ValidationResult{StatusCode: resp.StatusCode, Body: asJSON(body)}
	if oo, err := fhir.ParseOperationOutcome(body); err == nil {
		result.Summary = oo.Summarize()
		result.Parsed = true
	} else {
		s.logger.Warn().Err(err).
			Int("status", resp.StatusCode).
			Str("content_type", resp.Header.Get("Content-Type")).
			Msg("validator response is not an OperationOutcome")
	}

	s.metrics.ValidationFinished(result.Outcome(), elapsed)
	return result, nil
}

// asJSON returns body unchanged when it is JSON, otherwise as a JSON string.
func asJSON(body []byte) json.RawMessage {
	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
