package ips

import (
	"context"
	"errors"
	"fmt"

	"github.com/ehr/ips-exporter/internal/platform/auth"
	"github.com/ehr/ips-exporter/internal/platform/fhir"
)

var (
	// ErrMissingIdentityContext means the launch carries no patient or
	// practitioner. Assembly cannot proceed without both.
	ErrMissingIdentityContext = errors.New("missing identity context")

	// ErrIdentityUnresolved means the launch names a patient and practitioner
	// but they could not be read from the FHIR server.
	ErrIdentityUnresolved = errors.New("identity could not be resolved")
)

// ResourceReader reads a single resource by type and id.
type ResourceReader interface {
	Read(ctx context.Context, resourceType fhir.ResourceType, id string) (fhir.Resource, error)
}

// Source is a FHIR server as seen by one launch: it can search a patient's
// clinical resources and read the identity resources.
type Source interface {
	Fetcher
	ResourceReader
}

// SourceFunc opens the Source for a launch context.
type SourceFunc func(lc auth.LaunchContext) (Source, error)

// IdentityProvider resolves the current patient and practitioner for a launch.
type IdentityProvider interface {
	Resolve(ctx context.Context, lc auth.LaunchContext) (*fhir.Patient, *fhir.Practitioner, error)
}

// ReaderIdentity resolves identity by reading Patient/<id> and
// Practitioner/<id> from the launch's FHIR server.
type ReaderIdentity struct {
	Reader ResourceReader
}

func (r ReaderIdentity) Resolve(ctx context.Context, lc auth.LaunchContext) (*fhir.Patient, *fhir.Practitioner, error) {
	if lc.PatientID == "" || lc.PractitionerID == "" {
		return nil, nil, ErrMissingIdentityContext
	}

	res, err := r.Reader.Read(ctx, fhir.ResourceTypePatient, lc.PatientID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading patient %s: %v", ErrIdentityUnresolved, lc.PatientID, err)
	}
	patient, ok := res.(*fhir.Patient)
	if !ok || patient.ID == "" {
		return nil, nil, fmt.Errorf("%w: Patient/%s returned %T", ErrIdentityUnresolved, lc.PatientID, res)
	}

	res, err = r.Reader.Read(ctx, fhir.ResourceTypePractitioner, lc.PractitionerID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading practitioner %s: %v", ErrIdentityUnresolved, lc.PractitionerID, err)
	}
	practitioner, ok := res.(*fhir.Practitioner)
	if !ok || practitioner.ID == "" {
		return nil, nil, fmt.Errorf("%w: Practitioner/%s returned %T", ErrIdentityUnresolved, lc.PractitionerID, res)
	}

	return patient, practitioner, nil
}

// StaticIdentity returns fixed resources. It is used when the caller already
// holds the identity resources.
type StaticIdentity struct {
	Patient      *fhir.Patient
	Practitioner *fhir.Practitioner
}

func (s StaticIdentity) Resolve(context.Context, auth.LaunchContext) (*fhir.Patient, *fhir.Practitioner, error) {
	if s.Patient == nil || s.Practitioner == nil {
		return nil, nil, ErrMissingIdentityContext
	}
	return s.Patient, s.Practitioner, nil
}
