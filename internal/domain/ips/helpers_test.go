package ips

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/ips-exporter/internal/platform/auth"
	"github.com/ehr/ips-exporter/internal/platform/fhir"
)

var (
	errFHIRDown = errors.New("fhir server unavailable")
	fixedNow    = time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC)
)

// fakeSource is an in-memory FHIR server.
type fakeSource struct {
	mu          sync.Mutex
	byType      map[fhir.ResourceType][]fhir.Resource
	fetchErrs   map[fhir.ResourceType]error
	identity    map[string]fhir.Resource
	readErr     error
	fetchCalls  int
	blockFetch  bool
	fetchedWith []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		byType:    map[fhir.ResourceType][]fhir.Resource{},
		fetchErrs: map[fhir.ResourceType]error{},
		identity: map[string]fhir.Resource{
			"Patient/123":      &fhir.Patient{ID: "123"},
			"Practitioner/456": &fhir.Practitioner{ID: "456"},
		},
	}
}

func (f *fakeSource) Fetch(ctx context.Context, rt fhir.ResourceType, patientID string) ([]fhir.Resource, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.fetchedWith = append(f.fetchedWith, patientID)
	block := f.blockFetch
	res, err := f.byType[rt], f.fetchErrs[rt]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return res, err
}

func (f *fakeSource) Read(_ context.Context, rt fhir.ResourceType, id string) (fhir.Resource, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	r, ok := f.identity[fhir.FormatReference(rt, id)]
	if !ok {
		return nil, errors.New("not found")
	}
	return r, nil
}

func testLaunch() auth.LaunchContext {
	return auth.LaunchContext{PatientID: "123", PractitionerID: "456", FHIRBaseURL: "https://fhir.example.org/r4"}
}

func newTestAssembler(ids IDGenerator) *Assembler {
	a := NewAssembler(ids, zerolog.Nop(), nil)
	a.now = func() time.Time { return fixedNow }
	return a
}

func medication(id string) *fhir.MedicationStatement {
	return &fhir.MedicationStatement{
		ID:                        id,
		Status:                    "active",
		MedicationCodeableConcept: &fhir.CodeableConcept{Text: "aspirin"},
		Subject:                   fhir.NewReference(fhir.ResourceTypePatient, "123"),
	}
}
