package ips

import (
	"errors"
	"fmt"
	"time"

	"github.com/ehr/ips-exporter/internal/platform/fhir"
)

const (
	CompositionProfile = "http://hl7.org/fhir/uv/ips/StructureDefinition/Composition-uv-ips"
	BundleProfile      = "http://hl7.org/fhir/uv/ips/StructureDefinition/Bundle-uv-ips"

	// PatientSummaryCode is the LOINC document type for a patient summary.
	PatientSummaryCode = "60591-5"
)

// ErrSectionOrder is returned when sections are not in canonical order.
var ErrSectionOrder = errors.New("sections not in canonical order")

// Composer builds the IPS Composition.
type Composer struct {
	ids IDGenerator
}

func NewComposer(ids IDGenerator) *Composer {
	return &Composer{ids: ids}
}

// Compose builds the Composition for patient, authored by practitioner. The
// sections must be Medications, Allergies, Problems in that order.
func (c *Composer) Compose(patient *fhir.Patient, practitioner *fhir.Practitioner, sections [3]fhir.Section, now time.Time) (*fhir.Composition, error) {
	if patient == nil || patient.ID == "" || practitioner == nil || practitioner.ID == "" {
		return nil, ErrMissingIdentityContext
	}
	for i, kind := range CanonicalSections() {
		if !sections[i].Code.HasCode(LOINCSystem, kind.LOINCCode) {
			return nil, fmt.Errorf("%w: position %d is not %s", ErrSectionOrder, i, kind.Name)
		}
	}

	subject := fhir.ReferenceTo(patient)
	return &fhir.Composition{
		ID:     c.ids.NewID("composition", patient.ID, practitioner.ID),
		Meta:   &fhir.Meta{Profile: []string{CompositionProfile}},
		Status: "preliminary",
		Type: fhir.CodeableConcept{
			Coding: []fhir.Coding{{System: LOINCSystem, Code: PatientSummaryCode}},
		},
		Subject: &subject,
		Date:    formatInstant(now),
		Author:  []fhir.Reference{fhir.ReferenceTo(practitioner)},
		Title:   "IPS summary for " + patient.ID,
		Section: sections[:],
	}, nil
}
