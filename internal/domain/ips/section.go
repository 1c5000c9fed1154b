package ips

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/ips-exporter/internal/platform/fhir"
	"github.com/ehr/ips-exporter/internal/platform/telemetry"
)

const (
	LOINCSystem = "http://loinc.org"

	// AbsentUnknownSystem is the IPS code system for "no information" and
	// "known absent" assertions.
	AbsentUnknownSystem = "http://hl7.org/fhir/uv/ips/CodeSystem/absent-unknown-uv-ips"

	allergyClinicalSystem   = "http://terminology.hl7.org/CodeSystem/allergyintolerance-clinical"
	conditionClinicalSystem = "http://terminology.hl7.org/CodeSystem/condition-clinical"
)

// Fetcher returns the resources of one type recorded for a patient. Any error
// is a fetch failure; section builders absorb it.
type Fetcher interface {
	Fetch(ctx context.Context, resourceType fhir.ResourceType, patientID string) ([]fhir.Resource, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, resourceType fhir.ResourceType, patientID string) ([]fhir.Resource, error)

func (f FetcherFunc) Fetch(ctx context.Context, resourceType fhir.ResourceType, patientID string) ([]fhir.Resource, error) {
	return f(ctx, resourceType, patientID)
}

// placeholderFunc synthesizes the "no information" resource for a section.
type placeholderFunc func(id string, subject fhir.Reference, absent fhir.CodeableConcept, now string) fhir.Resource

// SectionKind fixes everything that differs between the three IPS sections.
type SectionKind struct {
	Name          string
	ResourceType  fhir.ResourceType
	LOINCCode     string
	Title         string
	AbsentCode    string
	AbsentDisplay string
	placeholder   placeholderFunc
}

var (
	Medications = SectionKind{
		Name:          "medications",
		ResourceType:  fhir.ResourceTypeMedicationStatement,
		LOINCCode:     "10160-0",
		Title:         "Medication Summary",
		AbsentCode:    "no-medication-info",
		AbsentDisplay: "No information about medications",
		placeholder: func(id string, subject fhir.Reference, absent fhir.CodeableConcept, now string) fhir.Resource {
			return &fhir.MedicationStatement{
				ID:                        id,
				Status:                    "unknown",
				MedicationCodeableConcept: &absent,
				Subject:                   subject,
				EffectiveDateTime:         now,
			}
		},
	}

	Allergies = SectionKind{
		Name:          "allergies",
		ResourceType:  fhir.ResourceTypeAllergyIntolerance,
		LOINCCode:     "48765-2",
		Title:         "Allergies and Intolerances",
		AbsentCode:    "no-allergy-info",
		AbsentDisplay: "No information about allergies",
		placeholder: func(id string, subject fhir.Reference, absent fhir.CodeableConcept, now string) fhir.Resource {
			return &fhir.AllergyIntolerance{
				ID: id,
				ClinicalStatus: &fhir.CodeableConcept{
					Coding: []fhir.Coding{{System: allergyClinicalSystem, Code: "active"}},
				},
				Code:         &absent,
				Patient:      subject,
				RecordedDate: now,
			}
		},
	}

	Problems = SectionKind{
		Name:          "problems",
		ResourceType:  fhir.ResourceTypeCondition,
		LOINCCode:     "11450-4",
		Title:         "Problem List",
		AbsentCode:    "no-problem-info",
		AbsentDisplay: "No information about problems",
		placeholder: func(id string, subject fhir.Reference, absent fhir.CodeableConcept, now string) fhir.Resource {
			return &fhir.Condition{
				ID: id,
				ClinicalStatus: &fhir.CodeableConcept{
					Coding: []fhir.Coding{{System: conditionClinicalSystem, Code: "active"}},
				},
				Code:         &absent,
				Subject:      subject,
				RecordedDate: now,
			}
		},
	}
)

// CanonicalSections is the fixed IPS section order. Consumers of the IPS
// profile rely on it.
func CanonicalSections() [3]SectionKind {
	return [3]SectionKind{Medications, Allergies, Problems}
}

// Code is the LOINC section code.
func (k SectionKind) Code() fhir.CodeableConcept {
	return fhir.CodeableConcept{Coding: []fhir.Coding{{System: LOINCSystem, Code: k.LOINCCode}}}
}

// AbsentConcept is the absent/unknown coding carried by the placeholder.
func (k SectionKind) AbsentConcept() fhir.CodeableConcept {
	return fhir.CodeableConcept{Coding: []fhir.Coding{{
		System:  AbsentUnknownSystem,
		Code:    k.AbsentCode,
		Display: k.AbsentDisplay,
	}}}
}

// Placeholder synthesizes the "no information" resource for patientID.
func (k SectionKind) Placeholder(id, patientID string, now time.Time) fhir.Resource {
	return k.placeholder(id, fhir.NewReference(fhir.ResourceTypePatient, patientID), k.AbsentConcept(), formatInstant(now))
}

// SectionResult is one built section together with the resource bodies its
// entries reference.
type SectionResult struct {
	Kind        SectionKind
	Section     fhir.Section
	Resources   []fhir.Resource
	Placeholder bool
	FetchErr    error
}

// SectionBuilder turns one fetched collection into a section.
type SectionBuilder struct {
	kind    SectionKind
	ids     IDGenerator
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

func NewSectionBuilder(kind SectionKind, ids IDGenerator, logger zerolog.Logger, metrics *telemetry.Metrics) *SectionBuilder {
	return &SectionBuilder{
		kind:    kind,
		ids:     ids,
		logger:  logger.With().Str("section", kind.Name).Logger(),
		metrics: metrics,
	}
}

// Build fetches the section's resources and builds the section. It never
// fails: a fetch failure is treated as an empty collection, and an empty
// collection gets exactly one placeholder.
func (b *SectionBuilder) Build(ctx context.Context, fetcher Fetcher, patientID string, now time.Time) SectionResult {
	res := SectionResult{Kind: b.kind}

	fetched, err := fetcher.Fetch(ctx, b.kind.ResourceType, patientID)
	if err != nil {
		b.logger.Warn().Err(err).
			Str("resource_type", string(b.kind.ResourceType)).
			Msg("fetch failed, treating as empty")
		b.metrics.FetchFailed(string(b.kind.ResourceType))
		res.FetchErr = err
		fetched = nil
	}

	res.Resources = b.normalize(fetched)

	if len(res.Resources) == 0 {
		id := b.ids.NewID("placeholder", b.kind.Name, patientID)
		res.Resources = []fhir.Resource{b.kind.Placeholder(id, patientID, now)}
		res.Placeholder = true
		b.metrics.PlaceholderInserted(b.kind.Name)
	}

	entries := make([]fhir.Reference, 0, len(res.Resources))
	for _, r := range res.Resources {
		entries = append(entries, fhir.ReferenceTo(r))
	}
	res.Section = fhir.Section{
		Title: b.kind.Title,
		Code:  b.kind.Code(),
		Entry: entries,
	}
	return res
}

// normalize drops what cannot be referenced: nil resources, resources without
// an id, and repeated (type, id) pairs. Each exclusion is logged. The section
// then has one entry per remaining resource, so the entry count matches the
// input count only for referenceable, unique input.
func (b *SectionBuilder) normalize(in []fhir.Resource) []fhir.Resource {
	out := make([]fhir.Resource, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, r := range in {
		if r == nil {
			continue
		}
		if r.GetID() == "" {
			b.logger.Warn().Str("resource_type", string(r.GetResourceType())).Msg("skipping resource without id")
			continue
		}
		ref := fhir.ReferenceTo(r).Reference
		if seen[ref] {
			b.logger.Warn().Str("reference", ref).Msg("skipping duplicate resource")
			continue
		}
		seen[ref] = true
		if missing := r.MissingFields(); len(missing) > 0 {
			b.logger.Debug().Str("reference", ref).Strs("missing", missing).Msg("resource lacks required elements")
		}
		out = append(out, r)
	}
	return out
}

func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
