package ips

import (
	"fmt"
	"time"

	"github.com/ehr/ips-exporter/internal/platform/fhir"
)

// Packager wraps a Composition and the resources it references into a
// document Bundle.
type Packager struct {
	ids IDGenerator
}

func NewPackager(ids IDGenerator) *Packager {
	return &Packager{ids: ids}
}

// Package builds the document Bundle. Entry order is the Composition, the
// patient, the practitioner, then each section's resources in canonical
// section order. The result is checked for reference closure.
func (p *Packager) Package(comp *fhir.Composition, patient *fhir.Patient, practitioner *fhir.Practitioner, sections [3][]fhir.Resource, now time.Time) (*fhir.DocumentBundle, error) {
	resources := []fhir.Resource{comp, patient, practitioner}
	for _, rs := range sections {
		resources = append(resources, rs...)
	}

	entries := make([]fhir.BundleEntry, 0, len(resources))
	for _, r := range resources {
		entries = append(entries, fhir.BundleEntry{
			FullURL:  urnUUID(p.ids.NewID("fullUrl", comp.ID, string(r.GetResourceType()), r.GetID())),
			Resource: r,
		})
	}

	bundle := &fhir.DocumentBundle{
		Meta: &fhir.Meta{Profile: []string{BundleProfile}},
		// The value is a urn:uuid URN; a bare "urn:"+uuid is not valid
		// under the RFC 3986 identifier system.
		Identifier: &fhir.Identifier{
			System: fhir.IdentifierSystemURI,
			Value:  urnUUID(p.ids.NewID("bundle", comp.ID)),
		},
		Type:      fhir.BundleTypeDocument,
		Timestamp: formatInstant(now),
		Entry:     entries,
	}

	if err := fhir.CheckClosed(bundle); err != nil {
		return nil, fmt.Errorf("packaging document: %w", err)
	}
	return bundle, nil
}
