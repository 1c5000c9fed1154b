package fhir

import (
	"encoding/json"
	"errors"
	"testing"
)

func newTestDocument() *DocumentBundle {
	patient := &Patient{ID: "pat-1"}
	practitioner := &Practitioner{ID: "pract-1"}
	cond := &Condition{ID: "cond-1", Subject: NewReference(ResourceTypePatient, "pat-1")}
	subject := ReferenceTo(patient)
	comp := &Composition{
		ID:      "comp-1",
		Status:  "preliminary",
		Type:    CodeableConcept{Coding: []Coding{{System: "http://loinc.org", Code: "60591-5"}}},
		Subject: &subject,
		Date:    "2024-01-15T10:00:00Z",
		Author:  []Reference{ReferenceTo(practitioner)},
		Title:   "IPS summary for pat-1",
		Section: []Section{{
			Title: "Problem List",
			Code:  CodeableConcept{Coding: []Coding{{System: "http://loinc.org", Code: "11450-4"}}},
			Entry: []Reference{ReferenceTo(cond)},
		}},
	}
	return &DocumentBundle{
		Type:       BundleTypeDocument,
		Identifier: &Identifier{System: IdentifierSystemURI, Value: "urn:uuid:5b0f0c1e-6a39-4d4f-9d55-8d0f8e7a1c11"},
		Timestamp:  "2024-01-15T10:00:00Z",
		Entry: []BundleEntry{
			{FullURL: "urn:uuid:00000000-0000-4000-8000-000000000001", Resource: comp},
			{FullURL: "urn:uuid:00000000-0000-4000-8000-000000000002", Resource: patient},
			{FullURL: "urn:uuid:00000000-0000-4000-8000-000000000003", Resource: practitioner},
			{FullURL: "urn:uuid:00000000-0000-4000-8000-000000000004", Resource: cond},
		},
	}
}

func TestCheckClosed_Valid(t *testing.T) {
	if err := CheckClosed(newTestDocument()); err != nil {
		t.Fatalf("expected closed bundle, got %v", err)
	}
}

func TestCheckClosed_Dangling(t *testing.T) {
	b := newTestDocument()
	b.Entry = b.Entry[:3] // drop the Condition

	err := CheckClosed(b)
	var cerr *ClosureError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ClosureError, got %v", err)
	}
	if len(cerr.Dangling) != 1 || cerr.Dangling[0] != "Condition/cond-1" {
		t.Errorf("expected Condition/cond-1 dangling, got %v", cerr.Dangling)
	}
}

func TestCheckClosed_Ambiguous(t *testing.T) {
	b := newTestDocument()
	b.Entry = append(b.Entry, BundleEntry{
		FullURL:  "urn:uuid:00000000-0000-4000-8000-000000000005",
		Resource: &Patient{ID: "pat-1"},
	})

	err := CheckClosed(b)
	var cerr *ClosureError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ClosureError, got %v", err)
	}
	if len(cerr.Ambiguous) != 1 || cerr.Ambiguous[0] != "Patient/pat-1" {
		t.Errorf("expected Patient/pat-1 ambiguous, got %v", cerr.Ambiguous)
	}
}

func TestCheckClosed_CompositionNotFirst(t *testing.T) {
	b := newTestDocument()
	b.Entry[0], b.Entry[1] = b.Entry[1], b.Entry[0]

	if err := CheckClosed(b); err == nil {
		t.Fatal("expected error when entry[0] is not a Composition")
	}
	if err := CheckClosed(nil); err == nil {
		t.Fatal("expected error for nil bundle")
	}
}

func TestDocumentBundle_JSONRoundTrip(t *testing.T) {
	b := newTestDocument()
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal map: %v", err)
	}
	if m["resourceType"] != "Bundle" || m["type"] != "document" {
		t.Errorf("unexpected bundle header: %v / %v", m["resourceType"], m["type"])
	}

	decoded, err := DecodeResource(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	db, ok := decoded.(*DocumentBundle)
	if !ok {
		t.Fatalf("expected *DocumentBundle, got %T", decoded)
	}
	if len(db.Entry) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(db.Entry))
	}
	if db.Composition() == nil {
		t.Fatal("expected entry[0] to decode as Composition")
	}
	if _, ok := db.Entry[3].Resource.(*Condition); !ok {
		t.Errorf("expected entry[3] Condition, got %T", db.Entry[3].Resource)
	}
	if err := CheckClosed(db); err != nil {
		t.Errorf("decoded bundle should still be closed: %v", err)
	}
}

func TestComposition_References(t *testing.T) {
	comp := newTestDocument().Composition()
	comp.Section = append(comp.Section, Section{
		Title:   "Nested",
		Section: []Section{{Entry: []Reference{{Reference: "Condition/cond-1"}}}},
	})

	refs := comp.References()
	if len(refs) != 4 {
		t.Fatalf("expected 4 references (subject, author, 2 entries), got %d", len(refs))
	}
	if refs[0].Reference != "Patient/pat-1" {
		t.Errorf("expected subject first, got %s", refs[0].Reference)
	}
}
