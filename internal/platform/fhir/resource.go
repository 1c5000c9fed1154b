package fhir

import (
	"fmt"
	"strings"
)

type Meta struct {
	VersionID   string   `json:"versionId,omitempty"`
	LastUpdated string   `json:"lastUpdated,omitempty"`
	Profile     []string `json:"profile,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// HasCode reports whether any coding matches the given system and code.
func (cc CodeableConcept) HasCode(system, code string) bool {
	for _, c := range cc.Coding {
		if c.System == system && c.Code == code {
			return true
		}
	}
	return false
}

// Reference is a FHIR literal reference of the form "<resourceType>/<id>".
type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

// NewReference builds a literal reference to resourceType/id.
func NewReference(resourceType ResourceType, id string) Reference {
	return Reference{Reference: FormatReference(resourceType, id)}
}

// ReferenceTo builds a literal reference to r.
func ReferenceTo(r Resource) Reference {
	return NewReference(r.GetResourceType(), r.GetID())
}

// Parts splits a literal reference into its resource type and id. Absolute
// URLs, urn references and fragments are not literal relative references and
// report ok=false.
func (r Reference) Parts() (ResourceType, string, bool) {
	rt, id, found := strings.Cut(r.Reference, "/")
	if !found || rt == "" || id == "" || strings.Contains(id, "/") || strings.Contains(rt, ":") {
		return "", "", false
	}
	return ResourceType(rt), id, true
}

type Identifier struct {
	Use    string `json:"use,omitempty"`
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Text   string   `json:"text,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Prefix []string `json:"prefix,omitempty"`
	Suffix []string `json:"suffix,omitempty"`
}

type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type Annotation struct {
	Text string `json:"text"`
}

// FormatReference creates a FHIR reference string.
func FormatReference(resourceType ResourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}
