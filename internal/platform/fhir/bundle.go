package fhir

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	BundleTypeDocument = "document"

	// IdentifierSystemURI is the identifier system for values that are
	// themselves URIs (RFC 3986).
	IdentifierSystemURI = "urn:ietf:rfc:3986"
)

// DocumentBundle is a Bundle of type "document". The first entry is always the
// Composition; the remaining entries are the resources it references.
type DocumentBundle struct {
	wire
	ID         string        `json:"id,omitempty"`
	Meta       *Meta         `json:"meta,omitempty"`
	Identifier *Identifier   `json:"identifier,omitempty"`
	Type       string        `json:"type"`
	Timestamp  string        `json:"timestamp,omitempty"`
	Entry      []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry addresses a resource inside a bundle. FullURL is a bundle-local
// urn:uuid and is unrelated to the resource id.
type BundleEntry struct {
	FullURL  string   `json:"fullUrl,omitempty"`
	Resource Resource `json:"resource,omitempty"`
}

func (b *DocumentBundle) GetResourceType() ResourceType { return ResourceTypeBundle }
func (b *DocumentBundle) GetID() string                 { return b.ID }

func (b *DocumentBundle) MissingFields() []string {
	if b.Type == "" {
		return []string{"type"}
	}
	return nil
}

func (b DocumentBundle) MarshalJSON() ([]byte, error) {
	type alias DocumentBundle
	return marshalResource(ResourceTypeBundle, b.raw, alias(b))
}

// UnmarshalJSON decodes the entry resource through DecodeResource so the
// concrete variant is restored.
func (e *BundleEntry) UnmarshalJSON(data []byte) error {
	var tmp struct {
		FullURL  string          `json:"fullUrl"`
		Resource json.RawMessage `json:"resource"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	e.FullURL = tmp.FullURL
	e.Resource = nil
	if len(tmp.Resource) > 0 && string(tmp.Resource) != "null" {
		r, err := DecodeResource(tmp.Resource)
		if err != nil {
			return fmt.Errorf("entry %s: %w", tmp.FullURL, err)
		}
		e.Resource = r
	}
	return nil
}

// Composition returns entry[0] as a Composition, or nil if the bundle does not
// start with one.
func (b *DocumentBundle) Composition() *Composition {
	if len(b.Entry) == 0 {
		return nil
	}
	c, _ := b.Entry[0].Resource.(*Composition)
	return c
}

// Resolve returns every entry whose resource matches ref by (resourceType, id).
func (b *DocumentBundle) Resolve(ref Reference) []Resource {
	rt, id, ok := ref.Parts()
	if !ok {
		return nil
	}
	var out []Resource
	for _, e := range b.Entry {
		if e.Resource == nil {
			continue
		}
		if e.Resource.GetResourceType() == rt && e.Resource.GetID() == id {
			out = append(out, e.Resource)
		}
	}
	return out
}

// ClosureError reports references from the Composition that do not resolve to
// exactly one entry of the bundle.
type ClosureError struct {
	Dangling  []string
	Ambiguous []string
	Reason    string
}

func (e *ClosureError) Error() string {
	var parts []string
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if len(e.Dangling) > 0 {
		parts = append(parts, "unresolved references: "+strings.Join(e.Dangling, ", "))
	}
	if len(e.Ambiguous) > 0 {
		parts = append(parts, "ambiguous references: "+strings.Join(e.Ambiguous, ", "))
	}
	return "document bundle is not closed: " + strings.Join(parts, "; ")
}

// CheckClosed verifies the document-bundle rules: entry[0] is a Composition
// and every reference reachable from it resolves to exactly one entry.
func CheckClosed(b *DocumentBundle) error {
	if b == nil {
		return &ClosureError{Reason: "bundle is nil"}
	}
	comp := b.Composition()
	if comp == nil {
		return &ClosureError{Reason: "entry[0] is not a Composition"}
	}

	cerr := &ClosureError{}
	seen := make(map[string]bool)
	for _, ref := range comp.References() {
		if seen[ref.Reference] {
			continue
		}
		seen[ref.Reference] = true
		switch n := len(b.Resolve(ref)); {
		case n == 0:
			cerr.Dangling = append(cerr.Dangling, ref.Reference)
		case n > 1:
			cerr.Ambiguous = append(cerr.Ambiguous, ref.Reference)
		}
	}
	if len(cerr.Dangling) > 0 || len(cerr.Ambiguous) > 0 {
		return cerr
	}
	return nil
}
