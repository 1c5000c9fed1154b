package fhir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ResourceType is the FHIR resourceType discriminator. Only the types the IPS
// document needs are modelled.
type ResourceType string

const (
	ResourceTypePatient             ResourceType = "Patient"
	ResourceTypePractitioner        ResourceType = "Practitioner"
	ResourceTypeMedicationStatement ResourceType = "MedicationStatement"
	ResourceTypeMedicationRequest   ResourceType = "MedicationRequest"
	ResourceTypeAllergyIntolerance  ResourceType = "AllergyIntolerance"
	ResourceTypeCondition           ResourceType = "Condition"
	ResourceTypeComposition         ResourceType = "Composition"
	ResourceTypeBundle              ResourceType = "Bundle"
)

// ErrUnsupportedResourceType is returned when a payload carries a
// resourceType outside the modelled set.
var ErrUnsupportedResourceType = errors.New("unsupported resource type")

// Resource is implemented by every modelled resource variant.
type Resource interface {
	GetResourceType() ResourceType
	GetID() string
	// MissingFields lists required (1..1) elements that are absent.
	MissingFields() []string
}

// wire holds the payload a resource was decoded from. Decoded resources are
// re-emitted byte-for-byte so elements outside the typed model survive.
type wire struct {
	raw json.RawMessage
}

func (w *wire) setRaw(b []byte) {
	w.raw = append(json.RawMessage(nil), b...)
}

// Decoded reports whether the resource came off the wire rather than being
// synthesized locally.
func (w *wire) Decoded() bool { return len(w.raw) > 0 }

type rawSetter interface {
	setRaw([]byte)
}

// marshalResource emits raw when present, otherwise v with resourceType
// injected as the first member.
func marshalResource(rt ResourceType, raw json.RawMessage, v interface{}) ([]byte, error) {
	if len(raw) > 0 {
		return raw, nil
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"resourceType":`)
	rtJSON, _ := json.Marshal(string(rt))
	buf.Write(rtJSON)
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 2 {
		buf.WriteByte(',')
		buf.Write(trimmed[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// ---------------------------------------------------------------------------
// Patient / Practitioner
// ---------------------------------------------------------------------------

type Patient struct {
	wire
	ID         string       `json:"id,omitempty"`
	Meta       *Meta        `json:"meta,omitempty"`
	Identifier []Identifier `json:"identifier,omitempty"`
	Active     *bool        `json:"active,omitempty"`
	Name       []HumanName  `json:"name,omitempty"`
	Gender     string       `json:"gender,omitempty"`
	BirthDate  string       `json:"birthDate,omitempty"`
}

func (p *Patient) GetResourceType() ResourceType { return ResourceTypePatient }
func (p *Patient) GetID() string                 { return p.ID }
func (p *Patient) MissingFields() []string       { return nil }

func (p Patient) MarshalJSON() ([]byte, error) {
	type alias Patient
	return marshalResource(ResourceTypePatient, p.raw, alias(p))
}

type Practitioner struct {
	wire
	ID         string       `json:"id,omitempty"`
	Meta       *Meta        `json:"meta,omitempty"`
	Identifier []Identifier `json:"identifier,omitempty"`
	Active     *bool        `json:"active,omitempty"`
	Name       []HumanName  `json:"name,omitempty"`
}

func (p *Practitioner) GetResourceType() ResourceType { return ResourceTypePractitioner }
func (p *Practitioner) GetID() string                 { return p.ID }
func (p *Practitioner) MissingFields() []string       { return nil }

func (p Practitioner) MarshalJSON() ([]byte, error) {
	type alias Practitioner
	return marshalResource(ResourceTypePractitioner, p.raw, alias(p))
}

// ---------------------------------------------------------------------------
// Medication resources
// ---------------------------------------------------------------------------

type MedicationStatement struct {
	wire
	ID                        string           `json:"id,omitempty"`
	Meta                      *Meta            `json:"meta,omitempty"`
	Status                    string           `json:"status,omitempty"`
	MedicationCodeableConcept *CodeableConcept `json:"medicationCodeableConcept,omitempty"`
	MedicationReference       *Reference       `json:"medicationReference,omitempty"`
	Subject                   Reference        `json:"subject"`
	EffectiveDateTime         string           `json:"effectiveDateTime,omitempty"`
	EffectivePeriod           *Period          `json:"effectivePeriod,omitempty"`
	DateAsserted              string           `json:"dateAsserted,omitempty"`
	Note                      []Annotation     `json:"note,omitempty"`
}

func (m *MedicationStatement) GetResourceType() ResourceType {
	return ResourceTypeMedicationStatement
}
func (m *MedicationStatement) GetID() string { return m.ID }

func (m *MedicationStatement) MissingFields() []string {
	var missing []string
	if m.Status == "" {
		missing = append(missing, "status")
	}
	if m.MedicationCodeableConcept == nil && m.MedicationReference == nil {
		missing = append(missing, "medication[x]")
	}
	if m.Subject.Reference == "" {
		missing = append(missing, "subject")
	}
	return missing
}

func (m MedicationStatement) MarshalJSON() ([]byte, error) {
	type alias MedicationStatement
	return marshalResource(ResourceTypeMedicationStatement, m.raw, alias(m))
}

type MedicationRequest struct {
	wire
	ID                        string           `json:"id,omitempty"`
	Meta                      *Meta            `json:"meta,omitempty"`
	Status                    string           `json:"status,omitempty"`
	Intent                    string           `json:"intent,omitempty"`
	MedicationCodeableConcept *CodeableConcept `json:"medicationCodeableConcept,omitempty"`
	MedicationReference       *Reference       `json:"medicationReference,omitempty"`
	Subject                   Reference        `json:"subject"`
	AuthoredOn                string           `json:"authoredOn,omitempty"`
	Requester                 *Reference       `json:"requester,omitempty"`
}

func (m *MedicationRequest) GetResourceType() ResourceType { return ResourceTypeMedicationRequest }
func (m *MedicationRequest) GetID() string                 { return m.ID }

func (m *MedicationRequest) MissingFields() []string {
	var missing []string
	if m.Status == "" {
		missing = append(missing, "status")
	}
	if m.Intent == "" {
		missing = append(missing, "intent")
	}
	if m.MedicationCodeableConcept == nil && m.MedicationReference == nil {
		missing = append(missing, "medication[x]")
	}
	if m.Subject.Reference == "" {
		missing = append(missing, "subject")
	}
	return missing
}

func (m MedicationRequest) MarshalJSON() ([]byte, error) {
	type alias MedicationRequest
	return marshalResource(ResourceTypeMedicationRequest, m.raw, alias(m))
}

// ---------------------------------------------------------------------------
// AllergyIntolerance / Condition
// ---------------------------------------------------------------------------

type AllergyIntolerance struct {
	wire
	ID                 string           `json:"id,omitempty"`
	Meta               *Meta            `json:"meta,omitempty"`
	ClinicalStatus     *CodeableConcept `json:"clinicalStatus,omitempty"`
	VerificationStatus *CodeableConcept `json:"verificationStatus,omitempty"`
	Type               string           `json:"type,omitempty"`
	Category           []string         `json:"category,omitempty"`
	Criticality        string           `json:"criticality,omitempty"`
	Code               *CodeableConcept `json:"code,omitempty"`
	Patient            Reference        `json:"patient"`
	OnsetDateTime      string           `json:"onsetDateTime,omitempty"`
	RecordedDate       string           `json:"recordedDate,omitempty"`
}

func (a *AllergyIntolerance) GetResourceType() ResourceType { return ResourceTypeAllergyIntolerance }
func (a *AllergyIntolerance) GetID() string                 { return a.ID }

func (a *AllergyIntolerance) MissingFields() []string {
	if a.Patient.Reference == "" {
		return []string{"patient"}
	}
	return nil
}

func (a AllergyIntolerance) MarshalJSON() ([]byte, error) {
	type alias AllergyIntolerance
	return marshalResource(ResourceTypeAllergyIntolerance, a.raw, alias(a))
}

type Condition struct {
	wire
	ID                 string            `json:"id,omitempty"`
	Meta               *Meta             `json:"meta,omitempty"`
	ClinicalStatus     *CodeableConcept  `json:"clinicalStatus,omitempty"`
	VerificationStatus *CodeableConcept  `json:"verificationStatus,omitempty"`
	Category           []CodeableConcept `json:"category,omitempty"`
	Severity           *CodeableConcept  `json:"severity,omitempty"`
	Code               *CodeableConcept  `json:"code,omitempty"`
	Subject            Reference         `json:"subject"`
	OnsetDateTime      string            `json:"onsetDateTime,omitempty"`
	AbatementDateTime  string            `json:"abatementDateTime,omitempty"`
	RecordedDate       string            `json:"recordedDate,omitempty"`
}

func (c *Condition) GetResourceType() ResourceType { return ResourceTypeCondition }
func (c *Condition) GetID() string                 { return c.ID }

func (c *Condition) MissingFields() []string {
	if c.Subject.Reference == "" {
		return []string{"subject"}
	}
	return nil
}

func (c Condition) MarshalJSON() ([]byte, error) {
	type alias Condition
	return marshalResource(ResourceTypeCondition, c.raw, alias(c))
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

func newResource(rt ResourceType) (Resource, error) {
	switch rt {
	case ResourceTypePatient:
		return &Patient{}, nil
	case ResourceTypePractitioner:
		return &Practitioner{}, nil
	case ResourceTypeMedicationStatement:
		return &MedicationStatement{}, nil
	case ResourceTypeMedicationRequest:
		return &MedicationRequest{}, nil
	case ResourceTypeAllergyIntolerance:
		return &AllergyIntolerance{}, nil
	case ResourceTypeCondition:
		return &Condition{}, nil
	case ResourceTypeComposition:
		return &Composition{}, nil
	case ResourceTypeBundle:
		return &DocumentBundle{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedResourceType, rt)
	}
}

// DecodeResource decodes a single resource, dispatching on its resourceType.
// The returned resource re-encodes to exactly the bytes it was decoded from.
func DecodeResource(data []byte) (Resource, error) {
	var head struct {
		ResourceType ResourceType `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	if head.ResourceType == "" {
		return nil, fmt.Errorf("decode resource: missing resourceType")
	}

	r, err := newResource(head.ResourceType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.ResourceType, err)
	}
	if rs, ok := r.(rawSetter); ok {
		rs.setRaw(data)
	}
	return r, nil
}
