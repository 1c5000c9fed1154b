package fhir

// Composition is the root of a FHIR document.
type Composition struct {
	wire
	ID      string          `json:"id,omitempty"`
	Meta    *Meta           `json:"meta,omitempty"`
	Status  string          `json:"status,omitempty"`
	Type    CodeableConcept `json:"type"`
	Subject *Reference      `json:"subject,omitempty"`
	Date    string          `json:"date,omitempty"`
	Author  []Reference     `json:"author,omitempty"`
	Title   string          `json:"title,omitempty"`
	Section []Section       `json:"section,omitempty"`
}

// Section is a Composition.section. Entries reference resources carried in
// the same document bundle.
type Section struct {
	Title   string          `json:"title,omitempty"`
	Code    CodeableConcept `json:"code"`
	Entry   []Reference     `json:"entry,omitempty"`
	Section []Section       `json:"section,omitempty"`
}

func (c *Composition) GetResourceType() ResourceType { return ResourceTypeComposition }
func (c *Composition) GetID() string                 { return c.ID }

// MissingFields checks the elements a document Composition must carry.
func (c *Composition) MissingFields() []string {
	var missing []string
	if c.Status == "" {
		missing = append(missing, "status")
	}
	if len(c.Type.Coding) == 0 && c.Type.Text == "" {
		missing = append(missing, "type")
	}
	if c.Date == "" {
		missing = append(missing, "date")
	}
	if len(c.Author) == 0 {
		missing = append(missing, "author")
	}
	if c.Title == "" {
		missing = append(missing, "title")
	}
	return missing
}

func (c Composition) MarshalJSON() ([]byte, error) {
	type alias Composition
	return marshalResource(ResourceTypeComposition, c.raw, alias(c))
}

// References walks the Composition and returns every literal reference it
// makes: subject, author[], and section[].entry[] including nested sections.
// Duplicates are kept so callers can count them.
func (c *Composition) References() []Reference {
	var refs []Reference
	if c.Subject != nil && c.Subject.Reference != "" {
		refs = append(refs, *c.Subject)
	}
	for _, a := range c.Author {
		if a.Reference != "" {
			refs = append(refs, a)
		}
	}

	var walk func(sections []Section)
	walk = func(sections []Section) {
		for _, s := range sections {
			for _, e := range s.Entry {
				if e.Reference != "" {
					refs = append(refs, e)
				}
			}
			walk(s.Section)
		}
	}
	walk(c.Section)
	return refs
}
