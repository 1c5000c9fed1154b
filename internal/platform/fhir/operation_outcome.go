package fhir

import (
	"encoding/json"
	"fmt"
)

// OperationOutcome severity levels (FHIR R4).
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes (FHIR R4).
const (
	IssueTypeInvalid      = "invalid"
	IssueTypeRequired     = "required"
	IssueTypeNotFound     = "not-found"
	IssueTypeProcessing   = "processing"
	IssueTypeSecurity     = "security"
	IssueTypeLogin        = "login"
	IssueTypeThrottled    = "throttled"
	IssueTypeException    = "exception"
	IssueTypeTimeout      = "timeout"
	IssueTypeIncomplete   = "incomplete"
	IssueTypeTransient    = "transient"
	IssueTypeBusinessRule = "business-rule"
	IssueTypeTooCostly    = "too-costly"
)

type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

// OutcomeSummary counts the issues of an OperationOutcome by severity.
type OutcomeSummary struct {
	Fatal       int `json:"fatal"`
	Errors      int `json:"error"`
	Warnings    int `json:"warning"`
	Information int `json:"information"`
}

// Valid reports whether the outcome carried no error or fatal issues.
func (s OutcomeSummary) Valid() bool {
	return s.Fatal == 0 && s.Errors == 0
}

func (s OutcomeSummary) String() string {
	return fmt.Sprintf("fatal=%d error=%d warning=%d information=%d", s.Fatal, s.Errors, s.Warnings, s.Information)
}

// Summarize counts issue severities. Unknown severities are ignored.
func (o *OperationOutcome) Summarize() OutcomeSummary {
	var s OutcomeSummary
	for _, issue := range o.Issue {
		switch issue.Severity {
		case IssueSeverityFatal:
			s.Fatal++
		case IssueSeverityError:
			s.Errors++
		case IssueSeverityWarning:
			s.Warnings++
		case IssueSeverityInformation:
			s.Information++
		}
	}
	return s
}

// ParseOperationOutcome decodes data as an OperationOutcome. Validators may
// also wrap the outcome in a Parameters resource under the "return" parameter;
// both shapes are accepted.
func ParseOperationOutcome(data []byte) (*OperationOutcome, error) {
	var head struct {
		ResourceType string `json:"resourceType"`
		Parameter    []struct {
			Name     string          `json:"name"`
			Resource json.RawMessage `json:"resource"`
		} `json:"parameter"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode outcome: %w", err)
	}

	switch head.ResourceType {
	case "OperationOutcome":
		var oo OperationOutcome
		if err := json.Unmarshal(data, &oo); err != nil {
			return nil, fmt.Errorf("decode outcome: %w", err)
		}
		return &oo, nil
	case "Parameters":
		for _, p := range head.Parameter {
			if p.Name == "return" && len(p.Resource) > 0 {
				return ParseOperationOutcome(p.Resource)
			}
		}
		return nil, fmt.Errorf("decode outcome: Parameters has no return resource")
	default:
		return nil, fmt.Errorf("decode outcome: unexpected resourceType %q", head.ResourceType)
	}
}
