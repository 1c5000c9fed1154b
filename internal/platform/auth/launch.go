package auth

import (
	"context"
	"strings"
)

type contextKey string

const launchContextKey contextKey = "launch_context"

// LaunchContext is what a SMART launch establishes for one user session: the
// patient in context, the signed-in practitioner, the FHIR server (iss) and
// the access token for it.
type LaunchContext struct {
	PatientID      string `json:"patient"`
	PractitionerID string `json:"practitioner"`
	FHIRBaseURL    string `json:"fhir_server,omitempty"`
	AccessToken    string `json:"access_token,omitempty"`
}

// Complete reports whether both identities are present.
func (lc LaunchContext) Complete() bool {
	return lc.PatientID != "" && lc.PractitionerID != ""
}

// FHIRUser renders the practitioner as a SMART fhirUser claim.
func (lc LaunchContext) FHIRUser() string {
	if lc.PractitionerID == "" {
		return ""
	}
	return "Practitioner/" + lc.PractitionerID
}

// practitionerFromFHIRUser accepts either "Practitioner/<id>" or an absolute
// URL ending in it. Other resource types yield "".
func practitionerFromFHIRUser(fhirUser string) string {
	const marker = "Practitioner/"
	i := strings.LastIndex(fhirUser, marker)
	if i < 0 {
		return ""
	}
	if i > 0 && fhirUser[i-1] != '/' {
		return ""
	}
	id := fhirUser[i+len(marker):]
	if id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

func WithLaunchContext(ctx context.Context, lc LaunchContext) context.Context {
	return context.WithValue(ctx, launchContextKey, lc)
}

func LaunchContextFromContext(ctx context.Context) (LaunchContext, bool) {
	lc, ok := ctx.Value(launchContextKey).(LaunchContext)
	return lc, ok
}
