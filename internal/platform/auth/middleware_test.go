package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSessionKey = []byte("test-secret-key-for-unit-tests-only")

func newTestCodec(t *testing.T) *SessionCodec {
	t.Helper()
	codec, err := NewSessionCodec(testSessionKey, "ips-exporter", time.Hour)
	if err != nil {
		t.Fatalf("NewSessionCodec: %v", err)
	}
	return codec
}

func captureLaunch(got *LaunchContext) echo.HandlerFunc {
	return func(c echo.Context) error {
		lc, ok := LaunchContextFromContext(c.Request().Context())
		if !ok {
			return echo.NewHTTPError(http.StatusTeapot, "no launch context")
		}
		*got = lc
		return c.String(http.StatusOK, "ok")
	}
}

func TestSessionCodec_RoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	in := LaunchContext{PatientID: "123", PractitionerID: "456", FHIRBaseURL: "https://fhir.example.org/r4", AccessToken: "at-1"}

	token, err := codec.Issue(in)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	out, err := codec.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if out != in {
		t.Errorf("expected %+v, got %+v", in, out)
	}
}

func TestSessionCodec_Rejects(t *testing.T) {
	codec := newTestCodec(t)

	if _, err := codec.Issue(LaunchContext{PatientID: "123"}); err == nil {
		t.Error("expected Issue to require a practitioner")
	}

	other, _ := NewSessionCodec([]byte("another-secret-key-entirely"), "ips-exporter", time.Hour)
	foreign, _ := other.Issue(LaunchContext{PatientID: "123", PractitionerID: "456"})
	if _, err := codec.Parse(foreign); err == nil {
		t.Error("expected token signed with another key to be rejected")
	}

	codec.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := codec.Issue(LaunchContext{PatientID: "123", PractitionerID: "456"})
	codec.now = time.Now
	if _, err := codec.Parse(expired); err == nil {
		t.Error("expected expired token to be rejected")
	}

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Audience:  jwt.ClaimStrings{"ips-exporter"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Patient:  "123",
		FHIRUser: "Patient/123",
	}
	patientUser, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSessionKey)
	if _, err := codec.Parse(patientUser); err == nil {
		t.Error("expected session without a practitioner fhirUser to be rejected")
	}

	if _, err := NewSessionCodec([]byte("short"), "", time.Hour); err == nil {
		t.Error("expected short secret to be rejected")
	}
}

func TestPractitionerFromFHIRUser(t *testing.T) {
	tests := map[string]string{
		"Practitioner/456":                          "456",
		"https://fhir.example.org/Practitioner/789": "789",
		"Patient/123":                               "",
		"Practitioner/":                             "",
		"XPractitioner/1":                           "",
		"":                                          "",
	}
	for in, want := range tests {
		if got := practitionerFromFHIRUser(in); got != want {
			t.Errorf("practitionerFromFHIRUser(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSessionMiddleware_BearerToken(t *testing.T) {
	codec := newTestCodec(t)
	token, _ := codec.Issue(LaunchContext{PatientID: "123", PractitionerID: "456"})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ips", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/ips")

	var got LaunchContext
	mw := SessionMiddleware(SessionConfig{Codec: codec, DefaultFHIRBaseURL: "https://default.example.org/fhir"})
	if err := mw(captureLaunch(&got))(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PatientID != "123" || got.PractitionerID != "456" {
		t.Errorf("unexpected launch context %+v", got)
	}
	if got.FHIRBaseURL != "https://default.example.org/fhir" {
		t.Errorf("expected default FHIR base url, got %q", got.FHIRBaseURL)
	}
}

func TestSessionMiddleware_Cookie(t *testing.T) {
	codec := newTestCodec(t)
	token, _ := codec.Issue(LaunchContext{PatientID: "p1", PractitionerID: "d1", FHIRBaseURL: "https://iss.example.org"})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ips", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got LaunchContext
	if err := SessionMiddleware(SessionConfig{Codec: codec})(captureLaunch(&got))(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FHIRBaseURL != "https://iss.example.org" {
		t.Errorf("expected session FHIR server to win, got %q", got.FHIRBaseURL)
	}
}

func TestSessionMiddleware_Unauthorized(t *testing.T) {
	codec := newTestCodec(t)
	tests := []struct {
		name   string
		header string
	}{
		{"no session", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/ips", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())

			var got LaunchContext
			err := SessionMiddleware(SessionConfig{Codec: codec})(captureLaunch(&got))(c)
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
			}
			if httpErr.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", httpErr.Code)
			}
		})
	}
}

func TestSessionMiddleware_DevDefaults(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ips", nil), httptest.NewRecorder())

	var got LaunchContext
	mw := SessionMiddleware(SessionConfig{Defaults: LaunchContext{PatientID: "dev-patient", PractitionerID: "dev-practitioner"}})
	if err := mw(captureLaunch(&got))(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PatientID != "dev-patient" || got.PractitionerID != "dev-practitioner" {
		t.Errorf("expected dev defaults, got %+v", got)
	}
}

func TestSessionMiddleware_SkipsPublicPaths(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	c.SetPath("/health")

	called := false
	h := SessionMiddleware(SessionConfig{})(func(echo.Context) error { called = true; return nil })
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected public path to reach handler")
	}
	if !IsPublicPath("/metrics") || IsPublicPath("/ips") {
		t.Error("unexpected public path classification")
	}
}

func TestLaunchContext_Context(t *testing.T) {
	if _, ok := LaunchContextFromContext(context.Background()); ok {
		t.Error("expected no launch context on empty context")
	}
	ctx := WithLaunchContext(context.Background(), LaunchContext{PatientID: "1", PractitionerID: "2"})
	lc, ok := LaunchContextFromContext(ctx)
	if !ok || lc.FHIRUser() != "Practitioner/2" {
		t.Errorf("unexpected launch context %+v", lc)
	}
}

func TestSessionHandler_Create(t *testing.T) {
	codec := newTestCodec(t)
	h := NewSessionHandler(codec, false)

	e := echo.New()
	body := `{"patient":"123","practitioner":"456","fhir_server":"https://fhir.example.org"}`
	req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	lc, err := codec.Parse(resp.Token)
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if lc.PatientID != "123" || lc.FHIRBaseURL != "https://fhir.example.org" {
		t.Errorf("unexpected launch context %+v", lc)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookie || !cookies[0].HttpOnly {
		t.Errorf("expected HttpOnly session cookie, got %+v", cookies)
	}
}

func TestSessionHandler_CreateIncomplete(t *testing.T) {
	h := NewSessionHandler(newTestCodec(t), false)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(`{"patient":"123"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Create(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
