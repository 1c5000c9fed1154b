package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/ips-exporter/internal/config"
)

// fhirServer answers the identity reads and returns empty searchsets.
func fhirServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/fhir+json")
		switch r.URL.Path {
		case "/fhir/Patient/123":
			fmt.Fprint(w, `{"resourceType":"Patient","id":"123"}`)
		case "/fhir/Practitioner/456":
			fmt.Fprint(w, `{"resourceType":"Practitioner","id":"456"}`)
		case "/fhir/MedicationStatement", "/fhir/AllergyIntolerance", "/fhir/Condition":
			fmt.Fprint(w, `{"resourceType":"Bundle","type":"searchset","entry":[]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"not-found"}]}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func validatorServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/fhir+json")
		fmt.Fprint(w, `{"resourceType":"OperationOutcome","issue":[{"severity":"information","code":"informational"}]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Env:               "development",
		FHIRBaseURL:       fhirServer(t).URL + "/fhir",
		ValidatorURL:      validatorServer(t).URL + "/Bundle/$validate",
		ValidationTimeout: 5 * time.Second,
		SessionTTL:        time.Hour,
		SMARTClientID:     "ips-exporter",
		DevPatientID:      "123",
		DevPractitionerID: "456",
		IDMode:            "random",
		FetchTimeout:      5 * time.Second,
		SubmissionStore:   "memory",
		ArchiveDriver:     "memory",
		CORSOrigins:       []string{"http://localhost:3000"},
		RequestTimeout:    10 * time.Second,
		BodyLimit:         "1M",
	}
}

func newTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	a, err := buildApp(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	t.Cleanup(a.Close)
	e, err := a.router(cfg)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return e
}

func get(h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_ExportWithDevLaunch(t *testing.T) {
	h := newTestRouter(t, testConfig(t))

	rec := get(h, "/ips", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Resource struct {
			Type  string            `json:"type"`
			Entry []json.RawMessage `json:"entry"`
		} `json:"resource"`
		ValidationResult map[string]interface{} `json:"validationResult"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Resource.Type != "document" || len(body.Resource.Entry) != 6 {
		t.Errorf("unexpected bundle: type=%s entries=%d", body.Resource.Type, len(body.Resource.Entry))
	}
	if body.ValidationResult["resourceType"] != "OperationOutcome" {
		t.Errorf("unexpected validation result %v", body.ValidationResult)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id")
	}

	list := get(h, "/ips/submissions", nil)
	if list.Code != http.StatusOK || !strings.Contains(list.Body.String(), `"total":1`) {
		t.Errorf("expected one submission, got %d %s", list.Code, list.Body.String())
	}

	var page struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	_ = json.Unmarshal(list.Body.Bytes(), &page)
	if len(page.Data) == 1 {
		one := get(h, "/ips/submissions/"+page.Data[0].ID, nil)
		if one.Code != http.StatusOK || !strings.Contains(one.Body.String(), `"outcome":"valid"`) {
			t.Errorf("expected the submission record, got %d %s", one.Code, one.Body.String())
		}
	}
	missing := get(h, "/ips/submissions/00000000-0000-4000-8000-000000000000", nil)
	if missing.Code != http.StatusNotFound || !strings.Contains(missing.Body.String(), "not-found") {
		t.Errorf("expected a not-found OperationOutcome, got %d %s", missing.Code, missing.Body.String())
	}

	archived := get(h, "/ips/archive", nil)
	if archived.Code != http.StatusOK || !strings.Contains(archived.Body.String(), "ips/123/") {
		t.Errorf("expected archived document, got %d %s", archived.Code, archived.Body.String())
	}
}

func TestRouter_Operational(t *testing.T) {
	h := newTestRouter(t, testConfig(t))

	health := get(h, "/health", nil)
	if health.Code != http.StatusOK || !strings.Contains(health.Body.String(), `"healthy"`) {
		t.Errorf("unexpected health %d %s", health.Code, health.Body.String())
	}

	_ = get(h, "/ips/$document", nil)
	metrics := get(h, "/metrics", nil)
	if metrics.Code != http.StatusOK || !strings.Contains(metrics.Body.String(), "ips_assemblies_total") {
		t.Errorf("expected assembly metrics, got %d", metrics.Code)
	}
}

func TestRouter_SessionRequired(t *testing.T) {
	cfg := testConfig(t)
	cfg.DevPatientID = ""
	h := newTestRouter(t, cfg)

	rec := get(h, "/ips", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "OperationOutcome") {
		t.Errorf("expected OperationOutcome body, got %s", rec.Body.String())
	}

	bad := get(h, "/ips", map[string]string{"Authorization": "Bearer not-a-session"})
	if bad.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a forged session, got %d", bad.Code)
	}
}

func TestRouter_SessionHandOff(t *testing.T) {
	cfg := testConfig(t)
	cfg.DevPatientID = ""
	h := newTestRouter(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(`{"patient":"123","practitioner":"456"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var session struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &session)

	doc := get(h, "/ips/$document", map[string]string{"Authorization": "Bearer " + session.Token})
	if doc.Code != http.StatusOK {
		t.Fatalf("expected 200 with a session, got %d: %s", doc.Code, doc.Body.String())
	}
	if doc.Header().Get("X-IPS-Placeholders") != "medications,allergies,problems" {
		t.Errorf("unexpected placeholders %q", doc.Header().Get("X-IPS-Placeholders"))
	}
}

func TestSessionCodec(t *testing.T) {
	cfg := &config.Config{Env: "production", SessionTTL: time.Hour}
	if _, err := sessionCodec(cfg); err == nil {
		t.Error("expected an error without a secret outside development")
	}

	cfg.Env = "development"
	if _, err := sessionCodec(cfg); err != nil {
		t.Errorf("expected an ephemeral secret in development, got %v", err)
	}
}

func TestNewLogger_Level(t *testing.T) {
	cfg := &config.Config{Env: "production", LogLevel: "warn"}
	if l := newLogger(cfg, nil); l.GetLevel() != zerolog.WarnLevel {
		t.Errorf("expected warn, got %s", l.GetLevel())
	}
	cfg.LogLevel = "bogus"
	if l := newLogger(cfg, nil); l.GetLevel() != zerolog.InfoLevel {
		t.Errorf("expected info fallback, got %s", l.GetLevel())
	}
}
