// Package fhirclient reads a patient's record from a SMART launch's FHIR
// server. Searches and reads go through go-fhir-client; every request shares
// a process-wide rate limiter and carries the launch's bearer token.
package fhirclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gofhir "github.com/SanteonNL/go-fhir-client"
	"github.com/rs/zerolog"
	fhirmodel "github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
	"golang.org/x/time/rate"

	"github.com/ehr/ips-exporter/internal/platform/auth"
	"github.com/ehr/ips-exporter/internal/platform/fhir"
)

const (
	DefaultPageSize = 50
	DefaultMaxPages = 20
	DefaultTimeout  = 15 * time.Second

	maxPageBytes = 8 << 20
)

// ErrNoBaseURL is returned when neither the launch nor the configuration
// names a FHIR server.
var ErrNoBaseURL = errors.New("no FHIR base URL")

// FetchError describes a failed search or read against the FHIR server.
type FetchError struct {
	Op           string
	ResourceType fhir.ResourceType
	Err          error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fhir %s %s: %v", e.Op, e.ResourceType, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Options configures a Factory.
type Options struct {
	BaseURL  string
	Timeout  time.Duration
	PageSize int
	MaxPages int
	RPS      float64
	Burst    int
	Logger   zerolog.Logger
}

// Factory opens a Source per launch. Sources opened by one Factory share its
// rate limiter.
type Factory struct {
	baseURL  string
	timeout  time.Duration
	pageSize int
	maxPages int
	limiter  *rate.Limiter
	base     http.RoundTripper
	logger   zerolog.Logger
}

func NewFactory(opts Options) *Factory {
	f := &Factory{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		timeout:  opts.Timeout,
		pageSize: opts.PageSize,
		maxPages: opts.MaxPages,
		base:     http.DefaultTransport,
		logger:   opts.Logger.With().Str("component", "fhirclient").Logger(),
	}
	if f.timeout <= 0 {
		f.timeout = DefaultTimeout
	}
	if f.pageSize <= 0 {
		f.pageSize = DefaultPageSize
	}
	if f.maxPages <= 0 {
		f.maxPages = DefaultMaxPages
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return f
}

// Open returns a Source for the given server and token. An empty baseURL
// falls back to the factory default.
func (f *Factory) Open(baseURL, accessToken string) (*Source, error) {
	raw := strings.TrimRight(baseURL, "/")
	if raw == "" {
		raw = f.baseURL
	}
	if raw == "" {
		return nil, ErrNoBaseURL
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid FHIR base URL %q", raw)
	}

	httpClient := &http.Client{
		Timeout: f.timeout,
		Transport: &transport{
			base:    f.base,
			token:   accessToken,
			limiter: f.limiter,
		},
	}
	return &Source{
		client:   gofhir.New(u, httpClient, nil),
		http:     httpClient,
		baseURL:  u,
		pageSize: f.pageSize,
		maxPages: f.maxPages,
		logger:   f.logger.With().Str("fhir_server", u.Host).Logger(),
	}, nil
}

// ForLaunch opens the Source for a SMART launch.
func (f *Factory) ForLaunch(lc auth.LaunchContext) (*Source, error) {
	return f.Open(lc.FHIRBaseURL, lc.AccessToken)
}

// Source searches and reads one FHIR server on behalf of one launch.
type Source struct {
	client   *gofhir.BaseClient
	http     *http.Client
	baseURL  *url.URL
	pageSize int
	maxPages int
	logger   zerolog.Logger
}

// Fetch searches <type>?patient=<id>, following next links until the
// server stops paging or the page cap is reached. Entries of other types,
// such as search outcomes, are ignored. Entries that fail to decode are
// logged and skipped; the rest of the page is kept.
func (s *Source) Fetch(ctx context.Context, resourceType fhir.ResourceType, patientID string) ([]fhir.Resource, error) {
	if patientID == "" {
		return nil, &FetchError{Op: "search", ResourceType: resourceType, Err: errors.New("empty patient id")}
	}

	var page fhirmodel.Bundle
	err := s.client.ReadWithContext(ctx, string(resourceType), &page,
		gofhir.QueryParam("patient", patientID),
		gofhir.QueryParam("_count", strconv.Itoa(s.pageSize)),
	)
	if err != nil {
		return nil, &FetchError{Op: "search", ResourceType: resourceType, Err: err}
	}

	var out []fhir.Resource
	for pages := 1; ; pages++ {
		for _, entry := range page.Entry {
			if len(entry.Resource) == 0 {
				continue
			}
			r, err := fhir.DecodeResource(entry.Resource)
			if errors.Is(err, fhir.ErrUnsupportedResourceType) {
				continue
			}
			if err != nil {
				s.logger.Warn().Err(err).
					Str("resource_type", string(resourceType)).
					Msg("skipping undecodable search entry")
				continue
			}
			if r.GetResourceType() != resourceType {
				continue
			}
			out = append(out, r)
		}

		next := nextLink(page)
		if next == "" {
			break
		}
		if pages >= s.maxPages {
			s.logger.Warn().
				Str("resource_type", string(resourceType)).
				Int("pages", pages).
				Msg("search page limit reached, remaining results dropped")
			break
		}
		page = fhirmodel.Bundle{}
		if err := s.getPage(ctx, next, &page); err != nil {
			return nil, &FetchError{Op: "search", ResourceType: resourceType, Err: err}
		}
	}

	s.logger.Debug().
		Str("resource_type", string(resourceType)).
		Int("count", len(out)).
		Msg("search complete")
	return out, nil
}

// Read fetches <type>/<id>.
func (s *Source) Read(ctx context.Context, resourceType fhir.ResourceType, id string) (fhir.Resource, error) {
	if id == "" || strings.ContainsAny(id, "/?#") {
		return nil, &FetchError{Op: "read", ResourceType: resourceType, Err: fmt.Errorf("invalid id %q", id)}
	}

	var raw json.RawMessage
	if err := s.client.ReadWithContext(ctx, fhir.FormatReference(resourceType, id), &raw); err != nil {
		return nil, &FetchError{Op: "read", ResourceType: resourceType, Err: err}
	}
	r, err := fhir.DecodeResource(raw)
	if err != nil {
		return nil, &FetchError{Op: "read", ResourceType: resourceType, Err: err}
	}
	if r.GetResourceType() != resourceType {
		return nil, &FetchError{Op: "read", ResourceType: resourceType, Err: fmt.Errorf("server returned %s", r.GetResourceType())}
	}
	return r, nil
}

// getPage follows a searchset next link. Links must stay on the launch's
// server so the bearer token is never sent elsewhere.
func (s *Source) getPage(ctx context.Context, link string, target *fhirmodel.Bundle) error {
	u, err := s.baseURL.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid next link: %w", err)
	}
	if u.Scheme != s.baseURL.Scheme || u.Host != s.baseURL.Host {
		return fmt.Errorf("next link %s leaves %s", u.Redacted(), s.baseURL.Host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("next page: status %d", resp.StatusCode)
	}
	return json.Unmarshal(body, target)
}

func nextLink(b fhirmodel.Bundle) string {
	for _, l := range b.Link {
		if l.Relation == "next" {
			return l.Url
		}
	}
	return ""
}

// transport applies the shared rate limit and the launch's bearer token.
type transport struct {
	base    http.RoundTripper
	token   string
	limiter *rate.Limiter
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	if t.token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}
