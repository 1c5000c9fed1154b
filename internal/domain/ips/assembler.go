package ips

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/ips-exporter/internal/platform/auth"
	"github.com/ehr/ips-exporter/internal/platform/fhir"
	"github.com/ehr/ips-exporter/internal/platform/telemetry"
)

// Document is the result of one assembly run.
type Document struct {
	Bundle       *fhir.DocumentBundle
	Patient      *fhir.Patient
	Practitioner *fhir.Practitioner
	Sections     [3]SectionResult
	AssembledAt  time.Time
}

// Placeholders lists the names of sections that received a placeholder.
func (d *Document) Placeholders() []string {
	var names []string
	for _, s := range d.Sections {
		if s.Placeholder {
			names = append(names, s.Kind.Name)
		}
	}
	return names
}

// Assembler runs the section builders, the composer and the packager.
type Assembler struct {
	builders [3]*SectionBuilder
	composer *Composer
	packager *Packager
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

func NewAssembler(ids IDGenerator, logger zerolog.Logger, metrics *telemetry.Metrics) *Assembler {
	a := &Assembler{
		composer: NewComposer(ids),
		packager: NewPackager(ids),
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
	for i, kind := range CanonicalSections() {
		a.builders[i] = NewSectionBuilder(kind, ids, logger, metrics)
	}
	return a
}

// Assemble builds the IPS document for the launch. Identity failures are
// returned as errors; fetch failures never are.
func (a *Assembler) Assemble(ctx context.Context, lc auth.LaunchContext, identity IdentityProvider, fetcher Fetcher) (*Document, error) {
	doc, err := a.assemble(ctx, lc, identity, fetcher)
	if err != nil {
		a.metrics.AssemblyFinished("error")
		return nil, err
	}
	a.metrics.AssemblyFinished("ok")
	return doc, nil
}

func (a *Assembler) assemble(ctx context.Context, lc auth.LaunchContext, identity IdentityProvider, fetcher Fetcher) (*Document, error) {
	if lc.PatientID == "" || lc.PractitionerID == "" {
		return nil, ErrMissingIdentityContext
	}
	patient, practitioner, err := identity.Resolve(ctx, lc)
	if err != nil {
		return nil, err
	}

	now := a.now().UTC().Truncate(time.Second)

	var results [3]SectionResult
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range a.builders {
		i, b := i, b
		g.Go(func() error {
			results[i] = b.Build(gctx, fetcher, patient.ID, now)
			return nil
		})
	}
	_ = g.Wait()

	// A cancelled request produces no document, even if every builder fell
	// back to placeholders.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var sections [3]fhir.Section
	var resources [3][]fhir.Resource
	for i, r := range results {
		sections[i] = r.Section
		resources[i] = r.Resources
	}

	comp, err := a.composer.Compose(patient, practitioner, sections, now)
	if err != nil {
		return nil, err
	}
	bundle, err := a.packager.Package(comp, patient, practitioner, resources, now)
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Str("patient_id", patient.ID).
		Str("practitioner_id", practitioner.ID).
		Str("bundle_identifier", bundle.Identifier.Value).
		Int("entries", len(bundle.Entry)).
		Msg("ips document assembled")

	return &Document{
		Bundle:       bundle,
		Patient:      patient,
		Practitioner: practitioner,
		Sections:     results,
		AssembledAt:  now,
	}, nil
}
