package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/yairfalse/ownerscan/internal/filter"
	"github.com/yairfalse/ownerscan/pkg/resource"
)

// ErrUnknownMode is returned for a Query whose mode is not recognized.
var ErrUnknownMode = errors.New("unknown discovery mode")

// Query describes one collection run. It is passed explicitly so that runs
// with different policies can share a process.
type Query struct {
	Regions    []string
	Mode       resource.Mode
	Predicates []resource.Predicate // filtered mode only
	OwnerKeys  []string             // missing-owner mode and classification
}

// Fingerprint identifies which instances q can return: the mode plus the
// predicates or the normalized owner keys that decide membership. Runs with
// equal fingerprints are comparable.
func (q Query) Fingerprint() string {
	if q.Mode == resource.ModeFiltered {
		parts := make([]string, 0, len(q.Predicates))
		for _, p := range q.Predicates {
			parts = append(parts, p.Name+"="+strings.Join(p.Values, ","))
		}
		return string(q.Mode) + " " + strings.Join(parts, " ")
	}
	return string(q.Mode) + " " + strings.Join(filter.New(q.OwnerKeys).OwnerKeys(), ",")
}

// Recorder observes per-region scan outcomes and supplies the tracer for
// collection spans. Implemented by telemetry.Provider.
type Recorder interface {
	RecordScan(ctx context.Context, result resource.ScanResult)
	Tracer() trace.Tracer
}

// Collector drives region iteration, classification and row assembly.
type Collector struct {
	scanner  *Scanner
	recorder Recorder
	tracer   trace.Tracer
}

// NewCollector creates a collector over provider. recorder may be nil, in
// which case spans are not recorded.
func NewCollector(provider Provider, recorder Recorder) *Collector {
	c := &Collector{
		scanner:  NewScanner(provider),
		recorder: recorder,
		tracer:   noop.NewTracerProvider().Tracer("ownerscan/inventory"),
	}
	if recorder != nil {
		c.tracer = recorder.Tracer()
	}
	return c
}

// Collect scans every region of q and returns one row per discovered
// instance. A failed region contributes no rows. If ctx is cancelled the
// regions finished so far are returned together with ctx.Err().
func (c *Collector) Collect(ctx context.Context, q Query) (*resource.Report, error) {
	if !q.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, q.Mode)
	}

	ctx, span := c.tracer.Start(ctx, "inventory.collect")
	defer span.End()
	span.SetAttributes(
		attribute.String("mode", string(q.Mode)),
		attribute.Int("regions", len(q.Regions)),
	)

	report := &resource.Report{
		Mode:      q.Mode,
		Query:     q.Fingerprint(),
		StartedAt: time.Now(),
	}

	results, err := c.scanRegions(ctx, q)

	classifier := NewClassifier(filter.New(q.OwnerKeys))
	for _, r := range results {
		summary := resource.RegionSummary{Region: r.Region, Instances: len(r.Instances)}
		if r.Err != nil {
			summary.Error = r.Err.Error()
		}
		report.Regions = append(report.Regions, summary)

		for _, inst := range r.Instances {
			log.Debug().Str("region", r.Region).Str("id", inst.ID).Msg("instance found")
			report.Rows = append(report.Rows, classifier.Row(r.Region, inst))
		}
	}
	report.Duration = time.Since(report.StartedAt)

	span.SetAttributes(attribute.Int("rows", len(report.Rows)))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}

	log.Info().
		Ctx(ctx).
		Str("mode", string(q.Mode)).
		Int("regions", len(q.Regions)).
		Strs("failed_regions", report.FailedRegions()).
		Int("rows", len(report.Rows)).
		Dur("duration", report.Duration).
		Msg("collection complete")

	return report, nil
}

// scanRegions scans regions one after another, in order. It stops before
// the next region once ctx is done.
func (c *Collector) scanRegions(ctx context.Context, q Query) ([]resource.ScanResult, error) {
	results := make([]resource.ScanResult, 0, len(q.Regions))
	for _, region := range q.Regions {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, c.scanRegion(ctx, region, q))
	}
	return results, ctx.Err()
}

func (c *Collector) scanRegion(ctx context.Context, region string, q Query) resource.ScanResult {
	ctx, span := c.tracer.Start(ctx, "inventory.scan_region")
	defer span.End()
	span.SetAttributes(attribute.String("region", region))

	result := c.scanner.Scan(ctx, region, q)

	span.SetAttributes(attribute.Int("instances", len(result.Instances)))
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, "region scan failed")
	}
	if c.recorder != nil {
		c.recorder.RecordScan(ctx, result)
	}
	return result
}
