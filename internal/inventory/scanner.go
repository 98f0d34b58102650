package inventory

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/ownerscan/internal/filter"
	"github.com/yairfalse/ownerscan/pkg/resource"
)

// Provider is the cloud inventory the scanner reads from. Both calls are
// read-only.
type Provider interface {
	ListInstances(ctx context.Context, region string) ([]resource.Instance, error)
	ListInstancesFiltered(ctx context.Context, region string, predicates []resource.Predicate) ([]resource.Instance, error)
}

// Scanner fetches the instances of a single region in one of the
// discovery modes. It holds no per-call state.
type Scanner struct {
	provider Provider
}

// NewScanner creates a scanner reading from provider.
func NewScanner(provider Provider) *Scanner {
	return &Scanner{provider: provider}
}

// Scan dispatches on q.Mode.
func (s *Scanner) Scan(ctx context.Context, region string, q Query) resource.ScanResult {
	if q.Mode == resource.ModeFiltered {
		return s.ScanFiltered(ctx, region, q.Predicates)
	}
	return s.ScanMissingOwner(ctx, region, filter.New(q.OwnerKeys))
}

// ScanFiltered returns whatever the provider's filter query returns. An
// empty predicate list reads the region unfiltered. Results are not
// re-checked against the predicates.
func (s *Scanner) ScanFiltered(ctx context.Context, region string, predicates []resource.Predicate) resource.ScanResult {
	start := time.Now()

	var (
		instances []resource.Instance
		err       error
	)
	if len(predicates) == 0 {
		instances, err = s.provider.ListInstances(ctx, region)
	} else {
		instances, err = s.provider.ListInstancesFiltered(ctx, region, predicates)
	}

	return s.result(ctx, region, resource.ModeFiltered, instances, err, start)
}

// ScanMissingOwner reads the whole region and keeps instances that have no
// tags or none of the owner keys. Absence of a tag cannot be expressed as a
// provider filter, so this filters locally.
func (s *Scanner) ScanMissingOwner(ctx context.Context, region string, owners *filter.Filter) resource.ScanResult {
	start := time.Now()

	instances, err := s.provider.ListInstances(ctx, region)
	if err == nil {
		instances = owners.FilterInstances(instances)
	}

	return s.result(ctx, region, resource.ModeMissingOwner, instances, err, start)
}

// result turns a provider failure into an empty region. The error stays on
// the result for summaries; it never aborts the run.
func (s *Scanner) result(ctx context.Context, region string, mode resource.Mode, instances []resource.Instance, err error, start time.Time) resource.ScanResult {
	r := resource.ScanResult{
		Region:   region,
		Mode:     mode,
		Duration: time.Since(start),
	}

	if err != nil {
		log.Warn().
			Ctx(ctx).
			Err(err).
			Str("region", region).
			Str("mode", string(mode)).
			Str("kind", string(resource.KindOf(err))).
			Msg("region scan failed")
		r.Err = err
		return r
	}

	r.Instances = instances
	log.Debug().
		Ctx(ctx).
		Str("region", region).
		Str("mode", string(mode)).
		Int("count", len(instances)).
		Dur("duration", r.Duration).
		Msg("region scanned")
	return r
}
