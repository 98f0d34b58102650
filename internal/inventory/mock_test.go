package inventory

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/yairfalse/ownerscan/pkg/resource"
)

// mockProvider implements Provider for testing.
type mockProvider struct {
	mu        sync.Mutex
	instances map[string][]resource.Instance
	errs      map[string]error

	listCalls     []string
	filteredCalls []filteredCall
}

type filteredCall struct {
	region     string
	predicates []resource.Predicate
}

func (m *mockProvider) ListInstances(_ context.Context, region string) ([]resource.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls = append(m.listCalls, region)
	if err := m.errs[region]; err != nil {
		return nil, err
	}
	return m.instances[region], nil
}

func (m *mockProvider) ListInstancesFiltered(_ context.Context, region string, predicates []resource.Predicate) ([]resource.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filteredCalls = append(m.filteredCalls, filteredCall{region: region, predicates: predicates})
	if err := m.errs[region]; err != nil {
		return nil, err
	}
	return m.instances[region], nil
}

// cancelingProvider cancels the run while listing cancelAt, the way an
// interrupt arriving mid-request surfaces from the SDK.
type cancelingProvider struct {
	mockProvider
	cancelAt string
	cancel   context.CancelFunc
}

func (c *cancelingProvider) ListInstances(ctx context.Context, region string) ([]resource.Instance, error) {
	if region == c.cancelAt {
		c.mu.Lock()
		c.listCalls = append(c.listCalls, region)
		c.mu.Unlock()
		c.cancel()
		return nil, ctx.Err()
	}
	return c.mockProvider.ListInstances(ctx, region)
}

// mockRecorder implements Recorder for testing.
type mockRecorder struct {
	mu      sync.Mutex
	results []resource.ScanResult
	tracer  trace.Tracer
}

func (m *mockRecorder) Tracer() trace.Tracer {
	if m.tracer != nil {
		return m.tracer
	}
	return noop.NewTracerProvider().Tracer("test")
}

func (m *mockRecorder) RecordScan(_ context.Context, result resource.ScanResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
}
