// Package emitter writes inventory reports to their destinations.
package emitter

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"github.com/yairfalse/ownerscan/pkg/resource"
)

// Emitter outputs a finished report to a backend.
type Emitter interface {
	// Emit writes the report. Called once per run.
	Emit(ctx context.Context, report *resource.Report) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to all emitters concurrently. Every emitter runs; the error
// returned is the first one in emitter order.
func (m *MultiEmitter) Emit(ctx context.Context, report *resource.Report) error {
	if len(m.emitters) == 0 {
		return nil
	}

	errs := make([]error, len(m.emitters))
	p := pool.New().WithMaxGoroutines(len(m.emitters))
	for i, e := range m.emitters {
		p.Go(func() {
			errs[i] = e.Emit(ctx, report)
		})
	}
	p.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Close closes all emitters, returns first error.
func (m *MultiEmitter) Close() error {
	var first error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
