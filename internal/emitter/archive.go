package emitter

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/ownerscan/internal/storage"
	"github.com/yairfalse/ownerscan/pkg/resource"
)

// ArchiveEmitter records each report as a revision in the run archive.
type ArchiveEmitter struct {
	archive *storage.Archive
}

// NewArchiveEmitter opens the archive at path.
func NewArchiveEmitter(path string) (*ArchiveEmitter, error) {
	a, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	return &ArchiveEmitter{archive: a}, nil
}

// Emit stores the report.
func (e *ArchiveEmitter) Emit(_ context.Context, report *resource.Report) error {
	rev, err := e.archive.RecordRun(report)
	if err != nil {
		return fmt.Errorf("archive report: %w", err)
	}

	log.Info().
		Str("path", e.archive.Path()).
		Int64("revision", rev).
		Msg("report archived")
	return nil
}

// Close closes the archive database.
func (e *ArchiveEmitter) Close() error {
	return e.archive.Close()
}
