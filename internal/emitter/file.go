package emitter

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/yairfalse/ownerscan/pkg/resource"
)

// FileEmitter writes the report to a local file. The report is written to
// a temporary file next to it and renamed into place on Emit, so an
// existing report survives a run that fails before emitting.
type FileEmitter struct {
	fs     afero.Fs
	path   string
	format Format
	tmp    afero.File
}

// NewFileEmitter creates the temporary file up front, so an unwritable
// directory fails before any scanning starts.
func NewFileEmitter(fs afero.Fs, path string, format Format) (*FileEmitter, error) {
	if path == "" {
		path = format.DefaultPath()
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create report directory: %w", err)
		}
	}

	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("open report file: %w", err)
	}

	return &FileEmitter{fs: fs, path: path, format: format, tmp: tmp}, nil
}

// Path returns the report file path.
func (e *FileEmitter) Path() string {
	return e.path
}

// Emit encodes the report and moves it to the report path.
func (e *FileEmitter) Emit(_ context.Context, report *resource.Report) error {
	if e.tmp == nil {
		return fmt.Errorf("write report %s: emitter closed", e.path)
	}

	w := bufio.NewWriter(e.tmp)
	if err := Encode(w, e.format, report); err != nil {
		return fmt.Errorf("write report %s: %w", e.path, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write report %s: %w", e.path, err)
	}

	name := e.tmp.Name()
	err := e.tmp.Close()
	e.tmp = nil
	if err != nil {
		_ = e.fs.Remove(name)
		return fmt.Errorf("write report %s: %w", e.path, err)
	}
	if err := e.fs.Chmod(name, 0o644); err != nil {
		_ = e.fs.Remove(name)
		return fmt.Errorf("write report %s: %w", e.path, err)
	}
	if err := e.fs.Rename(name, e.path); err != nil {
		_ = e.fs.Remove(name)
		return fmt.Errorf("write report %s: %w", e.path, err)
	}

	log.Info().
		Str("path", e.path).
		Str("format", string(e.format)).
		Int("count", len(report.Rows)).
		Msg("report written")
	return nil
}

// Close discards the temporary file if no report was emitted.
func (e *FileEmitter) Close() error {
	if e.tmp == nil {
		return nil
	}
	name := e.tmp.Name()
	err := e.tmp.Close()
	e.tmp = nil
	if rmErr := e.fs.Remove(name); err == nil {
		err = rmErr
	}
	return err
}
