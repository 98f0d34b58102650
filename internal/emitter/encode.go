package emitter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/yairfalse/ownerscan/pkg/resource"
)

// Format is a report encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// DefaultReportPath is the report file written when none is configured.
const DefaultReportPath = "find_instances.csv"

// ParseFormat validates a format name. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// ContentType returns the MIME type of the encoding.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

// Ext returns the file extension of the encoding, without the dot.
func (f Format) Ext() string {
	if f == FormatJSON {
		return "json"
	}
	return "csv"
}

// DefaultPath returns the default report file name for f.
func (f Format) DefaultPath() string {
	return strings.TrimSuffix(DefaultReportPath, path.Ext(DefaultReportPath)) + "." + f.Ext()
}

// Encode writes report to w in the given format.
func Encode(w io.Writer, f Format, report *resource.Report) error {
	switch f {
	case FormatJSON:
		return encodeJSON(w, report)
	case FormatCSV, "":
		return encodeCSV(w, report)
	}
	return fmt.Errorf("unknown report format %q", f)
}

func encodeCSV(w io.Writer, report *resource.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(resource.Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range report.Rows {
		if err := cw.Write(row.Record()); err != nil {
			return fmt.Errorf("write csv row %s: %w", row.InstanceID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonReport struct {
	Mode      resource.Mode            `json:"mode"`
	Query     string                   `json:"query,omitempty"`
	StartedAt time.Time                `json:"started_at"`
	Duration  string                   `json:"duration"`
	Regions   []resource.RegionSummary `json:"regions"`
	Rows      []resource.Row           `json:"rows"`
}

func encodeJSON(w io.Writer, report *resource.Report) error {
	out := jsonReport{
		Mode:      report.Mode,
		Query:     report.Query,
		StartedAt: report.StartedAt,
		Duration:  report.Duration.String(),
		Regions:   report.Regions,
		Rows:      report.Rows,
	}
	if out.Regions == nil {
		out.Regions = []resource.RegionSummary{}
	}
	if out.Rows == nil {
		out.Rows = []resource.Row{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode json report: %w", err)
	}
	return nil
}
