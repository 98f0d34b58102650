package emitter

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aquasecurity/table"
	"github.com/fatih/color"

	"github.com/yairfalse/ownerscan/pkg/resource"
)

// TableEmitter renders the report as a terminal table.
type TableEmitter struct {
	w io.Writer
}

// NewTableEmitter creates a table emitter writing to w.
func NewTableEmitter(w io.Writer) *TableEmitter {
	return &TableEmitter{w: w}
}

// Emit renders every row, followed by a summary of failed regions.
func (e *TableEmitter) Emit(_ context.Context, report *resource.Report) error {
	t := table.New(e.w)
	t.SetHeaders(resource.Header...)
	t.SetHeaderStyle(table.StyleBold)
	t.SetLineStyle(table.StyleCyan)
	t.SetRowLines(false)
	t.SetDividers(table.UnicodeRoundedDividers)
	t.SetAlignment(table.AlignLeft)

	for _, row := range report.Rows {
		record := row.Record()
		record[len(record)-1] = colorNotes(row.Annotation)
		t.AddRow(record...)
	}
	t.Render()

	fmt.Fprintf(e.w, "%d instances in %d regions\n", len(report.Rows), len(report.Regions))
	if failed := report.FailedRegions(); len(failed) > 0 {
		fmt.Fprintln(e.w, color.RedString("failed regions: %s", strings.Join(failed, ", ")))
	}
	return nil
}

func colorNotes(a resource.Annotation) string {
	switch a.Kind {
	case resource.NoTagsExist:
		return color.RedString("%s", a.String())
	case resource.NoOwnerTag:
		return color.YellowString("%s", a.String())
	default:
		return color.GreenString("%s", a.String())
	}
}

// Close is a no-op for the table emitter.
func (e *TableEmitter) Close() error {
	return nil
}
