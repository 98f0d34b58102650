package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aquasecurity/table"
	"github.com/spf13/cobra"

	"github.com/yairfalse/ownerscan/internal/emitter"
	"github.com/yairfalse/ownerscan/internal/storage"
	"github.com/yairfalse/ownerscan/pkg/resource"
)

var (
	historyArchive  string
	historyRun      int64
	historyInstance string
	historyAll      bool
	historyCompact  int64
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show archived runs and instance history",
	Long: `Read the run archive written by 'ownerscan find --archive'.

Without flags, lists every archived run. --run prints the rows of one run,
--instance shows when an instance was first and last seen, --instances
does so for every instance.`,
	Example: `  ownerscan history --archive ownerscan.db
  ownerscan history --archive ownerscan.db --run 3
  ownerscan history --archive ownerscan.db --instance i-0abc123
  ownerscan history --archive ownerscan.db --compact 30`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyArchive, "archive", "", "History database (default: report.archive from config)")
	historyCmd.Flags().Int64Var(&historyRun, "run", 0, "Print the rows of this run")
	historyCmd.Flags().StringVar(&historyInstance, "instance", "", "Show the history of one instance")
	historyCmd.Flags().BoolVar(&historyAll, "instances", false, "List every instance seen in the archive")
	historyCmd.Flags().Int64Var(&historyCompact, "compact", 0, "Keep only the newest N runs")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	path := historyArchive
	if path == "" && cfg != nil {
		path = cfg.Report.Archive
	}
	if path == "" {
		return errors.New("no archive: set --archive or report.archive")
	}

	archive, err := storage.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = archive.Close() }()

	w := cmd.OutOrStdout()

	switch {
	case historyCompact > 0:
		if err := archive.Compact(historyCompact); err != nil {
			return err
		}
		fmt.Fprintf(w, "kept newest %d runs\n", historyCompact)
		return nil
	case historyRun > 0:
		rows, err := archive.Rows(historyRun)
		if err != nil {
			return err
		}
		return emitter.Encode(w, emitter.FormatCSV, &resource.Report{Rows: rows})
	case historyInstance != "":
		state, err := archive.Instance(historyInstance)
		if err != nil {
			return err
		}
		renderInstances(w, []storage.InstanceState{*state})
		return nil
	case historyAll:
		renderInstances(w, archive.Instances())
		return nil
	}

	runs, err := archive.Runs()
	if err != nil {
		return err
	}
	renderRuns(w, runs)
	return nil
}

func newTable(w io.Writer, headers ...string) *table.Table {
	t := table.New(w)
	t.SetHeaders(headers...)
	t.SetHeaderStyle(table.StyleBold)
	t.SetLineStyle(table.StyleCyan)
	t.SetRowLines(false)
	t.SetDividers(table.UnicodeRoundedDividers)
	t.SetAlignment(table.AlignLeft)
	return t
}

func renderRuns(w io.Writer, runs []storage.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs archived")
		return
	}

	t := newTable(w, "Run", "Started", "Query", "Regions", "Failed", "Rows", "Duration")
	for _, r := range runs {
		failed := 0
		for _, s := range r.Regions {
			if s.Error != "" {
				failed++
			}
		}
		query := r.Query
		if query == "" {
			query = string(r.Mode)
		}
		t.AddRow(
			strconv.FormatInt(r.Revision, 10),
			r.StartedAt.Format(time.RFC3339),
			query,
			strconv.Itoa(len(r.Regions)),
			strconv.Itoa(failed),
			strconv.Itoa(r.Rows),
			r.Duration.Round(time.Millisecond).String(),
		)
	}
	t.Render()
}

func renderInstances(w io.Writer, states []storage.InstanceState) {
	t := newTable(w, "Instance ID", "Instance Name", "Region", "Notes", "First Run", "Last Run", "Present")
	for _, s := range states {
		present := "yes"
		if !s.Present {
			present = fmt.Sprintf("no (left results at run %d)", s.LeftRev)
		}
		t.AddRow(
			s.InstanceID,
			s.Name,
			s.Region,
			s.Annotation.String(),
			strconv.FormatInt(s.FirstSeenRev, 10),
			strconv.FormatInt(s.LastSeenRev, 10),
			present,
		)
	}
	t.Render()
}
