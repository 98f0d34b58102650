package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/yairfalse/ownerscan/internal/config"
	"github.com/yairfalse/ownerscan/internal/emitter"
	"github.com/yairfalse/ownerscan/internal/filter"
	"github.com/yairfalse/ownerscan/internal/inventory"
	"github.com/yairfalse/ownerscan/internal/plugin/aws"
	"github.com/yairfalse/ownerscan/internal/telemetry"
	"github.com/yairfalse/ownerscan/pkg/resource"
)

// findCmd represents the find command
var findCmd = newFindCmd()

func newFindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Find EC2 instances and report their owner tags",
		Long: `Scan every configured region and write one report row per instance.

Modes:
- missing-owner: instances with no Owner tag (default)
- filtered: instances matching EC2 filters, each annotated with its owner

Failed regions are logged and skipped; the report is still written.`,
		Example: `  ownerscan find                                        # Untagged instances, default regions
  ownerscan find -r us-east-1 -r eu-central-1           # Specific regions
  ownerscan find --mode filtered -f tag:Owner=kguo      # Instances owned by kguo
  ownerscan find --mode filtered -f Name=instance-state-name,Values=running,stopped
  ownerscan find --format json -o report.json --print   # JSON file plus a table`,
		Args: cobra.NoArgs,
		RunE: runFind,
	}

	f := cmd.Flags()
	f.StringSliceP("region", "r", nil, "AWS regions to scan (default: built-in list)")
	f.StringP("mode", "m", "", "Discovery mode: missing-owner, filtered")
	f.StringArrayP("filter", "f", nil, "EC2 filter, Name=<name>,Values=<v1>,<v2> or <name>=<v1>,<v2> (repeatable)")
	f.StringSlice("owner-key", nil, "Tag keys that name an owner (default: Owner,owner)")
	f.StringP("output", "o", "", "Report file path (default: find_instances.<format>)")
	f.String("format", "", "Report format: csv, json")
	f.Bool("print", false, "Also print the report as a table")
	f.String("profile", "", "AWS shared config profile")
	f.Float64("rps", 0, "Max DescribeInstances requests per second (0: unlimited)")
	f.String("s3-uri", "", "Also upload the report to s3://bucket/key")
	f.String("s3-region", "", "Region of the report bucket")
	f.String("archive", "", "Record the run in this history database")
	f.String("metrics-textfile", "", "Write Prometheus metrics to this file")

	return cmd
}

func init() {
	rootCmd.AddCommand(findCmd)
}

// applyFindFlags overrides config values with the flags the user set.
func applyFindFlags(cmd *cobra.Command, c *config.Config) error {
	f := cmd.Flags()

	if f.Changed("region") {
		c.AWS.Regions, _ = f.GetStringSlice("region")
	}
	if f.Changed("mode") {
		mode, _ := f.GetString("mode")
		c.Scan.Mode = resource.Mode(mode)
	}
	if f.Changed("filter") {
		exprs, _ := f.GetStringArray("filter")
		predicates, err := filter.ParsePredicates(exprs)
		if err != nil {
			return err
		}
		c.Scan.Filters = predicates
	}
	if f.Changed("owner-key") {
		c.Scan.OwnerKeys, _ = f.GetStringSlice("owner-key")
	}
	if f.Changed("output") {
		c.Report.Path, _ = f.GetString("output")
	}
	if f.Changed("format") {
		c.Report.Format, _ = f.GetString("format")
	}
	if f.Changed("print") {
		c.Report.Print, _ = f.GetBool("print")
	}
	if f.Changed("profile") {
		c.AWS.Profile, _ = f.GetString("profile")
	}
	if f.Changed("rps") {
		c.AWS.RequestsPerSecond, _ = f.GetFloat64("rps")
	}
	if f.Changed("s3-uri") {
		c.Report.S3URI, _ = f.GetString("s3-uri")
	}
	if f.Changed("s3-region") {
		c.Report.S3Region, _ = f.GetString("s3-region")
	}
	if f.Changed("archive") {
		c.Report.Archive, _ = f.GetString("archive")
	}
	if f.Changed("metrics-textfile") {
		c.Report.MetricsTextfile, _ = f.GetString("metrics-textfile")
	}
	return nil
}

// buildQuery turns the validated config into a collection query.
func buildQuery(c *config.Config) inventory.Query {
	return inventory.Query{
		Regions:    c.AWS.Regions,
		Mode:       c.Scan.Mode,
		Predicates: c.Scan.Filters,
		OwnerKeys:  c.Scan.OwnerKeys,
	}
}

func runFind(cmd *cobra.Command, _ []string) error {
	if err := applyFindFlags(cmd, cfg); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	format, err := emitter.ParseFormat(cfg.Report.Format)
	if err != nil {
		return err
	}

	// The report file is prepared first so an unwritable path fails before
	// any scanning. The previous report stays until the new one is emitted.
	fileEmitter, err := emitter.NewFileEmitter(afero.NewOsFs(), cfg.Report.Path, format)
	if err != nil {
		return err
	}
	emitters := []emitter.Emitter{fileEmitter}

	tp, metrics, err := openTelemetry(ctx, cfg)
	if err != nil {
		_ = fileEmitter.Close()
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	session, err := aws.Open(ctx, aws.Config{
		Profile:           cfg.AWS.Profile,
		RequestsPerSecond: cfg.AWS.RequestsPerSecond,
	})
	if err != nil {
		_ = fileEmitter.Close()
		return err
	}
	defer func() { _ = session.Close() }()

	extra, err := buildEmitters(session, format)
	emitters = append(emitters, extra...)
	if metrics != nil {
		emitters = append(emitters, metrics)
	}
	out := emitter.NewMultiEmitter(emitters...)
	if err != nil {
		_ = out.Close()
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Warn().Err(err).Msg("closing outputs failed")
		}
	}()

	if account, err := session.AccountID(ctx, cfg.AWS.Regions[0]); err == nil {
		log.Info().Str("account", account).Str("mode", string(cfg.Scan.Mode)).Strs("regions", cfg.AWS.Regions).Msg("starting scan")
	} else {
		log.Debug().Err(err).Msg("account lookup failed")
	}

	report, runErr := collectWithSignals(ctx, inventory.NewCollector(session, tp), buildQuery(cfg))
	if report == nil {
		return fmt.Errorf("collect: %w", runErr)
	}

	if err := out.Emit(ctx, report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if runErr != nil {
		return fmt.Errorf("scan interrupted, partial report written: %w", runErr)
	}
	return nil
}

// buildEmitters creates the optional outputs named in the config.
func buildEmitters(session *aws.Session, format emitter.Format) ([]emitter.Emitter, error) {
	var emitters []emitter.Emitter

	if cfg.Report.Print {
		emitters = append(emitters, emitter.NewTableEmitter(os.Stdout))
	}

	if cfg.Report.S3URI != "" {
		client, err := session.S3(cfg.Report.S3Region)
		if err != nil {
			return emitters, err
		}
		e, err := emitter.NewS3Emitter(client, cfg.Report.S3URI, format)
		if err != nil {
			return emitters, err
		}
		emitters = append(emitters, e)
	}

	if cfg.Report.Archive != "" {
		e, err := emitter.NewArchiveEmitter(cfg.Report.Archive)
		if err != nil {
			return emitters, err
		}
		emitters = append(emitters, e)
	}

	return emitters, nil
}

// openTelemetry starts the telemetry provider. With a metrics textfile
// configured, the textfile reader joins the provider and the report gauges
// are registered on its meter.
func openTelemetry(ctx context.Context, c *config.Config) (*telemetry.Provider, *emitter.MetricsEmitter, error) {
	var metrics *emitter.MetricsEmitter
	var readers []sdkmetric.Reader
	if c.Report.MetricsTextfile != "" {
		var err error
		metrics, err = emitter.NewMetricsEmitter(c.Report.MetricsTextfile)
		if err != nil {
			return nil, nil, err
		}
		readers = append(readers, metrics.Reader())
	}

	tp, err := telemetry.NewProvider(ctx, c.OTEL, version, readers...)
	if err != nil {
		return nil, nil, fmt.Errorf("init telemetry: %w", err)
	}

	if metrics != nil {
		if err := metrics.Register(tp.Meter()); err != nil {
			_ = tp.Shutdown(ctx)
			return nil, nil, fmt.Errorf("init metrics: %w", err)
		}
	}
	return tp, metrics, nil
}

// reportCollector is satisfied by *inventory.Collector.
type reportCollector interface {
	Collect(ctx context.Context, q inventory.Query) (*resource.Report, error)
}

// collectWithSignals runs the collection next to a signal handler. An
// interrupt cancels the scan; the partial report is returned with the
// signal error.
func collectWithSignals(ctx context.Context, c reportCollector, q inventory.Query) (*resource.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var report *resource.Report
	var g run.Group

	g.Add(func() error {
		var err error
		report, err = c.Collect(ctx, q)
		return err
	}, func(error) {
		cancel()
	})

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err := g.Run()

	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		log.Warn().Str("signal", sigErr.Signal.String()).Msg("scan interrupted")
	}
	return report, err
}
