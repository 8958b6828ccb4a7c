// Command stagedwell declares tracked entity types, inspects their stage
// dwell and rotting state, and writes rotting reports.
//
// Usage:
//
//	stagedwell [flags] declare
//	stagedwell [flags] search --entity crm.lead [--not]
//	stagedwell [flags] show --entity crm.lead --id 7
//	stagedwell [flags] report
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"cdr.dev/slog/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"

	"stagedwell/internal/blob"
	"stagedwell/internal/config"
	"stagedwell/internal/core"
	"stagedwell/internal/report"
	"stagedwell/internal/tracking"
	"stagedwell/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

type options struct {
	configPath string
	entity     string
	id         int64
	not        bool
	trace      bool
	metricsOut string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("stagedwell", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "path to a YAML configuration file")
	fs.StringVar(&opts.entity, "entity", "", "entity type, for example crm.lead")
	fs.Int64Var(&opts.id, "id", 0, "record id")
	fs.BoolVar(&opts.not, "not", false, "search records that are not rotting")
	fs.BoolVar(&opts.trace, "trace", false, "write service spans as JSON lines to stderr")
	fs.StringVar(&opts.metricsOut, "metrics-out", "", "write prometheus metrics to this file on exit")
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: stagedwell [flags] declare|search|show|report")
		return 2
	}

	cfg, err := config.Load(opts.configPath, fs)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger, err := cfg.Logging.Logger(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "configure logging: %v\n", err)
		return 1
	}

	reg := prometheus.NewRegistry()
	err = execute(ctx, fs.Arg(0), opts, cfg, logger, reg, stdout, stderr)
	if opts.metricsOut != "" {
		if werr := prometheus.WriteToTextfile(opts.metricsOut, reg); werr != nil {
			logger.Warn(ctx, "write metrics", slog.Error(werr))
		}
	}
	if err != nil {
		fmt.Fprintln(stderr, userMessage(err))
		return 1
	}
	return 0
}

func execute(ctx context.Context, command string, opts options, cfg *config.Config, logger slog.Logger, reg *prometheus.Registry, stdout, stderr io.Writer) error {
	switch command {
	case "declare", "search", "show", "report":
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	store, err := core.OpenPersistentStore(ctx, cfg.Storage, core.StorageOptions{Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn(ctx, "close store", slog.Error(cerr))
		}
	}()

	var tracer core.Tracer = core.NewOTelTracer(otel.Tracer("stagedwell"))
	if opts.trace {
		tracer = core.NewJSONTracer(stderr, nil)
	}
	svc := core.NewService(store,
		core.WithLogger(logger.Named("service")),
		core.WithMetricsRecorder(core.NewPrometheusRecorder(reg, cfg.Metrics.Namespace)),
		core.WithTracer(tracer),
		core.WithTrackingOptions(
			tracking.WithSettings(cfg),
			tracking.WithMetrics(tracking.NewMetrics(reg, cfg.Metrics.Namespace)),
		),
	)
	for _, decl := range cfg.Tracking.Entities {
		if _, err := svc.Declare(ctx, decl); err != nil {
			return err
		}
	}

	switch command {
	case "declare":
		return declare(svc, stdout)
	case "search":
		return search(ctx, svc, opts, stdout)
	case "show":
		return show(ctx, svc, opts, stdout)
	default:
		blobs, err := blob.Open(ctx, cfg.Blob, nil)
		if err != nil {
			return err
		}
		job := report.New(svc, blobs, report.WithLogger(logger.Named("report")), report.WithPrefix(cfg.Report.Prefix))
		summary, err := job.Run(ctx)
		if err != nil {
			return err
		}
		return writeJSON(stdout, summary)
	}
}

func declare(svc *core.Service, stdout io.Writer) error {
	for _, b := range svc.Registry().Bindings() {
		decl := b.Declaration()
		fmt.Fprintf(stdout, "%s\ttable=%s\ttracked=%t\trotting=%t\n", decl.Entity, decl.Table, b.Tracked(), b.RottingEnabled())
	}
	return nil
}

func search(ctx context.Context, svc *core.Service, opts options, stdout io.Writer) error {
	if opts.entity == "" {
		return errors.New("search: --entity required")
	}
	op := tracking.OpIn
	if opts.not {
		op = tracking.OpNotIn
	}
	ids, err := svc.SearchRotting(ctx, domain.EntityType(opts.entity), op, true)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(stdout, id)
	}
	return nil
}

type shownRecord struct {
	ID               int64            `json:"id"`
	Entity           string           `json:"entity"`
	Name             string           `json:"name"`
	CategoryID       *int64           `json:"category_id"`
	DurationTracking domain.Tracking  `json:"duration_tracking"`
	DurationsSeconds map[string]int64 `json:"durations_seconds"`
	IsRotting        bool             `json:"is_rotting"`
	RottingDays      int              `json:"rotting_days"`
	Anchor           time.Time        `json:"anchor"`
}

func show(ctx context.Context, svc *core.Service, opts options, stdout io.Writer) error {
	if opts.entity == "" || opts.id == 0 {
		return errors.New("show: --entity and --id required")
	}
	in, err := svc.Inspect(ctx, domain.EntityType(opts.entity), opts.id)
	if err != nil {
		return err
	}
	durations := make(map[string]int64, len(in.Durations))
	for id, d := range in.Durations {
		durations[strconv.FormatInt(id, 10)] = int64(d / time.Second)
	}
	return writeJSON(stdout, shownRecord{
		ID:               in.Record.ID,
		Entity:           string(in.Record.Entity),
		Name:             in.Record.Name,
		CategoryID:       in.Record.CategoryID,
		DurationTracking: in.Record.DurationTracking,
		DurationsSeconds: durations,
		IsRotting:        in.Verdict.IsRotting,
		RottingDays:      in.Verdict.Days,
		Anchor:           in.Anchor,
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// userMessage prefers the end-user text of search errors.
func userMessage(err error) string {
	var friendly interface{ UserMessage() string }
	if errors.As(err, &friendly) {
		return friendly.UserMessage()
	}
	return err.Error()
}
