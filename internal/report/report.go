// Package report materializes rotting reports: for every declared entity
// type it searches the rotting records and writes them as one JSON document
// to the blob store.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"stagedwell/internal/blob"
	"stagedwell/internal/core"
	"stagedwell/internal/tracking"
	"stagedwell/pkg/domain"
)

const (
	defaultPrefix      = "reports"
	defaultConcurrency = 4
	timestampLayout    = "20060102T150405Z"
)

// Report is the document written per entity type and run.
type Report struct {
	RunID       string            `json:"run_id"`
	Entity      domain.EntityType `json:"entity"`
	GeneratedAt time.Time         `json:"generated_at"`
	Items       []Item            `json:"items"`
}

// Item is one rotting record.
type Item struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	CategoryID  *int64    `json:"category_id"`
	RottingDays int       `json:"rotting_days"`
	Anchor      time.Time `json:"anchor"`
}

// Summary describes a finished run.
type Summary struct {
	RunID   string              `json:"run_id"`
	Written []blob.Info         `json:"written"`
	Skipped []domain.EntityType `json:"skipped"`
}

// Job writes rotting reports for every entity type declared on a service.
type Job struct {
	svc         *core.Service
	blobs       blob.Store
	clock       quartz.Clock
	logger      slog.Logger
	prefix      string
	concurrency int
	newRunID    func() string
}

// Option configures a Job.
type Option func(*Job)

// WithClock sets the clock stamping reports.
func WithClock(clock quartz.Clock) Option {
	return func(j *Job) {
		if clock != nil {
			j.clock = clock
		}
	}
}

// WithLogger sets the job logger.
func WithLogger(logger slog.Logger) Option {
	return func(j *Job) { j.logger = logger }
}

// WithPrefix sets the key prefix reports are written under.
func WithPrefix(prefix string) Option {
	return func(j *Job) {
		if prefix != "" {
			j.prefix = prefix
		}
	}
}

// WithConcurrency bounds the entity types processed at once.
func WithConcurrency(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.concurrency = n
		}
	}
}

// WithRunID fixes the run id generator.
func WithRunID(fn func() string) Option {
	return func(j *Job) {
		if fn != nil {
			j.newRunID = fn
		}
	}
}

// New constructs a report job.
func New(svc *core.Service, blobs blob.Store, opts ...Option) *Job {
	j := &Job{
		svc:         svc,
		blobs:       blobs,
		clock:       quartz.NewReal(),
		prefix:      defaultPrefix,
		concurrency: defaultConcurrency,
		newRunID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Key returns the blob key of a report.
func Key(prefix string, entity domain.EntityType, generatedAt time.Time, runID string) string {
	return path.Join(prefix, string(entity), fmt.Sprintf("%s-%s.json", generatedAt.UTC().Format(timestampLayout), runID))
}

// Run writes one report per entity type with rotting configured. Types
// without rotting are skipped; the first other failure cancels the run.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: j.newRunID()}
	generatedAt := tracking.Now(j.clock)
	j.logger.Info(ctx, "rotting report started", slog.F("run_id", summary.RunID))

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for _, b := range j.svc.Registry().Bindings() {
		entity := b.Entity()
		if !b.RottingEnabled() {
			j.skip(ctx, &mu, &summary, entity, "rotting attributes not declared")
			continue
		}
		g.Go(func() error {
			info, err := j.materialize(ctx, entity, summary.RunID, generatedAt)
			if errors.Is(err, domain.ErrConfigurationMissing) {
				j.skip(ctx, &mu, &summary, entity, err.Error())
				return nil
			}
			if err != nil {
				return fmt.Errorf("report %s: %w", entity, err)
			}
			mu.Lock()
			summary.Written = append(summary.Written, info)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	sort.Slice(summary.Written, func(i, k int) bool { return summary.Written[i].Key < summary.Written[k].Key })
	sort.Slice(summary.Skipped, func(i, k int) bool { return summary.Skipped[i] < summary.Skipped[k] })
	j.logger.Info(ctx, "rotting report finished",
		slog.F("run_id", summary.RunID),
		slog.F("written", len(summary.Written)),
		slog.F("skipped", len(summary.Skipped)),
	)
	return summary, nil
}

func (j *Job) skip(ctx context.Context, mu *sync.Mutex, summary *Summary, entity domain.EntityType, reason string) {
	j.logger.Warn(ctx, "skipping rotting report", slog.F("entity", entity), slog.F("reason", reason))
	mu.Lock()
	summary.Skipped = append(summary.Skipped, entity)
	mu.Unlock()
}

func (j *Job) materialize(ctx context.Context, entity domain.EntityType, runID string, generatedAt time.Time) (blob.Info, error) {
	ids, err := j.svc.SearchRotting(ctx, entity, tracking.OpIn, true)
	if err != nil {
		return blob.Info{}, err
	}
	inspections, err := j.svc.InspectMany(ctx, entity, ids)
	if err != nil {
		return blob.Info{}, err
	}
	doc := Report{RunID: runID, Entity: entity, GeneratedAt: generatedAt, Items: make([]Item, 0, len(inspections))}
	for _, in := range inspections {
		doc.Items = append(doc.Items, Item{
			ID:          in.Record.ID,
			Name:        in.Record.Name,
			CategoryID:  in.Record.CategoryID,
			RottingDays: in.Verdict.Days,
			Anchor:      in.Anchor,
		})
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode report: %w", err)
	}
	key := Key(j.prefix, entity, generatedAt, runID)
	info, err := j.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"run-id": runID,
			"entity": string(entity),
		},
	})
	if err != nil {
		return blob.Info{}, err
	}
	j.logger.Debug(ctx, "rotting report written", slog.F("key", key), slog.F("items", len(doc.Items)))
	return info, nil
}
