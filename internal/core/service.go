// Package core exposes the transactional service the command line and the
// report job drive: entity type declarations, category and record writes,
// and the rotting reads and searches of the tracking engine.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"stagedwell/internal/tracking"
	"stagedwell/pkg/domain"
)

// ErrUndeclared is returned for entity types the service was not told about.
var ErrUndeclared = errors.New("entity type not declared")

// Service exposes higher-level transactional operations over a host store.
type Service struct {
	store        domain.PersistentStore
	registry     *tracking.Registry
	clock        quartz.Clock
	logger       slog.Logger
	metrics      MetricsRecorder
	tracer       Tracer
	trackingOpts []tracking.Option
}

// Option configures optional Service behaviour.
type Option func(*Service)

// WithClock overrides the time source of the service and its bindings.
func WithClock(clock quartz.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetricsRecorder sets the recorder observing every operation.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the tracer spanning every operation.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithTrackingOptions appends options applied to every binding the service
// declares, after the service's own clock and logger.
func WithTrackingOptions(opts ...tracking.Option) Option {
	return func(s *Service) { s.trackingOpts = append(s.trackingOpts, opts...) }
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		clock:   quartz.NewReal(),
		metrics: noopMetrics{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = tracking.NewRegistry(s.logger.Named("registry"))
	return s
}

// Store returns the underlying host store.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// Registry returns the bindings of the declared entity types.
func (s *Service) Registry() *tracking.Registry {
	return s.registry
}

func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := s.clock.Now()
	err := fn(ctx)
	s.metrics.Observe(ctx, op, err == nil, s.clock.Since(start))
	span.End(err)
	if err != nil {
		s.logger.Error(ctx, "service operation failed", slog.F("operation", op), slog.Error(err))
		return err
	}
	s.logger.Debug(ctx, "service operation", slog.F("operation", op))
	return nil
}

func (s *Service) binding(entity domain.EntityType) (*tracking.Binding, error) {
	b, ok := s.registry.Lookup(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUndeclared, entity)
	}
	return b, nil
}

// Declare binds an entity type, creates its storage and installs the
// duration accumulator as a write hook.
func (s *Service) Declare(ctx context.Context, decl domain.Declaration) (*tracking.Binding, error) {
	var bound *tracking.Binding
	err := s.run(ctx, "declare", func(ctx context.Context) error {
		if _, ok := s.registry.Lookup(decl.Entity); ok {
			return fmt.Errorf("entity type %s already declared", decl.Entity)
		}
		opts := append([]tracking.Option{
			tracking.WithClock(s.clock),
			tracking.WithLogger(s.logger.Named("tracking")),
		}, s.trackingOpts...)
		b, err := tracking.Bind(decl, opts...)
		if err != nil {
			return err
		}
		if err := s.store.Declare(ctx, b.Declaration()); err != nil {
			return fmt.Errorf("declare %s storage: %w", b.Entity(), err)
		}
		if err := s.registry.Register(b); err != nil {
			return err
		}
		s.store.RegisterHook(b.Entity(), b)
		bound = b
		return nil
	})
	return bound, err
}

// CreateCategory persists a new category.
func (s *Service) CreateCategory(ctx context.Context, cat domain.Category) (domain.Category, error) {
	var created domain.Category
	err := s.run(ctx, "create_category", func(ctx context.Context) error {
		if _, err := s.binding(cat.Entity); err != nil {
			return err
		}
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateCategory(cat)
			return err
		})
	})
	return created, err
}

// UpdateCategory mutates a category using the provided mutator.
func (s *Service) UpdateCategory(ctx context.Context, entity domain.EntityType, id int64, mutator func(*domain.Category) error) (domain.Category, error) {
	var updated domain.Category
	err := s.run(ctx, "update_category", func(ctx context.Context) error {
		if _, err := s.binding(entity); err != nil {
			return err
		}
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateCategory(entity, id, mutator)
			return err
		})
	})
	return updated, err
}

// ListCategories returns the categories of an entity type.
func (s *Service) ListCategories(ctx context.Context, entity domain.EntityType) ([]domain.Category, error) {
	var cats []domain.Category
	err := s.run(ctx, "list_categories", func(ctx context.Context) error {
		if _, err := s.binding(entity); err != nil {
			return err
		}
		return s.store.View(ctx, func(view domain.TransactionView) error {
			var err error
			cats, err = view.ListCategories(entity)
			return err
		})
	})
	return cats, err
}

// CreateRecord persists a new record.
func (s *Service) CreateRecord(ctx context.Context, rec domain.Record) (domain.Record, error) {
	var created domain.Record
	err := s.run(ctx, "create_record", func(ctx context.Context) error {
		if _, err := s.binding(rec.Entity); err != nil {
			return err
		}
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateRecord(rec)
			return err
		})
	})
	return created, err
}

// UpdateRecord mutates a record using the provided mutator. Category writes
// go through domain.Record.SetCategory so the accumulator sees them.
func (s *Service) UpdateRecord(ctx context.Context, entity domain.EntityType, id int64, mutator func(*domain.Record) error) (domain.Record, error) {
	var updated domain.Record
	err := s.run(ctx, "update_record", func(ctx context.Context) error {
		if _, err := s.binding(entity); err != nil {
			return err
		}
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateRecord(entity, id, mutator)
			return err
		})
	})
	return updated, err
}

// SetCategory writes a record's category attribute.
func (s *Service) SetCategory(ctx context.Context, entity domain.EntityType, id int64, categoryID *int64) (domain.Record, error) {
	var updated domain.Record
	err := s.run(ctx, "set_category", func(ctx context.Context) error {
		if _, err := s.binding(entity); err != nil {
			return err
		}
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateRecord(entity, id, func(r *domain.Record) error {
				r.SetCategory(categoryID)
				return nil
			})
			return err
		})
	})
	return updated, err
}

// DeleteRecord removes a record.
func (s *Service) DeleteRecord(ctx context.Context, entity domain.EntityType, id int64) error {
	return s.run(ctx, "delete_record", func(ctx context.Context) error {
		if _, err := s.binding(entity); err != nil {
			return err
		}
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			return tx.DeleteRecord(entity, id)
		})
	})
}

// Record reads one record.
func (s *Service) Record(ctx context.Context, entity domain.EntityType, id int64) (domain.Record, error) {
	var rec domain.Record
	err := s.run(ctx, "get_record", func(ctx context.Context) error {
		if _, err := s.binding(entity); err != nil {
			return err
		}
		return s.store.View(ctx, func(view domain.TransactionView) error {
			var err error
			rec, err = view.FindRecord(entity, id)
			return err
		})
	})
	return rec, err
}

// Inspection is a record together with its computed tracking fields.
type Inspection struct {
	Record    domain.Record
	Verdict   tracking.Verdict
	Anchor    time.Time
	Durations map[int64]time.Duration
}

// Rotting computes is_rotting and rotting_days of a record.
func (s *Service) Rotting(ctx context.Context, entity domain.EntityType, id int64) (tracking.Verdict, error) {
	var verdict tracking.Verdict
	err := s.run(ctx, "rotting", func(ctx context.Context) error {
		inspections, err := s.inspect(ctx, entity, []int64{id})
		if err != nil {
			return err
		}
		if len(inspections) == 0 {
			return domain.ErrNotFound{Entity: entity, ID: id}
		}
		verdict = inspections[0].Verdict
		return nil
	})
	return verdict, err
}

// Durations returns the time a record spent per category, counting the
// ongoing dwell.
func (s *Service) Durations(ctx context.Context, entity domain.EntityType, id int64) (map[int64]time.Duration, error) {
	var durations map[int64]time.Duration
	err := s.run(ctx, "durations", func(ctx context.Context) error {
		inspections, err := s.inspect(ctx, entity, []int64{id})
		if err != nil {
			return err
		}
		if len(inspections) == 0 {
			return domain.ErrNotFound{Entity: entity, ID: id}
		}
		durations = inspections[0].Durations
		return nil
	})
	return durations, err
}

// Inspect returns a record with its verdict, rotting anchor and durations.
func (s *Service) Inspect(ctx context.Context, entity domain.EntityType, id int64) (Inspection, error) {
	var out Inspection
	err := s.run(ctx, "inspect", func(ctx context.Context) error {
		inspections, err := s.inspect(ctx, entity, []int64{id})
		if err != nil {
			return err
		}
		if len(inspections) == 0 {
			return domain.ErrNotFound{Entity: entity, ID: id}
		}
		out = inspections[0]
		return nil
	})
	return out, err
}

// InspectMany inspects the existing records among ids, in ascending id order.
func (s *Service) InspectMany(ctx context.Context, entity domain.EntityType, ids []int64) ([]Inspection, error) {
	var out []Inspection
	err := s.run(ctx, "inspect_many", func(ctx context.Context) error {
		var err error
		out, err = s.inspect(ctx, entity, ids)
		return err
	})
	return out, err
}

func (s *Service) inspect(ctx context.Context, entity domain.EntityType, ids []int64) ([]Inspection, error) {
	b, err := s.binding(entity)
	if err != nil {
		return nil, err
	}
	var out []Inspection
	err = s.store.View(ctx, func(view domain.TransactionView) error {
		recs, err := view.FindRecords(entity, ids)
		if err != nil {
			return err
		}
		verdicts, err := b.Evaluator().EvaluateAll(ctx, view, recs)
		if err != nil {
			return err
		}
		resolver := b.Resolver(view)
		now := tracking.Now(s.clock)
		out = make([]Inspection, 0, len(recs))
		for _, rec := range recs {
			out = append(out, Inspection{
				Record:    rec,
				Verdict:   verdicts[rec.ID],
				Anchor:    resolver.Anchor(rec),
				Durations: tracking.Durations(rec, now),
			})
		}
		return nil
	})
	return out, err
}

// SearchRotting returns the ids of visible records whose is_rotting value
// satisfies op over values.
func (s *Service) SearchRotting(ctx context.Context, entity domain.EntityType, op tracking.Operator, values ...bool) ([]int64, error) {
	var ids []int64
	err := s.run(ctx, "search_rotting", func(ctx context.Context) error {
		b, err := s.binding(entity)
		if err != nil {
			return err
		}
		ids, err = b.Query(s.store).Search(ctx, op, values...)
		return err
	})
	return ids, err
}
