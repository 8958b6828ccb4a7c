package tracking

import (
	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"stagedwell/pkg/domain"
)

// Settings keys read by the engine.
const (
	SearchMonthsKey     = "tracking.rotting_search_months"
	DefaultSearchMonths = 12
)

// Option configures a Binding.
type Option func(*options)

type options struct {
	clock    quartz.Clock
	logger   slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	settings domain.Settings
}

func defaultOptions() options {
	return options{
		clock:    quartz.NewReal(),
		logger:   slog.Make(),
		tracer:   otel.Tracer("stagedwell/tracking"),
		settings: domain.StaticSettings{},
	}
}

// WithClock sets the time source.
func WithClock(clock quartz.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics enables prometheus collection.
func WithMetrics(metrics *Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithTracer overrides the otel tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithSettings sets the parameter source read by searches.
func WithSettings(settings domain.Settings) Option {
	return func(o *options) {
		if settings != nil {
			o.settings = settings
		}
	}
}
