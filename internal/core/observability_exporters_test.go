package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestPrometheusRecorder(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg, "test")

	rec.Observe(context.Background(), "search_rotting", true, 20*time.Millisecond)
	rec.Observe(context.Background(), "search_rotting", false, time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.results.WithLabelValues("search_rotting", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.results.WithLabelValues("search_rotting", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.durations, "test_service_operation_duration_seconds"))
}

func TestOTelTracerRecordsErrors(t *testing.T) {
	t.Parallel()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	tracer := NewOTelTracer(provider.Tracer("test"))

	_, span := tracer.Start(context.Background(), "declare")
	span.End(nil)
	_, span = tracer.Start(context.Background(), "search_rotting")
	span.End(errors.New("boom"))

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "core.declare", ended[0].Name())
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Equal(t, "core.search_rotting", ended[1].Name())
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, "boom", ended[1].Status().Description)
}

func TestJSONTracerWritesLines(t *testing.T) {
	t.Parallel()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf, clock)

	_, span := tracer.Start(context.Background(), "rotting")
	clock.Advance(250 * time.Millisecond)
	span.End(errors.New("crm.lead 7 not found"))

	entries := tracer.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].Status)
	assert.Equal(t, 250.0, entries[0].DurationMS)

	var line JSONTraceEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "rotting", line.Operation)
	assert.Equal(t, "crm.lead 7 not found", line.Error)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 250_000_000, time.UTC), line.EndedAt)
}

func TestServiceWithJSONTracer(t *testing.T) {
	t.Parallel()
	tracer := NewJSONTracer(nil, nil)
	svc, _ := newTestService(t, WithTracer(tracer))
	_, err := svc.Declare(context.Background(), leadDeclaration)
	require.NoError(t, err)

	entries := tracer.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "declare", entries[0].Operation)
	assert.Equal(t, "success", entries[0].Status)
}
