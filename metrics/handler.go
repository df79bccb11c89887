package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type (
	// Handler records counters and timers for a fixed attribute set.
	Handler interface {
		Counter(name string) Counter
		Timer(name string) Timer
	}

	// Counter is a monotonically increasing count.
	Counter interface {
		Inc(delta int64)
	}

	// Timer records durations into a latency histogram.
	Timer interface {
		Record(duration time.Duration)
	}

	// HandlerOptions configures a Handler.
	HandlerOptions struct {
		// InitialAttributes are attached to every recorded measurement.
		InitialAttributes attribute.Set
	}

	otelHandler struct {
		meter      metric.Meter
		attributes attribute.Set

		mu       sync.Mutex
		counters map[string]metric.Int64Counter
		timers   map[string]metric.Float64Histogram
	}

	otelCounter struct {
		handler *otelHandler
		counter metric.Int64Counter
	}

	otelTimer struct {
		handler   *otelHandler
		histogram metric.Float64Histogram
	}

	nopHandler struct{}
	nopCounter struct{}
	nopTimer   struct{}
)

// NopHandler discards all measurements.
var NopHandler Handler = nopHandler{}

// NewMetricsHandler creates a Handler backed by the global OTel meter provider.
func NewMetricsHandler(options HandlerOptions) Handler {
	return &otelHandler{
		meter:      otel.Meter("mrcrypt"),
		attributes: options.InitialAttributes,
		counters:   make(map[string]metric.Int64Counter),
		timers:     make(map[string]metric.Float64Histogram),
	}
}

func (h *otelHandler) Counter(name string) Counter {
	h.mu.Lock()
	defer h.mu.Unlock()

	counter, ok := h.counters[name]
	if !ok {
		counter, _ = h.meter.Int64Counter(name)
		h.counters[name] = counter
	}
	return &otelCounter{handler: h, counter: counter}
}

func (h *otelHandler) Timer(name string) Timer {
	h.mu.Lock()
	defer h.mu.Unlock()

	histogram, ok := h.timers[name]
	if !ok {
		histogram, _ = h.meter.Float64Histogram(name, metric.WithUnit("s"))
		h.timers[name] = histogram
	}
	return &otelTimer{handler: h, histogram: histogram}
}

func (c *otelCounter) Inc(delta int64) {
	c.counter.Add(context.Background(), delta,
		metric.WithAttributeSet(c.handler.attributes))
}

func (t *otelTimer) Record(duration time.Duration) {
	t.histogram.Record(context.Background(), duration.Seconds(),
		metric.WithAttributeSet(t.handler.attributes))
}

func (nopHandler) Counter(string) Counter { return nopCounter{} }
func (nopHandler) Timer(string) Timer     { return nopTimer{} }

func (nopCounter) Inc(int64)           {}
func (nopTimer) Record(time.Duration)  {}
