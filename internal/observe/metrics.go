// Package observe provides application-wide observability primitives for
// Parley: OpenTelemetry metrics and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/parleyvoice/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// SessionConnects counts dial outcomes. Use with attribute:
	//   attribute.String("status", ...)
	SessionConnects metric.Int64Counter

	// ReconnectAttempts counts scheduled reconnects.
	ReconnectAttempts metric.Int64Counter

	// Interruptions counts barge-in events that cut playback.
	Interruptions metric.Int64Counter

	// HeartbeatTimeouts counts connections declared dead by the heartbeat.
	HeartbeatTimeouts metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// AudioBytes counts raw PCM bytes moved. Use with attribute:
	//   attribute.String("direction", "inbound"|"outbound")
	AudioBytes metric.Int64Counter

	// FramesScheduled counts frames handed to the playback scheduler.
	FramesScheduled metric.Int64Counter

	// --- Histograms ---

	// ScheduleLead tracks how far ahead of the output clock frames are
	// scheduled. Shrinking lead warns of an underrun before it is audible.
	ScheduleLead metric.Float64Histogram
}

// leadBuckets defines histogram bucket boundaries (in seconds) sized for
// playback scheduling leads.
var leadBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionConnects, err = m.Int64Counter("parley.session.connects",
		metric.WithDescription("Total dial outcomes by status."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("parley.session.reconnects",
		metric.WithDescription("Total scheduled reconnect attempts."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("parley.playback.interruptions",
		metric.WithDescription("Total barge-in events that cut playback."),
	); err != nil {
		return nil, err
	}
	if met.HeartbeatTimeouts, err = m.Int64Counter("parley.session.heartbeat_timeouts",
		metric.WithDescription("Total connections declared dead by the heartbeat."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("parley.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("parley.audio.bytes",
		metric.WithDescription("Total raw PCM bytes moved by direction."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.FramesScheduled, err = m.Int64Counter("parley.playback.frames",
		metric.WithDescription("Total frames handed to the playback scheduler."),
	); err != nil {
		return nil, err
	}

	if met.ScheduleLead, err = m.Float64Histogram("parley.playback.schedule_lead",
		metric.WithDescription("How far ahead of the output clock frames are scheduled."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(leadBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSessionConnect records one dial outcome.
func (m *Metrics) RecordSessionConnect(ctx context.Context, status string) {
	m.SessionConnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordReconnect records one scheduled reconnect.
func (m *Metrics) RecordReconnect(ctx context.Context, attempt int) {
	m.ReconnectAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.Int("attempt", attempt)),
	)
}

// RecordInterruption records one barge-in playback cut.
func (m *Metrics) RecordInterruption(ctx context.Context) {
	m.Interruptions.Add(ctx, 1)
}

// RecordHeartbeatTimeout records one connection declared dead.
func (m *Metrics) RecordHeartbeatTimeout(ctx context.Context) {
	m.HeartbeatTimeouts.Add(ctx, 1)
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordAudioBytes records PCM bytes moved in one direction.
func (m *Metrics) RecordAudioBytes(ctx context.Context, direction string, n int64) {
	m.AudioBytes.Add(ctx, n,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordFrameScheduled records one frame handed to playback along with its
// scheduling lead.
func (m *Metrics) RecordFrameScheduled(ctx context.Context, leadSeconds float64) {
	m.FramesScheduled.Add(ctx, 1)
	m.ScheduleLead.Record(ctx, leadSeconds)
}
