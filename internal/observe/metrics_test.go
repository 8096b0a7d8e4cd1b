package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordSessionConnect_CountsByStatus(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSessionConnect(ctx, "ok")
	m.RecordSessionConnect(ctx, "ok")
	m.RecordSessionConnect(ctx, "error")

	rm := collect(t, reader)
	met := findMetric(rm, "parley.session.connects")
	if met == nil {
		t.Fatal("parley.session.connects not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T, want Sum[int64]", met.Data)
	}

	var okCount, errCount int64
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		switch status.AsString() {
		case "ok":
			okCount = dp.Value
		case "error":
			errCount = dp.Value
		}
	}
	if okCount != 2 || errCount != 1 {
		t.Errorf("connects ok=%d error=%d, want ok=2 error=1", okCount, errCount)
	}
}

func TestRecordToolCall_CountsByToolAndStatus(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "lookup", "ok")
	m.RecordToolCall(ctx, "lookup", "ok")

	rm := collect(t, reader)
	met := findMetric(rm, "parley.tool.calls")
	if met == nil {
		t.Fatal("parley.tool.calls not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T, want Sum[int64]", met.Data)
	}
	if len(sum.DataPoints) != 1 {
		t.Fatalf("datapoints = %d, want 1", len(sum.DataPoints))
	}
	if sum.DataPoints[0].Value != 2 {
		t.Errorf("tool calls = %d, want 2", sum.DataPoints[0].Value)
	}
}

func TestRecordAudioBytes_SumsPerDirection(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAudioBytes(ctx, "inbound", 4096)
	m.RecordAudioBytes(ctx, "inbound", 1024)
	m.RecordAudioBytes(ctx, "outbound", 512)

	rm := collect(t, reader)
	met := findMetric(rm, "parley.audio.bytes")
	if met == nil {
		t.Fatal("parley.audio.bytes not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T, want Sum[int64]", met.Data)
	}

	var inbound, outbound int64
	for _, dp := range sum.DataPoints {
		dir, _ := dp.Attributes.Value(attribute.Key("direction"))
		switch dir.AsString() {
		case "inbound":
			inbound = dp.Value
		case "outbound":
			outbound = dp.Value
		}
	}
	if inbound != 5120 || outbound != 512 {
		t.Errorf("bytes inbound=%d outbound=%d, want 5120/512", inbound, outbound)
	}
}

func TestRecordFrameScheduled_RecordsCounterAndLead(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrameScheduled(ctx, 0.1)
	m.RecordFrameScheduled(ctx, 0.3)

	rm := collect(t, reader)

	frames := findMetric(rm, "parley.playback.frames")
	if frames == nil {
		t.Fatal("parley.playback.frames not found")
	}
	sum, ok := frames.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
		t.Errorf("frames data = %+v, want single datapoint of 2", frames.Data)
	}

	lead := findMetric(rm, "parley.playback.schedule_lead")
	if lead == nil {
		t.Fatal("parley.playback.schedule_lead not found")
	}
	hist, ok := lead.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T, want Histogram[float64]", lead.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Fatalf("histogram datapoints = %+v, want one with count 2", hist.DataPoints)
	}
	if got := hist.DataPoints[0].Sum; got < 0.39 || got > 0.41 {
		t.Errorf("lead sum = %v, want 0.4", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}

func TestInitProvider_RegistersGlobalMeterProvider(t *testing.T) {
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName:    "parley-test",
		ServiceVersion: "0.0.0",
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })
}
