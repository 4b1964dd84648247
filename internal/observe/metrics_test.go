package observe

import (
	"context"
	"errors"
	"testing"

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

// sumByAttr returns the value of the int64 sum data point whose attribute key
// has value val, and whether it was found.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, val string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == val {
				return dp.Value, true
			}
		}
	}
	return 0, false
}

func TestHistogramObservation(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.TranslateDuration.Record(ctx, 0.4)
	m.TranslateDuration.Record(ctx, 0.9)
	m.SynthesizeDuration.Record(ctx, 1.2)
	m.SynthesizeDuration.Record(ctx, 2.2)
	m.ReplyDuration.Record(ctx, 0.8)
	m.ReplyDuration.Record(ctx, 0.6)
	m.TurnDuration.Record(ctx, 3.1)
	m.TurnDuration.Record(ctx, 4.5)

	rm := collect(t, reader)
	for _, name := range []string{
		"babelcall.translate.duration",
		"babelcall.synthesize.duration",
		"babelcall.reply.duration",
		"babelcall.turn.duration",
	} {
		t.Run(name, func(t *testing.T) {
			met := findMetric(rm, name)
			if met == nil {
				t.Fatalf("metric %q not found", name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", name)
			}
			if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 2 {
				t.Errorf("data points = %+v, want one with count 2", hist.DataPoints)
			}
		})
	}
}

func TestRecordProviderRequest(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "gemini", "translate", StatusOK)
	m.RecordProviderRequest(ctx, "gemini", "translate", StatusOK)
	m.RecordProviderRequest(ctx, "gemini", "translate", StatusError)
	m.RecordProviderError(ctx, "gemini", "translate")

	rm := collect(t, reader)
	if v, ok := sumByAttr(t, rm, "babelcall.provider.requests", "status", StatusOK); !ok || v != 2 {
		t.Errorf("ok requests = %d (found %v), want 2", v, ok)
	}
	if v, ok := sumByAttr(t, rm, "babelcall.provider.errors", "kind", "translate"); !ok || v != 1 {
		t.Errorf("errors = %d (found %v), want 1", v, ok)
	}
}

func TestRecordStepError(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStepError(ctx, "translate")
	m.RecordStepError(ctx, "reply")
	m.RecordStepError(ctx, "reply")

	rm := collect(t, reader)
	if v, _ := sumByAttr(t, rm, "babelcall.pipeline.step_errors", "step", "reply"); v != 2 {
		t.Errorf("reply step errors = %d, want 2", v)
	}
}

func TestRecordPlayback(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPlayback(ctx, nil)
	m.RecordPlayback(ctx, nil)
	m.RecordPlayback(ctx, errors.New("device lost"))
	m.RecordQueueDepth(ctx, 3)

	rm := collect(t, reader)
	if v, _ := sumByAttr(t, rm, "babelcall.playback.buffers", "status", StatusOK); v != 2 {
		t.Errorf("ok buffers = %d, want 2", v)
	}
	if v, _ := sumByAttr(t, rm, "babelcall.playback.buffers", "status", StatusError); v != 1 {
		t.Errorf("failed buffers = %d, want 1", v)
	}

	met := findMetric(rm, "babelcall.playback.errors")
	if met == nil {
		t.Fatal("playback errors metric not found")
	}
	if sum := met.Data.(metricdata.Sum[int64]); len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("playback errors = %+v, want 1", sum.DataPoints)
	}

	depth := findMetric(rm, "babelcall.playback.queue_depth")
	if depth == nil {
		t.Fatal("queue depth metric not found")
	}
	g, ok := depth.Data.(metricdata.Gauge[int64])
	if !ok || len(g.DataPoints) != 1 || g.DataPoints[0].Value != 3 {
		t.Errorf("queue depth = %+v, want 3", depth.Data)
	}
}

func TestUpDownCounters(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveCalls.Add(ctx, 1)
	m.ActiveCalls.Add(ctx, -1)
	m.ActiveCalls.Add(ctx, 1)
	m.WSClients.Add(ctx, 2)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"babelcall.active_calls": 1,
		"babelcall.ws.clients":   2,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) == 0 {
			t.Fatalf("metric %q has no sum data", name)
		}
		if got := sum.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
