package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	mw "github.com/stepwise-io/stepwise/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

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

func TestMetrics_RecordsSuccess(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	if err := m(context.Background(), newTestRun(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("metrics middleware: %v", err)
	}

	rm := collectMetrics(t, reader)

	executions := findMetric(rm, "stepwise.run.executions")
	if executions == nil {
		t.Fatal("stepwise.run.executions not recorded")
	}
	sum, ok := executions.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("executions data type: %T", executions.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Fatalf("executions datapoints: %+v", sum.DataPoints)
	}
	status, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("status"))
	if status.AsString() != "ok" {
		t.Errorf("status attribute = %q, want ok", status.AsString())
	}

	duration := findMetric(rm, "stepwise.run.duration")
	if duration == nil {
		t.Fatal("stepwise.run.duration not recorded")
	}
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration data type: %T", duration.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("duration datapoints: %+v", hist.DataPoints)
	}
}

func TestMetrics_RecordsErrorStatus(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	boom := errors.New("fail")
	if err := m(context.Background(), newTestRun(), func(_ context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	rm := collectMetrics(t, reader)
	executions := findMetric(rm, "stepwise.run.executions")
	if executions == nil {
		t.Fatal("stepwise.run.executions not recorded")
	}
	sum := executions.Data.(metricdata.Sum[int64])
	status, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("status"))
	if status.AsString() != "error" {
		t.Errorf("status attribute = %q, want error", status.AsString())
	}
}
