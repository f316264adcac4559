package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestInitTracingLabelsSpansWithRun(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	var buf bytes.Buffer
	cfg := TracingConfig{
		Enabled:     true,
		ServiceName: "epidemic-simulator",
		Exporter:    "stdout",
		SampleRatio: 1,
		RunID:       "run-42",
		Scenario:    "two-rooms",
		Engine:      "rocket",
		Writer:      &buf,
	}
	ctx := context.Background()
	shutdown, err := InitTracing(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("InitTracing error = %v", err)
	}
	_, span := otel.Tracer("test").Start(ctx, "rocket.Run")
	span.End()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"rocket.Run", "sim.run_id", "run-42", "sim.scenario", "two-rooms", "sim.engine"} {
		if !strings.Contains(out, want) {
			t.Fatalf("exported span lacks %q:\n%s", want, out)
		}
	}
}

func TestResourceAttributesSkipEmptyLabels(t *testing.T) {
	attrs := TracingConfig{ServiceName: "svc", RunID: "r1"}.resourceAttributes()
	got := map[string]string{}
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	if got["service.name"] != "svc" || got["sim.run_id"] != "r1" {
		t.Fatalf("resourceAttributes = %v, want service.name svc and sim.run_id r1", got)
	}
	if _, ok := got["sim.engine"]; ok {
		t.Fatalf("resourceAttributes = %v, want no empty sim.engine", got)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "carrier-pigeon", SampleRatio: 1}, nil)
	if err == nil {
		t.Fatalf("InitTracing with an unknown exporter succeeded")
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("SIM_TRACING_ENABLED", "true")
	t.Setenv("SIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("SIM_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("SIM_TRACING_SERVICE_NAME", "")
	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || cfg.ServiceName != "epidemic-simulator" {
		t.Fatalf("TracingConfigFromEnv = %+v", cfg)
	}
}
