package telemetry

import (
	"context"
	"testing"
)

func TestInitTracingDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := InitTracing("ytlivechat-test", "0.0.0")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	shutdown()
	if IsTracingEnabled() {
		t.Error("tracing should stay disabled without an endpoint")
	}
}

func TestSampleRatio(t *testing.T) {
	tests := []struct {
		env  string
		want float64
	}{
		{"", 0.1},
		{"0.5", 0.5},
		{"1", 1},
		{"0", 0},
		{"2", 0.1},
		{"-0.3", 0.1},
		{"half", 0.1},
	}
	for _, tt := range tests {
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", tt.env)
		if got := sampleRatio(); got != tt.want {
			t.Errorf("sampleRatio(%q) = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestStartSpanWithoutTracing(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test", "op", LiveIDAttr("vid1"), SelectorAttr("channel:UC1"))
	defer span.End()
	if ctx == nil {
		t.Fatal("StartSpan returned nil context")
	}
	// no-op provider: these must not panic
	RecordError(span, context.Canceled)
	SetSpanSuccess(span)
	SetSpanHTTPStatus(span, 503)
}
