package tracing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/onnwee/matchrank/internal/middleware"
	"github.com/onnwee/matchrank/internal/ranking"
	"github.com/onnwee/matchrank/internal/tracing"
)

// TestEndToEndTracing checks that the HTTP span, a tenant settings query and
// the ranking call share one trace.
func TestEndToEndTracing(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	engine := ranking.NewEngine(ranking.EngineConfig{Workers: 2})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		_, endDB := tracing.StartDBSpan(ctx, "tenant_settings", tracing.DBOperationQuery)
		endDB(nil)

		_, err := engine.RankListings(ctx, ranking.DefaultConfig(), nil, []ranking.Candidate{
			{ID: "a", CreatedAt: now},
			{ID: "b", CreatedAt: now.AddDate(0, 0, -30)},
		}, ranking.Options{Now: now})
		if err != nil {
			t.Errorf("RankListings() error = %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	traced := middleware.Tracing("matchrank-test")(handler)
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/t1/rank/listings", nil)
	rr := httptest.NewRecorder()
	traced.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	spans := spanRecorder.Ended()
	names := make(map[string]bool)
	for _, span := range spans {
		names[span.Name()] = true
	}
	for _, name := range []string{"POST /v1/tenants/{tenant}/rank/listings", "query tenant_settings", "rank_listings"} {
		if !names[name] {
			t.Errorf("missing span %q (got %v)", name, names)
		}
	}

	if len(spans) > 0 {
		traceID := spans[0].SpanContext().TraceID()
		for i, span := range spans {
			if span.SpanContext().TraceID() != traceID {
				t.Errorf("span %d (%s) has a different trace ID", i, span.Name())
			}
		}
	}

	for _, span := range spans {
		if span.Name() != "rank_listings" {
			continue
		}
		var candidates int64 = -1
		for _, attr := range span.Attributes() {
			if attr.Key == attribute.Key("ranking.candidates") {
				candidates = attr.Value.AsInt64()
			}
		}
		if candidates != 2 {
			t.Errorf("ranking.candidates = %d, want 2", candidates)
		}
	}
}

// TestTracingDisabled verifies helpers are safe to call without an SDK
// provider installed.
func TestTracingDisabled(t *testing.T) {
	provider, err := tracing.NewProvider(tracing.Config{
		ServiceName: "matchrank-test",
		Enabled:     false,
	})
	if err != nil {
		t.Fatalf("failed to create disabled provider: %v", err)
	}
	if provider.IsEnabled() {
		t.Error("expected tracing to be disabled")
	}

	ctx, endSpan := tracing.StartSpan(context.Background(), "rank_members")
	tracing.SetAttributes(ctx, attribute.String("ranking.type", "members"))
	tracing.AddEvent(ctx, "noop")
	endSpan(nil)
}
