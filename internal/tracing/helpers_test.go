package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newRecorder installs a recording tracer provider for the duration of a test.
func newRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return recorder
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value.Emit(), true
		}
	}
	return "", false
}

func TestStartDBSpan(t *testing.T) {
	tests := []struct {
		name      string
		system    string
		table     string
		operation DBOperation
		wantName  string
	}{
		{"sqlite upsert", "sqlite", "listing_scores", DBOperationUpsert, "upsert listing_scores"},
		{"postgres query", "postgresql", "listings", DBOperationQuery, "query listings"},
		{"no table", "sqlite", "", DBOperationExec, "exec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := newRecorder(t)

			_, end := StartDBSpan(context.Background(), tt.system, tt.table, tt.operation)
			end(nil)

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			span := spans[0]
			if span.Name() != tt.wantName {
				t.Errorf("expected span name %q, got %q", tt.wantName, span.Name())
			}
			if v, _ := attrValue(span.Attributes(), "db.system"); v != tt.system {
				t.Errorf("expected db.system=%s, got %s", tt.system, v)
			}
			if v, _ := attrValue(span.Attributes(), "db.operation"); v != string(tt.operation) {
				t.Errorf("expected db.operation=%s, got %s", tt.operation, v)
			}
			_, hasTable := attrValue(span.Attributes(), "db.sql.table")
			if hasTable != (tt.table != "") {
				t.Errorf("db.sql.table presence = %v, want %v", hasTable, tt.table != "")
			}
		})
	}
}

func TestStartSpan_RecordsError(t *testing.T) {
	recorder := newRecorder(t)

	_, end := StartSpan(context.Background(), "compute_profile", attribute.Int64("profile_id", 7))
	end(errors.New("boom"))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %s", spans[0].Status().Code)
	}
	if spans[0].Status().Description != "boom" {
		t.Errorf("expected description boom, got %q", spans[0].Status().Description)
	}
	if v, ok := attrValue(spans[0].Attributes(), "profile_id"); !ok || v != "7" {
		t.Errorf("expected profile_id=7, got %q", v)
	}
}

func TestAddEventAndAttributes(t *testing.T) {
	recorder := newRecorder(t)

	ctx, end := StartSpan(context.Background(), "score_listing")
	AddEvent(ctx, "cache_miss", attribute.Int64("listing_id", 42))
	SetAttributes(ctx, attribute.String("rule_type", "poi_proximity"))
	end(nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	events := spans[0].Events()
	if len(events) != 1 || events[0].Name != "cache_miss" {
		t.Fatalf("expected one cache_miss event, got %+v", events)
	}
	if v, _ := attrValue(spans[0].Attributes(), "rule_type"); v != "poi_proximity" {
		t.Errorf("expected rule_type attribute, got %q", v)
	}
	if spans[0].Status().Code != codes.Unset {
		t.Errorf("expected unset status, got %s", spans[0].Status().Code)
	}
}
