package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/louisbranch/typedevents/internal/platform/requestctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatchLogsRejections(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	registry := NewRegistry(WithLogger(zap.New(core)))
	if err := registry.Register("LOG_IN", NewShape(String("userId"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Subscribe("LOG_IN", func(_ context.Context, p Payload) (any, error) {
		if p["userId"] == "bad" {
			return nil, errors.New("boom")
		}
		return nil, nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := registry.Dispatch(context.Background(), "LOG_IN", Payload{"userId": "ok"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected successful dispatch not to log, got %d entries", logs.Len())
	}

	_, _ = registry.Dispatch(requestctx.WithRequestID(context.Background(), "req-7"), "LOG_IN", Payload{})
	rejected := logs.FilterMessage("dispatch rejected").All()
	if len(rejected) != 1 {
		t.Fatalf("expected one rejection entry, got %d", len(rejected))
	}
	if rejected[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %s", rejected[0].Level)
	}
	if rejected[0].ContextMap()["event"] != "LOG_IN" {
		t.Fatalf("expected event field, got %v", rejected[0].ContextMap())
	}
	if rejected[0].ContextMap()["request_id"] != "req-7" {
		t.Fatalf("expected request id field, got %v", rejected[0].ContextMap())
	}
	if _, ok := rejected[0].ContextMap()["fields"]; !ok {
		t.Fatal("expected offending fields to be logged")
	}

	_, _ = registry.Dispatch(context.Background(), "LOG_IN", Payload{"userId": "bad"})
	failed := logs.FilterMessage("event handler failed").All()
	if len(failed) != 1 || failed[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected one handler failure at error level, got %v", failed)
	}
}

func TestDispatchRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	registry := NewRegistry(WithTracer(provider.Tracer("test")))
	if err := registry.Register("SIGN_OUT", Shape{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := registry.Dispatch(context.Background(), "SIGN_OUT", nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	ctx := requestctx.WithRequestID(context.Background(), "req-1")
	if _, err := registry.Dispatch(ctx, "SIGN_OUT", Payload{}); err == nil {
		t.Fatal("expected unexpected payload error")
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "dispatch SIGN_OUT" {
		t.Fatalf("unexpected span name %q", spans[0].Name())
	}
	if spans[0].Status().Code == codes.Error {
		t.Fatal("expected successful span not to carry an error status")
	}
	if !hasAttribute(spans[0].Attributes(), attribute.Bool("event.payload_supplied", false)) {
		t.Fatalf("expected payload_supplied=false, got %v", spans[0].Attributes())
	}
	if spans[1].Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", spans[1].Status())
	}
	if !hasAttribute(spans[1].Attributes(), attribute.Bool("event.payload_supplied", true)) {
		t.Fatalf("expected payload_supplied=true, got %v", spans[1].Attributes())
	}
	if !hasAttribute(spans[1].Attributes(), attribute.String("event.request_id", "req-1")) {
		t.Fatalf("expected request id attribute, got %v", spans[1].Attributes())
	}
}

func hasAttribute(attrs []attribute.KeyValue, want attribute.KeyValue) bool {
	for _, attr := range attrs {
		if attr.Key == want.Key && attr.Value.Emit() == want.Value.Emit() {
			return true
		}
	}
	return false
}
