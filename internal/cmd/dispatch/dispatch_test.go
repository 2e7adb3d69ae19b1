package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Locale != "en-US" {
		t.Fatalf("expected default locale, got %q", cfg.Locale)
	}
	if cfg.Input != "-" {
		t.Fatalf("expected stdin input, got %q", cfg.Input)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults %+v", cfg.Logging)
	}
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	t.Setenv("TYPEDEVENTS_CATALOG", "events.yaml")
	t.Setenv("TYPEDEVENTS_LOG_LEVEL", "debug")
	t.Setenv("TYPEDEVENTS_OTEL_ENDPOINT", "http://collector:4318")

	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-locale", "pt-BR", "-list"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Catalog != "events.yaml" || cfg.Locale != "pt-BR" || !cfg.List {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected env log level, got %q", cfg.Logging.Level)
	}
	if cfg.OTel.Endpoint != "http://collector:4318" {
		t.Fatalf("expected env otel endpoint, got %q", cfg.OTel.Endpoint)
	}
}

func TestRunList(t *testing.T) {
	var out bytes.Buffer
	if err := Run(context.Background(), Config{List: true}, nil, &out, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := strings.Join([]string{
		"ADD_TODO {text: string}",
		"EDIT_TODO {id: string, text: string}",
		"LOG_IN {userId: string}",
		"REMOVE_TODO {id: string}",
		"SIGN_OUT {}",
	}, "\n") + "\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestRunListIncludesCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := "events:\n  - name: SET_ICON\n    fields:\n      - {name: size, type: string, enum: [sm, xs]}\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	var out bytes.Buffer
	if err := Run(context.Background(), Config{List: true, Catalog: path}, nil, &out, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), `SET_ICON {size: "sm" | "xs"}`) {
		t.Fatalf("expected catalog event in list, got:\n%s", out.String())
	}
}

func TestRunRejectsCatalogThatRedefinesModuleEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("events:\n  - name: LOG_IN\n"), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	err := Run(context.Background(), Config{List: true, Catalog: path}, nil, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "LOG_IN") {
		t.Fatalf("expected duplicate catalog event error, got %v", err)
	}
}

func decodeOutcomes(t *testing.T, data []byte) []outcome {
	t.Helper()
	var outcomes []outcome
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var o outcome
		if err := dec.Decode(&o); err != nil {
			t.Fatalf("decode outcome: %v", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func TestRunDispatchesEnvelopes(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"LOG_IN","payload":{"userId":"123"}}`,
		`{"type":"SIGN_OUT","payload":{}}`,
		`{"type":"LOG_IN","payload":{"userId":123}}`,
		``,
		`{"type":"LOG_IN"}`,
		`{"type":"SIGN_OUT"}`,
		`{"type":"UNREGISTERED"}`,
		`not json`,
		`{"type":"LOG_IN","payload":[1]}`,
		`{"type":"SIGN_OUT","payload":null}`,
	}, "\n")

	var out bytes.Buffer
	err := Run(context.Background(), Config{}, strings.NewReader(input), &out, nil)
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}

	outcomes := decodeOutcomes(t, out.Bytes())
	type summary struct {
		Line   int
		OK     bool
		Code   string
		Status string
	}
	var got []summary
	for _, o := range outcomes {
		if o.ID == "" {
			t.Fatalf("line %d has no request id", o.Line)
		}
		got = append(got, summary{Line: o.Line, OK: o.OK, Code: o.Code, Status: o.Status})
	}
	want := []summary{
		{Line: 1, OK: true},
		{Line: 2, Code: "EVENT_UNEXPECTED_PAYLOAD", Status: "InvalidArgument"},
		{Line: 3, Code: "EVENT_INVALID_PAYLOAD", Status: "InvalidArgument"},
		{Line: 5, Code: "EVENT_INVALID_PAYLOAD", Status: "InvalidArgument"},
		{Line: 6, OK: true},
		{Line: 7, Code: "EVENT_UNKNOWN", Status: "NotFound"},
		{Line: 8, Code: "EVENT_ENVELOPE_MALFORMED", Status: "InvalidArgument"},
		{Line: 9, Code: "EVENT_ENVELOPE_MALFORMED", Status: "InvalidArgument"},
		{Line: 10, Code: "EVENT_HANDLER_FAILED", Status: "Aborted"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("outcomes mismatch (-want +got):\n%s", diff)
	}

	invalid := outcomes[2]
	if invalid.Message != "Payload for LOG_IN is invalid: userId" {
		t.Fatalf("unexpected message %q", invalid.Message)
	}
	wantFields := []fieldOutcome{{Path: "userId", Reason: "expected string, got number"}}
	if diff := cmp.Diff(wantFields, invalid.Fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
	if len(outcomes[0].Outputs) != 1 {
		t.Fatalf("expected LOG_IN output, got %v", outcomes[0].Outputs)
	}
}

func TestRunLocalizesMessages(t *testing.T) {
	var out bytes.Buffer
	input := `{"type":"LOG_IN","payload":{}}`
	if err := Run(context.Background(), Config{Locale: "pt-BR"}, strings.NewReader(input), &out, nil); err == nil {
		t.Fatal("expected failure")
	}
	outcomes := decodeOutcomes(t, out.Bytes())
	if len(outcomes) != 1 || outcomes[0].Message != "O payload de LOG_IN é inválido: userId" {
		t.Fatalf("unexpected outcomes %+v", outcomes)
	}
}

func TestRunReadsInputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	data := `{"type":"ADD_TODO","payload":{"text":"write spec"}}` + "\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}
	var out, logs bytes.Buffer
	cfg := Config{Input: path}
	cfg.Logging.Level = "debug"
	if err := Run(context.Background(), cfg, nil, &out, &logs); err != nil {
		t.Fatalf("run: %v", err)
	}
	outcomes := decodeOutcomes(t, out.Bytes())
	if len(outcomes) != 1 || !outcomes[0].OK {
		t.Fatalf("unexpected outcomes %+v", outcomes)
	}
	if !strings.Contains(logs.String(), "dispatch finished") {
		t.Fatalf("expected summary log, got %q", logs.String())
	}
}

func TestRunRequiresInput(t *testing.T) {
	if err := Run(context.Background(), Config{}, nil, nil, nil); err == nil {
		t.Fatal("expected missing input error")
	}
	if err := Run(context.Background(), Config{Input: filepath.Join(t.TempDir(), "missing")}, nil, nil, nil); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestRunRejectsBadLogConfig(t *testing.T) {
	cfg := Config{List: true}
	cfg.Logging.Format = "xml"
	if err := Run(context.Background(), cfg, nil, nil, nil); err == nil {
		t.Fatal("expected log format error")
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, Config{}, strings.NewReader(`{"type":"SIGN_OUT"}`), nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
