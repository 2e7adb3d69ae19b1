// Package dispatch implements the dispatch command: it builds the event
// registry, seals it and dispatches a stream of event envelopes.
package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/louisbranch/typedevents/internal/dispatch"
	"github.com/louisbranch/typedevents/internal/dispatch/schema"
	"github.com/louisbranch/typedevents/internal/events/session"
	"github.com/louisbranch/typedevents/internal/events/todo"
	platformcmd "github.com/louisbranch/typedevents/internal/platform/cmd"
	apperrors "github.com/louisbranch/typedevents/internal/platform/errors"
	"github.com/louisbranch/typedevents/internal/platform/id"
	"github.com/louisbranch/typedevents/internal/platform/logging"
	"github.com/louisbranch/typedevents/internal/platform/otel"
	"github.com/louisbranch/typedevents/internal/platform/requestctx"
	"go.uber.org/zap"
	"google.golang.org/grpc/status"
)

const maxLineBytes = 1 << 20

// ErrDispatchFailed indicates at least one envelope was rejected.
var ErrDispatchFailed = errors.New("one or more events failed")

// Config holds dispatch command configuration.
type Config struct {
	Catalog string         `env:"CATALOG"`
	Locale  string         `env:"LOCALE" envDefault:"en-US"`
	Input   string         `env:"INPUT"  envDefault:"-"`
	List    bool           `env:"LIST"`
	Logging logging.Config `envPrefix:"LOG_"`
	OTel    otel.Config    `envPrefix:"OTEL_"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Catalog, "catalog", cfg.Catalog, "path to a YAML catalog of additional events")
	fs.StringVar(&cfg.Input, "input", cfg.Input, "NDJSON envelope file, or - for stdin")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "locale for error messages")
	fs.BoolVar(&cfg.List, "list", cfg.List, "print registered events and exit")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "log level")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envelope is one input line.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// outcome is one output line.
type outcome struct {
	Line    int            `json:"line"`
	ID      string         `json:"id"`
	Type    string         `json:"type,omitempty"`
	OK      bool           `json:"ok"`
	Code    string         `json:"code,omitempty"`
	Status  string         `json:"status,omitempty"`
	Message string         `json:"message,omitempty"`
	Fields  []fieldOutcome `json:"fields,omitempty"`
	Outputs []any          `json:"outputs,omitempty"`
}

type fieldOutcome struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Run executes the dispatch command.
func Run(ctx context.Context, cfg Config, in io.Reader, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	logger, err := logging.New(cfg.Logging, errOut)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	if cfg.List {
		return listDefinitions(registry, out)
	}

	input, closeInput, err := openInput(cfg.Input, in)
	if err != nil {
		return err
	}
	defer closeInput()

	failed, total, err := dispatchLines(ctx, registry, cfg.Locale, input, out, logger)
	if err != nil {
		return err
	}
	logger.Info("dispatch finished", zap.Int("events", total), zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrDispatchFailed, failed, total)
	}
	return nil
}

func buildRegistry(cfg Config, logger *zap.Logger) (*dispatch.Registry, error) {
	registry := dispatch.NewRegistry(dispatch.WithLogger(logger))
	if err := dispatch.Install(registry, session.New(), todo.New()); err != nil {
		return nil, fmt.Errorf("install modules: %w", err)
	}
	if path := strings.TrimSpace(cfg.Catalog); path != "" {
		catalog, err := schema.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if err := catalog.Register(registry); err != nil {
			return nil, fmt.Errorf("register catalog: %w", err)
		}
		logger.Info("catalog loaded", zap.String("path", path), zap.Int("events", len(catalog.Events)))
	}
	registry.Seal()
	return registry, nil
}

func listDefinitions(registry *dispatch.Registry, out io.Writer) error {
	for _, def := range registry.ListDefinitions() {
		if _, err := fmt.Fprintf(out, "%s %s\n", def.Name, def.Shape); err != nil {
			return err
		}
	}
	return nil
}

func openInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		if stdin == nil {
			return nil, nil, errors.New("input is required")
		}
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func dispatchLines(ctx context.Context, registry *dispatch.Registry, locale string, in io.Reader, out io.Writer, logger *zap.Logger) (failed, total int, err error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	encoder := json.NewEncoder(out)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return failed, total, err
		}
		total++

		result := dispatchLine(ctx, registry, locale, raw)
		result.Line = line
		if !result.OK {
			failed++
		}
		logger.Debug("event dispatched",
			zap.Int("line", line),
			zap.String("id", result.ID),
			zap.String("event", result.Type),
			zap.Bool("ok", result.OK),
		)
		if err := encoder.Encode(result); err != nil {
			return failed, total, fmt.Errorf("write result: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return failed, total, fmt.Errorf("read input: %w", err)
	}
	return failed, total, nil
}

func dispatchLine(ctx context.Context, registry *dispatch.Registry, locale string, raw []byte) outcome {
	var result outcome
	requestID, err := id.NewID()
	if err != nil {
		return failure(result, apperrors.Wrap(apperrors.CodeUnknown, err.Error(), err), locale)
	}
	result.ID = requestID

	var env envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return failure(result, malformed(err), locale)
	}
	result.Type = strings.TrimSpace(env.Type)
	if result.Type == "" {
		return failure(result, malformed(errors.New("type is required")), locale)
	}
	payload, err := dispatch.DecodePayload(env.Payload)
	if err != nil {
		return failure(result, malformed(err), locale)
	}

	ctx = requestctx.WithRequestID(ctx, requestID)
	res, err := registry.Dispatch(ctx, dispatch.Name(result.Type), payload)
	if err != nil {
		var payloadErr *dispatch.PayloadError
		if errors.As(err, &payloadErr) {
			for _, field := range payloadErr.Fields {
				result.Fields = append(result.Fields, fieldOutcome{Path: field.Path, Reason: field.Reason})
			}
		}
		return failure(result, dispatch.DomainError(err), locale)
	}
	result.OK = true
	result.Outputs = res.Outputs
	return result
}

func malformed(err error) *apperrors.Error {
	return apperrors.Wrap(apperrors.CodeEnvelopeMalformed, err.Error(), err)
}

func failure(result outcome, appErr *apperrors.Error, locale string) outcome {
	st := status.Convert(apperrors.HandleError(appErr, locale))
	result.OK = false
	result.Code = string(appErr.Code)
	result.Status = st.Code().String()
	result.Message = st.Message()
	if localized, ok := apperrors.LocalizedDetail(st.Err()); ok {
		result.Message = localized
	}
	return result
}
