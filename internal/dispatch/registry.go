package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/louisbranch/typedevents/internal/platform/requestctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/louisbranch/typedevents/internal/dispatch"

// Name identifies an event variant.
type Name string

// Payload carries the data of one dispatched event. A nil Payload means the
// caller omitted it; a non-nil map, even an empty one, counts as supplied.
type Payload map[string]any

// Handler reacts to a validated event payload.
type Handler func(ctx context.Context, payload Payload) (any, error)

// Definition registers the payload contract for an event name.
type Definition struct {
	Name  Name
	Shape Shape
}

// Request pairs an event name with its payload for a single dispatch.
type Request struct {
	Name    Name
	Payload Payload
}

// Result collects handler outputs of one dispatch in subscription order. It is
// empty when the event has no subscribers.
type Result struct {
	Name    Name
	Outputs []any
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger reports rejected dispatches to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracer spans each dispatch with tracer instead of the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Registry) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// Registry stores event definitions and their subscribed handlers.
type Registry struct {
	mu          sync.RWMutex
	definitions map[Name]Definition
	handlers    map[Name][]Handler
	sealed      atomic.Bool

	logger *zap.Logger
	tracer trace.Tracer
}

// NewRegistry creates an empty, open registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		definitions: make(map[Name]Definition),
		handlers:    make(map[Name][]Handler),
		logger:      zap.NewNop(),
		tracer:      otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an event variant. The registry keeps its own copy of shape.
func (r *Registry) Register(name Name, shape Shape) error {
	if r == nil {
		return ErrRegistryRequired
	}
	name = normalizeName(name)
	if r.sealed.Load() {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, displayName(name))
	}
	if name == "" {
		return ErrNameRequired
	}
	if err := checkShape(shape, ""); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, name)
	}
	if r.definitions == nil {
		r.definitions = make(map[Name]Definition)
	}
	if _, exists := r.definitions[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, name)
	}
	r.definitions[name] = Definition{Name: name, Shape: shape.clone()}
	return nil
}

// Subscribe appends handler to the handlers of a registered event.
func (r *Registry) Subscribe(name Name, handler Handler) error {
	if r == nil {
		return ErrRegistryRequired
	}
	if handler == nil {
		return ErrHandlerRequired
	}
	name = normalizeName(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.definitions[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, displayName(name))
	}
	if r.handlers == nil {
		r.handlers = make(map[Name][]Handler)
	}
	r.handlers[name] = append(r.handlers[name], handler)
	return nil
}

// Seal closes the registry to new registrations. It is irreversible and
// idempotent.
func (r *Registry) Seal() {
	if r == nil {
		return
	}
	r.sealed.Store(true)
}

// Sealed reports whether registration is closed.
func (r *Registry) Sealed() bool {
	return r != nil && r.sealed.Load()
}

// Dispatch validates payload against the event's shape and runs its handlers
// sequentially in subscription order. The first handler error stops the
// sequence. Dispatch seals the registry.
func (r *Registry) Dispatch(ctx context.Context, name Name, payload Payload) (Result, error) {
	if r == nil {
		return Result{}, ErrRegistryRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.Seal()
	req := Request{Name: normalizeName(name), Payload: payload}

	tracer := r.tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	attrs := []attribute.KeyValue{
		attribute.String("event.name", string(req.Name)),
		attribute.Bool("event.payload_supplied", req.Payload != nil),
	}
	requestID := requestctx.RequestIDFromContext(ctx)
	if requestID != "" {
		attrs = append(attrs, attribute.String("event.request_id", requestID))
	}
	ctx, span := tracer.Start(ctx, "dispatch "+displayName(req.Name), trace.WithAttributes(attrs...))
	defer span.End()

	result, err := r.dispatch(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.report(req, requestID, err)
		return Result{}, err
	}
	span.SetAttributes(attribute.Int("event.handlers", len(result.Outputs)))
	return result, nil
}

func (r *Registry) dispatch(ctx context.Context, req Request) (Result, error) {
	r.mu.RLock()
	def, ok := r.definitions[req.Name]
	handlers := slices.Clone(r.handlers[req.Name])
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownEvent, displayName(req.Name))
	}
	if err := checkPayload(def, req.Payload); err != nil {
		return Result{}, err
	}

	result := Result{Name: req.Name}
	for i, handler := range handlers {
		out, err := handler(ctx, req.Payload)
		if err != nil {
			return Result{}, &HandlerError{Event: req.Name, Index: i, Err: err}
		}
		result.Outputs = append(result.Outputs, out)
	}
	return result, nil
}

func checkPayload(def Definition, payload Payload) error {
	if def.Shape.Empty() {
		if payload != nil {
			return fmt.Errorf("%w: %s", ErrUnexpectedPayload, def.Name)
		}
		return nil
	}
	if problems := validatePayload(def.Shape, payload); len(problems) > 0 {
		return &PayloadError{Event: def.Name, Fields: problems}
	}
	return nil
}

func (r *Registry) report(req Request, requestID string, err error) {
	if r.logger == nil {
		return
	}
	fields := []zap.Field{zap.String("event", string(req.Name)), zap.Error(err)}
	if requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	var payloadErr *PayloadError
	if errors.As(err, &payloadErr) {
		fields = append(fields, zap.Strings("fields", payloadErr.Paths()))
	}
	var handlerErr *HandlerError
	if errors.As(err, &handlerErr) {
		r.logger.Error("event handler failed", append(fields, zap.Int("handler", handlerErr.Index))...)
		return
	}
	r.logger.Warn("dispatch rejected", fields...)
}

// Definition returns a copy of the definition registered for name.
func (r *Registry) Definition(name Name) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	name = normalizeName(name)
	if name == "" {
		return Definition{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[name]
	if !ok {
		return Definition{}, false
	}
	return Definition{Name: def.Name, Shape: def.Shape.clone()}, true
}

// ListDefinitions returns a stable, sorted snapshot of registered definitions.
func (r *Registry) ListDefinitions() []Definition {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.definitions) == 0 {
		return nil
	}
	definitions := make([]Definition, 0, len(r.definitions))
	for _, def := range r.definitions {
		definitions = append(definitions, Definition{Name: def.Name, Shape: def.Shape.clone()})
	}
	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].Name < definitions[j].Name
	})
	return definitions
}

// HandlerCount returns the number of handlers subscribed to name.
func (r *Registry) HandlerCount(name Name) int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[normalizeName(name)])
}

func normalizeName(name Name) Name {
	return Name(strings.TrimSpace(string(name)))
}

func displayName(name Name) string {
	if name == "" {
		return `""`
	}
	return string(name)
}
