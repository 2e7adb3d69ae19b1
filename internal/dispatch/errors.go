package dispatch

import (
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/typedevents/internal/platform/errors"
)

var (
	// ErrRegistryRequired indicates a nil registry.
	ErrRegistryRequired = errors.New("registry is required")
	// ErrNameRequired indicates a blank event name at registration.
	ErrNameRequired = errors.New("event name is required")
	// ErrShapeInvalid indicates a malformed payload shape declaration.
	ErrShapeInvalid = errors.New("payload shape is invalid")
	// ErrDuplicateEvent indicates an event name that is already registered.
	ErrDuplicateEvent = errors.New("event is already registered")
	// ErrUnknownEvent indicates an event name that is not registered.
	ErrUnknownEvent = errors.New("event is not registered")
	// ErrUnexpectedPayload indicates a payload supplied to an event that takes none.
	ErrUnexpectedPayload = errors.New("event takes no payload")
	// ErrInvalidPayload indicates a payload that does not satisfy the event shape.
	ErrInvalidPayload = errors.New("payload does not match event shape")
	// ErrRegistrySealed indicates a registration after the registry was sealed.
	ErrRegistrySealed = errors.New("registry is sealed")
	// ErrHandlerRequired indicates a nil handler subscription.
	ErrHandlerRequired = errors.New("handler is required")
	// ErrHandlerFailed indicates a subscribed handler returned an error.
	ErrHandlerFailed = errors.New("event handler failed")
	// ErrCoverageIncomplete indicates registered events without exactly one
	// handling module.
	ErrCoverageIncomplete = errors.New("event handler coverage is incomplete")
)

// FieldError describes one payload member that failed validation.
type FieldError struct {
	// Path locates the member, e.g. "meta.name" or "comments[1].value".
	Path   string
	Reason string
}

func (e FieldError) String() string {
	return e.Path + ": " + e.Reason
}

// PayloadError reports every payload member that failed validation for one
// event. It matches ErrInvalidPayload under errors.Is.
type PayloadError struct {
	Event  Name
	Fields []FieldError
}

func (e *PayloadError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, field := range e.Fields {
		parts[i] = field.String()
	}
	return fmt.Sprintf("%s for %s: %s", ErrInvalidPayload, e.Event, strings.Join(parts, "; "))
}

// Is matches ErrInvalidPayload.
func (e *PayloadError) Is(target error) bool {
	return target == ErrInvalidPayload
}

// Paths returns the offending member paths in report order.
func (e *PayloadError) Paths() []string {
	paths := make([]string, len(e.Fields))
	for i, field := range e.Fields {
		paths[i] = field.Path
	}
	return paths
}

// HandlerError wraps the failure of one subscribed handler. Handlers after the
// failing one are not invoked.
type HandlerError struct {
	Event Name
	// Index is the handler's position in subscription order.
	Index int
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %d for %s: %v", e.Index, e.Event, e.Err)
}

// Unwrap returns the handler's own error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Is matches ErrHandlerFailed.
func (e *HandlerError) Is(target error) bool {
	return target == ErrHandlerFailed
}

// DomainError classifies a dispatch error into a structured error carrying a
// stable code and template metadata. Errors that do not originate here map to
// CodeUnknown with the original error as cause. It returns nil for nil.
func DomainError(err error) *apperrors.Error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}

	var payloadErr *PayloadError
	if errors.As(err, &payloadErr) {
		return apperrors.WrapWithMetadata(apperrors.CodeEventInvalidPayload, err.Error(), map[string]string{
			"Event":  string(payloadErr.Event),
			"Fields": strings.Join(payloadErr.Paths(), ", "),
		}, err)
	}
	var handlerErr *HandlerError
	if errors.As(err, &handlerErr) {
		return apperrors.WrapWithMetadata(apperrors.CodeEventHandlerFailed, err.Error(), map[string]string{
			"Event": string(handlerErr.Event),
		}, err)
	}

	switch {
	case errors.Is(err, ErrUnknownEvent):
		return apperrors.Wrap(apperrors.CodeEventUnknown, err.Error(), err)
	case errors.Is(err, ErrUnexpectedPayload):
		return apperrors.Wrap(apperrors.CodeEventUnexpectedPayload, err.Error(), err)
	case errors.Is(err, ErrInvalidPayload):
		return apperrors.Wrap(apperrors.CodeEventInvalidPayload, err.Error(), err)
	case errors.Is(err, ErrDuplicateEvent):
		return apperrors.Wrap(apperrors.CodeEventDuplicate, err.Error(), err)
	case errors.Is(err, ErrRegistrySealed):
		return apperrors.Wrap(apperrors.CodeRegistrySealed, err.Error(), err)
	case errors.Is(err, ErrShapeInvalid), errors.Is(err, ErrNameRequired):
		return apperrors.Wrap(apperrors.CodeEventShapeInvalid, err.Error(), err)
	default:
		return apperrors.Wrap(apperrors.CodeUnknown, err.Error(), err)
	}
}
