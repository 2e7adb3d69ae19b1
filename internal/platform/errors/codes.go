// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Registration errors
	CodeEventDuplicate    Code = "EVENT_DUPLICATE"
	CodeEventShapeInvalid Code = "EVENT_SHAPE_INVALID"
	CodeRegistrySealed    Code = "REGISTRY_SEALED"

	// Dispatch errors
	CodeEventUnknown           Code = "EVENT_UNKNOWN"
	CodeEventUnexpectedPayload Code = "EVENT_UNEXPECTED_PAYLOAD"
	CodeEventInvalidPayload    Code = "EVENT_INVALID_PAYLOAD"
	CodeEventHandlerFailed     Code = "EVENT_HANDLER_FAILED"

	// Envelope errors raised before an event reaches the registry
	CodeEnvelopeMalformed Code = "EVENT_ENVELOPE_MALFORMED"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - the caller sent something the contract rejects
	case CodeEventUnexpectedPayload,
		CodeEventInvalidPayload,
		CodeEventShapeInvalid,
		CodeEnvelopeMalformed:
		return codes.InvalidArgument

	// NotFound - the event variant does not exist
	case CodeEventUnknown:
		return codes.NotFound

	// AlreadyExists - variant names are unique
	case CodeEventDuplicate:
		return codes.AlreadyExists

	// FailedPrecondition - registry lifecycle forbids the operation
	case CodeRegistrySealed:
		return codes.FailedPrecondition

	// Aborted - a handler failed after validation succeeded
	case CodeEventHandlerFailed:
		return codes.Aborted

	default:
		return codes.Internal
	}
}
