package types

import (
	"errors"
	"fmt"
)

// Error taxonomy for the triage pipeline. Parse and collaborator errors
// are caught at the narrowest scope and converted into "proceed with
// partial data"; validation errors abort before any work starts.

// PayloadStage identifies which decode step of the nested envelope failed.
type PayloadStage string

const (
	PayloadStageEnvelope PayloadStage = "envelope"
	PayloadStageRaw      PayloadStage = "raw"
)

// MalformedPayloadError reports an unparseable raw event. Fatal to that
// single event's parse, non-fatal to the batch.
type MalformedPayloadError struct {
	Stage PayloadStage
	Err   error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload (%s): %v", e.Stage, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

// IsMalformedPayload reports whether err is a MalformedPayloadError.
func IsMalformedPayload(err error) bool {
	var mpe *MalformedPayloadError
	return errors.As(err, &mpe)
}

// CollaboratorError reports a failure from an external interface
// (tracker, source control, deployment registry, state store, completion
// service). Logged and degraded around, never fatal to the batch.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// ValidationError reports bad batch-level configuration or input. Raised
// before any network I/O; fatal to the whole run.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// TicketCreationError reports a failed ticket creation. Fatal only to the
// current group; dedup state must not be mutated when this occurs.
type TicketCreationError struct {
	Signature string
	Err       error
}

func (e *TicketCreationError) Error() string {
	return fmt.Sprintf("ticket creation failed for %s: %v", e.Signature, e.Err)
}

func (e *TicketCreationError) Unwrap() error { return e.Err }
