// Package syncerr defines the error kinds used across the engine (§7).
// Each kind is a sentinel error; call sites wrap it with fmt.Errorf("...: %w")
// so errors.Is still matches the kind after context is attached.
package syncerr

import "errors"

var (
	// ErrTransport covers a closed socket or an unparseable frame.
	ErrTransport = errors.New("transport error")

	// ErrProtocol covers an unexpected command for the channel's current
	// state.
	ErrProtocol = errors.New("protocol error")

	// ErrAuth covers a rejected or expired credential.
	ErrAuth = errors.New("auth error")

	// ErrMalformedOperation covers an operation or value that cannot be
	// interpreted: an unrecognized operation tag, an undecodable operation
	// body or DMP patch, or top-level data that is not a mapping.
	ErrMalformedOperation = errors.New("malformed operation")

	// ErrOperationPreconditionViolated covers applying REMOVE to an
	// absent path, ADD to a present path, or INCREMENT to a non-number.
	ErrOperationPreconditionViolated = errors.New("operation precondition violated")

	// ErrVersionMismatch covers an inbound change whose source_version
	// does not match the local ghost version.
	ErrVersionMismatch = errors.New("version mismatch")

	// ErrStore covers a failure from the pluggable local store.
	ErrStore = errors.New("store error")
)
