// Package errs defines the closed error taxonomy shared by every worker.
//
// Parity/CRC problems are never represented here: those are recorded as
// RawFrame flags and must never abort a stream. This package exists only
// for the error kinds spec.md §7 lists as worker-visible: invalid-input,
// not-ready, transient-io, fatal-io, format, protocol and policy failures.
package errs

import "fmt"

// Kind classifies an Error for the purposes of worker recovery policy.
type Kind int

const (
	// InvalidInput marks a malformed command payload, missing file or
	// wrong JSON type. The command is rejected; no state changes.
	InvalidInput Kind = iota
	// NotReady marks a device absent or a disabled decoder.
	NotReady
	// TransientIO marks a USB timeout or short read; callers may retry.
	TransientIO
	// FatalIO marks a USB stall or file write failure; the worker aborts.
	FatalIO
	// Format marks an unsupported trace-file version, bad magic or
	// wrong length.
	Format
	// Protocol marks a CRC or parity error, or a truncated frame. Frames
	// carrying a Protocol-kind annotation are still emitted; this kind
	// exists for APIs (e.g. storage validation) that must reject rather
	// than merely flag.
	Protocol
	// Policy marks a rejected configuration change, e.g. a sample-rate
	// change while streaming in test mode.
	Policy
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid-input"
	case NotReady:
		return "not-ready"
	case TransientIO:
		return "transient-io"
	case FatalIO:
		return "fatal-io"
	case Format:
		return "format"
	case Protocol:
		return "protocol"
	case Policy:
		return "policy"
	default:
		return "unknown"
	}
}

// Code is a stable machine-readable identifier attached to an Error, used
// as the `code` argument of Event.Reject and in sticky error statuses.
type Code string

const (
	MissingParameters    Code = "MissingParameters"
	MissingFileName      Code = "MissingFileName"
	FileOpenFailed       Code = "FileOpenFailed"
	ReadDataFailed       Code = "ReadDataFailed"
	WriteDataFailed      Code = "WriteDataFailed"
	InvalidStorageFormat Code = "InvalidStorageFormat"
)

// Error is the single error type returned across component boundaries.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an Error around an existing cause.
func Wrap(kind Kind, code Code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
