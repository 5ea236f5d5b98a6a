// Package fault defines the closed set of failures that the
// rendezvous stores, the topology and the transport report.
//
// Every failure is an *Error value tagged with a Kind.
// The text of an error is rendered on demand from its
// structured fields, so errors are cheap to construct and
// can be inspected without parsing strings.
package fault

import (
	"fmt"
	"io/fs"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// A Kind identifies the category of a failure.
type Kind int

const (
	// None is the kind of the no-error sentinel.
	None Kind = iota
	Generic
	System
	ShortRead
	ShortWrite
	Timeout
	Loop
	NotFound
	IO
	InvalidConfig
)

var kindNames = map[Kind]string{
	None:          "none",
	Generic:       "generic",
	System:        "system",
	ShortRead:     "short-read",
	ShortWrite:    "short-write",
	Timeout:       "timeout",
	Loop:          "loop",
	NotFound:      "not-found",
	IO:            "io",
	InvalidConfig: "invalid-config",
}

// String returns a short name for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// An Error is a tagged failure.
//
// Only the fields relevant to Kind are set.
type Error struct {
	Kind Kind

	// Msg is the free text of Generic, Timeout, Loop and
	// InvalidConfig errors.
	Msg string

	// Syscall and Errno describe a System error.
	Syscall string
	Errno   syscall.Errno

	// Peer is the remote address involved, if any.
	Peer string

	// Expected and Actual are the byte counts of a short
	// read or write.
	Expected int64
	Actual   int64

	// Key is the store key of a NotFound error.
	Key string

	// Op, Path and Err describe an IO error.
	Op   string
	Path string
	Err  error
}

// Success is the no-error sentinel.
//
// It is a non-nil *Error, so it must only be checked with
// Failed and never returned as an error value.
var Success = &Error{Kind: None}

// Failed reports whether e represents a failure.
// It is false for nil and for Success.
func (e *Error) Failed() bool {
	return e != nil && e.Kind != None
}

// Error renders the failure as text.
func (e *Error) Error() string {
	if e == nil {
		return "no error"
	}
	switch e.Kind {
	case None:
		return "no error"
	case System:
		return withPeer(e.Syscall+": "+e.Errno.Error(), e.Peer)
	case ShortRead:
		return withPeer(fmt.Sprintf("short read (got %d of %d bytes)", e.Actual, e.Expected), e.Peer)
	case ShortWrite:
		return withPeer(fmt.Sprintf("short write (got %d of %d bytes)", e.Actual, e.Expected), e.Peer)
	case NotFound:
		return "key not found: " + e.Key
	case IO:
		var b strings.Builder
		b.WriteString(e.Op)
		if e.Path != "" {
			b.WriteString(" " + e.Path)
		}
		if e.Err != nil {
			b.WriteString(": " + e.Err.Error())
		}
		return b.String()
	case InvalidConfig:
		return "invalid configuration: " + e.Msg
	default:
		return e.Msg
	}
}

// Unwrap returns the underlying cause of an IO error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func withPeer(msg, peer string) string {
	if peer == "" {
		return msg
	}
	return msg + " (peer: " + peer + ")"
}

// Errorf creates a Generic error.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{Kind: Generic, Msg: fmt.Sprintf(format, args...)}
}

// SystemCall creates an error for a failed system call.
// The peer may be empty.
func SystemCall(syscallName string, errno syscall.Errno, peer string) *Error {
	return &Error{Kind: System, Syscall: syscallName, Errno: errno, Peer: peer}
}

// ShortReadOf creates an error for a partial read.
func ShortReadOf(expected, actual int64, peer string) *Error {
	return &Error{Kind: ShortRead, Expected: expected, Actual: actual, Peer: peer}
}

// ShortWriteOf creates an error for a partial write.
func ShortWriteOf(expected, actual int64, peer string) *Error {
	return &Error{Kind: ShortWrite, Expected: expected, Actual: actual, Peer: peer}
}

// TimedOut creates a Timeout error.
func TimedOut(format string, args ...interface{}) *Error {
	return &Error{Kind: Timeout, Msg: fmt.Sprintf(format, args...)}
}

// LoopFault creates an error for an internal event-loop
// failure.
func LoopFault(format string, args ...interface{}) *Error {
	return &Error{Kind: Loop, Msg: fmt.Sprintf(format, args...)}
}

// MissingKey creates a NotFound error.
func MissingKey(key string) *Error {
	return &Error{Kind: NotFound, Key: key}
}

// IOFailure creates an error for an unreadable or
// unwritable backing medium.
func IOFailure(op, path string, err error) *Error {
	return &Error{Kind: IO, Op: op, Path: path, Err: err}
}

// Invalid creates an InvalidConfig error.
func Invalid(format string, args ...interface{}) *Error {
	return &Error{Kind: InvalidConfig, Msg: fmt.Sprintf(format, args...)}
}

// KindOf finds the first *Error in err's chain and returns
// its kind.
// It returns None for nil and Generic for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return None
	}
	var e *Error
	if errors.As(err, &e) {
		if e == nil {
			return None
		}
		return e.Kind
	}
	return Generic
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsMissing reports whether err means that a key was never
// set, regardless of which store backend produced it.
func IsMissing(err error) bool {
	switch KindOf(err) {
	case NotFound:
		return true
	case IO:
		return errors.Is(err, fs.ErrNotExist)
	}
	return false
}
