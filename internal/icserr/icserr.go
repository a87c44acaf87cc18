// Package icserr defines the kernel's error taxonomy.
//
// Errors are small typed values rather than an error-code framework: callers
// use errors.Is against the sentinel Kind values, and errors.As to recover
// the *Error for its Device/Key context.
package icserr

import (
	"errors"
	"fmt"
)

// Kind classifies a kernel error. Kinds are compared with errors.Is.
type Kind int

const (
	// InvalidConfig marks malformed or inconsistent boot-time input. Fatal at boot.
	InvalidConfig Kind = iota
	// UnknownDevice marks a reference to a device name not in the fabric.
	UnknownDevice
	// DuplicateDevice marks a register() call with a name already taken.
	DuplicateDevice
	// TypeMismatch marks a write whose value type disagrees with the address space.
	TypeMismatch
	// TopologyInvalid marks a network-gate load error. Fatal at boot.
	TopologyInvalid
	// BindFailed marks a listener that could not acquire its port.
	BindFailed
	// ProtocolError marks a malformed frame or unsupported operation on a session.
	ProtocolError
	// DeviceFaulted marks a device taken offline after repeated scan failure.
	DeviceFaulted
	// InvalidMode marks an operation not valid in the clock's current mode.
	InvalidMode
)

func (k Kind) String() string {
	switch k {
	case InvalidConfig:
		return "InvalidConfig"
	case UnknownDevice:
		return "UnknownDevice"
	case DuplicateDevice:
		return "DuplicateDevice"
	case TypeMismatch:
		return "TypeMismatch"
	case TopologyInvalid:
		return "TopologyInvalid"
	case BindFailed:
		return "BindFailed"
	case ProtocolError:
		return "ProtocolError"
	case DeviceFaulted:
		return "DeviceFaulted"
	case InvalidMode:
		return "InvalidMode"
	default:
		return "Unknown"
	}
}

// Error is a kernel error carrying a Kind and optional device/key context.
type Error struct {
	Kind   Kind
	Device string
	Key    string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Device != "" {
		s += " device=" + e.Device
	}
	if e.Key != "" {
		s += " key=" + e.Key
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the same Kind, satisfying errors.Is(err, SomeKind-wrapped-error).
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithDevice attaches device context and returns the receiver for chaining.
func (e *Error) WithDevice(name string) *Error {
	e.Device = name
	return e
}

// WithKey attaches address-space key context and returns the receiver for chaining.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// Of reports whether the outermost kernel error in err's chain is of kind
// k. Kernel errors wrapped inside that one are not consulted.
func Of(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
