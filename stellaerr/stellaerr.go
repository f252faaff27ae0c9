// Package stellaerr defines the VM's fixed error taxonomy. It is grounded
// on the teacher repo's errz.StructuredError, flattened to a bare kind and
// message (the VM has no source language, so there are no source locations
// or stack traces to carry).
package stellaerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a VM error. The set is fixed and its
// string names are part of the VM's observable error taxonomy.
type Kind int

const (
	TypeMismatch Kind = iota
	InvalidBufferAccess
	InvalidConstantIndex
	InvalidInputIndex
	StackUnderflow
	InvalidNativeIndex
	EmptyNativeBinding
	InsufficientNativeArguments
	UnknownOpcode
	DivisionByZero
	InvalidJumpTarget
	VerificationFailed
	InvalidFunctionIndex
	InvalidLocalIndex
	MissingCallFrame
	StepBudgetExceeded
	InvalidFunctionSignature
	InvalidShiftAmount
	InvalidBytecodeMagic
	UnsupportedBytecodeVersion
	MalformedBytecode
	ArithmeticOverflow // reserved: wrap-on-overflow is current policy, see DESIGN.md
	NativeReentrancy
	BytecodeLimitExceeded // reserved: §3 caps code/constants/functions at 2^32-1, see DESIGN.md
)

var kindNames = [...]string{
	TypeMismatch:                "type_mismatch",
	InvalidBufferAccess:         "invalid_buffer_access",
	InvalidConstantIndex:        "invalid_constant_index",
	InvalidInputIndex:           "invalid_input_index",
	StackUnderflow:              "stack_underflow",
	InvalidNativeIndex:          "invalid_native_index",
	EmptyNativeBinding:          "empty_native_binding",
	InsufficientNativeArguments: "insufficient_native_arguments",
	UnknownOpcode:                "unknown_opcode",
	DivisionByZero:              "division_by_zero",
	InvalidJumpTarget:           "invalid_jump_target",
	VerificationFailed:          "verification_failed",
	InvalidFunctionIndex:        "invalid_function_index",
	InvalidLocalIndex:           "invalid_local_index",
	MissingCallFrame:            "missing_call_frame",
	StepBudgetExceeded:          "step_budget_exceeded",
	InvalidFunctionSignature:    "invalid_function_signature",
	InvalidShiftAmount:          "invalid_shift_amount",
	InvalidBytecodeMagic:        "invalid_bytecode_magic",
	UnsupportedBytecodeVersion:  "unsupported_bytecode_version",
	MalformedBytecode:           "malformed_bytecode",
	ArithmeticOverflow:          "arithmetic_overflow",
	NativeReentrancy:            "native_reentrancy",
	BytecodeLimitExceeded:       "bytecode_limit_exceeded",
}

// String returns the kind's snake_case taxonomy name.
func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(kindNames) {
		return "unknown_error_kind"
	}
	return kindNames[k]
}

// Error is the VM's error type: a kind tag, a human-readable message, and
// an optional wrapped cause. It implements error and supports errors.Is /
// errors.As through Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, or nil if there is none.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, stellaerr.New(kind, "")) style comparisons by
// matching on Kind alone.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New creates an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCause returns a copy of e with Cause set, chainable at the call site.
func (e *Error) WithCause(cause error) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, and
// reports whether the extraction succeeded.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}
