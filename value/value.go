// Package value defines the Value tagged union that flows through the
// StellaVM stack, input slots, constant pool, and native call boundary.
package value

import (
	"fmt"

	"github.com/stellavm/stellavm/stellaerr"
)

// Kind identifies which variant of Value is active.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindI64
	KindF64
	KindBorrowedString
	KindOwnedString
	KindBuffer
)

// String returns the lowercase kind name used in type-mismatch messages.
func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindI64:
		return "i64"
	case KindF64:
		return "f64"
	case KindBorrowedString:
		return "borrowed-string"
	case KindOwnedString:
		return "owned-string"
	case KindBuffer:
		return "buffer"
	default:
		return "unknown"
	}
}

// Value is a sum type over {empty, i64, f64, borrowed-string, owned-string,
// MoveBuffer}. Exactly one variant is active at a time, tracked by kind.
//
// The buffer variant is stored behind a pointer so that a plain struct
// assignment (v2 := v1) shares the buffer rather than silently aliasing a
// value-typed field two different ways. Clone and TakeBuffer are the only
// APIs that produce an independent copy or move the buffer out; a bare
// assignment of a buffer-valued Value should be treated as "do not do this,
// use Clone or TakeBuffer" even though the compiler permits it.
type Value struct {
	kind   Kind
	i64    int64
	f64    float64
	str    string
	buffer *MoveBuffer
}

// Empty returns the empty/moved-from Value.
func Empty() Value {
	return Value{kind: KindEmpty}
}

// I64 constructs an i64 Value.
func I64(v int64) Value {
	return Value{kind: KindI64, i64: v}
}

// F64 constructs an f64 Value.
func F64(v float64) Value {
	return Value{kind: KindF64, f64: v}
}

// BorrowedString constructs a Value wrapping a non-owning string reference.
// The caller is responsible for the referenced bytes outliving the Value.
func BorrowedString(s string) Value {
	return Value{kind: KindBorrowedString, str: s}
}

// OwnedString constructs a Value that owns its string bytes.
func OwnedString(s string) Value {
	return Value{kind: KindOwnedString, str: s}
}

// Buffer constructs a Value wrapping a MoveBuffer. The Value takes logical
// ownership of buf; the caller must not continue to use buf directly.
func Buffer(buf *MoveBuffer) Value {
	return Value{kind: KindBuffer, buffer: buf}
}

// Kind reports which variant is active.
func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsEmpty() bool  { return v.kind == KindEmpty }
func (v Value) IsI64() bool    { return v.kind == KindI64 }
func (v Value) IsF64() bool    { return v.kind == KindF64 }
func (v Value) IsBuffer() bool { return v.kind == KindBuffer }

// IsString reports true for either string variant.
func (v Value) IsString() bool {
	return v.kind == KindBorrowedString || v.kind == KindOwnedString
}

// I64 returns the raw i64 payload. Panics if Kind() != KindI64; callers on
// a data-dependent path should use ExpectI64 instead.
func (v Value) I64() int64 {
	if v.kind != KindI64 {
		panic(fmt.Sprintf("value: I64() called on a %s value", v.kind))
	}
	return v.i64
}

// F64 returns the raw f64 payload. Panics if Kind() != KindF64.
func (v Value) F64() float64 {
	if v.kind != KindF64 {
		panic(fmt.Sprintf("value: F64() called on a %s value", v.kind))
	}
	return v.f64
}

// String returns the raw string payload for either string variant. Panics
// if the Value is not a string variant.
func (v Value) String() string {
	if !v.IsString() {
		panic(fmt.Sprintf("value: String() called on a %s value", v.kind))
	}
	return v.str
}

// ExpectI64 returns the i64 payload or a type_mismatch error naming context.
func (v Value) ExpectI64(context string) (int64, error) {
	if v.kind != KindI64 {
		return 0, stellaerr.Newf(stellaerr.TypeMismatch,
			"%s: expected i64, got %s", context, v.kind)
	}
	return v.i64, nil
}

// ExpectF64 returns the f64 payload or a type_mismatch error naming context.
func (v Value) ExpectF64(context string) (float64, error) {
	if v.kind != KindF64 {
		return 0, stellaerr.Newf(stellaerr.TypeMismatch,
			"%s: expected f64, got %s", context, v.kind)
	}
	return v.f64, nil
}

// ExpectString returns the string payload (from either string variant) or
// a type_mismatch error naming context.
func (v Value) ExpectString(context string) (string, error) {
	if !v.IsString() {
		return "", stellaerr.Newf(stellaerr.TypeMismatch,
			"%s: expected string, got %s", context, v.kind)
	}
	return v.str, nil
}

// TakeBuffer moves the buffer out of v, returning it and a Value reset to
// empty in place of v's former contents. v itself is a copy (Go values are
// passed by value), so the caller must reassign the empty Value back to
// wherever v came from (e.g. the input slot) to observe the move.
//
// Fails with invalid_buffer_access if v is not the buffer variant.
func (v Value) TakeBuffer() (*MoveBuffer, Value, error) {
	if v.kind != KindBuffer {
		return nil, v, stellaerr.Newf(stellaerr.InvalidBufferAccess,
			"take_buffer: value is %s, not buffer", v.kind)
	}
	buf := v.buffer
	return buf, Empty(), nil
}

// Clone returns an independent copy of v. For the buffer variant this is a
// deep byte copy (the resolved MoveBuffer copy policy); every other variant
// is already copy-safe via plain struct assignment.
func (v Value) Clone() Value {
	if v.kind != KindBuffer {
		return v
	}
	if v.buffer == nil {
		return v
	}
	return Value{kind: KindBuffer, buffer: v.buffer.clone()}
}

// Equal reports whether two Values have the same kind and payload. The two
// string variants differ only in ownership, so an owned and a borrowed
// string with the same bytes are equal. Buffer values are compared by
// content, not by pointer identity.
func (v Value) Equal(other Value) bool {
	if v.IsString() && other.IsString() {
		return v.str == other.str
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindEmpty:
		return true
	case KindI64:
		return v.i64 == other.i64
	case KindF64:
		return v.f64 == other.f64
	case KindBorrowedString, KindOwnedString:
		return v.str == other.str
	case KindBuffer:
		if v.buffer == nil || other.buffer == nil {
			return v.buffer == other.buffer
		}
		return string(v.buffer.Bytes()) == string(other.buffer.Bytes())
	default:
		return false
	}
}

// GoString implements fmt.GoStringer for friendlier test failure output.
func (v Value) GoString() string {
	switch v.kind {
	case KindEmpty:
		return "value.Empty()"
	case KindI64:
		return fmt.Sprintf("value.I64(%d)", v.i64)
	case KindF64:
		return fmt.Sprintf("value.F64(%v)", v.f64)
	case KindBorrowedString:
		return fmt.Sprintf("value.BorrowedString(%q)", v.str)
	case KindOwnedString:
		return fmt.Sprintf("value.OwnedString(%q)", v.str)
	case KindBuffer:
		if v.buffer == nil {
			return "value.Buffer(nil)"
		}
		return fmt.Sprintf("value.Buffer(%d bytes)", v.buffer.Len())
	default:
		return "value.Value{<unknown>}"
	}
}
