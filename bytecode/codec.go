package bytecode

import (
	"encoding/binary"
	"math"

	"github.com/stellavm/stellavm/op"
	"github.com/stellavm/stellavm/stellaerr"
	"github.com/stellavm/stellavm/value"
)

// Magic identifies a StellaVM bytecode blob: the ASCII bytes "SVM1" read
// as a little-endian u32.
const Magic uint32 = 0x31_4D_56_53

// Version is the current bytecode format version. Bump it, and reject
// mismatches on decode, whenever the wire encoding changes incompatibly.
const Version uint16 = 1

const headerSize = 4 + 2 + 2 + 4 + 4 + 4 // magic, version, reserved, counts

type constantTag uint8

const (
	tagEmpty constantTag = 0
	tagI64   constantTag = 1
	tagF64   constantTag = 2
	tagString constantTag = 3
	tagBuffer constantTag = 4
)

// byteWriter accumulates a little-endian encoded byte stream, mirroring
// the original implementation's ByteWriter helper.
type byteWriter struct {
	buf []byte
}

func (w *byteWriter) writeU8(v uint8)   { w.buf = append(w.buf, v) }
func (w *byteWriter) writeU16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *byteWriter) writeU32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *byteWriter) writeI64(v int64)  { w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v)) }
func (w *byteWriter) writeF64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}
func (w *byteWriter) writeBytes(b []byte) { w.buf = append(w.buf, b...) }

// byteReader consumes a little-endian encoded byte stream and tracks
// whether every read stayed in bounds, mirroring ByteReader.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) remaining() int { return len(r.buf) - r.pos }

func (r *byteReader) readU8() (uint8, bool) {
	if r.remaining() < 1 {
		return 0, false
	}
	v := r.buf[r.pos]
	r.pos++
	return v, true
}

func (r *byteReader) readU16() (uint16, bool) {
	if r.remaining() < 2 {
		return 0, false
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, true
}

func (r *byteReader) readU32() (uint32, bool) {
	if r.remaining() < 4 {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, true
}

func (r *byteReader) readI64() (int64, bool) {
	if r.remaining() < 8 {
		return 0, false
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return int64(v), true
}

func (r *byteReader) readF64() (float64, bool) {
	if r.remaining() < 8 {
		return 0, false
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return math.Float64frombits(v), true
}

func (r *byteReader) readBytes(n int) ([]byte, bool) {
	if n < 0 || r.remaining() < n {
		return nil, false
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, true
}

// Serialize encodes p as a little-endian, packed bytecode blob per the
// wire format: a fixed header, then the instruction list, constant pool,
// and function table in order.
func Serialize(p *Program) []byte {
	w := &byteWriter{buf: make([]byte, 0, headerSize+5*len(p.code)+len(p.functions)*12)}
	w.writeU32(Magic)
	w.writeU16(Version)
	w.writeU16(0) // reserved
	w.writeU32(uint32(len(p.code)))
	w.writeU32(uint32(len(p.constants)))
	w.writeU32(uint32(len(p.functions)))

	for _, instr := range p.code {
		w.writeU8(uint8(instr.Opcode))
		w.writeU32(instr.Operand)
	}

	for _, c := range p.constants {
		switch c.Kind() {
		case value.KindEmpty:
			w.writeU8(uint8(tagEmpty))
		case value.KindI64:
			w.writeU8(uint8(tagI64))
			w.writeI64(c.I64())
		case value.KindF64:
			w.writeU8(uint8(tagF64))
			w.writeF64(c.F64())
		case value.KindBorrowedString, value.KindOwnedString:
			s := c.String()
			w.writeU8(uint8(tagString))
			w.writeU32(uint32(len(s)))
			w.writeBytes([]byte(s))
		case value.KindBuffer:
			// Buffer-valued constants are not meant for the hot path (a
			// buffer should arrive as an input, not a constant). Encoding
			// one as an empty constant would silently lose data, so it is
			// encoded as a buffer payload for round-trip fidelity should a
			// caller ever build one by hand.
			buf, _, _ := c.Clone().TakeBuffer()
			w.writeU8(uint8(tagBuffer))
			w.writeU32(uint32(buf.Len()))
			w.writeBytes(buf.Bytes())
		}
	}

	for _, fn := range p.functions {
		w.writeU32(fn.Entry)
		w.writeU32(fn.Arity)
		w.writeU32(fn.LocalCount)
	}

	return w.buf
}

// Deserialize decodes a bytecode blob produced by Serialize, validating
// the header, every constant payload, and rejecting trailing bytes.
func Deserialize(data []byte) (*Program, error) {
	r := &byteReader{buf: data}

	magic, ok := r.readU32()
	if !ok {
		return nil, stellaerr.New(stellaerr.MalformedBytecode, "truncated bytecode header")
	}
	if magic != Magic {
		return nil, stellaerr.Newf(stellaerr.InvalidBytecodeMagic,
			"expected magic 0x%08X, got 0x%08X", Magic, magic)
	}

	version, ok := r.readU16()
	if !ok {
		return nil, stellaerr.New(stellaerr.MalformedBytecode, "truncated bytecode header")
	}
	if version != Version {
		return nil, stellaerr.Newf(stellaerr.UnsupportedBytecodeVersion,
			"expected version %d, got %d", Version, version)
	}

	if _, ok := r.readU16(); !ok { // reserved
		return nil, stellaerr.New(stellaerr.MalformedBytecode, "truncated bytecode header")
	}

	instructionCount, ok := r.readU32()
	if !ok {
		return nil, stellaerr.New(stellaerr.MalformedBytecode, "truncated bytecode header")
	}
	constantCount, ok := r.readU32()
	if !ok {
		return nil, stellaerr.New(stellaerr.MalformedBytecode, "truncated bytecode header")
	}
	functionCount, ok := r.readU32()
	if !ok {
		return nil, stellaerr.New(stellaerr.MalformedBytecode, "truncated bytecode header")
	}

	code := make([]Instruction, 0, instructionCount)
	for i := uint32(0); i < instructionCount; i++ {
		opcodeByte, ok := r.readU8()
		if !ok {
			return nil, stellaerr.Newf(stellaerr.MalformedBytecode, "truncated instruction at index %d", i)
		}
		operand, ok := r.readU32()
		if !ok {
			return nil, stellaerr.Newf(stellaerr.MalformedBytecode, "truncated instruction at index %d", i)
		}
		code = append(code, Instruction{Opcode: op.Code(opcodeByte), Operand: operand})
	}

	constants := make([]value.Value, 0, constantCount)
	for i := uint32(0); i < constantCount; i++ {
		tagByte, ok := r.readU8()
		if !ok {
			return nil, stellaerr.Newf(stellaerr.MalformedBytecode, "truncated constant at index %d", i)
		}
		c, err := decodeConstant(r, constantTag(tagByte), i)
		if err != nil {
			return nil, err
		}
		constants = append(constants, c)
	}

	functions := make([]Function, 0, functionCount)
	for i := uint32(0); i < functionCount; i++ {
		entry, ok1 := r.readU32()
		arity, ok2 := r.readU32()
		localCount, ok3 := r.readU32()
		if !ok1 || !ok2 || !ok3 {
			return nil, stellaerr.Newf(stellaerr.MalformedBytecode, "truncated function descriptor at index %d", i)
		}
		functions = append(functions, Function{Entry: entry, Arity: arity, LocalCount: localCount})
	}

	if r.remaining() != 0 {
		return nil, stellaerr.Newf(stellaerr.MalformedBytecode,
			"%d trailing byte(s) after function table", r.remaining())
	}

	return &Program{code: code, constants: constants, functions: functions}, nil
}

func decodeConstant(r *byteReader, tag constantTag, index uint32) (value.Value, error) {
	switch tag {
	case tagEmpty:
		return value.Empty(), nil
	case tagI64:
		v, ok := r.readI64()
		if !ok {
			return value.Value{}, stellaerr.Newf(stellaerr.MalformedBytecode, "truncated i64 constant at index %d", index)
		}
		return value.I64(v), nil
	case tagF64:
		v, ok := r.readF64()
		if !ok {
			return value.Value{}, stellaerr.Newf(stellaerr.MalformedBytecode, "truncated f64 constant at index %d", index)
		}
		return value.F64(v), nil
	case tagString:
		length, ok := r.readU32()
		if !ok {
			return value.Value{}, stellaerr.Newf(stellaerr.MalformedBytecode, "truncated string length at index %d", index)
		}
		b, ok := r.readBytes(int(length))
		if !ok {
			return value.Value{}, stellaerr.Newf(stellaerr.MalformedBytecode, "truncated string payload at index %d", index)
		}
		// Deserialization always materializes an owned string, per the
		// wire format: only owned-string constants are ever emitted.
		return value.OwnedString(string(b)), nil
	case tagBuffer:
		length, ok := r.readU32()
		if !ok {
			return value.Value{}, stellaerr.Newf(stellaerr.MalformedBytecode, "truncated buffer length at index %d", index)
		}
		b, ok := r.readBytes(int(length))
		if !ok {
			return value.Value{}, stellaerr.Newf(stellaerr.MalformedBytecode, "truncated buffer payload at index %d", index)
		}
		owned := make([]byte, len(b))
		copy(owned, b)
		return value.Buffer(value.NewMoveBufferFromBytes(owned)), nil
	default:
		return value.Value{}, stellaerr.Newf(stellaerr.MalformedBytecode, "unknown constant tag %d at index %d", tag, index)
	}
}
