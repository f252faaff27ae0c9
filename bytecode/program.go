// Package bytecode defines the VM's on-the-wire program representation:
// an instruction list, a constant pool, and a function table, along with
// their little-endian binary codec.
package bytecode

import (
	"fmt"
	"strings"

	"github.com/stellavm/stellavm/op"
	"github.com/stellavm/stellavm/value"
)

// Instruction is a single decoded bytecode instruction: an opcode plus a
// single operand whose meaning depends on the opcode (constant index,
// input index, jump target, function index, native index, or local
// index; unused operands are encoded as zero).
type Instruction struct {
	Opcode  op.Code
	Operand uint32
}

// Function describes a callable entry point within a Program's code.
type Function struct {
	Entry      uint32
	Arity      uint32
	LocalCount uint32
}

// Program is the VM's immutable unit of loadable code: an ordered
// instruction list, an ordered constant pool, and an ordered function
// table. It is safe to share a *Program across concurrent VMs; run only
// ever reads it.
type Program struct {
	code      []Instruction
	constants []value.Value
	functions []Function
}

// Params contains the data used to construct a new Program.
type Params struct {
	Code      []Instruction
	Constants []value.Value
	Functions []Function
}

// New creates an immutable Program from params. Input slices are copied
// so that later mutation of the caller's slices cannot affect the
// Program.
func New(params Params) *Program {
	return &Program{
		code:      append([]Instruction(nil), params.Code...),
		constants: append([]value.Value(nil), params.Constants...),
		functions: append([]Function(nil), params.Functions...),
	}
}

// CodeLen returns the number of instructions.
func (p *Program) CodeLen() int { return len(p.code) }

// InstructionAt returns the instruction at pc. Panics if pc is out of
// range; callers on a data-dependent path (e.g. the interpreter's fetch
// step) must bounds-check first since the verifier is what normally
// guarantees in-range PCs.
func (p *Program) InstructionAt(pc int) Instruction { return p.code[pc] }

// ConstantLen returns the number of pooled constants.
func (p *Program) ConstantLen() int { return len(p.constants) }

// ConstantAt returns the constant at index i.
func (p *Program) ConstantAt(i int) value.Value { return p.constants[i] }

// FunctionLen returns the number of function table entries.
func (p *Program) FunctionLen() int { return len(p.functions) }

// FunctionAt returns the function descriptor at index i.
func (p *Program) FunctionAt(i int) Function { return p.functions[i] }

// Stats summarizes a Program's shape, useful for auditing bytecode before
// running it (e.g. in a host CLI's verbose mode).
type Stats struct {
	InstructionCount int
	ConstantCount    int
	FunctionCount    int
}

// Stats returns size statistics about the program.
func (p *Program) Stats() Stats {
	return Stats{
		InstructionCount: len(p.code),
		ConstantCount:    len(p.constants),
		FunctionCount:    len(p.functions),
	}
}

// String renders a compact human-readable summary, used by the host CLI
// and in test failure output; it is not the disassembly (see package
// disasm for that).
func (p *Program) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Program{instructions=%d, constants=%d, functions=%d}",
		len(p.code), len(p.constants), len(p.functions))
	return b.String()
}
