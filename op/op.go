// Package op defines the opcodes understood by the StellaVM bytecode
// format and interpreter.
package op

// Code is an integer opcode that indicates an operation to execute.
// Numbering is part of the bytecode compatibility line: do not renumber
// an existing opcode, only append new ones.
type Code uint8

const (
	Invalid Code = 0

	PushConstant Code = 1
	PushInput    Code = 2

	AddI64   Code = 10
	SubI64   Code = 11
	MulI64   Code = 12
	ModI64   Code = 13
	CmpEqI64 Code = 14
	CmpLtI64 Code = 15
	AndI64   Code = 16
	OrI64    Code = 17
	XorI64   Code = 18
	ShlI64   Code = 19
	ShrI64   Code = 20

	Jump       Code = 30
	JumpIfTrue Code = 31

	Dup Code = 40
	Pop Code = 41

	Call        Code = 50
	Ret         Code = 51
	LoadLocal   Code = 52
	StoreLocal  Code = 53
	CallNative  Code = 54

	Halt Code = 60
)

// Info describes an opcode: its canonical name and whether it is one of
// the eleven i64 binary operators eligible for push_constant peephole fusion.
type Info struct {
	Code       Code
	Name       string
	IsI64Binary bool
}

var infos = make([]Info, 256)

func init() {
	type opInfo struct {
		op         Code
		name       string
		i64Binary  bool
	}
	ops := []opInfo{
		{PushConstant, "PUSH_CONSTANT", false},
		{PushInput, "PUSH_INPUT", false},
		{AddI64, "ADD_I64", true},
		{SubI64, "SUB_I64", true},
		{MulI64, "MUL_I64", true},
		{ModI64, "MOD_I64", true},
		{CmpEqI64, "CMP_EQ_I64", true},
		{CmpLtI64, "CMP_LT_I64", true},
		{AndI64, "AND_I64", true},
		{OrI64, "OR_I64", true},
		{XorI64, "XOR_I64", true},
		{ShlI64, "SHL_I64", true},
		{ShrI64, "SHR_I64", true},
		{Jump, "JUMP", false},
		{JumpIfTrue, "JUMP_IF_TRUE", false},
		{Dup, "DUP", false},
		{Pop, "POP", false},
		{Call, "CALL", false},
		{Ret, "RET", false},
		{LoadLocal, "LOAD_LOCAL", false},
		{StoreLocal, "STORE_LOCAL", false},
		{CallNative, "CALL_NATIVE", false},
		{Halt, "HALT", false},
	}
	for _, o := range ops {
		infos[o.op] = Info{Code: o.op, Name: o.name, IsI64Binary: o.i64Binary}
	}
}

// GetInfo returns information about the given opcode. Unknown opcodes
// return a zero-value Info whose Name is empty.
func GetInfo(code Code) Info {
	return infos[code]
}

// Name returns the canonical upper-snake-case name of the opcode, or
// "UNKNOWN" if the opcode is not recognized.
func (c Code) Name() string {
	info := infos[c]
	if info.Name == "" {
		return "UNKNOWN"
	}
	return info.Name
}

// IsValid reports whether code is a recognized opcode.
func (c Code) IsValid() bool {
	return infos[c].Name != ""
}
