package main

import (
	"github.com/stellavm/stellavm/bytecode"
	"github.com/stellavm/stellavm/op"
	"github.com/stellavm/stellavm/value"
	"github.com/stellavm/stellavm/vm"
)

// bindDemoNatives registers the natives the built-in demo program and any
// hand-written .svmc file may call: sum3 exercises the reflection-based
// builder over plain int64s, echoBuffer exercises it over the move-only
// buffer type (Invariant 4: identity survives the native boundary).
func bindDemoNatives(machine *vm.VM) {
	machine.BindNativeFunc("sum3", func(a, b, c int64) int64 { return a + b + c })
	machine.BindNativeFunc("echo_buffer", func(buf *value.MoveBuffer) *value.MoveBuffer { return buf })
}

// demoBuilder returns a program computing sum3(6, 7, 29) = 42, run when the
// CLI is invoked with no bytecode file.
func demoBuilder() *bytecode.Program {
	return bytecode.New(bytecode.Params{
		Code: []bytecode.Instruction{
			{Opcode: op.PushConstant, Operand: 0},
			{Opcode: op.PushConstant, Operand: 1},
			{Opcode: op.PushConstant, Operand: 2},
			{Opcode: op.CallNative, Operand: 0},
			{Opcode: op.Halt},
		},
		Constants: []value.Value{value.I64(6), value.I64(7), value.I64(29)},
	})
}
