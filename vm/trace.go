package vm

import "github.com/stellavm/stellavm/op"

// TraceEvent is emitted to an installed trace sink before every
// instruction dispatch.
type TraceEvent struct {
	PC        int
	Opcode    op.Code
	StackSize int
	CallDepth int
}
