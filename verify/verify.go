// Package verify implements the VM's static verifier: a single
// worklist-driven pass of abstract interpretation that proves stack
// discipline ahead of execution, so the interpreter's hot path can trust
// invariants instead of re-checking them.
package verify

import (
	"github.com/stellavm/stellavm/bytecode"
	"github.com/stellavm/stellavm/op"
	"github.com/stellavm/stellavm/stellaerr"
)

// NativeTable is the subset of the native binding registry the verifier
// needs: how many slots are declared, and whether each slot is bound
// (and to what arity). The vm package's unexported registry type
// implements this.
type NativeTable interface {
	Len() int
	ArityAt(index int) (arity int, bound bool)
}

const noTarget = -1

// effect describes one opcode's contribution to the worklist pass.
type effect struct {
	pops           int
	pushes         int
	hasTarget      bool
	hasFallthrough bool
}

// Verify performs the single forward worklist pass described by the
// VM's verification contract: it assigns a unique expected stack depth to
// every reachable PC, failing on any disagreement, out-of-range operand,
// or unknown opcode. availableInputs bounds push_input operands; natives
// bounds call_native operands.
func Verify(program *bytecode.Program, availableInputs int, natives NativeTable) error {
	codeLen := program.CodeLen()
	if codeLen == 0 {
		return stellaerr.New(stellaerr.VerificationFailed, "program has no instructions")
	}

	for i := 0; i < program.FunctionLen(); i++ {
		fn := program.FunctionAt(i)
		if int(fn.Entry) >= codeLen {
			return stellaerr.Newf(stellaerr.VerificationFailed,
				"function %d: entry %d is not a valid pc (code length %d)", i, fn.Entry, codeLen)
		}
		if fn.LocalCount < fn.Arity {
			return stellaerr.Newf(stellaerr.VerificationFailed,
				"function %d: local_count %d is less than arity %d", i, fn.LocalCount, fn.Arity)
		}
	}

	// depths[pc] holds the required entry depth once known; -1 means
	// "not yet visited". Depths are tracked relative to the active frame:
	// top-level code counts from an empty stack, and a function's body
	// counts from its own local_count (call/ret are opaque to the worklist
	// since a callee's caller-relative depth varies by call site — the
	// frame mechanics around call/ret are verified structurally instead of
	// by chasing an interprocedural edge).
	depths := make([]int, codeLen+1) // codeLen is the implicit end-of-program PC
	for i := range depths {
		depths[i] = -1
	}
	depths[0] = 0
	worklist := []int{0}

	for i := 0; i < program.FunctionLen(); i++ {
		fn := program.FunctionAt(i)
		entry, localCount := int(fn.Entry), int(fn.LocalCount)
		if depths[entry] == -1 {
			depths[entry] = localCount
			worklist = append(worklist, entry)
		} else if depths[entry] != localCount {
			return stellaerr.Newf(stellaerr.VerificationFailed,
				"function %d: entry %d reached with conflicting stack depths %d and %d",
				i, entry, depths[entry], localCount)
		}
	}

	recordOrCheck := func(pc, depth int) error {
		if pc > codeLen {
			return stellaerr.Newf(stellaerr.InvalidJumpTarget, "jump target %d exceeds code length %d", pc, codeLen)
		}
		if depths[pc] == -1 {
			depths[pc] = depth
			worklist = append(worklist, pc)
			return nil
		}
		if depths[pc] != depth {
			return stellaerr.Newf(stellaerr.VerificationFailed,
				"pc %d reached with conflicting stack depths %d and %d", pc, depths[pc], depth)
		}
		return nil
	}

	for len(worklist) > 0 {
		pc := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if pc == codeLen {
			continue // implicit program end, no instruction to evaluate
		}

		instr := program.InstructionAt(pc)
		eff, target, err := effectOf(program, instr, availableInputs, natives)
		if err != nil {
			return err
		}

		entryDepth := depths[pc]
		if entryDepth < eff.pops {
			return stellaerr.Newf(stellaerr.StackUnderflow,
				"pc %d (%s): requires %d value(s) on a stack of depth %d", pc, instr.Opcode.Name(), eff.pops, entryDepth)
		}
		nextDepth := entryDepth - eff.pops + eff.pushes

		if eff.hasTarget {
			if err := recordOrCheck(target, nextDepth); err != nil {
				return err
			}
		}
		if eff.hasFallthrough {
			if err := recordOrCheck(pc+1, nextDepth); err != nil {
				return err
			}
		}
	}

	return nil
}

func effectOf(program *bytecode.Program, instr bytecode.Instruction, availableInputs int, natives NativeTable) (effect, int, error) {
	switch instr.Opcode {
	case op.PushConstant:
		if int(instr.Operand) >= program.ConstantLen() {
			return effect{}, noTarget, stellaerr.Newf(stellaerr.InvalidConstantIndex,
				"constant index %d out of range (%d constants)", instr.Operand, program.ConstantLen())
		}
		return effect{pops: 0, pushes: 1, hasFallthrough: true}, noTarget, nil

	case op.PushInput:
		if int(instr.Operand) >= availableInputs {
			return effect{}, noTarget, stellaerr.Newf(stellaerr.InvalidInputIndex,
				"input index %d out of range (%d inputs)", instr.Operand, availableInputs)
		}
		return effect{pops: 0, pushes: 1, hasFallthrough: true}, noTarget, nil

	case op.AddI64, op.SubI64, op.MulI64, op.ModI64, op.CmpEqI64, op.CmpLtI64,
		op.AndI64, op.OrI64, op.XorI64, op.ShlI64, op.ShrI64:
		return effect{pops: 2, pushes: 1, hasFallthrough: true}, noTarget, nil

	case op.CallNative:
		idx := int(instr.Operand)
		if natives == nil || idx >= natives.Len() {
			return effect{}, noTarget, stellaerr.Newf(stellaerr.InvalidNativeIndex,
				"native index %d out of range", instr.Operand)
		}
		arity, bound := natives.ArityAt(idx)
		if !bound {
			return effect{}, noTarget, stellaerr.Newf(stellaerr.EmptyNativeBinding,
				"native index %d has no bound function", instr.Operand)
		}
		return effect{pops: arity, pushes: 1, hasFallthrough: true}, noTarget, nil

	case op.Call:
		idx := int(instr.Operand)
		if idx >= program.FunctionLen() {
			return effect{}, noTarget, stellaerr.Newf(stellaerr.InvalidFunctionIndex,
				"function index %d out of range (%d functions)", instr.Operand, program.FunctionLen())
		}
		fn := program.FunctionAt(idx)
		return effect{pops: int(fn.Arity), pushes: 1, hasFallthrough: true}, noTarget, nil

	case op.Ret:
		return effect{pops: 1, pushes: 0, hasFallthrough: false}, noTarget, nil

	case op.Jump:
		return effect{pops: 0, pushes: 0, hasTarget: true, hasFallthrough: false}, int(instr.Operand), nil

	case op.JumpIfTrue:
		return effect{pops: 1, pushes: 0, hasTarget: true, hasFallthrough: true}, int(instr.Operand), nil

	case op.Dup:
		return effect{pops: 1, pushes: 2, hasFallthrough: true}, noTarget, nil

	case op.Pop:
		return effect{pops: 1, pushes: 0, hasFallthrough: true}, noTarget, nil

	case op.LoadLocal:
		return effect{pops: 0, pushes: 1, hasFallthrough: true}, noTarget, nil

	case op.StoreLocal:
		return effect{pops: 1, pushes: 0, hasFallthrough: true}, noTarget, nil

	case op.Halt:
		return effect{pops: 0, pushes: 0, hasFallthrough: false}, noTarget, nil

	default:
		return effect{}, noTarget, stellaerr.Newf(stellaerr.UnknownOpcode,
			"unknown opcode %d at encoded position", instr.Opcode)
	}
}
