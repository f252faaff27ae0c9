package vm

import (
	"fmt"
	"time"

	"github.com/stellavm/stellavm/bytecode"
	"github.com/stellavm/stellavm/op"
	"github.com/stellavm/stellavm/stellaerr"
	"github.com/stellavm/stellavm/value"
	"github.com/stellavm/stellavm/verify"
)

// Run verifies program against the VM's current input count and native
// registry, then executes it via RunUnchecked. Most callers should use
// Run; RunUnchecked is for hosts that have already verified (or cached the
// verification of) the exact program, per VerifyCached.
func (v *VM) Run(program *bytecode.Program) (value.Value, error) {
	if v.running {
		v.logger.Error().Msg("run: rejected reentrant call into an executing VM")
		return value.Value{}, stellaerr.New(stellaerr.NativeReentrancy,
			"run: VM is already executing (reentrant call)")
	}
	if err := verify.Verify(program, len(v.inputs), v.registry); err != nil {
		kind, _ := stellaerr.KindOf(err)
		v.logger.Debug().Str("kind", kind.String()).Err(err).Msg("run: program rejected by verifier")
		return value.Value{}, err
	}
	return v.RunUnchecked(program)
}

// VerifyCached behaves like verify.Verify(program, availableInputs,
// registry), but memoizes the result keyed by the program's content
// digest in cache, so a host that repeatedly runs the same recompiled
// Program can skip the worklist pass on a cache hit.
func (v *VM) VerifyCached(program *bytecode.Program, availableInputs int, cache map[[32]byte]error) error {
	digest := bytecode.Digest(program)
	if err, ok := cache[digest]; ok {
		return err
	}
	err := verify.Verify(program, availableInputs, v.registry)
	cache[digest] = err
	return err
}

// RunUnchecked executes program trusting that it has already passed
// verification against the VM's current input count and native registry.
// It clears the stack and call frames at entry, so a partial previous run
// leaves no residue; the arena is not auto-reset (§5).
func (v *VM) RunUnchecked(program *bytecode.Program) (result value.Value, err error) {
	if v.running {
		v.logger.Error().Msg("run_unchecked: rejected reentrant call into an executing VM")
		return value.Value{}, stellaerr.New(stellaerr.NativeReentrancy,
			"run_unchecked: VM is already executing (reentrant call)")
	}
	v.running = true
	defer func() { v.running = false }()

	v.stack = v.stack[:0]
	v.frames = v.frames[:0]
	v.executedSteps = 0

	var runStart time.Time
	if v.profiling {
		runStart = time.Now()
		defer func() { v.profile.recordRun(time.Since(runStart)) }()
	}

	pc := 0
	codeLen := program.CodeLen()

	for pc < codeLen {
		if v.stepBudget > 0 && v.executedSteps >= v.stepBudget {
			return value.Value{}, stellaerr.Newf(stellaerr.StepBudgetExceeded,
				"run: exceeded step budget of %d", v.stepBudget)
		}
		v.executedSteps++

		instr := program.InstructionAt(pc)

		if v.traceSink != nil {
			v.traceSink(TraceEvent{
				PC:        pc,
				Opcode:    instr.Opcode,
				StackSize: len(v.stack),
				CallDepth: len(v.frames),
			})
		}

		var stepStart time.Time
		if v.profiling {
			stepStart = time.Now()
		}

		nextPC, haltValue, halted, stepErr := v.step(program, pc, instr)

		if v.profiling {
			v.profile.recordStep(instr.Opcode, time.Since(stepStart))
		}

		if stepErr != nil {
			return value.Value{}, stepErr
		}
		if halted {
			return haltValue, nil
		}
		pc = nextPC
	}

	// Implicit end of code: same as halt.
	if len(v.stack) == 0 {
		return value.Empty(), nil
	}
	return v.popStack(), nil
}

// step executes the single instruction at pc and reports the next pc, or
// signals that the run has concluded via halted/haltValue.
func (v *VM) step(program *bytecode.Program, pc int, instr bytecode.Instruction) (nextPC int, haltValue value.Value, halted bool, err error) {
	switch instr.Opcode {
	case op.PushConstant:
		fused, ferr := v.tryFusePeephole(program, pc, instr)
		if ferr != nil {
			return 0, value.Value{}, false, ferr
		}
		if fused {
			return pc + 2, value.Value{}, false, nil
		}
		v.pushStack(program.ConstantAt(int(instr.Operand)).Clone())
		return pc + 1, value.Value{}, false, nil

	case op.PushInput:
		idx := int(instr.Operand)
		val := v.inputs[idx]
		v.inputs[idx] = value.Empty()
		v.pushStack(val)
		return pc + 1, value.Value{}, false, nil

	case op.AddI64, op.SubI64, op.MulI64, op.ModI64, op.CmpEqI64, op.CmpLtI64,
		op.AndI64, op.OrI64, op.XorI64, op.ShlI64, op.ShrI64:
		rhs, err := v.popStack().ExpectI64(fmt.Sprintf("%s rhs", instr.Opcode.Name()))
		if err != nil {
			return 0, value.Value{}, false, err
		}
		lhs, err := v.popStack().ExpectI64(fmt.Sprintf("%s lhs", instr.Opcode.Name()))
		if err != nil {
			return 0, value.Value{}, false, err
		}
		out, err := applyI64Binary(instr.Opcode, lhs, rhs)
		if err != nil {
			return 0, value.Value{}, false, err
		}
		v.pushStack(value.I64(out))
		return pc + 1, value.Value{}, false, nil

	case op.Jump:
		return int(instr.Operand), value.Value{}, false, nil

	case op.JumpIfTrue:
		cond, err := v.popStack().ExpectI64("jump_if_true condition")
		if err != nil {
			return 0, value.Value{}, false, err
		}
		if cond != 0 {
			return int(instr.Operand), value.Value{}, false, nil
		}
		return pc + 1, value.Value{}, false, nil

	case op.Dup:
		top := v.stack[len(v.stack)-1]
		v.pushStack(top.Clone())
		return pc + 1, value.Value{}, false, nil

	case op.Pop:
		v.popStack()
		return pc + 1, value.Value{}, false, nil

	case op.Call:
		return v.doCall(program, pc, int(instr.Operand))

	case op.Ret:
		retVal := v.popStack()
		if len(v.frames) == 0 {
			return 0, retVal, true, nil
		}
		frame := v.frames[len(v.frames)-1]
		v.frames = v.frames[:len(v.frames)-1]
		v.stack = v.stack[:frame.base]
		v.pushStack(retVal)
		return frame.returnPC, value.Value{}, false, nil

	case op.LoadLocal:
		frame, err := v.currentFrame()
		if err != nil {
			return 0, value.Value{}, false, err
		}
		idx := int(instr.Operand)
		if idx >= frame.localCount {
			return 0, value.Value{}, false, stellaerr.Newf(stellaerr.InvalidLocalIndex,
				"load_local: index %d out of range (%d locals)", idx, frame.localCount)
		}
		v.pushStack(v.stack[frame.base+idx].Clone())
		return pc + 1, value.Value{}, false, nil

	case op.StoreLocal:
		frame, err := v.currentFrame()
		if err != nil {
			return 0, value.Value{}, false, err
		}
		idx := int(instr.Operand)
		if idx >= frame.localCount {
			return 0, value.Value{}, false, stellaerr.Newf(stellaerr.InvalidLocalIndex,
				"store_local: index %d out of range (%d locals)", idx, frame.localCount)
		}
		v.stack[frame.base+idx] = v.popStack()
		return pc + 1, value.Value{}, false, nil

	case op.CallNative:
		idx := int(instr.Operand)
		arity, _ := v.registry.ArityAt(idx)
		if len(v.stack) < arity {
			return 0, value.Value{}, false, stellaerr.Newf(stellaerr.StackUnderflow,
				"call_native: requires %d argument(s), stack has %d", arity, len(v.stack))
		}
		base := len(v.stack) - arity
		args := append([]value.Value(nil), v.stack[base:]...)
		result, err := v.registry.call(idx, v, args)
		if err != nil {
			return 0, value.Value{}, false, err
		}
		v.stack = v.stack[:base]
		v.pushStack(result)
		return pc + 1, value.Value{}, false, nil

	case op.Halt:
		if len(v.stack) == 0 {
			return 0, value.Empty(), true, nil
		}
		return 0, v.popStack(), true, nil

	default:
		return 0, value.Value{}, false, stellaerr.Newf(stellaerr.UnknownOpcode,
			"run: unknown opcode %d at pc %d", instr.Opcode, pc)
	}
}

// tryFusePeephole implements the mandatory push_constant + i64-binary-op
// fusion: if the constant is i64, the next instruction is an i64 binary
// opcode, and the stack already has a left operand, it computes the
// result in place and reports that two instructions were consumed.
func (v *VM) tryFusePeephole(program *bytecode.Program, pc int, instr bytecode.Instruction) (fused bool, err error) {
	if pc+1 >= program.CodeLen() {
		return false, nil
	}
	if len(v.stack) == 0 {
		return false, nil
	}
	constant := program.ConstantAt(int(instr.Operand))
	if !constant.IsI64() {
		return false, nil
	}
	next := program.InstructionAt(pc + 1)
	if !op.GetInfo(next.Opcode).IsI64Binary {
		return false, nil
	}

	lhs, err := v.stack[len(v.stack)-1].ExpectI64(fmt.Sprintf("%s lhs (fused)", next.Opcode.Name()))
	if err != nil {
		return false, err
	}
	out, err := applyI64Binary(next.Opcode, lhs, constant.I64())
	if err != nil {
		return false, err
	}
	v.stack[len(v.stack)-1] = value.I64(out)
	return true, nil
}

func (v *VM) doCall(program *bytecode.Program, pc int, fnIndex int) (nextPC int, haltValue value.Value, halted bool, err error) {
	fn := program.FunctionAt(fnIndex)
	arity := int(fn.Arity)
	if len(v.stack) < arity {
		return 0, value.Value{}, false, stellaerr.Newf(stellaerr.StackUnderflow,
			"call: function %d requires %d argument(s), stack has %d", fnIndex, arity, len(v.stack))
	}
	base := len(v.stack) - arity
	localCount := int(fn.LocalCount)
	for len(v.stack) < base+localCount {
		v.stack = append(v.stack, value.Empty())
	}
	v.frames = append(v.frames, callFrame{returnPC: pc + 1, base: base, localCount: localCount})
	return int(fn.Entry), value.Value{}, false, nil
}

func (v *VM) currentFrame() (callFrame, error) {
	if len(v.frames) == 0 {
		return callFrame{}, stellaerr.New(stellaerr.MissingCallFrame, "no active call frame")
	}
	return v.frames[len(v.frames)-1], nil
}

func (v *VM) pushStack(val value.Value) {
	v.stack = append(v.stack, val)
}

func (v *VM) popStack() value.Value {
	top := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	return top
}

// applyI64Binary computes the i64 binary opcode c over (lhs, rhs), shared
// by the straightforward binary dispatch and the push_constant peephole
// fusion path. add/sub/mul wrap on overflow using Go's native int64
// two's-complement semantics; mod rejects a zero divisor; shifts enforce
// the [0,63] range; compares yield 1 or 0.
func applyI64Binary(c op.Code, lhs, rhs int64) (int64, error) {
	switch c {
	case op.AddI64:
		return lhs + rhs, nil
	case op.SubI64:
		return lhs - rhs, nil
	case op.MulI64:
		return lhs * rhs, nil
	case op.ModI64:
		if rhs == 0 {
			return 0, stellaerr.New(stellaerr.DivisionByZero, "mod_i64: division by zero")
		}
		return lhs % rhs, nil
	case op.CmpEqI64:
		if lhs == rhs {
			return 1, nil
		}
		return 0, nil
	case op.CmpLtI64:
		if lhs < rhs {
			return 1, nil
		}
		return 0, nil
	case op.AndI64:
		return lhs & rhs, nil
	case op.OrI64:
		return lhs | rhs, nil
	case op.XorI64:
		return lhs ^ rhs, nil
	case op.ShlI64:
		if rhs < 0 || rhs > 63 {
			return 0, stellaerr.Newf(stellaerr.InvalidShiftAmount, "shl_i64: shift amount %d out of [0,63]", rhs)
		}
		return lhs << uint(rhs), nil
	case op.ShrI64:
		if rhs < 0 || rhs > 63 {
			return 0, stellaerr.Newf(stellaerr.InvalidShiftAmount, "shr_i64: shift amount %d out of [0,63]", rhs)
		}
		return lhs >> uint(rhs), nil
	default:
		return 0, stellaerr.Newf(stellaerr.UnknownOpcode, "applyI64Binary: opcode %d is not an i64 binary op", c)
	}
}
