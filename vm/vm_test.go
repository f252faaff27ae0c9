package vm

import (
	"math/rand"
	"testing"

	"github.com/stellavm/stellavm/bytecode"
	"github.com/stellavm/stellavm/op"
	"github.com/stellavm/stellavm/stellaerr"
	"github.com/stellavm/stellavm/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTrivialAdd(t *testing.T) {
	p := bytecode.New(bytecode.Params{
		Code: []bytecode.Instruction{
			{Opcode: op.PushConstant, Operand: 0},
			{Opcode: op.PushConstant, Operand: 1},
			{Opcode: op.AddI64},
			{Opcode: op.Halt},
		},
		Constants: []value.Value{value.I64(40), value.I64(2)},
	})
	v := New()
	result, err := v.Run(p)
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.I64())
}

func TestRunNativeSumOfThree(t *testing.T) {
	p := bytecode.New(bytecode.Params{
		Code: []bytecode.Instruction{
			{Opcode: op.PushConstant, Operand: 0},
			{Opcode: op.PushConstant, Operand: 1},
			{Opcode: op.PushConstant, Operand: 2},
			{Opcode: op.CallNative, Operand: 0},
			{Opcode: op.Halt},
		},
		Constants: []value.Value{value.I64(10), value.I64(20), value.I64(12)},
	})
	v := New()
	_, err := v.BindNativeFunc("sum3", func(a, b, c int64) int64 { return a + b + c })
	require.NoError(t, err)

	result, err := v.Run(p)
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.I64())
}

func branchAndArithProgram() *bytecode.Program {
	return bytecode.New(bytecode.Params{
		Code: []bytecode.Instruction{
			{Opcode: op.PushInput, Operand: 0},    // 0: [x]
			{Opcode: op.Dup},                      // 1: [x, x]
			{Opcode: op.PushConstant, Operand: 0}, // 2: [x, x, 7]
			{Opcode: op.ModI64},                   // 3: [x, x%7]
			{Opcode: op.PushConstant, Operand: 1}, // 4: [x, x%7, 3]
			{Opcode: op.CmpLtI64},                 // 5: [x, cmp]
			{Opcode: op.JumpIfTrue, Operand: 12},  // 6: true:12, false-fallthrough:7
			{Opcode: op.PushConstant, Operand: 2},  // 7: [x, 5]
			{Opcode: op.MulI64},                    // 8: [x*5]
			{Opcode: op.PushConstant, Operand: 3},  // 9: [x*5, 100]
			{Opcode: op.AddI64},                    // 10: [x*5+100]
			{Opcode: op.Jump, Operand: 16},          // 11: -> 16
			{Opcode: op.PushConstant, Operand: 4},   // 12: [x, 3]
			{Opcode: op.MulI64},                     // 13: [x*3]
			{Opcode: op.PushConstant, Operand: 5},   // 14: [x*3, 17]
			{Opcode: op.AddI64},                     // 15: [x*3+17]
			{Opcode: op.Halt},                       // 16
		},
		Constants: []value.Value{
			value.I64(7), value.I64(3), value.I64(5), value.I64(100), value.I64(3), value.I64(17),
		},
	})
}

func TestRunBranchAndArithFalsePath(t *testing.T) {
	v := New()
	v.PushInput(value.I64(10))
	result, err := v.Run(branchAndArithProgram())
	require.NoError(t, err)
	assert.Equal(t, int64(150), result.I64()) // 10 mod 7 = 3, not < 3: 10*5+100
}

func TestRunBranchAndArithTruePath(t *testing.T) {
	v := New()
	v.PushInput(value.I64(9))
	result, err := v.Run(branchAndArithProgram())
	require.NoError(t, err)
	assert.Equal(t, int64(44), result.I64()) // 9 mod 7 = 2, < 3: 9*3+17
}

func TestRunFunctionCallWithLocals(t *testing.T) {
	// load_local 0, push_constant(3), add_i64, store_local 1, load_local 1,
	// push_constant(2), mul_i64, ret -- called with argument 6 yields
	// (6+3)*2 = 18.
	p := bytecode.New(bytecode.Params{
		Code: []bytecode.Instruction{
			{Opcode: op.PushConstant, Operand: 0}, // 0: push 6
			{Opcode: op.Call, Operand: 0},          // 1: call fn 0
			{Opcode: op.Halt},                      // 2

			{Opcode: op.LoadLocal, Operand: 0},    // 3: entry
			{Opcode: op.PushConstant, Operand: 1}, // 4
			{Opcode: op.AddI64},                   // 5
			{Opcode: op.StoreLocal, Operand: 1},   // 6
			{Opcode: op.LoadLocal, Operand: 1},    // 7
			{Opcode: op.PushConstant, Operand: 2}, // 8
			{Opcode: op.MulI64},                   // 9
			{Opcode: op.Ret},                      // 10
		},
		Constants: []value.Value{value.I64(6), value.I64(3), value.I64(2)},
		Functions: []bytecode.Function{
			{Entry: 3, Arity: 1, LocalCount: 2},
		},
	})

	v := New()
	result, err := v.Run(p)
	require.NoError(t, err)
	assert.Equal(t, int64(18), result.I64())
}

func TestRunBitwisePipeline(t *testing.T) {
	p := bytecode.New(bytecode.Params{
		Code: []bytecode.Instruction{
			{Opcode: op.PushConstant, Operand: 0}, // 13
			{Opcode: op.PushConstant, Operand: 1}, // 7
			{Opcode: op.AndI64},
			{Opcode: op.PushConstant, Operand: 2}, // 2
			{Opcode: op.ShlI64},
			{Opcode: op.PushConstant, Operand: 3}, // 6
			{Opcode: op.OrI64},
			{Opcode: op.PushConstant, Operand: 4}, // 3
			{Opcode: op.XorI64},
			{Opcode: op.PushConstant, Operand: 5}, // 1
			{Opcode: op.ShrI64},
			{Opcode: op.Halt},
		},
		Constants: []value.Value{
			value.I64(13), value.I64(7), value.I64(2), value.I64(6), value.I64(3), value.I64(1),
		},
	})
	v := New()
	result, err := v.Run(p)
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.I64())
}

// TestRunArithmeticDifferentialAgainstHostEvaluation pins Testable
// Property 6: for a large population of random (op, lhs, rhs) triples
// with rhs constrained into each op's legal domain, running a trivial
// push/push/op/halt program through the VM must equal a direct host
// evaluation of the same two's-complement operation.
func TestRunArithmeticDifferentialAgainstHostEvaluation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	binaryProgram := func(opcode op.Code, lhs, rhs int64) *bytecode.Program {
		return bytecode.New(bytecode.Params{
			Code: []bytecode.Instruction{
				{Opcode: op.PushConstant, Operand: 0},
				{Opcode: op.PushConstant, Operand: 1},
				{Opcode: opcode},
				{Opcode: op.Halt},
			},
			Constants: []value.Value{value.I64(lhs), value.I64(rhs)},
		})
	}

	ops := []struct {
		code op.Code
		host func(lhs, rhs int64) int64
		rhs  func(r *rand.Rand) int64
	}{
		{op.AddI64, func(l, r int64) int64 { return l + r }, randI64},
		{op.SubI64, func(l, r int64) int64 { return l - r }, randI64},
		{op.MulI64, func(l, r int64) int64 { return l * r }, randI64},
		{op.ModI64, func(l, r int64) int64 { return l % r }, randNonZeroI64},
		{op.CmpEqI64, func(l, r int64) int64 {
			if l == r {
				return 1
			}
			return 0
		}, randI64},
		{op.CmpLtI64, func(l, r int64) int64 {
			if l < r {
				return 1
			}
			return 0
		}, randI64},
		{op.AndI64, func(l, r int64) int64 { return l & r }, randI64},
		{op.OrI64, func(l, r int64) int64 { return l | r }, randI64},
		{op.XorI64, func(l, r int64) int64 { return l ^ r }, randI64},
		{op.ShlI64, func(l, r int64) int64 { return l << uint(r) }, randShiftAmount},
		{op.ShrI64, func(l, r int64) int64 { return l >> uint(r) }, randShiftAmount},
	}

	const triesPerOp = 20 // 11 ops * 20 = 220 triples, exceeding the 200+ the property calls for
	total := 0
	for _, o := range ops {
		for i := 0; i < triesPerOp; i++ {
			lhs := randI64(rng)
			rhs := o.rhs(rng)

			v := New()
			result, err := v.Run(binaryProgram(o.code, lhs, rhs))
			require.NoError(t, err)
			assert.Equal(t, o.host(lhs, rhs), result.I64(),
				"opcode %s with lhs=%d rhs=%d", o.code.Name(), lhs, rhs)
			total++
		}
	}
	require.GreaterOrEqual(t, total, 200)
}

func randI64(r *rand.Rand) int64 {
	return int64(r.Uint64())
}

func randNonZeroI64(r *rand.Rand) int64 {
	for {
		if v := randI64(r); v != 0 {
			return v
		}
	}
}

func randShiftAmount(r *rand.Rand) int64 {
	return int64(r.Intn(64))
}

func TestRunMoveBufferIdentityAcrossNativeBoundary(t *testing.T) {
	p := bytecode.New(bytecode.Params{
		Code: []bytecode.Instruction{
			{Opcode: op.PushInput, Operand: 0},
			{Opcode: op.CallNative, Operand: 0},
			{Opcode: op.Halt},
		},
	})
	v := New()
	_, err := v.BindNativeFunc("echo", func(buf *value.MoveBuffer) *value.MoveBuffer { return buf })
	require.NoError(t, err)

	original := value.NewMoveBuffer(8)
	ptrBefore := &original.Bytes()[0]
	v.PushInput(value.Buffer(original))

	result, err := v.Run(p)
	require.NoError(t, err)

	taken, _, err := result.TakeBuffer()
	require.NoError(t, err)
	assert.Equal(t, 8, taken.Len())
	assert.Same(t, ptrBefore, &taken.Bytes()[0])
}

func TestBindNativeFuncArityRejectsMismatch(t *testing.T) {
	v := New()
	_, err := v.BindNativeFuncArity("sum3", 2, func(a, b, c int64) int64 { return a + b + c })
	require.Error(t, err)
	kind, _ := stellaerr.KindOf(err)
	assert.Equal(t, stellaerr.InvalidFunctionSignature, kind)
}

func TestBindNativeFuncArityAcceptsMatchAndRuns(t *testing.T) {
	p := bytecode.New(bytecode.Params{
		Code: []bytecode.Instruction{
			{Opcode: op.PushConstant, Operand: 0},
			{Opcode: op.PushConstant, Operand: 1},
			{Opcode: op.PushConstant, Operand: 2},
			{Opcode: op.CallNative, Operand: 0},
			{Opcode: op.Halt},
		},
		Constants: []value.Value{value.I64(10), value.I64(20), value.I64(12)},
	})
	v := New()
	_, err := v.BindNativeFuncArity("sum3", 3, func(a, b, c int64) int64 { return a + b + c })
	require.NoError(t, err)

	result, err := v.Run(p)
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.I64())
}

func TestRunModByZeroFails(t *testing.T) {
	p := bytecode.New(bytecode.Params{
		Code: []bytecode.Instruction{
			{Opcode: op.PushConstant, Operand: 0},
			{Opcode: op.PushConstant, Operand: 1},
			{Opcode: op.ModI64},
			{Opcode: op.Halt},
		},
		Constants: []value.Value{value.I64(10), value.I64(0)},
	})
	v := New()
	_, err := v.Run(p)
	require.Error(t, err)
	kind, _ := stellaerr.KindOf(err)
	assert.Equal(t, stellaerr.DivisionByZero, kind)
}

func TestRunShiftBy64Fails(t *testing.T) {
	p := bytecode.New(bytecode.Params{
		Code: []bytecode.Instruction{
			{Opcode: op.PushConstant, Operand: 0},
			{Opcode: op.PushConstant, Operand: 1},
			{Opcode: op.ShlI64},
			{Opcode: op.Halt},
		},
		Constants: []value.Value{value.I64(1), value.I64(64)},
	})
	v := New()
	_, err := v.Run(p)
	require.Error(t, err)
	kind, _ := stellaerr.KindOf(err)
	assert.Equal(t, stellaerr.InvalidShiftAmount, kind)
}

func TestRunStepBudgetExceeded(t *testing.T) {
	p := bytecode.New(bytecode.Params{
		Code: []bytecode.Instruction{
			{Opcode: op.Jump, Operand: 0}, // infinite self-loop
		},
	})
	v := New(WithStepBudget(5))
	_, err := v.Run(p)
	require.Error(t, err)
	kind, _ := stellaerr.KindOf(err)
	assert.Equal(t, stellaerr.StepBudgetExceeded, kind)
}

func TestRunNativeReentrancyFails(t *testing.T) {
	p := bytecode.New(bytecode.Params{
		Code: []bytecode.Instruction{
			{Opcode: op.CallNative, Operand: 0},
			{Opcode: op.Halt},
		},
	})
	v := New()
	v.BindNative("reenter", 0, func(vmRef any, args []value.Value) (value.Value, error) {
		self := vmRef.(*VM)
		return self.Run(p)
	})

	_, err := v.Run(p)
	require.Error(t, err)
	kind, _ := stellaerr.KindOf(err)
	assert.Equal(t, stellaerr.NativeReentrancy, kind)
}

func TestRunTraceSinkObservesEveryDispatchedStep(t *testing.T) {
	// Pop breaks the push_constant/binary-op adjacency so the peephole
	// fusion never triggers here, keeping one trace event per instruction.
	p := bytecode.New(bytecode.Params{
		Code: []bytecode.Instruction{
			{Opcode: op.PushConstant, Operand: 0},
			{Opcode: op.PushConstant, Operand: 1},
			{Opcode: op.Pop},
			{Opcode: op.Halt},
		},
		Constants: []value.Value{value.I64(1), value.I64(2)},
	})
	v := New()
	var events []TraceEvent
	v.SetTraceSink(func(e TraceEvent) { events = append(events, e) })

	_, err := v.Run(p)
	require.NoError(t, err)

	require.Len(t, events, 4)
	assert.Equal(t, op.PushConstant, events[0].Opcode)
	assert.Equal(t, op.Halt, events[3].Opcode)

	v.ClearTraceSink()
	events = nil
	_, err = v.Run(p)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRunProfilingAccumulatesCounters(t *testing.T) {
	p := bytecode.New(bytecode.Params{
		Code: []bytecode.Instruction{
			{Opcode: op.PushConstant, Operand: 0},
			{Opcode: op.Halt},
		},
		Constants: []value.Value{value.I64(7)},
	})
	v := New(WithProfiling(true))
	_, err := v.Run(p)
	require.NoError(t, err)

	profile := v.Profile()
	assert.Equal(t, uint64(1), profile.Runs)
	assert.Equal(t, uint64(1), profile.CountFor(op.Halt))

	v.ResetProfile()
	assert.Equal(t, uint64(0), v.Profile().Runs)
}

func TestRunClearsStateBetweenRuns(t *testing.T) {
	p := bytecode.New(bytecode.Params{
		Code: []bytecode.Instruction{
			{Opcode: op.PushConstant, Operand: 0},
			{Opcode: op.Halt},
		},
		Constants: []value.Value{value.I64(5)},
	})
	v := New()
	_, err := v.Run(p)
	require.NoError(t, err)
	_, err = v.Run(p)
	require.NoError(t, err)
	assert.Empty(t, v.stack)
	assert.Empty(t, v.frames)
}
