// Package vm implements the interpreter: the fetch/execute loop, call
// frames, native dispatch, tracing, and profiling that together run a
// verified *bytecode.Program.
package vm

import (
	"reflect"

	"github.com/rs/zerolog"

	"github.com/stellavm/stellavm/arena"
	"github.com/stellavm/stellavm/native"
	"github.com/stellavm/stellavm/stellaerr"
	"github.com/stellavm/stellavm/value"
)

// DefaultStackReserve is the initial capacity reserved for the value stack,
// chosen to avoid a reallocation for most short policy-style programs.
const DefaultStackReserve = 64

// DefaultArenaBytes is the initial backing capacity for a VM's Arena.
const DefaultArenaBytes = 4096

var vmRefType = reflect.TypeOf((*VM)(nil))

// callFrame is the interpreter's runtime call-stack entry. base is the
// stack index at which the frame's locals begin; the first arity of them
// are the arguments popped by call.
type callFrame struct {
	returnPC   int
	base       int
	localCount int
}

// VM is the interpreter. It owns its value stack, call frames, input
// slots, native registry, arena, and observability state; none of this is
// safe for concurrent use by design (§5: single-threaded, cooperative
// within one VM instance).
type VM struct {
	stack  []value.Value
	frames []callFrame

	inputs []value.Value

	registry *registry
	arena    *arena.Arena
	logger   zerolog.Logger

	stepBudget    int
	executedSteps int

	traceSink func(TraceEvent)
	profiling bool
	profile   ProfileStats

	running bool
}

// Option configures a VM at construction time.
type Option func(*VM)

// WithLogger installs l for the VM's diagnostic logging (Run logs programs
// the verifier rejects, and the VM logs arena destructor failures and
// native-reentrancy detections). Absent
// this option the VM uses zerolog.Nop(), so logging is opt-in.
func WithLogger(l zerolog.Logger) Option {
	return func(v *VM) { v.logger = l }
}

// WithStepBudget sets the initial step budget; see SetStepBudget.
func WithStepBudget(n int) Option {
	return func(v *VM) { v.stepBudget = n }
}

// WithArenaBytes sets the initial backing capacity of the VM's Arena.
func WithArenaBytes(n int) Option {
	return func(v *VM) { v.arena = arena.New(n) }
}

// WithStackReserve sets the initial capacity reserved for the value stack.
func WithStackReserve(n int) Option {
	return func(v *VM) { v.stack = make([]value.Value, 0, n) }
}

// WithProfiling enables per-opcode profiling from construction.
func WithProfiling(enabled bool) Option {
	return func(v *VM) { v.profiling = enabled }
}

// New constructs a VM, applying options in order. Defaults: a
// DefaultStackReserve-capacity stack, a DefaultArenaBytes arena, no step
// budget, no profiling, and a no-op logger.
func New(options ...Option) *VM {
	v := &VM{
		stack:  make([]value.Value, 0, DefaultStackReserve),
		frames: make([]callFrame, 0, 16),
		logger: zerolog.Nop(),
	}
	v.registry = newRegistry()
	for _, opt := range options {
		opt(v)
	}
	if v.arena == nil {
		v.arena = arena.New(DefaultArenaBytes)
	}
	v.arena = v.arena.WithLogger(v.logger)
	return v
}

// Arena returns the VM's scoped allocator, for embedders that want to wrap
// a run in a marker (per §5, the arena is not auto-reset by Run).
func (v *VM) Arena() *arena.Arena { return v.arena }

// PushInput appends val to the VM's input slots, available to push_input
// by index in declaration order.
func (v *VM) PushInput(val value.Value) {
	v.inputs = append(v.inputs, val)
}

// ClearInputs discards all pushed inputs.
func (v *VM) ClearInputs() {
	v.inputs = v.inputs[:0]
}

// InputCount reports how many input slots are currently pushed, the bound
// push_input operands must respect during verification.
func (v *VM) InputCount() int { return len(v.inputs) }

// SetStepBudget bounds the number of opcode dispatches a single Run may
// perform; 0 disables the bound. Exceeding it fails with
// step_budget_exceeded.
func (v *VM) SetStepBudget(n int) { v.stepBudget = n }

// ClearStepBudget disables the step budget.
func (v *VM) ClearStepBudget() { v.stepBudget = 0 }

// SetTraceSink installs a callback invoked before every dispatched step with
// the current {pc, opcode, stack_size, call_depth}. A fused push_constant +
// i64 binary op pair is one step and emits one event, for the push_constant. Emitting a trace event
// must not alter interpreter state, and this implementation never does.
func (v *VM) SetTraceSink(sink func(TraceEvent)) { v.traceSink = sink }

// ClearTraceSink removes any installed trace sink.
func (v *VM) ClearTraceSink() { v.traceSink = nil }

// SetProfilingEnabled toggles per-opcode profiling. Profiling adds
// observable overhead and is off by default.
func (v *VM) SetProfilingEnabled(enabled bool) { v.profiling = enabled }

// ResetProfile zeros the accumulated profiling counters.
func (v *VM) ResetProfile() { v.profile = ProfileStats{} }

// Profile returns a snapshot of the accumulated profiling counters.
func (v *VM) Profile() ProfileStats { return v.profile.clone() }

// BindNative registers a hand-written low-level native binding: the host
// writes the adapter directly. Returns the binding's stable index.
func (v *VM) BindNative(name string, arity int, adapter native.Adapter) int {
	return v.registry.bind(name, arity, adapter)
}

// BindNativeFunc registers a native binding built from a typed Go callable
// by reflecting on its signature (§4.7's high-level builder). If fn's
// first parameter is *vm.VM, it is detected and excluded from arity; the
// VM passed to the adapter is then supplied as that parameter at call
// time. Returns the binding's stable index, or an error if fn's signature
// cannot be adapted.
func (v *VM) BindNativeFunc(name string, fn any) (int, error) {
	arity, adapter, err := native.Build(name, fn, vmRefType)
	if err != nil {
		return 0, stellaerr.Newf(stellaerr.InvalidFunctionSignature, "bind native %q: %v", name, err)
	}
	return v.registry.bind(name, arity, adapter), nil
}

// BindNativeFuncArity is BindNativeFunc with a caller-declared arity,
// matching §4.7/§6's `native(name).arity(n).bind(callable)` surface: n
// must agree with the arity native.BuildWithArity infers from fn's
// reflected signature, or binding fails with invalid_function_signature
// rather than silently trusting whichever of the two the caller got wrong.
func (v *VM) BindNativeFuncArity(name string, n int, fn any) (int, error) {
	arity, adapter, err := native.BuildWithArity(name, n, fn, vmRefType)
	if err != nil {
		kind, ok := stellaerr.KindOf(err)
		if !ok {
			kind = stellaerr.InvalidFunctionSignature
		}
		return 0, stellaerr.Newf(kind, "bind native %q: %v", name, err)
	}
	return v.registry.bind(name, arity, adapter), nil
}
