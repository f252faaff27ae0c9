package vm

import (
	"github.com/stellavm/stellavm/native"
	"github.com/stellavm/stellavm/stellaerr"
	"github.com/stellavm/stellavm/value"
)

// binding is one append-only registry slot.
type binding struct {
	name    string
	arity   int
	adapter native.Adapter
	bound   bool
}

// registry is the VM's native binding table. It implements
// verify.NativeTable's (Len, ArityAt) shape structurally, so verify never
// needs to import this package.
type registry struct {
	bindings []binding
}

func newRegistry() *registry {
	return &registry{}
}

// bind appends a new binding and returns its stable index.
func (r *registry) bind(name string, arity int, adapter native.Adapter) int {
	r.bindings = append(r.bindings, binding{name: name, arity: arity, adapter: adapter, bound: true})
	return len(r.bindings) - 1
}

// Len reports the number of declared registry slots.
func (r *registry) Len() int { return len(r.bindings) }

// ArityAt reports the arity and bound-ness of slot index.
func (r *registry) ArityAt(index int) (int, bool) {
	if index < 0 || index >= len(r.bindings) {
		return 0, false
	}
	b := r.bindings[index]
	return b.arity, b.bound
}

// call invokes the binding at index against args, on behalf of vmRef.
func (r *registry) call(index int, vmRef any, args []value.Value) (value.Value, error) {
	if index < 0 || index >= len(r.bindings) {
		return value.Value{}, stellaerr.Newf(stellaerr.InvalidNativeIndex,
			"native index %d out of range (%d bound)", index, len(r.bindings))
	}
	b := r.bindings[index]
	if !b.bound {
		return value.Value{}, stellaerr.Newf(stellaerr.EmptyNativeBinding,
			"native index %d (%s) has no bound function", index, b.name)
	}
	return b.adapter(vmRef, args)
}
