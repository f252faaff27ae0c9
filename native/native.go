// Package native implements the reflective high-level native-binding
// builder: it inspects a Go function's signature and synthesizes the
// uniform (vm, []Value) -> (Value, error) adapter the interpreter calls
// through call_native, inferring arity from the parameter list the way
// the teacher repo's object.GoFunc infers arity and context-handling from
// a wrapped Go function's reflect.Type.
package native

import (
	"fmt"
	"reflect"

	"github.com/stellavm/stellavm/stellaerr"
	"github.com/stellavm/stellavm/value"
)

// Adapter is the uniform shape every native binding reduces to. vmRef is
// passed through untyped so this package never imports the vm package
// (which in turn imports this one) — vm.VM supplies itself as vmRef when
// it owns a binding whose builder detected a leading VM parameter.
type Adapter func(vmRef any, args []value.Value) (value.Value, error)

var errorType = reflect.TypeOf((*error)(nil)).Elem()
var moveBufferPtrType = reflect.TypeOf((*value.MoveBuffer)(nil))
var valueType = reflect.TypeOf(value.Value{})

// Build inspects fn's signature via reflection and returns the inferred
// arity (excluding a leading VM parameter, if any) plus an Adapter that
// performs argument decoding, the call, and result encoding.
//
// vmParamType identifies the concrete pointer type a caller-supplied VM
// reference would have (e.g. reflect.TypeOf((*vm.VM)(nil))); pass nil if
// the embedder never wants to bind VM-aware natives.
//
// Supported parameter types (after the optional VM parameter): int64,
// float64, string (read-only; accepts either Value string variant), and
// *value.MoveBuffer (moved out of its argument slot). Supported return
// shapes: any one of those types, or value.Value directly, optionally
// followed by a trailing error.
func Build(name string, fn any, vmParamType reflect.Type) (arity int, adapter Adapter, err error) {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func {
		return 0, nil, fmt.Errorf("native %q: not a function (got %s)", name, fnType.Kind())
	}
	if fnType.IsVariadic() {
		return 0, nil, fmt.Errorf("native %q: variadic functions are not supported", name)
	}

	numIn := fnType.NumIn()
	hasVM := false
	firstParam := 0
	if numIn > 0 && vmParamType != nil && fnType.In(0) == vmParamType {
		hasVM = true
		firstParam = 1
	}

	paramTypes := make([]reflect.Type, 0, numIn-firstParam)
	for i := firstParam; i < numIn; i++ {
		pt := fnType.In(i)
		if !isSupportedParamType(pt) {
			return 0, nil, fmt.Errorf("native %q: unsupported parameter type %s at position %d", name, pt, i)
		}
		paramTypes = append(paramTypes, pt)
	}

	numOut := fnType.NumOut()
	hasError := numOut > 0 && fnType.Out(numOut-1) == errorType
	resultCount := numOut
	if hasError {
		resultCount--
	}
	if resultCount > 1 {
		return 0, nil, fmt.Errorf("native %q: at most one non-error return value is supported", name)
	}
	var resultType reflect.Type
	if resultCount == 1 {
		resultType = fnType.Out(0)
		if !isSupportedResultType(resultType) {
			return 0, nil, fmt.Errorf("native %q: unsupported return type %s", name, resultType)
		}
	}

	arity = len(paramTypes)

	adapter = func(vmRef any, args []value.Value) (value.Value, error) {
		if len(args) != arity {
			return value.Value{}, stellaerr.Newf(stellaerr.InsufficientNativeArguments,
				"native %q: expected %d argument(s), got %d", name, arity, len(args))
		}

		callArgs := make([]reflect.Value, 0, numIn)
		if hasVM {
			if vmRef == nil {
				return value.Value{}, stellaerr.Newf(stellaerr.InvalidFunctionSignature,
					"native %q: requires a VM reference but none was supplied", name)
			}
			callArgs = append(callArgs, reflect.ValueOf(vmRef))
		}

		for i, pt := range paramTypes {
			converted, err := decodeArg(name, i, args[i], pt)
			if err != nil {
				return value.Value{}, err
			}
			callArgs = append(callArgs, converted)
		}

		results := fnVal.Call(callArgs)

		if hasError {
			if errVal := results[len(results)-1]; !errVal.IsNil() {
				return value.Value{}, errVal.Interface().(error)
			}
			results = results[:len(results)-1]
		}
		if len(results) == 0 {
			return value.Empty(), nil
		}
		return encodeResult(results[0]), nil
	}

	return arity, adapter, nil
}

// BuildWithArity is Build with a caller-declared arity check, matching
// §4.7/§6's `native(name).arity(n).bind(callable)` surface: declaredArity
// must agree with the arity inferred from fn's reflected signature, or
// the binding fails with invalid_function_signature instead of silently
// trusting whichever of the two the caller got wrong.
func BuildWithArity(name string, declaredArity int, fn any, vmParamType reflect.Type) (arity int, adapter Adapter, err error) {
	arity, adapter, err = Build(name, fn, vmParamType)
	if err != nil {
		return 0, nil, err
	}
	if declaredArity != arity {
		return 0, nil, stellaerr.Newf(stellaerr.InvalidFunctionSignature,
			"native %q: declared arity %d does not match %d inferred parameter(s)", name, declaredArity, arity)
	}
	return arity, adapter, nil
}

func isSupportedParamType(t reflect.Type) bool {
	switch {
	case t.Kind() == reflect.Int64:
		return true
	case t.Kind() == reflect.Float64:
		return true
	case t.Kind() == reflect.String:
		return true
	case t == moveBufferPtrType:
		return true
	default:
		return false
	}
}

func isSupportedResultType(t reflect.Type) bool {
	if t == valueType {
		return true
	}
	return isSupportedParamType(t)
}

func decodeArg(name string, index int, v value.Value, want reflect.Type) (reflect.Value, error) {
	context := fmt.Sprintf("native %q argument %d", name, index)
	switch {
	case want.Kind() == reflect.Int64:
		i, err := v.ExpectI64(context)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(i), nil
	case want.Kind() == reflect.Float64:
		f, err := v.ExpectF64(context)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(f), nil
	case want.Kind() == reflect.String:
		s, err := v.ExpectString(context)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(s), nil
	case want == moveBufferPtrType:
		buf, _, err := v.TakeBuffer()
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(buf), nil
	default:
		return reflect.Value{}, stellaerr.Newf(stellaerr.InvalidFunctionSignature,
			"%s: unsupported target type %s", context, want)
	}
}

func encodeResult(v reflect.Value) value.Value {
	if v.Type() == valueType {
		return v.Interface().(value.Value)
	}
	switch v.Kind() {
	case reflect.Int64:
		return value.I64(v.Int())
	case reflect.Float64:
		return value.F64(v.Float())
	case reflect.String:
		return value.OwnedString(v.String())
	default:
		if v.Type() == moveBufferPtrType {
			buf, _ := v.Interface().(*value.MoveBuffer)
			return value.Buffer(buf)
		}
	}
	return value.Empty()
}
