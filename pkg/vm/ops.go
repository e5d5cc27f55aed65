package vm

import (
	"fmt"

	"github.com/emberlang/ember/pkg/object"
)

// methodOn looks up name in recv's class method table. Spec §3's
// shallow-copy-at-class-creation convention (object.Class's doc comment)
// means this table already contains every inherited method flattened in, so
// a single Get is enough — no walk up Super is needed for ordinary dispatch
// (super calls are the one case that must bypass this, see OpSuperCall in
// dispatch.go).
func (vm *VM) methodOn(recv object.Value, name string) (object.Value, bool) {
	cls := recv.ClassOf(vm.builtins)
	if cls == nil || cls.Methods == nil {
		return object.Null, false
	}
	return cls.Methods.Get(object.FromObj(vm.internString(name)))
}

// bindMethod wraps recv/m into a BoundMethod Value, registering it with the
// collector like every other heap allocation (spec §4.6); callers push it
// immediately afterward so it is stack-rooted before any GC can run.
func (vm *VM) bindMethod(recv, m object.Value) object.Value {
	bm := &object.BoundMethod{Receiver: recv, Method: m}
	vm.alloc(bm, 24)
	return object.FromObj(bm)
}

// invokeMethod dispatches a selector call whose receiver and argc already
// sit on the operand stack in the OpInvoke layout: [recv, arg0, ..., argN-1]
// with argc == N, receiver at vm.sp-argc-1. Used directly by OpInvoke and
// indirectly (via a different method table) by OpSuperCall.
func (vm *VM) invokeMethod(cls *object.Class, name string, argc int) bool {
	base := vm.sp - argc - 1
	if cls == nil || cls.Methods == nil {
		return vm.raiseNew("MethodException", fmt.Sprintf("no method %s", name))
	}
	m, ok := cls.Methods.Get(object.FromObj(vm.internString(name)))
	if !ok {
		return vm.raiseNew("MethodException", fmt.Sprintf("undefined method %s", name))
	}
	switch mm := m.AsObject().(type) {
	case *object.Closure:
		return vm.callClosure(mm, base, argc, false)
	case *object.Native:
		return vm.callNativeMethod(mm, base, argc)
	default:
		return vm.raiseNew("TypeException", fmt.Sprintf("%s is not callable", name))
	}
}

// tryDunder attempts recv.name(args...) via the bound-method/invoke path,
// returning found=false (no exception raised) when recv's class simply has
// no such method, so callers can fall back to a reflected operator or raise
// their own TypeException.
//
// found=true, ok=true means the call returned a real value normally: the
// caller should use result and carry on. found=true, ok=false means the
// dunder raised an exception that its own invoke() couldn't resolve inside
// its own floor (see dispatch.go's runLoop); invoke() already drained it out
// of the VM's pending-exception slot into result, so it is NOT yet
// re-registered as in-flight. Every such caller must finish the job with
// `return vm.raise(result)` (never a bare `return false`) so it resumes
// propagating against the caller's own floor exactly like an exception
// raised directly in the caller's frame — mirroring callNative's
// `if !success { return vm.raise(result) }` for the native-return
// convention.
func (vm *VM) tryDunder(recv object.Value, name string, args ...object.Value) (result object.Value, found, ok bool) {
	m, has := vm.methodOn(recv, name)
	if !has {
		return object.Null, false, false
	}
	bound := vm.bindMethod(recv, m)
	result, ok = vm.invoke(bound, args)
	return result, true, ok
}

// ---- attribute protocol (GET_FIELD / SET_FIELD) ----
//
// getAttr/setAttr/subscriptGet/subscriptSet/opEq/opCompare/opLen/opStr/
// binaryArith all follow callValue's convention rather than returning a bare
// (value, ok) pair: each pushes its own result and returns a single bool.
// The reason is raise()/raiseNew()'s own return value is not "did an
// exception happen" but "should the dispatch loop continue from here" — true
// covers BOTH a genuine value and an exception a handler already resumed
// in this very frame (propagate() already pushed what that handler expects
// and moved f.IP there). A caller that received a separate (value, ok) and
// then did its own vm.push(value) on ok==true would push a bogus extra value
// on top of the handler's in the latter case. Doing the push here, exactly
// once, on exactly the path that owns the real value, avoids that.

// getAttr implements spec §4.5's attribute lookup: an instance's own field
// shadows a method of the same name; a method hit is bound to recv; nothing
// found falls back to __getattr__ before raising FieldException.
func (vm *VM) getAttr(recv object.Value, name string) bool {
	if inst, ok := recv.AsInstance(); ok {
		if v, ok := inst.Fields.Get(object.FromObj(vm.internString(name))); ok {
			vm.push(v)
			return true
		}
	}
	if m, ok := vm.methodOn(recv, name); ok {
		vm.push(vm.bindMethod(recv, m))
		return true
	}
	if result, found, ok := vm.tryDunder(recv, "__getattr__", object.FromObj(vm.newString(name))); found {
		if !ok {
			return vm.raise(result)
		}
		vm.push(result)
		return true
	}
	return vm.raiseNew("FieldException", fmt.Sprintf("%s has no attribute %q", recv.String(), name))
}

// setAttr implements SET_FIELD: only instances carry a field table; anything
// else (including an unhandled __setattr__) is a TypeException. Pushes val
// (the expression's own value) on success, matching assignment-as-expression
// semantics.
func (vm *VM) setAttr(recv object.Value, name string, val object.Value) bool {
	inst, ok := recv.AsInstance()
	if !ok {
		if result, found, ok := vm.tryDunder(recv, "__setattr__", object.FromObj(vm.newString(name)), val); found {
			if !ok {
				return vm.raise(result)
			}
			vm.push(val)
			return true
		}
		return vm.raiseNew("TypeException", fmt.Sprintf("cannot set field %q on %s", name, recv.String()))
	}
	inst.Fields.Set(object.FromObj(vm.internString(name)), val)
	vm.push(val)
	return true
}

// ---- subscript protocol (SUBSCR_GET / SUBSCR_SET) ----

func (vm *VM) subscriptGet(recv, index object.Value) bool {
	switch o := recv.AsObject().(type) {
	case *object.List:
		i, ok := vm.indexInto(len(o.Elements), index)
		if i < 0 {
			return ok
		}
		vm.push(o.Elements[i])
		return true
	case *object.Tuple:
		i, ok := vm.indexInto(len(o.Elements), index)
		if i < 0 {
			return ok
		}
		vm.push(o.Elements[i])
		return true
	case *object.String:
		i, ok := vm.indexInto(len(o.Bytes), index)
		if i < 0 {
			return ok
		}
		vm.push(object.FromObj(vm.newString(string(o.Bytes[i]))))
		return true
	case *object.Table:
		if v, ok := o.Get(index); ok {
			vm.push(v)
			return true
		}
		return vm.raiseNew("IndexOutOfBoundException", "key not found: "+index.String())
	}
	if result, found, ok := vm.tryDunder(recv, "__getitem__", index); found {
		if !ok {
			return vm.raise(result)
		}
		vm.push(result)
		return true
	}
	return vm.raiseNew("TypeException", fmt.Sprintf("%s is not subscriptable", recv.String()))
}

func (vm *VM) subscriptSet(recv, index, val object.Value) bool {
	switch o := recv.AsObject().(type) {
	case *object.List:
		i, ok := vm.indexInto(len(o.Elements), index)
		if i < 0 {
			return ok
		}
		o.Elements[i] = val
		vm.push(val)
		return true
	case *object.Table:
		o.Set(index, val)
		vm.push(val)
		return true
	}
	if result, found, ok := vm.tryDunder(recv, "__setitem__", index, val); found {
		if !ok {
			return vm.raise(result)
		}
		vm.push(val)
		return true
	}
	return vm.raiseNew("TypeException", fmt.Sprintf("%s does not support item assignment", recv.String()))
}

// indexInto resolves index (which must be a Number) against a sequence of
// length n, accepting negative indices from the end (spec §3 sequence
// protocol) and raising IndexOutOfBoundException when out of range. Unlike
// its callers it has no value of its own to push on the exception path, so
// it returns an index of -1 whenever it raised, paired with raiseNew's own
// result; callers return that result as is and push nothing.
func (vm *VM) indexInto(n int, index object.Value) (int, bool) {
	if !index.IsNumber() {
		return -1, vm.raiseNew("TypeException", "index must be a number")
	}
	i := int(index.AsNumber())
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return -1, vm.raiseNew("IndexOutOfBoundException", fmt.Sprintf("index %d out of bounds for length %d", int(index.AsNumber()), n))
	}
	return i, true
}

// ---- equality / ordering / length / string conversion ----

func (vm *VM) opEq(a, b object.Value) bool {
	if object.Equal(a, b) {
		vm.push(object.True)
		return true
	}
	if result, found, ok := vm.tryDunder(a, "__eq__", b); found {
		if !ok {
			return vm.raise(result)
		}
		vm.push(result)
		return true
	}
	vm.push(object.False)
	return true
}

func (vm *VM) opCompare(name string, a, b object.Value, numFn func(x, y float64) bool) bool {
	if a.IsNumber() && b.IsNumber() {
		vm.push(object.Bool(numFn(a.AsNumber(), b.AsNumber())))
		return true
	}
	if as, ok := a.AsString(); ok {
		if bs, ok := b.AsString(); ok {
			vm.push(object.Bool(numFn(float64(stringCompare(as.String(), bs.String())), 0)))
			return true
		}
	}
	if result, found, ok := vm.tryDunder(a, name, b); found {
		if !ok {
			return vm.raise(result)
		}
		vm.push(result)
		return true
	}
	return vm.raiseNew("TypeException", fmt.Sprintf("cannot compare %s and %s", a.String(), b.String()))
}

func stringCompare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (vm *VM) opLen(v object.Value) bool {
	switch o := v.AsObject().(type) {
	case *object.List:
		vm.push(object.Number(float64(len(o.Elements))))
		return true
	case *object.Tuple:
		vm.push(object.Number(float64(len(o.Elements))))
		return true
	case *object.String:
		vm.push(object.Number(float64(len(o.Bytes))))
		return true
	case *object.Table:
		vm.push(object.Number(float64(o.Len())))
		return true
	}
	if result, found, ok := vm.tryDunder(v, "__len__"); found {
		if !ok {
			return vm.raise(result)
		}
		vm.push(result)
		return true
	}
	return vm.raiseNew("TypeException", fmt.Sprintf("%s has no length", v.String()))
}

func (vm *VM) opStr(v object.Value) bool {
	if _, ok := v.AsString(); ok {
		vm.push(v)
		return true
	}
	if result, found, ok := vm.tryDunder(v, "__str__"); found {
		if !ok {
			return vm.raise(result)
		}
		vm.push(result)
		return true
	}
	vm.push(object.FromObj(vm.newString(v.String())))
	return true
}

// ---- arithmetic with operator-overload fallback ----

// binaryArith implements spec §4.5's arithmetic dunder protocol: a numeric
// fast path, then a.__op__(b), then b.__rop__(a) reflected fallback, then
// TypeException. name/rname are e.g. "__add__"/"__radd__".
func (vm *VM) binaryArith(name, rname string, a, b object.Value, numFn func(x, y float64) (float64, bool, string)) bool {
	if a.IsNumber() && b.IsNumber() {
		r, ok, errMsg := numFn(a.AsNumber(), b.AsNumber())
		if !ok {
			return vm.raiseNew("InvalidArgException", errMsg)
		}
		vm.push(object.Number(r))
		return true
	}
	if result, found, ok := vm.tryDunder(a, name, b); found {
		if !ok {
			return vm.raise(result)
		}
		vm.push(result)
		return true
	}
	if result, found, ok := vm.tryDunder(b, rname, a); found {
		if !ok {
			return vm.raise(result)
		}
		vm.push(result)
		return true
	}
	return vm.raiseNew("TypeException", fmt.Sprintf("unsupported operand types for %s: %s and %s", name, a.String(), b.String()))
}

// ---- iteration protocol (FOR_ITER / FOR_NEXT) ----
//
// spec §4.4/§4.5/§9's glossary: __iter__(self, state) and __next__(self,
// state) are both invoked on the iterable itself (never on a separate
// iterator object), threading an opaque state Value between calls. state
// starts at null; __iter__ returns the next state or null/false to signal
// exhaustion; __next__ reads the value at the state __iter__ just produced.
// The compiler (compileForEach) holds the iterable in the hidden `.expr`
// local and the state in `.iter`, emitting FOR_ITER then (after the
// JUMPIF_FALSE exhaustion test) FOR_NEXT every pass.

// forIterStep implements FOR_ITER: calls .expr.__iter__(.iter), stores the
// result back into the `.iter` local, and pushes it for the compiler's
// following JUMPIF_FALSE to test (null/false ends the loop; anything else,
// including 0, continues it — see object.Value.Truthy).
func (vm *VM) forIterStep(f *Frame, exprSlot, iterSlot int) bool {
	iterable := vm.stack[f.Base+exprSlot]
	state := vm.stack[f.Base+iterSlot]
	result, found, ok := vm.tryDunder(iterable, "__iter__", state)
	if !found {
		return vm.raiseNew("TypeException", fmt.Sprintf("%s is not iterable", iterable.String()))
	}
	if !ok {
		return vm.raise(result)
	}
	vm.stack[f.Base+iterSlot] = result
	vm.push(result)
	return true
}

// forNextStep implements FOR_NEXT: calls .expr.__next__(.iter) with the
// state FOR_ITER just stored, pushing the produced value(s) for the loop
// variable bindings (OpUnpack handles destructuring into more than one).
func (vm *VM) forNextStep(f *Frame, exprSlot, iterSlot int) bool {
	iterable := vm.stack[f.Base+exprSlot]
	state := vm.stack[f.Base+iterSlot]
	value, found, ok := vm.tryDunder(iterable, "__next__", state)
	if !found {
		return vm.raiseNew("TypeException", fmt.Sprintf("%s is not an iterator", iterable.String()))
	}
	if !ok {
		return vm.raise(value)
	}
	vm.push(value)
	return true
}
