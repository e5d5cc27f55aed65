package vm

import (
	"fmt"

	"github.com/emberlang/ember/pkg/bytecode"
	"github.com/emberlang/ember/pkg/object"
)

// callValue implements the call protocol of spec §4.5/§5: argc arguments
// already sit on the operand stack above the callee at slot
// vm.sp-argc-1. It dispatches on the callee's runtime type, validates
// arity, and either pushes a new bytecode frame (closures, constructors
// with a `construct` method) for the main loop to pick up, or executes the
// call immediately (natives, classes with no constructor, bound methods
// recursing into their underlying callable). Returns false if an exception
// was raised (propagated or left pending for the caller's dispatch loop to
// notice) instead of completing normally.
func (vm *VM) callValue(callee object.Value, argc int) bool {
	base := vm.sp - argc - 1
	if !callee.IsObject() {
		return vm.raiseNew("TypeException", fmt.Sprintf("%s is not callable", callee.String()))
	}
	switch o := callee.AsObject().(type) {
	case *object.Closure:
		return vm.callClosure(o, base, argc, false)
	case *object.Native:
		return vm.callNative(o, base, argc)
	case *object.BoundMethod:
		vm.stack[base] = o.Receiver
		switch m := o.Method.AsObject().(type) {
		case *object.Closure:
			return vm.callClosure(m, base, argc, false)
		case *object.Native:
			return vm.callNativeMethod(m, base, argc)
		default:
			return vm.callValue(o.Method, argc)
		}
	case *object.Class:
		return vm.callClass(o, base, argc)
	default:
		return vm.raiseNew("TypeException", fmt.Sprintf("%s is not callable", callee.String()))
	}
}

func (vm *VM) callClass(cls *object.Class, base, argc int) bool {
	inst := vm.newInstance(cls)
	vm.stack[base] = object.FromObj(inst)
	ctor, ok := cls.Methods.Get(object.FromObj(vm.internString("construct")))
	if !ok {
		if argc != 0 {
			return vm.raiseNew("TypeException", fmt.Sprintf("%s takes no constructor arguments", cls.Name.String()))
		}
		vm.sp = base + 1
		return true
	}
	switch o := ctor.AsObject().(type) {
	case *object.Closure:
		return vm.callClosure(o, base, argc, true)
	case *object.Native:
		// callNativeMethod, not callNative: a native construct needs the
		// instance itself (to set fields on it), which only reaches Fn as
		// args[0] through the receiver-inclusive convention.
		ok := vm.callNativeMethod(o, base, argc)
		vm.stack[vm.sp-1] = object.FromObj(inst) // native constructors ignore their return value too
		return ok
	default:
		return vm.raiseNew("TypeException", "construct must be a method")
	}
}

// callClosure pushes a new frame for cl, having already validated/adjusted
// the argument list sitting above base on the stack. A generator function
// (one whose body contains a yield) is the one exception: calling it builds
// a Generator value instead of running the body, which only happens lazily
// as something iterates it (see generator.go, bootstrapGeneratorClass).
func (vm *VM) callClosure(cl *object.Closure, base, argc int, isConstructor bool) bool {
	fn := cl.Fn.FnRef.(*bytecode.Function)
	newArgc, ok := vm.adjustArgs(fn.Arity, fn.DefaultCount, fn.Variadic, fn.DefaultConsts, fn.Constants, base, argc)
	if !ok {
		return false
	}
	if fn.IsGenerator {
		args := append([]object.Value(nil), vm.stack[base+1:base+1+newArgc]...)
		gen := &object.Generator{Closure: cl, Args: args}
		vm.alloc(gen, 64+newArgc*16)
		vm.sp = base
		vm.push(object.FromObj(gen))
		return true
	}
	if len(vm.frames) >= RecursionLimit {
		return vm.raiseNew("StackOverflowException", "maximum call depth exceeded")
	}
	vm.frames = append(vm.frames, &Frame{Closure: cl, Base: base, IsConstructor: isConstructor})
	return true
}

// callNative invokes a Go-implemented method inline: a lightweight frame is
// pushed only so stack traces can name it, then popped as soon as Fn
// returns. A native that calls back into ember code (print/str via
// __str__, a generator step) does so through invoke's nested runLoop.
func (vm *VM) callNative(nat *object.Native, base, argc int) bool {
	newArgc, ok := vm.adjustArgsNative(nat, base, argc)
	if !ok {
		return false
	}
	vm.frames = append(vm.frames, &Frame{NativeName: nat.Name, Base: base})
	args := append([]object.Value(nil), vm.stack[base+1:base+1+newArgc]...)
	result, success := nat.Fn(args)
	vm.frames = vm.frames[:len(vm.frames)-1]
	if !success {
		return vm.raise(result)
	}
	vm.sp = base
	vm.push(result)
	return true
}

// callNativeMethod invokes nat with the receiver already sitting at base
// (OpInvoke, OpSuperCall, and callValue's BoundMethod case all arrange the
// stack this way): unlike callNative, the argument slice handed to Fn
// includes the receiver as args[0], since a native method written in Go
// needs it the same way a closure method reads GetLocal(0).
func (vm *VM) callNativeMethod(nat *object.Native, base, argc int) bool {
	newArgc, ok := vm.adjustArgsNative(nat, base, argc)
	if !ok {
		return false
	}
	vm.frames = append(vm.frames, &Frame{NativeName: nat.Name, Base: base})
	args := append([]object.Value(nil), vm.stack[base:base+1+newArgc]...)
	result, success := nat.Fn(args)
	vm.frames = vm.frames[:len(vm.frames)-1]
	if !success {
		return vm.raise(result)
	}
	vm.sp = base
	vm.push(result)
	return true
}

// adjustArgs validates argc against (arity, defaultCount, variadic), fills
// trailing default-valued parameters from defaultConsts/constants, and
// packs any arguments beyond the fixed arity into a trailing Tuple local
// when variadic (spec §4.5 call protocol: "least"/"most"/variadic packing).
func (vm *VM) adjustArgs(arity, defaultCount int, variadic bool, defaultConsts []int, constants []interface{}, base, argc int) (int, bool) {
	least := arity - defaultCount
	if variadic {
		if argc < least {
			return 0, vm.arityError(least, arity, true, argc)
		}
		if argc < arity {
			vm.fillDefaults(defaultConsts, constants, least, arity, base, argc)
			argc = arity
		}
		extra := vm.stack[base+1+arity : base+1+argc]
		tuple := &object.Tuple{Elements: append([]object.Value(nil), extra...)}
		vm.alloc(tuple, 24+len(tuple.Elements)*16)
		vm.sp = base + 1 + arity
		vm.push(object.FromObj(tuple))
		return arity + 1, true
	}
	if argc > arity {
		return 0, vm.arityError(least, arity, false, argc)
	}
	if argc < least {
		return 0, vm.arityError(least, arity, false, argc)
	}
	if argc < arity {
		vm.fillDefaults(defaultConsts, constants, least, arity, base, argc)
	}
	vm.sp = base + 1 + arity
	return arity, true
}

func (vm *VM) fillDefaults(defaultConsts []int, constants []interface{}, least, arity, base, argc int) {
	for i := argc; i < arity; i++ {
		constIdx := defaultConsts[i-least]
		vm.push(vm.constantValue(constants[constIdx]))
	}
}

// constantValue converts a raw bytecode constant-pool entry into a runtime
// Value, interning string literals on demand (spec §4.4 default-parameter
// constants; §3 string interning).
func (vm *VM) constantValue(c interface{}) object.Value {
	switch t := c.(type) {
	case float64:
		return object.Number(t)
	case string:
		return object.FromObj(vm.internString(t))
	case bool:
		return object.Bool(t)
	case nil:
		return object.Null
	default:
		return object.Null
	}
}

// adjustArgsNative applies the same least/most/variadic check as
// adjustArgs, but natives have no default-constant pool: a native
// declaring DefaultCount > 0 is trusted to handle missing trailing
// arguments itself by checking len(args) (spec §6 native contract).
func (vm *VM) adjustArgsNative(nat *object.Native, base, argc int) (int, bool) {
	least := nat.Arity - nat.DefaultCount
	if nat.Variadic {
		if argc < least {
			return 0, vm.arityError(least, nat.Arity, true, argc)
		}
		return argc, true
	}
	if argc < least || argc > nat.Arity {
		return 0, vm.arityError(least, nat.Arity, false, argc)
	}
	return argc, true
}

func (vm *VM) arityError(least, most int, variadic bool, got int) bool {
	var want string
	switch {
	case variadic:
		want = fmt.Sprintf("at least %d", least)
	case least == most:
		want = fmt.Sprintf("exactly %d", most)
	default:
		want = fmt.Sprintf("between %d and %d", least, most)
	}
	return vm.raiseNew("TypeException", fmt.Sprintf("expected %s arguments but got %d", want, got))
}

// invoke calls callee with args synchronously, running a nested dispatch
// loop until the frame(s) it pushes have all returned (spec §4.5's
// operator/attribute dunder dispatch happens *during* another opcode's
// execution, not as an ordinary CALL/INVOKE the compiler emitted). Returns
// (result, true) on success, or (excValue, false) if callee raised and
// nothing within the nested call caught it — the caller is responsible for
// continuing to propagate that exception outward.
func (vm *VM) invoke(callee object.Value, args []object.Value) (object.Value, bool) {
	vm.push(callee)
	for _, a := range args {
		vm.push(a)
	}
	depth := len(vm.frames)
	if !vm.callValue(callee, len(args)) {
		return vm.takeUncaught(), false
	}
	if len(vm.frames) == depth {
		// a native executed inline; result already sits on top of stack
		return vm.pop(), true
	}
	if !vm.runLoop(depth) {
		return vm.takeUncaught(), false
	}
	return vm.pop(), true
}
