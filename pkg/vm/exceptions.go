package vm

import (
	"github.com/emberlang/ember/pkg/bytecode"
	"github.com/emberlang/ember/pkg/object"
)

// isExceptionInstance reports whether v is an Instance whose class chain
// reaches the bootstrapped Exception class (spec §4.5 RAISE: "the raised
// value must be an Exception-derived instance").
func (vm *VM) isExceptionInstance(v object.Value) bool {
	inst, ok := v.AsInstance()
	if !ok {
		return false
	}
	for c := inst.Class; c != nil; c = c.Super {
		if c == vm.exceptions["Exception"] {
			return true
		}
	}
	return false
}

// makeException builds a fresh instance of cls with its "message" field
// set, used both for host-raised internal errors (arity mismatches, missing
// fields, division by zero) and as the building block raiseNew calls.
func (vm *VM) makeException(cls *object.Class, message string) object.Value {
	inst := vm.newInstance(cls)
	inst.Fields.Set(object.FromObj(vm.internString("message")), object.FromObj(vm.newString(message)))
	return object.FromObj(inst)
}

// raiseNew constructs and raises a builtin exception by class name in one
// step. Like raise, it returns whether a handler was found at or above the
// VM's current floor (see runLoop); callers propagate a false return by
// stopping their own dispatch immediately.
func (vm *VM) raiseNew(className, message string) bool {
	cls, ok := vm.exceptions[className]
	if !ok {
		cls = vm.exceptions["Exception"]
	}
	return vm.raise(vm.makeException(cls, message))
}

// raise begins propagating excVal (spec §4.5): non-Exception values are
// rejected in favor of a TypeException, a stack-trace snapshot is attached
// once, and the handler search runs bounded to vm.floor — the depth of the
// innermost runLoop currently executing, so a raise from deep inside a
// nested vm.invoke() call (an operator overload, __iter__, close(), ...)
// never reaches into frames that call belongs to the *caller* of, even
// though they share the same underlying frame slice. If nothing within
// that bound catches it, the caller (an opcode handler, or invoke() itself)
// is expected to re-raise the same value once it is back in its own,
// shallower floor — see invoke()'s doc comment for why that second pass is
// exactly as far as it needs to go, never further.
func (vm *VM) raise(excVal object.Value) bool {
	if !vm.isExceptionInstance(excVal) {
		excVal = vm.makeException(vm.exceptions["TypeException"], "can only raise Exception instances")
	}
	vm.attachStackTrace(excVal)
	return vm.propagate(excVal, vm.floor)
}

// attachStackTrace snapshots the currently active frames into a StackTrace
// object and stores it on the exception instance's "stackTrace" field, the
// first time (and only the first time) the exception is raised — a
// re-raise (from an ensure clause, or from invoke()'s caller continuing a
// locally-unresolved propagation) keeps the original trace rather than
// growing or replacing it.
func (vm *VM) attachStackTrace(excVal object.Value) {
	inst, ok := excVal.AsInstance()
	if !ok {
		return
	}
	key := object.FromObj(vm.internString("stackTrace"))
	if _, already := inst.Fields.Get(key); already {
		return
	}
	frames := make([]object.FrameRecord, 0, len(vm.frames))
	for i := len(vm.frames) - 1; i >= 0; i-- {
		f := vm.frames[i]
		if f.Closure != nil {
			frames = append(frames, object.FrameRecord{
				Module:   f.Closure.Fn.ModuleName,
				Function: f.Closure.Fn.Name,
				Line:     vm.currentLine(f),
			})
		} else {
			frames = append(frames, object.FrameRecord{Module: "<native>", Function: f.NativeName})
		}
	}
	st := &object.StackTrace{Head: object.Head{Class: vm.builtins.StackTraceClass}, Frames: frames}
	vm.alloc(st, 24+len(frames)*24)
	inst.Fields.Set(key, object.FromObj(st))
}

func (vm *VM) currentLine(f *Frame) int {
	fn := f.fn().FnRef.(*bytecode.Function)
	ip := f.IP
	if ip >= len(fn.Code) {
		ip = len(fn.Code) - 1
	}
	if ip < 0 {
		return 0
	}
	return fn.Code[ip].Line
}

// propagate walks the frame stack from the top looking for a handler at or
// above stopDepth (spec §4.5's unwind procedure): for each frame, drain its
// handler stack; an except handler resumes dispatch at its Addr with the
// exception value on top of stack; an ensure handler resumes with a
// (cause, value) pair so OP_END_TRY knows to keep propagating once the
// ensure body finishes. A frame with no handlers left is popped (closing
// its upvalues) and the search continues in its caller. Returns true if a
// handler took over; false if the search reached stopDepth with nothing
// found, in which case frames have been popped down to exactly stopDepth
// and the result is stashed via vm.uncaught/vm.hasUncaught for whichever
// caller (RunFunction, or invoke()) is waiting to consume it.
func (vm *VM) propagate(excVal object.Value, stopDepth int) bool {
	for len(vm.frames) > stopDepth {
		f := vm.currentFrame()
		for len(f.Handlers) > 0 {
			h := f.Handlers[len(f.Handlers)-1]
			f.Handlers = f.Handlers[:len(f.Handlers)-1]
			vm.closeUpvaluesAbove(h.SavedSP)
			vm.sp = h.SavedSP
			switch h.Kind {
			case HandlerExcept:
				vm.push(excVal)
				f.IP = h.Addr
				return true
			case HandlerEnsure:
				vm.push(object.Number(causeException))
				vm.push(excVal)
				f.IP = h.Addr
				return true
			}
		}
		vm.closeUpvaluesAbove(f.Base)
		vm.sp = f.Base
		vm.frames = vm.frames[:len(vm.frames)-1]
	}
	vm.uncaught = excVal
	vm.hasUncaught = true
	return false
}

// takeUncaught drains the pending-exception slot propagate() fills when it
// exhausts a bounded search, handing the value to whichever caller (an
// opcode handler via invoke(), or RunFunction at the true outermost floor)
// is responsible for what happens next.
func (vm *VM) takeUncaught() object.Value {
	if vm.hasUncaught {
		exc := vm.uncaught
		vm.hasUncaught = false
		vm.uncaught = object.Null
		return exc
	}
	return object.Null
}

// cause markers pushed ahead of (cause, value) onto the stack at an ensure
// handler's resume address; OP_END_TRY switches on these (spec §4.4's
// compileTry doc comment: "unwind()/doReturn() push a numeric cause
// marker").
const (
	causeNone      = 0
	causeException = 1
	causeReturn    = 2
)

// doReturn implements RETURN's interaction with enclosing ensure blocks
// (spec §4.5): a return crossing an active ensure must run that ensure
// body first, resuming it with cause=RETURN so OP_END_TRY continues the
// return afterward instead of falling through. HandlerExcept entries
// crossed by a return are simply discarded (no except dispatch on return).
func (vm *VM) doReturn(rv object.Value) {
	f := vm.currentFrame()
	for len(f.Handlers) > 0 {
		h := f.Handlers[len(f.Handlers)-1]
		f.Handlers = f.Handlers[:len(f.Handlers)-1]
		if h.Kind == HandlerEnsure {
			vm.closeUpvaluesAbove(h.SavedSP)
			vm.sp = h.SavedSP
			vm.push(object.Number(causeReturn))
			vm.push(rv)
			f.IP = h.Addr
			return
		}
	}
	vm.popFrame(rv)
}

// popFrame closes the returning frame's upvalues, discards its locals, and
// leaves rv on top of the caller's stack — except for a constructor frame,
// whose own return value is always discarded in favor of the instance that
// sits at its base slot (spec §4.5 construct-call convention).
func (vm *VM) popFrame(rv object.Value) {
	f := vm.currentFrame()
	if f.IsConstructor {
		rv = vm.stack[f.Base]
	}
	vm.closeUpvaluesAbove(f.Base)
	vm.sp = f.Base
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.push(rv)
}
