package vm

import (
	"fmt"

	"github.com/emberlang/ember/pkg/bytecode"
	"github.com/emberlang/ember/pkg/module"
	"github.com/emberlang/ember/pkg/object"
)

// runLoop is the VM's main fetch-decode-execute cycle (spec §4.5): it runs
// until the frame stack has unwound back to exactly stopDepth, whether by
// normal returns or by an uncaught-within-this-span exception. Every opcode
// handler that can raise returns immediately via `return false` the moment
// propagation is not locally resolved, letting the Go call stack itself
// thread the "give up, something above me has to keep looking" signal back
// to whichever caller (RunFunction, or a nested invoke()) is waiting.
//
// floor save/restore is what makes nested invoke() calls (operator
// overloads, __iter__/__next__, close()) search only their own span: raise()
// bounds its handler search to vm.floor, so a deeper runLoop call must never
// leave vm.floor pointing at its own stopDepth once it returns control to a
// shallower caller (see exceptions.go's raise doc comment).
func (vm *VM) runLoop(stopDepth int) bool {
	savedFloor := vm.floor
	vm.floor = stopDepth
	defer func() { vm.floor = savedFloor }()

	for len(vm.frames) > stopDepth {
		f := vm.currentFrame()
		fn := f.fn().FnRef.(*bytecode.Function)
		if f.IP >= len(fn.Code) {
			vm.doReturn(object.Null)
			continue
		}
		inst := fn.Code[f.IP]
		f.IP++

		switch inst.Op {
		case bytecode.OpConst:
			vm.push(vm.constantValue(fn.Constants[inst.Operand]))
		case bytecode.OpNull:
			vm.push(object.Null)
		case bytecode.OpTrue:
			vm.push(object.True)
		case bytecode.OpFalse:
			vm.push(object.False)
		case bytecode.OpPop:
			vm.pop()
		case bytecode.OpDup:
			vm.push(vm.peek(0))
		case bytecode.OpDup2:
			a, b := vm.peek(1), vm.peek(0)
			vm.push(a)
			vm.push(b)

		case bytecode.OpGetLocal:
			vm.push(vm.stack[f.Base+inst.Operand])
		case bytecode.OpSetLocal:
			vm.stack[f.Base+inst.Operand] = vm.peek(0)
		case bytecode.OpGetUpvalue:
			vm.push(*f.Closure.Upvalues[inst.Operand].Location)
		case bytecode.OpSetUpvalue:
			*f.Closure.Upvalues[inst.Operand].Location = vm.peek(0)
		case bytecode.OpCloseUpvalue:
			vm.closeUpvaluesAbove(vm.sp - 1)
			vm.pop()

		case bytecode.OpGetGlobal:
			name := fn.Constants[inst.Operand].(string)
			v, ok := vm.lookupGlobal(f, name)
			if !ok {
				if !vm.raiseNew("NameException", fmt.Sprintf("undefined name %q", name)) {
					return false
				}
				continue
			}
			vm.push(v)
		case bytecode.OpSetGlobal:
			name := fn.Constants[inst.Operand].(string)
			vm.frameModule(f).Globals.Set(object.FromObj(vm.internString(name)), vm.peek(0))
		case bytecode.OpDefineGlobal:
			name := fn.Constants[inst.Operand].(string)
			vm.frameModule(f).Globals.Set(object.FromObj(vm.internString(name)), vm.pop())

		case bytecode.OpAdd:
			if !vm.execArith(bytecode.OpAdd) {
				return false
			}
		case bytecode.OpSub:
			if !vm.execArith(bytecode.OpSub) {
				return false
			}
		case bytecode.OpMul:
			if !vm.execArith(bytecode.OpMul) {
				return false
			}
		case bytecode.OpDiv:
			if !vm.execArith(bytecode.OpDiv) {
				return false
			}
		case bytecode.OpMod:
			if !vm.execArith(bytecode.OpMod) {
				return false
			}
		case bytecode.OpPow:
			if !vm.execArith(bytecode.OpPow) {
				return false
			}
		case bytecode.OpNeg:
			v := vm.pop()
			if v.IsNumber() {
				vm.push(object.Number(-v.AsNumber()))
				continue
			}
			if result, found, ok := vm.tryDunder(v, "__neg__"); found {
				if !ok {
					if !vm.raise(result) {
						return false
					}
					continue
				}
				vm.push(result)
				continue
			}
			if !vm.raiseNew("TypeException", fmt.Sprintf("cannot negate %s", v.String())) {
				return false
			}
		case bytecode.OpNot:
			vm.push(object.Bool(!vm.pop().Truthy()))
		case bytecode.OpLen:
			v := vm.pop()
			if !vm.opLen(v) {
				return false
			}
		case bytecode.OpStr:
			v := vm.pop()
			if !vm.opStr(v) {
				return false
			}
		case bytecode.OpEq:
			b, a := vm.pop(), vm.pop()
			if !vm.opEq(a, b) {
				return false
			}
		case bytecode.OpLt:
			b, a := vm.pop(), vm.pop()
			if !vm.opCompare("__lt__", a, b, func(x, y float64) bool { return x < y }) {
				return false
			}
		case bytecode.OpLe:
			b, a := vm.pop(), vm.pop()
			if !vm.opCompare("__le__", a, b, func(x, y float64) bool { return x <= y }) {
				return false
			}
		case bytecode.OpGt:
			b, a := vm.pop(), vm.pop()
			if !vm.opCompare("__gt__", a, b, func(x, y float64) bool { return x > y }) {
				return false
			}
		case bytecode.OpGe:
			b, a := vm.pop(), vm.pop()
			if !vm.opCompare("__ge__", a, b, func(x, y float64) bool { return x >= y }) {
				return false
			}
		case bytecode.OpIs:
			b, a := vm.pop(), vm.pop()
			cls, ok := b.AsClass()
			if !ok {
				if !vm.raiseNew("TypeException", "right-hand side of 'is' must be a class") {
					return false
				}
				continue
			}
			vm.push(object.Bool(vm.isInstanceOf(a, cls)))

		case bytecode.OpGetField:
			name := fn.Constants[inst.Operand].(string)
			recv := vm.pop()
			if !vm.getAttr(recv, name) {
				return false
			}
		case bytecode.OpSetField:
			name := fn.Constants[inst.Operand].(string)
			val := vm.pop()
			recv := vm.pop()
			if !vm.setAttr(recv, name, val) {
				return false
			}
		case bytecode.OpSubscrGet:
			index := vm.pop()
			recv := vm.pop()
			if !vm.subscriptGet(recv, index) {
				return false
			}
		case bytecode.OpSubscrSet:
			val := vm.pop()
			index := vm.pop()
			recv := vm.pop()
			if !vm.subscriptSet(recv, index, val) {
				return false
			}

		case bytecode.OpNewList:
			n := inst.Operand
			elems := append([]object.Value(nil), vm.stack[vm.sp-n:vm.sp]...)
			vm.sp -= n
			list := &object.List{Elements: elems}
			vm.alloc(list, 24+len(elems)*16)
			vm.push(object.FromObj(list))
		case bytecode.OpAppendList:
			val := vm.pop()
			list, ok := vm.peek(0).AsList()
			if !ok {
				if !vm.raiseNew("TypeException", "APPEND_LIST target is not a list") {
					return false
				}
				continue
			}
			list.Append(val)
		case bytecode.OpNewTuple:
			n := inst.Operand
			elems := append([]object.Value(nil), vm.stack[vm.sp-n:vm.sp]...)
			vm.sp -= n
			tuple := &object.Tuple{Elements: elems}
			vm.alloc(tuple, 24+len(elems)*16)
			vm.push(object.FromObj(tuple))
		case bytecode.OpNewTable:
			n := inst.Operand
			tbl := object.NewTable()
			vm.alloc(tbl, 48)
			base := vm.sp - n*2
			for i := 0; i < n; i++ {
				k := vm.stack[base+i*2]
				v := vm.stack[base+i*2+1]
				tbl.Set(k, v)
			}
			vm.sp = base
			vm.push(object.FromObj(tbl))

		case bytecode.OpJump:
			f.IP = inst.Operand
		case bytecode.OpJumpIfTrue:
			if vm.pop().Truthy() {
				f.IP = inst.Operand
			}
		case bytecode.OpJumpIfFalse:
			if !vm.pop().Truthy() {
				f.IP = inst.Operand
			}
		case bytecode.OpSignalBreak, bytecode.OpSignalContinue:
			// patched by the compiler into a plain jump target by the time
			// this code runs (see bytecode.OpSignalBreak's doc comment)
			f.IP = inst.Operand

		case bytecode.OpForIter:
			exprSlot, iterSlot := inst.Operand, inst.Operand2
			if !vm.forIterStep(f, exprSlot, iterSlot) {
				return false
			}
		case bytecode.OpForNext:
			exprSlot, iterSlot := inst.Operand, inst.Operand2
			if !vm.forNextStep(f, exprSlot, iterSlot) {
				return false
			}

		case bytecode.OpUnpack:
			n := inst.Operand
			v := vm.pop()
			elems, ok := vm.sequenceElements(v)
			if !ok {
				if !vm.raiseNew("TypeException", fmt.Sprintf("cannot unpack %s", v.String())) {
					return false
				}
				continue
			}
			if len(elems) != n {
				if !vm.raiseNew("TypeException", fmt.Sprintf("cannot unpack: expected %d values, got %d", n, len(elems))) {
					return false
				}
				continue
			}
			for _, e := range elems {
				vm.push(e)
			}

		case bytecode.OpCall:
			argc := inst.Operand
			callee := vm.peek(argc)
			if !vm.callValue(callee, argc) {
				return false
			}
		case bytecode.OpInvoke:
			selIdx := inst.Operand >> bytecode.SelectorIndexShift
			argc := inst.Operand & bytecode.ArgCountMask
			name := fn.Constants[selIdx].(string)
			recv := vm.peek(argc)
			cls := recv.ClassOf(vm.builtins)
			if !vm.invokeMethod(cls, name, argc) {
				return false
			}
		case bytecode.OpSuperCall:
			selIdx := inst.Operand >> bytecode.SelectorIndexShift
			argc := inst.Operand & bytecode.ArgCountMask
			name := fn.Constants[selIdx].(string)
			super := f.Closure.Fn.Super
			if super == nil {
				if !vm.raiseNew("MethodException", "super call outside a subclass method") {
					return false
				}
				continue
			}
			if !vm.invokeMethod(super, name, argc) {
				return false
			}
		case bytecode.OpSuperBind:
			// reserved: no compiler path currently emits this (see
			// compileSuperCall's doc comment)
			if !vm.raiseNew("MethodException", "unbound super attribute access is not supported") {
				return false
			}

		case bytecode.OpClosure:
			fnConst := fn.Constants[inst.Operand].(*bytecode.Function)
			cl := vm.makeClosure(fnConst, f)
			vm.push(object.FromObj(cl))

		case bytecode.OpNewClass:
			name := fn.Constants[inst.Operand].(string)
			vm.push(object.FromObj(vm.subclass(vm.objectClass, name)))
		case bytecode.OpNewSubclass:
			name := fn.Constants[inst.Operand].(string)
			superVal := vm.pop()
			super, ok := superVal.AsClass()
			if !ok {
				if !vm.raiseNew("TypeException", "superclass expression is not a class") {
					return false
				}
				continue
			}
			vm.push(object.FromObj(vm.subclass(super, name)))
		case bytecode.OpDefMethod:
			name := fn.Constants[inst.Operand].(string)
			closureVal := vm.pop()
			cls, ok := vm.peek(0).AsClass()
			if !ok {
				if !vm.raiseNew("TypeException", "DEF_METHOD target is not a class") {
					return false
				}
				continue
			}
			if cl, ok := closureVal.AsObject().(*object.Closure); ok {
				cl.Fn.Super = cls.Super
			}
			cls.Methods.Set(object.FromObj(vm.internString(name)), closureVal)
		case bytecode.OpNativeMethod:
			name := fn.Constants[inst.Operand].(string)
			nativeName := fn.Constants[inst.Operand2].(string)
			cls, ok := vm.peek(0).AsClass()
			if !ok {
				if !vm.raiseNew("TypeException", "NAT_METHOD target is not a class") {
					return false
				}
				continue
			}
			nat, ok := vm.natives[nativeName]
			if !ok {
				if !vm.raiseNew("NameException", fmt.Sprintf("no native registered as %q", nativeName)) {
					return false
				}
				continue
			}
			cls.Methods.Set(object.FromObj(vm.internString(name)), object.FromObj(nat))
		case bytecode.OpNative:
			nativeName := fn.Constants[inst.Operand2].(string)
			nat, ok := vm.natives[nativeName]
			if !ok {
				if !vm.raiseNew("NameException", fmt.Sprintf("no native registered as %q", nativeName)) {
					return false
				}
				continue
			}
			vm.push(object.FromObj(nat))

		case bytecode.OpImport:
			name := fn.Constants[inst.Operand].(string)
			if !vm.doImport(name) {
				return false
			}
			vm.bindImport(name, f)
		case bytecode.OpImportAs:
			name := fn.Constants[inst.Operand].(string)
			asName := fn.Constants[inst.Operand2].(string)
			if !vm.doImport(name) {
				return false
			}
			mod := vm.moduleFor(name)
			vm.frameModule(f).Globals.Set(object.FromObj(vm.internString(asName)), object.FromObj(mod))
		case bytecode.OpImportFrom:
			name := fn.Constants[inst.Operand].(string)
			if !vm.doImport(name) {
				return false
			}
		case bytecode.OpImportName:
			name := fn.Constants[inst.Operand].(string)
			memberName := fn.Constants[inst.Operand2].(string)
			mod := vm.moduleFor(name)
			key := object.FromObj(vm.internString(memberName))
			v, ok := mod.Globals.Get(key)
			if !ok {
				if !vm.raiseNew("ImportException", fmt.Sprintf("module %s has no member %q", name, memberName)) {
					return false
				}
				continue
			}
			vm.frameModule(f).Globals.Set(key, v)

		case bytecode.OpSetupExcept:
			f.Handlers = append(f.Handlers, Handler{Kind: HandlerExcept, Addr: inst.Operand, SavedSP: vm.sp})
		case bytecode.OpSetupEnsure:
			f.Handlers = append(f.Handlers, Handler{Kind: HandlerEnsure, Addr: inst.Operand, SavedSP: vm.sp})
		case bytecode.OpPopHandler:
			if len(f.Handlers) > 0 {
				f.Handlers = f.Handlers[:len(f.Handlers)-1]
			}
		case bytecode.OpEndTry:
			value := vm.pop()
			cause := vm.pop()
			switch int(cause.AsNumber()) {
			case causeNone:
				// fall through to whatever follows the try statement
			case causeException:
				if !vm.raise(value) {
					return false
				}
			case causeReturn:
				vm.doReturn(value)
			}
		case bytecode.OpRaise:
			exc := vm.pop()
			if !vm.raise(exc) {
				return false
			}

		case bytecode.OpReturn:
			rv := vm.pop()
			vm.doReturn(rv)

		case bytecode.OpYield:
			val := vm.pop()
			if vm.currentGenerator == nil {
				// Only reachable if IsGenerator's compiler-side detection
				// ever disagrees with where a yield actually landed — every
				// ordinary call path routes a generator function through
				// callClosure's Generator branch instead of ever pushing a
				// frame that could reach this opcode outside one.
				if !vm.raiseNew("TypeException", "yield is not supported outside a generator context") {
					return false
				}
			} else {
				vm.suspendForYield(val)
				vm.push(object.Null)
			}

		default:
			if !vm.raiseNew("TypeException", fmt.Sprintf("unimplemented opcode %s", inst.Op)) {
				return false
			}
		}
	}
	return true
}

// execArith pops two operands, applies op's numeric/dunder-overload
// semantics, and pushes the result. Factored out of the switch since
// OpAdd..OpPow share the exact same shape.
func (vm *VM) execArith(op bytecode.Opcode) bool {
	b, a := vm.pop(), vm.pop()
	switch op {
	case bytecode.OpAdd:
		if as, aok := a.AsString(); aok {
			if bs, bok := b.AsString(); bok {
				vm.push(object.FromObj(vm.newString(as.String() + bs.String())))
				return true
			}
		}
		return vm.binaryArith("__add__", "__radd__", a, b, func(x, y float64) (float64, bool, string) { return x + y, true, "" })
	case bytecode.OpSub:
		return vm.binaryArith("__sub__", "__rsub__", a, b, func(x, y float64) (float64, bool, string) { return x - y, true, "" })
	case bytecode.OpMul:
		return vm.binaryArith("__mul__", "__rmul__", a, b, func(x, y float64) (float64, bool, string) { return x * y, true, "" })
	case bytecode.OpDiv:
		return vm.binaryArith("__div__", "__rdiv__", a, b, func(x, y float64) (float64, bool, string) {
			if y == 0 {
				return 0, false, "division by zero"
			}
			return x / y, true, ""
		})
	case bytecode.OpMod:
		return vm.binaryArith("__mod__", "__rmod__", a, b, func(x, y float64) (float64, bool, string) {
			if y == 0 {
				return 0, false, "modulo by zero"
			}
			r := x - y*float64(int64(x/y))
			return r, true, ""
		})
	case bytecode.OpPow:
		return vm.binaryArith("__pow__", "__rpow__", a, b, func(x, y float64) (float64, bool, string) { return powFloat(x, y), true, "" })
	}
	return true
}

func powFloat(x, y float64) float64 {
	result := 1.0
	if y == 0 {
		return 1
	}
	neg := y < 0
	n := y
	if neg {
		n = -n
	}
	for i := 0; i < int(n); i++ {
		result *= x
	}
	if neg {
		return 1 / result
	}
	return result
}

// isInstanceOf walks v's class chain looking for cls (spec §4.5's `is`
// operator and the compiler's except-clause dispatch).
func (vm *VM) isInstanceOf(v object.Value, cls *object.Class) bool {
	for c := v.ClassOf(vm.builtins); c != nil; c = c.Super {
		if c == cls {
			return true
		}
	}
	return false
}

// sequenceElements extracts the Values UNPACK needs from a list or tuple.
func (vm *VM) sequenceElements(v object.Value) ([]object.Value, bool) {
	if l, ok := v.AsList(); ok {
		return l.Elements, true
	}
	if t, ok := v.AsTuple(); ok {
		return t.Elements, true
	}
	return nil, false
}

// lookupGlobal checks the current module's globals, then falls back to the
// bootstrap prelude (builtin/exception class names), matching a typical
// "globals shadow the prelude" resolution order.
func (vm *VM) lookupGlobal(f *Frame, name string) (object.Value, bool) {
	mod := vm.frameModule(f)
	if v, ok := mod.Globals.Get(object.FromObj(vm.internString(name))); ok {
		return v, true
	}
	if c, ok := vm.classes[name]; ok {
		return object.FromObj(c), true
	}
	if c, ok := vm.exceptions[name]; ok {
		return object.FromObj(c), true
	}
	return object.Null, false
}

// doImport resolves and, the first time only, compiles and runs name's
// module body (spec §4.4 import statement). Running the module reuses
// invoke()'s nested-dispatch machinery so its top-level code executes under
// its own floor exactly like any other call.
func (vm *VM) doImport(name string) bool {
	if mod, ok := vm.modules[name]; ok && mod.Native != nil {
		return true // pre-registered host module (module.BuiltinLoader-backed)
	}
	if vm.loadedModules[name] {
		return true
	}
	src, err := vm.registry.Resolve(name)
	if err != nil {
		if _, ok := err.(*module.ErrNotFound); ok {
			return vm.raiseNew("ImportException", fmt.Sprintf("module not found: %s", name))
		}
		return vm.raiseNew("ImportException", err.Error())
	}
	fn, cerrs, ok := compileSource(src.Code, name, src.Path, vm.onError)
	if !ok {
		msg := "compile error"
		if len(cerrs) > 0 {
			msg = cerrs[0]
		}
		return vm.raiseNew("ImportException", fmt.Sprintf("failed to compile module %s: %s", name, msg))
	}
	vm.loadedModules[name] = true
	vm.moduleFor(name)
	closure := vm.makeClosure(fn, nil)
	result, ok := vm.invoke(object.FromObj(closure), nil)
	if !ok {
		return vm.raise(result)
	}
	return true
}

// bindImport implements the binding side effect of a bare `import a.b.c`
// (spec §4.4: the compiler emits no follow-on opcode for this form, so the
// binding must happen here): the leaf module is linked under its last
// segment into each intermediate namespace module's globals, and the
// outermost segment alone is bound into the importing module's own globals,
// so `a.b.c.foo()` resolves as GET_GLOBAL "a" + two GET_FIELDs.
func (vm *VM) bindImport(name string, f *Frame) {
	parents := module.ParentBindings(name)
	leaf := vm.moduleFor(name)
	if len(parents) == 0 {
		vm.frameModule(f).Globals.Set(object.FromObj(vm.internString(name)), object.FromObj(leaf))
		return
	}
	for i := len(parents) - 1; i >= 0; i-- {
		parentName := parents[i]
		parentMod := vm.moduleFor(parentName)
		childFull := name
		if i+1 < len(parents) {
			childFull = parents[i+1]
		}
		childName := childFull[len(parentName)+1:]
		var childVal object.Value
		if childFull == name {
			childVal = object.FromObj(leaf)
		} else {
			childVal = object.FromObj(vm.moduleFor(childFull))
		}
		parentMod.Globals.Set(object.FromObj(vm.internString(childName)), childVal)
	}
	top := parents[0]
	vm.frameModule(f).Globals.Set(object.FromObj(vm.internString(top)), object.FromObj(vm.moduleFor(top)))
}
