package vm

import (
	"fmt"
	"strings"

	"github.com/emberlang/ember/pkg/object"
)

// bootstrap builds the fixed catalogue of builtin classes, the Exception
// hierarchy, and the native function table every VM starts with (spec §5).
// It runs once, from New, before any ember source has been compiled or run.
func (vm *VM) bootstrap() {
	vm.builtins = &object.Builtins{
		NullClass:       newBareClass(),
		BooleanClass:    newBareClass(),
		NumberClass:     newBareClass(),
		StringClass:     newBareClass(),
		ListClass:       newBareClass(),
		TupleClass:      newBareClass(),
		TableClass:      newBareClass(),
		FunctionClass:   newBareClass(),
		ModuleClass:     newBareClass(),
		StackTraceClass: newBareClass(),
		ClassClass:      newBareClass(),
		GeneratorClass:  newBareClass(),
	}

	// Now that StringClass exists, names can be interned normally.
	name := func(c *object.Class, n string) {
		c.Name = vm.internString(n)
		vm.classes[n] = c
	}
	name(vm.builtins.NullClass, "Null")
	name(vm.builtins.BooleanClass, "Boolean")
	name(vm.builtins.NumberClass, "Number")
	name(vm.builtins.StringClass, "String")
	name(vm.builtins.ListClass, "List")
	name(vm.builtins.TupleClass, "Tuple")
	name(vm.builtins.TableClass, "Table")
	name(vm.builtins.FunctionClass, "Function")
	name(vm.builtins.ModuleClass, "Module")
	name(vm.builtins.StackTraceClass, "StackTrace")
	name(vm.builtins.ClassClass, "Class")
	name(vm.builtins.GeneratorClass, "Generator")

	vm.objectClass = newBareClass()
	name(vm.objectClass, "Object")

	vm.bootstrapExceptions()
	vm.bootstrapIteratorClasses()
	vm.bootstrapGeneratorClass()
	vm.bootstrapNatives()
}

func newBareClass() *object.Class {
	return &object.Class{Methods: object.NewTable()}
}

// subclass mints a fresh class inheriting super's method table by the same
// shallow-copy-at-creation-time rule OpNewSubclass follows for user classes
// (object.Class's doc comment), so bootstrap classes and user classes are
// indistinguishable to the dispatch loop.
func (vm *VM) subclass(super *object.Class, n string) *object.Class {
	c := newBareClass()
	c.Head.Class = vm.builtins.ClassClass
	c.Super = super
	if super != nil {
		super.Methods.Each(func(k, v object.Value) { c.Methods.Set(k, v) })
	}
	c.Name = vm.internString(n)
	vm.alloc(c, 48)
	return c
}

// bootstrapExceptions builds the Exception class hierarchy of spec §5's
// exception catalogue, registering each under both vm.exceptions (raiseNew's
// lookup table) and vm.classes (so `except TypeException` resolves the name
// as an ordinary global).
func (vm *VM) bootstrapExceptions() {
	exc := vm.subclass(vm.objectClass, "Exception")
	exc.Methods.Set(object.FromObj(vm.internString("construct")), object.FromObj(&object.Native{
		Name: "Exception.construct", Arity: 1, DefaultCount: 1,
		Fn: func(args []object.Value) (object.Value, bool) {
			inst, _ := args[0].AsInstance()
			msg := object.FromObj(vm.newString(""))
			if len(args) > 1 {
				msg = args[1]
			}
			inst.Fields.Set(object.FromObj(vm.internString("message")), msg)
			return args[0], true
		},
	}))
	exc.Methods.Set(object.FromObj(vm.internString("__str__")), object.FromObj(&object.Native{
		Name: "Exception.__str__", Arity: 0,
		Fn: func(args []object.Value) (object.Value, bool) {
			inst, _ := args[0].AsInstance()
			if inst == nil {
				return object.FromObj(vm.newString("Exception")), true
			}
			msg, _ := inst.Fields.Get(object.FromObj(vm.internString("message")))
			className := "Exception"
			if inst.Class != nil && inst.Class.Name != nil {
				className = inst.Class.Name.String()
			}
			return object.FromObj(vm.newString(fmt.Sprintf("%s: %s", className, msg.String()))), true
		},
	}))
	register := func(n string) *object.Class {
		c := vm.subclass(exc, n)
		vm.exceptions[n] = c
		vm.classes[n] = c
		return c
	}
	vm.exceptions["Exception"] = exc
	vm.classes["Exception"] = exc

	register("TypeException")
	register("NameException")
	register("FieldException")
	register("MethodException")
	register("InvalidArgException")
	register("IndexOutOfBoundException")
	register("ImportException")
	register("StackOverflowException")
	register("SyntaxException")
	register("ProgramInterrupt")
}

// bootstrapIteratorClasses installs __iter__/__next__ on every builtin
// sequence/table type implementing spec §4.4's state-threaded protocol
// directly: __iter__(self, state) returns the next opaque state (here, a
// raw element/slot index) or null when exhausted; __next__(self, state)
// reads the element at that state. No separate iterator object exists —
// the index itself is the iteration state the VM keeps in the `.iter`
// hidden local between FOR_ITER and FOR_NEXT.
func (vm *VM) bootstrapIteratorClasses() {
	registerIndexIter := func(cls *object.Class, prefix string, length func(recv object.Value) int, at func(recv object.Value, idx int) object.Value) {
		cls.Methods.Set(object.FromObj(vm.internString("__iter__")), object.FromObj(&object.Native{
			Name: prefix + ".__iter__", Arity: 1, DefaultCount: 1,
			Fn: func(args []object.Value) (object.Value, bool) {
				idx := 0
				if len(args) > 1 && !args[1].IsNull() {
					idx = int(args[1].AsNumber()) + 1
				}
				if idx >= length(args[0]) {
					return object.Null, true
				}
				return object.Number(float64(idx)), true
			},
		}))
		cls.Methods.Set(object.FromObj(vm.internString("__next__")), object.FromObj(&object.Native{
			Name: prefix + ".__next__", Arity: 1,
			Fn: func(args []object.Value) (object.Value, bool) {
				return at(args[0], int(args[1].AsNumber())), true
			},
		}))
	}

	registerIndexIter(vm.builtins.ListClass, "List",
		func(recv object.Value) int { l, _ := recv.AsList(); return len(l.Elements) },
		func(recv object.Value, idx int) object.Value { l, _ := recv.AsList(); return l.Elements[idx] },
	)
	registerIndexIter(vm.builtins.TupleClass, "Tuple",
		func(recv object.Value) int { t, _ := recv.AsTuple(); return len(t.Elements) },
		func(recv object.Value, idx int) object.Value { t, _ := recv.AsTuple(); return t.Elements[idx] },
	)
	registerIndexIter(vm.builtins.StringClass, "String",
		func(recv object.Value) int { s, _ := recv.AsString(); return len(s.Bytes) },
		func(recv object.Value, idx int) object.Value {
			s, _ := recv.AsString()
			return object.FromObj(vm.newString(string(s.Bytes[idx])))
		},
	)

	// Table's state is a raw bucket index (object.Table.NextLive), so
	// deletions/insertions mid-walk are not safe, same caveat as Each.
	// __next__ yields a (key, value) Tuple, which OpUnpack destructures for
	// `for k, v in t`; `for pair in t` binds the whole tuple.
	vm.builtins.TableClass.Methods.Set(object.FromObj(vm.internString("__iter__")), object.FromObj(&object.Native{
		Name: "Table.__iter__", Arity: 1, DefaultCount: 1,
		Fn: func(args []object.Value) (object.Value, bool) {
			t, _ := args[0].AsTable()
			from := 0
			if len(args) > 1 && !args[1].IsNull() {
				from = int(args[1].AsNumber()) + 1
			}
			idx := t.NextLive(from)
			if idx < 0 {
				return object.Null, true
			}
			return object.Number(float64(idx)), true
		},
	}))
	vm.builtins.TableClass.Methods.Set(object.FromObj(vm.internString("__next__")), object.FromObj(&object.Native{
		Name: "Table.__next__", Arity: 1,
		Fn: func(args []object.Value) (object.Value, bool) {
			t, _ := args[0].AsTable()
			idx := int(args[1].AsNumber())
			pair := &object.Tuple{Elements: []object.Value{t.KeyAt(idx), t.ValueAt(idx)}}
			vm.alloc(pair, 24+len(pair.Elements)*16)
			return object.FromObj(pair), true
		},
	}))
}

// bootstrapGeneratorClass wires a Generator's __iter__/__next__ onto the
// same state-threaded protocol every other iterable uses, so `for v in gen`
// needs no special case in FOR_ITER/FOR_NEXT (see ops.go). The coroutine
// step itself — resuming the goroutine running the generator's body and
// waiting for it to yield or finish — lives in generator.go; __iter__
// drives that step and caches the result, __next__ just reads it back,
// since a state-threaded __next__ has no way to re-derive a value a
// channel already delivered once. A plain `next()` method is also exposed
// for direct, non-for-loop resumption, returning null once exhausted
// rather than raising (matching this protocol's own end-of-iteration
// convention instead of resurrecting a StopIteration-style signal).
func (vm *VM) bootstrapGeneratorClass() {
	step := func(recv object.Value) (object.Value, bool) {
		gen, ok := recv.AsObject().(*object.Generator)
		if !ok {
			return object.Null, true
		}
		value, done, errVal, hasErr := vm.generatorStep(gen)
		if hasErr {
			return errVal, false
		}
		if done {
			return object.Null, true
		}
		gen.LastValue = value
		return object.True, true
	}
	vm.builtins.GeneratorClass.Methods.Set(object.FromObj(vm.internString("__iter__")), object.FromObj(&object.Native{
		Name: "Generator.__iter__", Arity: 1, DefaultCount: 1,
		Fn: func(args []object.Value) (object.Value, bool) {
			return step(args[0])
		},
	}))
	vm.builtins.GeneratorClass.Methods.Set(object.FromObj(vm.internString("__next__")), object.FromObj(&object.Native{
		Name: "Generator.__next__", Arity: 1,
		Fn: func(args []object.Value) (object.Value, bool) {
			gen, _ := args[0].AsObject().(*object.Generator)
			return gen.LastValue, true
		},
	}))
	vm.builtins.GeneratorClass.Methods.Set(object.FromObj(vm.internString("next")), object.FromObj(&object.Native{
		Name: "Generator.next", Arity: 0,
		Fn: func(args []object.Value) (object.Value, bool) {
			v, ok := step(args[0])
			if !ok {
				return v, false
			}
			if v.IsNull() {
				return object.Null, true
			}
			gen, _ := args[0].AsObject().(*object.Generator)
			return gen.LastValue, true
		},
	}))
}

// bootstrapNatives registers the host-implemented functions of spec §5/§6:
// free functions seeded into every module's globals (print, str, type)
// plus the methods hung off List/Tuple/Table/String that the bytecode fast
// paths (opLen, subscriptGet/Set, opStr) don't already cover directly.
func (vm *VM) bootstrapNatives() {
	vm.registerFree("print", 0, true, func(args []object.Value) (object.Value, bool) {
		parts := make([]string, len(args))
		for i, a := range args {
			s, exc, ok := vm.displayString(a)
			if !ok {
				return exc, false
			}
			parts[i] = s
		}
		fmt.Println(strings.Join(parts, " "))
		return object.Null, true
	})
	vm.registerFree("str", 1, false, func(args []object.Value) (object.Value, bool) {
		s, exc, ok := vm.displayString(args[0])
		if !ok {
			return exc, false
		}
		return object.FromObj(vm.newString(s)), true
	})
	vm.registerFree("type", 1, false, func(args []object.Value) (object.Value, bool) {
		cls := args[0].ClassOf(vm.builtins)
		if cls == nil || cls.Name == nil {
			return object.FromObj(vm.newString("unknown")), true
		}
		return object.FromObj(cls), true
	})

	listAppend := &object.Native{
		Name: "List.push", Arity: 1,
		Fn: func(args []object.Value) (object.Value, bool) {
			l, _ := args[0].AsList()
			l.Append(args[1])
			return args[0], true
		},
	}
	vm.builtins.ListClass.Methods.Set(object.FromObj(vm.internString("push")), object.FromObj(listAppend))
	// "add" is the spelling spec.md's own example programs use for this
	// operation; kept as an alias of push rather than forcing every sample
	// program onto one name.
	vm.builtins.ListClass.Methods.Set(object.FromObj(vm.internString("add")), object.FromObj(listAppend))
	vm.builtins.ListClass.Methods.Set(object.FromObj(vm.internString("pop")), object.FromObj(&object.Native{
		Name: "List.pop", Arity: 0,
		Fn: func(args []object.Value) (object.Value, bool) {
			l, _ := args[0].AsList()
			if len(l.Elements) == 0 {
				return vm.makeException(vm.exceptions["IndexOutOfBoundException"], "pop from empty list"), false
			}
			last := l.Elements[len(l.Elements)-1]
			l.Elements = l.Elements[:len(l.Elements)-1]
			return last, true
		},
	}))
	vm.builtins.TableClass.Methods.Set(object.FromObj(vm.internString("has")), object.FromObj(&object.Native{
		Name: "Table.has", Arity: 1,
		Fn: func(args []object.Value) (object.Value, bool) {
			t, _ := args[0].AsTable()
			_, ok := t.Get(args[1])
			return object.Bool(ok), true
		},
	}))
	vm.builtins.TableClass.Methods.Set(object.FromObj(vm.internString("delete")), object.FromObj(&object.Native{
		Name: "Table.delete", Arity: 1,
		Fn: func(args []object.Value) (object.Value, bool) {
			t, _ := args[0].AsTable()
			return object.Bool(t.Delete(args[1])), true
		},
	}))
	vm.builtins.TableClass.Methods.Set(object.FromObj(vm.internString("keys")), object.FromObj(&object.Native{
		Name: "Table.keys", Arity: 0,
		Fn: func(args []object.Value) (object.Value, bool) {
			t, _ := args[0].AsTable()
			keys := &object.List{}
			t.Each(func(k, _ object.Value) { keys.Append(k) })
			vm.alloc(keys, 24+len(keys.Elements)*16)
			return object.FromObj(keys), true
		},
	}))
	vm.builtins.StringClass.Methods.Set(object.FromObj(vm.internString("upper")), object.FromObj(&object.Native{
		Name: "String.upper", Arity: 0,
		Fn: func(args []object.Value) (object.Value, bool) {
			s, _ := args[0].AsString()
			return object.FromObj(vm.newString(toUpper(s.String()))), true
		},
	}))
	vm.builtins.StringClass.Methods.Set(object.FromObj(vm.internString("lower")), object.FromObj(&object.Native{
		Name: "String.lower", Arity: 0,
		Fn: func(args []object.Value) (object.Value, bool) {
			s, _ := args[0].AsString()
			return object.FromObj(vm.newString(toLower(s.String()))), true
		},
	}))
}

// registerFree installs a free (non-method) native function under name in
// vm.natives; moduleFor copies the whole table into every module's globals
// as it creates them, so anything registered here before the first module
// exists is automatically part of the prelude.
func (vm *VM) registerFree(name string, arity int, variadic bool, fn object.NativeFn) {
	vm.natives[name] = &object.Native{Name: name, Arity: arity, Variadic: variadic, Fn: fn}
}

// displayString renders v the way `print`/`str` do: via __str__ if the
// value is an instance overriding it, else Value.String()'s default
// formatting. An unhandled exception from a user __str__ method is
// reported back to the caller rather than swallowed, so `print(badObj)`
// still raises instead of silently falling back to the default rendering.
func (vm *VM) displayString(v object.Value) (string, object.Value, bool) {
	if result, found, ok := vm.tryDunder(v, "__str__"); found {
		if !ok {
			return "", result, false
		}
		return result.String(), object.Null, true
	}
	return v.String(), object.Null, true
}

func toUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}
