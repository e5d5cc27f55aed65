// Package ember is the embedding surface for the ember scripting language:
// a thin wrapper over pkg/vm.VM exposing exactly the collaborator shapes
// spec.md §6 asks for (import callback, error callback, native registration)
// without pulling any of the interpreter's internals into the host's view.
package ember

import (
	"fmt"

	"github.com/emberlang/ember/pkg/bytecode"
	"github.com/emberlang/ember/pkg/module"
	"github.com/emberlang/ember/pkg/object"
	"github.com/emberlang/ember/pkg/vm"
)

// Config mirrors vm.Config; it exists as its own type so the embedding
// surface doesn't leak pkg/vm as part of its public API (spec.md §1: "the
// host-facing... embedding API" is a collaborator, not core).
type Config struct {
	// ImportPaths are searched, in order, for `<path>/a/b/c/__package__.ember`
	// and then `<path>/a/b/c.ember` when resolving `import a.b.c`.
	ImportPaths []string
	// Builtins supplies source for module names the host ships inline,
	// consulted after ImportPaths is exhausted (spec.md §6 "built-in name
	// table shipped with the runtime").
	Builtins module.BuiltinLoader
	// OnError receives every compiler diagnostic (syntax and compile
	// errors); it is the sole diagnostic channel spec.md §7 domain 1
	// describes as "reported via the error callback".
	OnError func(file string, line int, msg string)
	// HeapGrowRate scales the GC's next collection threshold relative to
	// the heap size survived at the previous collection; values <= 1
	// default to 2.0.
	HeapGrowRate float64
	// MainModule names the module the entry script compiles into. Defaults
	// to "__main__".
	MainModule string
}

// VM is one ember runtime instance: one heap, one bootstrapped class
// library, one module table. Not safe for concurrent use by multiple
// goroutines (spec.md §5: "single-threaded cooperative within a VM
// instance"); independent VM values share no state and may run on separate
// goroutines simultaneously.
type VM struct {
	inner *vm.VM
}

// New bootstraps a VM ready to Compile/Run source.
func New(cfg Config) *VM {
	return &VM{inner: vm.New(vm.Config{
		ImportPaths:  cfg.ImportPaths,
		Builtins:     cfg.Builtins,
		OnError:      cfg.OnError,
		HeapGrowRate: cfg.HeapGrowRate,
		MainModule:   cfg.MainModule,
	})}
}

// Compile lexes, parses, and compiles src as moduleName, reporting
// diagnostics through Config.OnError and returning a non-nil error summary
// on failure (spec.md §7 domain 1: "surfaced to the host as SYNTAX_ERR or
// COMPILE_ERR").
func (v *VM) Compile(src, moduleName, file string) (*Function, error) {
	fn, err := v.inner.Compile(src, moduleName, file)
	if err != nil {
		return nil, err
	}
	return &Function{fn: fn}, nil
}

// Run compiles and executes src as the VM's main module in one step,
// returning the main module's result value and/or a *vm.RuntimeError
// wrapping any uncaught exception (spec.md §7 domain 2).
func (v *VM) Run(src, file string) (Value, error) {
	result, err := v.inner.Run(src, file)
	return Value{v: result}, err
}

// RunCompiled executes an already-compiled Function (e.g. loaded via
// bytecode.Deserialize) as moduleName.
func (v *VM) RunCompiled(fn *Function, moduleName string) (Value, error) {
	result, err := v.inner.RunFunction(fn.fn, moduleName)
	return Value{v: result}, err
}

// RegisterNative makes a Go function callable from ember source under name,
// the "native registry" collaborator of spec.md §6: a native takes the
// arguments already validated against arity and returns (result, true) on
// success or (exception, false) to raise — constructing the exception via
// NewException.
func (v *VM) RegisterNative(name string, arity int, variadic bool, fn func(args []Value) (Value, bool)) {
	v.inner.RegisterNative(name, arity, variadic, func(raw []object.Value) (object.Value, bool) {
		wrapped := make([]Value, len(raw))
		for i, a := range raw {
			wrapped[i] = Value{v: a}
		}
		result, ok := fn(wrapped)
		return result.v, ok
	})
}

// NewException builds an instance of className (one of the bootstrapped
// exception classes, or a user-registered subclass of Exception) carrying
// message, suitable for returning from a RegisterNative callback's failure
// case.
func (v *VM) NewException(className, message string) (Value, error) {
	val, ok := v.inner.NewExceptionValue(className, message)
	if !ok {
		return Value{}, fmt.Errorf("ember: unknown exception class %q", className)
	}
	return Value{v: val}, nil
}

// Function is an opaque handle to a compiled top-level Function, the return
// type of Compile and the input to RunCompiled.
type Function struct {
	fn *bytecode.Function
}

// NewFunction wraps a *bytecode.Function (e.g. one returned by
// bytecode.Deserialize) as a Function suitable for RunCompiled.
func NewFunction(fn *bytecode.Function) *Function { return &Function{fn: fn} }

// Raw exposes the underlying *bytecode.Function, for callers that need to
// pass it to bytecode.Serialize or bytecode.Disassemble directly.
func (f *Function) Raw() *bytecode.Function { return f.fn }

// Value is an opaque handle to an ember runtime value returned from Run or
// passed to/from a native callback. Use the As* accessors to inspect it.
type Value struct {
	v object.Value
}

func (val Value) String() string { return val.v.String() }

// IsNull reports whether val is ember's `null`.
func (val Value) IsNull() bool { return val.v.IsNull() }

// AsNumber reports val's float64 value and whether val is a Number.
func (val Value) AsNumber() (float64, bool) {
	if !val.v.IsNumber() {
		return 0, false
	}
	return val.v.AsNumber(), true
}

// AsBool reports val's bool value and whether val is a Boolean.
func (val Value) AsBool() (bool, bool) {
	if !val.v.IsBool() {
		return false, false
	}
	return val.v.AsBool(), true
}

// AsString reports val's string contents and whether val is a String.
func (val Value) AsString() (string, bool) {
	s, ok := val.v.AsString()
	if !ok {
		return "", false
	}
	return s.String(), true
}
