package vm

import (
	"fmt"
	"strings"

	"github.com/emberlang/ember/pkg/bytecode"
	"github.com/emberlang/ember/pkg/gc"
	"github.com/emberlang/ember/pkg/module"
	"github.com/emberlang/ember/pkg/object"
)

// RecursionLimit bounds the frame stack depth; exceeding it raises
// StackOverflowException rather than letting the frame slice grow without
// bound (spec §4.5, §5).
const RecursionLimit = 5000

// Config is the embedding surface's tunable knobs (spec §6/§7), mirrored by
// the root ember.Config that wraps this one.
type Config struct {
	ImportPaths  []string
	Builtins     module.BuiltinLoader
	OnError      func(file string, line int, msg string)
	HeapGrowRate float64
	MainModule   string
}

// VM is one ember runtime instance: one heap (gc.Collector + interner), one
// set of bootstrapped builtin/exception classes, one module table, and one
// operand stack shared by every frame.
type VM struct {
	stack  []object.Value
	sp     int
	frames []*Frame

	gc       *gc.Collector
	interner *object.Interner
	builtins *object.Builtins

	objectClass *object.Class
	exceptions  map[string]*object.Class
	classes     map[string]*object.Class // builtin classes reachable by name, for GET_GLOBAL prelude lookups

	modules       map[string]*object.Module
	loadedModules map[string]bool // names whose top-level code has already executed
	registry      *module.Registry
	mainModule    string

	natives map[string]*object.Native

	// floor is the stopDepth of the innermost active runLoop call, i.e. how
	// far a raise() happening right now is allowed to search before reporting
	// "not found within this span" back to whoever is waiting (see
	// exceptions.go's raise doc comment and invoke's in call.go).
	floor int

	openUpvalues *object.Upvalue

	onError func(file string, line int, msg string)

	// uncaught is set by propagate() when an exception's handler search
	// reaches its stop depth uncaught; invoke() drains it via takeUncaught,
	// and Run()/RunFunction turn it into a *RuntimeError.
	uncaught    object.Value
	hasUncaught bool

	// currentGenerator is non-nil only on a child VM (see childVM) created to
	// run one generator's body on its own goroutine; OpYield reads it to
	// find the channels to suspend on. nil on every ordinarily-constructed
	// VM, including the one embedding code gets from New().
	currentGenerator *object.Generator
}

// New builds a VM with every builtin/exception class bootstrapped and ready
// (spec §5's bootstrap catalogue). cfg.MainModule names the module the
// entry script compiles into; it defaults to "__main__".
func New(cfg Config) *VM {
	if cfg.MainModule == "" {
		cfg.MainModule = "__main__"
	}
	growRate := cfg.HeapGrowRate
	if growRate <= 1 {
		growRate = 2.0
	}
	vm := &VM{
		gc:         gc.New(),
		interner:   object.NewInterner(),
		exceptions: make(map[string]*object.Class),
		classes:    make(map[string]*object.Class),
		modules:       make(map[string]*object.Module),
		loadedModules: make(map[string]bool),
		natives:    make(map[string]*object.Native),
		onError:    cfg.OnError,
		mainModule: cfg.MainModule,
	}
	vm.gc.SetHeapGrowRate(growRate)
	vm.gc.OnInternSweep(vm.interner.Sweep)
	vm.registry = module.NewRegistry(cfg.ImportPaths, cfg.Builtins)
	vm.bootstrap()
	return vm
}

// ---- stack helpers ----

func (vm *VM) push(v object.Value) {
	if vm.sp == len(vm.stack) {
		vm.stack = append(vm.stack, v)
	} else {
		vm.stack[vm.sp] = v
	}
	vm.sp++
}

func (vm *VM) pop() object.Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(fromTop int) object.Value {
	return vm.stack[vm.sp-1-fromTop]
}

func (vm *VM) currentFrame() *Frame { return vm.frames[len(vm.frames)-1] }

// ---- allocation helpers: every heap allocation funnels through these so
// the collector's intrusive list and byte budget stay accurate (spec §4.6).

func (vm *VM) alloc(o object.Obj, size int) object.Obj {
	vm.gc.Register(o, size)
	return o
}

func (vm *VM) newInstance(cls *object.Class) *object.Instance {
	inst := &object.Instance{Head: object.Head{Class: cls}, Fields: object.NewTable()}
	vm.alloc(inst, 48)
	return inst
}

func (vm *VM) internString(s string) *object.String {
	return vm.interner.Intern(s, vm.builtins.StringClass)
}

func (vm *VM) newString(s string) *object.String {
	str := object.NewString(s, vm.builtins.StringClass)
	vm.alloc(str, 32+len(s))
	return str
}

func (vm *VM) maybeCollect() {
	if vm.gc.ShouldCollect() {
		vm.gc.Collect(vm)
	}
}

// WalkRoots implements gc.Roots: the operand stack, every frame's closure
// (which keeps its upvalues and, transitively, its captured locals alive),
// the open-upvalue list, every bootstrapped class, every loaded module, and
// the in-flight exception if one is currently unwinding.
func (vm *VM) WalkRoots(push func(object.Value)) {
	for i := 0; i < vm.sp; i++ {
		push(vm.stack[i])
	}
	for _, f := range vm.frames {
		if f.Closure != nil {
			push(object.FromObj(f.Closure))
		}
	}
	for uv := vm.openUpvalues; uv != nil; uv = uv.NextOpen {
		push(object.FromObj(uv))
	}
	for _, c := range vm.classes {
		push(object.FromObj(c))
	}
	for _, c := range vm.exceptions {
		push(object.FromObj(c))
	}
	for _, m := range vm.modules {
		push(object.FromObj(m))
	}
	for _, n := range vm.natives {
		push(object.FromObj(n))
	}
	if vm.hasUncaught {
		push(vm.uncaught)
	}
}

// childVM returns a fresh VM sharing every process-lifetime resource with vm
// (the heap, interner, bootstrapped classes, module table, natives, import
// registry) but starting with its own empty operand stack, frame stack, and
// open-upvalue list. A generator's body runs on one of these (see
// generator.go): the generator's own coroutine goroutine is the only thing
// that ever touches the child's stack/frames, and it only runs while the
// VM that asked for the next value is itself blocked waiting on
// gen.YieldCh, so the two never execute concurrently despite sharing the
// collector and class tables underneath.
func (vm *VM) childVM() *VM {
	return &VM{
		gc:            vm.gc,
		interner:      vm.interner,
		builtins:      vm.builtins,
		objectClass:   vm.objectClass,
		exceptions:    vm.exceptions,
		classes:       vm.classes,
		modules:       vm.modules,
		loadedModules: vm.loadedModules,
		registry:      vm.registry,
		mainModule:    vm.mainModule,
		natives:       vm.natives,
		onError:       vm.onError,
	}
}

// ---- module access ----

func (vm *VM) moduleFor(name string) *object.Module {
	if m, ok := vm.modules[name]; ok {
		return m
	}
	m := &object.Module{Head: object.Head{Class: vm.builtins.ModuleClass}, Name: vm.internString(name), Globals: object.NewTable()}
	vm.alloc(m, 48)
	for n, nat := range vm.natives {
		m.Globals.Set(object.FromObj(vm.internString(n)), object.FromObj(nat))
	}
	vm.modules[name] = m
	return m
}

func (vm *VM) frameModule(f *Frame) *object.Module {
	return vm.moduleFor(f.fn().ModuleName)
}

// Compile runs the lexer/parser/compiler pipeline for one module's source,
// reporting errors through onError and returning (nil, err) on failure
// (spec §6's embedding surface: "Compile... return error").
func (vm *VM) Compile(src, moduleName, file string) (*bytecode.Function, error) {
	fn, errs, ok := compileSource(src, moduleName, file, vm.onError)
	if !ok {
		return nil, fmt.Errorf("ember: compile failed:\n%s", strings.Join(errs, "\n"))
	}
	return fn, nil
}

// Run compiles and executes src as the VM's main module, returning an error
// wrapping the uncaught exception (if any) or a compile error (spec §7.2).
func (vm *VM) Run(src, file string) (object.Value, error) {
	fn, err := vm.Compile(src, vm.mainModule, file)
	if err != nil {
		return object.Null, err
	}
	return vm.RunFunction(fn, vm.mainModule)
}

// RunFunction executes an already-compiled top-level Function as moduleName,
// used by Run and by the CLI's `run <bytecode file>` subcommand (module
// imports run through doImport's invoke instead).
func (vm *VM) RunFunction(fn *bytecode.Function, moduleName string) (object.Value, error) {
	vm.moduleFor(moduleName)
	closure := vm.makeClosure(fn, nil)
	vm.push(object.FromObj(closure))
	depth := len(vm.frames)
	if !vm.callValue(object.FromObj(closure), 0) {
		return object.Null, vm.uncaughtErr()
	}
	if !vm.runLoop(depth) {
		return object.Null, vm.uncaughtErr()
	}
	return vm.pop(), nil
}

// RegisterNative installs a host-defined native function under name,
// reachable from ember source exactly like a builtin (spec.md §6 "native
// registry"). Already-created modules (from imports resolved before this
// call) are back-filled so registration order relative to Run doesn't
// matter.
func (vm *VM) RegisterNative(name string, arity int, variadic bool, fn object.NativeFn) {
	nat := &object.Native{Name: name, Arity: arity, Variadic: variadic, Fn: fn}
	vm.natives[name] = nat
	key := object.FromObj(vm.internString(name))
	for _, m := range vm.modules {
		m.Globals.Set(key, object.FromObj(nat))
	}
}

// NewExceptionValue builds an instance of the bootstrapped or
// host-registered exception class className, for a RegisterNative callback
// to return as its failure value.
func (vm *VM) NewExceptionValue(className, message string) (object.Value, bool) {
	cls, ok := vm.exceptions[className]
	if !ok {
		return object.Null, false
	}
	return vm.makeException(cls, message), true
}

func (vm *VM) uncaughtErr() error {
	if !vm.hasUncaught {
		return fmt.Errorf("ember: internal error: unwind failed without an uncaught exception")
	}
	exc := vm.uncaught
	vm.hasUncaught = false
	vm.uncaught = object.Null
	return vm.exceptionToError(exc)
}

func (vm *VM) exceptionToError(exc object.Value) error {
	inst, ok := exc.AsInstance()
	if !ok {
		return fmt.Errorf("ember: uncaught: %s", exc.String())
	}
	className := "Exception"
	if inst.Class != nil && inst.Class.Name != nil {
		className = inst.Class.Name.String()
	}
	msg := ""
	if mv, ok := inst.Fields.Get(object.FromObj(vm.internString("message"))); ok {
		msg = mv.String()
	}
	var trace *object.StackTrace
	if tv, ok := inst.Fields.Get(object.FromObj(vm.internString("stackTrace"))); ok {
		if st, ok := tv.AsObject().(*object.StackTrace); ok {
			trace = st
		}
	}
	return &RuntimeError{ClassName: className, Message: msg, Trace: trace}
}

// ---- closures & upvalues ----

func (vm *VM) makeClosure(fn *bytecode.Function, enclosing *Frame) *object.Closure {
	objFn := &object.Function{Name: fn.Name, ModuleName: fn.ModuleName, FnRef: fn}
	vm.alloc(objFn, 40)
	cl := &object.Closure{Fn: objFn, Upvalues: make([]*object.Upvalue, fn.UpvalueCount)}
	vm.alloc(cl, 24+fn.UpvalueCount*8)
	for i, uv := range fn.Upvalues {
		if uv.IsLocal {
			cl.Upvalues[i] = vm.captureUpvalue(enclosing.Base + uv.Index)
		} else {
			cl.Upvalues[i] = enclosing.Closure.Upvalues[uv.Index]
		}
	}
	return cl
}

// captureUpvalue finds or creates the open upvalue for stack slot, keeping
// the open list sorted by descending slot index so closing everything above
// a frame's base is a single prefix scan (spec §4.5/§9).
func (vm *VM) captureUpvalue(slot int) *object.Upvalue {
	var prev *object.Upvalue
	cur := vm.openUpvalues
	for cur != nil && cur.Slot > slot {
		prev = cur
		cur = cur.NextOpen
	}
	if cur != nil && cur.Slot == slot {
		return cur
	}
	uv := &object.Upvalue{Location: &vm.stack[slot], Slot: slot}
	vm.alloc(uv, 24)
	uv.NextOpen = cur
	if prev == nil {
		vm.openUpvalues = uv
	} else {
		prev.NextOpen = uv
	}
	return uv
}

// closeUpvaluesAbove closes (copies out of the stack) every open upvalue at
// or above slot, called when a scope/frame whose locals they reference is
// about to be discarded (spec §4.5).
func (vm *VM) closeUpvaluesAbove(slot int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Slot >= slot {
		vm.openUpvalues.Close()
		vm.openUpvalues = vm.openUpvalues.NextOpen
	}
}
