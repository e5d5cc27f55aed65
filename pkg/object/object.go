// Package object defines the runtime object graph the garbage collector
// walks and the VM operates on: Values (the tagged union every opcode
// pushes/pops) and the heap object variants of spec §3 (string, class,
// instance, module, function, native, closure, upvalue, bound method, list,
// tuple, table, stacktrace, userdata).
//
// The teacher (kristofer-smog) represents every runtime value as a bare Go
// interface{} (string/int64/*Block/*Array/*Instance/...) and dispatches on
// type switches in vm.send. This package keeps that same "type switch over
// concrete Go structs" idiom but gives every heap allocation a shared Header
// (mark bit, class pointer, intrusive-list link) so the collector in
// pkg/gc can walk a single Obj interface instead of knowing every variant.
package object

import "fmt"

// ObjType tags a heap object's variant, mirroring spec §3's Object variants.
type ObjType uint8

const (
	ObjString ObjType = iota
	ObjClass
	ObjInstance
	ObjModule
	ObjFunction
	ObjNative
	ObjClosure
	ObjUpvalue
	ObjBoundMethod
	ObjList
	ObjTuple
	ObjTable
	ObjStackTrace
	ObjUserdata
	ObjGenerator
)

func (t ObjType) String() string {
	switch t {
	case ObjString:
		return "String"
	case ObjClass:
		return "Class"
	case ObjInstance:
		return "Instance"
	case ObjModule:
		return "Module"
	case ObjFunction:
		return "Function"
	case ObjNative:
		return "Native"
	case ObjClosure:
		return "Closure"
	case ObjUpvalue:
		return "Upvalue"
	case ObjBoundMethod:
		return "BoundMethod"
	case ObjList:
		return "List"
	case ObjTuple:
		return "Tuple"
	case ObjTable:
		return "Table"
	case ObjStackTrace:
		return "StackTrace"
	case ObjUserdata:
		return "Userdata"
	case ObjGenerator:
		return "Generator"
	default:
		return "Unknown"
	}
}

// Obj is implemented by every heap object variant. The collector (pkg/gc)
// only ever sees this interface; it never needs a type switch to find the
// header fields it mutates during mark/sweep.
type Obj interface {
	Header() *Head
	Type() ObjType
}

// Head is the common object header of spec §3 ("Every heap object begins
// with a header containing..."): the mark bit flipped during GC mark, the
// object's class (nil only transiently during core bootstrap), and the
// intrusive singly-linked list the VM threads every live allocation onto.
type Head struct {
	Reached bool
	Class   *Class
	Next    Obj
}

func (h *Head) Header() *Head { return h }

// String is length + cached FNV-1a hash + raw bytes. Two interned strings
// with equal bytes are the same pointer (see object/intern.go); non-interned
// strings compare by content.
type String struct {
	Head
	Bytes     []byte
	hash      uint32
	hashValid bool
	Interned  bool
}

func (*String) Type() ObjType { return ObjString }

func (s *String) Hash() uint32 {
	if !s.hashValid {
		s.hash = fnv1a(s.Bytes)
		s.hashValid = true
	}
	return s.hash
}

func (s *String) String() string { return string(s.Bytes) }

func fnv1a(b []byte) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	for _, c := range b {
		h ^= uint32(c)
		h *= prime32
	}
	return h
}

// Class: name, optional superclass, and a method table shallow-copied from
// the superclass at creation time then overridden per method (spec §3).
type Class struct {
	Head
	Name    *String
	Super   *Class
	Methods *Table
}

func (*Class) Type() ObjType { return ObjClass }

// Instance: a field table. Field lookup shadows method lookup (spec §3,
// §4.5 attribute protocol); missing attributes raise FieldException.
type Instance struct {
	Head
	Fields *Table
}

func (*Instance) Type() ObjType { return ObjInstance }

// Module: a globals table plus an opaque native-extension handle, treated
// as a capability the VM never inspects (spec §3, §6).
type Module struct {
	Head
	Name    *String
	Globals *Table
	Native  interface{} // opaque sidecar handle; nil unless loaded via module.Registry
}

func (*Module) Type() ObjType { return ObjModule }

// Function wraps a compiled bytecode.Function (kept in pkg/bytecode so the
// compiler and the disassembler can share it without importing pkg/object).
// The FnRef field is `interface{}` to avoid an import cycle; the VM type
// -asserts it back to *bytecode.Function. ModuleName names the owning module
// for stack-trace rendering.
type Function struct {
	Head
	Name       string
	ModuleName string
	FnRef      interface{}
	// Super is filled in by DEF_METHOD at class-definition time (spec §4.4:
	// "Constant slot 0 of every method function is reserved... filled by
	// DEF_METHOD with the superclass reference so super calls can dispatch
	// without an extra stack argument"). It is kept here rather than only in
	// the raw bytecode constant pool so the collector can reach it the same
	// way it reaches every other object-valued field; OpSuperCall reads it
	// directly instead of indexing into Constants[0].
	Super *Class
}

func (*Function) Type() ObjType { return ObjFunction }

// NativeFn is the contract of spec §6's "Native function contract": given
// the arguments already on the operand stack (passed here as a slice) it
// returns a Value and true on success, or an exception Value and false on
// failure — the VM then begins unwinding with that exception.
type NativeFn func(args []Value) (Value, bool)

type Native struct {
	Head
	Name         string
	Arity        int
	DefaultCount int
	Variadic     bool
	Fn           NativeFn
}

func (*Native) Type() ObjType { return ObjNative }

// Closure points at a Function and holds exactly as many Upvalues as the
// function declares (spec §3).
type Closure struct {
	Head
	Fn       *Function
	Upvalues []*Upvalue
}

func (*Closure) Type() ObjType { return ObjClosure }

// Upvalue is open while Location points into a live frame's stack slot, and
// closed once the value has been copied into Closed and Location redirected
// to it (spec §3, §4.5, §9). NextOpen threads the VM's open-upvalue list,
// kept sorted by descending stack address so captureUpvalue can reuse nodes.
type Upvalue struct {
	Head
	Location *Value
	Closed   Value
	NextOpen *Upvalue
	// Slot records the operand-stack index Location pointed at while this
	// upvalue was open. It is meaningless once Close has run (Location has
	// been redirected to &Closed) but lets the VM keep its open-upvalue list
	// ordered and close a whole suffix of it by index comparison alone,
	// without doing pointer arithmetic back into the stack slice.
	Slot int
}

func (*Upvalue) Type() ObjType { return ObjUpvalue }

func (u *Upvalue) Close() {
	u.Closed = *u.Location
	u.Location = &u.Closed
}

// BoundMethod pairs a receiver with a callable method Value, produced by
// attribute lookup on an instance (spec §3, §4.5).
type BoundMethod struct {
	Head
	Receiver Value
	Method   Value
}

func (*BoundMethod) Type() ObjType { return ObjBoundMethod }

// List is a dynamic Value array, doubling on growth (spec §3).
type List struct {
	Head
	Elements []Value
}

func (*List) Type() ObjType { return ObjList }

func (l *List) Append(v Value) {
	l.Elements = append(l.Elements, v)
}

// Tuple is a fixed-length Value array; the zero-length tuple is a canonical
// singleton the VM interns once (spec §3).
type Tuple struct {
	Head
	Elements []Value
}

func (*Tuple) Type() ObjType { return ObjTuple }

// FrameRecord is one entry of a StackTrace (spec §3, §4.5 unwind).
type FrameRecord struct {
	Module   string
	Function string
	Line     int
}

type StackTrace struct {
	Head
	Frames []FrameRecord
}

func (*StackTrace) Type() ObjType { return ObjStackTrace }

func (st *StackTrace) String() string {
	s := ""
	for _, f := range st.Frames {
		s += fmt.Sprintf("  at %s.%s:%d\n", f.Module, f.Function, f.Line)
	}
	return s
}

// Userdata is an inline byte buffer with an optional finalizer the sweeper
// invokes when the object is collected (spec §3).
type Userdata struct {
	Head
	Data      []byte
	Finalizer func([]byte)
}

func (*Userdata) Type() ObjType { return ObjUserdata }

// GeneratorSignal is one message a generator's coroutine goroutine sends
// back to whichever caller is resuming it: either a yielded Value, or a
// terminal signal (Done, optionally carrying an uncaught exception Value
// that the caller must re-raise in its own context).
type GeneratorSignal struct {
	Value  Value
	Done   bool
	Err    Value
	HasErr bool
}

// Generator backs the value a call to a `yield`-containing function
// produces (spec.md §1's "generators"): the call itself does not run the
// function body, it only builds this value; the body runs lazily, one step
// per __iter__ call, on a dedicated goroutine that blocks on Resume/Yield
// channel operations rather than the ordinary Go call stack unwinding, so a
// suspended generator's locals stay exactly where OpYield left them.
//
// Stack/SP are this generator's own private operand stack (entirely
// separate from whatever VM happens to be calling next() right now) —
// nothing outside this struct can reach into it, so the collector marks
// Stack[:SP] directly from here (see gc.blacken) rather than through the
// ordinary root-walking path.
type Generator struct {
	Head
	Closure *Closure
	Args    []Value

	Stack []Value
	SP    int

	Resume   chan Value
	YieldCh  chan GeneratorSignal
	Started  bool
	Finished bool

	// LastValue is the most recent value __iter__'s coroutine step
	// produced; __next__ just reads it back (see pkg/vm's
	// bootstrapGeneratorClass: the state-threaded iteration protocol
	// drives the coroutine from __iter__, same as every other iterable).
	LastValue Value
}

func (*Generator) Type() ObjType { return ObjGenerator }
