package object

import (
	"fmt"
	"math"
	"unsafe"
)

// Kind discriminates the variants of Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindHandle
	KindObject
)

// Value is the tagged-union representation spec §3 permits as a fallback to
// NaN-boxing ("Implementations on architectures where that representation
// is inconvenient MAY fall back to a tagged-union with the identical
// observable semantics"). Go has no portable way to steal bits out of a
// float64 without `unsafe` games that would defeat the garbage collector's
// ability to see object pointers, so every Value here is a plain struct:
// operator behavior, hashing, and equality are defined purely in terms of
// Kind/Num/Obj and never depend on layout, exactly as the spec requires.
type Value struct {
	kind Kind
	num  float64
	obj  Obj
	ptr  unsafe.Pointer // only meaningful when kind == KindHandle
}

var Null = Value{kind: KindNull}
var True = Value{kind: KindBool, num: 1}
var False = Value{kind: KindBool, num: 0}

func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

func FromObj(o Obj) Value {
	if o == nil {
		return Null
	}
	return Value{kind: KindObject, obj: o}
}

func Handle(p unsafe.Pointer) Value { return Value{kind: KindHandle, ptr: p} }

func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsHandle() bool { return v.kind == KindHandle }
func (v Value) IsObject() bool { return v.kind == KindObject }

func (v Value) AsBool() bool      { return v.num != 0 }
func (v Value) AsNumber() float64 { return v.num }
func (v Value) AsObject() Obj     { return v.obj }
func (v Value) AsHandle() unsafe.Pointer { return v.ptr }

// Truthy implements spec's boolean-coercion rule used by JUMPT/JUMPF and
// `if`/`while`: null and false are falsy, everything else (including 0 and
// "") is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.AsBool()
	default:
		return true
	}
}

func (v Value) ObjType() (ObjType, bool) {
	if v.kind != KindObject {
		return 0, false
	}
	return v.obj.Type(), true
}

func (v Value) AsString() (*String, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	s, ok := v.obj.(*String)
	return s, ok
}

func (v Value) AsList() (*List, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	l, ok := v.obj.(*List)
	return l, ok
}

func (v Value) AsTuple() (*Tuple, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	t, ok := v.obj.(*Tuple)
	return t, ok
}

func (v Value) AsInstance() (*Instance, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	i, ok := v.obj.(*Instance)
	return i, ok
}

func (v Value) AsClass() (*Class, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	c, ok := v.obj.(*Class)
	return c, ok
}

func (v Value) AsTable() (*Table, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	t, ok := v.obj.(*Table)
	return t, ok
}

// ClassOf returns the class the VM dispatches methods against for v. For
// primitive kinds (number/bool/null) this is one of the bootstrapped
// builtin classes threaded in through cls; for objects it is the object's
// own Class pointer, falling back to cls when nil (bootstrap only).
func (v Value) ClassOf(cls *Builtins) *Class {
	switch v.kind {
	case KindNull:
		return cls.NullClass
	case KindBool:
		return cls.BooleanClass
	case KindNumber:
		return cls.NumberClass
	case KindObject:
		if h := v.obj.Header(); h.Class != nil {
			return h.Class
		}
		return classOfVariant(v.obj, cls)
	default:
		return nil
	}
}

func classOfVariant(o Obj, cls *Builtins) *Class {
	switch o.(type) {
	case *String:
		return cls.StringClass
	case *List:
		return cls.ListClass
	case *Tuple:
		return cls.TupleClass
	case *Table:
		return cls.TableClass
	case *Function, *Closure:
		return cls.FunctionClass
	case *Native:
		return cls.FunctionClass
	case *Module:
		return cls.ModuleClass
	case *StackTrace:
		return cls.StackTraceClass
	case *Class:
		return cls.ClassClass
	case *Generator:
		return cls.GeneratorClass
	default:
		return nil
	}
}

// Builtins holds the bootstrapped builtin classes every primitive/variant
// value is considered an instance of, threaded through ClassOf so pkg/object
// itself never needs to know the bootstrap order (that lives in pkg/vm).
type Builtins struct {
	NullClass       *Class
	BooleanClass    *Class
	NumberClass     *Class
	StringClass     *Class
	ListClass       *Class
	TupleClass      *Class
	TableClass      *Class
	FunctionClass   *Class
	ModuleClass     *Class
	StackTraceClass *Class
	ClassClass      *Class
	GeneratorClass  *Class
}

// Equal implements spec §3 object-identity / content-equality rules used by
// EQ/dunder `__eq__` fallback: numbers compare by value, strings by
// identity-if-interned else by bytes, everything else by reference.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.num == b.num
	case KindNumber:
		return a.num == b.num
	case KindHandle:
		return a.ptr == b.ptr
	case KindObject:
		as, aok := a.obj.(*String)
		bs, bok := b.obj.(*String)
		if aok && bok {
			if as.Interned && bs.Interned {
				return as == bs
			}
			return string(as.Bytes) == string(bs.Bytes)
		}
		return a.obj == b.obj
	}
	return false
}

// Hash supports Table's open-addressing probe sequence (spec §3/§4 hash
// table). Strings use their cached FNV-1a hash; numbers and booleans hash
// their bit pattern; objects fall back to pointer identity.
func Hash(v Value) uint32 {
	switch v.kind {
	case KindNull:
		return 0
	case KindBool:
		if v.AsBool() {
			return 1
		}
		return 2
	case KindNumber:
		bits := math.Float64bits(v.num)
		return uint32(bits) ^ uint32(bits>>32)
	case KindHandle:
		return uint32(uintptr(v.ptr))
	case KindObject:
		if s, ok := v.obj.(*String); ok {
			return s.Hash()
		}
		// Header() returns a pointer into the object's own heap allocation
		// (the embedded Head struct), stable across calls and copies of this
		// Value — unlike &v.obj, which is the address of this call's local
		// interface variable and differs every time even for the same
		// object, silently breaking Table's probe sequence (spec §3/§4).
		return uint32(uintptr(unsafe.Pointer(v.obj.Header())))
	}
	return 0
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.AsBool())
	case KindNumber:
		return formatNumber(v.num)
	case KindHandle:
		return fmt.Sprintf("<handle %p>", v.ptr)
	case KindObject:
		return formatObject(v.obj)
	}
	return "<?>"
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && !math.IsInf(n, 0) && math.Abs(n) < 1e15 {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}

func formatObject(o Obj) string {
	switch t := o.(type) {
	case *String:
		return t.String()
	case *List:
		s := "["
		for i, e := range t.Elements {
			if i > 0 {
				s += ", "
			}
			s += e.String()
		}
		return s + "]"
	case *Tuple:
		s := "("
		for i, e := range t.Elements {
			if i > 0 {
				s += ", "
			}
			s += e.String()
		}
		return s + ")"
	case *Instance:
		name := "instance"
		if t.Class != nil && t.Class.Name != nil {
			name = t.Class.Name.String()
		}
		return fmt.Sprintf("<%s instance>", name)
	case *Class:
		return fmt.Sprintf("<class %s>", t.Name.String())
	case *Closure:
		return fmt.Sprintf("<function %s>", t.Fn.Name)
	case *Native:
		return fmt.Sprintf("<native %s>", t.Name)
	case *Module:
		return fmt.Sprintf("<module %s>", t.Name.String())
	case *BoundMethod:
		return "<bound method>"
	default:
		return fmt.Sprintf("<%s>", o.Type())
	}
}
