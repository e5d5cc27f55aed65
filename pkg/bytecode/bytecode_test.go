package bytecode

import (
	"reflect"
	"testing"
)

func sampleFunction() *Function {
	return &Function{
		Name:         "add",
		ModuleName:   "main",
		Arity:        2,
		DefaultCount: 0,
		Variadic:     false,
		UpvalueCount: 1,
		Upvalues:     []UpvalueDesc{{IsLocal: true, Index: 0}},
		Code: []Instruction{
			{Op: OpGetLocal, Operand: 0, Line: 1},
			{Op: OpGetLocal, Operand: 1, Line: 1},
			{Op: OpAdd, Operand: 0, Line: 1},
			{Op: OpReturn, Operand: 0, Line: 1},
		},
		Constants: []interface{}{1.0, "x", true, nil},
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	fn := sampleFunction()
	data, err := Serialize(fn)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !reflect.DeepEqual(fn, got) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", fn, got)
	}
}

func TestSerializeDeserializeNestedFunction(t *testing.T) {
	inner := sampleFunction()
	outer := &Function{
		Name:      "outer",
		Arity:     0,
		Code:      []Instruction{{Op: OpClosure, Operand: 0, Line: 1}, {Op: OpReturn, Line: 1}},
		Constants: []interface{}{inner},
	}
	data, err := Serialize(outer)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	gotInner, ok := got.Constants[0].(*Function)
	if !ok {
		t.Fatalf("expected nested *Function constant, got %T", got.Constants[0])
	}
	if gotInner.Name != inner.Name || len(gotInner.Code) != len(inner.Code) {
		t.Fatalf("nested function mismatch: %+v", gotInner)
	}
}

func TestDeserializeBadMagic(t *testing.T) {
	_, err := Deserialize([]byte("nope!!"))
	if err == nil {
		t.Fatalf("expected error for bad magic")
	}
}

func TestDeserializeVersionMismatch(t *testing.T) {
	data, err := Serialize(sampleFunction())
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	data[4] = formatMajor + 1
	_, err = Deserialize(data)
	if err != ErrVersionMismatch {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestDefaultConstsRoundTrip(t *testing.T) {
	fn := sampleFunction()
	fn.DefaultCount = 1
	fn.DefaultConsts = []int{3}
	data, err := Serialize(fn)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !reflect.DeepEqual(got.DefaultConsts, fn.DefaultConsts) {
		t.Fatalf("DefaultConsts mismatch: want %v got %v", fn.DefaultConsts, got.DefaultConsts)
	}
}

func TestOpcodeString(t *testing.T) {
	if OpAdd.String() != "ADD" {
		t.Fatalf("expected ADD, got %s", OpAdd.String())
	}
	if Opcode(255).String() != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN for unassigned opcode")
	}
}
