package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// UpvalueDesc tells the VM, for one upvalue slot of a Function, whether to
// capture a local of the *immediately* enclosing frame (IsLocal) or to
// forward an upvalue already captured by that enclosing frame (!IsLocal),
// threading the chain down through intermediate compilers per spec.md §4.4.
type UpvalueDesc struct {
	IsLocal bool
	Index   int
}

// Function is the compiled form of a `fun` declaration or literal: a fixed
// arity/defaults/variadic signature, a flat instruction stream, and the
// constant pool referenced from it. It corresponds to the Function object
// variant of spec.md §3; the VM wraps one in an object.Closure together with
// its captured Upvalues before it is callable.
type Function struct {
	Name       string
	ModuleName string
	Arity      int
	// DefaultConsts holds one Constants index per optional trailing
	// parameter, in declaration order; len(DefaultConsts) == DefaultCount.
	// Defaults are compiled as constant expressions, matching the
	// teacher's constant-pool-backed literal handling.
	DefaultConsts []int
	DefaultCount  int
	Variadic      bool
	UpvalueCount  int
	Upvalues      []UpvalueDesc
	Code          []Instruction
	Constants     []interface{}
	// IsMethod marks a Function compiled as a class method body, whose
	// constant pool slot 0 is reserved for the superclass handle per
	// spec.md §4.4 ("Constant slot 0 of every method function is reserved").
	IsMethod bool
	// IsGenerator marks a function whose body contains a yield statement
	// directly (not inside a nested fun): calling it produces a Generator
	// value instead of running the body immediately (spec.md §1's
	// "generators"; see pkg/vm's OpYield/Generator handling).
	IsGenerator bool
}

const (
	magic       = "EMBR"
	formatMajor = 1
	formatMinor = 0
)

// ErrVersionMismatch is returned by Deserialize when the on-disk major
// version does not match formatMajor (spec.md §6: "version mismatch returns
// a dedicated error code").
var ErrVersionMismatch = fmt.Errorf("bytecode: version mismatch")

// Serialize writes fn and everything it transitively references (nested
// Function constants) to a self-describing binary encoding: a 4-byte magic,
// a major and minor version byte, then the function tree. The CLI's
// compile, run and disassemble subcommands (cmd/ember/main.go) are the
// only consumers of this format; nothing in the VM itself round-trips
// through it.
func Serialize(fn *Function) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(formatMajor)
	buf.WriteByte(formatMinor)
	if err := writeFunction(&buf, fn); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Deserialize parses the format Serialize produces.
func Deserialize(data []byte) (*Function, error) {
	if len(data) < 6 || string(data[:4]) != magic {
		return nil, fmt.Errorf("bytecode: bad magic")
	}
	if data[4] != formatMajor {
		return nil, ErrVersionMismatch
	}
	r := bytes.NewReader(data[6:])
	return readFunction(r)
}

func writeFunction(w *bytes.Buffer, fn *Function) error {
	writeString(w, fn.Name)
	writeString(w, fn.ModuleName)
	writeInt(w, fn.Arity)
	writeInt(w, fn.DefaultCount)
	writeBool(w, fn.Variadic)
	writeInt(w, fn.UpvalueCount)
	writeBool(w, fn.IsMethod)
	writeBool(w, fn.IsGenerator)

	writeInt(w, len(fn.DefaultConsts))
	for _, idx := range fn.DefaultConsts {
		writeInt(w, idx)
	}

	writeInt(w, len(fn.Upvalues))
	for _, u := range fn.Upvalues {
		writeBool(w, u.IsLocal)
		writeInt(w, u.Index)
	}

	writeInt(w, len(fn.Code))
	for _, inst := range fn.Code {
		w.WriteByte(byte(inst.Op))
		writeInt(w, inst.Operand)
		writeInt(w, inst.Operand2)
		writeInt(w, inst.Line)
	}

	writeInt(w, len(fn.Constants))
	for _, c := range fn.Constants {
		if err := writeConstant(w, c); err != nil {
			return err
		}
	}
	return nil
}

func writeConstant(w *bytes.Buffer, c interface{}) error {
	switch v := c.(type) {
	case float64:
		w.WriteByte('n')
		binary.Write(w, binary.LittleEndian, v)
	case string:
		w.WriteByte('s')
		writeString(w, v)
	case bool:
		w.WriteByte('b')
		writeBool(w, v)
	case nil:
		w.WriteByte('z')
	case *Function:
		w.WriteByte('f')
		return writeFunction(w, v)
	default:
		return fmt.Errorf("bytecode: unsupported constant type %T", c)
	}
	return nil
}

func readFunction(r *bytes.Reader) (*Function, error) {
	fn := &Function{}
	var err error
	if fn.Name, err = readString(r); err != nil {
		return nil, err
	}
	if fn.ModuleName, err = readString(r); err != nil {
		return nil, err
	}
	if fn.Arity, err = readInt(r); err != nil {
		return nil, err
	}
	if fn.DefaultCount, err = readInt(r); err != nil {
		return nil, err
	}
	if fn.Variadic, err = readBool(r); err != nil {
		return nil, err
	}
	if fn.UpvalueCount, err = readInt(r); err != nil {
		return nil, err
	}
	if fn.IsMethod, err = readBool(r); err != nil {
		return nil, err
	}
	if fn.IsGenerator, err = readBool(r); err != nil {
		return nil, err
	}

	nDef, err := readInt(r)
	if err != nil {
		return nil, err
	}
	if nDef > 0 {
		fn.DefaultConsts = make([]int, nDef)
	}
	for i := range fn.DefaultConsts {
		if fn.DefaultConsts[i], err = readInt(r); err != nil {
			return nil, err
		}
	}

	nUp, err := readInt(r)
	if err != nil {
		return nil, err
	}
	fn.Upvalues = make([]UpvalueDesc, nUp)
	for i := range fn.Upvalues {
		if fn.Upvalues[i].IsLocal, err = readBool(r); err != nil {
			return nil, err
		}
		if fn.Upvalues[i].Index, err = readInt(r); err != nil {
			return nil, err
		}
	}

	nCode, err := readInt(r)
	if err != nil {
		return nil, err
	}
	fn.Code = make([]Instruction, nCode)
	for i := range fn.Code {
		opByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		fn.Code[i].Op = Opcode(opByte)
		if fn.Code[i].Operand, err = readInt(r); err != nil {
			return nil, err
		}
		if fn.Code[i].Operand2, err = readInt(r); err != nil {
			return nil, err
		}
		if fn.Code[i].Line, err = readInt(r); err != nil {
			return nil, err
		}
	}

	nConst, err := readInt(r)
	if err != nil {
		return nil, err
	}
	fn.Constants = make([]interface{}, nConst)
	for i := range fn.Constants {
		if fn.Constants[i], err = readConstant(r); err != nil {
			return nil, err
		}
	}
	return fn, nil
}

func readConstant(r *bytes.Reader) (interface{}, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 'n':
		var v float64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		return v, nil
	case 's':
		return readString(r)
	case 'b':
		return readBool(r)
	case 'z':
		return nil, nil
	case 'f':
		return readFunction(r)
	default:
		return nil, fmt.Errorf("bytecode: unknown constant tag %q", tag)
	}
}

func writeInt(w *bytes.Buffer, v int) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(int64(v)))
	w.Write(b[:])
}

func readInt(r *bytes.Reader) (int, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return int(int64(binary.LittleEndian.Uint64(b[:]))), nil
}

func writeBool(w *bytes.Buffer, v bool) {
	if v {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func writeString(w *bytes.Buffer, s string) {
	writeInt(w, len(s))
	w.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readInt(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
