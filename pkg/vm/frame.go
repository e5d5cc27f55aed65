package vm

import "github.com/emberlang/ember/pkg/object"

// HandlerKind distinguishes an except guard from an ensure guard on a
// frame's handler stack (spec §4.5 exception model).
type HandlerKind int

const (
	HandlerExcept HandlerKind = iota
	HandlerEnsure
)

// Handler is one entry of a frame's handler stack, pushed by SETUP_EXCEPT/
// SETUP_ENSURE and consulted by propagate() while unwinding. Addr is the
// bytecode address to resume at (the except-dispatch block or the ensure
// body); SavedSP is the stack depth to restore before resuming there, since
// everything the try body pushed between setup and the raise is garbage by
// the time control reaches the handler.
type Handler struct {
	Kind    HandlerKind
	Addr    int
	SavedSP int
}

// Frame is one activation record. Bytecode frames carry Closure; a frame
// pushed purely so a native call shows up in a stack trace carries
// NativeName instead and is popped immediately after the call returns.
// HandlerMax names a per-frame handler-table bound. Nothing checks it:
// SETUP_EXCEPT/SETUP_ENSURE append to Handlers without a limit, so
// try/ensure nesting within one function body is not capped.
const HandlerMax = 10

type Frame struct {
	Closure       *object.Closure
	NativeName    string
	IP            int
	Base          int
	Handlers      []Handler
	IsConstructor bool
}

func (f *Frame) fn() *object.Function { return f.Closure.Fn }
