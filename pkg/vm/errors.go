// Package vm implements the stack-based bytecode interpreter of spec §4.5:
// a flat frame stack (no Go-level recursion per ember call), a handler
// stack per frame for try/except/ensure, upvalue capture/closing, the
// attribute/subscript/operator dunder-dispatch protocols, and the
// mark-and-sweep collector's root set. The teacher (kristofer-smog) is a
// tree-walking Smalltalk VM dispatching SEND opcodes over a single global
// stack with no frame/handler separation at all; this package keeps its
// switch-dispatch, no-framework idiom but is otherwise a ground-up rewrite
// against the bytecode set of pkg/bytecode.
package vm

import (
	"fmt"
	"strings"

	"github.com/emberlang/ember/pkg/object"
)

// RuntimeError is what Run/RunFunction return to the host when an ember exception
// propagates past the outermost frame uncaught (spec §7.2: "the embedding
// API surfaces an uncaught exception as a Go error"). Message is the
// exception's rendered __str__; Trace is the snapshot taken at raise time.
type RuntimeError struct {
	ClassName string
	Message   string
	Trace     *object.StackTrace
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.ClassName, e.Message)
	if e.Trace != nil && len(e.Trace.Frames) > 0 {
		b.WriteString("\n")
		b.WriteString(e.Trace.String())
	}
	return b.String()
}
