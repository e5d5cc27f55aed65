package vm

import (
	"strings"
	"testing"
)

func newTestVM() *VM {
	return New(Config{OnError: func(file string, line int, msg string) {}})
}

// A handler resumed inline, directly inside the try body that raised, must
// not have an extra stale value pushed on top of what the handler expects —
// the bug this session's self-pushing-helper refactor fixed. getAttr on a
// missing field is the simplest way to raise from directly inside a try.
func TestGetAttrRaiseHandledInline(t *testing.T) {
	src := `
class C {
  construct() {}
}
var result = 0
try {
  var x = C().nope
} except FieldException e {
  result = 1
}
print(result)
`
	v := newTestVM()
	if _, err := v.Run(src, "<test>"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

// Same shape for subscriptGet: an out-of-range index raised and caught
// inline must leave the stack clean enough for the statement after the try
// to run without a bogus leftover value tripping an assertion.
func TestSubscriptGetRaiseHandledInline(t *testing.T) {
	src := `
var ok = false
try {
  var v = [1, 2][10]
} except IndexOutOfBoundException e {
  ok = true
}
if !ok {
  raise Exception("handler did not run")
}
var after = 1 + 1
if after != 2 {
  raise Exception("stack corrupted after handled raise")
}
`
	v := newTestVM()
	if _, err := v.Run(src, "<test>"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

// raise Exception("msg") must work: Exception needs its own construct
// method (this session's fix) and callClass must hand a native constructor
// the instance it is building (the callNativeMethod fix).
func TestRaiseExceptionWithMessage(t *testing.T) {
	src := `
try {
  raise Exception("boom")
} except Exception e {
  print(e.message)
}
`
	v := newTestVM()
	if _, err := v.Run(src, "<test>"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

// raise Exception() with zero arguments must also be legal (DefaultCount: 1
// on the native construct), not just the one-argument form.
func TestRaiseExceptionWithNoMessage(t *testing.T) {
	src := `
try {
  raise Exception()
} except Exception e {
  print("caught")
}
`
	v := newTestVM()
	if _, err := v.Run(src, "<test>"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

// __iter__ and __next__ must both be called on the iterable itself, with
// the current state threaded between calls (spec §4.4/§4.5), not on some
// separate iterator object obtained once up front.
func TestForEachThreadsStateThroughIterableItself(t *testing.T) {
	src := `
class Once {
  construct() { this.calls = 0 }
  __iter__(s) {
    this.calls = this.calls + 1
    if s == null {
      return 0
    }
    return null
  }
  __next__(s) {
    return 42
  }
}
var seen = []
var o = Once()
for var v in o {
  seen.add(v)
}
if #seen != 1 {
  raise Exception("expected exactly one value")
}
if o.calls != 2 {
  raise Exception("expected __iter__ called twice: once to start, once to end")
}
`
	v := newTestVM()
	if _, err := v.Run(src, "<test>"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

// An iteration state of 0 (falsy in many languages, but not null/false) must
// not end the loop: only null or false does (spec §9 glossary, "Iteration
// state").
func TestForEachStateZeroIsNotExhaustion(t *testing.T) {
	src := `
class R {
  construct(n) { this.n = n }
  __iter__(s) {
    if s == null {
      return 0
    }
    if s < this.n - 1 {
      return s + 1
    }
    return null
  }
  __next__(s) {
    return s
  }
}
var out = []
for var v in R(3) {
  out.add(v)
}
if #out != 3 {
  raise Exception("expected three values, including the falsy state 0")
}
`
	v := newTestVM()
	if _, err := v.Run(src, "<test>"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

// Any exception raised from __iter__/__next__ must propagate normally.
func TestExceptionFromIteratorPropagates(t *testing.T) {
	src := `
class Bad {
  __iter__(s) {
    raise TypeException("deliberate")
  }
  __next__(s) {
    return s
  }
}
for var v in Bad() {
  print(v)
}
`
	v := newTestVM()
	_, err := v.Run(src, "<test>")
	if err == nil {
		t.Fatalf("expected the TypeException raised from __iter__ to propagate")
	}
	if !strings.Contains(err.Error(), "TypeException") {
		t.Fatalf("expected TypeException in error, got %v", err)
	}
}

// Builtin sequence iteration (List) must still work through the same
// state-threaded protocol as user classes, now implemented directly on
// List's own __iter__/__next__ rather than a separate iterator object.
func TestForEachOverBuiltinList(t *testing.T) {
	src := `
var out = []
for var v in [10, 20, 30] {
  out.add(v)
}
if #out != 3 {
  raise Exception("expected three values")
}
if out[0] != 10 {
  raise Exception("expected first element 10")
}
`
	v := newTestVM()
	if _, err := v.Run(src, "<test>"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

// Table iteration with two loop variables must destructure each (key,
// value) pair __next__ produces.
func TestForEachOverTableDestructuresPairs(t *testing.T) {
	src := `
var t = {"a": 1}
var seenKey = ""
var seenVal = 0
for var k, v in t {
  seenKey = k
  seenVal = v
}
if seenKey != "a" {
  raise Exception("expected key a")
}
if seenVal != 1 {
  raise Exception("expected value 1")
}
`
	v := newTestVM()
	if _, err := v.Run(src, "<test>"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

// print() must propagate an unhandled exception raised from a user __str__
// rather than silently falling back to the default rendering.
func TestPrintPropagatesStrException(t *testing.T) {
	src := `
class Bad {
  __str__() {
    raise Exception("str blew up")
  }
}
print(Bad())
`
	v := newTestVM()
	_, err := v.Run(src, "<test>")
	if err == nil {
		t.Fatalf("expected print to propagate the exception raised by __str__")
	}
	if !strings.Contains(err.Error(), "str blew up") {
		t.Fatalf("expected the original message to surface, got %v", err)
	}
}

// str() must do the same.
func TestStrPropagatesStrException(t *testing.T) {
	src := `
class Bad {
  __str__() {
    raise Exception("str blew up")
  }
}
var s = str(Bad())
`
	v := newTestVM()
	_, err := v.Run(src, "<test>")
	if err == nil {
		t.Fatalf("expected str() to propagate the exception raised by __str__")
	}
}

// When __str__ succeeds, print must still use its result rather than the
// default formatting.
func TestPrintUsesUserStr(t *testing.T) {
	src := `
class Point {
  construct(x, y) {
    this.x = x
    this.y = y
  }
  __str__() {
    return "Point(" + str(this.x) + ", " + str(this.y) + ")"
  }
}
print(Point(1, 2))
`
	v := newTestVM()
	if _, err := v.Run(src, "<test>"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}
