package vm

import (
	"strings"
	"testing"
)

// A generator function must not run its body at call time: calling it
// produces a Generator value, and the body only advances as something
// iterates it (callClosure's IsGenerator branch in call.go).
func TestGeneratorCallDoesNotRunBodyEagerly(t *testing.T) {
	src := `
var ran = false
fun gen() {
  ran = true
  yield 1
}
var g = gen()
if ran {
  raise Exception("generator body ran before it was iterated")
}
`
	v := newTestVM()
	if _, err := v.Run(src, "<test>"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

// The canonical case: a for-loop over a generator sees every yielded value
// in order, then stops once the body returns.
func TestGeneratorForEachSeesYieldedValuesInOrder(t *testing.T) {
	src := `
fun count(n) {
  var i = 0
  while i < n {
    yield i
    i = i + 1
  }
}
var out = []
for var v in count(3) {
  out.add(v)
}
if #out != 3 {
  raise Exception("expected three yielded values")
}
if out[0] != 0 or out[1] != 1 or out[2] != 2 {
  raise Exception("expected 0, 1, 2 in order")
}
`
	v := newTestVM()
	if _, err := v.Run(src, "<test>"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

// Resuming a generator must pick back up exactly where it suspended,
// including locals live across the yield (the operand stack the coroutine
// goroutine had when it blocked, per suspendForYield).
func TestGeneratorResumesWithLocalsIntact(t *testing.T) {
	src := `
fun pair() {
  var a = "first"
  yield a
  var b = a + "-second"
  yield b
}
var g = pair()
var one = g.next()
var two = g.next()
if one != "first" {
  raise Exception("expected first value to be 'first'")
}
if two != "first-second" {
  raise Exception("expected second value to be 'first-second'")
}
`
	v := newTestVM()
	if _, err := v.Run(src, "<test>"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

// Two independent generator instances from the same function must each
// keep their own suspended state: resuming one must never observe or
// disturb the other's locals or position, since each call to a generator
// function builds its own Generator with its own childVM/goroutine.
func TestGeneratorInstancesAreIndependent(t *testing.T) {
	src := `
fun count(start) {
  var i = start
  while true {
    yield i
    i = i + 1
  }
}
var a = count(0)
var b = count(100)
var firstA = a.next()
var firstB = b.next()
var secondA = a.next()
var secondB = b.next()
if firstA != 0 or secondA != 1 {
  raise Exception("expected a's own sequence 0, 1")
}
if firstB != 100 or secondB != 101 {
  raise Exception("expected b's own sequence 100, 101")
}
`
	v := newTestVM()
	if _, err := v.Run(src, "<test>"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

// Exhausting a generator through its __iter__/__next__ protocol leaves it
// finished; iterating it again (a fresh for-loop over the same value) must
// not re-run the body or yield stale values.
func TestGeneratorIsExhaustedAfterLastValue(t *testing.T) {
	src := `
fun one() {
  yield 42
}
var g = one()
for var v in g {
}
var again = 0
for var v in g {
  again = again + 1
}
if again != 0 {
  raise Exception("expected an exhausted generator to yield nothing more")
}
`
	v := newTestVM()
	if _, err := v.Run(src, "<test>"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

// An exception raised inside a generator body must propagate out of
// whichever call resumed it, not be swallowed as ordinary exhaustion.
func TestGeneratorRaiseInsidePropagatesOut(t *testing.T) {
	src := `
fun bad() {
  yield 1
  raise TypeException("deliberate failure inside generator")
}
for var v in bad() {
}
`
	v := newTestVM()
	_, err := v.Run(src, "<test>")
	if err == nil {
		t.Fatalf("expected the exception raised inside the generator body to propagate")
	}
	if !strings.Contains(err.Error(), "deliberate failure inside generator") {
		t.Fatalf("expected the original message to surface, got %v", err)
	}
}
