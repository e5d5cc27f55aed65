// Package test holds end-to-end scenario tests exercising ember's full
// lex/parse/compile/run pipeline through the embedding surface, mirroring
// the teacher's test/integration_test.go shape (one scenario per testable
// property rather than per package).
package test

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/emberlang/ember"
)

// captureStdout runs fn with os.Stdout redirected, returning everything
// `print` wrote. ember's builtins.go prints via fmt.Println(os.Stdout)
// directly (no logging framework, per the ambient-stack section), so this
// is the only way to observe its output short of a native override.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	old := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = old }()

	done := make(chan string, 1)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		done <- buf.String()
	}()

	fn()

	w.Close()
	os.Stdout = old
	return <-done
}

func newVM() *ember.VM {
	return ember.New(ember.Config{
		OnError: func(file string, line int, msg string) {},
	})
}

// Scenario 1 (SPEC_FULL.md §8): closure captures a mutated local.
func TestScenarioClosureCapturesMutatedLocal(t *testing.T) {
	src := `
fun mk() {
  var x = 1
  fun inc() {
    x = x + 1
    return x
  }
  return inc
}
var c = mk()
print(c())
print(c())
`
	out := captureStdout(t, func() {
		v := newVM()
		if _, err := v.Run(src, "<test>"); err != nil {
			t.Fatalf("run failed: %v", err)
		}
	})
	if out != "2\n3\n" {
		t.Fatalf("expected %q, got %q", "2\n3\n", out)
	}
}

// Scenario 2: ensure runs on both normal and exceptional exit.
func TestScenarioEnsureRunsOnBothExits(t *testing.T) {
	src := `
var log = []
fun f(raise_) {
  try {
    if raise_ {
      raise Exception("x")
    }
    return 1
  } ensure {
    log.add("e")
  }
}
f(false)
try {
  f(true)
} except Exception e {
  log.add("c")
}
print(log)
`
	out := captureStdout(t, func() {
		v := newVM()
		if _, err := v.Run(src, "<test>"); err != nil {
			t.Fatalf("run failed: %v", err)
		}
	})
	out = strings.TrimSpace(out)
	if !strings.Contains(out, "e") || !strings.Contains(out, "c") {
		t.Fatalf("expected log to contain both e and c entries, got %q", out)
	}
	// three entries total: e (normal exit), e (exceptional exit), c (except clause)
	if strings.Count(out, "e") != 2 {
		t.Fatalf("expected ensure to run exactly twice, got %q", out)
	}
}

// Scenario 3 (SPEC_FULL.md §8.3): foreach over a user-defined iterator using
// the spec's state-threaded protocol — __iter__ and __next__ are both
// invoked on the iterable itself with the current state, not on a separate
// iterator object: __iter__(s) advances the state (starting at null) or
// returns null to end the loop; __next__(s) reads the value at that state.
func TestScenarioForeachOverUserIterator(t *testing.T) {
	src := `
class R {
  construct(n) {
    this.n = n
  }
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
print(out)
`
	out := captureStdout(t, func() {
		v := newVM()
		if _, err := v.Run(src, "<test>"); err != nil {
			t.Fatalf("run failed: %v", err)
		}
	})
	out = strings.TrimSpace(out)
	if !strings.Contains(out, "0") || !strings.Contains(out, "1") || !strings.Contains(out, "2") {
		t.Fatalf("expected list containing 0, 1, 2, got %q", out)
	}
}

// Scenario 4: operator overload with reverse fallback.
func TestScenarioReverseOperatorFallback(t *testing.T) {
	src := `
class V {
  construct(x) {
    this.x = x
  }
  __radd__(o) {
    return V(o + this.x)
  }
}
print((10 + V(5)).x)
`
	out := captureStdout(t, func() {
		v := newVM()
		if _, err := v.Run(src, "<test>"); err != nil {
			t.Fatalf("run failed: %v", err)
		}
	})
	if strings.TrimSpace(out) != "15" {
		t.Fatalf("expected 15, got %q", out)
	}
}

// Scenario 5: break across an active try is a compile error mentioning
// "break" and "try".
func TestScenarioBreakAcrossTryIsCompileError(t *testing.T) {
	src := `
while true {
  try {
    break
  } except Exception e {
  }
}
`
	var messages []string
	v := ember.New(ember.Config{
		OnError: func(file string, line int, msg string) {
			messages = append(messages, msg)
		},
	})
	if _, err := v.Run(src, "<test>"); err == nil {
		t.Fatalf("expected a compile error")
	}
	found := false
	for _, m := range messages {
		if strings.Contains(m, "break") && strings.Contains(m, "try") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a diagnostic mentioning both break and try, got %v", messages)
	}
}

// Scenario 6: unpacking a mismatched-size sequence raises TypeException
// mentioning "unpack".
func TestScenarioUnpackMismatchRaisesTypeException(t *testing.T) {
	src := `var a, b, c = [1, 2]`
	v := newVM()
	_, err := v.Run(src, "<test>")
	if err == nil {
		t.Fatalf("expected a runtime exception")
	}
	msg := err.Error()
	if !strings.Contains(msg, "TypeException") {
		t.Fatalf("expected TypeException, got %q", msg)
	}
	if !strings.Contains(msg, "unpack") {
		t.Fatalf("expected message to mention 'unpack', got %q", msg)
	}
}
