package module

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveFlatFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "util.ember"), []byte("var x = 1"), 0644)

	r := NewRegistry([]string{dir}, nil)
	src, err := r.Resolve("util")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if src.Code != "var x = 1" {
		t.Fatalf("unexpected code: %q", src.Code)
	}
}

func TestResolvePackageDirTakesPriority(t *testing.T) {
	dir := t.TempDir()
	pkgDir := filepath.Join(dir, "pkg")
	os.MkdirAll(pkgDir, 0755)
	os.WriteFile(filepath.Join(pkgDir, "__package__.ember"), []byte("package body"), 0644)
	os.WriteFile(filepath.Join(dir, "pkg.ember"), []byte("flat file"), 0644)

	r := NewRegistry([]string{dir}, nil)
	src, err := r.Resolve("pkg")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if src.Code != "package body" {
		t.Fatalf("expected __package__.ember to win, got %q", src.Code)
	}
}

func TestResolveDottedNameJoinsSegments(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	os.MkdirAll(nested, 0755)
	os.WriteFile(filepath.Join(nested, "c.ember"), []byte("nested"), 0644)

	r := NewRegistry([]string{dir}, nil)
	src, err := r.Resolve("a.b.c")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if src.Code != "nested" {
		t.Fatalf("unexpected code: %q", src.Code)
	}
}

func TestResolveFallsBackToBuiltin(t *testing.T) {
	r := NewRegistry(nil, func(name string) (string, bool) {
		if name == "core" {
			return "builtin core source", true
		}
		return "", false
	})
	src, err := r.Resolve("core")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if src.Code != "builtin core source" {
		t.Fatalf("unexpected code: %q", src.Code)
	}
}

func TestResolveNotFound(t *testing.T) {
	r := NewRegistry([]string{t.TempDir()}, nil)
	_, err := r.Resolve("missing")
	if err == nil {
		t.Fatal("expected ErrNotFound")
	}
	if _, ok := err.(*ErrNotFound); !ok {
		t.Fatalf("expected *ErrNotFound, got %T", err)
	}
}

func TestResolveCachesResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.ember")
	os.WriteFile(path, []byte("v1"), 0644)

	r := NewRegistry([]string{dir}, nil)
	first, _ := r.Resolve("m")
	os.WriteFile(path, []byte("v2"), 0644)
	second, _ := r.Resolve("m")

	if first != second {
		t.Fatal("expected cached Source pointer to be reused")
	}
	if second.Code != "v1" {
		t.Fatalf("expected cached content v1, got %q", second.Code)
	}
}

func TestParentBindings(t *testing.T) {
	got := ParentBindings("a.b.c")
	want := []string{"a", "a.b"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestParentBindingsSingleSegment(t *testing.T) {
	if got := ParentBindings("leaf"); got != nil {
		t.Fatalf("expected nil for single-segment name, got %v", got)
	}
}
