// Package module implements ember's import resolution (spec §6 "Module
// search"): given a dotted name `a.b.c`, search each entry of an import
// path list for `<path>/a/b/c/__package__.ember` then `<path>/a/b/c.ember`,
// falling back to a built-in name table shipped with the runtime, and
// caching already-resolved modules by fully qualified name.
//
// The teacher has no import system at all (`pkg/vm/vm.go` is a single
// compiled unit with no module boundary), so this package is grounded on
// spec §6's prose directly, written in the teacher's plain-stdlib,
// no-framework manner (os/path-filepath, no fsnotify or afero).
package module

import (
	"os"
	"path/filepath"
	"strings"
)

// Source is what a successful resolution hands back to the compiler: the
// module's source text, the file path it came from (for stack traces), and
// its fully qualified dotted name.
type Source struct {
	Code string
	Path string
	Name string
}

// BuiltinLoader supplies source for names the runtime ships inline (the
// "built-in name table" of spec §6) rather than reading them from disk.
type BuiltinLoader func(name string) (string, bool)

// Registry resolves dotted module names to Source, caching by fully
// qualified name so re-importing a module already seen is a cache hit
// rather than a re-read (spec §2: "the Import / module registry... caches
// modules").
type Registry struct {
	searchPaths []string
	builtins    BuiltinLoader
	cache       map[string]*Source
}

func NewRegistry(searchPaths []string, builtins BuiltinLoader) *Registry {
	return &Registry{
		searchPaths: searchPaths,
		builtins:    builtins,
		cache:       make(map[string]*Source),
	}
}

// ErrNotFound is a sentinel distinguishing "module does not exist" from a
// genuine I/O error while reading a candidate file.
type ErrNotFound struct{ Name string }

func (e *ErrNotFound) Error() string { return "module not found: " + e.Name }

// Resolve looks up a dotted module name, consulting the cache, then the
// search-path file-probe sequence, then the builtin table.
func (r *Registry) Resolve(name string) (*Source, error) {
	if cached, ok := r.cache[name]; ok {
		return cached, nil
	}

	parts := strings.Split(name, ".")
	relDir := filepath.Join(parts...)

	for _, base := range r.searchPaths {
		pkgPath := filepath.Join(base, relDir, "__package__.ember")
		if code, err := readFile(pkgPath); err == nil {
			src := &Source{Code: code, Path: pkgPath, Name: name}
			r.cache[name] = src
			return src, nil
		}
		filePath := filepath.Join(base, relDir+".ember")
		if code, err := readFile(filePath); err == nil {
			src := &Source{Code: code, Path: filePath, Name: name}
			r.cache[name] = src
			return src, nil
		}
	}

	if r.builtins != nil {
		if code, ok := r.builtins(name); ok {
			src := &Source{Code: code, Path: "<builtin>/" + name, Name: name}
			r.cache[name] = src
			return src, nil
		}
	}

	return nil, &ErrNotFound{Name: name}
}

// Register pre-seeds the cache, used for synthetic or host-injected modules
// (e.g. the entry script itself, registered under a synthetic name) that
// never go through file resolution.
func (r *Registry) Register(src *Source) {
	r.cache[src.Name] = src
}

// ParentBindings returns the dotted prefixes of name that should receive a
// binding pointing at the leaf module once it is loaded (spec §6: "the
// resolved module is registered under its fully qualified name; parent
// packages receive a binding for the leaf").
func ParentBindings(name string) []string {
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return nil
	}
	out := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		out = append(out, strings.Join(parts[:i], "."))
	}
	return out
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
