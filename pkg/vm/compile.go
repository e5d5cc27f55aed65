package vm

import (
	"github.com/emberlang/ember/pkg/ast"
	"github.com/emberlang/ember/pkg/bytecode"
	"github.com/emberlang/ember/pkg/compiler"
	"github.com/emberlang/ember/pkg/parser"
)

// compileSource runs the full lexer->parser->compiler pipeline for one
// module's source text (spec §4: "single-pass compiler" sitting atop the
// parser's AST). Parse and compile errors are both reported through onErr
// and returned as a flat string slice; ok is false if either stage failed.
func compileSource(src, moduleName, file string, onErr func(file string, line int, msg string)) (*bytecode.Function, []string, bool) {
	arena := ast.NewArena()
	defer arena.Free()
	p := parser.New(src, file, arena, parser.ErrorCallback(onErr))
	prog, perrs := p.Parse()
	if prog == nil {
		return nil, perrs, false
	}
	fn, cerrs := compiler.Compile(prog, moduleName, file, compiler.ErrorCallback(onErr))
	errs := append(perrs, cerrs...)
	if len(cerrs) > 0 {
		return nil, errs, false
	}
	return fn, errs, true
}
