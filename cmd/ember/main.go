// Command ember is the runtime's CLI: run/compile/disassemble a script, or
// start a REPL, in the same shape as the teacher's cmd/smog/main.go (hand
// parsed os.Args, no flag/cobra framework — spec.md's ambient CLI section).
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/emberlang/ember"
	"github.com/emberlang/ember/pkg/bytecode"
)

const version = "0.1.0"

// newCLIVM builds a VM that searches dir for imports, printing compile
// diagnostics to stderr as they are reported (spec.md §6 error callback).
func newCLIVM(dir string) *ember.VM {
	return ember.New(ember.Config{
		ImportPaths: []string{dir},
		OnError: func(file string, line int, msg string) {
			fmt.Fprintf(os.Stderr, "%s:%d: %s\n", file, line, msg)
		},
	})
}

func main() {
	if len(os.Args) < 2 {
		runREPL()
		return
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		fmt.Printf("ember version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	case "repl":
		runREPL()
	case "run":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "error: no file specified")
			printUsage()
			os.Exit(1)
		}
		runFile(os.Args[2])
	case "compile":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "error: no file specified")
			fmt.Fprintln(os.Stderr, "usage: ember compile <input.ember> [output.emb]")
			os.Exit(1)
		}
		out := ""
		if len(os.Args) >= 4 {
			out = os.Args[3]
		}
		compileFile(os.Args[2], out)
	case "disassemble", "disasm":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "error: no file specified")
			fmt.Fprintln(os.Stderr, "usage: ember disassemble <input.ember|input.emb>")
			os.Exit(1)
		}
		disassembleFile(os.Args[2])
	default:
		runFile(os.Args[1])
	}
}

func printUsage() {
	fmt.Println("ember - an embeddable scripting language runtime")
	fmt.Println()
	fmt.Println("usage:")
	fmt.Println("  ember                          start the interactive REPL")
	fmt.Println("  ember [file]                   run a .ember source file or .emb bytecode file")
	fmt.Println("  ember run <file>               same as above")
	fmt.Println("  ember compile <in> [out]       compile .ember source to .emb bytecode")
	fmt.Println("  ember disassemble <file>       print a bytecode listing")
	fmt.Println("  ember repl                     start the interactive REPL")
	fmt.Println("  ember version                  print the runtime version")
	fmt.Println("  ember help                     print this message")
	fmt.Println()
	fmt.Println("file extensions:")
	fmt.Println("  .ember   source text")
	fmt.Println("  .emb     compiled bytecode")
}

func runFile(filename string) {
	if filepath.Ext(filename) == ".emb" {
		runBytecodeFile(filename)
		return
	}
	runSourceFile(filename)
}

func runSourceFile(filename string) {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading file: %v\n", err)
		os.Exit(1)
	}
	v := newCLIVM(filepath.Dir(filename))
	if _, err := v.Run(string(data), filename); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runBytecodeFile(filename string) {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading file: %v\n", err)
		os.Exit(1)
	}
	fn, err := bytecode.Deserialize(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading bytecode: %v\n", err)
		os.Exit(1)
	}
	v := newCLIVM(filepath.Dir(filename))
	if _, err := v.RunCompiled(ember.NewFunction(fn), "__main__"); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func compileFile(inputFile, outputFile string) {
	if outputFile == "" {
		ext := filepath.Ext(inputFile)
		outputFile = strings.TrimSuffix(inputFile, ext) + ".emb"
	}
	data, err := os.ReadFile(inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading file: %v\n", err)
		os.Exit(1)
	}
	v := newCLIVM(filepath.Dir(inputFile))
	fn, err := v.Compile(string(data), "__main__", inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	encoded, err := bytecode.Serialize(fn.Raw())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error encoding bytecode: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(outputFile, encoded, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing output file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("compiled %s -> %s\n", inputFile, outputFile)
}

func disassembleFile(filename string) {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading file: %v\n", err)
		os.Exit(1)
	}
	var fn *bytecode.Function
	if filepath.Ext(filename) == ".emb" {
		fn, err = bytecode.Deserialize(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error loading bytecode: %v\n", err)
			os.Exit(1)
		}
	} else {
		v := newCLIVM(filepath.Dir(filename))
		compiled, cerr := v.Compile(string(data), "__main__", filename)
		if cerr != nil {
			fmt.Fprintf(os.Stderr, "%v\n", cerr)
			os.Exit(1)
		}
		fn = compiled.Raw()
	}
	fmt.Print(bytecode.Disassemble(fn))
}

// historyFile persists REPL input across sessions, mirroring the line-editor
// setup in the pack's go-probeum console (cmd/geth/consolecmd.go uses the
// same peterh/liner history-file pattern for its JS console).
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ember_history")
}

func runREPL() {
	fmt.Printf("ember REPL v%s\n", version)
	fmt.Println("Enter ember statements; :quit or :exit to leave, :help for help.")
	fmt.Println()

	v := newCLIVM(".")

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	hist := historyFile()
	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}

	for {
		input, err := line.Prompt("ember> ")
		if err != nil {
			break
		}
		input = strings.TrimSpace(input)
		switch input {
		case ":quit", ":exit":
			saveHistory(line, hist)
			return
		case ":help":
			printREPLHelp()
			continue
		case "":
			continue
		}
		line.AppendHistory(input)
		if _, err := v.Run(input, "<repl>"); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
	saveHistory(line, hist)
}

func saveHistory(line *liner.State, hist string) {
	if hist == "" {
		return
	}
	f, err := os.Create(hist)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}

func printREPLHelp() {
	fmt.Println("commands:")
	fmt.Println("  :help     show this help message")
	fmt.Println("  :quit     leave the REPL")
	fmt.Println("  :exit     leave the REPL")
	fmt.Println()
	fmt.Println("each line is compiled and run as a statement against the same")
	fmt.Println("persistent module, so globals declared earlier stay in scope.")
}
