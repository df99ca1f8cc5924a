// avm - runs, assembles and disassembles ABC units
package main

import (
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("abcvm.cli")

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: avm <command> [options] [units...]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run   Load units and run the entry script of the last one\n")
	fmt.Fprintf(os.Stderr, "  asm   Assemble a YAML unit into the binary unit format\n")
	fmt.Fprintf(os.Stderr, "  dis   Disassemble the method bodies of a unit\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  avm run                      # Run the project in ./abcvm.toml\n")
	fmt.Fprintf(os.Stderr, "  avm run lib.yaml main.yaml   # Load lib.yaml, run main.yaml\n")
	fmt.Fprintf(os.Stderr, "  avm run -vv --metrics x.abcu # Debug logging, print metrics\n")
	fmt.Fprintf(os.Stderr, "  avm asm -o main.abcu main.yaml\n")
	fmt.Fprintf(os.Stderr, "  avm dis main.abcu\n")
	fmt.Fprintf(os.Stderr, "\nRun 'avm <command> --help' for command options.\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	var code int
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		code = runCommand(args)
	case "asm":
		code = asmCommand(args)
	case "dis":
		code = disCommand(args)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "avm: unknown command %q\n\n", cmd)
		usage()
		code = exitUsage
	}
	os.Exit(code)
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "avm: %v\n", err)
	return exitError
}
