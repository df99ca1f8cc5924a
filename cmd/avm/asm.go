package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/abcvm/unit"
	"github.com/chazu/abcvm/vm"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
)

func asmCommand(args []string) int {
	fs := flag.NewFlagSet("asm", flag.ContinueOnError)
	output := fs.StringP("output", "o", "", "Output file (default: the input with a .abcu extension)")
	name := fs.String("name", "", "Unit name when the document does not set one")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: avm asm [options] unit.yaml\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}

	in := fs.Arg(0)
	src, err := os.ReadFile(in)
	if err != nil {
		return fail(err)
	}
	stem := strings.TrimSuffix(in, filepath.Ext(in))
	if *name == "" {
		*name = filepath.Base(stem)
	}
	u, err := unit.Assemble(*name, src)
	if err != nil {
		return fail(errors.Wrap(err, in))
	}

	out := *output
	if out == "" {
		out = stem + ".abcu"
	}
	if err := unit.SaveFile(out, u); err != nil {
		return fail(err)
	}
	log.Infof("assembled %s -> %s", in, out)
	return exitOK
}

func disCommand(args []string) int {
	fs := flag.NewFlagSet("dis", flag.ContinueOnError)
	method := fs.IntP("method", "M", -1, "Only disassemble this method index")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: avm dis [options] unit\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}

	u, err := unit.LoadFile(fs.Arg(0))
	if err != nil {
		return fail(err)
	}
	if err := disassembleUnit(os.Stdout, u, *method); err != nil {
		return fail(err)
	}
	return exitOK
}

// disassembleUnit prints every method body of u, or only method only when
// it is not negative.
func disassembleUnit(w io.Writer, u *vm.Unit, only int) error {
	fmt.Fprintf(w, "; unit %q: %d methods, %d classes, %d scripts\n", u.Name, len(u.Pool.Methods), len(u.Classes), len(u.Scripts))
	for i := range u.Bodies {
		body := &u.Bodies[i]
		if only >= 0 && int(body.Method) != only {
			continue
		}
		fmt.Fprintf(w, "\nmethod %d %s\n", body.Method, u.MethodName(body.Method))
		fmt.Fprintf(w, "  ; max_stack %d, locals %d, scope %d..%d, %d bytes\n",
			body.MaxStack, body.LocalCount, body.InitScopeDepth, body.MaxScopeDepth, len(body.Code))

		listing, err := vm.Disassemble(body.Code, &u.Pool)
		for _, line := range strings.Split(strings.TrimRight(listing, "\n"), "\n") {
			if line != "" {
				fmt.Fprintf(w, "  %s\n", line)
			}
		}
		if err != nil {
			return errors.Wrapf(err, "method %d", body.Method)
		}

		for _, h := range body.Exceptions {
			fmt.Fprintf(w, "  ; handler %04d..%04d -> %04d", h.From, h.To, h.Target)
			if h.ExcType != 0 {
				if q, err := u.Pool.QName(h.ExcType); err == nil {
					fmt.Fprintf(w, " catches %s", q)
				}
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}
