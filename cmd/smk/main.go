// The smk tool recompiles a disassembled Super Mario Kart program into LLVM
// IR assembly, ready to be handed to a downstream optimizer and object-file
// writer.
package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"

	"github.com/kr/pretty"
	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"

	"github.com/jvipond/smkrecomp/ast"
	"github.com/jvipond/smkrecomp/recompiler"
)

var (
	// dbg is a logger which logs debug messages with "smk:" prefix to
	// standard error.
	dbg = log.New(os.Stderr, term.MagentaBold("smk:")+" ", 0)
)

func main() {
	var (
		// quiet specifies whether to suppress non-error messages.
		quiet bool
		// dumpAST pretty-prints the parsed AST document to stderr before
		// translating it, for debugging disassembler output.
		dumpAST bool
		// trace enables the per-instruction debug trace (romCycle and
		// updateInstructionOutput calls).
		trace bool
	)
	flag.BoolVar(&quiet, "q", false, "suppress non-error messages")
	flag.BoolVar(&dumpAST, "dump-ast", false, "pretty-print the parsed AST before translating")
	flag.BoolVar(&trace, "trace", false, "emit per-instruction debug trace calls")
	flag.Parse()
	if quiet {
		dbg.SetOutput(ioutil.Discard)
	}

	args := flag.Args()
	if len(args) != 2 {
		log.Fatalf("usage: %s [OPTION]... AST_PATH TARGET", os.Args[0])
	}
	astPath, targetArg := args[0], args[1]

	if err := run(astPath, targetArg, dumpAST, trace); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(astPath, targetArg string, dumpAST, trace bool) error {
	target, err := recompiler.ParseTarget(targetArg)
	if err != nil {
		return errors.WithStack(err)
	}

	dbg.Printf("loading AST from %q", astPath)
	doc, err := ast.Load(astPath)
	if err != nil {
		return errors.WithStack(err)
	}
	if dumpAST {
		fmt.Fprintf(os.Stderr, "%# v\n", pretty.Formatter(doc))
	}

	rec := recompiler.New(doc, recompiler.WithDebugTrace(trace))
	module, err := rec.Translate(target)
	if err != nil {
		return errors.WithStack(err)
	}

	out, err := os.Create("smk.ll")
	if err != nil {
		return errors.WithStack(err)
	}
	defer out.Close()
	if _, err := module.WriteTo(out); err != nil {
		return errors.WithStack(err)
	}
	dbg.Printf("wrote %s", out.Name())
	return nil
}
