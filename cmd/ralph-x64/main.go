package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/raymyers/ralph-x64/pkg/compiler"
	"github.com/raymyers/ralph-x64/pkg/config"
	"github.com/raymyers/ralph-x64/pkg/diag"
)

var version = "0.1.0"

const progName = "ralph-x64"

// Output and logging flags
var (
	outputPath string
	configPath string
	verbose    bool
)

// Debug flags for dumping intermediate representations
var (
	dIR  bool
	dSSA bool
	dLTL bool
	dAsm bool
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	rootCmd.SetArgs(normalizeFlags(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// singleDashFlags lists long flags also accepted with one dash, the way C
// compilers spell them.
var singleDashFlags = []string{"dir", "dssa", "dltl", "dasm", "fpic", "fPIC"}

// normalizeFlags converts single-dash flags like -dssa to --dssa. -fPIC is
// an alias of --fpic.
func normalizeFlags(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		result[i] = arg
		for _, name := range singleDashFlags {
			if arg == "-"+name {
				result[i] = "--" + strings.ToLower(name)
				break
			}
		}
	}
	return result
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	var flags *config.Flags
	rootCmd := &cobra.Command{
		Use:   progName + " [file]",
		Short: "ralph-x64 compiles C translation units to x86-64 assembly",
		Long: `ralph-x64 is the backend of a C compiler for x86-64 System V.
It reads a type-checked translation unit written as YAML, optimizes it
in SSA form, allocates registers and emits GNU assembler input.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			d := diag.NewPrinter(errOut, progName)
			opts, err := flags.Resolve(configPath)
			if err != nil {
				d.Print(err)
				return err
			}
			if err := compileFile(args[0], opts, out, errOut); err != nil {
				d.Print(err)
				return err
			}
			return nil
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write assembly to this file (- for stdout)")
	rootCmd.Flags().StringVar(&configPath, "config", "", "read options from a YAML file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every pipeline step to stderr")

	rootCmd.Flags().BoolVar(&dIR, "dir", false, "Dump generic IR")
	rootCmd.Flags().BoolVar(&dSSA, "dssa", false, "Dump optimized SSA")
	rootCmd.Flags().BoolVar(&dLTL, "dltl", false, "Dump allocated code")
	rootCmd.Flags().BoolVar(&dAsm, "dasm", false, "Dump assembly to stdout as well")

	flags = config.BindFlags(rootCmd.Flags())
	return rootCmd
}

// compileFile compiles one input. The assembly file is written only when
// the whole unit compiled.
func compileFile(filename string, opts *config.Options, out, errOut io.Writer) error {
	var (
		data []byte
		err  error
	)
	if filename == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(filename)
	}
	if err != nil {
		return diag.Input(filename, err)
	}

	c := compiler.New(opts)
	if verbose {
		c.Logf = func(format string, args ...any) {
			fmt.Fprintf(errOut, "%s: %s\n", progName, fmt.Sprintf(format, args...))
		}
	}
	var irDump, ssaDump, ltlDump bytes.Buffer
	if dIR {
		c.Dumps.IR = &irDump
	}
	if dSSA {
		c.Dumps.SSA = &ssaDump
	}
	if dLTL {
		c.Dumps.LTL = &ltlDump
	}
	unit, err := c.CompileYAML(data)
	if err != nil {
		return err
	}

	base := dumpBase(filename)
	for _, dump := range []struct {
		on  bool
		ext string
		buf *bytes.Buffer
	}{
		{dIR, ".ir", &irDump},
		{dSSA, ".ssa", &ssaDump},
		{dLTL, ".ltl", &ltlDump},
	} {
		if !dump.on {
			continue
		}
		if err := writeOutput(base+dump.ext, dump.buf.Bytes()); err != nil {
			return err
		}
	}

	var text bytes.Buffer
	if err := compiler.WriteAssembly(&text, unit); err != nil {
		return err
	}
	if dAsm {
		if _, err := out.Write(text.Bytes()); err != nil {
			return err
		}
	}
	dest := outputPath
	if dest == "" {
		dest = base + ".s"
	}
	if dest == "-" {
		if !dAsm {
			_, err = out.Write(text.Bytes())
		}
		return err
	}
	if err := writeOutput(dest, text.Bytes()); err != nil {
		return err
	}
	if verbose {
		fmt.Fprintf(errOut, "%s: wrote %s (%s, %d functions)\n",
			progName, dest, humanize.Bytes(uint64(text.Len())), len(unit.Program.Functions))
	}
	return nil
}

func writeOutput(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return diag.Input(path, err)
	}
	return nil
}

// dumpBase returns the input name without its extension, the stem of
// every output file. Standard input is named "stdin".
func dumpBase(filename string) string {
	if filename == "-" {
		return "stdin"
	}
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
