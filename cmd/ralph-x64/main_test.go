package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const addUnit = `name: add.c
functions:
  - name: add
    returns: int
    params: [{name: a, type: int}, {name: b, type: int}]
    body:
      - return: {add: [a, b]}
`

// resetFlags restores the package-level flags between commands.
func resetFlags() {
	outputPath, configPath, verbose = "", "", false
	dIR, dSSA, dLTL, dAsm = false, false, false, false
}

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(normalizeFlags(args))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	if version == "" {
		t.Error("version should not be empty")
	}
}

func TestFlagsExist(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	for _, name := range []string{"output", "config", "verbose", "dir", "dssa", "dltl", "dasm", "opt", "debug", "fpic", "jobs", "passes"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected flag --%s to exist", name)
		}
	}
}

func TestNormalizeFlags(t *testing.T) {
	got := normalizeFlags([]string{"-dssa", "-fPIC", "-fpic", "-O0", "-dltl", "x.yaml"})
	want := []string{"--dssa", "--fpic", "--fpic", "-O0", "--dltl", "x.yaml"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestNoArgsPrintsHelp(t *testing.T) {
	out, _, err := execute(t)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Usage:") {
		t.Errorf("expected usage, got %q", out)
	}
}

func TestCompileDefaultOutput(t *testing.T) {
	input := writeInput(t, "add.yaml", addUnit)
	if _, errOut, err := execute(t, input); err != nil {
		t.Fatalf("compile failed: %v\n%s", err, errOut)
	}
	data, err := os.ReadFile(strings.TrimSuffix(input, ".yaml") + ".s")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "add:\n") {
		t.Errorf("expected add in output, got:\n%s", data)
	}
}

func TestCompileToStdout(t *testing.T) {
	input := writeInput(t, "add.yaml", addUnit)
	out, _, err := execute(t, "-o", "-", "-fPIC", input)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "\t.globl\tadd\n") {
		t.Errorf("expected assembly on stdout, got %q", out)
	}
	if _, err := os.Stat(strings.TrimSuffix(input, ".yaml") + ".s"); !os.IsNotExist(err) {
		t.Error("assembly file written despite -o -")
	}
}

func TestDumpFlags(t *testing.T) {
	input := writeInput(t, "add.yaml", addUnit)
	out, _, err := execute(t, "-dir", "-dssa", "-dltl", "-dasm", input)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "add:\n") {
		t.Errorf("-dasm should print the assembly, got %q", out)
	}
	base := strings.TrimSuffix(input, ".yaml")
	for _, ext := range []string{".ir", ".ssa", ".ltl", ".s"} {
		data, err := os.ReadFile(base + ext)
		if err != nil {
			t.Errorf("missing %s dump: %v", ext, err)
			continue
		}
		if !strings.Contains(string(data), "add") {
			t.Errorf("%s dump does not mention add:\n%s", ext, data)
		}
	}
}

func TestVerbose(t *testing.T) {
	input := writeInput(t, "add.yaml", addUnit)
	_, errOut, err := execute(t, "--verbose", "-o", filepath.Join(t.TempDir(), "out.s"), input)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"ralph-x64: ssa: add:", "ralph-x64: regalloc: add:", "ralph-x64: wrote ", " 1 functions)"} {
		if !strings.Contains(errOut, want) {
			t.Errorf("expected %q in log, got:\n%s", want, errOut)
		}
	}
}

func TestConfigFile(t *testing.T) {
	input := writeInput(t, "add.yaml", addUnit)
	cfg := writeInput(t, "opts.yaml", "debug: true\njobs: 1\n")
	out, _, err := execute(t, "--config", cfg, "-o", "-", input)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "\t.loc\t") {
		t.Errorf("debug from config file not applied:\n%s", out)
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    func(t *testing.T) []string
		wantMsg string
	}{
		{
			name:    "missing file",
			args:    func(t *testing.T) []string { return []string{filepath.Join(t.TempDir(), "none.yaml")} },
			wantMsg: "ralph-x64: error: ",
		},
		{
			name: "undeclared identifier",
			args: func(t *testing.T) []string {
				return []string{writeInput(t, "bad.yaml", "name: bad.c\nfunctions:\n  - name: f\n    returns: int\n    body: [{return: nope}]\n")}
			},
			wantMsg: "undeclared identifier",
		},
		{
			name: "bad option",
			args: func(t *testing.T) []string {
				return []string{"--jobs", "0", writeInput(t, "add.yaml", addUnit)}
			},
			wantMsg: "jobs must be at least 1",
		},
		{
			name: "bad config key",
			args: func(t *testing.T) []string {
				return []string{"--config", writeInput(t, "c.yaml", "speed: 11\n"), writeInput(t, "add.yaml", addUnit)}
			},
			wantMsg: "speed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := tt.args(t)
			_, errOut, err := execute(t, args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(errOut, tt.wantMsg) {
				t.Errorf("expected %q in %q", tt.wantMsg, errOut)
			}
		})
	}
}

func TestNoPartialOutput(t *testing.T) {
	input := writeInput(t, "bad.yaml", "name: bad.c\nfunctions:\n  - name: f\n    returns: int\n    body: [{return: nope}]\n")
	dest := filepath.Join(t.TempDir(), "out.s")
	if _, _, err := execute(t, "-o", dest, input); err == nil {
		t.Fatal("expected an error")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("output written for a failed unit: %v", err)
	}
}
