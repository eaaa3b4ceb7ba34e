package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"

	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ssa"
)

func TestDefault(t *testing.T) {
	o := Default()
	if err := o.Validate(); err != nil {
		t.Fatalf("default options invalid: %v", err)
	}
	if diff := cmp.Diff(ssa.DefaultPasses, o.PipelinePasses()); diff != "" {
		t.Errorf("passes mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelinePasses(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{"O0", Options{OptLevel: 0}, nil},
		{"O1", Options{OptLevel: 1}, ssa.DefaultPasses},
		{"explicit", Options{OptLevel: 0, Passes: []string{"mem2reg", "dce"}}, []string{"mem2reg", "dce"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.opts.PipelinePasses()); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse(t *testing.T) {
	o, err := Parse([]byte("opt: 0\njobs: 2\npasses: [mem2reg, dce]\ndebug: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.OptLevel = 0
	want.Jobs = 2
	want.Passes = []string{"mem2reg", "dce"}
	want.Debug = true
	if diff := cmp.Diff(want, o); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEmpty(t *testing.T) {
	o, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), o); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseUnknownKey(t *testing.T) {
	if _, err := Parse([]byte("optimise: 2\n")); err == nil {
		t.Error("expected an error for an unknown key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"level", func(o *Options) { o.OptLevel = 3 }},
		{"jobs", func(o *Options) { o.Jobs = 0 }},
		{"budget", func(o *Options) { o.IterationBudget = 0 }},
		{"density", func(o *Options) { o.JumpTableDensity = 1.5 }},
		{"min cases", func(o *Options) { o.JumpTableMinCases = 0 }},
		{"pass", func(o *Options) { o.Passes = []string{"inline"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Default()
			tt.modify(o)
			err := o.Validate()
			var e *diag.Error
			if !errors.As(err, &e) || e.Class != diag.User {
				t.Errorf("err = %v, want a user error", err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ralph.yaml")
	if err := os.WriteFile(path, []byte("opt: 0\njobs: 3\npic: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		args []string
		path string
		want func(*Options)
	}{
		{
			name: "defaults",
			want: func(*Options) {},
		},
		{
			name: "flags",
			args: []string{"-O0", "-g", "--jobs", "5"},
			want: func(o *Options) { o.OptLevel, o.Debug, o.Jobs = 0, true, 5 },
		},
		{
			name: "file",
			path: path,
			want: func(o *Options) { o.OptLevel, o.Jobs = 0, 3 },
		},
		{
			name: "flags override file",
			args: []string{"-j", "1", "-O1"},
			path: path,
			want: func(o *Options) { o.Jobs = 1 },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
			flags := BindFlags(fs)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatal(err)
			}
			got, err := flags.Resolve(tt.path)
			if err != nil {
				t.Fatal(err)
			}
			want := Default()
			if tt.path != "" {
				want.PIC = true
			}
			tt.want(want)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveInvalid(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := BindFlags(fs)
	if err := fs.Parse([]string{"--passes", "mem2reg,nope"}); err != nil {
		t.Fatal(err)
	}
	if _, err := flags.Resolve(""); err == nil {
		t.Error("expected an error for an unknown pass")
	}
}

func TestResolveMissingFile(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := BindFlags(fs)
	if _, err := flags.Resolve(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not exist", err)
	}
}
