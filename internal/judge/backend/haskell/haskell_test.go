//go:build haskell

package haskell_test

import (
	"context"
	"os/exec"
	"reflect"
	"strings"
	"testing"

	"codejudge/internal/judge/backend"
	"codejudge/internal/judge/backend/backendtest"
	"codejudge/internal/judge/backend/haskell"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
	"codejudge/internal/judge/value"
	appErr "codejudge/pkg/errors"
)

func TestBuildClassification(t *testing.T) {
	cases := []struct {
		name string
		res  result.RunResult
		want appErr.ErrorCode
	}{
		{name: "ok", res: result.RunResult{}, want: appErr.Success},
		{name: "diagnostics", res: result.RunResult{ExitCode: 1, Stderr: "/w/Solution.hs:2:1: error"}, want: appErr.CompilationError},
		{name: "timeout", res: result.RunResult{ExitCode: -1, TimedOut: true}, want: appErr.CompilationError},
		{name: "ghc crashed", res: result.RunResult{ExitCode: 2}, want: appErr.SandboxError},
		{name: "ghc killed", res: result.RunResult{ExitCode: -1, Signal: 9, OomKilled: true}, want: appErr.SandboxError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &backendtest.ScriptedSession{Dir: "/w", Results: []result.RunResult{tc.res}}
			err := haskell.New(backend.Config{}).Build(context.Background(), s)
			if got := appErr.GetCode(err); got != tc.want {
				t.Fatalf("got %v (%v), want %v", got, err, tc.want)
			}
			if strings.Join(s.Requests[0].Cmd, " ") != "ghc -O2 -outputdir build -o main Main.hs" {
				t.Fatalf("unexpected build command %q", s.Requests[0].Cmd)
			}
		})
	}
}

func TestRunPassesLiterals(t *testing.T) {
	s := &backendtest.ScriptedSession{
		Dir:     "/w",
		Results: []result.RunResult{{Stdout: `[{"valueType":"int","value":"5"}]`}},
	}
	out, err := haskell.New(backend.Config{}).Run(context.Background(), s, []value.Value{
		{Type: value.Int, Raw: "-5"},
		{Type: value.String, Raw: "hi"},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !reflect.DeepEqual(out, []value.Value{{Type: value.Int, Raw: "5"}}) {
		t.Fatalf("unexpected output %v", out)
	}
	if got := string(s.Requests[0].Stdin); got != "-5\n\"hi\"\n" {
		t.Fatalf("unexpected stdin %q", got)
	}
	if strings.Join(s.Requests[0].Cmd, " ") != "./main" {
		t.Fatalf("unexpected run command %q", s.Requests[0].Cmd)
	}
}

func TestHarnessEndToEnd(t *testing.T) {
	if _, err := exec.LookPath("ghc"); err != nil {
		t.Skip("ghc not installed")
	}
	ctx := context.Background()
	s := backendtest.NewLocalSession(t.TempDir())
	b := haskell.New(backend.Config{
		BuildLimits: spec.ResourceLimit{WallTimeMs: 300000},
		RunLimits:   spec.ResourceLimit{WallTimeMs: 5000},
	})
	source := "solution :: Int -> String -> (Int, [String], Bool)\nsolution n s = (negate n, replicate 2 s, n < 0)\n"
	if err := b.Prepare(ctx, s, source); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if err := b.Build(ctx, s); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	out, err := b.Run(ctx, s, []value.Value{{Type: value.Int, Raw: "-5"}, {Type: value.String, Raw: "a\"é"}})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	want := []value.Value{
		{Type: value.Int, Raw: "5"},
		{Type: value.List, Raw: `["a\"é","a\"é"]`},
		{Type: value.Bool, Raw: "true"},
	}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("got %v, want %v", out, want)
	}
	if err := b.Cleanup(ctx, s); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
}
