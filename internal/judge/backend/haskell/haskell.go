//go:build haskell

// Package haskell compiles and runs solutions written in Haskell with GHC.
package haskell

import (
	"context"
	_ "embed"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"codejudge/internal/judge/backend"
	"codejudge/internal/judge/sandbox"
	"codejudge/internal/judge/sandbox/spec"
	"codejudge/internal/judge/value"
	appErr "codejudge/pkg/errors"
)

const (
	// Name identifies the language.
	Name = "haskell"

	solutionFile = "Solution.hs"
	harnessFile  = "Harness.hs"
	mainFile     = "Main.hs"
	binaryFile   = "main"
	buildDir     = "build"

	// ghc exits 1 for diagnostics; anything else is a toolchain failure.
	ghcDiagnosticsExit = 1
)

var (
	//go:embed Harness.hs
	harnessSource []byte
	//go:embed Main.hs
	mainSource []byte

	moduleHeader = regexp.MustCompile(`(?m)^module\s`)
)

// DefaultConfig is the toolchain setup used when nothing is configured.
func DefaultConfig() backend.Config {
	return backend.Config{
		BuildCommand: "ghc -O2 -outputdir {build} -o {bin} {main}",
		RunCommand:   "./{bin}",
		Env:          []string{"LC_ALL=C.UTF-8"},
		BuildLimits:  spec.ResourceLimit{WallTimeMs: 30000, CPUTimeMs: 30000, MemoryMB: 1024},
		RunLimits:    spec.ResourceLimit{WallTimeMs: 5000, CPUTimeMs: 5000, MemoryMB: 256},
	}
}

// Backend is the Haskell backend.
type Backend struct {
	cfg  backend.Config
	vars map[string]string
}

// New creates a Haskell backend, filling unset settings from DefaultConfig.
func New(cfg backend.Config) *Backend {
	return &Backend{
		cfg: cfg.WithDefaults(DefaultConfig()),
		vars: map[string]string{
			"src":   solutionFile,
			"main":  mainFile,
			"bin":   binaryFile,
			"build": buildDir,
		},
	}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Prepare(ctx context.Context, s backend.Session, source string) error {
	files := []struct {
		name string
		data []byte
	}{
		{solutionFile, []byte(withModuleHeader(source))},
		{harnessFile, harnessSource},
		{mainFile, mainSource},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(s.WorkDir(), f.name), f.data, 0644); err != nil {
			return appErr.Wrapf(err, appErr.PrepareError, "write %s failed", f.name)
		}
	}
	return nil
}

// withModuleHeader adds "module Solution where" to sources that omit it,
// after any leading pragmas and comments.
func withModuleHeader(source string) string {
	if moduleHeader.MatchString(source) {
		return source
	}
	lines := strings.SplitAfter(source, "\n")
	insertAt := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "{-#") || strings.HasPrefix(trimmed, "--") {
			if strings.HasPrefix(trimmed, "{-#") {
				insertAt = i + 1
			}
			continue
		}
		break
	}
	head := strings.Join(lines[:insertAt], "")
	if head != "" && !strings.HasSuffix(head, "\n") {
		head += "\n"
	}
	return head + "module Solution where\n\n" + strings.Join(lines[insertAt:], "")
}

func (b *Backend) Build(ctx context.Context, s backend.Session) error {
	cmd, err := backend.Command(b.cfg.BuildCommand, b.vars)
	if err != nil {
		return appErr.Wrapf(err, appErr.JudgeSystemError, "invalid build command")
	}
	res, err := s.Exec(ctx, sandbox.ExecRequest{
		Name:   "build",
		Cmd:    cmd,
		Env:    b.cfg.Env,
		Limits: b.cfg.BuildLimits,
	})
	if err != nil {
		return backend.ExecError(err, "build")
	}
	switch {
	case res.Succeeded():
		return nil
	case res.TimedOut || (res.ExitCode == ghcDiagnosticsExit && res.Signal == 0):
		return backend.CompileFailure(res, s.WorkDir())
	}
	return appErr.Newf(appErr.SandboxError, "ghc failed with status %d signal %d oom %t: %s",
		res.ExitCode, res.Signal, res.OomKilled, backend.Tail(backend.StripPath(res.Stderr, s.WorkDir()), b.cfg.StderrTailBytes))
}

func (b *Backend) Run(ctx context.Context, s backend.Session, inputs []value.Value) ([]value.Value, error) {
	cmd, err := backend.Command(b.cfg.RunCommand, b.vars)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "invalid run command")
	}
	var stdin strings.Builder
	for i, in := range inputs {
		lit, err := literal(in)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.InvalidValue, "input %d cannot be passed to Haskell: %v", i, err)
		}
		stdin.WriteString(lit)
		stdin.WriteByte('\n')
	}
	res, err := s.Exec(ctx, sandbox.ExecRequest{
		Name:   "run",
		Cmd:    cmd,
		Env:    b.cfg.Env,
		Stdin:  []byte(stdin.String()),
		Limits: b.cfg.RunLimits,
	})
	if err != nil {
		return nil, backend.ExecError(err, "run")
	}
	if err := backend.RunFailure(res, b.cfg.RunLimits, s.WorkDir(), b.cfg.StderrTailBytes); err != nil {
		return nil, err
	}
	return backend.DecodeOutput(res.Stdout)
}

// Cleanup removes object files and the binary.
func (b *Backend) Cleanup(ctx context.Context, s backend.Session) error {
	return errors.Join(
		os.RemoveAll(filepath.Join(s.WorkDir(), buildDir)),
		os.RemoveAll(filepath.Join(s.WorkDir(), binaryFile)),
	)
}
