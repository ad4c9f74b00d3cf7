// Package python runs solutions written in Python 3.
package python

import (
	"context"
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"

	"codejudge/internal/judge/backend"
	"codejudge/internal/judge/sandbox"
	"codejudge/internal/judge/sandbox/spec"
	"codejudge/internal/judge/value"
	appErr "codejudge/pkg/errors"
)

const (
	// Name identifies the language.
	Name = "python"

	solutionFile = "solution.py"
	mainFile     = "main.py"
	cacheDir     = "__pycache__"
)

//go:embed harness.py
var harness []byte

// DefaultConfig is the toolchain setup used when nothing is configured.
func DefaultConfig() backend.Config {
	return backend.Config{
		BuildCommand: "python3 -m py_compile {src}",
		RunCommand:   "python3 -B -E -s {main}",
		Env:          []string{"LC_ALL=C.UTF-8"},
		BuildLimits:  spec.ResourceLimit{WallTimeMs: 30000, CPUTimeMs: 30000, MemoryMB: 1024},
		RunLimits:    spec.ResourceLimit{WallTimeMs: 5000, CPUTimeMs: 5000, MemoryMB: 256},
	}
}

// Backend is the Python backend.
type Backend struct {
	cfg  backend.Config
	vars map[string]string
}

// New creates a Python backend, filling unset settings from DefaultConfig.
func New(cfg backend.Config) *Backend {
	return &Backend{
		cfg:  cfg.WithDefaults(DefaultConfig()),
		vars: map[string]string{"src": solutionFile, "main": mainFile},
	}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Prepare(ctx context.Context, s backend.Session, source string) error {
	files := []struct {
		name string
		data []byte
	}{
		{solutionFile, []byte(source)},
		{mainFile, harness},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(s.WorkDir(), f.name), f.data, 0644); err != nil {
			return appErr.Wrapf(err, appErr.PrepareError, "write %s failed", f.name)
		}
	}
	return nil
}

// Build byte-compiles the solution, which reports syntax errors without
// running any of it.
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
	if !res.Succeeded() {
		return backend.CompileFailure(res, s.WorkDir())
	}
	return nil
}

func (b *Backend) Run(ctx context.Context, s backend.Session, inputs []value.Value) ([]value.Value, error) {
	cmd, err := backend.Command(b.cfg.RunCommand, b.vars)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "invalid run command")
	}
	if inputs == nil {
		inputs = []value.Value{}
	}
	stdin, err := json.Marshal(inputs)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "encode inputs failed")
	}
	res, err := s.Exec(ctx, sandbox.ExecRequest{
		Name:   "run",
		Cmd:    cmd,
		Env:    b.cfg.Env,
		Stdin:  stdin,
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

// Cleanup drops the byte-code cache left by Build.
func (b *Backend) Cleanup(ctx context.Context, s backend.Session) error {
	return os.RemoveAll(filepath.Join(s.WorkDir(), cacheDir))
}
