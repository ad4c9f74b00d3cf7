// Package backend defines the contract between the judge and the single
// language toolchain linked into a build.
package backend

import (
	"context"
	"errors"

	"codejudge/internal/judge/sandbox"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
	"codejudge/internal/judge/value"
	appErr "codejudge/pkg/errors"
)

// Session is the part of a sandbox session a backend may use.
type Session interface {
	WorkDir() string
	Exec(ctx context.Context, req sandbox.ExecRequest) (result.RunResult, error)
}

// Backend prepares, builds and runs solutions written in one language.
//
// Errors carry pkg/errors codes: PrepareError from Prepare, CompilationError
// from Build, and RuntimeError, TimeLimitExceeded, MemoryLimitExceeded,
// OutputLimitExceeded or WrongAnswer from Run. Any other error is a fault of
// the judge itself.
type Backend interface {
	// Name is the language identifier, e.g. "python".
	Name() string
	// Prepare writes the solution and harness into the session work dir.
	Prepare(ctx context.Context, s Session, source string) error
	// Build compiles or syntax-checks the prepared solution.
	Build(ctx context.Context, s Session) error
	// Run executes the solution once with inputs and returns what it produced.
	// Calls are independent of each other.
	Run(ctx context.Context, s Session, inputs []value.Value) ([]value.Value, error)
	// Cleanup removes build artifacts. Failures are logged, never surfaced.
	Cleanup(ctx context.Context, s Session) error
}

// Config holds the toolchain settings of a backend.
type Config struct {
	// BuildCommand and RunCommand are shell-like templates, see Command.
	BuildCommand string             `yaml:"buildCommand"`
	RunCommand   string             `yaml:"runCommand"`
	Env          []string           `yaml:"env"`
	BuildLimits  spec.ResourceLimit `yaml:"buildLimits"`
	RunLimits    spec.ResourceLimit `yaml:"runLimits"`
	// StderrTailBytes bounds the stderr excerpt attached to runtime errors.
	StderrTailBytes int `yaml:"stderrTailBytes"`
}

// WithDefaults fills every unset field of c from d.
func (c Config) WithDefaults(d Config) Config {
	if c.BuildCommand == "" {
		c.BuildCommand = d.BuildCommand
	}
	if c.RunCommand == "" {
		c.RunCommand = d.RunCommand
	}
	if len(c.Env) == 0 {
		c.Env = d.Env
	}
	c.BuildLimits = c.BuildLimits.Merge(d.BuildLimits)
	c.RunLimits = c.RunLimits.Merge(d.RunLimits)
	if c.StderrTailBytes <= 0 {
		c.StderrTailBytes = d.StderrTailBytes
	}
	if c.StderrTailBytes <= 0 {
		c.StderrTailBytes = defaultStderrTailBytes
	}
	return c
}

const defaultStderrTailBytes = 2048

// ExecError converts a failed Exec into a judge fault, keeping context
// cancellation visible to errors.Is.
func ExecError(err error, stage string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return appErr.Wrapf(err, appErr.SandboxError, "%s failed to execute: %v", stage, err)
}
