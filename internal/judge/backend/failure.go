package backend

import (
	"strings"
	"syscall"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
	appErr "codejudge/pkg/errors"
)

// RunFailure classifies a finished run. It returns nil when the program
// exited cleanly within its limits.
func RunFailure(res result.RunResult, limits spec.ResourceLimit, workDir string, tailBytes int) error {
	switch {
	case res.OomKilled:
		return appErr.Newf(appErr.MemoryLimitExceeded, "memory limit of %d MB exceeded", limits.MemoryMB)
	case res.TimedOut:
		return appErr.Newf(appErr.TimeLimitExceeded, "time limit exceeded after %d ms", res.WallTimeMs)
	case res.Signal == int(syscall.SIGXFSZ) || (limits.OutputMB > 0 && res.OutputKB > limits.OutputMB*1024):
		return appErr.Newf(appErr.OutputLimitExceeded, "output limit of %d MB exceeded", limits.OutputMB)
	case res.ExitCode != 0 || res.Signal != 0:
		msg := strings.TrimSpace(Tail(StripPath(res.Stderr, workDir), tailBytes))
		if res.Signal != 0 {
			prefix := "killed by " + syscall.Signal(res.Signal).String()
			if msg == "" {
				msg = prefix
			} else {
				msg = prefix + ": " + msg
			}
		}
		if msg == "" {
			return appErr.Newf(appErr.RuntimeError, "exited with status %d", res.ExitCode)
		}
		return appErr.New(appErr.RuntimeError).WithMessage(msg)
	}
	return nil
}

// CompileFailure reports diagnostics of a failed build, stripped of the
// session path. A build that ran out of time is a compile error too.
func CompileFailure(res result.RunResult, workDir string) error {
	if res.TimedOut {
		return appErr.Newf(appErr.CompilationError, "compilation timed out after %d ms", res.WallTimeMs)
	}
	diagnostics := strings.TrimSpace(res.Stderr)
	if out := strings.TrimSpace(res.Stdout); out != "" {
		if diagnostics != "" {
			diagnostics += "\n"
		}
		diagnostics += out
	}
	diagnostics = StripPath(diagnostics, workDir)
	if diagnostics == "" {
		diagnostics = "compilation failed"
	}
	return appErr.New(appErr.CompilationError).WithMessage(diagnostics)
}
