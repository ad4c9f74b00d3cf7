// Package backendtest provides sessions for exercising backends in tests
// without a sandbox.
package backendtest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"codejudge/internal/judge/sandbox"
	"codejudge/internal/judge/sandbox/result"
)

// LocalSession runs commands directly on the host inside Dir. It honors the
// wall-clock limit of each request and nothing else.
type LocalSession struct {
	Dir string
	// Requests records every Exec call.
	Requests []sandbox.ExecRequest
}

// NewLocalSession creates a session rooted at dir.
func NewLocalSession(dir string) *LocalSession {
	return &LocalSession{Dir: dir}
}

func (s *LocalSession) WorkDir() string { return s.Dir }

func (s *LocalSession) Exec(ctx context.Context, req sandbox.ExecRequest) (result.RunResult, error) {
	s.Requests = append(s.Requests, req)
	if req.Limits.WallTimeMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.Limits.WallTimeMs)*time.Millisecond)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, req.Cmd[0], req.Cmd[1:]...)
	cmd.Dir = s.Dir
	cmd.Env = append(append(os.Environ(), "HOME="+s.Dir), req.Env...)
	cmd.Stdin = bytes.NewReader(req.Stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := result.RunResult{
		WallTimeMs: time.Since(start).Milliseconds(),
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.Signal = int(ws.Signal())
		}
		return res, nil
	}
	return res, err
}

// ScriptedSession answers Exec calls from a queue of canned results.
type ScriptedSession struct {
	Dir      string
	Results  []result.RunResult
	Errs     []error
	Requests []sandbox.ExecRequest
}

func (s *ScriptedSession) WorkDir() string { return s.Dir }

func (s *ScriptedSession) Exec(ctx context.Context, req sandbox.ExecRequest) (result.RunResult, error) {
	i := len(s.Requests)
	s.Requests = append(s.Requests, req)
	var res result.RunResult
	if i < len(s.Results) {
		res = s.Results[i]
	}
	var err error
	if i < len(s.Errs) {
		err = s.Errs[i]
	}
	return res, err
}
