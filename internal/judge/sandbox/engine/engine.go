package engine

import (
	"context"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/security"
	"codejudge/internal/judge/sandbox/spec"
)

// Engine executes a RunSpec inside an isolated sandbox.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
	// KillSession terminates every process still running for the session.
	KillSession(ctx context.Context, sessionID string) error
	// ReapUser kills every process owned by uid and returns how many were signalled.
	ReapUser(ctx context.Context, uid uint32) (int, error)
}

// Config controls sandbox engine behavior.
type Config struct {
	HelperPath           string
	CgroupRoot           string
	Isolation            security.IsolationProfile
	StdoutStderrMaxBytes int64
	EnableSeccomp        bool
	EnableCgroup         bool
	EnableNamespaces     bool
}

// HelperFailureExitCode is the exit status sandbox-init uses when it fails
// before handing control to the sandboxed program.
const HelperFailureExitCode = 125

type initRequest struct {
	RunSpec       spec.RunSpec
	Isolation     security.IsolationProfile
	EnableSeccomp bool
	EnableNs      bool
}
