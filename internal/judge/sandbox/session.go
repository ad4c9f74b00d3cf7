// Package sandbox gives every submission an isolated working directory, a
// leased restricted identity and bounded process execution.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/security"
	"codejudge/internal/judge/sandbox/spec"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	workDirName = "work"
	ioDirName   = "io"
)

var defaultPath = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Config holds session manager settings.
type Config struct {
	// WorkRoot is the directory sessions are created under.
	WorkRoot string
	// Env is the base environment of every sandboxed process.
	Env []string
	// Limits fills in whatever an ExecRequest leaves unset.
	Limits spec.ResourceLimit
	// ScratchDirs are swept of files owned by a restricted identity when
	// its session closes.
	ScratchDirs []string
}

// Manager opens sandbox sessions.
type Manager struct {
	cfg    Config
	engine engine.Engine
	pool   *security.IdentityPool
	chown  func(name string, uid, gid int) error
}

// NewManager validates cfg and prepares the work root.
func NewManager(cfg Config, eng engine.Engine, pool *security.IdentityPool) (*Manager, error) {
	if cfg.WorkRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}
	if eng == nil || pool == nil {
		return nil, fmt.Errorf("engine and identity pool are required")
	}
	root, err := filepath.Abs(cfg.WorkRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve work root: %w", err)
	}
	// Restricted identities must be able to traverse into their own work dir.
	if err := os.MkdirAll(root, 0711); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	cfg.WorkRoot = root
	if len(cfg.Env) == 0 {
		cfg.Env = []string{defaultPath, "LANG=C.UTF-8"}
	}
	return &Manager{cfg: cfg, engine: eng, pool: pool, chown: os.Lchown}, nil
}

// Open creates a fresh session. On failure nothing is left behind.
func (m *Manager) Open(ctx context.Context) (*Session, error) {
	identity, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxError, "lease sandbox identity failed")
	}

	id := uuid.NewString()
	s := &Session{
		id:       id,
		root:     filepath.Join(m.cfg.WorkRoot, id),
		identity: identity,
		manager:  m,
	}
	s.workDir = filepath.Join(s.root, workDirName)
	s.ioDir = filepath.Join(s.root, ioDirName)

	if err := s.create(); err != nil {
		if s.rootCreated {
			_ = forceRemoveAll(s.root)
		}
		m.pool.Release(identity)
		return nil, appErr.Wrapf(err, appErr.SandboxError, "create sandbox session failed")
	}
	logger.Debug(ctx, "sandbox session opened",
		zap.String("session", id),
		zap.String("identity", identity.Name),
		zap.Uint32("uid", identity.UID),
	)
	return s, nil
}

// Session is one submission's sandbox.
type Session struct {
	id       string
	root     string
	workDir  string
	ioDir    string
	identity security.Identity
	manager  *Manager

	rootCreated  bool
	checkpointed bool
	seq          atomic.Int64
	closed       atomic.Bool
	closeOnce    sync.Once
	closeErr     error
}

func (s *Session) create() error {
	// Mkdir, not MkdirAll: an existing directory means a collision.
	if err := os.Mkdir(s.root, 0711); err != nil {
		return fmt.Errorf("create session root: %w", err)
	}
	s.rootCreated = true
	if err := os.Mkdir(s.ioDir, 0700); err != nil {
		return fmt.Errorf("create io dir: %w", err)
	}
	if err := os.Mkdir(s.workDir, 0700); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	if s.identity.Restricted {
		if err := s.manager.chown(s.workDir, int(s.identity.UID), int(s.identity.GID)); err != nil {
			return fmt.Errorf("chown work dir: %w", err)
		}
	}
	return nil
}

// ID is the collision-resistant session identifier.
func (s *Session) ID() string { return s.id }

// WorkDir is the program's working directory, writable by the sandbox identity.
func (s *Session) WorkDir() string { return s.workDir }

// Identity is the identity sandboxed processes of this session run as.
func (s *Session) Identity() security.Identity { return s.identity }

// ExecRequest describes one process to run inside the session.
type ExecRequest struct {
	// Name labels the exec in logs and cgroup names, e.g. "build" or "run".
	Name  string
	Cmd   []string
	Env   []string
	Stdin []byte
	// Limits overrides the manager defaults field by field.
	Limits spec.ResourceLimit
}

// Exec runs one process in the session's work dir and waits for it.
func (s *Session) Exec(ctx context.Context, req ExecRequest) (result.RunResult, error) {
	if s.closed.Load() {
		return result.RunResult{}, fmt.Errorf("session %s is closed", s.id)
	}
	if len(req.Cmd) == 0 {
		return result.RunResult{}, fmt.Errorf("command is required")
	}
	name := req.Name
	if name == "" {
		name = "exec"
	}
	name = fmt.Sprintf("%s-%d", name, s.seq.Add(1))

	stdinPath := ""
	if req.Stdin != nil {
		stdinPath = filepath.Join(s.ioDir, name+".stdin")
		if err := os.WriteFile(stdinPath, req.Stdin, 0600); err != nil {
			return result.RunResult{}, fmt.Errorf("write stdin: %w", err)
		}
	}
	stdoutPath := filepath.Join(s.ioDir, name+".stdout")
	stderrPath := filepath.Join(s.ioDir, name+".stderr")
	defer func() {
		for _, p := range []string{stdinPath, stdoutPath, stderrPath} {
			if p != "" {
				_ = os.Remove(p)
			}
		}
	}()

	runSpec := spec.RunSpec{
		SessionID:  s.id,
		Name:       name,
		WorkDir:    s.workDir,
		Cmd:        req.Cmd,
		Env:        s.env(req.Env),
		StdinPath:  stdinPath,
		StdoutPath: stdoutPath,
		StderrPath: stderrPath,
		Credential: s.identity.Credential(),
		Limits:     req.Limits.Merge(s.manager.cfg.Limits),
	}
	res, err := s.manager.engine.Run(ctx, runSpec)
	if err != nil {
		return res, fmt.Errorf("exec %s: %w", name, err)
	}
	logger.Debug(ctx, "sandbox exec finished",
		zap.String("exec", name),
		zap.Int("exit_code", res.ExitCode),
		zap.Int("signal", res.Signal),
		zap.Bool("timed_out", res.TimedOut),
		zap.Bool("oom_killed", res.OomKilled),
		zap.Int64("time_ms", res.TimeMs),
		zap.Int64("wall_time_ms", res.WallTimeMs),
		zap.Int64("memory_kb", res.MemoryKB),
	)
	return res, nil
}

func (s *Session) env(extra []string) []string {
	env := make([]string, 0, len(s.manager.cfg.Env)+len(extra)+2)
	env = append(env, s.manager.cfg.Env...)
	env = append(env, "HOME="+s.workDir, "TMPDIR="+s.workDir)
	return append(env, extra...)
}

// Close terminates every process of the session, removes its directory and
// returns the identity. It is safe to call more than once; later calls
// return the first call's error.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		m := s.manager
		var errs []error
		if err := m.engine.KillSession(ctx, s.id); err != nil {
			errs = append(errs, fmt.Errorf("kill session processes: %w", err))
		}
		release := true
		if m.pool.Exclusive() && s.identity.Restricted {
			if _, err := m.engine.ReapUser(ctx, s.identity.UID); err != nil {
				// Survivors would leak into the next lease.
				release = false
				errs = append(errs, fmt.Errorf("reap uid %d, identity withheld: %w", s.identity.UID, err))
			} else if err := sweepOwned(m.cfg.ScratchDirs, s.identity.UID); err != nil {
				release = false
				errs = append(errs, fmt.Errorf("sweep files of uid %d, identity withheld: %w", s.identity.UID, err))
			}
		}
		if err := forceRemoveAll(s.root); err != nil {
			errs = append(errs, fmt.Errorf("remove session dir: %w", err))
		}
		if release {
			m.pool.Release(s.identity)
		}
		s.closeErr = errors.Join(errs...)
		logger.Debug(ctx, "sandbox session closed", zap.String("session", s.id), zap.Bool("clean", s.closeErr == nil))
	})
	return s.closeErr
}

// forceRemoveAll removes path even when sandboxed code stripped the
// permissions of directories it created.
func forceRemoveAll(path string) error {
	err := os.RemoveAll(path)
	if err == nil {
		return nil
	}
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if d != nil && d.IsDir() {
			_ = os.Chmod(p, 0700)
		}
		return nil
	})
	return os.RemoveAll(path)
}
