//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultStdoutStderrMaxBytes int64 = 1 << 20
)

type linuxEngine struct {
	cfg       Config
	registry  map[string][]string
	registryM sync.Mutex
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config) (Engine, error) {
	if cfg.StdoutStderrMaxBytes <= 0 {
		cfg.StdoutStderrMaxBytes = defaultStdoutStderrMaxBytes
	}
	if cfg.HelperPath == "" {
		cfg.HelperPath = "sandbox-init"
	}
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, fmt.Errorf("cgroup root is required when cgroups are enabled")
	}
	cfg.Isolation = cfg.Isolation.WithDefaults()
	return &linuxEngine{
		cfg:      cfg,
		registry: make(map[string][]string),
	}, nil
}

func (e *linuxEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := e.validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, err
	}

	cgroupPath := ""
	cgroupCleanup := func() {}
	if e.cfg.EnableCgroup {
		var err error
		cgroupPath, cgroupCleanup, err = createRunCgroup(e.cfg.CgroupRoot, runSpec.SessionID, runSpec.Name)
		if err != nil {
			return result.RunResult{}, fmt.Errorf("create cgroup: %w", err)
		}
		if err := applyCgroupLimits(cgroupPath, runSpec.Limits); err != nil {
			cgroupCleanup()
			return result.RunResult{}, fmt.Errorf("apply cgroup limits: %w", err)
		}
		e.registerCgroup(runSpec.SessionID, cgroupPath)
	}
	defer func() {
		if e.cfg.EnableCgroup {
			e.unregisterCgroup(runSpec.SessionID, cgroupPath)
			cgroupCleanup()
		}
	}()

	initReq := initRequest{
		RunSpec:       runSpec,
		Isolation:     e.cfg.Isolation,
		EnableSeccomp: e.cfg.EnableSeccomp,
		EnableNs:      e.cfg.EnableNamespaces,
	}
	stdinPipe, err := jsonToPipe(initReq)
	if err != nil {
		return result.RunResult{}, fmt.Errorf("encode init request: %w", err)
	}
	defer stdinPipe.Close()

	// The watchdog below owns termination; CommandContext is not used so that a
	// cancelled ctx kills the whole process group rather than the helper alone.
	cmd := exec.Command(e.cfg.HelperPath)
	cmd.SysProcAttr = buildSysProcAttr(e.cfg.Isolation.DisableNetwork, e.cfg.EnableNamespaces)
	cmd.Stdin = stdinPipe
	cmd.Env = []string{}

	var helperStdout bytes.Buffer
	var helperStderr bytes.Buffer
	cmd.Stdout = &helperStdout
	cmd.Stderr = &helperStderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result.RunResult{}, fmt.Errorf("start helper: %w", err)
	}

	if e.cfg.EnableCgroup {
		if err := addProcessToCgroup(cgroupPath, cmd.Process.Pid); err != nil {
			e.killProcessGroup(cmd.Process.Pid)
			_ = cmd.Wait()
			return result.RunResult{}, fmt.Errorf("add process to cgroup: %w", err)
		}
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		wallLimit := durationFromMs(runSpec.Limits.WallTimeMs)
		var wallTimer <-chan time.Time
		if wallLimit > 0 {
			timer := time.NewTimer(wallLimit)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			e.killRun(cmd.Process.Pid, cgroupPath)
		case <-wallTimer:
			timedOut.Store(true)
			e.killRun(cmd.Process.Pid, cgroupPath)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	wallTimeMs := time.Since(start).Milliseconds()

	if err := ctx.Err(); err != nil && !timedOut.Load() {
		return result.RunResult{}, fmt.Errorf("run %s cancelled: %w", runSpec.Name, err)
	}

	state := cmd.ProcessState
	runResult := result.RunResult{
		ExitCode:   exitCodeFromErr(waitErr, state),
		Signal:     signalFromState(state),
		TimeMs:     cpuTimeMs(cgroupPath, state),
		WallTimeMs: wallTimeMs,
		MemoryKB:   memoryPeakKB(cgroupPath, state),
		OutputKB:   fileSizeKB(runSpec.StdoutPath),
		Stdout:     readLimitedFile(runSpec.StdoutPath, e.cfg.StdoutStderrMaxBytes),
		Stderr:     readLimitedFile(runSpec.StderrPath, e.cfg.StdoutStderrMaxBytes),
		OomKilled:  wasOomKilled(cgroupPath),
	}

	if runResult.ExitCode == HelperFailureExitCode && helperStderr.Len() > 0 {
		return runResult, fmt.Errorf("sandbox helper failed: %s", strings.TrimSpace(helperStderr.String()))
	}

	runResult.TimedOut = timedOut.Load() || cpuLimitHit(runResult, runSpec.Limits)
	if runResult.TimedOut && runResult.ExitCode == 0 {
		runResult.ExitCode = -1
	}
	if helperStderr.Len() > 0 {
		logger.Warn(ctx, "sandbox helper stderr", zap.String("run", runSpec.Name), zap.String("stderr", helperStderr.String()))
	}
	return runResult, nil
}

func cpuLimitHit(res result.RunResult, limits spec.ResourceLimit) bool {
	if res.Signal == int(syscall.SIGXCPU) {
		return true
	}
	if limits.CPUTimeMs <= 0 || res.OomKilled {
		return false
	}
	return res.TimeMs > limits.CPUTimeMs
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func signalFromState(state *os.ProcessState) int {
	if state == nil {
		return 0
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0
	}
	return int(ws.Signal())
}

func (e *linuxEngine) KillSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	var errs []error
	for _, cgroupPath := range e.snapshotCgroups(sessionID) {
		if err := killCgroup(cgroupPath); err != nil {
			logger.Warn(ctx, "kill cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if e.cfg.EnableCgroup {
		if err := removeSessionCgroup(e.cfg.CgroupRoot, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *linuxEngine) ReapUser(ctx context.Context, uid uint32) (int, error) {
	if uid == 0 || int(uid) == os.Getuid() {
		return 0, fmt.Errorf("refusing to reap processes of uid %d", uid)
	}
	return reapUserProcesses(ctx, uid)
}

func (e *linuxEngine) registerCgroup(sessionID, cgroupPath string) {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	e.registry[sessionID] = append(e.registry[sessionID], cgroupPath)
}

func (e *linuxEngine) unregisterCgroup(sessionID, cgroupPath string) {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	paths := e.registry[sessionID]
	if len(paths) == 0 {
		return
	}
	updated := paths[:0]
	for _, p := range paths {
		if p != cgroupPath {
			updated = append(updated, p)
		}
	}
	if len(updated) == 0 {
		delete(e.registry, sessionID)
		return
	}
	e.registry[sessionID] = updated
}

func (e *linuxEngine) snapshotCgroups(sessionID string) []string {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	paths := e.registry[sessionID]
	out := make([]string, len(paths))
	copy(out, paths)
	return out
}

func (e *linuxEngine) killRun(pid int, cgroupPath string) {
	e.killProcessGroup(pid)
	if cgroupPath != "" {
		_ = killCgroup(cgroupPath)
	}
}

func (e *linuxEngine) killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func (e *linuxEngine) validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if runSpec.Name == "" {
		return fmt.Errorf("run name is required")
	}
	if runSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if len(runSpec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	if runSpec.Credential != nil && e.cfg.EnableNamespaces && os.Geteuid() != 0 {
		return fmt.Errorf("switching identity inside namespaces requires root")
	}
	return nil
}

func jsonToPipe(req initRequest) (io.ReadCloser, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	reader, writer := io.Pipe()
	go func() {
		_, err := writer.Write(data)
		_ = writer.CloseWithError(err)
	}()
	return reader, nil
}

func buildSysProcAttr(disableNetwork, enableNamespaces bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if !enableNamespaces {
		return attr
	}

	cloneFlags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC)
	if disableNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	attr.Cloneflags = cloneFlags
	if os.Geteuid() == 0 {
		return attr
	}

	attr.Cloneflags |= syscall.CLONE_NEWUSER
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getuid(),
		Size:        1,
	}}
	attr.GidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getgid(),
		Size:        1,
	}}
	return attr
}
