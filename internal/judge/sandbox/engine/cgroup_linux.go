//go:build linux

package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"codejudge/internal/judge/sandbox/spec"
)

// createRunCgroup creates <root>/<session>/<name>-<nanos> for a single exec.
func createRunCgroup(root, sessionID, name string) (string, func(), error) {
	if root == "" {
		return "", func() {}, fmt.Errorf("cgroup root is required")
	}
	runDir := fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
	sessionPath := filepath.Join(root, sessionID)
	if err := os.MkdirAll(sessionPath, 0750); err != nil {
		return "", func() {}, fmt.Errorf("create cgroup path: %w", err)
	}
	// Children can only be limited by controllers the parent delegates.
	_ = writeCgroupValue(sessionPath, "cgroup.subtree_control", "+pids +memory +cpu")
	cgroupPath := filepath.Join(sessionPath, runDir)
	if err := os.Mkdir(cgroupPath, 0750); err != nil {
		return "", func() {}, fmt.Errorf("create cgroup path: %w", err)
	}
	cleanup := func() {
		_ = killCgroup(cgroupPath)
		_ = os.RemoveAll(cgroupPath)
	}
	return cgroupPath, cleanup, nil
}

// removeSessionCgroup removes the per-session parent directory once its
// children are gone.
func removeSessionCgroup(root, sessionID string) error {
	sessionPath := filepath.Join(root, sessionID)
	entries, err := os.ReadDir(sessionPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read session cgroup: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		child := filepath.Join(sessionPath, entry.Name())
		_ = killCgroup(child)
		_ = os.RemoveAll(child)
	}
	if err := os.RemoveAll(sessionPath); err != nil {
		return fmt.Errorf("remove session cgroup: %w", err)
	}
	return nil
}

func applyCgroupLimits(cgroupPath string, limits spec.ResourceLimit) error {
	pidsValue := "max"
	if limits.PIDs > 0 {
		pidsValue = strconv.FormatInt(limits.PIDs, 10)
	}
	if err := writeCgroupValue(cgroupPath, "pids.max", pidsValue); err != nil {
		return err
	}
	if limits.MemoryMB > 0 {
		if err := writeCgroupValue(cgroupPath, "memory.max", strconv.FormatInt(limits.MemoryMB*1024*1024, 10)); err != nil {
			return err
		}
		// Without swap the limit is exact.
		_ = writeCgroupValue(cgroupPath, "memory.swap.max", "0")
	}
	return nil
}

func addProcessToCgroup(cgroupPath string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid")
	}
	return writeCgroupValue(cgroupPath, "cgroup.procs", strconv.Itoa(pid))
}

// killCgroup is a no-op on kernels without cgroup.kill; the uid sweep on
// session close still catches the survivors.
func killCgroup(cgroupPath string) error {
	killPath := filepath.Join(cgroupPath, "cgroup.kill")
	if _, err := os.Stat(killPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return os.WriteFile(killPath, []byte("1"), 0600)
}

func wasOomKilled(cgroupPath string) bool {
	if cgroupPath == "" {
		return false
	}
	val, ok := readCgroupKey(cgroupPath, "memory.events", "oom_kill")
	return ok && val > 0
}

// cpuTimeMs prefers the cgroup accounting, which also covers children that
// were not waited for.
func cpuTimeMs(cgroupPath string, state *os.ProcessState) int64 {
	if cgroupPath != "" {
		if usec, ok := readCgroupKey(cgroupPath, "cpu.stat", "usage_usec"); ok && usec > 0 {
			return usec / 1000
		}
	}
	if state == nil {
		return 0
	}
	return (state.UserTime() + state.SystemTime()).Milliseconds()
}

func memoryPeakKB(cgroupPath string, state *os.ProcessState) int64 {
	if cgroupPath != "" {
		if val, err := readCgroupInt(cgroupPath, "memory.peak"); err == nil && val > 0 {
			return val / 1024
		}
	}
	if state == nil {
		return 0
	}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		return usage.Maxrss
	}
	return 0
}

func readCgroupKey(cgroupPath, file, key string) (int64, bool) {
	data, err := os.ReadFile(filepath.Join(cgroupPath, file))
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != key {
			continue
		}
		val, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return val, true
	}
	return 0, false
}

func readCgroupInt(cgroupPath, name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(cgroupPath, name))
	if err != nil {
		return 0, err
	}
	value := strings.TrimSpace(string(data))
	return strconv.ParseInt(value, 10, 64)
}

func writeCgroupValue(cgroupPath, name, value string) error {
	path := filepath.Join(cgroupPath, name)
	return os.WriteFile(path, []byte(value), 0640)
}
