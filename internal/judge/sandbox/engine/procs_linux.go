//go:build linux

package engine

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/prometheus/procfs"
)

const (
	reapAttempts = 10
	reapInterval = 20 * time.Millisecond
)

// reapUserProcesses SIGKILLs every process whose real uid is uid, repeating
// until a scan finds none so that processes forked mid-scan are caught.
func reapUserProcesses(ctx context.Context, uid uint32) (int, error) {
	killed := 0
	for attempt := 0; attempt < reapAttempts; attempt++ {
		pids, err := processesOf(procfs.DefaultMountPoint, uid)
		if err != nil {
			return killed, err
		}
		if len(pids) == 0 {
			return killed, nil
		}
		for _, pid := range pids {
			if err := syscall.Kill(pid, syscall.SIGKILL); err == nil {
				killed++
			}
		}
		select {
		case <-ctx.Done():
			return killed, ctx.Err()
		case <-time.After(reapInterval):
		}
	}
	pids, err := processesOf(procfs.DefaultMountPoint, uid)
	if err != nil {
		return killed, err
	}
	if len(pids) > 0 {
		return killed, fmt.Errorf("uid %d still owns %d processes", uid, len(pids))
	}
	return killed, nil
}

// processesOf lists the pids under procRoot whose real uid is uid. Processes
// that exit during the scan are skipped.
func processesOf(procRoot string, uid uint32) ([]int, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", procRoot, err)
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	var pids []int
	for _, p := range procs {
		if p.PID <= 0 {
			continue
		}
		status, err := p.NewStatus()
		if err != nil {
			continue
		}
		if status.UIDs[0] == uint64(uid) {
			pids = append(pids, p.PID)
		}
	}
	return pids, nil
}
