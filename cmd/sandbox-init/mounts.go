//go:build linux

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

const scratchSizeMB = 64

// Pseudo filesystems keep their flags; the sandbox identity cannot write to
// them without privileges anyway.
var untouchedMounts = []string{"/proc", "/sys", "/dev"}

// setupMounts confines writes to the work dir. Scratch dirs get a private
// tmpfs that dies with the namespace, every other mount turns read-only.
func setupMounts(req initRequest) error {
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("make mount private: %w", err)
	}

	// Pin the writable dirs before a tmpfs can shadow their paths.
	writable := writableDirs(req.RunSpec)
	fds := make([]int, 0, len(writable))
	defer func() {
		for _, fd := range fds {
			_ = unix.Close(fd)
		}
	}()
	for _, dir := range writable {
		fd, err := unix.Open(dir, unix.O_PATH|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
		if err != nil {
			return fmt.Errorf("open %s: %w", dir, err)
		}
		fds = append(fds, fd)
	}

	var mounted []string
	for _, dir := range req.Isolation.ScratchDirs {
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			continue
		}
		opts := fmt.Sprintf("mode=1777,size=%dm", scratchSizeMB)
		if err := unix.Mount("tmpfs", dir, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, opts); err != nil {
			return fmt.Errorf("mount tmpfs on %s: %w", dir, err)
		}
		mounted = append(mounted, dir)
	}

	for i, dir := range writable {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir mount target: %w", err)
		}
		source := fmt.Sprintf("/proc/self/fd/%d", fds[i])
		if err := unix.Mount(source, dir, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return fmt.Errorf("bind %s: %w", dir, err)
		}
		mounted = append(mounted, dir)
	}

	mounts, err := procfs.GetMounts()
	if err != nil {
		return fmt.Errorf("read mountinfo: %w", err)
	}
	for _, r := range remountPlan(mounts, mounted) {
		err := unix.Mount("", r.target, "", unix.MS_REMOUNT|unix.MS_BIND|unix.MS_RDONLY|r.flags, "")
		// Paths shadowed by a tmpfs no longer resolve to their mount.
		if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EINVAL) {
			return fmt.Errorf("remount %s read-only: %w", r.target, err)
		}
	}
	return nil
}

// writableDirs are the work dir and the directories holding the exec's
// output files.
func writableDirs(spec runSpec) []string {
	dirs := []string{filepath.Clean(spec.WorkDir)}
	for _, p := range []string{spec.StdoutPath, spec.StderrPath} {
		if p == "" {
			continue
		}
		dir := filepath.Dir(filepath.Clean(p))
		covered := false
		for _, d := range dirs {
			if within(dir, d) {
				covered = true
				break
			}
		}
		if !covered {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

type remount struct {
	target string
	flags  uintptr
}

// remountPlan lists the mounts to turn read-only. Mounts at or below a
// path in keep stay as they are.
func remountPlan(mounts []*procfs.MountInfo, keep []string) []remount {
	var plan []remount
	for _, m := range mounts {
		target := unescapeMountPath(m.MountPoint)
		if _, ro := m.Options["ro"]; ro {
			continue
		}
		if withinAny(target, untouchedMounts) || withinAny(target, keep) {
			continue
		}
		plan = append(plan, remount{target: target, flags: lockedFlags(m.Options)})
	}
	return plan
}

// lockedFlags carries over the flags a bind remount would otherwise clear.
func lockedFlags(opts map[string]string) uintptr {
	var flags uintptr
	for opt, flag := range map[string]uintptr{
		"nosuid":     unix.MS_NOSUID,
		"nodev":      unix.MS_NODEV,
		"noexec":     unix.MS_NOEXEC,
		"noatime":    unix.MS_NOATIME,
		"nodiratime": unix.MS_NODIRATIME,
		"relatime":   unix.MS_RELATIME,
	} {
		if _, ok := opts[opt]; ok {
			flags |= flag
		}
	}
	return flags
}

// unescapeMountPath decodes the octal escapes mountinfo uses for space,
// tab, newline and backslash.
func unescapeMountPath(p string) string {
	if !strings.Contains(p, `\`) {
		return p
	}
	return strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`).Replace(p)
}

func within(p, dir string) bool {
	if dir == "/" {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}

func withinAny(p string, dirs []string) bool {
	for _, d := range dirs {
		if within(p, d) {
			return true
		}
	}
	return false
}
