//go:build linux

package sandbox_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codejudge/internal/judge/sandbox"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/security"
	"codejudge/internal/judge/sandbox/spec"
)

const isolatedUID = 61234

// buildSandboxInit compiles the real helper. It needs root to switch
// identities and libseccomp to link.
func buildSandboxInit(t *testing.T) string {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("identity switch and mounts need root")
	}
	goTool, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not available to build sandbox-init")
	}
	out := filepath.Join(t.TempDir(), "sandbox-init")
	cmd := exec.Command(goTool, "build", "-o", out, "codejudge/cmd/sandbox-init")
	cmd.Dir = filepath.Join("..", "..", "..")
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("sandbox-init does not build here, libseccomp may be missing: %v: %s", err, output)
	}
	return out
}

func TestSandboxInitConfinesSession(t *testing.T) {
	helper := buildSandboxInit(t)
	profile, err := filepath.Abs(filepath.Join("..", "..", "..", "configs", "seccomp", "default.json"))
	if err != nil {
		t.Fatalf("resolve seccomp profile: %v", err)
	}
	eng, err := engine.NewEngine(engine.Config{
		HelperPath: helper,
		Isolation: security.IsolationProfile{
			SeccompProfile: profile,
			DisableNetwork: true,
		},
		EnableSeccomp:    true,
		EnableNamespaces: true,
	})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	pool, err := security.NewIdentityPoolFrom([]security.Identity{{Name: "sandbox", UID: isolatedUID, GID: isolatedUID}})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}

	root := t.TempDir()
	// The identity must traverse to its work dir.
	if err := os.Chmod(filepath.Dir(root), 0711); err != nil {
		t.Fatalf("chmod temp parent: %v", err)
	}
	manager, err := sandbox.NewManager(sandbox.Config{
		WorkRoot: root,
		Limits:   spec.ResourceLimit{WallTimeMs: 5000},
	}, eng, pool)
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}

	// World-writable and outside every scratch dir, so only the read-only
	// mount stands in the way.
	outside, err := os.MkdirTemp("/var", "codejudge-outside-")
	if err != nil {
		t.Skipf("no writable dir outside /tmp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(outside) })
	if err := os.Chmod(outside, 0777); err != nil {
		t.Fatalf("chmod outside dir: %v", err)
	}
	scratchName := fmt.Sprintf("codejudge-left-%d", time.Now().UnixNano())
	for _, dir := range security.DefaultScratchDirs {
		t.Cleanup(func() { _ = os.Remove(filepath.Join(dir, scratchName)) })
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := manager.Open(ctx)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	defer s.Close(context.Background())

	sh := func(script string) (int, string) {
		t.Helper()
		res, err := s.Exec(ctx, sandbox.ExecRequest{Name: "sh", Cmd: []string{"/bin/sh", "-c", script}})
		if err != nil {
			t.Fatalf("exec %q: %v", script, err)
		}
		return res.ExitCode, strings.TrimSpace(res.Stdout)
	}

	if code, out := sh("id -u"); code != 0 || out != fmt.Sprint(isolatedUID) {
		t.Fatalf("expected to run as uid %d, got %q (exit %d)", isolatedUID, out, code)
	}

	if code, _ := sh("echo x > built"); code != 0 {
		t.Fatalf("work dir must be writable, exit %d", code)
	}
	if code, _ := sh("echo x > " + filepath.Join(outside, "escaped")); code == 0 {
		t.Fatalf("write outside the work dir succeeded")
	}
	if _, err := os.Stat(filepath.Join(outside, "escaped")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("file escaped the work dir: %v", err)
	}

	for _, dir := range security.DefaultScratchDirs {
		left := filepath.Join(dir, scratchName)
		sh("echo x > " + left)
		if _, err := os.Stat(left); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s reached the host: %v", left, err)
		}
		if code, _ := sh("test -e " + left); code == 0 {
			t.Fatalf("%s survived into the next exec", left)
		}
	}

	if err := s.Checkpoint(ctx); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if code, _ := sh("echo leak > leak && rm built"); code != 0 {
		t.Fatalf("mutate work dir, exit %d", code)
	}
	if err := s.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if code, _ := sh("test -e leak"); code == 0 {
		t.Fatalf("file written after the checkpoint survived the restore")
	}
	if code, out := sh("cat built"); code != 0 || out != "x" {
		t.Fatalf("checkpointed file not restored: %q (exit %d)", out, code)
	}
	if code, _ := sh("echo again > built"); code != 0 {
		t.Fatalf("restored files must stay writable by the identity, exit %d", code)
	}

	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if entries, _ := os.ReadDir(root); len(entries) != 0 {
		t.Fatalf("session dir left behind")
	}
}
