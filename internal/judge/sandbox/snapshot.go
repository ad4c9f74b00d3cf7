package sandbox

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const snapDirName = "snap"

// Checkpoint records the work dir as it is now. Restore brings it back, so
// every test case starts from the state the build left.
func (s *Session) Checkpoint(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("session %s is closed", s.id)
	}
	if err := s.stopStragglers(ctx); err != nil {
		return err
	}
	snap := filepath.Join(s.root, snapDirName)
	if err := forceRemoveAll(snap); err != nil {
		return fmt.Errorf("remove old snapshot: %w", err)
	}
	if err := copyTree(s.workDir, snap, nil); err != nil {
		return fmt.Errorf("snapshot work dir: %w", err)
	}
	// The snapshot belongs to the service, not the sandbox identity.
	if err := os.Chmod(snap, 0700); err != nil {
		return fmt.Errorf("restrict snapshot: %w", err)
	}
	s.checkpointed = true
	logger.Debug(ctx, "sandbox work dir checkpointed", zap.String("session", s.id))
	return nil
}

// Restore discards everything written to the work dir since Checkpoint.
// Processes left behind by earlier execs are killed first.
func (s *Session) Restore(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("session %s is closed", s.id)
	}
	if !s.checkpointed {
		return fmt.Errorf("session %s has no checkpoint", s.id)
	}
	if err := s.stopStragglers(ctx); err != nil {
		return err
	}
	if err := forceRemoveAll(s.workDir); err != nil {
		return fmt.Errorf("clear work dir: %w", err)
	}
	var own func(string) error
	if s.identity.Restricted {
		own = func(p string) error {
			return s.manager.chown(p, int(s.identity.UID), int(s.identity.GID))
		}
	}
	if err := copyTree(filepath.Join(s.root, snapDirName), s.workDir, own); err != nil {
		return fmt.Errorf("restore work dir: %w", err)
	}
	if err := os.Chmod(s.workDir, 0700); err != nil {
		return fmt.Errorf("restore work dir mode: %w", err)
	}
	return nil
}

// stopStragglers kills what earlier execs of the session left running, so
// nothing writes into the work dir while it is copied.
func (s *Session) stopStragglers(ctx context.Context) error {
	m := s.manager
	if err := m.engine.KillSession(ctx, s.id); err != nil {
		return fmt.Errorf("kill session processes: %w", err)
	}
	if m.pool.Exclusive() && s.identity.Restricted {
		if _, err := m.engine.ReapUser(ctx, s.identity.UID); err != nil {
			return fmt.Errorf("reap uid %d: %w", s.identity.UID, err)
		}
	}
	return nil
}

// copyTree copies regular files, directories and symlinks from src to dst.
// Other file types are skipped. own, when set, is applied to every created
// entry.
func copyTree(src, dst string, own func(string) error) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			// Owner access is needed to fill the directory.
			if err := os.Mkdir(target, info.Mode().Perm()|0700); err != nil {
				return err
			}
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			if err := os.Symlink(link, target); err != nil {
				return err
			}
		case d.Type().IsRegular():
			if err := copyFile(p, target, info); err != nil {
				return err
			}
		default:
			return nil
		}
		if own != nil {
			return own(target)
		}
		return nil
	})
}

// copyFile keeps the mode and modification time, so caches keyed on the
// source mtime stay valid.
func copyFile(src, dst string, info fs.FileInfo) error {
	perm := info.Mode().Perm()
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// OpenFile applies the umask.
	if err := os.Chmod(dst, perm); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
