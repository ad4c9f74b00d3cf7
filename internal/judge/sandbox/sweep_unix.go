//go:build unix

package sandbox

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// sweepOwned removes whatever uid left in the scratch dirs. Symlinks are
// never followed.
func sweepOwned(dirs []string, uid uint32) error {
	var errs []error
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				// Unreadable subtrees belong to someone else.
				if p != dir && errors.Is(walkErr, fs.ErrPermission) {
					return fs.SkipDir
				}
				return walkErr
			}
			if p == dir {
				return nil
			}
			var st unix.Stat_t
			if err := unix.Lstat(p, &st); err != nil {
				if errors.Is(err, unix.ENOENT) {
					return nil
				}
				return err
			}
			if st.Uid != uid {
				return nil
			}
			if err := forceRemoveAll(p); err != nil {
				errs = append(errs, err)
			}
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		})
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
