package types

import (
	"github.com/twpayne/go-vfs/v4"
)

// FS is the filesystem every check and read goes through. vfs.OSFS in production,
// a vfst.TestFS in tests.
type FS = vfs.FS

// Exists reports whether path can be stat'ed through fs. Broken symlinks and
// permission errors count as missing.
func Exists(fs FS, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

