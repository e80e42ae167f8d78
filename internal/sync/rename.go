package sync

import "os"

// renameStat refuses to replace an existing newPath, then renames. The
// check and the rename are two steps, so this is only used where the kernel
// cannot do both at once.
func renameStat(oldPath, newPath string) error {
	if _, err := os.Lstat(newPath); err == nil {
		return &os.LinkError{Op: "rename", Old: oldPath, New: newPath, Err: os.ErrExist}
	}
	return os.Rename(oldPath, newPath)
}
