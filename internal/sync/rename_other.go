//go:build !linux

package sync

func renameNoReplace(oldPath, newPath string) error {
	return renameStat(oldPath, newPath)
}
