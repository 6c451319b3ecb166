//go:build linux
// +build linux

package util

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// fsyncDir fsyncs a directory entry after a rename so the new name is
// durable even if the process crashes immediately after AtomicReplace.
func fsyncDir(dir string) error {
	fd, err := unix.Open(dir, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open dir %s: %w", dir, err)
	}
	defer unix.Close(fd)
	if err := unix.Fsync(fd); err != nil {
		return fmt.Errorf("fsync dir %s: %w", dir, err)
	}
	return nil
}

// AdviseSequential hints the kernel that fd will be read sequentially.
// Segment applies it to each segment file it opens (on create and on
// reopening a sealed segment for reads); recovery opens files without it.
func AdviseSequential(fd uintptr) {
	_ = unix.Fadvise(int(fd), 0, 0, unix.FADV_SEQUENTIAL)
}
