package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicReplace fsyncs the content staged at tmpPath, renames it onto
// finalPath, and fsyncs the containing directory so the rename itself
// survives a crash. This is the write-temp-then-rename pattern used for
// the MetaStore file and the segment clean-bitset sidecars.
func AtomicReplace(tmpPath, finalPath string) error {
	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", tmpPath, err)
	}
	err = FsyncFile(f)
	f.Close()
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpPath, finalPath, err)
	}
	return fsyncDir(filepath.Dir(finalPath))
}

// FsyncFile flushes a file's contents and metadata to stable storage.
func FsyncFile(f *os.File) error {
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync %s: %w", f.Name(), err)
	}
	return nil
}
