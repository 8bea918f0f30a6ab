// Package fsync flushes file data to stable storage as cheaply as the
// platform allows.
package fsync

import "os"

// Fdatasync makes the data written to f durable. Where the platform has
// fdatasync(2) it skips the metadata flush that f.Sync performs.
//
// An error from Fdatasync is not recoverable: the kernel may already have
// marked the failed pages clean, so the file must be treated as corrupted.
func Fdatasync(f *os.File) error {
	return fdatasync(f)
}
