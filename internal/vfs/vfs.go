// Package vfs provides a uniform read-only file abstraction over either a
// directory tree or a gzip-compressed tar archive. TFTP and HTTP both read
// through this interface so neither cares which kind of root backs a boot
// artifact.
package vfs

import (
	"errors"
	"strings"
)

// Sentinel errors returned by VFS implementations. Callers should compare
// with errors.Is, since concrete errors may wrap these with context.
var (
	// ErrNotFound is returned for missing files and for any path that fails
	// normalization (traversal attempts are never distinguished from an
	// absent file).
	ErrNotFound = errors.New("vfs: not found")
	// ErrOutOfRange is returned by ReadRange when offset is beyond the end
	// of the file.
	ErrOutOfRange = errors.New("vfs: range out of bounds")
	// ErrInvalidRoot is returned by Open when the root path does not exist
	// or an archive root fails to parse.
	ErrInvalidRoot = errors.New("vfs: invalid root")
	// ErrIO wraps unexpected filesystem errors from a DirectoryRoot.
	ErrIO = errors.New("vfs: io error")
)

// VFS is a read-only, concurrency-safe view over a set of files addressed
// by POSIX-style relative path.
type VFS interface {
	// Exists reports whether path resolves to a regular file.
	Exists(path string) bool
	// Size returns the file's length in bytes, or ErrNotFound.
	Size(path string) (uint64, error)
	// Read returns the file's full contents, or ErrNotFound.
	Read(path string) ([]byte, error)
	// ReadRange returns up to length bytes starting at offset. A short
	// read at end-of-file is not an error; offset beyond the file's size
	// is ErrOutOfRange.
	ReadRange(path string, offset, length int64) ([]byte, error)
}

// Open opens rootSpec as a VFS. Paths ending in .tar.gz or .tgz are opened
// as an ArchiveRoot; anything else is opened as a DirectoryRoot.
func Open(rootSpec string) (VFS, error) {
	lower := strings.ToLower(rootSpec)
	if strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz") {
		return NewArchiveRoot(rootSpec)
	}
	return NewDirectoryRoot(rootSpec)
}
