// Package storage defines the data-directory file abstraction used for the
// database registry file and export snapshots.
package storage

import (
	"io"

	"github.com/starford/entbrowser/internal/models"
)

// Provider is the interface for data-directory file operations.
type Provider interface {
	// List returns metadata for every file under dir whose name ends with ext.
	List(dir, ext string) ([]models.FileMetadata, error)
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Open returns a reader for the file at path; the caller closes it.
	Open(path string) (io.ReadSeekCloser, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to root).
	Delete(path string) error
	// Abs resolves path against the root, rejecting escapes.
	Abs(path string) (string, error)
}
