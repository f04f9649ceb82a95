// Package interfaces contains the contracts between the retrieval service
// and its collaborators
package interfaces

import "context"

// EntryLocator finds a named entry in a directory of archives
type EntryLocator interface {
	// Find returns the entry's full content, an error matching
	// errors.ErrNotFound when no archive holds it, or an error matching
	// errors.ErrArchiveRead when an archive cannot be read.
	Find(ctx context.Context, dir, name string) ([]byte, error)
}

// RecordAssembler combines a DICOM JSON header and a pixel payload into a
// Part 10 file
type RecordAssembler interface {
	Reassemble(header, pixels []byte) ([]byte, error)
}
