package mcpr

import "errors"

var (
	// ErrIO wraps failures of the underlying file or writer.
	ErrIO = errors.New("mcpr: i/o failure")

	// ErrSizeOverflow reports a frame time or length that does not fit in 32 bits.
	ErrSizeOverflow = errors.New("mcpr: value exceeds 32 bits")

	// ErrSerialization reports a metadata document that could not be encoded.
	ErrSerialization = errors.New("mcpr: metadata serialization failed")

	// ErrArchiveFinalized is returned by any ArchiveWriter call after Finalize.
	ErrArchiveFinalized = errors.New("mcpr: archive already finalized")

	// ErrNoOpenEntry is returned by Append before the first BeginEntry.
	ErrNoOpenEntry = errors.New("mcpr: no entry open for writing")
)
