package mcpr

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zip"
)

// Entry names of a replay archive, in the order they are written.
const (
	RecordingEntry = "recording.tmcpr"
	MetaEntry      = "metaData.json"
)

const entryBufferSize = 64 << 10

// ArchiveWriter streams entries into a ZIP container.
//
// Usage:
//
//	aw, _ := mcpr.CreateArchive("out.mcpr")
//	_ = aw.BeginEntry(mcpr.RecordingEntry)
//	_ = aw.Append(frame)
//	_ = aw.BeginEntry(mcpr.MetaEntry)
//	_ = aw.Append(metaJSON)
//	_ = aw.Finalize()
//
// At most one entry is open at a time; BeginEntry seals the previous one and
// it cannot be reopened. Appends are buffered. An ArchiveWriter is not safe
// for concurrent use.
type ArchiveWriter struct {
	zw        *zip.Writer
	entry     *bufio.Writer
	name      string
	entries   []string
	file      *os.File // optional, when using CreateArchive()
	finalized bool
}

// NewArchiveWriter creates an ArchiveWriter onto the provided io.Writer.
func NewArchiveWriter(out io.Writer) *ArchiveWriter {
	return &ArchiveWriter{zw: zip.NewWriter(out)}
}

// CreateArchive creates or truncates the file at path and returns an
// ArchiveWriter that owns it. Finalize also closes the file.
func CreateArchive(path string) (*ArchiveWriter, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrIO, path, err)
	}
	aw := NewArchiveWriter(f)
	aw.file = f
	return aw, nil
}

// BeginEntry seals the currently open entry, if any, and opens a new
// deflated entry called name.
func (aw *ArchiveWriter) BeginEntry(name string) error {
	if aw.finalized {
		return ErrArchiveFinalized
	}
	if err := aw.seal(); err != nil {
		return err
	}
	w, err := aw.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrIO, name, err)
	}
	aw.entry = bufio.NewWriterSize(w, entryBufferSize)
	aw.name = name
	aw.entries = append(aw.entries, name)
	return nil
}

// Append writes b to the open entry.
func (aw *ArchiveWriter) Append(b []byte) error {
	if aw.finalized {
		return ErrArchiveFinalized
	}
	if aw.entry == nil {
		return ErrNoOpenEntry
	}
	if _, err := aw.entry.Write(b); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIO, aw.name, err)
	}
	return nil
}

// Entry returns the name of the open entry, or "" when none is open.
func (aw *ArchiveWriter) Entry() string {
	return aw.name
}

// Entries returns the names of every entry begun so far, in order.
func (aw *ArchiveWriter) Entries() []string {
	return append([]string(nil), aw.entries...)
}

// Finalize seals the open entry, writes the central directory and closes the
// owned file, if any. The writer is unusable afterwards, even on error.
func (aw *ArchiveWriter) Finalize() error {
	if aw.finalized {
		return ErrArchiveFinalized
	}
	aw.finalized = true

	err := aw.seal()
	if err == nil {
		if cerr := aw.zw.Close(); cerr != nil {
			err = fmt.Errorf("%w: close archive: %w", ErrIO, cerr)
		}
	}
	if aw.file != nil {
		if cerr := aw.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close file: %w", ErrIO, cerr)
		}
	}
	return err
}

func (aw *ArchiveWriter) seal() error {
	if aw.entry == nil {
		return nil
	}
	name := aw.name
	err := aw.entry.Flush()
	aw.entry = nil
	aw.name = ""
	if err != nil {
		return fmt.Errorf("%w: flush %s: %w", ErrIO, name, err)
	}
	return nil
}
