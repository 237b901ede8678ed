package mcpr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/klauspost/compress/zip"
)

// maxValidatedFrame bounds a single frame while validating, 8 MiB like the
// protocol's own packet limit.
const maxValidatedFrame = 8 << 20

// Report summarizes a replay archive.
type Report struct {
	Path      string
	Size      int64
	Entries   []string
	Meta      Meta
	Packets   int
	Bytes     int64  // total frame payload bytes
	LastFrame uint32 // time of the last frame in ms
}

// Inspect opens the archive at path and checks its structure: exactly two
// entries, recording.tmcpr first and metaData.json second, a well formed
// frame stream with non-decreasing times, and the fixed metadata values.
// visit, when non-nil, is called for every frame in order.
func Inspect(path string, visit func(Frame) error) (*Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("replay file not found: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("replay file is empty (0 bytes)")
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("not a valid zip file: %w", err)
	}
	defer zr.Close()

	rep := &Report{Path: path, Size: info.Size()}
	for _, f := range zr.File {
		rep.Entries = append(rep.Entries, f.Name)
	}
	if len(zr.File) != 2 {
		return rep, fmt.Errorf("expected 2 entries, found %d: %v", len(zr.File), rep.Entries)
	}
	if zr.File[0].Name != RecordingEntry {
		return rep, fmt.Errorf("first entry is %q, want %q", zr.File[0].Name, RecordingEntry)
	}
	if zr.File[1].Name != MetaEntry {
		return rep, fmt.Errorf("second entry is %q, want %q", zr.File[1].Name, MetaEntry)
	}

	if err := scanRecording(zr.File[0], rep, visit); err != nil {
		return rep, err
	}

	rc, err := zr.File[1].Open()
	if err != nil {
		return rep, fmt.Errorf("failed to open %s: %w", MetaEntry, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return rep, fmt.Errorf("failed to read %s: %w", MetaEntry, err)
	}
	if err := json.Unmarshal(data, &rep.Meta); err != nil {
		return rep, fmt.Errorf("failed to parse %s: %w", MetaEntry, err)
	}

	if rep.Meta.FileFormat != FileFormat {
		return rep, fmt.Errorf("unexpected file format %q", rep.Meta.FileFormat)
	}
	if rep.Meta.FileFormatVersion != CurrentFileFormatVersion {
		return rep, fmt.Errorf("unexpected file format version %d", rep.Meta.FileFormatVersion)
	}
	if rep.Meta.Duration < 0 {
		return rep, fmt.Errorf("negative duration %d", rep.Meta.Duration)
	}
	if int64(rep.LastFrame) > rep.Meta.Duration {
		return rep, fmt.Errorf("last frame at %d ms is past duration %d ms", rep.LastFrame, rep.Meta.Duration)
	}
	return rep, nil
}

func scanRecording(f *zip.File, rep *Report, visit func(Frame) error) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", RecordingEntry, err)
	}
	defer rc.Close()

	fr := NewFrameReader(rc)
	fr.MaxFrame = maxValidatedFrame
	for {
		frame, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("frame %d: %w", rep.Packets, err)
		}
		if frame.Time < rep.LastFrame {
			return fmt.Errorf("frame %d: time %d ms before previous %d ms", rep.Packets, frame.Time, rep.LastFrame)
		}
		if _, _, err := SplitPacket(frame.Data); err != nil {
			return fmt.Errorf("frame %d: %w", rep.Packets, err)
		}
		if visit != nil {
			if err := visit(frame); err != nil {
				return err
			}
		}
		rep.LastFrame = frame.Time
		rep.Packets++
		rep.Bytes += int64(len(frame.Data))
	}
}

// ValidateFile checks the replay at path with Inspect and logs a summary and
// soft warnings to logger. A nil logger uses slog.Default().
func ValidateFile(path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	rep, err := Inspect(path, nil)
	if err != nil {
		return err
	}

	if rep.Packets == 0 {
		logger.Warn("recording is empty", "path", path)
	}
	if rep.Meta.Protocol != ProtocolVersion {
		logger.Warn("unexpected protocol version", "path", path, "protocol", rep.Meta.Protocol)
	}
	if rep.Meta.Duration == 0 {
		logger.Warn("replay duration is 0 ms", "path", path)
	}

	logger.Info("validated replay",
		"path", path,
		"mcversion", rep.Meta.MCVersion,
		"protocol", rep.Meta.Protocol,
		"duration_ms", rep.Meta.Duration,
		"packets", rep.Packets,
		"size", rep.Size)
	return nil
}

// ValidateFileQuiet is like ValidateFile but suppresses all log output.
func ValidateFileQuiet(path string) error {
	return ValidateFile(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
}
