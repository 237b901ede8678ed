package mcpr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// FrameHeaderSize is the size of the time and length prefix of every frame.
const FrameHeaderSize = 8

// Frame is one decoded entry of recording.tmcpr.
type Frame struct {
	Time uint32 // milliseconds since the start of the session
	Data []byte // identifier bytes followed by the packet body
}

// EncodeFrame lays out a single packet as it is stored in recording.tmcpr:
//
//	[elapsedMs:uint32 BE][len(identifier)+len(body):uint32 BE][identifier][body]
//
// Readers skip frames by their length, so both prefixes are checked and never
// truncated; a value outside uint32 yields ErrSizeOverflow.
func EncodeFrame(elapsedMs int64, identifier, body []byte) ([]byte, error) {
	if elapsedMs < 0 || elapsedMs > math.MaxUint32 {
		return nil, fmt.Errorf("%w: elapsed time %d ms", ErrSizeOverflow, elapsedMs)
	}
	total := uint64(len(identifier)) + uint64(len(body))
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("%w: payload length %d", ErrSizeOverflow, total)
	}

	out := make([]byte, FrameHeaderSize, FrameHeaderSize+int(total))
	binary.BigEndian.PutUint32(out[0:4], uint32(elapsedMs))
	binary.BigEndian.PutUint32(out[4:8], uint32(total))
	out = append(out, identifier...)
	out = append(out, body...)
	return out, nil
}

// FrameReader decodes the frames of a recording.tmcpr stream.
type FrameReader struct {
	r   io.Reader
	hdr [FrameHeaderSize]byte
	// MaxFrame bounds a single frame allocation. Zero means no limit.
	MaxFrame uint32
}

// NewFrameReader returns a reader over a recording.tmcpr stream.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// Next returns the next frame. It returns io.EOF at a clean end of stream and
// io.ErrUnexpectedEOF when the stream ends inside a frame.
func (fr *FrameReader) Next() (Frame, error) {
	if _, err := io.ReadFull(fr.r, fr.hdr[:]); err != nil {
		return Frame{}, err
	}
	ts := binary.BigEndian.Uint32(fr.hdr[0:4])
	n := binary.BigEndian.Uint32(fr.hdr[4:8])
	if fr.MaxFrame > 0 && n > fr.MaxFrame {
		return Frame{}, fmt.Errorf("mcpr: frame length %d exceeds limit %d", n, fr.MaxFrame)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(fr.r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return Frame{Time: ts, Data: data}, nil
}

// ReadFrames decodes every frame of r.
func ReadFrames(r io.Reader) ([]Frame, error) {
	fr := NewFrameReader(r)
	var frames []Frame
	for {
		f, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}
