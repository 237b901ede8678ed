// Package wire splits a clientbound Minecraft byte stream into packets.
//
// It handles VarInt length framing, zlib compression once the server has
// sent SetCompression, and follows the connection through the login,
// configuration and play phases, including the return from play to
// configuration when the server starts a reconfiguration. Encryption is not supported: an encrypted
// stream fails framing and ReadFrame returns an error.
package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	pk "github.com/Tnze/go-mc/net/packet"
	"github.com/klauspost/compress/zlib"

	"github.com/reallyoldfogie/mc-session-recorder/mcpr"
	"github.com/reallyoldfogie/mc-session-recorder/mcpr/recorder"
)

// MaxFrame is the largest frame the protocol allows on the wire.
const MaxFrame = 2 << 20

// MaxDataLength is the largest packet a compressed frame may inflate to.
const MaxDataLength = 8 << 20

// ErrBadFrame reports a stream that no longer decodes as protocol frames.
var ErrBadFrame = errors.New("wire: invalid frame")

// Frame is one clientbound packet: the VarInt id followed by the body,
// exactly as the server produced it before compression.
type Frame struct {
	Phase recorder.Phase
	Data  []byte
}

// Reader decodes frames from a server to client stream.
type Reader struct {
	br        *bufio.Reader
	phase     recorder.Phase
	threshold int
}

// NewReader returns a Reader in the login phase with compression disabled.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r), phase: recorder.PhaseLogin, threshold: -1}
}

// Phase returns the phase the next frame will be read in.
func (r *Reader) Phase() recorder.Phase { return r.phase }

// Threshold returns the compression threshold, -1 while disabled.
func (r *Reader) Threshold() int { return r.threshold }

// ReadFrame reads and decompresses the next frame, then advances the phase
// and compression state according to its packet id.
func (r *Reader) ReadFrame() (Frame, error) {
	var length pk.VarInt
	if _, err := length.ReadFrom(r.br); err != nil {
		return Frame{}, err
	}
	if length <= 0 || length > MaxFrame {
		return Frame{}, fmt.Errorf("%w: length %d", ErrBadFrame, length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return Frame{}, err
	}

	data, err := r.decompress(buf)
	if err != nil {
		return Frame{}, err
	}
	f := Frame{Phase: r.phase, Data: data}
	if err := r.advance(data); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (r *Reader) decompress(buf []byte) ([]byte, error) {
	if r.threshold < 0 {
		return buf, nil
	}
	br := bytes.NewReader(buf)
	var size pk.VarInt
	if _, err := size.ReadFrom(br); err != nil {
		return nil, fmt.Errorf("%w: data length: %v", ErrBadFrame, err)
	}
	rest := buf[len(buf)-br.Len():]
	if size == 0 {
		return rest, nil
	}
	if size < 0 || size > MaxDataLength {
		return nil, fmt.Errorf("%w: data length %d", ErrBadFrame, size)
	}

	zr, err := zlib.NewReader(bytes.NewReader(rest))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	defer zr.Close()
	out := make([]byte, size)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrBadFrame, err)
	}
	return out, nil
}

func (r *Reader) advance(data []byte) error {
	id, body, err := mcpr.SplitPacket(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	switch r.phase {
	case recorder.PhaseLogin:
		switch id {
		case mcpr.LoginCompressionID:
			var threshold pk.VarInt
			if _, err := threshold.ReadFrom(bytes.NewReader(body)); err != nil {
				return fmt.Errorf("%w: set compression: %v", ErrBadFrame, err)
			}
			r.threshold = int(threshold)
		case mcpr.LoginSuccessID:
			r.phase = recorder.PhaseConfiguration
		}
	case recorder.PhaseConfiguration:
		if id == mcpr.ConfigFinishID {
			r.phase = recorder.PhasePlay
		}
	case recorder.PhasePlay:
		if id == mcpr.PlayStartConfigID {
			r.phase = recorder.PhaseConfiguration
		}
	}
	return nil
}

// WriteFrame frames data for the wire, compressing it when threshold is not
// negative and data is at least threshold bytes long.
func WriteFrame(w io.Writer, data []byte, threshold int) error {
	var payload bytes.Buffer
	switch {
	case threshold < 0:
		payload.Write(data)
	case len(data) < threshold:
		_, _ = pk.VarInt(0).WriteTo(&payload)
		payload.Write(data)
	default:
		_, _ = pk.VarInt(len(data)).WriteTo(&payload)
		zw := zlib.NewWriter(&payload)
		if _, err := zw.Write(data); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
	}

	var frame bytes.Buffer
	_, _ = pk.VarInt(payload.Len()).WriteTo(&frame)
	frame.Write(payload.Bytes())
	_, err := w.Write(frame.Bytes())
	return err
}
