// Package adapters connects github.com/Tnze/go-mc packets (pk.Packet) to the
// session recorder.
package adapters

import (
	"bytes"
	"log/slog"

	pk "github.com/Tnze/go-mc/net/packet"

	"github.com/reallyoldfogie/mc-session-recorder/internal/logging"
	"github.com/reallyoldfogie/mc-session-recorder/mcpr"
	"github.com/reallyoldfogie/mc-session-recorder/mcpr/recorder"
)

// Sink receives captured packets; *recorder.Recorder implements it.
type Sink interface {
	Record(p recorder.Packet) error
}

// FromPacket converts a decoded packet into a typed recorder packet. The
// payload is copied since go-mc reuses packet buffers between reads.
func FromPacket(phase recorder.Phase, p pk.Packet) recorder.Packet {
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	return recorder.Typed(phase, p.ID, data)
}

// Encode returns the packet as it appears on the wire inside a frame: the
// VarInt id followed by the body.
func Encode(p pk.Packet) []byte {
	var buf bytes.Buffer
	buf.Grow(5 + len(p.Data))
	buf.Write(mcpr.EncodeID(p.ID))
	buf.Write(p.Data)
	return buf.Bytes()
}

// PacketFunc returns a handler compatible with go-mc's packet handler
// signature (func(pk.Packet) error) that records every packet it sees in the
// given phase. Record errors are logged, never returned: go-mc ends the
// connection when a handler fails, and a broken recording must not end the
// session.
func PacketFunc(sink Sink, phase recorder.Phase, logger *slog.Logger) func(pk.Packet) error {
	logger = logging.OrNop(logger)
	recordCount := 0
	return func(p pk.Packet) error {
		if err := sink.Record(FromPacket(phase, p)); err != nil {
			logger.Error("failed to record packet", "phase", phase, "id", p.ID, "error", err)
			return nil
		}
		recordCount++
		if recordCount%100 == 0 {
			logger.Debug("recorded packets", "phase", phase, "count", recordCount, "latest_id", p.ID, "latest_len", len(p.Data))
		}
		return nil
	}
}
