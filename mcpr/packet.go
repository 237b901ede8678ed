package mcpr

import (
	"bytes"
	"fmt"

	pk "github.com/Tnze/go-mc/net/packet"
)

// Protocol constants for the version this module records.
const (
	ProtocolVersion = 764
	VersionName     = "1.20.2"
)

// Clientbound packet ids that matter to recording and phase tracking.
const (
	LoginSuccessID     int32 = 0x02
	LoginCompressionID int32 = 0x03
	ConfigDisconnectID int32 = 0x01
	ConfigFinishID     int32 = 0x02
	PlayDisconnectID   int32 = 0x1B
	PlayKeepAliveID    int32 = 0x24
	PlayStartConfigID  int32 = 0x65
)

// EncodeID returns the VarInt wire encoding of a packet id.
func EncodeID(id int32) []byte {
	var buf bytes.Buffer
	// Writes into a bytes.Buffer cannot fail.
	_, _ = pk.VarInt(id).WriteTo(&buf)
	return buf.Bytes()
}

// SplitPacket separates the leading VarInt packet id from the body.
// The returned body aliases data.
func SplitPacket(data []byte) (int32, []byte, error) {
	r := bytes.NewReader(data)
	var id pk.VarInt
	if _, err := id.ReadFrom(r); err != nil {
		return 0, nil, fmt.Errorf("mcpr: read packet id: %w", err)
	}
	return int32(id), data[len(data)-r.Len():], nil
}
