// Package capture binds the recorder to the three delivery phases of a
// session.
//
// Login and configuration packets reach the host decoded, one at a time, and
// are re-serialized by LoginTap and ConfigTap. Play packets sit undecoded in
// the connection's RawQueue; GameTap records them verbatim once per cycle.
// Every tap must run before the host stage that consumes the same packets.
package capture

import (
	pk "github.com/Tnze/go-mc/net/packet"

	"github.com/reallyoldfogie/mc-session-recorder/adapters"
	"github.com/reallyoldfogie/mc-session-recorder/mcpr/recorder"
)

// Sink receives captured packets; *recorder.Recorder implements it.
type Sink = adapters.Sink

// MessageTap observes one decoded packet.
type MessageTap func(p pk.Packet) error

// CycleTap observes the connection queue once per host cycle.
type CycleTap func(q *RawQueue) error

// Registrar is the host pipeline the taps are attached to.
type Registrar interface {
	OnMessage(phase recorder.Phase, name string, tap MessageTap)
	OnCycle(name string, tap CycleTap)
}

// LoginTap records login packets. The recorder applies its exclusion policy
// to the SetCompression packet.
func LoginTap(s Sink) MessageTap {
	return typedTap(s, recorder.PhaseLogin)
}

// ConfigTap records configuration packets.
func ConfigTap(s Sink) MessageTap {
	return typedTap(s, recorder.PhaseConfiguration)
}

// GameTap records every queued play packet exactly as it was received.
func GameTap(s Sink) CycleTap {
	return func(q *RawQueue) error {
		return q.Capture(func(b []byte) error {
			return s.Record(recorder.Raw(recorder.PhasePlay, b))
		})
	}
}

func typedTap(s Sink, phase recorder.Phase) MessageTap {
	return func(p pk.Packet) error {
		return s.Record(adapters.FromPacket(phase, p))
	}
}

// Register attaches the three taps to reg.
func Register(reg Registrar, s Sink) {
	reg.OnMessage(recorder.PhaseLogin, "record_login_packets", LoginTap(s))
	reg.OnMessage(recorder.PhaseConfiguration, "record_configuration_packets", ConfigTap(s))
	reg.OnCycle("record_game_packets", GameTap(s))
}
