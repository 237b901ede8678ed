package recorder

import "fmt"

// Phase is the protocol state a clientbound packet was received in.
// Phases complete strictly in declaration order.
type Phase uint8

const (
	PhaseLogin Phase = iota
	PhaseConfiguration
	PhasePlay
)

func (p Phase) String() string {
	switch p {
	case PhaseLogin:
		return "login"
	case PhaseConfiguration:
		return "configuration"
	case PhasePlay:
		return "play"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Kind tells which fields of a Packet carry its bytes.
type Kind uint8

const (
	// KindTyped packets were decoded by the host; ID and Body are re-serialized.
	KindTyped Kind = iota
	// KindRaw packets are written exactly as received, Raw holding id and body.
	KindRaw
)

// Packet is a captured clientbound message, either decoded or raw.
type Packet struct {
	Kind  Kind
	Phase Phase
	ID    int32
	Body  []byte
	Raw   []byte
}

// Typed returns a decoded packet.
func Typed(phase Phase, id int32, body []byte) Packet {
	return Packet{Kind: KindTyped, Phase: phase, ID: id, Body: body}
}

// Raw returns an undecoded packet buffer.
func Raw(phase Phase, raw []byte) Packet {
	return Packet{Kind: KindRaw, Phase: phase, Raw: raw}
}
