package recorder

import "time"

// Observer receives recorder events, typically to export them as metrics.
type Observer interface {
	PacketRecorded(phase Phase, bytes int)
	PacketDropped(phase Phase, reason string)
	RecordFailed(phase Phase)
	Finished(duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) PacketRecorded(Phase, int)     {}
func (nopObserver) PacketDropped(Phase, string)   {}
func (nopObserver) RecordFailed(Phase)            {}
func (nopObserver) Finished(time.Duration, error) {}
