// Package session drives one client connection through its per-cycle stage
// pipeline and owns the optional replay recorder.
//
// Stages run in a fixed order. For login and configuration packets, which
// arrive decoded, the capture callbacks for the packet's phase run first and
// the consume handlers second. Play packets are queued raw on arrival; each
// Tick runs the cycle capture callbacks over the queue and then drains it
// into the consume handlers. Capture therefore always observes a packet
// before anything else can touch it.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	pk "github.com/Tnze/go-mc/net/packet"
	"github.com/google/uuid"

	"github.com/reallyoldfogie/mc-session-recorder/capture"
	"github.com/reallyoldfogie/mc-session-recorder/internal/config"
	"github.com/reallyoldfogie/mc-session-recorder/internal/logging"
	"github.com/reallyoldfogie/mc-session-recorder/internal/wire"
	"github.com/reallyoldfogie/mc-session-recorder/mcpr"
	"github.com/reallyoldfogie/mc-session-recorder/mcpr/recorder"
)

// DefaultTick is the length of one host cycle, a game tick.
const DefaultTick = 50 * time.Millisecond

// ErrNotRecording is returned by FinishRecording when there is no active
// recording.
var ErrNotRecording = errors.New("session: recording not active")

// Handler is normal client logic consuming a decoded packet.
type Handler func(phase recorder.Phase, p pk.Packet)

// Options configures a Session.
type Options struct {
	Recording config.Recording
	Handlers  []Handler
	Logger    *slog.Logger
	Observer  recorder.Observer

	// Output, when set, receives the replay instead of Recording.Path.
	Output io.Writer

	// Now is handed to the recorder; defaults to time.Now.
	Now func() time.Time
}

type messageTap struct {
	name string
	fn   capture.MessageTap
}

type cycleTap struct {
	name string
	fn   capture.CycleTap
}

// Session is the host side of one connection. It is not safe for concurrent
// use: Receive, Tick and Close belong to the goroutine driving the session.
type Session struct {
	rec         *recorder.Recorder
	messageTaps map[recorder.Phase][]messageTap
	cycleTaps   []cycleTap
	handlers    []Handler
	queue       capture.RawQueue
	log         *slog.Logger
	closed      bool
	closeErr    error
}

// New creates a session. When recording is enabled it creates the recorder
// and registers the capture taps; otherwise no tap is registered at all.
func New(opts Options) (*Session, error) {
	s := &Session{
		messageTaps: make(map[recorder.Phase][]messageTap),
		handlers:    opts.Handlers,
		log:         logging.OrNop(opts.Logger),
	}
	if !opts.Recording.Enabled {
		s.log.Info("replay recording disabled")
		return s, nil
	}

	ropts := recorder.Options{
		Path:                    opts.Recording.Path,
		ServerName:              opts.Recording.ServerName,
		ExcludeLoginCompression: opts.Recording.ExcludeLoginCompression,
		Generator:               opts.Recording.Generator,
		Logger:                  s.log,
		Observer:                opts.Observer,
		Now:                     opts.Now,
	}
	var (
		rec *recorder.Recorder
		err error
	)
	if opts.Output != nil {
		rec, err = recorder.NewWriter(opts.Output, ropts)
	} else {
		rec, err = recorder.New(ropts)
	}
	if err != nil {
		return nil, err
	}
	s.rec = rec
	capture.Register(s, rec)
	s.handlers = append([]Handler{s.trackProfile}, s.handlers...)
	return s, nil
}

// OnMessage registers a capture callback for decoded packets of phase.
func (s *Session) OnMessage(phase recorder.Phase, name string, tap capture.MessageTap) {
	s.messageTaps[phase] = append(s.messageTaps[phase], messageTap{name: name, fn: tap})
}

// OnCycle registers a capture callback run at the start of every Tick.
func (s *Session) OnCycle(name string, tap capture.CycleTap) {
	s.cycleTaps = append(s.cycleTaps, cycleTap{name: name, fn: tap})
}

// Recorder returns the active recorder, nil when the session is not recording.
func (s *Session) Recorder() *recorder.Recorder {
	return s.rec
}

// Receive routes a frame read from the connection: login and configuration
// packets are delivered at once, play packets are queued for the next Tick.
// A configuration packet that follows queued play packets, after the server
// started a reconfiguration, first runs a Tick so arrival order is kept.
func (s *Session) Receive(f wire.Frame) {
	if f.Phase == recorder.PhasePlay {
		s.queue.Push(f.Data)
		return
	}
	if s.queue.Len() > 0 {
		s.Tick()
	}
	id, body, err := mcpr.SplitPacket(f.Data)
	if err != nil {
		s.log.Warn("undecodable packet", "phase", f.Phase, "error", err)
		return
	}
	s.Deliver(f.Phase, pk.Packet{ID: id, Data: body})
}

// Deliver runs the capture callbacks of phase for p, then the handlers.
func (s *Session) Deliver(phase recorder.Phase, p pk.Packet) {
	for _, t := range s.messageTaps[phase] {
		if err := t.fn(p); err != nil {
			s.log.Error("failed to record packet", "tap", t.name, "phase", phase, "id", p.ID, "error", err)
		}
	}
	s.consume(phase, p)
}

// Tick runs one host cycle over the queued play packets.
func (s *Session) Tick() {
	for _, t := range s.cycleTaps {
		if err := t.fn(&s.queue); err != nil {
			s.log.Error("failed to record packet", "tap", t.name, "phase", recorder.PhasePlay, "error", err)
		}
	}
	for _, raw := range s.queue.Drain() {
		id, body, err := mcpr.SplitPacket(raw)
		if err != nil {
			s.log.Warn("undecodable packet", "phase", recorder.PhasePlay, "error", err)
			continue
		}
		s.consume(recorder.PhasePlay, pk.Packet{ID: id, Data: body})
	}
}

func (s *Session) consume(phase recorder.Phase, p pk.Packet) {
	for _, h := range s.handlers {
		h(phase, p)
	}
}

// trackProfile adds the profile from login success to the replay's players.
func (s *Session) trackProfile(phase recorder.Phase, p pk.Packet) {
	if phase != recorder.PhaseLogin || p.ID != mcpr.LoginSuccessID || s.rec == nil {
		return
	}
	var (
		id   pk.UUID
		name pk.String
	)
	if err := p.Scan(&id, &name); err != nil {
		s.log.Warn("unreadable login success packet", "error", err)
		return
	}
	s.rec.AddPlayer(uuid.UUID(id).String())
	s.log.Info("logged in", "player", string(name))
}

// Run drives the session until frames is closed or ctx is done, ticking
// every tick, and finishes the recording on the way out. A panic in a stage
// still gets a best-effort finish before it propagates.
func (s *Session) Run(ctx context.Context, frames <-chan wire.Frame, tick time.Duration) error {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session panicked, finishing recording", "panic", r)
			_ = s.Close()
			panic(r)
		}
	}()
	if tick <= 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.receiveBuffered(frames)
			s.Tick()
			return s.Close()
		case f, ok := <-frames:
			if !ok {
				s.Tick()
				return s.Close()
			}
			s.Receive(f)
		case <-ticker.C:
			s.Tick()
		}
	}
}

// receiveBuffered takes every frame already waiting in frames without
// blocking. Those packets have reached the client and belong in the replay.
func (s *Session) receiveBuffered(frames <-chan wire.Frame) {
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return
			}
			s.Receive(f)
		default:
			return
		}
	}
}

// FinishRecording finishes the recording before the session ends and
// detaches the capture taps. It returns ErrNotRecording when the session is
// not recording or the recording was already finished.
func (s *Session) FinishRecording() error {
	if s.rec == nil || s.closed {
		return ErrNotRecording
	}
	return s.Close()
}

// Close finishes the recording, if any. Only the first call does work;
// later calls return its result.
func (s *Session) Close() error {
	if s.closed {
		return s.closeErr
	}
	s.closed = true
	s.messageTaps = make(map[recorder.Phase][]messageTap)
	s.cycleTaps = nil
	if s.rec == nil {
		return nil
	}

	if err := s.rec.Finish(); err != nil {
		s.closeErr = err
		s.log.Error("failed to finish replay recording, file may be unusable", "path", s.rec.Path(), "error", err)
	}
	return s.closeErr
}
