// Package recorder captures the clientbound packets of one live session into
// an MCPR replay. It is transport-agnostic: the host hands it each packet,
// decoded or raw, in the order it was received, and calls Finish once when
// the session ends.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/reallyoldfogie/mc-session-recorder/internal/logging"
	"github.com/reallyoldfogie/mc-session-recorder/mcpr"
)

// ErrFinished is returned by any call made after Finish. It marks a
// programming error in the caller, not an I/O condition.
var ErrFinished = errors.New("recorder: already finished")

// Options configures a Recorder. ServerName and ExcludeLoginCompression come
// from the host's configuration.
type Options struct {
	// Path of the replay file; created or truncated by New.
	Path string

	// ServerName is written to metaData.json as serverName.
	ServerName string

	// ExcludeLoginCompression drops the login SetCompression packet, which a
	// replay viewer would otherwise apply to the recorded stream.
	ExcludeLoginCompression bool

	// Generator overrides mcpr.DefaultGenerator().
	Generator string

	Logger   *slog.Logger
	Observer Observer

	// Now is the clock; defaults to time.Now. Elapsed times are measured
	// with the monotonic reading of the values it returns.
	Now func() time.Time
}

// Stats counts what a Recorder has seen.
type Stats struct {
	Packets int64 // frames written
	Bytes   int64 // frame payload bytes written
	Dropped int64 // packets removed by the exclusion policy
	Failed  int64 // packets that could not be written
}

// Recorder streams packets into the recording.tmcpr entry of an archive and
// writes metaData.json on Finish.
//
// A Recorder is safe for concurrent use, so go-mc handlers running on the
// client's goroutine may share it with the host that finishes it.
type Recorder struct {
	mu       sync.Mutex
	aw       *mcpr.ArchiveWriter
	start    time.Time
	now      func() time.Time
	path     string
	server   string
	exclude  bool
	gen      string
	selfID   int
	players  []string
	stats    Stats
	finished bool
	log      *slog.Logger
	obs      Observer
}

// New creates the replay file at opts.Path, begins the recording.tmcpr entry
// and samples the session start.
func New(opts Options) (*Recorder, error) {
	aw, err := mcpr.CreateArchive(opts.Path)
	if err != nil {
		return nil, err
	}
	return newRecorder(aw, opts)
}

// NewWriter is like New but writes the archive to w.
func NewWriter(w io.Writer, opts Options) (*Recorder, error) {
	return newRecorder(mcpr.NewArchiveWriter(w), opts)
}

func newRecorder(aw *mcpr.ArchiveWriter, opts Options) (*Recorder, error) {
	if err := aw.BeginEntry(mcpr.RecordingEntry); err != nil {
		_ = aw.Finalize()
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	r := &Recorder{
		aw:      aw,
		now:     opts.Now,
		path:    opts.Path,
		server:  opts.ServerName,
		exclude: opts.ExcludeLoginCompression,
		gen:     opts.Generator,
		log:     logging.OrNop(opts.Logger),
		obs:     opts.Observer,
	}
	r.start = r.now()
	r.log.Info("replay recording started",
		"path", r.path,
		"server", r.server,
		"exclude_login_compression", r.exclude)
	return r, nil
}

// RecordPacket records a packet the host has already decoded. The identifier
// is written as the VarInt encoding of id, followed by body.
func (r *Recorder) RecordPacket(phase Phase, id int32, body []byte) error {
	return r.Record(Typed(phase, id, body))
}

// RecordRawPacket records raw exactly as received: the packet id bytes
// followed by the body, without compression or length prefix.
func (r *Recorder) RecordRawPacket(raw []byte) error {
	return r.Record(Raw(PhasePlay, raw))
}

// Record frames p with the time elapsed since the session start and appends
// it to the packet stream. A packet dropped by the exclusion policy is not an
// error. Errors leave the recorder usable; the caller decides whether to go on.
func (r *Recorder) Record(p Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrFinished
	}

	if r.excluded(p) {
		r.stats.Dropped++
		r.obs.PacketDropped(p.Phase, "login_compression")
		r.log.Debug("dropped login compression packet")
		return nil
	}

	var id, body []byte
	switch p.Kind {
	case KindRaw:
		body = p.Raw
	default:
		id, body = mcpr.EncodeID(p.ID), p.Body
	}

	elapsed := r.now().Sub(r.start).Milliseconds()
	frame, err := mcpr.EncodeFrame(elapsed, id, body)
	if err == nil {
		err = r.aw.Append(frame)
	}
	if err != nil {
		r.stats.Failed++
		r.obs.RecordFailed(p.Phase)
		return fmt.Errorf("record %s packet: %w", p.Phase, err)
	}

	n := len(frame) - mcpr.FrameHeaderSize
	r.stats.Packets++
	r.stats.Bytes += int64(n)
	r.obs.PacketRecorded(p.Phase, n)
	return nil
}

// excluded reports whether the exclusion policy removes p from the stream.
func (r *Recorder) excluded(p Packet) bool {
	if !r.exclude || p.Phase != PhaseLogin {
		return false
	}
	id := p.ID
	if p.Kind == KindRaw {
		var err error
		if id, _, err = mcpr.SplitPacket(p.Raw); err != nil {
			return false
		}
	}
	return id == mcpr.LoginCompressionID
}

// SetSelfID annotates the recording with the recording player's entity id.
// No-op after Finish.
func (r *Recorder) SetSelfID(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.selfID = id
}

// AddPlayer adds a player uuid to the players list of metaData.json.
// Duplicates are ignored. No-op after Finish.
func (r *Recorder) AddPlayer(uuid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	for _, p := range r.players {
		if p == uuid {
			return
		}
	}
	r.players = append(r.players, uuid)
}

// Stats returns a snapshot of the recorder's counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Path returns Options.Path, the replay file path for recorders made by New.
func (r *Recorder) Path() string {
	return r.path
}

// Start returns the sampled session start.
func (r *Recorder) Start() time.Time {
	return r.start
}

// Finish seals the packet stream, writes metaData.json and closes the
// archive. It may be called once; later calls and records return ErrFinished.
//
// On error the file is left in place as a best-effort partial replay and
// should be treated as possibly invalid.
func (r *Recorder) Finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrFinished
	}
	r.finished = true

	duration := r.now().Sub(r.start)
	meta := mcpr.NewMeta(r.server, r.start, duration, r.gen)
	meta.SelfID = r.selfID
	meta.Players = r.players

	err := mcpr.WriteMeta(r.aw, meta)
	// Finalize regardless: the file handle must be released.
	if ferr := r.aw.Finalize(); ferr != nil {
		err = errors.Join(err, ferr)
	}
	r.obs.Finished(duration, err)
	if err != nil {
		return fmt.Errorf("finish replay %s: %w", r.path, err)
	}

	r.log.Info("replay recording finished",
		"path", r.path,
		"duration_ms", meta.Duration,
		"packets", r.stats.Packets,
		"bytes", r.stats.Bytes,
		"dropped", r.stats.Dropped,
		"failed", r.stats.Failed)
	return nil
}
