package session

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	pk "github.com/Tnze/go-mc/net/packet"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reallyoldfogie/mc-session-recorder/internal/config"
	"github.com/reallyoldfogie/mc-session-recorder/internal/wire"
	"github.com/reallyoldfogie/mc-session-recorder/mcpr"
	"github.com/reallyoldfogie/mc-session-recorder/mcpr/recorder"
)

// stepClock advances 10ms on every reading.
type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(10 * time.Millisecond)
	return c.t
}

type seen struct {
	phase recorder.Phase
	id    int32
}

func recording(t *testing.T) config.Recording {
	t.Helper()
	return config.Recording{
		Enabled:                 true,
		Path:                    filepath.Join(t.TempDir(), "session.mcpr"),
		ServerName:              "localhost:25565",
		ExcludeLoginCompression: true,
	}
}

func raw(id int32, body ...byte) []byte {
	return append(mcpr.EncodeID(id), body...)
}

func frames(t *testing.T, path string) (*mcpr.Report, []mcpr.Frame) {
	t.Helper()
	var out []mcpr.Frame
	rep, err := mcpr.Inspect(path, func(f mcpr.Frame) error {
		out = append(out, f)
		return nil
	})
	require.NoError(t, err)
	return rep, out
}

func TestDisabledRegistersNothing(t *testing.T) {
	rec := recording(t)
	rec.Enabled = false

	var got []seen
	s, err := New(Options{
		Recording: rec,
		Handlers:  []Handler{func(phase recorder.Phase, p pk.Packet) {
			got = append(got, seen{phase, p.ID})
		}},
	})
	require.NoError(t, err)
	assert.Nil(t, s.Recorder())
	assert.Empty(t, s.messageTaps)
	assert.Empty(t, s.cycleTaps)

	s.Receive(wire.Frame{Phase: recorder.PhaseLogin, Data: raw(mcpr.LoginSuccessID)})
	s.Receive(wire.Frame{Phase: recorder.PhasePlay, Data: raw(mcpr.PlayKeepAliveID, 1)})
	s.Tick()
	require.NoError(t, s.Close())

	assert.Equal(t, []seen{
		{recorder.PhaseLogin, mcpr.LoginSuccessID},
		{recorder.PhasePlay, mcpr.PlayKeepAliveID},
	}, got)
	assert.NoFileExists(t, rec.Path)
	assert.ErrorIs(t, s.FinishRecording(), ErrNotRecording)
}

func TestRecordsEveryPhaseInOrder(t *testing.T) {
	rec := recording(t)
	clock := &stepClock{t: time.Unix(1_700_000_000, 0)}

	var got []seen
	s, err := New(Options{
		Recording: rec,
		Now:       clock.Now,
		Handlers:  []Handler{func(phase recorder.Phase, p pk.Packet) {
			got = append(got, seen{phase, p.ID})
		}},
	})
	require.NoError(t, err)
	require.NotNil(t, s.Recorder())

	s.Receive(wire.Frame{Phase: recorder.PhaseLogin, Data: raw(mcpr.LoginCompressionID, 0x80, 0x02)})
	s.Receive(wire.Frame{Phase: recorder.PhaseLogin, Data: raw(0x04, 0xAA)})
	s.Receive(wire.Frame{Phase: recorder.PhaseConfiguration, Data: raw(mcpr.ConfigFinishID)})
	s.Receive(wire.Frame{Phase: recorder.PhasePlay, Data: raw(mcpr.PlayKeepAliveID, 1, 2)})
	s.Receive(wire.Frame{Phase: recorder.PhasePlay, Data: raw(0x30, 3)})
	s.Tick()
	s.Tick()
	require.NoError(t, s.Close())

	// Handlers still see the compression packet; only the replay drops it.
	assert.Equal(t, []seen{
		{recorder.PhaseLogin, mcpr.LoginCompressionID},
		{recorder.PhaseLogin, 0x04},
		{recorder.PhaseConfiguration, mcpr.ConfigFinishID},
		{recorder.PhasePlay, mcpr.PlayKeepAliveID},
		{recorder.PhasePlay, 0x30},
	}, got)

	rep, fs := frames(t, rec.Path)
	require.Len(t, fs, 4)
	assert.Equal(t, raw(0x04, 0xAA), fs[0].Data)
	assert.Equal(t, raw(mcpr.ConfigFinishID), fs[1].Data)
	assert.Equal(t, raw(mcpr.PlayKeepAliveID, 1, 2), fs[2].Data)
	assert.Equal(t, raw(0x30, 3), fs[3].Data)
	for i := 1; i < len(fs); i++ {
		assert.GreaterOrEqual(t, fs[i].Time, fs[i-1].Time)
	}
	assert.Equal(t, "localhost:25565", rep.Meta.ServerName)

	stats := s.Recorder().Stats()
	assert.EqualValues(t, 4, stats.Packets)
	assert.EqualValues(t, 1, stats.Dropped)
}

func TestLoginSuccessAddsPlayer(t *testing.T) {
	rec := recording(t)
	s, err := New(Options{Recording: rec})
	require.NoError(t, err)

	id := uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")
	p := pk.Marshal(int32(mcpr.LoginSuccessID), pk.UUID(id), pk.String("Notch"), pk.VarInt(0))
	s.Deliver(recorder.PhaseLogin, p)
	s.Deliver(recorder.PhaseLogin, p)
	require.NoError(t, s.Close())

	rep, fs := frames(t, rec.Path)
	assert.Len(t, fs, 2)
	assert.Equal(t, []string{id.String()}, rep.Meta.Players)
}

func TestCloseIsIdempotent(t *testing.T) {
	rec := recording(t)
	s, err := New(Options{Recording: rec})
	require.NoError(t, err)

	require.NoError(t, s.FinishRecording())
	assert.ErrorIs(t, s.FinishRecording(), ErrNotRecording)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	// Taps are detached, so packets after the finish are not recorded.
	s.Receive(wire.Frame{Phase: recorder.PhaseLogin, Data: raw(0x04)})
	s.Receive(wire.Frame{Phase: recorder.PhasePlay, Data: raw(0x30)})
	s.Tick()

	rep, _ := frames(t, rec.Path)
	assert.Zero(t, rep.Packets)
}

func TestRunFinishesWhenFramesClose(t *testing.T) {
	rec := recording(t)
	s, err := New(Options{Recording: rec})
	require.NoError(t, err)

	ch := make(chan wire.Frame, 3)
	ch <- wire.Frame{Phase: recorder.PhaseLogin, Data: raw(0x04)}
	ch <- wire.Frame{Phase: recorder.PhasePlay, Data: raw(0x30, 1)}
	ch <- wire.Frame{Phase: recorder.PhasePlay, Data: raw(0x31, 2)}
	close(ch)

	require.NoError(t, s.Run(context.Background(), ch, time.Hour))

	rep, fs := frames(t, rec.Path)
	assert.Equal(t, 3, rep.Packets)
	assert.Equal(t, raw(0x31, 2), fs[2].Data)
}

func TestRunFinishesOnCancel(t *testing.T) {
	rec := recording(t)
	s, err := New(Options{Recording: rec})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan wire.Frame)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, ch, time.Millisecond) }()

	ch <- wire.Frame{Phase: recorder.PhasePlay, Data: raw(0x30)}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	rep, _ := frames(t, rec.Path)
	assert.Equal(t, 1, rep.Packets)
	assert.ErrorIs(t, s.FinishRecording(), ErrNotRecording)
}

func TestRunFinishesRecordingOnPanic(t *testing.T) {
	rec := recording(t)
	s, err := New(Options{
		Recording: rec,
		Handlers:  []Handler{func(phase recorder.Phase, p pk.Packet) {
			if phase == recorder.PhasePlay {
				panic("handler bug")
			}
		}},
	})
	require.NoError(t, err)

	ch := make(chan wire.Frame, 2)
	ch <- wire.Frame{Phase: recorder.PhaseConfiguration, Data: raw(mcpr.ConfigFinishID)}
	ch <- wire.Frame{Phase: recorder.PhasePlay, Data: raw(0x30, 9)}
	close(ch)

	assert.PanicsWithValue(t, "handler bug", func() {
		_ = s.Run(context.Background(), ch, time.Hour)
	})

	// The play packet was captured before the handler ran.
	rep, fs := frames(t, rec.Path)
	assert.Equal(t, 2, rep.Packets)
	assert.Equal(t, raw(0x30, 9), fs[1].Data)
}

func TestUndecodablePacketIsSkipped(t *testing.T) {
	rec := recording(t)
	called := 0
	s, err := New(Options{
		Recording: rec,
		Handlers:  []Handler{func(recorder.Phase, pk.Packet) { called++ }},
	})
	require.NoError(t, err)

	// A VarInt with the continuation bit set and nothing after it.
	s.Receive(wire.Frame{Phase: recorder.PhaseLogin, Data: []byte{0x80}})
	require.NoError(t, s.Close())
	assert.Zero(t, called)
}

func TestNewBadPath(t *testing.T) {
	rec := recording(t)
	rec.Path = filepath.Join(t.TempDir(), "missing", "dir", "x.mcpr")
	_, err := New(Options{Recording: rec})
	assert.ErrorIs(t, err, mcpr.ErrIO)
}

func TestRunRecordsBufferedFramesOnCancel(t *testing.T) {
	rec := recording(t)
	s, err := New(Options{Recording: rec})
	require.NoError(t, err)

	ch := make(chan wire.Frame, 8)
	ch <- wire.Frame{Phase: recorder.PhaseConfiguration, Data: raw(mcpr.ConfigFinishID)}
	for i := byte(0); i < 5; i++ {
		ch <- wire.Frame{Phase: recorder.PhasePlay, Data: raw(0x30, i)}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, s.Run(ctx, ch, time.Hour))

	rep, fs := frames(t, rec.Path)
	assert.Equal(t, 6, rep.Packets)
	assert.Equal(t, raw(0x30, 4), fs[5].Data)
}

func TestReconfigurationKeepsArrivalOrder(t *testing.T) {
	rec := recording(t)
	var got []seen
	s, err := New(Options{
		Recording: rec,
		Handlers:  []Handler{func(phase recorder.Phase, p pk.Packet) {
			got = append(got, seen{phase, p.ID})
		}},
	})
	require.NoError(t, err)

	s.Receive(wire.Frame{Phase: recorder.PhasePlay, Data: raw(0x30)})
	s.Receive(wire.Frame{Phase: recorder.PhasePlay, Data: raw(mcpr.PlayStartConfigID)})
	s.Receive(wire.Frame{Phase: recorder.PhaseConfiguration, Data: raw(0x07, 1)})
	s.Receive(wire.Frame{Phase: recorder.PhaseConfiguration, Data: raw(mcpr.ConfigFinishID)})
	s.Receive(wire.Frame{Phase: recorder.PhasePlay, Data: raw(0x31)})
	s.Tick()
	require.NoError(t, s.Close())

	want := []seen{
		{recorder.PhasePlay, 0x30},
		{recorder.PhasePlay, mcpr.PlayStartConfigID},
		{recorder.PhaseConfiguration, 0x07},
		{recorder.PhaseConfiguration, mcpr.ConfigFinishID},
		{recorder.PhasePlay, 0x31},
	}
	assert.Equal(t, want, got)

	_, fs := frames(t, rec.Path)
	require.Len(t, fs, len(want))
	for i, f := range fs {
		id, _, err := mcpr.SplitPacket(f.Data)
		require.NoError(t, err)
		assert.Equal(t, want[i].id, id, "frame %d", i)
	}
}

// failAfter accepts n bytes, then fails every write.
type failAfter struct {
	n   int
	err error
}

func (w *failAfter) Write(p []byte) (int, error) {
	if len(p) > w.n {
		n := w.n
		w.n = 0
		return n, w.err
	}
	w.n -= len(p)
	return len(p), nil
}

func TestRecordFailureDoesNotStopSession(t *testing.T) {
	rec := recording(t)
	handled := map[recorder.Phase]int{}
	s, err := New(Options{
		Recording: rec,
		Output:    &failAfter{n: 1024, err: errors.New("no space left on device")},
		Handlers:  []Handler{func(phase recorder.Phase, _ pk.Packet) { handled[phase]++ }},
	})
	require.NoError(t, err)

	payload := make([]byte, 256<<10)
	rand.New(rand.NewSource(7)).Read(payload)

	const n = 32
	for i := 0; i < n; i++ {
		s.Deliver(recorder.PhaseConfiguration, pk.Packet{ID: 0x07, Data: payload})
	}
	require.Positive(t, s.Recorder().Stats().Failed)

	// Capture keeps failing; delivery to the handlers does not.
	for i := 0; i < n; i++ {
		s.Receive(wire.Frame{Phase: recorder.PhasePlay, Data: raw(0x30, byte(i))})
		s.Tick()
	}
	assert.Equal(t, n, handled[recorder.PhaseConfiguration])
	assert.Equal(t, n, handled[recorder.PhasePlay])
	assert.GreaterOrEqual(t, s.Recorder().Stats().Failed, int64(n))

	assert.Error(t, s.Close())
	assert.ErrorIs(t, s.FinishRecording(), ErrNotRecording)
}
