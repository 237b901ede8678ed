package mcpr

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readArchive returns the entry names and contents of a zip held in memory.
func readArchive(t *testing.T, b []byte) ([]string, map[string][]byte) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	var names []string
	contents := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		names = append(names, f.Name)
		contents[f.Name] = data
	}
	return names, contents
}

func TestArchiveWriterEntriesInOrder(t *testing.T) {
	var buf bytes.Buffer
	aw := NewArchiveWriter(&buf)

	require.NoError(t, aw.BeginEntry(RecordingEntry))
	assert.Equal(t, RecordingEntry, aw.Entry())
	require.NoError(t, aw.Append([]byte("abc")))
	require.NoError(t, aw.Append([]byte("def")))
	require.NoError(t, aw.BeginEntry(MetaEntry))
	require.NoError(t, aw.Append([]byte("{}")))
	assert.Equal(t, []string{RecordingEntry, MetaEntry}, aw.Entries())
	require.NoError(t, aw.Finalize())

	names, contents := readArchive(t, buf.Bytes())
	assert.Equal(t, []string{RecordingEntry, MetaEntry}, names)
	assert.Equal(t, "abcdef", string(contents[RecordingEntry]))
	assert.Equal(t, "{}", string(contents[MetaEntry]))
}

func TestArchiveWriterMisuse(t *testing.T) {
	aw := NewArchiveWriter(io.Discard)
	assert.ErrorIs(t, aw.Append([]byte("x")), ErrNoOpenEntry)

	require.NoError(t, aw.Finalize())
	assert.ErrorIs(t, aw.Finalize(), ErrArchiveFinalized)
	assert.ErrorIs(t, aw.BeginEntry(RecordingEntry), ErrArchiveFinalized)
	assert.ErrorIs(t, aw.Append([]byte("x")), ErrArchiveFinalized)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestArchiveWriterPropagatesIOErrors(t *testing.T) {
	aw := NewArchiveWriter(failingWriter{})
	require.NoError(t, aw.BeginEntry(RecordingEntry))

	var err error
	payload := noise(1 << 20)
	for i := 0; i < 8 && err == nil; i++ {
		err = aw.Append(payload)
	}
	if err == nil {
		err = aw.Finalize()
	}
	assert.ErrorIs(t, err, ErrIO)
}

func TestCreateArchiveTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mcpr")
	for _, body := range []string{"first run with a longer body", "second"} {
		aw, err := CreateArchive(path)
		require.NoError(t, err)
		require.NoError(t, aw.BeginEntry(RecordingEntry))
		require.NoError(t, aw.Append([]byte(body)))
		require.NoError(t, WriteMeta(aw, NewMeta("localhost", time.Now(), 0, "test")))
		require.NoError(t, aw.Finalize())
	}

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 2)
	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestCreateArchiveBadPath(t *testing.T) {
	_, err := CreateArchive(filepath.Join(t.TempDir(), "missing", "out.mcpr"))
	assert.ErrorIs(t, err, ErrIO)
}

func TestWriteMetaDocument(t *testing.T) {
	var buf bytes.Buffer
	aw := NewArchiveWriter(&buf)
	require.NoError(t, aw.BeginEntry(RecordingEntry))

	start := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, WriteMeta(aw, NewMeta("play.example.net", start, 1500*time.Millisecond, "gen")))
	require.NoError(t, aw.Finalize())

	_, contents := readArchive(t, buf.Bytes())
	var doc map[string]any
	require.NoError(t, json.Unmarshal(contents[MetaEntry], &doc))
	assert.Equal(t, false, doc["singleplayer"])
	assert.Equal(t, "play.example.net", doc["serverName"])
	assert.EqualValues(t, 1500, doc["duration"])
	assert.EqualValues(t, 1_700_000_000_000, doc["date"])
	assert.Equal(t, VersionName, doc["mcversion"])
	assert.Equal(t, "MCPR", doc["fileFormat"])
	assert.EqualValues(t, 14, doc["fileFormatVersion"])
	assert.EqualValues(t, ProtocolVersion, doc["protocol"])
	assert.Equal(t, "gen", doc["generator"])
	assert.NotContains(t, doc, "players")
	assert.NotContains(t, doc, "selfId")
}

func TestNewMetaDefaults(t *testing.T) {
	m := NewMeta("srv", time.Now(), -time.Second, "")
	assert.Zero(t, m.Duration)
	assert.Equal(t, DefaultGenerator(), m.Generator)
	assert.Contains(t, m.Generator, "mc-session-recorder v")
}

// noise returns n bytes that deflate cannot shrink.
func noise(n int) []byte {
	b := make([]byte, n)
	x := uint32(2463534242)
	for i := range b {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		b[i] = byte(x)
	}
	return b
}
