package mcpr

import (
	"encoding/json"
	"fmt"
	"time"
)

// CurrentFileFormatVersion is the ReplayMod MCPR format written by this package.
const CurrentFileFormatVersion = 14

// FileFormat is the fixed fileFormat value of metaData.json.
const FileFormat = "MCPR"

// Meta describes the metaData.json document written after the packet stream.
// The first nine fields are always emitted; SelfID and Players only when set.
type Meta struct {
	Singleplayer      bool     `json:"singleplayer"`
	ServerName        string   `json:"serverName"`
	Duration          int64    `json:"duration"` // milliseconds
	Date              int64    `json:"date"`     // unix ms at session start
	MCVersion         string   `json:"mcversion"`
	FileFormat        string   `json:"fileFormat"`
	FileFormatVersion int      `json:"fileFormatVersion"`
	Protocol          int      `json:"protocol"` // MC network protocol id
	Generator         string   `json:"generator"`
	SelfID            int      `json:"selfId,omitempty"`
	Players           []string `json:"players,omitempty"`
}

// NewMeta builds the metadata of a multiplayer session that started at start
// and lasted duration. Negative durations are clamped to zero.
func NewMeta(serverName string, start time.Time, duration time.Duration, generator string) Meta {
	ms := duration.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	if generator == "" {
		generator = DefaultGenerator()
	}
	return Meta{
		Singleplayer:      false,
		ServerName:        serverName,
		Duration:          ms,
		Date:              start.UnixMilli(),
		MCVersion:         VersionName,
		FileFormat:        FileFormat,
		FileFormatVersion: CurrentFileFormatVersion,
		Protocol:          ProtocolVersion,
		Generator:         generator,
	}
}

// WriteMeta serializes meta and writes it as the metaData.json entry. The
// entry that was open before, normally recording.tmcpr, is sealed first.
func WriteMeta(aw *ArchiveWriter, meta Meta) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if err := aw.BeginEntry(MetaEntry); err != nil {
		return err
	}
	return aw.Append(b)
}
