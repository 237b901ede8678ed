// Package mcpr writes and reads ReplayMod (.mcpr) session archives.
//
// An archive is a ZIP file with exactly two entries, written in this order:
//  - recording.tmcpr: stream of [timeBE:uint32][lenBE:uint32][varint packetId][packet bytes]
//  - metaData.json: replay metadata, written once every packet is sealed
//
// Frames are written incrementally through ArchiveWriter; nothing is retained
// in memory. The archive is only valid once it has been finalized.
package mcpr
