package engine

import (
	"encoding/binary"
	"fmt"
)

// Record kinds stored as the first payload byte of every commit log record.
const (
	recordSet   byte = iota + 1 // 1: table write
	recordFlush                 // 2: flush completion marker
)

// setRecordSize returns the encoded size of a set record, so the write path
// can size its scratch buffer before encoding.
func setRecordSize(table, key string, value []byte) int64 {
	return 1 + 2 + int64(len(table)) + 4 + int64(len(key)) + 4 + int64(len(value))
}

// encodeSet writes a set record into buf, which must be at least
// setRecordSize bytes, and returns the encoded slice.
//
// Layout: kind u8 | tableLen u16 | table | keyLen u32 | key | valueLen u32 | value
func encodeSet(buf []byte, table, key string, value []byte) []byte {
	buf[0] = recordSet
	off := 1
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(table)))
	off += 2
	off += copy(buf[off:], table)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(key)))
	off += 4
	off += copy(buf[off:], key)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(value)))
	off += 4
	off += copy(buf[off:], value)
	return buf[:off]
}

// encodeFlushMarker builds a flush completion marker recording that every
// set record of the table up to coveredLSN has reached the flush sink.
//
// Layout: kind u8 | tableLen u16 | table | coveredLSN u64
func encodeFlushMarker(buf []byte, table string, coveredLSN uint64) []byte {
	buf[0] = recordFlush
	off := 1
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(table)))
	off += 2
	off += copy(buf[off:], table)
	binary.LittleEndian.PutUint64(buf[off:], coveredLSN)
	off += 8
	return buf[:off]
}

// flushMarkerSize returns the encoded size of a flush marker.
func flushMarkerSize(table string) int64 {
	return 1 + 2 + int64(len(table)) + 8
}

// decodedRecord is the parsed form of a commit log payload.
type decodedRecord struct {
	kind       byte
	table      string
	key        string
	value      []byte
	coveredLSN uint64 // flush markers only
}

// decodeRecord parses a commit log payload. Payloads are CRC-protected by
// the log layer, so a parse failure indicates a version mismatch rather
// than corruption and is surfaced as an error.
func decodeRecord(payload []byte) (decodedRecord, error) {
	var rec decodedRecord
	if len(payload) < 3 {
		return rec, fmt.Errorf("engine: record too short (%d bytes)", len(payload))
	}

	rec.kind = payload[0]
	off := 1

	tableLen := int(binary.LittleEndian.Uint16(payload[off:]))
	off += 2
	if off+tableLen > len(payload) {
		return rec, fmt.Errorf("engine: truncated table name")
	}
	rec.table = string(payload[off : off+tableLen])
	off += tableLen

	switch rec.kind {
	case recordSet:
		if off+4 > len(payload) {
			return rec, fmt.Errorf("engine: truncated key length")
		}
		keyLen := int(binary.LittleEndian.Uint32(payload[off:]))
		off += 4
		if off+keyLen > len(payload) {
			return rec, fmt.Errorf("engine: truncated key")
		}
		rec.key = string(payload[off : off+keyLen])
		off += keyLen

		if off+4 > len(payload) {
			return rec, fmt.Errorf("engine: truncated value length")
		}
		valueLen := int(binary.LittleEndian.Uint32(payload[off:]))
		off += 4
		if off+valueLen > len(payload) {
			return rec, fmt.Errorf("engine: truncated value")
		}
		rec.value = payload[off : off+valueLen]

	case recordFlush:
		if off+8 > len(payload) {
			return rec, fmt.Errorf("engine: truncated flush marker")
		}
		rec.coveredLSN = binary.LittleEndian.Uint64(payload[off:])

	default:
		return rec, fmt.Errorf("engine: unknown record kind %d", rec.kind)
	}

	return rec, nil
}
