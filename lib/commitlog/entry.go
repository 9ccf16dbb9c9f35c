package commitlog

import (
	"encoding/binary"
	"hash/crc32"
	"io"
)

// Constants for the on-disk record format
const (
	headerSize = 24 // fixed header size in bytes
	logVersion = 1  // current format version

	// magic number for fast validation of record boundaries
	logMagic = 0xCEDA210C
)

// castagnoli is the CRC32 polynomial used for payload checksums
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// header is the fixed 24-byte prefix of every log record
type header struct {
	Magic      uint32 // 4 bytes
	Version    uint8  // 1 byte
	Flags      uint8  // 1 byte (unused, reserved for compression markers)
	Reserved   uint16 // 2 bytes (padding/alignment)
	LSN        uint64 // 8 bytes (log sequence number)
	PayloadLen uint32 // 4 bytes
	CRC32      uint32 // 4 bytes (Castagnoli, over the payload)
}

// encode serializes the header into buf (must be at least headerSize bytes)
func (h *header) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.LittleEndian.PutUint16(buf[6:8], h.Reserved)
	binary.LittleEndian.PutUint64(buf[8:16], h.LSN)
	binary.LittleEndian.PutUint32(buf[16:20], h.PayloadLen)
	binary.LittleEndian.PutUint32(buf[20:24], h.CRC32)
}

// decode deserializes buf into the header
func (h *header) decode(buf []byte) {
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = buf[4]
	h.Flags = buf[5]
	h.Reserved = binary.LittleEndian.Uint16(buf[6:8])
	h.LSN = binary.LittleEndian.Uint64(buf[8:16])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[16:20])
	h.CRC32 = binary.LittleEndian.Uint32(buf[20:24])
}

// valid reports whether the header passes structural validation.
func (h *header) valid() bool {
	return h.Magic == logMagic && h.Version == logVersion
}

// writeRecord encodes one record (header + payload) to w and returns the
// number of bytes written.
func writeRecord(w io.Writer, lsn uint64, payload []byte) (int64, error) {
	h := header{
		Magic:      logMagic,
		Version:    logVersion,
		LSN:        lsn,
		PayloadLen: uint32(len(payload)),
		CRC32:      crc32.Checksum(payload, castagnoli),
	}

	var headerBuf [headerSize]byte
	h.encode(headerBuf[:])

	n, err := w.Write(headerBuf[:])
	if err != nil {
		return int64(n), err
	}

	m, err := w.Write(payload)
	return int64(n + m), err
}
