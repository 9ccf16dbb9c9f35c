package commitlog

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
)

// ReplayFn is invoked for every valid record during recovery. Returning an
// error aborts the replay.
type ReplayFn func(lsn uint64, payload []byte) error

// Replay scans the commit log in dir from the beginning and hands every
// valid record to fn in append order. It returns the number of records
// replayed.
//
// An invalid record (bad magic or version, truncated header or payload, CRC
// mismatch) is treated as the torn tail left by a crash: replay ends there
// cleanly, it is not an error. A missing log file is also not an error;
// there is simply nothing to replay.
func Replay(dir string, fn ReplayFn) (int, error) {
	result, err := scanLog(filepath.Join(dir, logFileName), fn)
	if err != nil {
		return 0, err
	}
	return result.records, nil
}

// scanResult describes the valid prefix of a log file.
type scanResult struct {
	records    int    // number of valid records
	lastLSN    uint64 // LSN of the last valid record (0 if none)
	validBytes int64  // length of the valid prefix in bytes
}

// scanLog walks the log file validating every record. fn may be nil when
// only the scan result is of interest (e.g. torn-tail repair on open).
func scanLog(path string, fn ReplayFn) (scanResult, error) {
	var result scanResult

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, fmt.Errorf("commitlog: opening log for replay: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	headerBuf := make([]byte, headerSize)

	for {
		if _, err := io.ReadFull(reader, headerBuf); err != nil {
			if err != io.EOF {
				log.Warningf("truncated record header after %d records, ending replay", result.records)
			}
			return result, nil
		}

		var h header
		h.decode(headerBuf)
		if !h.valid() {
			log.Warningf("invalid record header after %d records (torn tail), ending replay", result.records)
			return result, nil
		}

		payload := make([]byte, h.PayloadLen)
		if _, err := io.ReadFull(reader, payload); err != nil {
			log.Warningf("truncated record payload after %d records, ending replay", result.records)
			return result, nil
		}

		if crc32.Checksum(payload, castagnoli) != h.CRC32 {
			log.Warningf("CRC mismatch after %d records (torn tail), ending replay", result.records)
			return result, nil
		}

		if fn != nil {
			if err := fn(h.LSN, payload); err != nil {
				return result, fmt.Errorf("commitlog: replay callback: %w", err)
			}
		}

		result.records++
		result.lastLSN = h.LSN
		result.validBytes += headerSize + int64(h.PayloadLen)
	}
}
