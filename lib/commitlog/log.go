package commitlog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/cedar/lib/concurrent"
	"github.com/ValentinKolb/cedar/lib/logging"
)

var log = logging.CreateLogger("commitlog")

const logFileName = "cedar-commitlog.log"

// ErrClosed is returned by operations on a closed log.
var ErrClosed = errors.New("commitlog: log is closed")

// --------------------------------------------------------------------------
// Log Options
// --------------------------------------------------------------------------

// LogOptions configures the append path.
type LogOptions struct {
	// BufferSize is the size of the in-memory write buffer flushed by each
	// sync (bufio).
	BufferSize int
}

// DefaultLogOptions returns a safe configuration.
func DefaultLogOptions() LogOptions {
	return LogOptions{
		BufferSize: 64 * 1024,
	}
}

// --------------------------------------------------------------------------
// Log
// --------------------------------------------------------------------------

// Log is a single append-only commit log file. Appends are buffered in
// memory; Sync flushes the buffer, fsyncs the file and advances the synced
// watermark that Allocation.AwaitDiskSync waits on.
//
// Thread-safety: all methods are safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	closed bool

	nextLSN  atomic.Uint64
	appended int64        // bytes appended so far (guarded by mu)
	synced   atomic.Int64 // bytes durably on disk

	// signalled after every successful sync
	syncSignal *concurrent.WaitQueue
}

// Open opens (or creates) the commit log in dir.
func Open(dir string, opts LogOptions) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("commitlog: creating log directory: %w", err)
	}

	path := filepath.Join(dir, logFileName)

	// determine the valid prefix of an existing log, so appends continue
	// the LSN sequence and a torn tail from a crash is cut off
	prior, err := scanLog(path, nil)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("commitlog: opening log file: %w", err)
	}
	if err := f.Truncate(prior.validBytes); err != nil {
		f.Close()
		return nil, fmt.Errorf("commitlog: truncating torn tail: %w", err)
	}
	if _, err := f.Seek(prior.validBytes, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("commitlog: seeking to log tail: %w", err)
	}

	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultLogOptions().BufferSize
	}

	l := &Log{
		file:       f,
		writer:     bufio.NewWriterSize(f, opts.BufferSize),
		appended:   prior.validBytes,
		syncSignal: concurrent.NewWaitQueue(),
	}
	l.nextLSN.Store(prior.lastLSN)
	l.synced.Store(prior.validBytes)
	return l, nil
}

// Append assigns the next log sequence number to payload, buffers the
// encoded record and returns an Allocation tracking its durability. The
// record is NOT durable until a sync covering it completes.
func (l *Log) Append(payload []byte) (*Allocation, error) {
	lsn := l.nextLSN.Add(1)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}

	n, err := writeRecord(l.writer, lsn, payload)
	if err != nil {
		return nil, fmt.Errorf("commitlog: appending record: %w", err)
	}
	l.appended += n

	return &Allocation{log: l, lsn: lsn, position: l.appended}, nil
}

// Sync flushes buffered records to the OS and fsyncs the file, then wakes
// every waiter whose record is now covered. final marks the shutdown sync.
func (l *Log) Sync(final bool) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}

	if err := l.writer.Flush(); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("commitlog: flushing write buffer: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("commitlog: fsync: %w", err)
	}

	mark := l.appended
	l.synced.Store(mark)
	l.mu.Unlock()

	if final {
		log.Infof("final sync complete, %d bytes durable", mark)
	}

	l.syncSignal.SignalAll()
	return nil
}

// Synced returns the durable watermark in bytes.
func (l *Log) Synced() int64 {
	return l.synced.Load()
}

// Appended returns the number of bytes appended so far.
func (l *Log) Appended() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appended
}

// Close syncs outstanding records and closes the file. Waiters blocked on
// records appended before Close are released by the final sync.
func (l *Log) Close() error {
	if err := l.Sync(true); err != nil && err != ErrClosed {
		l.file.Close()
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

// --------------------------------------------------------------------------
// Allocation
// --------------------------------------------------------------------------

// Allocation represents one appended record and its durability state.
type Allocation struct {
	log      *Log
	lsn      uint64
	position int64 // log offset just past this record
}

// LSN returns the record's log sequence number.
func (a *Allocation) LSN() uint64 {
	return a.lsn
}

// AwaitDiskSync blocks until the log's durable watermark covers this
// record. Uses the register -> recheck -> park pattern against the log's
// sync signal, so a sync racing with the check is never missed.
func (a *Allocation) AwaitDiskSync() {
	for a.log.synced.Load() < a.position {
		signal := a.log.syncSignal.Register()
		if a.log.synced.Load() < a.position {
			signal.Await()
		} else {
			signal.Cancel()
		}
	}
}

// IsDurable reports whether the record is already covered by a sync.
func (a *Allocation) IsDurable() bool {
	return a.log.synced.Load() >= a.position
}
