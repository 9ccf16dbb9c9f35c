package engine

import "fmt"

// --------------------------------------------------------------------------
// Ordered container (consumed collaborator)
// --------------------------------------------------------------------------

// Container is the ordered in-memory structure backing a memtable. The
// engine consumes only this contract; the implementation is free to use any
// structure with O(log n) ordered operations and an O(1) amortized snapshot
// via structural sharing.
//
// Thread-safety: implementations must be safe for concurrent use.
type Container interface {
	// Upsert inserts or replaces the value for key. It returns the
	// previous value and whether one was replaced.
	Upsert(key string, value []byte) (prev []byte, replaced bool)

	// Get returns the value for key.
	Get(key string) ([]byte, bool)

	// Ascend iterates all entries in ascending key order until fn returns
	// false.
	Ascend(fn func(key string, value []byte) bool)

	// AscendRange iterates entries with from <= key < to in ascending key
	// order until fn returns false.
	AscendRange(from, to string, fn func(key string, value []byte) bool)

	// Len returns the number of entries.
	Len() int

	// Snapshot returns an immutable view of the current contents. The
	// receiver remains usable; the snapshot must not observe later writes.
	Snapshot() Container

	// SizeOf reports the memory footprint to charge against the pool for
	// an entry with the given key and value.
	SizeOf(key string, value []byte) int64
}

// ContainerFactory creates an empty Container for a new memtable.
type ContainerFactory func() Container

// FlushSink receives the immutable snapshot of a flushed memtable. The sink
// owns persisting the data (e.g. writing an sstable); the engine only
// guarantees the snapshot is complete and will not change.
type FlushSink func(table string, snapshot Container) error

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	errorCode := ""
	switch e.Code {
	case RetCInternalError:
		errorCode = "RetCInternalError"
	case RetCInvalidArgument:
		errorCode = "RetCInvalidArgument"
	case RetCClosed:
		errorCode = "RetCClosed"
	case RetCUnknownTable:
		errorCode = "RetCUnknownTable"
	default:
		errorCode = "Unknown"
	}

	return fmt.Sprintf("EngineError (code %s): %s", errorCode, e.Msg)
}

// NewError creates a new engine error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess         RetCode = iota // 0: Command executed successfully.
	RetCInternalError                  // 1: Command failed due to an internal error.
	RetCInvalidArgument                // 2: Invalid argument (empty key, bad size, ...).
	RetCClosed                         // 3: Engine has been closed.
	RetCUnknownTable                   // 4: Table does not exist.
)
