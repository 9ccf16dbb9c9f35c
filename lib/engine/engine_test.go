package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var enginePoolSeq atomic.Int64

// testOptions returns options with a process-unique pool name so the
// metric gauges of parallel tests do not collide.
func testOptions(t *testing.T) Options {
	opts := DefaultOptions(t.TempDir())
	opts.PoolName = fmt.Sprintf("engine-test-%d", enginePoolSeq.Add(1))
	opts.SyncPollInterval = 10 * time.Millisecond
	return opts
}

// crash tears an engine down without flushing, like a process kill. The
// final commit log sync still runs so the test can assert on what a durable
// write survives; flush markers for open memtables are never written.
func crash(e *Engine) {
	e.closed.Store(true)
	e.scheduler.Shutdown()
	e.scheduler.AwaitTermination()
	e.wal.Close()
	e.pool.Close()
}

// memorySink collects flushed snapshots keyed by table.
type memorySink struct {
	mu      sync.Mutex
	flushes int
	data    map[string]map[string][]byte
	err     error
}

func newMemorySink() *memorySink {
	return &memorySink{data: make(map[string]map[string][]byte)}
}

func (s *memorySink) sink(table string, snapshot Container) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.flushes++
	dst := s.data[table]
	if dst == nil {
		dst = make(map[string][]byte)
		s.data[table] = dst
	}
	snapshot.Ascend(func(key string, value []byte) bool {
		dst[key] = value
		return true
	})
	return nil
}

func (s *memorySink) get(table, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[table][key]
	return v, ok
}

func (s *memorySink) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

func TestWriteReadRoundTrip(t *testing.T) {
	e, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Close()

	keys := []string{"cherry", "apple", "banana"}
	for _, k := range keys {
		if err := e.Write("fruit", k, []byte("v-"+k)); err != nil {
			t.Fatalf("Write(%s) failed: %v", k, err)
		}
	}
	if err := e.Write("veg", "carrot", []byte("orange")); err != nil {
		t.Fatalf("Write(veg) failed: %v", err)
	}

	for _, k := range keys {
		v, ok := e.Get("fruit", k)
		if !ok || string(v) != "v-"+k {
			t.Errorf("Get(fruit, %s) = %q, %v; want v-%s", k, v, ok, k)
		}
	}
	if _, ok := e.Get("fruit", "carrot"); ok {
		t.Error("Get must not cross tables")
	}
	if _, ok := e.Get("nosuch", "apple"); ok {
		t.Error("Get on unknown table must report not found")
	}

	// range iteration must be in ascending key order
	var got []string
	if err := e.AscendRange("fruit", "a", "z", func(key string, _ []byte) bool {
		got = append(got, key)
		return true
	}); err != nil {
		t.Fatalf("AscendRange failed: %v", err)
	}
	want := []string{"apple", "banana", "cherry"}
	if len(got) != len(want) {
		t.Fatalf("AscendRange returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("AscendRange returned %v, want %v", got, want)
		}
	}
}

func TestWriteValidation(t *testing.T) {
	opts := testOptions(t)
	opts.MaxWriteSize = 1024

	e, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Close()

	assertCode := func(err error, want RetCode) {
		t.Helper()
		var engineErr *Error
		if !errors.As(err, &engineErr) || engineErr.Code != want {
			t.Errorf("got error %v, want code %d", err, want)
		}
	}

	assertCode(e.Write("", "k", []byte("v")), RetCInvalidArgument)
	assertCode(e.Write("t", "", []byte("v")), RetCInvalidArgument)
	assertCode(e.Write("t", "k", make([]byte, 2048)), RetCInvalidArgument)
	assertCode(e.AscendRange("nosuch", "a", "z", func(string, []byte) bool { return true }), RetCUnknownTable)
	assertCode(e.Flush("nosuch"), RetCUnknownTable)
}

func TestReplaceReleasesPreviousValue(t *testing.T) {
	e, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Close()

	if err := e.Write("t", "k", make([]byte, 100)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	used := e.Pool().OnHeap.Used()

	// overwriting the same key must not grow the accounted footprint
	for i := 0; i < 10; i++ {
		if err := e.Write("t", "k", make([]byte, 100)); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}
	if got := e.Pool().OnHeap.Used(); got != used {
		t.Errorf("used = %d after overwrites, want %d", got, used)
	}
}

func TestRecoveryReplaysUnflushedWrites(t *testing.T) {
	opts := testOptions(t)
	opts.WaitOnDiskSync = true

	e, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := e.Write("t", fmt.Sprintf("k%d", i), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}
	crash(e)

	e2, err := New(opts)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer e2.Close()

	for i := 0; i < 5; i++ {
		v, ok := e2.Get("t", fmt.Sprintf("k%d", i))
		if !ok || string(v) != fmt.Sprintf("v%d", i) {
			t.Errorf("Get(k%d) after recovery = %q, %v", i, v, ok)
		}
	}
	if got := e2.Pool().OnHeap.Used(); got <= 0 {
		t.Errorf("recovered data not accounted: used = %d", got)
	}
}

func TestRecoverySkipsFlushedRecords(t *testing.T) {
	sink := newMemorySink()
	opts := testOptions(t)
	opts.FlushSink = sink.sink

	e, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := e.Write("t", "flushed", []byte("old")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := e.Flush("t"); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if _, ok := sink.get("t", "flushed"); !ok {
		t.Fatal("flush sink did not receive the entry")
	}
	if err := e.Write("t", "pending", []byte("new")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	crash(e)

	e2, err := New(opts)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer e2.Close()

	if v, ok := e2.Get("t", "pending"); !ok || string(v) != "new" {
		t.Errorf("unflushed record lost in recovery: %q, %v", v, ok)
	}
	if _, ok := e2.Get("t", "flushed"); ok {
		t.Error("record covered by a flush marker was replayed")
	}
}

func TestBackpressureTriggersFlush(t *testing.T) {
	sink := newMemorySink()
	opts := testOptions(t)
	opts.OnHeapLimit = 16 * 1024
	opts.CleanThresholdRatio = 0.5
	opts.MaxWriteSize = 4 * 1024
	opts.FlushSink = sink.sink

	e, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Close()

	// the total written far exceeds the budget, so progress requires the
	// cleaner to flush and free memory while writers are parked
	const n = 64
	done := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			if err := e.Write("t", fmt.Sprintf("k%03d", i), make([]byte, 1024)); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("write failed under backpressure: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("writers deadlocked under backpressure")
	}

	if sink.flushCount() == 0 {
		t.Error("cleaner never flushed despite exceeding the budget")
	}

	// every key must be readable from the memtable or the sink
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k%03d", i)
		if _, ok := e.Get("t", key); ok {
			continue
		}
		if _, ok := sink.get("t", key); !ok {
			t.Errorf("key %s lost between memtable and sink", key)
		}
	}
}

func TestReadsDuringFlush(t *testing.T) {
	block := make(chan struct{})
	opts := testOptions(t)
	opts.FlushSink = func(_ string, _ Container) error {
		<-block
		return nil
	}

	e, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := e.Write("t", "k", []byte("v")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	flushDone := make(chan error, 1)
	go func() { flushDone <- e.Flush("t") }()

	// the entry must stay visible while the sink is still draining it
	deadline := time.After(2 * time.Second)
	for {
		if v, ok := e.Get("t", "k"); !ok || string(v) != "v" {
			t.Fatalf("entry invisible during flush: %q, %v", v, ok)
		}
		if e.Pool().OnHeap.Reclaiming() > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("flush never marked memory reclaiming")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	close(block)
	if err := <-flushDone; err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	// once the sink has the data, the memtable no longer serves it
	if _, ok := e.Get("t", "k"); ok {
		t.Error("flushed entry still visible in the memtable")
	}
	if got := e.Pool().OnHeap.Used(); got != 0 {
		t.Errorf("memory not released after flush: used = %d", got)
	}
	e.Close()
}

func TestFailedFlushKeepsRecordsReplayable(t *testing.T) {
	sink := newMemorySink()
	sink.err = errors.New("sink unavailable")
	opts := testOptions(t)
	opts.WaitOnDiskSync = true
	opts.FlushSink = sink.sink

	e, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := e.Write("t", "k", []byte("v")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := e.Flush("t"); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	crash(e)

	// the sink failed, so no flush marker was written and recovery must
	// bring the record back
	e2, err := New(opts)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer e2.Close()

	if v, ok := e2.Get("t", "k"); !ok || string(v) != "v" {
		t.Errorf("record lost after failed flush: %q, %v", v, ok)
	}
}

func TestNilSinkFlushKeepsRecordsReplayable(t *testing.T) {
	// without a sink the commit log alone carries durability: a flush may
	// discard the in-memory data but must not write a marker covering it
	opts := testOptions(t)
	opts.WaitOnDiskSync = true

	e, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := e.Write("t", "acknowledged", []byte("must survive a flush")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := e.Flush("t"); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	crash(e)

	e2, err := New(opts)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer e2.Close()

	if v, ok := e2.Get("t", "acknowledged"); !ok || string(v) != "must survive a flush" {
		t.Errorf("acknowledged write lost after nil-sink flush: %q, %v", v, ok)
	}
}

func TestCloseFlushesAndRejectsWrites(t *testing.T) {
	sink := newMemorySink()
	opts := testOptions(t)
	opts.FlushSink = sink.sink

	e, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := e.Write("t", "k", []byte("v")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, ok := sink.get("t", "k"); !ok {
		t.Error("Close did not flush the memtable")
	}
	var engineErr *Error
	if err := e.Write("t", "k2", []byte("v")); !errors.As(err, &engineErr) || engineErr.Code != RetCClosed {
		t.Errorf("Write after Close = %v, want RetCClosed", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestInfo(t *testing.T) {
	e, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Close()

	for i := 0; i < 20; i++ {
		if err := e.Write("a", fmt.Sprintf("k%d", i), make([]byte, 64)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := e.Write("b", "k", make([]byte, 64)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	info := e.Info()
	if len(info.Tables) != 2 {
		t.Fatalf("Info reported %d tables, want 2", len(info.Tables))
	}
	for _, table := range info.Tables {
		switch table.Name {
		case "a":
			if table.Entries != 20 {
				t.Errorf("table a: entries = %d, want 20", table.Entries)
			}
		case "b":
			if table.Entries != 1 {
				t.Errorf("table b: entries = %d, want 1", table.Entries)
			}
		default:
			t.Errorf("unexpected table %q", table.Name)
		}
		if table.MemoryBytes <= 0 {
			t.Errorf("table %s: memory = %d, want > 0", table.Name, table.MemoryBytes)
		}
	}
	if info.MemoryUsedBytes <= 0 || info.MemoryUsedBytes > info.MemoryLimitBytes {
		t.Errorf("implausible memory usage: %d/%d", info.MemoryUsedBytes, info.MemoryLimitBytes)
	}
	if info.EstimatedEntrySizeBytes <= 0 {
		t.Errorf("estimated entry size = %d, want > 0", info.EstimatedEntrySizeBytes)
	}
	if info.CommitLogAppendedBytes <= 0 {
		t.Errorf("commit log appended = %d, want > 0", info.CommitLogAppendedBytes)
	}
}

func TestConcurrentWriters(t *testing.T) {
	opts := testOptions(t)
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Close()

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("w%d-k%d", w, i)
				if err := e.Write("t", key, []byte(key)); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent write failed: %v", err)
	}

	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			key := fmt.Sprintf("w%d-k%d", w, i)
			if v, ok := e.Get("t", key); !ok || string(v) != key {
				t.Fatalf("Get(%s) = %q, %v", key, v, ok)
			}
		}
	}
}
