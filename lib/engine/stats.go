package engine

import (
	"sync"

	"github.com/ValentinKolb/cedar/lib/engine/util"
)

// TableInfo holds per-table statistics.
type TableInfo struct {
	Name        string `json:"name"`
	Entries     int    `json:"entries"`
	MemoryBytes int64  `json:"memory_bytes"`
	Flushing    bool   `json:"flushing"`
	MaxLSN      uint64 `json:"max_lsn"`
}

// EngineInfo holds a point-in-time statistical snapshot of the engine.
// Entry size figures are sampled estimates, not exact values.
type EngineInfo struct {
	Tables []TableInfo `json:"tables"`

	MemoryUsedBytes       int64 `json:"memory_used_bytes"`
	MemoryReclaimingBytes int64 `json:"memory_reclaiming_bytes"`
	MemoryLimitBytes      int64 `json:"memory_limit_bytes"`

	// EstimatedEntrySizeBytes is a weighted estimate (60% median, 40%
	// average) of a stored entry's value size.
	EstimatedEntrySizeBytes int `json:"estimated_entry_size_bytes"`

	// TableDistribution describes how evenly the memory budget is spread
	// across tables.
	TableDistribution util.SpreadStats `json:"table_distribution"`

	CommitLogAppendedBytes int64 `json:"commit_log_appended_bytes"`
	CommitLogSyncedBytes   int64 `json:"commit_log_synced_bytes"`
	CompletedSyncs         int64 `json:"completed_syncs"`
	PendingSyncWaiters     int64 `json:"pending_sync_waiters"`
}

// Info returns statistics about the engine
func (e *Engine) Info() EngineInfo {
	// create a value size histogram for the info
	histogram := util.NewValueSizeHistogram()
	samplesPerTable := 100

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		tables []TableInfo
		sizes  []float64
	)

	// concurrently collect samples from all tables
	e.tables.Range(func(name string, mt *memtable) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()

			mt.mu.RLock()
			info := TableInfo{
				Name:        name,
				Entries:     mt.container.Len(),
				MemoryBytes: mt.owner.Owns(),
				Flushing:    mt.flushing != nil,
				MaxLSN:      mt.maxLSN,
			}
			// only sample a few entries per table
			count := 0
			mt.container.Ascend(func(_ string, value []byte) bool {
				histogram.Observe(len(value))
				count++
				return count < samplesPerTable
			})
			mt.mu.RUnlock()

			mu.Lock()
			defer mu.Unlock()
			tables = append(tables, info)
			sizes = append(sizes, float64(info.MemoryBytes))
		}()
		return true
	})
	wg.Wait()

	// weighted estimate (60% median, 40% average)
	estimatedSize := (histogram.MedianEstimate()*60 + histogram.Average()*40) / 100

	return EngineInfo{
		Tables:                  tables,
		MemoryUsedBytes:         e.pool.OnHeap.Used(),
		MemoryReclaimingBytes:   e.pool.OnHeap.Reclaiming(),
		MemoryLimitBytes:        e.pool.OnHeap.Limit(),
		EstimatedEntrySizeBytes: estimatedSize,
		TableDistribution:       util.NewSpreadStats(sizes),
		CommitLogAppendedBytes:  e.wal.Appended(),
		CommitLogSyncedBytes:    e.wal.Synced(),
		CompletedSyncs:          e.scheduler.CompletedTasks(),
		PendingSyncWaiters:      e.scheduler.PendingTasks(),
	}
}
