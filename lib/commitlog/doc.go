// Package commitlog implements the durability side of the write path: an
// append-only log with a background sync scheduler that gates write
// acknowledgment on the configured durability policy.
//
// The package focuses on:
//   - A compact binary record format (fixed header, CRC32-protected payload)
//     that recovery can replay and that tolerates torn tails
//   - A single background goroutine per scheduler performing periodic
//     durability syncs, with catch-up behavior when syncing falls behind
//   - A caller-side wait contract with two policies: wait for the sync
//     covering the caller's own record (strict), or wait only while the
//     scheduler lags its schedule beyond a fixed slack (bounded staleness)
//
// Key Components:
//
//   - Log: the append path. Append assigns a log sequence number, buffers
//     the encoded record and returns an Allocation whose AwaitDiskSync
//     blocks until the log's synced watermark covers the record.
//
//   - SyncScheduler: the background executor. Each cycle it syncs the log,
//     updates its heartbeat, broadcasts to waiters and sleeps out the rest
//     of its poll interval on a work-request semaphore so an explicit
//     RequestExtraSync shortens the wait. A sync that overruns its interval
//     is logged as a missed deadline and the next cycle starts immediately.
//     A sync that fails is logged and retried after a full poll interval;
//     waiters are never released by a failed sync.
//
//   - Replay: sequential recovery. Records are validated (magic, version,
//     CRC) and handed to a callback; an invalid record is treated as the
//     torn tail of the log, ending replay without error.
//
// Acknowledgment ordering: each write waits on its own record's position,
// so per-connection acknowledgment order follows log-append order.
package commitlog
