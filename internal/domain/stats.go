package domain

import "sync/atomic"

// WorkerStats is an in-memory, process-lifetime counter set kept
// alongside the Prometheus metrics; the Scheduler's periodic log line
// reads its processed/failed counts. Safe for concurrent use.
type WorkerStats struct {
	processed uint64
	failed    uint64
	active    int64
}

func (s *WorkerStats) IncProcessed() { atomic.AddUint64(&s.processed, 1) }
func (s *WorkerStats) IncFailed()    { atomic.AddUint64(&s.failed, 1) }
func (s *WorkerStats) IncActive()    { atomic.AddInt64(&s.active, 1) }
func (s *WorkerStats) DecActive()    { atomic.AddInt64(&s.active, -1) }

func (s *WorkerStats) Snapshot() (processed, failed uint64, active int64) {
	return atomic.LoadUint64(&s.processed), atomic.LoadUint64(&s.failed), atomic.LoadInt64(&s.active)
}
