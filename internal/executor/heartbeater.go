package executor

import (
	"context"
	"sync"
	"time"

	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
	"github.com/flowforge/pipeline-worker/internal/store"
)

// Heartbeater ticks JobStore.Touch for one job on a fixed interval so
// siblings can distinguish "still working" from "abandoned". Grounded
// directly on the teacher's startHeartbeat: a ticker goroutine and a
// stop function the caller must invoke in its cleanup block.
type Heartbeater struct {
	jobs JobStoreToucher
	log  *logger.Logger
}

// JobStoreToucher is the single method of store.JobStore the
// Heartbeater needs; narrowing the dependency keeps this package
// testable without a full JobStore fake.
type JobStoreToucher interface {
	Touch(ctx context.Context, jobID string) error
}

var _ JobStoreToucher = (store.JobStore)(nil)

func NewHeartbeater(jobs JobStoreToucher, log *logger.Logger) *Heartbeater {
	return &Heartbeater{jobs: jobs, log: log.With("component", "Heartbeater")}
}

// Start launches the periodic Touch goroutine for jobID and returns a
// stop function. interval defaults to 30s, matching the teacher's
// heartbeat cadence and spec.md §4.5.
func (h *Heartbeater) Start(ctx context.Context, jobID string, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := h.jobs.Touch(ctx, jobID); err != nil {
					h.log.Warn("heartbeat touch failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
