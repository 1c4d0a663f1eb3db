// Package transitions encodes the job status-transition graph from
// the data model and validates attempted transitions against it.
// Validation is advisory only: an invalid transition is logged, never
// rejected, since a caller may legitimately be re-resolving a
// previously timed-out job.
package transitions

import "github.com/flowforge/pipeline-worker/internal/domain"

var graph = map[string][]string{
	domain.StatusQueued:     {domain.StatusProcessing, domain.StatusCancelled},
	domain.StatusProcessing: {domain.StatusCompleted, domain.StatusFailed, domain.StatusQueued},
	domain.StatusFailed:     {domain.StatusQueued},
	domain.StatusCancelled:  {domain.StatusQueued},
	domain.StatusCompleted:  {},
}

// Validate reports whether the from->to transition is allowed by the
// graph. Callers are expected to log, not reject, on false.
func Validate(from, to string) bool {
	if from == to {
		return true
	}
	allowed, ok := graph[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
