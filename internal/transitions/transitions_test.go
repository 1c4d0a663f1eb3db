package transitions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowforge/pipeline-worker/internal/domain"
	"github.com/flowforge/pipeline-worker/internal/transitions"
)

func TestValidate_AllowsSpecifiedTransitions(t *testing.T) {
	cases := []struct{ from, to string }{
		{domain.StatusQueued, domain.StatusProcessing},
		{domain.StatusQueued, domain.StatusCancelled},
		{domain.StatusProcessing, domain.StatusCompleted},
		{domain.StatusProcessing, domain.StatusFailed},
		{domain.StatusProcessing, domain.StatusQueued},
		{domain.StatusFailed, domain.StatusQueued},
		{domain.StatusCancelled, domain.StatusQueued},
	}
	for _, c := range cases {
		assert.True(t, transitions.Validate(c.from, c.to), "%s -> %s should be allowed", c.from, c.to)
	}
}

func TestValidate_RejectsTerminalCompletedTransitions(t *testing.T) {
	assert.False(t, transitions.Validate(domain.StatusCompleted, domain.StatusQueued))
	assert.False(t, transitions.Validate(domain.StatusCompleted, domain.StatusProcessing))
}

func TestValidate_RejectsUnknownTransitions(t *testing.T) {
	assert.False(t, transitions.Validate(domain.StatusQueued, domain.StatusFailed))
	assert.False(t, transitions.Validate(domain.StatusCancelled, domain.StatusCompleted))
}

func TestValidate_SameStatusIsAlwaysValid(t *testing.T) {
	assert.True(t, transitions.Validate(domain.StatusCompleted, domain.StatusCompleted))
	assert.True(t, transitions.Validate(domain.StatusProcessing, domain.StatusProcessing))
}
