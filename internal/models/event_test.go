package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		from    EventStatus
		to      EventStatus
		allowed bool
	}{
		{EventStatusPending, EventStatusProcessing, true},
		{EventStatusPending, EventStatusCompleted, true},
		{EventStatusPending, EventStatusFailed, true},
		{EventStatusProcessing, EventStatusCompleted, true},
		{EventStatusProcessing, EventStatusFailed, true},
		{EventStatusProcessing, EventStatusPending, false},
		{EventStatusProcessing, EventStatusProcessing, false},
		// a failed event is redelivered and processed again
		{EventStatusFailed, EventStatusProcessing, true},
		{EventStatusFailed, EventStatusCompleted, true},
		{EventStatusFailed, EventStatusFailed, true},
		{EventStatusFailed, EventStatusPending, false},
		// completed is terminal
		{EventStatusCompleted, EventStatusProcessing, false},
		{EventStatusCompleted, EventStatusFailed, false},
		{EventStatusCompleted, EventStatusCompleted, false},
		{EventStatus("bogus"), EventStatusProcessing, false},
		{EventStatusPending, EventStatus("bogus"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestEventStatusesAllowing(t *testing.T) {
	assert.Equal(t,
		[]EventStatus{EventStatusPending, EventStatusFailed},
		EventStatusesAllowing(EventStatusProcessing))
	assert.Equal(t,
		[]EventStatus{EventStatusPending, EventStatusProcessing, EventStatusFailed},
		EventStatusesAllowing(EventStatusCompleted))
	assert.Equal(t,
		[]EventStatus{EventStatusPending, EventStatusProcessing, EventStatusFailed},
		EventStatusesAllowing(EventStatusFailed))
	assert.Empty(t, EventStatusesAllowing(EventStatusPending))
}

func TestExecutionStatusTerminal(t *testing.T) {
	assert.False(t, ExecutionStatusPending.Terminal())
	assert.False(t, ExecutionStatusRunning.Terminal())
	assert.True(t, ExecutionStatusSuccess.Terminal())
	assert.True(t, ExecutionStatusFailed.Terminal())
	assert.True(t, ExecutionStatusCancelled.Terminal())
}
