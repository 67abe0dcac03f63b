package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunk(t *testing.T) {
	ids := make([]int, 65)
	for i := range ids {
		ids[i] = i
	}

	chunks := Chunk(ids, MaxInQueryValues)
	assert.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 30)
	assert.Len(t, chunks[2], 5)
	assert.Equal(t, 30, chunks[1][0])

	assert.Nil(t, Chunk([]string{}, 10))
	assert.Len(t, Chunk([]string{"a", "b"}, 0), 1)
}

func TestContact_Eligible(t *testing.T) {
	tests := []struct {
		status         ContactStatus
		includeGeneric bool
		want           bool
	}{
		{ContactVerified, false, true},
		{ContactVerifiedGeneric, true, true},
		{ContactVerifiedGeneric, false, false},
		{ContactUnsubscribed, true, false},
		{ContactVerifying, true, false},
		{ContactInvalid, true, false},
		{ContactPending, true, false},
	}
	for _, tt := range tests {
		c := Contact{Status: tt.status}
		assert.Equal(t, tt.want, c.Eligible(tt.includeGeneric), "%s generic=%v", tt.status, tt.includeGeneric)
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(JobPending, JobProcessing))
	assert.True(t, CanTransition(JobProcessing, JobCompleted))
	assert.True(t, CanTransition(JobProcessing, JobFailed))
	assert.True(t, CanTransition(JobPending, JobFailed))
	assert.False(t, CanTransition(JobCompleted, JobProcessing))
	assert.False(t, CanTransition(JobFailed, JobPending))
	assert.False(t, CanTransition(JobPending, JobCompleted))
}
