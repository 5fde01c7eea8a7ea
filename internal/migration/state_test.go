package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretops/pkg/secret"
)

func TestState_CanTransitionTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateQueued, StateInProgress, true},
		{StateQueued, StateSkipped, true},
		{StateQueued, StateCommitted, false},
		{StateInProgress, StateVerified, true},
		{StateInProgress, StateCommitted, true},
		{StateInProgress, StateFailed, true},
		{StateVerified, StateCommitted, true},
		{StateVerified, StateFailed, true},
		{StateCommitted, StateQueued, false},
		{StateFailed, StateInProgress, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestRun_TransitionTo(t *testing.T) {
	t.Parallel()

	run := NewRun(secret.TransitionTask{SecretID: "s1"})
	require.NoError(t, run.TransitionTo(StateInProgress, "", nil))
	require.NoError(t, run.TransitionTo(StateVerified, "decrypted value matches", nil))
	assert.Equal(t, "decrypted value matches", run.Reason())
	assert.Error(t, run.TransitionTo(StateQueued, "", nil))

	require.NoError(t, run.TransitionTo(StateCommitted, "", nil))
	assert.True(t, run.State().IsTerminal())
	assert.False(t, run.CompletedAt.IsZero())
	assert.Equal(t, []State{StateQueued, StateInProgress, StateVerified, StateCommitted}, run.Path())
	assert.GreaterOrEqual(t, run.Duration().Nanoseconds(), int64(0))
}
