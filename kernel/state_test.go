package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFastState_Transitions(t *testing.T) {
	var s fastState
	assert.Equal(t, KernelCreated, s.Load())
	assert.False(t, s.IsTerminal())

	assert.False(t, s.TryTransition(KernelRunning, KernelStopping))
	assert.True(t, s.TryTransition(KernelCreated, KernelRunning))
	assert.Equal(t, KernelRunning, s.Load())

	assert.False(t, s.TransitionAny([]KernelState{KernelCreated, KernelStopped}, KernelHalted))
	assert.Equal(t, KernelRunning, s.Load())
	assert.True(t, s.TransitionAny(haltableStates, KernelHalted))
	assert.Equal(t, KernelHalted, s.Load())
	assert.True(t, s.IsTerminal())

	// halted is final
	assert.False(t, s.TransitionAny(haltableStates, KernelHalted))
}

func TestFastState_StoppedIsTerminal(t *testing.T) {
	var s fastState
	assert.True(t, s.TryTransition(KernelCreated, KernelStopped))
	assert.True(t, s.IsTerminal())
}
