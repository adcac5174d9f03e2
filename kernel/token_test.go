package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenTable(t *testing.T) {
	budget := NewPageBudget(64)
	k := newIdleKernel(t, WithAllocator(budget))
	m := k.Objects()

	proc, err := k.CreateProcess(``)
	require.NoError(t, err)
	ev, err := k.CreateEvent(``, false, false)
	require.NoError(t, err)
	tt := proc.Tokens()

	used := budget.Used()
	tok, err := tt.Create(ev)
	require.NoError(t, err)
	assert.Equal(t, used+1, budget.Used(), "first token allocates a page")
	assert.Equal(t, int64(2), m.RefCount(ev))
	assert.Equal(t, 1, tt.Len())

	obj, err := tt.Translate(tok)
	require.NoError(t, err)
	assert.Same(t, ev, obj)
	assert.Equal(t, int64(3), m.RefCount(ev))
	m.Release(obj)

	require.NoError(t, tt.Destroy(tok))
	assert.Equal(t, int64(1), m.RefCount(ev))
	assert.Zero(t, tt.Len())

	_, err = tt.Translate(tok)
	assert.ErrorIs(t, err, ErrBadToken)
	assert.ErrorIs(t, tt.Destroy(tok), ErrBadToken)

	// the slot is reused with a new generation
	tok2, err := tt.Create(ev)
	require.NoError(t, err)
	assert.NotEqual(t, tok, tok2)
	_, err = tt.Translate(tok)
	assert.ErrorIs(t, err, ErrBadToken)

	_, err = tt.Create(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTokenTable_ClosedWithProcess(t *testing.T) {
	budget := NewPageBudget(64)
	k := newIdleKernel(t, WithAllocator(budget))
	m := k.Objects()
	used := budget.Used()

	proc, err := k.CreateProcess(`p`)
	require.NoError(t, err)
	ev, err := k.CreateEvent(``, false, false)
	require.NoError(t, err)
	for range 3 {
		_, err := proc.Tokens().Create(ev)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(4), m.RefCount(ev))

	require.True(t, m.Release(proc))
	assert.Equal(t, int64(1), m.RefCount(ev))
	require.True(t, m.Release(ev))
	assert.Equal(t, used, budget.Used())
}

func TestTokenTable_OutOfMemory(t *testing.T) {
	// kernel process, process and event
	k := newIdleKernel(t, WithAllocator(NewPageBudget(3)))
	proc, err := k.CreateProcess(``)
	require.NoError(t, err)
	ev, err := k.CreateEvent(``, false, false)
	require.NoError(t, err)

	_, err = proc.Tokens().Create(ev)
	assert.ErrorIs(t, err, ErrOutOfTokens)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}
