package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageBudget(t *testing.T) {
	b := NewPageBudget(10)
	assert.Equal(t, 10, b.Limit())

	a, err := b.Alloc(AllocThread, ThreadPages)
	require.NoError(t, err)
	assert.Equal(t, AllocThread, a.Kind)
	assert.Equal(t, ThreadPages, b.Used())

	_, err = b.Alloc(AllocObject, 7)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	_, err = b.Alloc(AllocObject, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	c, err := b.Alloc(AllocTokenPage, 6)
	require.NoError(t, err)
	assert.Equal(t, 10, b.Used())
	assert.Equal(t, 2, b.Live())

	b.Free(a)
	b.Free(a)
	b.Free(Allocation{})
	assert.Equal(t, 6, b.Used())
	b.Free(c)
	assert.Zero(t, b.Used())
	assert.Zero(t, b.Live())
}

func TestDefaultPageBudget(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultPageBudget().Limit(), minDefaultPages)
}

func TestAllocKind_String(t *testing.T) {
	assert.Equal(t, `TokenPage`, AllocTokenPage.String())
	assert.Equal(t, AllocThread, allocKindFor(ObjectTypeThread))
	assert.Equal(t, AllocObject, allocKindFor(ObjectTypeAlarm))
}
