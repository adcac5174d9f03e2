package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStats(t *testing.T) {
	k := newTestKernel(t, WithCores(2))
	th := startThread(t, k, ThreadParams{}, func(th *Thread) uint32 {
		_ = th.Sleep(0)
		return 0
	})
	waitExit(t, th)

	st := k.Stats()
	assert.NotZero(t, st.Passes)
	assert.GreaterOrEqual(t, st.PassItems, uint64(3))
	assert.Equal(t, uint64(1), st.Items[ItemThreadCreate])
	assert.Equal(t, uint64(1), st.Items[ItemThreadWait])
	assert.Equal(t, uint64(1), st.Items[ItemThreadExit])
	assert.NotZero(t, st.ContextSwitches)
	assert.Len(t, st.Cores, 2)
	assert.GreaterOrEqual(t, st.Latency.Max, st.Latency.P50)
	assert.Equal(t, k.Objects().Len(), st.Objects)
}
