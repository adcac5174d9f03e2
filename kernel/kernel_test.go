package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// newIdleKernel returns a kernel that has not been started.
func newIdleKernel(t *testing.T, opts ...Option) *Kernel {
	t.Helper()
	k, err := New(append([]Option{WithCores(2), WithAllocator(NewPageBudget(1 << 12))}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Shutdown(context.Background()) })
	return k
}

// newTestKernel returns a running kernel, shut down with the test.
func newTestKernel(t *testing.T, opts ...Option) *Kernel {
	t.Helper()
	k, err := New(append([]Option{WithCores(2), WithAllocator(NewPageBudget(1 << 12))}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, k.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = k.Shutdown(ctx)
	})
	return k
}

func startThread(t *testing.T, k *Kernel, params ThreadParams, fn ThreadFunc) *Thread {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	th, err := k.CreateThread(ctx, params, fn)
	require.NoError(t, err)
	return th
}

func waitExit(t *testing.T, th *Thread) uint32 {
	t.Helper()
	select {
	case <-th.Done():
	case <-time.After(testTimeout):
		t.Fatalf("thread %d did not exit, state %s", th.TID(), th.State())
	}
	return th.ExitCode()
}

func waitState(t *testing.T, th *Thread, state ThreadState) {
	t.Helper()
	require.Eventually(t, func() bool { return th.State() == state }, testTimeout, time.Millisecond,
		"thread %d never reached %s", th.TID(), state)
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func TestNew_InvalidOptions(t *testing.T) {
	for _, opt := range []Option{
		WithCores(0),
		WithCores(MaxCores + 1),
		WithQuantum(0),
		WithTLBBatchSize(0),
		WithICIStallSpins(-1),
	} {
		_, err := New(opt)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}

	k, err := New(nil, WithCores(3))
	require.NoError(t, err)
	assert.Equal(t, 3, k.NumCores())
	assert.Equal(t, KernelCreated, k.State())
}

func TestKernel_Lifecycle(t *testing.T) {
	k, err := New(WithCores(2))
	require.NoError(t, err)

	ev, err := k.CreateEvent(``, false, false)
	require.NoError(t, err)
	assert.ErrorIs(t, k.SetEvent(context.Background(), ev), ErrNotStarted)

	require.NoError(t, k.Start(context.Background()))
	assert.Equal(t, KernelRunning, k.State())
	assert.ErrorIs(t, k.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, k.SetEvent(testContext(t), ev))
	assert.True(t, ev.Signaled())

	require.NoError(t, k.Shutdown(testContext(t)))
	assert.Equal(t, KernelStopped, k.State())
	assert.NoError(t, k.Err())
	assert.ErrorIs(t, k.Shutdown(context.Background()), ErrNotStarted)
	assert.ErrorIs(t, k.ResetEvent(context.Background(), ev), ErrNotStarted)
}

func TestKernel_ShutdownBeforeStart(t *testing.T) {
	k, err := New(WithCores(1))
	require.NoError(t, err)
	require.NoError(t, k.Shutdown(context.Background()))
	assert.Equal(t, KernelStopped, k.State())
	assert.ErrorIs(t, k.Start(context.Background()), ErrAlreadyStarted)
}

func TestKernel_ShutdownReleasesParkedThreads(t *testing.T) {
	k, err := New(WithCores(1))
	require.NoError(t, err)
	require.NoError(t, k.Start(context.Background()))

	ev, err := k.CreateEvent(``, false, false)
	require.NoError(t, err)
	th, err := k.CreateThread(testContext(t), ThreadParams{}, func(th *Thread) uint32 {
		_, _ = th.WaitOne(ev, Infinite)
		return 0
	})
	require.NoError(t, err)
	waitState(t, th, ThreadWaiting)

	require.NoError(t, k.Shutdown(testContext(t)))
	assert.Equal(t, ThreadWaiting, th.State())
}

func TestKernel_UnknownItemHalts(t *testing.T) {
	k, err := New(WithCores(2))
	require.NoError(t, err)
	require.NoError(t, k.Start(context.Background()))

	err = k.call(testContext(t), &SchedItem{kind: ItemKind(200)})
	require.ErrorIs(t, err, ErrHalted)

	select {
	case <-k.Halted():
	case <-time.After(testTimeout):
		t.Fatal("kernel did not halt")
	}
	assert.Equal(t, KernelHalted, k.State())

	var kp *KernelPanic
	require.True(t, errors.As(k.Err(), &kp))
	assert.Contains(t, kp.Reason, `unknown scheduler item kind 200`)

	err = k.Shutdown(testContext(t))
	assert.ErrorIs(t, err, ErrHalted)
	assert.ErrorIs(t, k.SetEvent(context.Background(), &Event{}), ErrHalted)
}

func TestKernel_Debug(t *testing.T) {
	k := newTestKernel(t)
	k.Debug()
	require.Eventually(t, func() bool {
		for _, c := range k.cores {
			if c.delivered.Load() == 0 {
				return false
			}
		}
		return true
	}, testTimeout, time.Millisecond)
}
