package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsAllAndKeepsOrder(t *testing.T) {
	p := NewPool(4)
	boom := errors.New("boom")

	errs := p.Run(context.Background(),
		func(context.Context) error { return nil },
		func(context.Context) error { return boom },
		func(context.Context) error { return nil },
	)

	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], boom)
	assert.NoError(t, errs[2])
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	var running, peak atomic.Int32

	job := func(context.Context) error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	}
	p.Run(context.Background(), job, job, job, job, job)

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_RunsConcurrently(t *testing.T) {
	p := NewPool(2)
	both := make(chan struct{})
	var arrived atomic.Int32

	job := func(context.Context) error {
		if arrived.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("jobs did not overlap")
		}
	}

	for _, err := range p.Run(context.Background(), job, job) {
		assert.NoError(t, err)
	}
}

func TestPool_RecoversPanic(t *testing.T) {
	errs := NewPool(1).Run(context.Background(), func(context.Context) error { panic("bad state") })

	var pe *PanicError
	require.ErrorAs(t, errs[0], &pe)
	assert.Equal(t, "bad state", pe.Value)
}

func TestPool_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	errs := NewPool(1).Run(ctx, func(context.Context) error { called = true; return nil })

	assert.False(t, called)
	assert.ErrorIs(t, errs[0], context.Canceled)
}
