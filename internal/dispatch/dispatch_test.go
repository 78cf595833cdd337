package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoRejectsBusyKey(t *testing.T) {
	d := New(2, nil)
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, d.Go(context.Background(), "k", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	assert.True(t, d.Running("k"))

	err := d.Go(context.Background(), "k", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrBusy)

	var ran atomic.Bool
	require.NoError(t, d.Go(context.Background(), "other", func(context.Context) error {
		ran.Store(true)
		return nil
	}))

	close(release)
	d.Wait()
	assert.True(t, ran.Load())
	assert.False(t, d.Running("k"))

	// The key is free again once the first run finishes.
	require.NoError(t, d.Go(context.Background(), "k", func(context.Context) error { return nil }))
	d.Wait()
}

func TestWorkersBoundConcurrency(t *testing.T) {
	d := New(2, nil)
	var current, peak atomic.Int32

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, d.Go(context.Background(), key, func(context.Context) error {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil
		}))
	}
	d.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestTaskOutlivesRequestContext(t *testing.T) {
	d := New(1, nil)
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "uid-1"))
	gate := make(chan struct{})
	var gotErr error
	var gotValue any

	require.NoError(t, d.Go(ctx, "k", func(taskCtx context.Context) error {
		<-gate
		gotErr = taskCtx.Err()
		gotValue = taskCtx.Value(ctxKey{})
		return nil
	}))
	cancel()
	close(gate)
	d.Wait()

	assert.NoError(t, gotErr)
	assert.Equal(t, "uid-1", gotValue)
}

type ctxKey struct{}

func TestPanicReleasesKey(t *testing.T) {
	d := New(1, nil)
	require.NoError(t, d.Go(context.Background(), "k", func(context.Context) error {
		panic("boom")
	}))
	d.Wait()
	assert.False(t, d.Running("k"))
}

func TestFailedTaskReleasesKey(t *testing.T) {
	d := New(1, nil)
	require.NoError(t, d.Go(context.Background(), "k", func(context.Context) error {
		return errors.New("nope")
	}))
	d.Wait()
	assert.False(t, d.Running("k"))
}

func TestClose(t *testing.T) {
	d := New(1, nil)
	release := make(chan struct{})
	require.NoError(t, d.Go(context.Background(), "k", func(context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.ErrorIs(t, d.Go(context.Background(), "x", func(context.Context) error { return nil }), ErrClosed)

	close(release)
	require.NoError(t, d.Close(context.Background()))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "sync/testcases/p1/v1", SyncKey("testcases", "p1", "v1"))
	assert.Equal(t, "job/abc", JobKey("abc"))
}
