package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/favbox/breeze/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRuns(t *testing.T) {
	d := New(Options{MinWorkers: 2, MaxWorkers: 4, QueueSize: 16})
	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		for {
			err := d.Submit(func() {
				n.Add(1)
				wg.Done()
			})
			if err == nil {
				break
			}
			require.ErrorIs(t, err, errors.ErrRejected)
			time.Sleep(time.Millisecond)
		}
	}
	wg.Wait()
	assert.EqualValues(t, 100, n.Load())
	require.NoError(t, d.Shutdown(context.Background()))
}

// 队列与协程都已占满时拒绝任务，且被拒任务不会执行。
func TestSubmitRejectsWhenFull(t *testing.T) {
	d := New(Options{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, d.Submit(func() {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, d.Submit(func() {}))

	var ran atomic.Bool
	err := d.Submit(func() { ran.Store(true) })
	assert.ErrorIs(t, err, errors.ErrRejected)
	assert.Equal(t, 1, d.Stats().Rejected)
	assert.Equal(t, 1, d.Stats().Queued)

	close(release)
	require.NoError(t, d.Shutdown(context.Background()))
	assert.False(t, ran.Load())
}

func TestExtraWorkersGrowAndExpire(t *testing.T) {
	d := New(Options{MinWorkers: 1, MaxWorkers: 3, QueueSize: 0, KeepAlive: 50 * time.Millisecond})
	require.Eventually(t, func() bool { return d.Stats().Idle == 1 }, time.Second, time.Millisecond)
	release := make(chan struct{})
	var started sync.WaitGroup
	for i := 0; i < 3; i++ {
		started.Add(1)
		require.NoError(t, d.Submit(func() {
			started.Done()
			<-release
		}))
	}
	started.Wait()
	assert.Equal(t, 3, d.Stats().Workers)
	assert.ErrorIs(t, d.Submit(func() {}), errors.ErrRejected)

	close(release)
	assert.Eventually(t, func() bool { return d.Stats().Workers == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestNoCoreWorkersNeverStrandsTask(t *testing.T) {
	d := New(Options{MinWorkers: 0, MaxWorkers: 1, QueueSize: 4, KeepAlive: time.Millisecond})
	defer func() { _ = d.Shutdown(context.Background()) }()

	done := make(chan struct{}, 1)
	for i := 0; i < 300; i++ {
		require.NoError(t, d.Submit(func() { done <- struct{}{} }))
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("第 %d 个任务滞留在队列中: %+v", i, d.Stats())
		}
		// 在协程空闲到期前后交替提交
		time.Sleep(time.Duration(i%3) * 500 * time.Microsecond)
	}
}

func TestPanicRecovered(t *testing.T) {
	d := New(Options{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	got := make(chan any, 1)
	d.SetPanicHandler(func(v any) { got <- v })
	require.NoError(t, d.Submit(func() { panic("boom") }))
	select {
	case v := <-got:
		assert.Equal(t, "boom", v)
	case <-time.After(time.Second):
		t.Fatal("恐慌未被处理")
	}

	done := make(chan struct{})
	require.NoError(t, d.Submit(func() { close(done) }))
	<-done
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestShutdown(t *testing.T) {
	d := New(Options{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	release := make(chan struct{})
	require.NoError(t, d.Submit(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)
	assert.ErrorIs(t, d.Submit(func() {}), errors.ErrDispatcherClosed)

	close(release)
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestInline(t *testing.T) {
	ran := false
	require.NoError(t, Inline{}.Submit(func() { ran = true }))
	assert.True(t, ran)
}
