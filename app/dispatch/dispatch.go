// Package dispatch 实现执行业务处理器的有界协程池。
//
// 队列已满时 Submit 立即返回 errors.ErrRejected，由调用方合成 503 响应，
// 保证过载时不进入业务逻辑。
package dispatch

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/common/hlog"
	"github.com/favbox/breeze/common/timer"
)

// Task 是一个待执行的任务。
type Task func()

// Submitter 接收任务。
type Submitter interface {
	// Submit 提交任务，无法受理时返回 errors.ErrRejected 或 errors.ErrDispatcherClosed。
	Submit(t Task) error
}

// Options 是分发器的配置。
type Options struct {
	MinWorkers int           // 常驻协程数
	MaxWorkers int           // 最大协程数
	QueueSize  int           // 等待队列深度
	KeepAlive  time.Duration // 额外协程的空闲存活时间
}

// Stats 是分发器的运行统计。
type Stats struct {
	Workers  int `json:"workers"`
	Idle     int `json:"idle"`
	Queued   int `json:"queued"`
	Rejected int `json:"rejected"`
}

// Dispatcher 是有界协程池。
type Dispatcher struct {
	opts  Options
	queue chan Task

	mu     sync.RWMutex
	closed bool

	workers  atomic.Int32
	idle     atomic.Int32
	rejected atomic.Int64
	wg       sync.WaitGroup

	panicHandler func(v any)
}

// New 创建分发器并启动常驻协程。
func New(opts Options) *Dispatcher {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	if opts.MinWorkers > opts.MaxWorkers {
		opts.MinWorkers = opts.MaxWorkers
	}
	if opts.MinWorkers < 0 {
		opts.MinWorkers = 0
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = time.Minute
	}
	d := &Dispatcher{
		opts:  opts,
		queue: make(chan Task, opts.QueueSize),
		panicHandler: func(v any) {
			hlog.SystemLogger().Errorf("分发任务异常: %v\n%s", v, debug.Stack())
		},
	}
	for i := 0; i < opts.MinWorkers; i++ {
		d.spawn(true)
	}
	return d
}

// SetPanicHandler 设置任务恐慌时的处理函数。
func (d *Dispatcher) SetPanicHandler(f func(v any)) {
	d.panicHandler = f
}

// Submit 提交任务。队列已满时返回 errors.ErrRejected。
func (d *Dispatcher) Submit(t Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errors.ErrDispatcherClosed
	}
	select {
	case d.queue <- t:
	default:
		if !d.spawnFor(t) {
			d.rejected.Add(1)
			return errors.ErrRejected
		}
		return nil
	}
	if d.idle.Load() == 0 {
		d.spawnIfBelowMax()
	}
	return nil
}

// spawnFor 在队列已满时尝试直接为任务新建协程。
func (d *Dispatcher) spawnFor(t Task) bool {
	for {
		n := d.workers.Load()
		if int(n) >= d.opts.MaxWorkers {
			return false
		}
		if d.workers.CompareAndSwap(n, n+1) {
			d.wg.Add(1)
			go func() {
				d.run(t)
				d.loop(false)
			}()
			return true
		}
	}
}

func (d *Dispatcher) spawnIfBelowMax() {
	for {
		n := d.workers.Load()
		if int(n) >= d.opts.MaxWorkers {
			return
		}
		if d.workers.CompareAndSwap(n, n+1) {
			d.wg.Add(1)
			go d.loop(false)
			return
		}
	}
}

func (d *Dispatcher) spawn(core bool) {
	d.workers.Add(1)
	d.wg.Add(1)
	go d.loop(core)
}

// loop 持续执行队列中的任务。非常驻协程空闲超过 KeepAlive 后退出。
func (d *Dispatcher) loop(core bool) {
	defer d.wg.Done()
	defer d.workers.Add(-1)

	for {
		d.idle.Add(1)
		if core {
			t, ok := <-d.queue
			d.idle.Add(-1)
			if !ok {
				return
			}
			d.run(t)
			continue
		}

		tm := timer.AcquireTimer(d.opts.KeepAlive)
		select {
		case t, ok := <-d.queue:
			timer.ReleaseTimer(tm)
			d.idle.Add(-1)
			if !ok {
				return
			}
			d.run(t)
		case <-tm.C:
			timer.ReleaseTimer(tm)
			d.idle.Add(-1)
			// Submit 可能在 idle 减少前入队且因看到空闲协程而未新建协程
			if len(d.queue) > 0 {
				continue
			}
			return
		}
	}
}

func (d *Dispatcher) run(t Task) {
	defer func() {
		if v := recover(); v != nil && d.panicHandler != nil {
			d.panicHandler(v)
		}
	}()
	t()
}

// Stats 返回运行统计。
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Workers:  int(d.workers.Load()),
		Idle:     int(d.idle.Load()),
		Queued:   len(d.queue),
		Rejected: int(d.rejected.Load()),
	}
}

// Shutdown 停止受理新任务，等待已受理的任务执行完毕，直到 ctx 到期。
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inline 在调用协程中同步执行任务，用于测试与无池场景。
type Inline struct{}

func (Inline) Submit(t Task) error {
	t()
	return nil
}
