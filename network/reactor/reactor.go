//go:build linux

package reactor

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/common/hlog"
	"github.com/favbox/breeze/network"
	"golang.org/x/sys/unix"
)

const (
	stateRunning int32 = iota
	stateDraining
	stateStopping
)

const (
	maxEvents      = 256
	maxWriteChunk  = 64 * 1024
	drainPollDelay = 10 * time.Millisecond
)

type opKind uint8

const (
	opRearm opKind = iota // 按连接当前状态重新计算关注事件
	opClose               // 强制关闭
)

type op struct {
	kind opKind
	c    *connection
	err  error
}

// Config 是反应器的运行参数。
type Config struct {
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	ReadBufferSize int
	ParseWorkers   int
}

// Reactor 是单协程的 epoll 事件循环。
type Reactor struct {
	cfg     Config
	factory network.ProtocolFactory
	pool    gopool.Pool

	epfd   int
	wakefd int
	lnfd   int
	lnFile *os.File
	laddr  net.Addr

	// 仅由事件循环协程访问
	conns map[int]*connection

	mu          sync.Mutex
	ops         []op
	spare       []op
	wakePending bool

	state   atomic.Int32
	count   atomic.Int32
	started atomic.Bool
	done    chan struct{}
}

// New 创建一个反应器。lnFile 是已监听套接字的文件，为空时反应器不接收新连接。
func New(cfg Config, lnFile *os.File, laddr net.Addr, factory network.ProtocolFactory) (*Reactor, error) {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.ParseWorkers <= 0 {
		cfg.ParseWorkers = runtime.NumCPU()
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	r := &Reactor{
		cfg:     cfg,
		factory: factory,
		pool:    gopool.NewPool("breeze-parse", int32(cfg.ParseWorkers), gopool.NewConfig()),
		epfd:    epfd,
		wakefd:  wakefd,
		lnfd:    -1,
		lnFile:  lnFile,
		laddr:   laddr,
		conns:   make(map[int]*connection),
		done:    make(chan struct{}),
	}
	r.pool.SetPanicHandler(func(_ context.Context, v any) {
		hlog.SystemLogger().Errorf("解析协程异常: %v", v)
	})
	if err = r.ctlAdd(wakefd, unix.EPOLLIN); err != nil {
		r.closeFds()
		return nil, err
	}
	if lnFile != nil {
		r.lnfd = int(lnFile.Fd())
		if err = unix.SetNonblock(r.lnfd, true); err != nil {
			r.closeFds()
			return nil, os.NewSyscallError("setnonblock", err)
		}
		if err = r.ctlAdd(r.lnfd, unix.EPOLLIN); err != nil {
			r.closeFds()
			return nil, err
		}
	}
	return r, nil
}

// ConnCount 返回当前注册的连接数。
func (r *Reactor) ConnCount() int {
	return int(r.count.Load())
}

// Run 运行事件循环，直到反应器关闭。
func (r *Reactor) Run() error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.NewPublic("反应器已在运行")
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(r.done)
	defer r.closeFds()

	events := make([]unix.EpollEvent, maxEvents)
	lastSweep := time.Now()
	for {
		timeout := int(r.cfg.SweepInterval / time.Millisecond)
		if r.state.Load() != stateRunning {
			timeout = int(drainPollDelay / time.Millisecond)
		}
		n, err := unix.EpollWait(r.epfd, events, timeout)
		if err != nil && err != unix.EINTR {
			return os.NewSyscallError("epoll_wait", err)
		}
		for i := 0; i < n; i++ {
			fd, ev := int(events[i].Fd), events[i].Events
			switch fd {
			case r.wakefd:
				var b [8]byte
				_, _ = unix.Read(r.wakefd, b[:])
			case r.lnfd:
				r.accept()
			default:
				if c := r.conns[fd]; c != nil {
					r.onEvent(c, ev)
				}
			}
		}
		r.runOps()

		now := time.Now()
		switch r.state.Load() {
		case stateRunning:
			if now.Sub(lastSweep) >= r.cfg.SweepInterval {
				r.sweep(now, r.cfg.IdleTimeout)
				lastSweep = now
			}
		case stateDraining:
			r.stopAccept()
			r.sweep(now, 0)
		case stateStopping:
			r.stopAccept()
			for _, c := range r.conns {
				r.closeConn(c, errors.ErrConnectionClosed)
			}
			if len(r.conns) == 0 {
				return nil
			}
		}
	}
}

// Shutdown 停止接收新连接，关闭闲置连接并等待其余连接完成当前交换。
// ctx 到期后强制关闭。
func (r *Reactor) Shutdown(ctx context.Context) error {
	r.state.CompareAndSwap(stateRunning, stateDraining)
	r.wake()
	ticker := time.NewTicker(drainPollDelay)
	defer ticker.Stop()
	for r.ConnCount() > 0 {
		select {
		case <-ctx.Done():
			_ = r.Close()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return r.Close()
}

// Close 立即关闭全部连接并退出事件循环。
func (r *Reactor) Close() error {
	select {
	case <-r.done:
		return nil
	default:
	}
	r.state.Store(stateStopping)
	if !r.started.Load() {
		r.closeFds()
		return nil
	}
	r.wake()
	<-r.done
	return nil
}

func (r *Reactor) enqueue(o op) {
	r.mu.Lock()
	r.ops = append(r.ops, o)
	need := !r.wakePending
	r.wakePending = true
	r.mu.Unlock()
	if need {
		r.wake()
	}
}

func (r *Reactor) wake() {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	_, _ = unix.Write(r.wakefd, b[:])
}

func (r *Reactor) runOps() {
	r.mu.Lock()
	ops := r.ops
	r.ops = r.spare[:0]
	r.wakePending = false
	r.mu.Unlock()

	for i := range ops {
		o := ops[i]
		switch o.kind {
		case opRearm:
			r.update(o.c)
		case opClose:
			r.closeConn(o.c, o.err)
		}
		ops[i] = op{}
	}
	r.spare = ops[:0]
}

func (r *Reactor) accept() {
	for {
		nfd, sa, err := unix.Accept4(r.lnfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR, unix.ECONNABORTED:
				continue
			}
			hlog.SystemLogger().Errorf("接收连接失败: %v", err)
			return
		}
		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		var laddr net.Addr = r.laddr
		if lsa, err := unix.Getsockname(nfd); err == nil {
			laddr = sockaddrToAddr(lsa)
		}
		c := newConnection(r, nfd, laddr, sockaddrToAddr(sa))
		c.SetIdle(true)
		c.proto = r.factory(c)

		if err = r.ctlAdd(nfd, unix.EPOLLIN|unix.EPOLLONESHOT); err != nil {
			hlog.SystemLogger().Errorf("注册连接失败: %v", err)
			_ = unix.Close(nfd)
			continue
		}
		r.conns[nfd] = c
		r.count.Add(1)
	}
}

func (r *Reactor) stopAccept() {
	if r.lnfd < 0 {
		return
	}
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, r.lnfd, nil)
	if r.lnFile != nil {
		_ = r.lnFile.Close()
	}
	r.lnfd = -1
}

func (r *Reactor) onEvent(c *connection, ev uint32) {
	switch {
	case ev&unix.EPOLLIN != 0:
		c.mu.Lock()
		start := c.wantRead && !c.reading && !c.closing
		if start {
			c.reading = true
		}
		c.mu.Unlock()
		if start {
			r.pool.Go(c.readOnce)
		}
	case ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 && ev&unix.EPOLLOUT == 0:
		r.closeConn(c, errors.ErrConnectionClosed)
		return
	}
	r.update(c)
}

// update 刷出待写数据，并按连接当前状态关闭、移交或重新布防。
func (r *Reactor) update(c *connection) {
	if c.retired.Load() || c.closed {
		return
	}
	if err := c.flushOut(); err != nil {
		r.closeConn(c, err)
		return
	}

	c.mu.Lock()
	reading, closing, wantRead := c.reading, c.closing, c.wantRead
	handOff, closeErr := c.handOff, c.closeErr
	c.mu.Unlock()

	pending := c.out.Len() > 0
	if !pending && !reading {
		if closing {
			r.closeConn(c, closeErr)
			return
		}
		if handOff != nil {
			r.handOffConn(c, handOff)
			return
		}
	}

	var ev uint32 = unix.EPOLLONESHOT
	if wantRead && !reading && !closing && handOff == nil {
		ev |= unix.EPOLLIN
	}
	if pending {
		ev |= unix.EPOLLOUT
	}
	if err := r.ctlMod(c.fd, ev); err != nil {
		hlog.SystemLogger().Debugf("布防连接失败: fd=%d, err=%v", c.fd, err)
	}
}

// closeConn 关闭套接字并注销连接。读取进行中时推迟到读取结束。
func (r *Reactor) closeConn(c *connection, err error) {
	if c.retired.Load() || c.closed {
		return
	}
	c.mu.Lock()
	c.closing = true
	if c.closeErr == nil {
		c.closeErr = err
	}
	err = c.closeErr
	if c.reading {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	delete(r.conns, c.fd)
	_ = unix.Close(c.fd)
	c.releaseOut()
	r.count.Add(-1)

	proto := c.proto
	r.pool.Go(func() {
		proto.OnClose(c, err)
	})
}

// handOffConn 用同一套接字构造新连接并安装新协议，旧连接退役。
func (r *Reactor) handOffConn(c *connection, f network.ProtocolFactory) {
	nc := newConnection(r, c.fd, c.local, c.remote)
	c.retired.Store(true)
	c.releaseOut()

	nc.proto = f(nc)
	r.conns[nc.fd] = nc
	r.update(nc)
}

// sweep 关闭等待首字节超过 timeout 的闲置连接。
func (r *Reactor) sweep(now time.Time, timeout time.Duration) {
	if timeout < 0 || (timeout == 0 && r.state.Load() == stateRunning) {
		return
	}
	for _, c := range r.conns {
		c.mu.Lock()
		expired := c.idle && !c.reading && !c.closing && now.Sub(c.idleSince) >= timeout
		c.mu.Unlock()
		if expired && c.out.Len() == 0 {
			r.closeConn(c, errors.ErrIdleTimeout)
		}
	}
}

func (r *Reactor) ctlAdd(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev))
}

func (r *Reactor) ctlMod(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev))
}

func (r *Reactor) closeFds() {
	r.stopAccept()
	if r.wakefd >= 0 {
		_ = unix.Close(r.wakefd)
		r.wakefd = -1
	}
	if r.epfd >= 0 {
		_ = unix.Close(r.epfd)
		r.epfd = -1
	}
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]).To16(), Port: a.Port}
	case *unix.SockaddrInet6:
		addr := &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
		if a.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(a.ZoneId)); err == nil {
				addr.Zone = ifi.Name
			}
		}
		return addr
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: a.Name, Net: "unix"}
	}
	return nil
}
