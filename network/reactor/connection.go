//go:build linux

package reactor

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/cloudwego/netpoll"
	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/network"
	"golang.org/x/sys/unix"
)

var _ network.Conn = (*connection)(nil)

// connection 是反应器中注册的一个套接字。
//
// 移交协议时，反应器以同一 fd 构造新的 connection，旧值退役但不关闭套接字。
type connection struct {
	r      *Reactor
	fd     int
	local  net.Addr
	remote net.Addr
	proto  network.Protocol

	// out 是待写队列：任意协程在 wmu 保护下写入，事件循环协程读出。
	wmu sync.Mutex
	out *netpoll.LinkBuffer

	mu        sync.Mutex
	wantRead  bool
	reading   bool
	idle      bool
	idleSince time.Time
	closing   bool
	closeErr  error
	handOff   network.ProtocolFactory

	// 仅由事件循环协程访问
	closed bool

	retired atomic.Bool
}

func newConnection(r *Reactor, fd int, local, remote net.Addr) *connection {
	return &connection{
		r:        r,
		fd:       fd,
		local:    local,
		remote:   remote,
		out:      netpoll.NewLinkBuffer(),
		wantRead: true,
	}
}

// readOnce 在解析协程中执行一次读取并交付给协议。
func (c *connection) readOnce() {
	buf := mcache.Malloc(c.r.cfg.ReadBufferSize)
	n, err := unix.Read(c.fd, buf)
	for err == unix.EINTR {
		n, err = unix.Read(c.fd, buf)
	}

	var closeErr error
	switch {
	case err == unix.EAGAIN:
	case err != nil:
		closeErr = errors.New(err, errors.ErrorTypeTransport, nil)
	case n == 0:
		closeErr = errors.ErrConnectionClosed
	default:
		if perr := c.proto.OnRead(c, buf[:n]); perr != nil {
			closeErr = perr
		}
	}
	mcache.Free(buf)

	c.mu.Lock()
	c.reading = false
	c.mu.Unlock()
	if closeErr != nil {
		c.r.enqueue(op{kind: opClose, c: c, err: closeErr})
		return
	}
	c.r.enqueue(op{kind: opRearm, c: c})
}

// flushOut 在事件循环协程中尽量刷出待写数据，遇到 EAGAIN 即返回。
func (c *connection) flushOut() error {
	for c.out.Len() > 0 {
		n := c.out.Len()
		if n > maxWriteChunk {
			n = maxWriteChunk
		}
		b, err := c.out.Peek(n)
		if err != nil {
			return err
		}
		w, err := unix.Write(c.fd, b)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return nil
		case err != nil:
			return errors.New(err, errors.ErrorTypeTransport, nil)
		}
		if err = c.out.Skip(w); err != nil {
			return err
		}
		if err = c.out.Release(); err != nil {
			return err
		}
	}
	return nil
}

func (c *connection) releaseOut() {
	c.wmu.Lock()
	_ = c.out.Close()
	c.wmu.Unlock()
}

func (c *connection) Write(b []byte) (int, error) {
	if c.retired.Load() {
		return 0, errors.ErrHandedOff
	}
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return 0, errors.ErrConnectionClosed
	}
	if len(b) == 0 {
		return 0, nil
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.retired.Load() {
		return 0, errors.ErrHandedOff
	}
	p, err := c.out.Malloc(len(b))
	if err != nil {
		return 0, err
	}
	copy(p, b)
	if err = c.out.Flush(); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *connection) Flush() error {
	if c.retired.Load() {
		return errors.ErrHandedOff
	}
	c.r.enqueue(op{kind: opRearm, c: c})
	return nil
}

func (c *connection) Close() error {
	if c.retired.Load() {
		return errors.ErrHandedOff
	}
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()
	c.r.enqueue(op{kind: opRearm, c: c})
	return nil
}

// PauseRead 应在 OnRead 中调用：此时读取尚未重新布防，不会丢失唤醒。
func (c *connection) PauseRead() {
	c.mu.Lock()
	c.wantRead = false
	c.mu.Unlock()
}

func (c *connection) ResumeRead() error {
	if c.retired.Load() {
		return errors.ErrHandedOff
	}
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return errors.ErrConnectionClosed
	}
	if c.wantRead {
		c.mu.Unlock()
		return nil
	}
	c.wantRead = true
	c.mu.Unlock()
	c.r.enqueue(op{kind: opRearm, c: c})
	return nil
}

func (c *connection) SetIdle(idle bool) {
	c.mu.Lock()
	if idle && !c.idle {
		c.idleSince = time.Now()
	}
	c.idle = idle
	c.mu.Unlock()
}

func (c *connection) HandOff(f network.ProtocolFactory) error {
	if c.retired.Load() {
		return errors.ErrHandedOff
	}
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return errors.ErrConnectionClosed
	}
	c.handOff = f
	c.idle = false
	c.mu.Unlock()
	c.r.enqueue(op{kind: opRearm, c: c})
	return nil
}

func (c *connection) RemoteAddr() net.Addr { return c.remote }

func (c *connection) LocalAddr() net.Addr { return c.local }
