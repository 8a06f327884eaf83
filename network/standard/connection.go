package standard

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/favbox/breeze/common/bytebuffer"
	errs "github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/network"
)

var _ network.Conn = (*conn)(nil)

// conn 基于 net.Conn 实现 network.Conn，每个套接字由一个读协程驱动。
//
// 移交协议时以同一 net.Conn 构造新的 conn，旧值退役。
type conn struct {
	t     *transport
	nc    net.Conn
	proto network.Protocol

	wmu sync.Mutex
	out bytebuffer.Buffer

	mu        sync.Mutex
	cond      *sync.Cond
	wantRead  bool
	idle      bool
	idleSince time.Time
	closing   bool
	handOff   network.ProtocolFactory

	retired atomic.Bool
}

func newConn(t *transport, nc net.Conn) *conn {
	c := &conn{t: t, nc: nc, wantRead: true}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// normalizeErr 统一底层网络错误。
func normalizeErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ENOTCONN) || errors.Is(err, syscall.ECONNRESET) {
		return errs.ErrConnectionClosed
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return errs.ErrTimeout
	}
	return err
}

// waitReadable 阻塞直到可以读取、需要关闭或需要移交。
// 返回移交后的新连接，或 ok=false 表示应当关闭。
func (c *conn) waitReadable() (next *conn, ok bool) {
	c.mu.Lock()
	for !c.wantRead && !c.closing && c.handOff == nil {
		c.cond.Wait()
	}
	closing, f := c.closing, c.handOff
	c.mu.Unlock()

	if closing {
		return nil, false
	}
	if f != nil {
		nc := newConn(c.t, c.nc)
		c.retired.Store(true)
		nc.proto = f(nc)
		return nc, true
	}
	return nil, true
}

// readDeadline 返回本次读取的截止时间：仅闲置等待首字节时受超时约束。
func (c *conn) readDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idle && c.t.idleTimeout > 0 {
		return c.idleSince.Add(c.t.idleTimeout)
	}
	return time.Time{}
}

func (c *conn) isIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idle && c.wantRead && !c.closing
}

func (c *conn) Write(b []byte) (int, error) {
	if c.retired.Load() {
		return 0, errs.ErrHandedOff
	}
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return 0, errs.ErrConnectionClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.out.Write(b)
}

func (c *conn) Flush() error {
	if c.retired.Load() {
		return errs.ErrHandedOff
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.flushLocked()
}

func (c *conn) flushLocked() error {
	if c.out.Len() == 0 {
		return nil
	}
	_, err := c.nc.Write(c.out.Bytes())
	c.out.Reset()
	if err != nil {
		return normalizeErr(err)
	}
	return nil
}

// Close 刷出待写数据后关闭套接字，阻塞中的读取随之返回。
func (c *conn) Close() error {
	if c.retired.Load() {
		return errs.ErrHandedOff
	}
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.cond.Broadcast()
	c.mu.Unlock()

	c.wmu.Lock()
	_ = c.flushLocked()
	c.wmu.Unlock()
	return c.nc.Close()
}

func (c *conn) PauseRead() {
	c.mu.Lock()
	c.wantRead = false
	c.mu.Unlock()
}

func (c *conn) ResumeRead() error {
	if c.retired.Load() {
		return errs.ErrHandedOff
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return errs.ErrConnectionClosed
	}
	c.wantRead = true
	c.cond.Broadcast()
	return nil
}

func (c *conn) SetIdle(idle bool) {
	c.mu.Lock()
	if idle && !c.idle {
		c.idleSince = time.Now()
	}
	c.idle = idle
	c.mu.Unlock()
}

func (c *conn) HandOff(f network.ProtocolFactory) error {
	if c.retired.Load() {
		return errs.ErrHandedOff
	}
	if err := c.Flush(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return errs.ErrConnectionClosed
	}
	c.handOff = f
	c.idle = false
	c.cond.Broadcast()
	return nil
}

func (c *conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

func (c *conn) LocalAddr() net.Addr { return c.nc.LocalAddr() }
