package standard

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/favbox/breeze/common/config"
	errs "github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/common/hlog"
	"github.com/favbox/breeze/network"
)

var _ network.Transporter = (*transport)(nil)

const drainPollDelay = 10 * time.Millisecond

type transport struct {
	// 每次读取的缓冲区大小
	readBufferSize int
	network        string
	addr           string
	idleTimeout    time.Duration

	lock  sync.Mutex
	ln    net.Listener
	conns map[*conn]struct{}
	count atomic.Int32
	ready chan struct{}
	once  sync.Once
	quit  atomic.Bool
}

// NewTransporter 创建标准库网络传输器。
func NewTransporter(options *config.Options) network.Transporter {
	size := options.ReadBufferSize
	if size <= 0 {
		size = 4096
	}
	return &transport{
		readBufferSize: size,
		network:        options.Network,
		addr:           options.Addr,
		idleTimeout:    options.IdleTimeout,
		conns:          make(map[*conn]struct{}),
		ready:          make(chan struct{}),
	}
}

func (t *transport) ListenAndServe(f network.ProtocolFactory) (err error) {
	_ = network.UnlinkUdsFile(t.network, t.addr)
	t.lock.Lock()
	t.ln, err = net.Listen(t.network, t.addr)
	t.lock.Unlock()
	if err != nil {
		return err
	}
	t.once.Do(func() { close(t.ready) })
	hlog.SystemLogger().Infof("HTTP服务器监听地址=%s", t.ln.Addr().String())

	for {
		nc, err := t.ln.Accept()
		if err != nil {
			if t.quit.Load() {
				return nil
			}
			hlog.SystemLogger().Errorf("错误=%s", err.Error())
			return err
		}
		c := newConn(t, nc)
		c.SetIdle(true)
		c.proto = f(c)

		t.lock.Lock()
		t.conns[c] = struct{}{}
		t.lock.Unlock()
		t.count.Add(1)
		go t.serveConn(c)
	}
}

// serveConn 循环读取套接字并交付给当前协议，直到连接关闭。
func (t *transport) serveConn(c *conn) {
	buf := mcache.Malloc(t.readBufferSize)
	defer mcache.Free(buf)

	var closeErr error
	for {
		next, ok := c.waitReadable()
		if !ok {
			break
		}
		if next != nil {
			t.replace(c, next)
			c = next
			continue
		}

		_ = c.nc.SetReadDeadline(c.readDeadline())
		n, err := c.nc.Read(buf)
		if n > 0 {
			if perr := c.proto.OnRead(c, buf[:n]); perr != nil {
				closeErr = perr
				break
			}
		}
		if err != nil {
			err = normalizeErr(err)
			if err == errs.ErrTimeout {
				if c.isIdle() {
					closeErr = errs.ErrIdleTimeout
					break
				}
				continue
			}
			if !c.closingState() {
				closeErr = err
			}
			break
		}
	}

	_ = c.Close()
	t.lock.Lock()
	delete(t.conns, c)
	t.lock.Unlock()
	t.count.Add(-1)
	c.proto.OnClose(c, closeErr)
}

func (c *conn) closingState() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (t *transport) replace(old, nc *conn) {
	t.lock.Lock()
	delete(t.conns, old)
	t.conns[nc] = struct{}{}
	t.lock.Unlock()
}

func (t *transport) closeListener() {
	t.quit.Store(true)
	t.lock.Lock()
	if t.ln != nil {
		_ = t.ln.Close()
	}
	t.lock.Unlock()
}

// closeConns 关闭连接；onlyIdle 为真时只关闭等待新请求的连接。
func (t *transport) closeConns(onlyIdle bool) {
	t.lock.Lock()
	var victims []*conn
	for c := range t.conns {
		if !onlyIdle || c.isIdle() {
			victims = append(victims, c)
		}
	}
	t.lock.Unlock()
	for _, c := range victims {
		_ = c.Close()
	}
}

func (t *transport) Close() error {
	defer func() { _ = network.UnlinkUdsFile(t.network, t.addr) }()
	t.closeListener()
	t.closeConns(false)
	return nil
}

func (t *transport) Shutdown(ctx context.Context) error {
	defer func() { _ = network.UnlinkUdsFile(t.network, t.addr) }()
	t.closeListener()
	ticker := time.NewTicker(drainPollDelay)
	defer ticker.Stop()
	for t.ConnCount() > 0 {
		t.closeConns(true)
		select {
		case <-ctx.Done():
			t.closeConns(false)
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (t *transport) Ready() <-chan struct{} {
	return t.ready
}

func (t *transport) Addr() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.ln == nil {
		return ""
	}
	return t.ln.Addr().String()
}

func (t *transport) ConnCount() int {
	return int(t.count.Load())
}
