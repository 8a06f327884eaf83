//go:build linux

package reactor

import (
	"context"
	"net"
	"os"
	"sync"

	"github.com/favbox/breeze/common/config"
	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/common/hlog"
	"github.com/favbox/breeze/network"
	"github.com/valyala/tcplisten"
)

var _ network.Transporter = (*transport)(nil)

type transport struct {
	sync.RWMutex
	network string
	addr    string
	cfg     Config

	reactor *Reactor
	laddr   net.Addr
	ready   chan struct{}
	once    sync.Once
}

// NewTransporter 创建基于 epoll 反应器的网络传输器。
func NewTransporter(options *config.Options) network.Transporter {
	return &transport{
		network: options.Network,
		addr:    options.Addr,
		cfg: Config{
			IdleTimeout:    options.IdleTimeout,
			SweepInterval:  options.SweepInterval,
			ReadBufferSize: options.ReadBufferSize,
			ParseWorkers:   options.ParseWorkers,
		},
		ready: make(chan struct{}),
	}
}

// ListenAndServe 绑定监听地址并持续服务，除非出现错误或传输器关闭。
func (t *transport) ListenAndServe(f network.ProtocolFactory) error {
	lnFile, laddr, err := listen(t.network, t.addr)
	if err != nil {
		return err
	}
	r, err := New(t.cfg, lnFile, laddr, f)
	if err != nil {
		_ = lnFile.Close()
		return err
	}

	t.Lock()
	t.reactor = r
	t.laddr = laddr
	t.Unlock()
	t.once.Do(func() { close(t.ready) })

	hlog.SystemLogger().Infof("HTTP服务器监听地址=%s", laddr.String())
	return r.Run()
}

// listen 创建监听套接字，并返回其文件以交由 epoll 管理。
//
// tcp4/tcp6 使用 SO_REUSEPORT 监听器。返回的文件持有 fd，调用方须保持引用直至关闭。
func listen(network, addr string) (*os.File, net.Addr, error) {
	var (
		ln  net.Listener
		err error
	)
	switch network {
	case "tcp4", "tcp6":
		cfg := tcplisten.Config{ReusePort: true, DeferAccept: false, FastOpen: false}
		ln, err = cfg.NewListener(network, addr)
	default:
		_ = unlinkUds(network, addr)
		ln, err = net.Listen(network, addr)
	}
	if err != nil {
		return nil, nil, err
	}
	defer ln.Close()

	fl, ok := ln.(interface{ File() (*os.File, error) })
	if !ok {
		return nil, nil, errors.NewPublicf("不支持的监听器类型 %T", ln)
	}
	f, err := fl.File()
	if err != nil {
		return nil, nil, err
	}
	return f, ln.Addr(), nil
}

func unlinkUds(nw, addr string) error {
	return network.UnlinkUdsFile(nw, addr)
}

func (t *transport) current() *Reactor {
	t.RLock()
	defer t.RUnlock()
	return t.reactor
}

// Close 强制传输器立即关闭（无超时等待）。
func (t *transport) Close() error {
	defer func() { _ = unlinkUds(t.network, t.addr) }()
	if r := t.current(); r != nil {
		return r.Close()
	}
	return nil
}

// Shutdown 停止监听器并优雅关闭。将等待所有连接完成，直到触达截止时间。
func (t *transport) Shutdown(ctx context.Context) error {
	defer func() { _ = unlinkUds(t.network, t.addr) }()
	if r := t.current(); r != nil {
		return r.Shutdown(ctx)
	}
	return nil
}

func (t *transport) Addr() string {
	t.RLock()
	defer t.RUnlock()
	if t.laddr == nil {
		return ""
	}
	return t.laddr.String()
}

func (t *transport) ConnCount() int {
	if r := t.current(); r != nil {
		return r.ConnCount()
	}
	return 0
}

// Ready 返回监听就绪后关闭的通道。
func (t *transport) Ready() <-chan struct{} {
	return t.ready
}
