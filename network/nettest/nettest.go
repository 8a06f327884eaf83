// Package nettest 提供 network.Transporter 实现共用的一致性测试。
package nettest

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/favbox/breeze/common/config"
	"github.com/favbox/breeze/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Newer 创建待测传输器。
type Newer func(opt *config.Options) network.Transporter

// Protocol 是由函数字段组成的测试协议。
type Protocol struct {
	Read  func(c network.Conn, b []byte) error
	Close func(c network.Conn, err error)
}

func (p *Protocol) OnRead(c network.Conn, b []byte) error {
	if p.Read == nil {
		return nil
	}
	return p.Read(c, b)
}

func (p *Protocol) OnClose(c network.Conn, err error) {
	if p.Close != nil {
		p.Close(c, err)
	}
}

// Start 以 opts 启动传输器并返回其监听地址，测试结束时关闭。
func Start(t *testing.T, newer Newer, f network.ProtocolFactory, opts ...config.Option) (network.Transporter, string) {
	t.Helper()
	opts = append([]config.Option{{F: func(o *config.Options) {
		o.Network = "tcp4"
		o.Addr = "127.0.0.1:0"
	}}}, opts...)
	tr := newer(config.NewOptions(opts))
	errCh := make(chan error, 1)
	go func() { errCh <- tr.ListenAndServe(f) }()
	select {
	case <-tr.Ready():
	case err := <-errCh:
		t.Fatalf("监听失败: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("等待监听超时")
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr, tr.Addr()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp4", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readN(t *testing.T, c net.Conn, n int) string {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, n)
	_, err := io.ReadFull(c, buf)
	require.NoError(t, err)
	return string(buf)
}

// expectEOF 断言对端在 within 内关闭连接。
func expectEOF(t *testing.T, c net.Conn, within time.Duration) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(within))
	_, err := io.ReadAll(c)
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatalf("连接未在 %s 内关闭", within)
	}
}

func echoFactory(c network.Conn) network.Protocol {
	return &Protocol{Read: func(c network.Conn, b []byte) error {
		if _, err := c.Write(b); err != nil {
			return err
		}
		return c.Flush()
	}}
}

// Run 运行全部一致性测试。
func Run(t *testing.T, newer Newer) {
	t.Run("Echo", func(t *testing.T) { testEcho(t, newer) })
	t.Run("PauseResume", func(t *testing.T) { testPauseResume(t, newer) })
	t.Run("CloseDrainsPending", func(t *testing.T) { testCloseDrains(t, newer) })
	t.Run("IdleSweep", func(t *testing.T) { testIdleSweep(t, newer) })
	t.Run("HandOff", func(t *testing.T) { testHandOff(t, newer) })
	t.Run("OnCloseOnce", func(t *testing.T) { testOnCloseOnce(t, newer) })
	t.Run("Shutdown", func(t *testing.T) { testShutdown(t, newer) })
}

func testEcho(t *testing.T, newer Newer) {
	tr, addr := Start(t, newer, echoFactory)
	c := dial(t, addr)
	_, err := c.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "ping", readN(t, c, 4))
	assert.Eventually(t, func() bool { return tr.ConnCount() == 1 }, time.Second, 10*time.Millisecond)
}

// 暂停读取后在其他协程中应答并恢复，后续数据不丢失。
func testPauseResume(t *testing.T, newer Newer) {
	factory := func(c network.Conn) network.Protocol {
		return &Protocol{Read: func(c network.Conn, b []byte) error {
			c.PauseRead()
			c.SetIdle(false)
			data := strings.ToUpper(string(b))
			go func() {
				time.Sleep(20 * time.Millisecond)
				_, _ = c.Write([]byte(data))
				_ = c.Flush()
				c.SetIdle(true)
				_ = c.ResumeRead()
			}()
			return nil
		}}
	}
	_, addr := Start(t, newer, factory)
	c := dial(t, addr)
	for _, s := range []string{"a", "b", "c"} {
		_, err := c.Write([]byte(s))
		require.NoError(t, err)
		assert.Equal(t, strings.ToUpper(s), readN(t, c, 1))
	}
}

func testCloseDrains(t *testing.T, newer Newer) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 64*1024)
	factory := func(c network.Conn) network.Protocol {
		return &Protocol{Read: func(c network.Conn, b []byte) error {
			c.PauseRead()
			if _, err := c.Write(payload); err != nil {
				return err
			}
			_ = c.Flush()
			return c.Close()
		}}
	}
	_, addr := Start(t, newer, factory)
	c := dial(t, addr)
	_, err := c.Write([]byte("go"))
	require.NoError(t, err)

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, err := io.ReadAll(bufio.NewReader(c))
	require.NoError(t, err)
	assert.Equal(t, len(payload), len(got))
	assert.True(t, bytes.Equal(payload, got))
}

// 等待首字节的连接被闲置清理关闭，请求进行中的连接不受影响。
func testIdleSweep(t *testing.T, newer Newer) {
	factory := func(c network.Conn) network.Protocol {
		return &Protocol{Read: func(c network.Conn, b []byte) error {
			c.SetIdle(false)
			return nil
		}}
	}
	tr, addr := Start(t, newer, factory, config.Option{F: func(o *config.Options) {
		o.IdleTimeout = 100 * time.Millisecond
		o.SweepInterval = 20 * time.Millisecond
	}})

	idle := dial(t, addr)
	busy := dial(t, addr)
	_, err := busy.Write([]byte("GET / HTT"))
	require.NoError(t, err)

	expectEOF(t, idle, 2*time.Second)

	_ = busy.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, err = busy.Read(make([]byte, 1))
	ne, ok := err.(net.Error)
	require.True(t, ok, "err=%v", err)
	assert.True(t, ne.Timeout())
	assert.Equal(t, 1, tr.ConnCount())
}

func testHandOff(t *testing.T, newer Newer) {
	wsFactory := func(c network.Conn) network.Protocol {
		return &Protocol{Read: func(c network.Conn, b []byte) error {
			_, _ = c.Write(append([]byte("ws:"), b...))
			return c.Flush()
		}}
	}
	var oldClosed atomic.Int32
	factory := func(c network.Conn) network.Protocol {
		return &Protocol{
			Read: func(c network.Conn, b []byte) error {
				c.PauseRead()
				_, _ = c.Write([]byte("ok\n"))
				_ = c.Flush()
				return c.HandOff(wsFactory)
			},
			Close: func(c network.Conn, err error) { oldClosed.Add(1) },
		}
	}
	_, addr := Start(t, newer, factory)
	c := dial(t, addr)
	_, err := c.Write([]byte("upgrade"))
	require.NoError(t, err)
	assert.Equal(t, "ok\n", readN(t, c, 3))

	time.Sleep(50 * time.Millisecond)
	_, err = c.Write([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "ws:x", readN(t, c, 4))
	assert.Zero(t, oldClosed.Load())
}

func testOnCloseOnce(t *testing.T, newer Newer) {
	var mu sync.Mutex
	var calls int
	done := make(chan struct{})
	factory := func(c network.Conn) network.Protocol {
		return &Protocol{Close: func(c network.Conn, err error) {
			mu.Lock()
			calls++
			mu.Unlock()
			close(done)
		}}
	}
	tr, addr := Start(t, newer, factory)
	c := dial(t, addr)
	assert.Eventually(t, func() bool { return tr.ConnCount() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose 未被调用")
	}
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
	assert.Eventually(t, func() bool { return tr.ConnCount() == 0 }, time.Second, 10*time.Millisecond)
}

func testShutdown(t *testing.T, newer Newer) {
	tr, addr := Start(t, newer, echoFactory)
	c := dial(t, addr)
	_, err := c.Write([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "x", readN(t, c, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Shutdown(ctx))
	assert.Equal(t, 0, tr.ConnCount())
	expectEOF(t, c, time.Second)

	_, err = net.DialTimeout("tcp4", addr, 200*time.Millisecond)
	assert.Error(t, err)
}
