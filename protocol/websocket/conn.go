package websocket

import (
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/favbox/breeze/app/dispatch"
	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/common/hlog"
	"github.com/favbox/breeze/network"
	"github.com/valyala/bytebufferpool"
)

// Message 是一条完整的数据消息，Data 归处理器所有。
type Message struct {
	Op   Opcode
	Data []byte
}

// Text 报告是否为文本消息。
func (m Message) Text() bool { return m.Op == OpText }

// Handler 处理连接上的消息。同一连接的回调按接收顺序串行执行。
type Handler interface {
	OnMessage(c *Conn, m Message)
}

// HandlerFunc 是函数形式的 Handler。
type HandlerFunc func(c *Conn, m Message)

func (f HandlerFunc) OnMessage(c *Conn, m Message) { f(c, m) }

// Opener 是可选接口，连接建立后首先被调用。
type Opener interface {
	OnOpen(c *Conn)
}

// Closer 是可选接口，连接关闭后最后被调用。
type Closer interface {
	OnClose(c *Conn, err error)
}

// Conn 是移交后的 WebSocket 连接，实现 network.Protocol。
//
// 帧在读协程中解码，消息经分发器在每连接的有序邮箱中交给处理器。
type Conn struct {
	nc      network.Conn
	h       Handler
	d       dispatch.Submitter
	maxSize int
	path    string
	proto   string

	dec     Decoder
	msgOp   Opcode
	msg     *bytebufferpool.ByteBuffer
	inMsg   bool
	closing atomic.Bool
	closed  atomic.Bool

	mu      sync.Mutex
	mailbox []func()
	running bool

	keys sync.Map
}

func newConn(nc network.Conn, u *Upgrader, path, subprotocol string) *Conn {
	c := &Conn{
		nc:      nc,
		h:       u.Handler,
		d:       u.Dispatcher,
		maxSize: u.MaxMessageSize,
		path:    path,
		proto:   subprotocol,
	}
	if c.d == nil {
		c.d = dispatch.Inline{}
	}
	c.dec.MaxPayload = u.MaxMessageSize
	if o, ok := c.h.(Opener); ok {
		c.post(func() { o.OnOpen(c) })
	}
	return c
}

// Path 返回升级请求的路径。
func (c *Conn) Path() string { return c.path }

// Subprotocol 返回协商的子协议。
func (c *Conn) Subprotocol() string { return c.proto }

// RemoteAddr 返回对端地址。
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Set 保存一个连接级键值。
func (c *Conn) Set(key string, value any) { c.keys.Store(key, value) }

// Get 读取连接级键值。
func (c *Conn) Get(key string) (any, bool) { return c.keys.Load(key) }

// WriteMessage 发送一条完整消息。
func (c *Conn) WriteMessage(op Opcode, data []byte) error {
	if op != OpText && op != OpBinary {
		return protocolError("不可发送的消息类型 %s", op)
	}
	return c.writeFrame(op, data)
}

// WriteText 发送一条文本消息。
func (c *Conn) WriteText(s string) error { return c.WriteMessage(OpText, []byte(s)) }

// Ping 发送一个 ping 帧。
func (c *Conn) Ping(payload []byte) error {
	if len(payload) > maxControlPayloadSize {
		return protocolError("控制帧负载过长")
	}
	return c.writeFrame(OpPing, payload)
}

// Close 发送关闭帧并在其刷出后关闭连接，重复调用无效。
func (c *Conn) Close(code int, reason string) error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	_ = c.writeFrame(OpClose, closePayload(code, reason))
	return c.nc.Close()
}

func (c *Conn) writeFrame(op Opcode, payload []byte) error {
	if c.closed.Load() || (c.closing.Load() && op != OpClose) {
		return errors.ErrConnectionClosed
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = AppendFrame(buf.B, op, true, payload)
	if _, err := c.nc.Write(buf.B); err != nil {
		return err
	}
	return c.nc.Flush()
}

func (c *Conn) OnRead(_ network.Conn, b []byte) error {
	if c.closing.Load() {
		return nil
	}
	_, err := c.dec.Decode(b, c.onFrame)
	if err != nil {
		var ce *CloseError
		if errors.As(err, &ce) {
			hlog.SystemLogger().Debugf("WebSocket 连接出错: remote=%s, err=%v", c.nc.RemoteAddr(), ce)
			_ = c.Close(ce.Code, "")
			return nil
		}
		return err
	}
	return nil
}

func (c *Conn) onFrame(f Frame) error {
	switch f.Op {
	case OpPing:
		return c.writeFrame(OpPong, f.Payload)
	case OpPong:
		return nil
	case OpClose:
		code, _, err := parseClosePayload(f.Payload)
		if err != nil {
			return err
		}
		if code == CloseNoStatus {
			code = CloseNormal
		}
		_ = c.Close(code, "")
		return nil
	case OpText, OpBinary:
		if c.inMsg {
			return protocolError("上一条分片消息尚未结束")
		}
		c.inMsg = true
		c.msgOp = f.Op
		c.msg = bytebufferpool.Get()
	case OpContinuation:
		if !c.inMsg {
			return protocolError("没有待续的分片消息")
		}
	}

	if c.maxSize > 0 && c.msg.Len()+len(f.Payload) > c.maxSize {
		return &CloseError{Code: CloseMessageTooBig}
	}
	_, _ = c.msg.Write(f.Payload)
	if !f.Fin {
		return nil
	}

	m := Message{Op: c.msgOp, Data: append([]byte(nil), c.msg.B...)}
	bytebufferpool.Put(c.msg)
	c.msg, c.inMsg = nil, false
	if m.Op == OpText && !utf8.Valid(m.Data) {
		return &CloseError{Code: CloseInvalidPayload}
	}
	c.post(func() { c.h.OnMessage(c, m) })
	return nil
}

func (c *Conn) OnClose(_ network.Conn, err error) {
	c.closed.Store(true)
	if c.msg != nil {
		bytebufferpool.Put(c.msg)
		c.msg = nil
	}
	if cl, ok := c.h.(Closer); ok {
		c.post(func() { cl.OnClose(c, err) })
	}
}

// post 将任务放入邮箱，同一连接的任务按序执行且不并发。
func (c *Conn) post(task func()) {
	c.mu.Lock()
	c.mailbox = append(c.mailbox, task)
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	if err := c.d.Submit(c.drain); err != nil {
		c.mu.Lock()
		c.running = false
		c.mailbox = nil
		c.mu.Unlock()
		hlog.SystemLogger().Warnf("WebSocket 消息被拒绝: remote=%s, err=%v", c.nc.RemoteAddr(), err)
		_ = c.Close(CloseTryAgainLater, "")
	}
}

func (c *Conn) drain() {
	for {
		c.mu.Lock()
		if len(c.mailbox) == 0 {
			c.running = false
			c.mu.Unlock()
			return
		}
		task := c.mailbox[0]
		c.mailbox[0] = nil
		c.mailbox = c.mailbox[1:]
		c.mu.Unlock()

		c.run(task)
	}
}

func (c *Conn) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			hlog.SystemLogger().Errorf("WebSocket 处理器发生恐慌: %v\n%s", r, debug.Stack())
			_ = c.Close(CloseInternalError, "")
		}
	}()
	task()
}
