package mock

import (
	"fmt"
	"net"
	"sync"

	"github.com/cloudwego/netpoll"
	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/network"
)

var (
	defaultLocalAddr  = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
	defaultRemoteAddr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
)

// Conn 是内存中的 network.Conn，记录写出的字节与生命周期事件。
//
// Send 的数据在未暂停时同步交付给协议，暂停期间排队，ResumeRead 后继续交付。
type Conn struct {
	mu sync.Mutex

	proto network.Protocol
	out   *netpoll.LinkBuffer
	inbox []byte

	paused     bool
	delivering bool
	idle       bool
	closed     bool
	closeErr   error
	handOffs   int
	resumes    int

	local, remote net.Addr
}

// NewConn 创建一个协议由 f 创建的内存连接。
func NewConn(f network.ProtocolFactory) *Conn {
	m := &Conn{
		out:    netpoll.NewLinkBuffer(),
		idle:   true,
		local:  defaultLocalAddr,
		remote: defaultRemoteAddr,
	}
	if f != nil {
		m.proto = f(m)
	}
	return m
}

// Send 模拟对端发送 b。
func (m *Conn) Send(b []byte) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.inbox = append(m.inbox, b...)
	m.pumpLocked()
}

// SendString 模拟对端发送 s。
func (m *Conn) SendString(s string) { m.Send([]byte(s)) }

// pumpLocked 交付排队的数据，调用时持有 mu，返回前释放。
func (m *Conn) pumpLocked() {
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for !m.paused && !m.closed && len(m.inbox) > 0 && m.proto != nil {
		data := m.inbox
		m.inbox = nil
		proto := m.proto
		m.mu.Unlock()
		err := proto.OnRead(m, data)
		m.mu.Lock()
		if err != nil {
			m.delivering = false
			m.mu.Unlock()
			m.closeWith(err)
			return
		}
	}
	m.delivering = false
	m.mu.Unlock()
}

func (m *Conn) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.ErrConnectionClosed
	}
	buf, err := m.out.Malloc(len(b))
	if err != nil {
		return 0, err
	}
	copy(buf, b)
	return len(b), m.out.Flush()
}

func (m *Conn) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.ErrConnectionClosed
	}
	return nil
}

func (m *Conn) Close() error {
	m.closeWith(nil)
	return nil
}

// CloseWithError 模拟传输层以 err 关闭连接。
func (m *Conn) CloseWithError(err error) { m.closeWith(err) }

func (m *Conn) closeWith(err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.closeErr = err
	proto := m.proto
	m.mu.Unlock()
	if proto != nil {
		proto.OnClose(m, err)
	}
}

func (m *Conn) PauseRead() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

func (m *Conn) ResumeRead() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.ErrConnectionClosed
	}
	m.paused = false
	m.resumes++
	m.pumpLocked()
	return nil
}

func (m *Conn) SetIdle(idle bool) {
	m.mu.Lock()
	m.idle = idle
	m.mu.Unlock()
}

// HandOff 立即以 f 创建的新协议接管连接，旧协议不会收到 OnClose。
func (m *Conn) HandOff(f network.ProtocolFactory) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.ErrConnectionClosed
	}
	m.handOffs++
	m.proto = nil
	m.paused = false
	m.idle = false
	m.mu.Unlock()

	proto := f(m)

	m.mu.Lock()
	m.proto = proto
	m.pumpLocked()
	return nil
}

func (m *Conn) RemoteAddr() net.Addr { return m.remote }

func (m *Conn) LocalAddr() net.Addr { return m.local }

// Output 返回迄今写出的全部字节，不消耗。
func (m *Conn) Output() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := m.out.Peek(m.out.Len())
	return string(b)
}

// Take 返回并清空迄今写出的字节。
func (m *Conn) Take() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, _ := m.out.ReadString(m.out.Len())
	_ = m.out.Release()
	return s
}

// Closed 报告连接是否已关闭，以及关闭原因。
func (m *Conn) Closed() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed, m.closeErr
}

// Paused 报告连接是否暂停读取。
func (m *Conn) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Idle 报告连接是否处于闲置状态。
func (m *Conn) Idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idle
}

// HandOffs 返回移交次数。
func (m *Conn) HandOffs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handOffs
}

// Resumes 返回 ResumeRead 的调用次数。
func (m *Conn) Resumes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumes
}

// CreateFixedBody 创建由循环数字组成的定长正文。
func CreateFixedBody(size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(i%10) + '0'
	}
	return b
}

// CreateChunkedBody 将 body 编码为块长度递增的分块正文，trailer 非空时附加尾部标头。
func CreateChunkedBody(body []byte, trailer ...string) []byte {
	var b []byte
	size := 1
	for len(body) > 0 {
		if size > len(body) {
			size = len(body)
		}
		b = fmt.Appendf(b, "%x\r\n", size)
		b = append(b, body[:size]...)
		b = append(b, "\r\n"...)
		body = body[size:]
		size++
	}
	b = append(b, "0\r\n"...)
	for _, line := range trailer {
		b = append(b, line...)
		b = append(b, "\r\n"...)
	}
	return append(b, "\r\n"...)
}
