package network

import (
	"net"
)

// Conn 表示一个由传输器驱动的事件连接。
//
// 读取由传输器发起，数据通过 Protocol.OnRead 交付；写入先拷贝进连接的待写队列，
// 由传输器按 FIFO 顺序刷出。所有方法均可在任意协程中调用。
type Conn interface {
	// Write 将 b 拷贝进待写队列，调用返回后 b 可被复用。
	Write(b []byte) (int, error)

	// Flush 请求传输器尽快发送待写队列中的数据。
	Flush() error

	// Close 请求关闭连接。
	//
	// 若待写队列为空则立即关闭，否则待数据全部刷出后再关闭，以免截断进行中的响应。
	Close() error

	// PauseRead 停止向协议交付新数据，直到 ResumeRead 被调用。
	PauseRead()

	// ResumeRead 恢复读取。
	ResumeRead() error

	// SetIdle 标记连接是否正在等待新请求的首字节。
	// 仅处于该状态的连接会被闲置超时清理。
	SetIdle(idle bool)

	// HandOff 在待写队列刷空后，将底层套接字移交给 f 创建的新协议，原连接退役但不关闭套接字。
	HandOff(f ProtocolFactory) error

	// RemoteAddr 返回对端地址。
	RemoteAddr() net.Addr

	// LocalAddr 返回本端地址。
	LocalAddr() net.Addr
}

// Protocol 处理一个连接上的入站数据。
//
// 同一连接的 OnRead 不会被并发调用，b 仅在调用期间有效。
type Protocol interface {
	// OnRead 交付从套接字读到的数据。返回错误将关闭连接。
	OnRead(c Conn, b []byte) error

	// OnClose 在连接关闭后调用一次，err 为关闭原因，正常关闭时为 nil。
	OnClose(c Conn, err error)
}

// ProtocolFactory 为新连接（或移交后的连接）创建协议实例。
type ProtocolFactory func(c Conn) Protocol
