package network

import "context"

// Transporter 表示网络传输层接口。
type Transporter interface {
	// ListenAndServe 监听并开始接收连接，每个新连接的协议由 f 创建。
	// 该方法阻塞，直至传输器关闭。
	ListenAndServe(f ProtocolFactory) error

	// Close 立即关闭传输器及全部连接。
	Close() error

	// Shutdown 平滑关闭传输器：停止接收新连接，并等待进行中的交换完成。
	Shutdown(ctx context.Context) error

	// Ready 返回开始监听后关闭的通道。
	Ready() <-chan struct{}

	// Addr 返回监听地址，未监听时为空。
	Addr() string

	// ConnCount 返回当前活跃连接数。
	ConnCount() int
}
