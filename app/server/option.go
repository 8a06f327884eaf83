package server

import (
	"time"

	"github.com/favbox/breeze/common/config"
	"github.com/favbox/breeze/network"
)

// WithHostPorts 指定监听的地址和端口。默认值：":8080"。
func WithHostPorts(addr string) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.Addr = addr
	}}
}

// WithNetwork 网络协议，可选：tcp，tcp4，unix（unix domain socket）。
// 默认值：tcp4。
func WithNetwork(nw string) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.Network = nw
	}}
}

// WithIdleTimeout 设置等待请求首字节的超时时间。默认值 30 秒，0 表示永不超时。
//
// 请求一旦开始就不再受该超时约束。
func WithIdleTimeout(t time.Duration) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.IdleTimeout = t
	}}
}

// WithSweepInterval 设置闲置连接的扫描间隔。默认值 1 秒。
func WithSweepInterval(t time.Duration) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.SweepInterval = t
	}}
}

// WithMaxRequestBodySize 限制请求正文的最大字节数。
// 默认值：2MB。
func WithMaxRequestBodySize(bs int) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.MaxRequestBodySize = bs
	}}
}

// WithMaxHeaderBytes 限制请求行与标头的最大字节数，超出应答 431。
func WithMaxHeaderBytes(n int) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.MaxHeaderBytes = n
	}}
}

// WithMaxHeaderCount 限制请求标头的最大数量，超出应答 431。
func WithMaxHeaderCount(n int) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.MaxHeaderCount = n
	}}
}

// WithMaxInMemoryFileSize 设置多部分上传文件在内存中保留的最大字节数，超出则写入临时文件。
func WithMaxInMemoryFileSize(n int) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.MaxInMemoryFileSize = n
	}}
}

// WithReadBufferSize 设置每次读取套接字的缓冲大小。
func WithReadBufferSize(size int) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.ReadBufferSize = size
	}}
}

// WithKeepAlive 是否启用长连接。默认值：true。
func WithKeepAlive(b bool) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.DisableKeepalive = !b
	}}
}

// WithDisableDefaultDate 不在响应中自动添加 Date 标头。
func WithDisableDefaultDate(disable bool) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.NoDefaultDate = disable
	}}
}

// WithServerName 设置 Server 标头的值，为空则不输出。
func WithServerName(name string) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.ServerName = name
	}}
}

// WithDispatcher 设置分发器的常驻协程数、最大协程数与队列深度。
//
// 队列满时新请求直接应答 503。
func WithDispatcher(minWorkers, maxWorkers, queueSize int) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.DispatchMinWorkers = minWorkers
		o.DispatchMaxWorkers = maxWorkers
		o.DispatchQueueSize = queueSize
	}}
}

// WithDispatchKeepAlive 设置分发器额外协程的空闲存活时间。
func WithDispatchKeepAlive(t time.Duration) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.DispatchKeepAlive = t
	}}
}

// WithParseWorkers 设置反应器解析协程池的容量。
func WithParseWorkers(n int) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.ParseWorkers = n
	}}
}

// WithExitWaitTime 优雅退出的等待时间。
//
// 服务器会停止建立新连接，并对关闭后的每个请求设置 'Connection: close' 标头。
// 当到达设定的时间关闭服务器。若所有连接均已关闭则可提前关闭。
//
// 默认值：5 秒。
func WithExitWaitTime(t time.Duration) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.ExitWaitTimeout = t
	}}
}

// WithWebRoot 设置静态文件根目录。
func WithWebRoot(dir string) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.WebRoot = dir
	}}
}

// WithIndexNames 设置静态目录请求依次尝试的索引文件名。
func WithIndexNames(names ...string) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.IndexNames = names
	}}
}

// WithAdminPassword 设置状态端点的 admin 密码，为空则关闭状态端点。
func WithAdminPassword(password string) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.AdminPassword = password
	}}
}

// WithStatusPath 设置状态端点的路径。
func WithStatusPath(p string) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.StatusPath = p
	}}
}

// WithSessionMode 设置会话模式："memory" 或 "none"。
func WithSessionMode(mode string) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.SessionMode = mode
	}}
}

// WithTransport 更换网络传输器。默认值：linux 上为 reactor.NewTransporter，其他平台为 standard.NewTransporter。
func WithTransport(transporter func(opts *config.Options) network.Transporter) config.Option {
	return config.Option{F: func(o *config.Options) {
		o.TransporterNewer = transporter
	}}
}
