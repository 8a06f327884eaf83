package config

import (
	"runtime"
	"time"

	"github.com/favbox/breeze/network"
	"github.com/favbox/breeze/protocol/consts"
)

const (
	defaultNetwork            = "tcp4"
	defaultAddr               = ":8080"
	defaultSweepInterval      = 1 * time.Second
	defaultReadBufferSize     = 4 * 1024
	defaultDispatchMinWorkers = 5
	defaultDispatchMaxWorkers = 500
	defaultDispatchQueueSize  = 5000
	defaultDispatchKeepAlive  = 60 * time.Second
	defaultWaitExitTimeout    = 5 * time.Second
	defaultStatusPath         = "/_breeze/status"
	defaultIndexName          = "index.html"
)

// 会话模式。
const (
	SessionModeNone   = "none"
	SessionModeMemory = "memory"
)

// Option 是用于配置 Options 唯一结构体。
type Option struct {
	F func(o *Options)
}

// Options 是配置项的结构体。
type Options struct {
	Network string // 网络协议，默认 "tcp4"
	Addr    string // 监听地址，默认 ":8080"

	// IdleTimeout 是等待请求首字节的最长时间，超时则关闭连接。默认 30s，0 代表永不超时。
	//
	// 请求一旦开始，无论停滞多久都不受该超时约束。
	IdleTimeout time.Duration

	// SweepInterval 是反应器扫描闲置连接的间隔，默认 1s。
	SweepInterval time.Duration

	MaxRequestBodySize  int  // 请求正文的最大字节数，默认 2MB
	MaxHeaderBytes      int  // 请求头块的最大字节数，默认 64KB
	MaxHeaderCount      int  // 请求标头的最大数量，默认 100
	MaxInMemoryFileSize int  // 多部分上传文件在内存中保留的最大字节数，超出则落盘，默认 16KB
	ReadBufferSize      int  // 每次套接字读取的缓冲大小，默认 4KB
	DisableKeepalive    bool // 是否禁用长连接，默认否
	NoDefaultDate       bool // 禁止响应头添加 Date 的默认字段值，默认否
	ServerName          string

	// 分发器：常驻协程数、最大协程数、队列深度以及额外协程的空闲存活时间。
	DispatchMinWorkers int
	DispatchMaxWorkers int
	DispatchQueueSize  int
	DispatchKeepAlive  time.Duration

	// ParseWorkers 是解析协程池的容量，默认等于 CPU 数。
	ParseWorkers int

	ExitWaitTimeout time.Duration // 优雅退出的等待时间，默认 5s

	WebRoot       string   // 静态文件根目录，为空则不提供静态文件
	IndexNames    []string // 目录请求依次尝试的索引文件名，默认 index.html
	AdminPassword string   // 状态端点的 admin 密码，为空则不开放状态端点
	StatusPath    string   // 状态端点路径，默认 "/_breeze/status"
	SessionMode   string   // 会话模式 "memory" 或 "none"，默认 "none"

	// TransporterNewer 是传输器的自定义创建函数。
	TransporterNewer func(opt *Options) network.Transporter
}

// Apply 将指定的一组配置方法 opts 应用到配置项上。
func (o *Options) Apply(opts []Option) {
	for _, opt := range opts {
		opt.F(o)
	}
}

// NewOptions 创建基于给定配置函数的配置项。
func NewOptions(opts []Option) *Options {
	options := &Options{
		Network:             defaultNetwork,
		Addr:                defaultAddr,
		IdleTimeout:         consts.DefaultIdleTimeout,
		SweepInterval:       defaultSweepInterval,
		MaxRequestBodySize:  consts.DefaultMaxRequestBodySize,
		MaxHeaderBytes:      consts.DefaultMaxHeaderBytes,
		MaxHeaderCount:      consts.DefaultMaxHeaderCount,
		MaxInMemoryFileSize: consts.DefaultMaxInMemoryFileSize,
		ReadBufferSize:      defaultReadBufferSize,
		ServerName:          consts.DefaultServerName,
		DispatchMinWorkers:  defaultDispatchMinWorkers,
		DispatchMaxWorkers:  defaultDispatchMaxWorkers,
		DispatchQueueSize:   defaultDispatchQueueSize,
		DispatchKeepAlive:   defaultDispatchKeepAlive,
		ParseWorkers:        runtime.NumCPU(),
		ExitWaitTimeout:     defaultWaitExitTimeout,
		IndexNames:          []string{defaultIndexName},
		StatusPath:          defaultStatusPath,
		SessionMode:         SessionModeNone,
	}
	options.Apply(opts)
	return options
}
