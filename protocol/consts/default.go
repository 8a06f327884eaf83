package consts

import "time"

const (
	// DefaultMaxRequestBodySize 是请求正文的默认上限，超出则响应 413。
	DefaultMaxRequestBodySize = 2 * 1024 * 1024

	// DefaultMaxHeaderBytes 是请求头部（请求行与标头）的默认上限，超出则响应 431。
	DefaultMaxHeaderBytes = 64 * 1024

	// DefaultMaxHeaderCount 是单个请求的默认标头数量上限，超出则响应 431。
	DefaultMaxHeaderCount = 100

	// DefaultMaxInMemoryFileSize 定义解析多部分表单使用的内存文件大小，若超此值，则写入磁盘。
	DefaultMaxInMemoryFileSize = 16 * 1024

	// DefaultIdleTimeout 是等待新请求首字节的默认时长。
	DefaultIdleTimeout = 30 * time.Second

	// DefaultServerName 是响应中 Server 标头的默认值。
	DefaultServerName = "breeze"

	// SessionCookieName 是会话标识所用的 Cookie 名称。
	SessionCookieName = "SESSIONID"

	// WebSocketVersion 是唯一支持的 WebSocket 协议版本。
	WebSocketVersion = "13"
)
