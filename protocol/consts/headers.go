package consts

// HTTP 协议版本。
const (
	HTTP09 = "HTTP/0.9"
	HTTP10 = "HTTP/1.0"
	HTTP11 = "HTTP/1.1"
)

// 标头名称。
const (
	HeaderAllow              = "Allow"
	HeaderAuthorization      = "Authorization"
	HeaderCacheControl       = "Cache-Control"
	HeaderConnection         = "Connection"
	HeaderContentDisposition = "Content-Disposition"
	HeaderContentLength      = "Content-Length"
	HeaderContentType        = "Content-Type"
	HeaderCookie             = "Cookie"
	HeaderDate               = "Date"
	HeaderExpect             = "Expect"
	HeaderHost               = "Host"
	HeaderLastModified       = "Last-Modified"
	HeaderLocation           = "Location"
	HeaderRetryAfter         = "Retry-After"
	HeaderServer             = "Server"
	HeaderSetCookie          = "Set-Cookie"
	HeaderTransferEncoding   = "Transfer-Encoding"
	HeaderUpgrade            = "Upgrade"
	HeaderUserAgent          = "User-Agent"
	HeaderWWWAuthenticate    = "WWW-Authenticate"

	HeaderSecWebSocketKey      = "Sec-WebSocket-Key"
	HeaderSecWebSocketVersion  = "Sec-WebSocket-Version"
	HeaderSecWebSocketAccept   = "Sec-WebSocket-Accept"
	HeaderSecWebSocketProtocol = "Sec-WebSocket-Protocol"
)

// 常用标头值。
const (
	ValueClose         = "close"
	ValueKeepAlive     = "keep-alive"
	ValueUpgrade       = "Upgrade"
	ValueChunked       = "chunked"
	Value100Continue   = "100-continue"
	ValueWebSocket     = "websocket"
	ValueAllowedMethod = "GET, HEAD, POST, PUT, DELETE, OPTIONS, TRACE"
)

// MIME 类型。
const (
	MIMETextPlain           = "text/plain; charset=utf-8"
	MIMETextHTML            = "text/html; charset=utf-8"
	MIMEApplicationJSON     = "application/json; charset=utf-8"
	MIMEMessageHTTP         = "message/http"
	MIMEOctetStream         = "application/octet-stream"
	MIMEMultipartPrefix     = "multipart/"
	MIMEMultipartPOSTForm   = "multipart/form-data"
	MIMEApplicationHTMLForm = "application/x-www-form-urlencoded"
)
