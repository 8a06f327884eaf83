package protocol

import (
	"github.com/favbox/breeze/internal/nocopy"
	"github.com/favbox/breeze/protocol/consts"
	"github.com/valyala/bytebufferpool"
)

// Response 表示一个正在构建的 HTTP 响应。不可拷贝，协程不安全。
type Response struct {
	noCopy nocopy.NoCopy

	Header Header

	statusCode    int
	cookies       []*Cookie
	sessionCookie *Cookie
	body          *bytebufferpool.ByteBuffer
}

// StatusCode 返回响应状态码，未设置时为 200。
func (resp *Response) StatusCode() int {
	if resp.statusCode == 0 {
		return consts.StatusOK
	}
	return resp.statusCode
}

// SetStatusCode 设置响应状态码。
func (resp *Response) SetStatusCode(code int) { resp.statusCode = code }

// ContentType 返回 Content-Type 标头值。
func (resp *Response) ContentType() string {
	return resp.Header.Get(consts.HeaderContentType)
}

// SetContentType 设置 Content-Type 标头。
func (resp *Response) SetContentType(ct string) {
	resp.Header.Set(consts.HeaderContentType, ct)
}

// SetConnectionClose 要求响应后关闭连接。
func (resp *Response) SetConnectionClose() {
	resp.Header.Set(consts.HeaderConnection, consts.ValueClose)
}

// ConnectionClose 报告响应是否携带 Connection: close。
func (resp *Response) ConnectionClose() bool {
	return resp.Header.HasToken(consts.HeaderConnection, consts.ValueClose)
}

// ConnectionUpgrade 报告响应是否携带 Connection: Upgrade。
func (resp *Response) ConnectionUpgrade() bool {
	return resp.Header.HasToken(consts.HeaderConnection, consts.ValueUpgrade)
}

// SetCookie 追加一个 Set-Cookie。
func (resp *Response) SetCookie(c *Cookie) {
	resp.cookies = append(resp.cookies, c)
}

// Cookies 返回显式设置的 Cookie。
func (resp *Response) Cookies() []*Cookie { return resp.cookies }

// SetSessionCookie 设置会话 Cookie，它在显式 Cookie 之前输出。
func (resp *Response) SetSessionCookie(c *Cookie) { resp.sessionCookie = c }

// SessionCookie 返回会话 Cookie。
func (resp *Response) SessionCookie() *Cookie { return resp.sessionCookie }

// Body 返回缓冲的响应正文。
func (resp *Response) Body() []byte {
	if resp.body == nil {
		return nil
	}
	return resp.body.B
}

// AppendBody 向缓冲正文追加字节。
func (resp *Response) AppendBody(p []byte) {
	if resp.body == nil {
		resp.body = bytebufferpool.Get()
	}
	resp.body.B = append(resp.body.B, p...)
}

// AppendBodyString 向缓冲正文追加字符串。
func (resp *Response) AppendBodyString(s string) {
	if resp.body == nil {
		resp.body = bytebufferpool.Get()
	}
	resp.body.B = append(resp.body.B, s...)
}

// SetBody 替换缓冲正文。
func (resp *Response) SetBody(p []byte) {
	resp.ResetBody()
	resp.AppendBody(p)
}

// SetBodyString 以字符串替换缓冲正文。
func (resp *Response) SetBodyString(s string) {
	resp.ResetBody()
	resp.AppendBodyString(s)
}

// ResetBody 清空缓冲正文。
func (resp *Response) ResetBody() {
	if resp.body != nil {
		resp.body.Reset()
	}
}

// Reset 清空响应以便复用。
func (resp *Response) Reset() {
	resp.Header.Reset()
	resp.statusCode = 0
	resp.cookies = resp.cookies[:0]
	resp.sessionCookie = nil
	if resp.body != nil {
		bytebufferpool.Put(resp.body)
		resp.body = nil
	}
}
