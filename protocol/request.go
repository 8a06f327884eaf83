package protocol

import (
	"net"
	"strings"

	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/internal/bytesconv"
	"github.com/favbox/breeze/internal/nocopy"
	"github.com/favbox/breeze/protocol/consts"
	"github.com/valyala/bytebufferpool"
)

// Request 表示一个已解析（或正在解析）的 HTTP 请求。
//
// 查询参数、表单参数与 Cookie 在首次访问时才解析。不可拷贝，协程不安全。
type Request struct {
	noCopy nocopy.NoCopy

	Header Header

	method     string
	requestURI string
	proto      string

	uri       URI
	parsedURI bool

	queryArgs   Args
	parsedQuery bool

	postArgs   Args
	parsedPost bool

	cookies       Args
	parsedCookies bool

	body          *bytebufferpool.ByteBuffer
	contentLength int
	chunked       bool
	multipartForm *MultipartForm

	rawHead    []byte
	remoteAddr net.Addr
}

// Method 返回请求方法。
func (req *Request) Method() string { return req.method }

// SetMethod 设置请求方法。
func (req *Request) SetMethod(m string) { req.method = m }

// RequestURI 返回请求行中的原始请求目标。
func (req *Request) RequestURI() string { return req.requestURI }

// SetRequestURI 设置请求目标，已解析的 URI 与查询参数将失效。
func (req *Request) SetRequestURI(uri string) {
	req.requestURI = uri
	req.parsedURI = false
	req.parsedQuery = false
}

// Proto 返回协议版本，如 HTTP/1.1。
func (req *Request) Proto() string { return req.proto }

// SetProto 设置协议版本。
func (req *Request) SetProto(p string) { req.proto = p }

// IsHTTP11 报告是否为 HTTP/1.1 请求。
func (req *Request) IsHTTP11() bool { return req.proto == consts.HTTP11 }

// IsHead 报告是否为 HEAD 请求。
func (req *Request) IsHead() bool { return req.method == consts.MethodHead }

// URI 返回解析后的请求目标。
func (req *Request) URI() *URI {
	if !req.parsedURI {
		req.uri.Parse(req.requestURI)
		req.parsedURI = true
	}
	return &req.uri
}

// Path 返回解码后的请求路径。
func (req *Request) Path() string {
	return req.URI().Path()
}

// Host 返回请求的主机，优先取绝对形式请求目标中的主机。
func (req *Request) Host() string {
	if h := req.URI().Host(); h != "" {
		return h
	}
	return req.Header.Get(consts.HeaderHost)
}

// QueryArgs 返回查询参数。
func (req *Request) QueryArgs() *Args {
	if !req.parsedQuery {
		req.queryArgs.Parse(req.URI().QueryString())
		req.parsedQuery = true
	}
	return &req.queryArgs
}

// PostArgs 返回 application/x-www-form-urlencoded 正文中的参数。
func (req *Request) PostArgs() *Args {
	if !req.parsedPost {
		req.postArgs.Reset()
		ct := req.Header.Get(consts.HeaderContentType)
		if strings.HasPrefix(strings.ToLower(ct), consts.MIMEApplicationHTMLForm) {
			req.postArgs.Parse(string(req.Body()))
		}
		req.parsedPost = true
	}
	return &req.postArgs
}

// FormValue 依次从查询参数、urlencoded 表单与多部分表单中查找 key 的首个值。
func (req *Request) FormValue(key string) string {
	if v, ok := req.QueryArgs().PeekExists(key); ok {
		return v
	}
	if v, ok := req.PostArgs().PeekExists(key); ok {
		return v
	}
	if req.multipartForm != nil {
		if vs := req.multipartForm.Value[key]; len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

// Cookies 返回请求携带的全部 Cookie。
func (req *Request) Cookies() *Args {
	if !req.parsedCookies {
		req.cookies.Reset()
		for _, v := range req.Header.Values(consts.HeaderCookie) {
			parseRequestCookies(&req.cookies, v)
		}
		req.parsedCookies = true
	}
	return &req.cookies
}

// Cookie 返回名为 key 的 Cookie 值。
func (req *Request) Cookie(key string) string {
	return req.Cookies().Peek(key)
}

// Body 返回已接收的请求正文。多部分请求的正文不保留原始字节。
func (req *Request) Body() []byte {
	if req.body == nil {
		return nil
	}
	return req.body.B
}

// AppendBody 追加正文字节。
func (req *Request) AppendBody(p []byte) {
	if req.body == nil {
		req.body = bytebufferpool.Get()
	}
	req.body.B = append(req.body.B, p...)
}

// SetBody 设置正文。
func (req *Request) SetBody(p []byte) {
	if req.body != nil {
		req.body.Reset()
	}
	req.AppendBody(p)
	req.parsedPost = false
}

// ContentLength 返回 Content-Length 标头声明的正文长度，未声明时为 -1。
func (req *Request) ContentLength() int { return req.contentLength }

// SetContentLength 记录声明的正文长度。
func (req *Request) SetContentLength(n int) { req.contentLength = n }

// IsChunked 报告请求正文是否为分块编码。
func (req *Request) IsChunked() bool { return req.chunked }

// SetChunked 标记请求正文为分块编码。
func (req *Request) SetChunked(chunked bool) { req.chunked = chunked }

// MultipartForm 返回解析后的多部分表单。
func (req *Request) MultipartForm() (*MultipartForm, error) {
	if req.multipartForm == nil {
		return nil, errors.ErrNoMultipartForm
	}
	return req.multipartForm, nil
}

// SetMultipartForm 设置多部分表单，重置时会删除其临时文件。
func (req *Request) SetMultipartForm(f *MultipartForm) { req.multipartForm = f }

// RawHead 返回接收到的原始请求头（请求行与标头，含结尾空行）。
func (req *Request) RawHead() []byte { return req.rawHead }

// AppendRawHead 追加原始请求头字节。
func (req *Request) AppendRawHead(p []byte) { req.rawHead = append(req.rawHead, p...) }

// ConnectionClose 报告请求是否携带 Connection: close。
func (req *Request) ConnectionClose() bool {
	return req.Header.HasToken(consts.HeaderConnection, consts.ValueClose)
}

// KeepAliveRequested 报告请求是否携带 Connection: keep-alive。
func (req *Request) KeepAliveRequested() bool {
	return req.Header.HasToken(consts.HeaderConnection, consts.ValueKeepAlive)
}

// RemoteAddr 返回对端地址。
func (req *Request) RemoteAddr() net.Addr { return req.remoteAddr }

// SetRemoteAddr 设置对端地址。
func (req *Request) SetRemoteAddr(addr net.Addr) { req.remoteAddr = addr }

// Reset 清空请求以便复用，并删除多部分表单的临时文件。
func (req *Request) Reset() {
	req.Header.Reset()
	req.method, req.requestURI, req.proto = "", "", ""
	req.parsedURI, req.parsedQuery, req.parsedPost, req.parsedCookies = false, false, false, false
	req.queryArgs.Reset()
	req.postArgs.Reset()
	req.cookies.Reset()
	if req.body != nil {
		bytebufferpool.Put(req.body)
		req.body = nil
	}
	req.contentLength = -1
	req.chunked = false
	if req.multipartForm != nil {
		_ = req.multipartForm.RemoveAll()
		req.multipartForm = nil
	}
	req.rawHead = req.rawHead[:0]
}

// BodyString 以字符串形式返回正文，便于调试。
func (req *Request) BodyString() string {
	return bytesconv.B2s(req.Body())
}
