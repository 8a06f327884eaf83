package ut

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/favbox/breeze/app"
	"github.com/favbox/breeze/app/dispatch"
	"github.com/favbox/breeze/common/mock"
	"github.com/favbox/breeze/protocol/consts"
	"github.com/favbox/breeze/protocol/http1"
	"github.com/valyala/bytebufferpool"
)

const defaultHost = "example.com"

// Header 表明一个 http 标头的键值对。
type Header struct {
	Key   string
	Value string
}

// Body 用于设置请求正文。Len 为 -1 时以分块编码发送。
type Body struct {
	Body io.Reader
	Len  int
}

// PerformRequest 将构造好的请求以原始字节送入 HTTP/1.1 服务器（无需网络传输），并解析其应答。
//
// url 可以是标准的相对路径，也可以是带主机的绝对路径。
// 处理器在当前协程内同步执行，异步完成的响应不会被记录。
//
// 查看 ./request_test.go 了解更多示例。
func PerformRequest(h app.Handler, method, url string, body *Body, headers ...Header) *ResponseRecorder {
	return PerformRequestWithOption(http1.Option{NoDefaultDate: true}, h, method, url, body, headers...)
}

// PerformRequestWithOption 同 PerformRequest，但可指定服务器选项。
func PerformRequestWithOption(opt http1.Option, h app.Handler, method, url string, body *Body, headers ...Header) *ResponseRecorder {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = appendRequest(buf.B, method, url, body, headers)

	s := http1.NewServer(context.Background(), opt, h, dispatch.Inline{})
	c := mock.NewConn(s.NewProtocol)
	c.Send(buf.B)

	closed, _ := c.Closed()
	return newRecorder(method, c.Output(), closed)
}

func appendRequest(dst []byte, method, rawURL string, body *Body, headers []Header) []byte {
	host, target := defaultHost, rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host, target = u.Host, u.RequestURI()
	}
	if target == "" {
		target = "/"
	}

	var (
		data    []byte
		chunked bool
	)
	if body != nil && body.Body != nil {
		r := body.Body
		if body.Len >= 0 {
			r = io.LimitReader(r, int64(body.Len))
		}
		b, err := io.ReadAll(r)
		if err != nil {
			panic(err)
		}
		data, chunked = b, body.Len < 0
	}

	dst = append(dst, method...)
	dst = append(dst, ' ')
	dst = append(dst, target...)
	dst = append(dst, " HTTP/1.1\r\n"...)

	hasHost, hasLength := false, false
	for _, h := range headers {
		switch {
		case strings.EqualFold(h.Key, consts.HeaderHost):
			hasHost = true
		case strings.EqualFold(h.Key, consts.HeaderContentLength),
			strings.EqualFold(h.Key, consts.HeaderTransferEncoding):
			hasLength = true
		}
		dst = appendHeader(dst, h.Key, h.Value)
	}
	if !hasHost {
		dst = appendHeader(dst, consts.HeaderHost, host)
	}
	if !hasLength && data != nil {
		if chunked {
			dst = appendHeader(dst, consts.HeaderTransferEncoding, consts.ValueChunked)
		} else {
			dst = appendHeader(dst, consts.HeaderContentLength, strconv.Itoa(len(data)))
		}
	}
	dst = append(dst, "\r\n"...)

	if chunked {
		return append(dst, mock.CreateChunkedBody(data)...)
	}
	return append(dst, data...)
}

func appendHeader(dst []byte, k, v string) []byte {
	dst = append(dst, k...)
	dst = append(dst, ": "...)
	dst = append(dst, v...)
	return append(dst, "\r\n"...)
}
