package ut

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/favbox/breeze/protocol"
)

// ResponseRecorder 记录服务器写出的应答以供测试断言。
type ResponseRecorder struct {
	Code   int
	Header protocol.Header
	Body   *bytes.Buffer

	// Raw 是连接上写出的全部原始字节。
	Raw string
	// Closed 表示应答后服务器是否关闭了连接。
	Closed bool

	result *protocol.Response
}

// NewRecorder 返回一个空的响应记录器。
func NewRecorder() *ResponseRecorder {
	return &ResponseRecorder{Body: new(bytes.Buffer)}
}

func newRecorder(method, raw string, closed bool) *ResponseRecorder {
	r := NewRecorder()
	r.Raw, r.Closed = raw, closed
	if raw == "" {
		return r
	}

	resp, err := http.ReadResponse(bufio.NewReader(strings.NewReader(raw)), &http.Request{Method: method})
	if err != nil {
		return r
	}
	defer resp.Body.Close()

	r.Code = resp.StatusCode
	for k, vs := range resp.Header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	_, _ = io.Copy(r.Body, resp.Body)
	return r
}

// Result 将记录的应答转为 protocol.Response。
func (r *ResponseRecorder) Result() *protocol.Response {
	if r.result != nil {
		return r.result
	}
	res := new(protocol.Response)
	if r.Code != 0 {
		res.SetStatusCode(r.Code)
	}
	r.Header.CopyTo(&res.Header)
	if r.Body != nil {
		res.SetBody(r.Body.Bytes())
	}
	r.result = res
	return res
}
