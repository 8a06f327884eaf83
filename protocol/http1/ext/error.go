package ext

import (
	"fmt"

	"github.com/favbox/breeze/common/errors"
)

// ProtocolError 返回一个须关闭连接的协议错误。
// status 将作为响应状态码，格式化的细节仅写入日志。
func ProtocolError(status int, format string, args ...any) error {
	return errors.NewHTTPClose(status, fmt.Errorf(format, args...))
}

// BufferSnippet 返回字节切片的片段。
//
// 形如: <前缀 20 位>...<后缀=总长度-20位>
//
// 若前缀长 >= 后缀长，则直接返回原始切片。
func BufferSnippet(b []byte) string {
	n := len(b)
	start := 20
	end := n - start
	if start >= end {
		start = n
		end = n
	}
	bStart, bEnd := b[:start], b[end:]
	if len(bEnd) == 0 {
		return fmt.Sprintf("%q", b)
	}
	return fmt.Sprintf("%q...%q", bStart, bEnd)
}
