package resp

import (
	"sync/atomic"
	"time"

	"github.com/favbox/breeze/internal/bytesconv"
)

type dateValue struct {
	sec int64
	b   []byte
}

var serverDate atomic.Pointer[dateValue]

// appendDate 向 dst 追加当前时间的 HTTP 格式，按秒缓存。
func appendDate(dst []byte) []byte {
	now := time.Now()
	d := serverDate.Load()
	if d == nil || d.sec != now.Unix() {
		d = &dateValue{sec: now.Unix(), b: bytesconv.AppendHTTPDate(nil, now)}
		serverDate.Store(d)
	}
	return append(dst, d.b...)
}
