package resp

import (
	"io"
	"strings"

	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/internal/bytesconv"
	"github.com/favbox/breeze/protocol"
	"github.com/favbox/breeze/protocol/consts"
	"github.com/favbox/breeze/protocol/http1/ext"
	"github.com/valyala/bytebufferpool"
)

type framing uint8

const (
	framingNone    framing = iota // 无正文（HEAD 与 1xx/204/304 仍按此计算标头）
	framingFixed                  // Content-Length
	framingChunked                // Transfer-Encoding: chunked
	framingClose                  // 以关闭连接界定正文
)

// Options 是响应写入器的配置。
type Options struct {
	ServerName       string
	NoDefaultDate    bool
	DisableKeepalive bool
}

// Writer 将响应序列化到连接。
//
// 首次写入正文时隐式提交标头，正文分帧方式只在提交时决定一次。
// 未写入正文即完成时，按缓冲正文的长度输出 Content-Length。
type Writer struct {
	out  io.Writer
	req  *protocol.Request
	resp *protocol.Response
	opts Options

	committed bool
	finished  bool
	framing   framing
	noBody    bool
	remaining int
	keepAlive bool
	upgrade   bool
	written   int64
}

// NewWriter 创建写入 out 的响应写入器。
func NewWriter(out io.Writer, req *protocol.Request, resp *protocol.Response, opts Options) *Writer {
	w := &Writer{opts: opts}
	w.Reset(out, req, resp)
	return w
}

// Reset 重置写入器以服务下一个交换。
func (w *Writer) Reset(out io.Writer, req *protocol.Request, resp *protocol.Response) {
	*w = Writer{out: out, req: req, resp: resp, opts: w.opts}
}

// Committed 报告标头是否已提交。
func (w *Writer) Committed() bool { return w.committed }

// Finished 报告响应是否已完成。
func (w *Writer) Finished() bool { return w.finished }

// KeepAlive 报告响应完成后连接是否可复用。提交前返回 false。
func (w *Writer) KeepAlive() bool { return w.keepAlive }

// Upgrade 报告响应是否携带 Connection: Upgrade，完成后应移交连接。
func (w *Writer) Upgrade() bool { return w.upgrade }

// BytesWritten 返回已写出的正文字节数（不含分块帧与标头）。
func (w *Writer) BytesWritten() int64 { return w.written }

// Write 写入正文，首次调用时提交标头。
//
// 超出 Content-Length 的部分被截断，并返回 errors.ErrBodyOverflow。
func (w *Writer) Write(p []byte) (int, error) {
	if w.finished {
		return 0, errors.ErrConnectionClosed
	}
	if !w.committed {
		if err := w.commit(true); err != nil {
			return 0, err
		}
	}
	return w.writeBody(p)
}

// WriteString 写入字符串正文。
func (w *Writer) WriteString(s string) (int, error) {
	return w.Write(bytesconv.S2b(s))
}

// Commit 显式提交标头，之后按流式正文分帧。
func (w *Writer) Commit() error {
	if w.committed {
		return nil
	}
	return w.commit(true)
}

// Finish 完成响应：未提交时连同缓冲正文一次写出，分块时写入终止块。
// 重复调用无副作用。
func (w *Writer) Finish() error {
	if w.finished {
		return nil
	}
	if !w.committed {
		if err := w.commit(false); err != nil {
			return err
		}
	}
	w.finished = true
	switch w.framing {
	case framingChunked:
		if !w.noBody {
			if err := ext.WriteLastChunk(w.out); err != nil {
				return err
			}
		}
	case framingFixed:
		if w.remaining > 0 && !w.noBody {
			// 正文不足，只能关闭连接让对端感知
			w.keepAlive = false
		}
	}
	return nil
}

func (w *Writer) commit(streaming bool) error {
	w.committed = true
	req, resp := w.req, w.resp
	status := resp.StatusCode()
	proto := req.Proto()

	w.noBody = req.IsHead() || consts.IsBodyless(status)

	if proto == consts.HTTP09 {
		// HTTP/0.9 响应没有状态行与标头
		w.framing = framingClose
		w.keepAlive = false
		return w.flushBuffered()
	}

	w.framing = w.decideFraming(streaming, proto, status)
	w.upgrade = resp.ConnectionUpgrade()
	w.keepAlive = !w.upgrade && w.computeKeepAlive(proto)

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = w.appendHead(buf.B, proto, status)
	if _, err := w.out.Write(buf.B); err != nil {
		return err
	}
	return w.flushBuffered()
}

func (w *Writer) decideFraming(streaming bool, proto string, status int) framing {
	h := &w.resp.Header
	if consts.IsBodyless(status) {
		return framingNone
	}
	if h.HasToken(consts.HeaderTransferEncoding, consts.ValueChunked) {
		if proto == consts.HTTP11 {
			return framingChunked
		}
		return framingClose
	}
	if v := h.Get(consts.HeaderContentLength); v != "" {
		if n, err := bytesconv.ParseUint(bytesconv.S2b(strings.TrimSpace(v))); err == nil {
			w.remaining = n
			return framingFixed
		}
	}
	if !streaming {
		w.remaining = len(w.resp.Body())
		return framingFixed
	}
	if proto == consts.HTTP11 {
		return framingChunked
	}
	return framingClose
}

func (w *Writer) computeKeepAlive(proto string) bool {
	if w.opts.DisableKeepalive || w.framing == framingClose {
		return false
	}
	if w.req.ConnectionClose() || w.resp.ConnectionClose() {
		return false
	}
	switch proto {
	case consts.HTTP11:
		return true
	case consts.HTTP10:
		return w.req.KeepAliveRequested()
	}
	return false
}

func (w *Writer) appendHead(dst []byte, proto string, status int) []byte {
	h := &w.resp.Header
	lineProto := consts.HTTP11
	if proto == consts.HTTP10 {
		lineProto = consts.HTTP10
	}
	dst = append(dst, consts.StatusLine(lineProto, status)...)

	if ct := h.Get(consts.HeaderContentType); ct != "" {
		dst = appendHeaderLine(dst, consts.HeaderContentType, ct)
	}
	if proto == consts.HTTP11 && !w.opts.NoDefaultDate && !h.Has(consts.HeaderDate) {
		dst = append(dst, consts.HeaderDate...)
		dst = append(dst, ": "...)
		dst = appendDate(dst)
		dst = append(dst, "\r\n"...)
	}
	h.VisitAll(func(key, value string) {
		switch {
		case strings.EqualFold(key, consts.HeaderContentType),
			strings.EqualFold(key, consts.HeaderConnection),
			strings.EqualFold(key, consts.HeaderTransferEncoding),
			strings.EqualFold(key, consts.HeaderContentLength):
			return
		}
		dst = appendHeaderLine(dst, key, value)
	})

	switch w.framing {
	case framingFixed:
		dst = append(dst, consts.HeaderContentLength...)
		dst = append(dst, ": "...)
		dst = bytesconv.AppendUint(dst, w.remaining)
		dst = append(dst, "\r\n"...)
	case framingChunked:
		dst = appendHeaderLine(dst, consts.HeaderTransferEncoding, consts.ValueChunked)
	}

	switch {
	case w.upgrade:
		dst = appendHeaderLine(dst, consts.HeaderConnection, consts.ValueUpgrade)
	case w.keepAlive:
		dst = appendHeaderLine(dst, consts.HeaderConnection, consts.ValueKeepAlive)
	default:
		dst = appendHeaderLine(dst, consts.HeaderConnection, consts.ValueClose)
	}

	if c := w.resp.SessionCookie(); c != nil {
		dst = append(dst, consts.HeaderSetCookie...)
		dst = append(dst, ": "...)
		dst = c.AppendBytes(dst)
		dst = append(dst, "\r\n"...)
	}
	for _, c := range w.resp.Cookies() {
		dst = append(dst, consts.HeaderSetCookie...)
		dst = append(dst, ": "...)
		dst = c.AppendBytes(dst)
		dst = append(dst, "\r\n"...)
	}
	if !h.Has(consts.HeaderServer) && w.opts.ServerName != "" {
		dst = appendHeaderLine(dst, consts.HeaderServer, w.opts.ServerName)
	}
	return append(dst, "\r\n"...)
}

func appendHeaderLine(dst []byte, key, value string) []byte {
	dst = append(dst, key...)
	dst = append(dst, ": "...)
	dst = append(dst, value...)
	return append(dst, "\r\n"...)
}

// flushBuffered 将提交前缓冲的正文作为正文首部写出。
func (w *Writer) flushBuffered() error {
	body := w.resp.Body()
	if len(body) == 0 {
		return nil
	}
	_, err := w.writeBody(body)
	w.resp.ResetBody()
	if errors.Is(err, errors.ErrBodyOverflow) {
		return nil
	}
	return err
}

func (w *Writer) writeBody(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if w.noBody {
		return len(p), nil
	}
	switch w.framing {
	case framingFixed:
		if w.remaining == 0 {
			return 0, errors.ErrBodyOverflow
		}
		var overflow error
		if len(p) > w.remaining {
			p = p[:w.remaining]
			overflow = errors.ErrBodyOverflow
		}
		n, err := w.out.Write(p)
		w.remaining -= n
		w.written += int64(n)
		if err != nil {
			return n, err
		}
		return n, overflow
	case framingChunked:
		if err := ext.WriteChunk(w.out, p); err != nil {
			return 0, err
		}
	default:
		if _, err := w.out.Write(p); err != nil {
			return 0, err
		}
	}
	w.written += int64(len(p))
	return len(p), nil
}
