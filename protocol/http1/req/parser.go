package req

import (
	"io"
	"mime"
	"strings"

	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/internal/bytesconv"
	"github.com/favbox/breeze/protocol"
	"github.com/favbox/breeze/protocol/consts"
	"github.com/favbox/breeze/protocol/http1/ext"
)

// Limits 约束单个请求占用的内存。
type Limits struct {
	MaxBodySize         int // 正文上限，超出响应 413
	MaxHeaderBytes      int // 请求行与标头的上限，超出响应 431
	MaxHeaderCount      int // 标头数量上限，超出响应 431
	MaxInMemoryFileSize int // 多部分文件的内存上限，超出写入临时文件
}

// DefaultLimits 返回默认限制。
func DefaultLimits() Limits {
	return Limits{
		MaxBodySize:         consts.DefaultMaxRequestBodySize,
		MaxHeaderBytes:      consts.DefaultMaxHeaderBytes,
		MaxHeaderCount:      consts.DefaultMaxHeaderCount,
		MaxInMemoryFileSize: consts.DefaultMaxInMemoryFileSize,
	}
}

// Parser 是 HTTP 请求的增量解析器。
//
// 每次 Feed 可喂入任意长度的片段，解析结果与片段边界无关。
// 请求行与标头按状态转移表逐字节推进，正文按块消耗。
type Parser struct {
	limits Limits
	req    *protocol.Request

	state     State
	tok       []byte
	skipLF    bool
	headBytes int
	headers   int
	err       error

	// 尚未提交的标头，续行时追加
	pendingName  string
	pendingValue []byte
	hasPending   bool

	remaining      int
	chunk          ext.ChunkDecoder
	multipart      *ext.MultipartDecoder
	expectContinue bool
	needContinue   bool
}

// NewParser 创建一个解析到 r 的解析器。
func NewParser(r *protocol.Request, limits Limits) *Parser {
	p := &Parser{limits: limits}
	p.Reset(r)
	return p
}

// Reset 重置解析器，准备解析下一个请求到 r。
func (p *Parser) Reset(r *protocol.Request) {
	if p.multipart != nil {
		p.multipart.Abort()
	}
	*p = Parser{
		limits:       p.limits,
		req:          r,
		tok:          p.tok[:0],
		pendingValue: p.pendingValue[:0],
	}
	r.SetContentLength(-1)
}

// Abort 放弃正在解析的请求并删除已落盘的上传文件，之后的 Feed 均返回 ErrConnectionClosed。
func (p *Parser) Abort() {
	p.fail(errors.ErrConnectionClosed)
}

// State 返回当前状态。
func (p *Parser) State() State { return p.state }

// Started 报告是否已收到当前请求的非空行字节。
func (p *Parser) Started() bool { return p.state != StateStart }

// Done 报告请求是否已完整。
func (p *Parser) Done() bool { return p.state == StateDone }

// NeedContinue 报告是否应先发送 100 Continue 再继续读取正文。
func (p *Parser) NeedContinue() bool { return p.needContinue }

// AckContinue 确认 100 Continue 已发出，之后 Feed 继续消耗正文。
func (p *Parser) AckContinue() { p.needContinue = false }

// ExpectContinue 报告请求是否携带 Expect: 100-continue。
func (p *Parser) ExpectContinue() bool { return p.expectContinue }

// Feed 喂入一个片段。
//
// 返回消耗的字节数、请求是否已完整，以及解析错误。请求完整后剩余的字节不会被消耗，
// 调用方须保留它们用于下一个请求。错误均为 *errors.HTTPError，且要求关闭连接。
// 需要发送 100 Continue 时会在标头结束处提前返回，见 NeedContinue。
func (p *Parser) Feed(b []byte) (int, bool, error) {
	if p.err != nil {
		return 0, false, p.err
	}
	if p.state == StateDone {
		return 0, true, nil
	}
	if p.needContinue {
		return 0, false, nil
	}

	i := 0
	for i < len(b) {
		if p.skipLF {
			p.skipLF = false
			if b[i] == '\n' {
				i++
				continue
			}
		}

		switch p.state {
		case StateBodyContent, StateBodyMultipart:
			n := len(b) - i
			if n > p.remaining {
				n = p.remaining
			}
			if p.state == StateBodyContent {
				p.req.AppendBody(b[i : i+n])
			} else if _, err := p.multipart.Write(b[i : i+n]); err != nil {
				return i, false, p.fail(err)
			}
			i += n
			p.remaining -= n
			if p.remaining == 0 {
				if err := p.finishBody(); err != nil {
					return i, false, p.fail(err)
				}
				return i, true, nil
			}

		case StateBodyChunked:
			n, done, err := p.chunk.Decode(b[i:], p.bodySink())
			i += n
			if err != nil {
				return i, false, p.fail(err)
			}
			if done {
				if err = p.finishBody(); err != nil {
					return i, false, p.fail(err)
				}
				return i, true, nil
			}

		default:
			c := b[i]
			i++
			done, err := p.stepLine(c)
			if err != nil {
				return i, false, p.fail(err)
			}
			if done || p.needContinue {
				// 行结束的 LF 属于本次消耗
				if p.skipLF && i < len(b) && b[i] == '\n' {
					p.skipLF = false
					i++
				}
				return i, done, nil
			}
		}
	}
	return i, false, nil
}

func (p *Parser) fail(err error) error {
	p.err = err
	if p.multipart != nil {
		p.multipart.Abort()
		p.multipart = nil
	}
	return err
}

// stepLine 按转移表处理行阶段的一个字节，返回请求是否已完整。
func (p *Parser) stepLine(c byte) (bool, error) {
	cls := byteClasses[c]
	tr := transitions[p.state][cls]

	if p.state != StateStart || tr.act != actSkip {
		p.headBytes++
		if p.limits.MaxHeaderBytes > 0 && p.headBytes > p.limits.MaxHeaderBytes {
			return false, errors.NewHTTPClose(consts.StatusRequestHeaderFieldsTooLarge, errors.ErrHeaderTooLarge)
		}
		if cls == classCR || cls == classLF {
			p.req.AppendRawHead(crlf)
		} else {
			p.req.AppendRawHead([]byte{c})
		}
	}
	if cls == classCR {
		p.skipLF = true
	}

	switch tr.act {
	case actSkip:
	case actAppend:
		if p.state == StateHeaderValue && len(p.tok) == 0 && cls == classSpace {
			// 冒号后的前导空白
			break
		}
		p.tok = append(p.tok, c)
	case actMethod:
		p.req.SetMethod(string(p.tok))
		p.tok = p.tok[:0]
	case actURI:
		p.req.SetRequestURI(string(p.tok))
		p.tok = p.tok[:0]
	case actURIEnd09:
		p.req.SetRequestURI(string(p.tok))
		p.tok = p.tok[:0]
		return p.finish09(), nil
	case actEnd09:
		return p.finish09(), nil
	case actVersion:
		done, err := p.endVersion()
		if err != nil || done {
			return done, err
		}
	case actName:
		p.pendingName = string(p.tok)
		p.tok = p.tok[:0]
	case actValue:
		p.pendingValue = append(p.pendingValue[:0], trimRightSpace(p.tok)...)
		p.hasPending = true
		p.tok = p.tok[:0]
	case actFold:
		if !p.hasPending {
			return false, ext.ProtocolError(consts.StatusBadRequest, "首个标头不能是续行")
		}
		p.tok = append(p.tok[:0], p.pendingValue...)
		p.tok = append(p.tok, ' ')
		p.hasPending = false
		p.state = StateHeaderValue
		return false, nil
	case actHeadEnd:
		return p.finishHead()
	case actBadRequest:
		return false, ext.ProtocolError(consts.StatusBadRequest, "%s 阶段出现非法字符 %q", p.state, c)
	}

	if tr.act != actHeadEnd {
		if p.state == StateHeaderLine && tr.next == StateHeaderName {
			if err := p.commitPending(); err != nil {
				return false, err
			}
		}
		p.state = tr.next
	}
	return false, nil
}

func (p *Parser) finish09() bool {
	p.req.SetProto(consts.HTTP09)
	p.state = StateDone
	return true
}

func (p *Parser) endVersion() (bool, error) {
	v := string(p.tok)
	p.tok = p.tok[:0]
	switch v {
	case consts.HTTP11, consts.HTTP10:
		p.req.SetProto(v)
		return false, nil
	case consts.HTTP09:
		return p.finish09(), nil
	}
	if isHTTPVersion(v) {
		return false, ext.ProtocolError(consts.StatusHTTPVersionNotSupported, "不支持的协议版本 %q", v)
	}
	return false, ext.ProtocolError(consts.StatusBadRequest, "非法的协议版本 %q", v)
}

// isHTTPVersion 报告 v 是否形如 HTTP/x.y。
func isHTTPVersion(v string) bool {
	rest, ok := strings.CutPrefix(v, "HTTP/")
	if !ok {
		return false
	}
	major, minor, ok := strings.Cut(rest, ".")
	if !ok {
		return false
	}
	_, err1 := bytesconv.ParseUint(bytesconv.S2b(major))
	_, err2 := bytesconv.ParseUint(bytesconv.S2b(minor))
	return err1 == nil && err2 == nil
}

func (p *Parser) commitPending() error {
	if !p.hasPending {
		return nil
	}
	p.hasPending = false
	p.headers++
	if p.limits.MaxHeaderCount > 0 && p.headers > p.limits.MaxHeaderCount {
		return errors.NewHTTPClose(consts.StatusRequestHeaderFieldsTooLarge, errors.ErrTooManyHeaders)
	}
	p.req.Header.Add(p.pendingName, string(p.pendingValue))
	return nil
}

// finishHead 根据标头决定正文的读取方式。
func (p *Parser) finishHead() (bool, error) {
	if err := p.commitPending(); err != nil {
		return false, err
	}
	r := p.req
	h := &r.Header

	if expect := h.Get(consts.HeaderExpect); expect != "" {
		if !strings.EqualFold(strings.TrimSpace(expect), consts.Value100Continue) {
			return false, ext.ProtocolError(consts.StatusExpectationFailed, "不支持的 Expect: %q", expect)
		}
		p.expectContinue = true
	}

	contentLength := -1
	chunked := false
	if h.Has(consts.HeaderTransferEncoding) {
		if !h.HasToken(consts.HeaderTransferEncoding, consts.ValueChunked) {
			return false, ext.ProtocolError(consts.StatusNotImplemented, "不支持的传输编码 %q", h.Get(consts.HeaderTransferEncoding))
		}
		chunked = true
	} else if vs := h.Values(consts.HeaderContentLength); len(vs) > 0 {
		n, err := parseContentLength(vs)
		if err != nil {
			return false, err
		}
		contentLength = n
	}

	if !chunked && contentLength < 0 && r.Proto() == consts.HTTP10 {
		if m := r.Method(); m == consts.MethodPost || m == consts.MethodPut {
			return false, ext.ProtocolError(consts.StatusBadRequest, "HTTP/1.0 %s 请求缺少 Content-Length", m)
		}
	}
	if contentLength > 0 && p.limits.MaxBodySize > 0 && contentLength > p.limits.MaxBodySize {
		return false, errors.NewHTTPClose(consts.StatusRequestEntityTooLarge, errors.ErrBodyTooLarge)
	}

	r.SetChunked(chunked)
	if contentLength >= 0 {
		r.SetContentLength(contentLength)
	}
	hasBody := chunked || contentLength > 0
	if !hasBody {
		p.expectContinue = false
		p.state = StateDone
		return true, nil
	}

	if ct := h.Get(consts.HeaderContentType); strings.HasPrefix(strings.ToLower(ct), consts.MIMEMultipartPrefix) {
		_, params, err := mime.ParseMediaType(ct)
		if err != nil || params["boundary"] == "" {
			return false, ext.ProtocolError(consts.StatusBadRequest, "多部分请求缺少分隔符: %q", ct)
		}
		p.multipart = ext.NewMultipartDecoder(params["boundary"], p.limits.MaxInMemoryFileSize)
	}

	switch {
	case chunked:
		p.chunk.Reset(p.limits.MaxBodySize)
		p.state = StateBodyChunked
	case p.multipart != nil:
		p.remaining = contentLength
		p.state = StateBodyMultipart
	default:
		p.remaining = contentLength
		p.state = StateBodyContent
	}
	p.needContinue = p.expectContinue
	return false, nil
}

// parseContentLength 解析 Content-Length，多个取值须一致。负数视为无正文。
func parseContentLength(vs []string) (int, error) {
	n := -1
	for i, v := range vs {
		v = strings.TrimSpace(v)
		var m int
		if rest, neg := strings.CutPrefix(v, "-"); neg {
			if _, err := bytesconv.ParseUint(bytesconv.S2b(rest)); err != nil {
				return -1, ext.ProtocolError(consts.StatusBadRequest, "非法的 Content-Length %q", v)
			}
			m = 0
		} else {
			var err error
			if m, err = bytesconv.ParseUint(bytesconv.S2b(v)); err != nil {
				return -1, ext.ProtocolError(consts.StatusBadRequest, "非法的 Content-Length %q", v)
			}
		}
		if i > 0 && m != n {
			return -1, ext.ProtocolError(consts.StatusBadRequest, "Content-Length 取值冲突")
		}
		n = m
	}
	return n, nil
}

func (p *Parser) finishBody() error {
	p.state = StateDone
	if p.multipart == nil {
		return nil
	}
	form, err := p.multipart.Close()
	p.multipart = nil
	if err != nil {
		return err
	}
	p.req.SetMultipartForm(form)
	return nil
}

type bodyWriter struct {
	req *protocol.Request
}

func (w bodyWriter) Write(b []byte) (int, error) {
	w.req.AppendBody(b)
	return len(b), nil
}

func (p *Parser) bodySink() io.Writer {
	if p.multipart != nil {
		return p.multipart
	}
	return bodyWriter{req: p.req}
}

var crlf = []byte("\r\n")

func trimRightSpace(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}
