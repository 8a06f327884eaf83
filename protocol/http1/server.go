package http1

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/favbox/breeze/app"
	"github.com/favbox/breeze/app/dispatch"
	"github.com/favbox/breeze/common/bytebuffer"
	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/common/hlog"
	"github.com/favbox/breeze/network"
	"github.com/favbox/breeze/protocol/consts"
	"github.com/favbox/breeze/protocol/http1/req"
	"github.com/favbox/breeze/protocol/http1/resp"
)

var continueResponse = []byte("HTTP/1.1 100 Continue\r\n\r\n")

// Option 表示 HTTP/1.1 服务器选项。
type Option struct {
	MaxRequestBodySize  int    // 最大请求正文大小
	MaxHeaderBytes      int    // 请求行与标头的最大字节数
	MaxHeaderCount      int    // 标头的最大数量
	MaxInMemoryFileSize int    // 多部分文件的内存上限
	DisableKeepalive    bool   // 是否禁用长连接
	NoDefaultDate       bool   // 是否不输出 Date 标头
	ServerName          string // 服务器名称，为空时不输出 Server 标头

	Sessions app.SessionStore // 会话存储，为空时不启用会话
}

// Server 表示 HTTP/1.1 服务器，其 NewProtocol 可作为传输器的协议工厂。
type Server struct {
	Option

	Handler    app.Handler
	Dispatcher dispatch.Submitter

	ctx      context.Context
	ctxPool  sync.Pool
	draining atomic.Bool
}

// NewServer 创建 HTTP/1.1 服务器。ctx 将传给每次处理器调用。
func NewServer(ctx context.Context, opt Option, h app.Handler, d dispatch.Submitter) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	if d == nil {
		d = dispatch.Inline{}
	}
	s := &Server{
		Option:     opt,
		Handler:    h,
		Dispatcher: d,
		ctx:        ctx,
	}
	s.ctxPool.New = func() any { return app.NewContext() }
	return s
}

// BeginDrain 使后续完成的响应都带上 Connection: close。
func (s *Server) BeginDrain() { s.draining.Store(true) }

// Draining 报告服务器是否处于排空状态。
func (s *Server) Draining() bool { return s.draining.Load() }

func (s *Server) limits() req.Limits {
	l := req.DefaultLimits()
	if s.MaxRequestBodySize > 0 {
		l.MaxBodySize = s.MaxRequestBodySize
	}
	if s.MaxHeaderBytes > 0 {
		l.MaxHeaderBytes = s.MaxHeaderBytes
	}
	if s.MaxHeaderCount > 0 {
		l.MaxHeaderCount = s.MaxHeaderCount
	}
	if s.MaxInMemoryFileSize > 0 {
		l.MaxInMemoryFileSize = s.MaxInMemoryFileSize
	}
	return l
}

// NewProtocol 为新连接创建 HTTP/1.1 协议实例。
func (s *Server) NewProtocol(c network.Conn) network.Protocol {
	rc := s.ctxPool.Get().(*app.RequestContext)
	sc := &serverConn{
		s:       s,
		conn:    c,
		rc:      rc,
		pending: new(bytebuffer.Buffer),
	}
	sc.parser = req.NewParser(&rc.Request, s.limits())
	sc.writer = resp.NewWriter(c, &rc.Request, &rc.Response, resp.Options{
		ServerName:       s.ServerName,
		NoDefaultDate:    s.NoDefaultDate,
		DisableKeepalive: s.DisableKeepalive,
	})
	return sc
}

// serverConn 驱动单个连接上的请求交换。
//
// 同一时刻至多一个交换在进行，busy 期间连接暂停读取，
// 已读到的后续请求字节暂存在 pending 中。
type serverConn struct {
	s    *Server
	conn network.Conn

	mu      sync.Mutex
	rc      *app.RequestContext
	parser  *req.Parser
	writer  *resp.Writer
	pending *bytebuffer.Buffer
	busy    bool
	closed  bool
}

func (sc *serverConn) OnRead(c network.Conn, b []byte) error {
	sc.mu.Lock()
	if sc.closed || sc.rc == nil {
		sc.mu.Unlock()
		return nil
	}
	if sc.busy || sc.pending.Len() > 0 {
		_, _ = sc.pending.Write(b)
		sc.mu.Unlock()
		return nil
	}
	if !sc.parser.Started() {
		sc.rc.SetStartTime(time.Now())
	}
	n, done, err := sc.advance(b)
	// 仅含前导空行时仍视为闲置
	if err != nil || sc.parser.Started() {
		c.SetIdle(false)
	}
	if err != nil {
		sc.busy = true
		sc.mu.Unlock()
		c.PauseRead()
		sc.dispatchError(err)
		return nil
	}
	if done {
		_, _ = sc.pending.Write(b[n:])
		sc.busy = true
		sc.mu.Unlock()
		c.PauseRead()
		sc.dispatch()
		return nil
	}
	sc.mu.Unlock()
	return nil
}

func (sc *serverConn) OnClose(_ network.Conn, err error) {
	sc.mu.Lock()
	sc.closed = true
	if !sc.busy {
		sc.releaseLocked()
	}
	sc.mu.Unlock()

	if err != nil && !hlog.IsSilentMode() && !errors.Is(err, errors.ErrConnectionClosed) && !errors.Is(err, errors.ErrIdleTimeout) {
		hlog.SystemLogger().Debugf("连接关闭: remote=%s, err=%v", sc.conn.RemoteAddr(), err)
	}
}

// advance 在持有 mu 时推进解析，必要时发送 100 Continue 中间响应。
func (sc *serverConn) advance(b []byte) (int, bool, error) {
	consumed := 0
	for {
		n, done, err := sc.parser.Feed(b[consumed:])
		consumed += n
		if err != nil {
			return consumed, false, err
		}
		if sc.parser.NeedContinue() {
			_, _ = sc.conn.Write(continueResponse)
			_ = sc.conn.Flush()
			sc.parser.AckContinue()
			continue
		}
		return consumed, done, nil
	}
}

// prepare 为已解析的请求准备上下文。
func (sc *serverConn) prepare() *app.RequestContext {
	rc := sc.rc
	rc.SetConn(sc.conn)
	rc.Request.SetRemoteAddr(sc.conn.RemoteAddr())
	if rc.StartTime().IsZero() {
		rc.SetStartTime(time.Now())
	}
	sc.writer.Reset(sc.conn, &rc.Request, &rc.Response)
	rc.SetWriter(sc.writer)
	rc.SetFinisher(sc.finish)
	rc.SetSessionStore(sc.s.Sessions)
	return rc
}

// dispatchError 对无法解析的请求直接响应错误并关闭连接。
func (sc *serverConn) dispatchError(err error) {
	rc := sc.prepare()
	if _, ok := errors.StatusCode(err); !ok {
		err = errors.NewHTTPClose(consts.StatusBadRequest, err)
	}
	rc.Finish(err)
}

// dispatch 将完整的请求交给分发器，队列已满时直接响应 503。
func (sc *serverConn) dispatch() {
	rc := sc.prepare()

	switch {
	case rc.Method() == consts.MethodTrace:
		rc.SetStatusCode(consts.StatusOK)
		rc.SetContentType(consts.MIMEMessageHTTP)
		rc.Response.SetBody(rc.Request.RawHead())
		rc.Finish(nil)
		return
	case rc.Method() == consts.MethodOptions && rc.Request.RequestURI() == "*":
		rc.SetStatusCode(consts.StatusOK)
		rc.Header(consts.HeaderAllow, consts.ValueAllowedMethod)
		rc.Finish(nil)
		return
	}

	if err := sc.s.Dispatcher.Submit(func() { sc.s.serve(rc) }); err != nil {
		hlog.SystemLogger().Warnf("请求被拒绝: %s %s, err=%v", rc.Method(), rc.Request.RequestURI(), err)
		rc.Finish(errors.NewHTTP(consts.StatusServiceUnavailable, err.Error()))
	}
}

// serve 在工作协程中运行处理器。
func (s *Server) serve(rc *app.RequestContext) {
	defer func() {
		if r := recover(); r != nil {
			hlog.SystemLogger().Errorf("处理器发生恐慌: %v\n%s", r, debug.Stack())
			rc.Finish(errors.NewHTTP(consts.StatusInternalServerError, fmt.Sprint(r)))
		}
	}()

	res, err := s.Handler.Handle(s.ctx, rc)
	switch {
	case err != nil:
		rc.Finish(err)
	case res == app.Continue:
		rc.Finish(errors.NewHTTP(consts.StatusNotFound, ""))
	case res == app.Done:
		rc.Finish(nil)
	}
}

// finish 完成当前交换：写出响应，然后关闭、移交或继续处理下一个请求。
func (sc *serverConn) finish(err error) {
	rc, w := sc.rc, sc.writer
	forceClose := false

	if err != nil {
		status, ok := errors.StatusCode(err)
		if !ok {
			status = consts.StatusInternalServerError
		}
		if status >= consts.StatusInternalServerError {
			hlog.SystemLogger().Errorf("请求处理出错: %s %s, err=%v", rc.Method(), rc.Request.RequestURI(), err)
		}
		if w.Committed() {
			forceClose = true
		} else {
			writeErrorPage(rc, status)
			if errors.MustClose(err) {
				rc.Response.SetConnectionClose()
			}
		}
	}
	if sc.s.draining.Load() && !w.Committed() {
		rc.Response.SetConnectionClose()
	}

	if ferr := w.Finish(); ferr != nil {
		if !errors.Is(ferr, errors.ErrConnectionClosed) {
			hlog.SystemLogger().Debugf("写出响应失败: %v", ferr)
		}
		forceClose = true
	}
	_ = sc.conn.Flush()
	sc.accessLog(rc, w)

	handOff := rc.HandOff()
	upgrade := w.Upgrade() && handOff != nil && !forceClose
	keepAlive := w.KeepAlive() && !forceClose && !sc.s.draining.Load()

	sc.mu.Lock()
	sc.busy = false
	if upgrade || !keepAlive || sc.closed {
		sc.closed = true
		sc.releaseLocked()
		sc.mu.Unlock()
		if upgrade {
			if herr := sc.conn.HandOff(handOff); herr != nil {
				_ = sc.conn.Close()
			}
			return
		}
		_ = sc.conn.Close()
		return
	}

	rc.Reset()
	sc.parser.Reset(&rc.Request)
	sc.resumeLocked()
}

// resumeLocked 继续解析暂存的字节；没有完整请求时恢复读取。调用时持有 mu，返回前释放。
func (sc *serverConn) resumeLocked() {
	if sc.pending.Len() > 0 {
		sc.rc.SetStartTime(time.Now())
		n, done, err := sc.advance(sc.pending.Bytes())
		sc.pending.Skip(n)
		if err != nil {
			sc.busy = true
			sc.mu.Unlock()
			sc.dispatchError(err)
			return
		}
		if done {
			sc.busy = true
			sc.mu.Unlock()
			sc.dispatch()
			return
		}
		sc.pending.Reset()
	}
	started := sc.parser.Started()
	if !started {
		sc.rc.SetStartTime(time.Time{})
	}
	sc.conn.SetIdle(!started)
	sc.mu.Unlock()
	if err := sc.conn.ResumeRead(); err != nil && !errors.Is(err, errors.ErrConnectionClosed) {
		hlog.SystemLogger().Debugf("恢复读取失败: %v", err)
	}
}

func (sc *serverConn) releaseLocked() {
	sc.parser.Abort()
	if sc.rc != nil {
		sc.rc.Reset()
		sc.s.ctxPool.Put(sc.rc)
		sc.rc = nil
	}
	sc.pending.Release()
}

func (sc *serverConn) accessLog(rc *app.RequestContext, w *resp.Writer) {
	hlog.AccessLogger().Infof("%s \"%s %s %s\" %d %d %s",
		remoteHost(rc), rc.Method(), rc.Request.RequestURI(), rc.Request.Proto(),
		rc.Response.StatusCode(), w.BytesWritten(), time.Since(rc.StartTime()))
}

func remoteHost(rc *app.RequestContext) string {
	if addr := rc.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "-"
}

// writeErrorPage 用最简 HTML 错误页替换尚未提交的响应。
func writeErrorPage(rc *app.RequestContext, status int) {
	cookies := rc.Response.Cookies()
	session := rc.Response.SessionCookie()
	rc.Response.Reset()
	for _, c := range cookies {
		rc.Response.SetCookie(c)
	}
	rc.Response.SetSessionCookie(session)

	title := strconv.Itoa(status) + " " + consts.StatusMessage(status)
	rc.Response.SetStatusCode(status)
	rc.Response.SetContentType(consts.MIMETextHTML)
	rc.Response.SetBodyString("<html><head><title>" + title + "</title></head><body><h1>" + title + "</h1></body></html>")
}
