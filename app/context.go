package app

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/common/hlog"
	"github.com/favbox/breeze/common/json"
	"github.com/favbox/breeze/network"
	"github.com/favbox/breeze/protocol"
	"github.com/favbox/breeze/protocol/consts"
	"github.com/favbox/breeze/protocol/http1/resp"
)

var zeroTCPAddr = &net.TCPAddr{IP: net.IPv4zero}

// RequestContext 表示一个请求交换的上下文：已解析的请求与正在构建的响应。
//
// 同一时刻只有一个协程持有上下文。处理器返回 Async 后，
// 持有权转交给负责调用 Finish 的协程。
type RequestContext struct {
	conn     network.Conn
	Request  protocol.Request
	Response protocol.Response

	// 是附加到所有使用该上下文的处理器/中间件的错误列表。
	Errors errors.ErrorChain

	writer    *resp.Writer
	finisher  func(err error)
	finished  atomic.Bool
	handOff   network.ProtocolFactory
	sessions  SessionStore
	session   *Session
	startTime time.Time

	mu   sync.RWMutex   // 上下文键值对的互斥保护锁
	Keys map[string]any // 上下文键值对
}

// NewContext 创建一个无请求/响应信息的纯粹上下文。
func NewContext() *RequestContext {
	return &RequestContext{}
}

// Reset 重置上下文以便复用。
func (ctx *RequestContext) Reset() {
	ctx.Request.Reset()
	ctx.Response.Reset()
	ctx.Errors = ctx.Errors[:0]
	ctx.conn = nil
	ctx.writer = nil
	ctx.finisher = nil
	ctx.finished.Store(false)
	ctx.handOff = nil
	ctx.session = nil
	ctx.startTime = time.Time{}

	ctx.mu.Lock()
	ctx.Keys = nil
	ctx.mu.Unlock()
}

// SetConn 设置交换所属的连接。
func (ctx *RequestContext) SetConn(c network.Conn) {
	ctx.conn = c
}

// GetConn 返回交换所属的连接。
func (ctx *RequestContext) GetConn() network.Conn {
	return ctx.conn
}

// SetWriter 设置响应写入器。
func (ctx *RequestContext) SetWriter(w *resp.Writer) {
	ctx.writer = w
}

// Writer 返回响应写入器，未绑定连接时为 nil。
func (ctx *RequestContext) Writer() *resp.Writer {
	return ctx.writer
}

// SetFinisher 设置交换完成时的回调，Finish 保证其至多执行一次。
func (ctx *RequestContext) SetFinisher(f func(err error)) {
	ctx.finisher = f
}

// Finish 完成交换：刷出响应并复用或关闭连接。err 非空时按错误生成响应。
//
// 返回 Async 的处理器必须在稍后调用它。重复调用无副作用。
func (ctx *RequestContext) Finish(err error) {
	if !ctx.finished.CompareAndSwap(false, true) {
		return
	}
	if ctx.finisher != nil {
		ctx.finisher(err)
	}
}

// Finished 报告交换是否已完成。
func (ctx *RequestContext) Finished() bool {
	return ctx.finished.Load()
}

// SetStartTime 设置交换开始的时间。
func (ctx *RequestContext) SetStartTime(t time.Time) {
	ctx.startTime = t
}

// StartTime 返回交换开始的时间。
func (ctx *RequestContext) StartTime() time.Time {
	return ctx.startTime
}

// SetHandOff 设置响应完成后接管连接的协议，需配合 Connection: Upgrade 响应使用。
func (ctx *RequestContext) SetHandOff(f network.ProtocolFactory) {
	ctx.handOff = f
}

// HandOff 返回接管连接的协议工厂。
func (ctx *RequestContext) HandOff() network.ProtocolFactory {
	return ctx.handOff
}

// RemoteAddr 返回当前请求的远程地址。
//
// 若为空默认 zeroTCPAddr（形如："0.0.0.0:0"）。
func (ctx *RequestContext) RemoteAddr() net.Addr {
	if addr := ctx.Request.RemoteAddr(); addr != nil {
		return addr
	}
	if ctx.conn != nil {
		if addr := ctx.conn.RemoteAddr(); addr != nil {
			return addr
		}
	}
	return zeroTCPAddr
}

// --- 请求读取 ---

func (ctx *RequestContext) Method() string { return ctx.Request.Method() }

func (ctx *RequestContext) Path() string { return ctx.Request.Path() }

func (ctx *RequestContext) Host() string { return ctx.Request.Host() }

func (ctx *RequestContext) URI() *protocol.URI { return ctx.Request.URI() }

func (ctx *RequestContext) IsHead() bool { return ctx.Request.IsHead() }

func (ctx *RequestContext) IsGet() bool { return ctx.Request.Method() == consts.MethodGet }

func (ctx *RequestContext) IsPost() bool { return ctx.Request.Method() == consts.MethodPost }

// GetHeader 返回请求头中给定键的第一个值。
func (ctx *RequestContext) GetHeader(key string) string {
	return ctx.Request.Header.Get(key)
}

// Cookie 返回请求中给定名称的 cookie 值。
func (ctx *RequestContext) Cookie(key string) string {
	return ctx.Request.Cookie(key)
}

// Body 返回解码后的请求正文。
func (ctx *RequestContext) Body() []byte {
	return ctx.Request.Body()
}

// QueryArgs 返回查询参数，首次访问时解析。
func (ctx *RequestContext) QueryArgs() *protocol.Args {
	return ctx.Request.QueryArgs()
}

// PostArgs 返回网址编码的 POST 表单参数，首次访问时解析。
func (ctx *RequestContext) PostArgs() *protocol.Args {
	return ctx.Request.PostArgs()
}

// Query 返回给定键的查询参数值，不存在时返回 ""。
func (ctx *RequestContext) Query(key string) string {
	value, _ := ctx.GetQuery(key)
	return value
}

// DefaultQuery 返回给定键的查询参数值，不存在时返回 defaultValue。
func (ctx *RequestContext) DefaultQuery(key, defaultValue string) string {
	if value, ok := ctx.GetQuery(key); ok {
		return value
	}
	return defaultValue
}

// GetQuery 返回给定键的查询参数值及其是否存在。
func (ctx *RequestContext) GetQuery(key string) (string, bool) {
	return ctx.QueryArgs().PeekExists(key)
}

// PostForm 返回网址编码表单或多部分表单中给定键的值，不存在时返回 ""。
func (ctx *RequestContext) PostForm(key string) string {
	value, _ := ctx.GetPostForm(key)
	return value
}

// GetPostForm 类似 PostForm(key)，同时返回键是否存在。
func (ctx *RequestContext) GetPostForm(key string) (string, bool) {
	if v, exists := ctx.PostArgs().PeekExists(key); exists {
		return v, exists
	}
	if mf, err := ctx.Request.MultipartForm(); err == nil {
		if vs := mf.Value[key]; len(vs) > 0 {
			return vs[0], true
		}
	}
	return "", false
}

// FormValue 依次在查询参数、POST 表单与多部分表单中查找给定键的值。
func (ctx *RequestContext) FormValue(key string) string {
	return ctx.Request.FormValue(key)
}

// MultipartForm 返回请求的多部分表单。
func (ctx *RequestContext) MultipartForm() (*protocol.MultipartForm, error) {
	return ctx.Request.MultipartForm()
}

// FormFile 返回给定表单键的第一个上传文件。
func (ctx *RequestContext) FormFile(name string) (*protocol.FileHeader, error) {
	mf, err := ctx.MultipartForm()
	if err != nil {
		return nil, err
	}
	fhs := mf.File[name]
	if len(fhs) == 0 {
		return nil, errors.NewPublicf("没有名为 %q 的上传文件", name)
	}
	return fhs[0], nil
}

// SaveUploadedFile 将上传文件保存到 dst。
func (ctx *RequestContext) SaveUploadedFile(file *protocol.FileHeader, dst string) error {
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	if err = os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}

// --- 响应写入 ---

// Committed 报告响应头是否已提交。提交后状态码与标头的修改将被忽略。
func (ctx *RequestContext) Committed() bool {
	return ctx.writer != nil && ctx.writer.Committed()
}

func (ctx *RequestContext) ignoreAfterCommit(what string) bool {
	if ctx.Committed() {
		hlog.SystemLogger().Debugf("响应已提交，忽略对 %s 的修改", what)
		return true
	}
	return false
}

// SetStatusCode 设置响应状态码。
func (ctx *RequestContext) SetStatusCode(statusCode int) {
	if ctx.ignoreAfterCommit("状态码") {
		return
	}
	ctx.Response.SetStatusCode(statusCode)
}

// SetContentType 设置响应的内容类型。
func (ctx *RequestContext) SetContentType(contentType string) {
	if ctx.ignoreAfterCommit(consts.HeaderContentType) {
		return
	}
	ctx.Response.SetContentType(contentType)
}

// Header 设置响应头。若值为 "" 则意为删除该响应头。
func (ctx *RequestContext) Header(key, value string) {
	if ctx.ignoreAfterCommit(key) {
		return
	}
	if value == "" {
		ctx.Response.Header.Del(key)
		return
	}
	ctx.Response.Header.Set(key, value)
}

// AddHeader 追加一个响应头。
func (ctx *RequestContext) AddHeader(key, value string) {
	if ctx.ignoreAfterCommit(key) {
		return
	}
	ctx.Response.Header.Add(key, value)
}

// SetCookie 追加一个 Set-Cookie。
func (ctx *RequestContext) SetCookie(c *protocol.Cookie) {
	if ctx.ignoreAfterCommit(consts.HeaderSetCookie) {
		return
	}
	ctx.Response.SetCookie(c)
}

// SetConnectionClose 要求响应后关闭连接。
func (ctx *RequestContext) SetConnectionClose() {
	if ctx.ignoreAfterCommit(consts.HeaderConnection) {
		return
	}
	ctx.Response.SetConnectionClose()
}

// Write 写入响应正文。绑定连接时首次写入即提交响应头，否则写入缓冲。
func (ctx *RequestContext) Write(p []byte) (int, error) {
	if ctx.writer == nil {
		ctx.Response.AppendBody(p)
		return len(p), nil
	}
	return ctx.writer.Write(p)
}

// WriteString 写入字符串响应正文。
func (ctx *RequestContext) WriteString(s string) (int, error) {
	if ctx.writer == nil {
		ctx.Response.AppendBodyString(s)
		return len(s), nil
	}
	return ctx.writer.WriteString(s)
}

// Flush 提交响应头并将已写入的数据推送给对端。
func (ctx *RequestContext) Flush() error {
	if ctx.writer == nil {
		return nil
	}
	if err := ctx.writer.Commit(); err != nil {
		return err
	}
	if ctx.conn != nil {
		return ctx.conn.Flush()
	}
	return nil
}

// Data 以给定状态码与内容类型设置缓冲的响应正文。
func (ctx *RequestContext) Data(code int, contentType string, data []byte) {
	ctx.SetStatusCode(code)
	ctx.SetContentType(contentType)
	if ctx.Committed() {
		_, _ = ctx.Write(data)
		return
	}
	ctx.Response.SetBody(data)
}

// String 以 text/plain 设置格式化字符串响应正文。
func (ctx *RequestContext) String(code int, format string, values ...any) {
	ctx.Data(code, consts.MIMETextPlain, fmt.Appendf(nil, format, values...))
}

// HTML 以 text/html 设置响应正文。
func (ctx *RequestContext) HTML(code int, html string) {
	ctx.Data(code, consts.MIMETextHTML, []byte(html))
}

// JSON 将 obj 编码为 JSON 设置为响应正文。
func (ctx *RequestContext) JSON(code int, obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	ctx.Data(code, consts.MIMEApplicationJSON, data)
	return nil
}

// Redirect 返回重定向响应。
func (ctx *RequestContext) Redirect(statusCode int, location string) {
	ctx.Header(consts.HeaderLocation, location)
	ctx.SetStatusCode(statusCode)
}

// --- 会话 ---

// SetSessionStore 设置会话存储，为空时不支持会话。
func (ctx *RequestContext) SetSessionStore(s SessionStore) {
	ctx.sessions = s
}

// Session 返回请求关联的会话。create 为真且会话不存在时新建。
//
// 访问过的会话会在响应中下发会话 cookie。
func (ctx *RequestContext) Session(create bool) *Session {
	if ctx.session != nil {
		return ctx.session
	}
	if ctx.sessions == nil {
		return nil
	}
	if id := ctx.Request.Cookie(consts.SessionCookieName); id != "" {
		ctx.session = ctx.sessions.Get(id)
	}
	if ctx.session == nil && create {
		ctx.session = ctx.sessions.Create()
	}
	if ctx.session != nil && !ctx.Committed() {
		ctx.Response.SetSessionCookie(&protocol.Cookie{
			Key:      consts.SessionCookieName,
			Value:    ctx.session.ID(),
			Path:     "/",
			HTTPOnly: true,
		})
	}
	return ctx.session
}

// --- 键值对 ---

// Error 将错误附加到当前上下文。
func (ctx *RequestContext) Error(err error) *errors.Error {
	if err == nil {
		panic("err 为空")
	}
	var parsedError *errors.Error
	if !errors.As(err, &parsedError) {
		parsedError = &errors.Error{Err: err, Type: errors.ErrorTypePrivate}
	}
	ctx.Errors = append(ctx.Errors, parsedError)
	return parsedError
}

// Set 设置给定的键值对。
func (ctx *RequestContext) Set(key string, value any) {
	ctx.mu.Lock()
	if ctx.Keys == nil {
		ctx.Keys = make(map[string]any)
	}
	ctx.Keys[key] = value
	ctx.mu.Unlock()
}

// Get 返回给定键的值，如：(value, true)。
// 若键不存在则返回 (nil, false)。
func (ctx *RequestContext) Get(key string) (value any, exists bool) {
	ctx.mu.RLock()
	value, exists = ctx.Keys[key]
	ctx.mu.RUnlock()
	return
}

// MustGet 返回给定键的值，若键不存则触发恐慌。
func (ctx *RequestContext) MustGet(key string) any {
	if value, exists := ctx.Get(key); exists {
		return value
	}
	panic("Key \"" + key + "\" 不存在")
}

// GetString 返回给定键关联值的字符串形式，当类型错误时返回 ""。
func (ctx *RequestContext) GetString(key string) (s string) {
	if val, ok := ctx.Get(key); ok && val != nil {
		s, _ = val.(string)
	}
	return
}

// GetInt 返回给定键关联值的整数形式，当类型错误时返回 0。
func (ctx *RequestContext) GetInt(key string) (i int) {
	if val, ok := ctx.Get(key); ok && val != nil {
		i, _ = val.(int)
	}
	return
}

// ForEachKey 遍历所有 Keys 键值对。
func (ctx *RequestContext) ForEachKey(fn func(k string, v any)) {
	ctx.mu.RLock()
	for key, val := range ctx.Keys {
		fn(key, val)
	}
	ctx.mu.RUnlock()
}
