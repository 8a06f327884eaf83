package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTimeout          = errors.New("timeout")
	ErrIdleTimeout      = errors.New("idle timeout")
	ErrConnectionClosed = errors.New("连接已关闭")
	ErrNeedMore         = errors.New("需要更多数据")
	ErrBodyTooLarge     = errors.New("正文大小超过给定限制")
	ErrHeaderTooLarge   = errors.New("标头大小超过给定限制")
	ErrTooManyHeaders   = errors.New("标头数量超过给定限制")
	ErrBodyOverflow     = errors.New("写入的正文超出 Content-Length")
	ErrRejected         = errors.New("分发队列已满")
	ErrDispatcherClosed = errors.New("分发器已关闭")
	ErrCommitted        = errors.New("响应已提交")
	ErrNoMultipartForm  = errors.New("请求的内容类型没有多部分表单数据")
	ErrShortConnection  = errors.New("短链接")
	ErrHandedOff        = errors.New("连接已移交给其他协议")
)

type ErrorType uint64

// Error 表示一个带有错误类型和元信息的错误规范。
type Error struct {
	Err  error
	Type ErrorType
	Meta any
}

// 返回错误的消息字符串。
func (msg *Error) Error() string {
	return msg.Err.Error()
}

func (msg *Error) Unwrap() error {
	return msg.Err
}

func (msg *Error) IsType(flags ErrorType) bool {
	return (msg.Type & flags) > 0
}

func (msg *Error) SetType(flags ErrorType) *Error {
	msg.Type = flags
	return msg
}

func (msg *Error) SetMeta(data any) *Error {
	msg.Meta = data
	return msg
}

const (
	// ErrorTypeProtocol 用于请求解析期间发现的协议错误。
	ErrorTypeProtocol ErrorType = 1 << iota
	// ErrorTypeTransport 用于套接字读写错误。
	ErrorTypeTransport
	// ErrorTypePrivate 表示一个私有的错误。
	ErrorTypePrivate
	// ErrorTypePublic 表示一个公开的错误。
	ErrorTypePublic
	// ErrorTypeAny 表示任何其他错误。
	ErrorTypeAny
)

var _ error = (*Error)(nil)

// New 新建一个指定错误和错误类型及元数据的自定义错误。
func New(err error, t ErrorType, meta any) *Error {
	return &Error{
		Err:  err,
		Type: t,
		Meta: meta,
	}
}

func NewPublic(err string) *Error {
	return New(errors.New(err), ErrorTypePublic, nil)
}

func NewPrivate(err string) *Error {
	return New(errors.New(err), ErrorTypePrivate, nil)
}

func NewPublicf(format string, v ...any) *Error {
	return New(fmt.Errorf(format, v...), ErrorTypePublic, nil)
}

func NewPrivatef(format string, v ...any) *Error {
	return New(fmt.Errorf(format, v...), ErrorTypePrivate, nil)
}

// HTTPError 是携带 HTTP 状态码的错误。
//
// 协议解析错误和业务处理器都可返回它，响应将使用其状态码而非 500。
type HTTPError struct {
	Status int
	Err    error
	// Close 为真时，响应后必须关闭连接。
	Close bool
}

func (e *HTTPError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("http status %d", e.Status)
	}
	return fmt.Sprintf("http status %d: %s", e.Status, e.Err.Error())
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// NewHTTP 新建一个给定状态码的 HTTP 错误。
func NewHTTP(status int, msg string) *HTTPError {
	var err error
	if msg != "" {
		err = errors.New(msg)
	}
	return &HTTPError{Status: status, Err: err}
}

// NewHTTPClose 新建一个给定状态码、且响应后须关闭连接的 HTTP 错误。
func NewHTTPClose(status int, err error) *HTTPError {
	return &HTTPError{Status: status, Err: err, Close: true}
}

// StatusCode 返回错误链中携带的 HTTP 状态码。
func StatusCode(err error) (int, bool) {
	var he *HTTPError
	if errors.As(err, &he) && he.Status > 0 {
		return he.Status, true
	}
	return 0, false
}

// MustClose 报告该错误是否要求关闭连接。
func MustClose(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Close
	}
	return false
}

// Is 等效 errors.Is，方便调用方不必同时导入两个 errors 包。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As 等效 errors.As。
func As(err error, target any) bool {
	return errors.As(err, target)
}

// ErrorChain 错误链。
type ErrorChain []*Error

func (c ErrorChain) String() string {
	if len(c) == 0 {
		return ""
	}
	var buf strings.Builder
	for i, msg := range c {
		fmt.Fprintf(&buf, "Error #%02d: %s\n", i+1, msg.Err)
		if msg.Meta != nil {
			fmt.Fprintf(&buf, "     Meta: %v\n", msg.Meta)
		}
	}
	return buf.String()
}

// Errors 返回错误的消息字符串切片。
func (c ErrorChain) Errors() []string {
	if len(c) == 0 {
		return nil
	}
	errorStrings := make([]string, len(c))
	for i, err := range c {
		errorStrings[i] = err.Error()
	}
	return errorStrings
}

// Last 返回错误链中最后一个错误。
func (c ErrorChain) Last() *Error {
	if length := len(c); length > 0 {
		return c[length-1]
	}
	return nil
}
