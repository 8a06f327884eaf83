package app

import (
	"context"
)

// Result 是处理器的处理结果。
type Result uint8

const (
	// Done 表示响应已填充完毕，可以刷出。
	Done Result = iota
	// Async 表示响应将由其他协程稍后调用 RequestContext.Finish 完成，
	// 在此之前连接不会复用，也不会自动刷出。
	Async
	// Continue 表示当前处理器未处理该请求，交由处理链中的下一个处理器。
	Continue
)

func (r Result) String() string {
	switch r {
	case Done:
		return "Done"
	case Async:
		return "Async"
	case Continue:
		return "Continue"
	}
	return "Unknown"
}

// Handler 处理一个完整解析的交换。
//
// 返回的错误若携带 errors.HTTPError 则使用其状态码，否则响应 500。
type Handler interface {
	Handle(ctx context.Context, rc *RequestContext) (Result, error)
}

// HandlerFunc 是函数形式的 Handler。
type HandlerFunc func(ctx context.Context, rc *RequestContext) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, rc *RequestContext) (Result, error) {
	return f(ctx, rc)
}

// Chain 是一组按序尝试的处理器，第一个不返回 Continue 的结果即为整条链的结果。
type Chain []Handler

func (c Chain) Handle(ctx context.Context, rc *RequestContext) (Result, error) {
	for _, h := range c {
		res, err := h.Handle(ctx, rc)
		if err != nil || res != Continue {
			return res, err
		}
	}
	return Continue, nil
}

// Middleware 包装一个处理器。
type Middleware func(next Handler) Handler
