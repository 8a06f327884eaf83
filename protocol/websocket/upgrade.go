// Package websocket 实现 RFC 6455 握手以及握手后接管连接的帧协议。
package websocket

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"strings"

	"github.com/favbox/breeze/app"
	"github.com/favbox/breeze/app/dispatch"
	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/network"
	"github.com/favbox/breeze/protocol/consts"
)

const (
	acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	version    = "13"

	// DefaultMaxMessageSize 是默认的消息大小上限。
	DefaultMaxMessageSize = 1 << 20
)

// Upgrader 是将 HTTP 请求升级为 WebSocket 连接的处理器。
type Upgrader struct {
	Handler Handler
	// Dispatcher 执行消息回调，为空时在读协程内同步执行。
	Dispatcher dispatch.Submitter
	// MaxMessageSize 是单条消息（含全部分片）的上限，超出以 1009 关闭。
	MaxMessageSize int
	// Subprotocols 是服务端支持的子协议，按客户端给出的顺序选取第一个匹配项。
	Subprotocols []string
}

// New 创建一个升级处理器。
func New(h Handler, d dispatch.Submitter) *Upgrader {
	return &Upgrader{Handler: h, Dispatcher: d, MaxMessageSize: DefaultMaxMessageSize}
}

// IsUpgradeRequest 报告请求是否要求升级到 WebSocket。
func IsUpgradeRequest(rc *app.RequestContext) bool {
	h := &rc.Request.Header
	return h.HasToken(consts.HeaderConnection, consts.ValueUpgrade) &&
		h.HasToken(consts.HeaderUpgrade, consts.ValueWebSocket)
}

// AcceptKey 计算 Sec-WebSocket-Accept。
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Handle 校验握手并应答 101，响应刷出后连接移交给帧协议。
//
// 非升级请求返回 Continue，交给后续处理器。
func (u *Upgrader) Handle(_ context.Context, rc *app.RequestContext) (app.Result, error) {
	if !IsUpgradeRequest(rc) {
		return app.Continue, nil
	}
	if rc.Method() != consts.MethodGet || !rc.Request.IsHTTP11() {
		return app.Done, errors.NewHTTP(consts.StatusBadRequest, "WebSocket 握手须为 HTTP/1.1 GET")
	}
	if v := strings.TrimSpace(rc.GetHeader(consts.HeaderSecWebSocketVersion)); v != version {
		rc.SetStatusCode(consts.StatusUpgradeRequired)
		rc.Header(consts.HeaderSecWebSocketVersion, version)
		return app.Done, nil
	}
	key := strings.TrimSpace(rc.GetHeader(consts.HeaderSecWebSocketKey))
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return app.Done, errors.NewHTTP(consts.StatusBadRequest, "非法的 Sec-WebSocket-Key")
	}

	subprotocol := u.selectSubprotocol(rc)
	rc.SetStatusCode(consts.StatusSwitchingProtocols)
	rc.Header(consts.HeaderUpgrade, consts.ValueWebSocket)
	rc.Header(consts.HeaderConnection, consts.ValueUpgrade)
	rc.Header(consts.HeaderSecWebSocketAccept, AcceptKey(key))
	if subprotocol != "" {
		rc.Header(consts.HeaderSecWebSocketProtocol, subprotocol)
	}

	path := rc.Path()
	rc.SetHandOff(func(nc network.Conn) network.Protocol {
		return newConn(nc, u, path, subprotocol)
	})
	return app.Done, nil
}

func (u *Upgrader) selectSubprotocol(rc *app.RequestContext) string {
	if len(u.Subprotocols) == 0 {
		return ""
	}
	for _, v := range rc.Request.Header.Values(consts.HeaderSecWebSocketProtocol) {
		for v != "" {
			var p string
			p, v, _ = strings.Cut(v, ",")
			p = strings.TrimSpace(p)
			for _, s := range u.Subprotocols {
				if p == s {
					return p
				}
			}
		}
	}
	return ""
}
