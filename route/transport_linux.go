//go:build linux

package route

import (
	"github.com/favbox/breeze/common/config"
	"github.com/favbox/breeze/network"
	"github.com/favbox/breeze/network/reactor"
)

// 默认网络传输器：linux 上使用基于 epoll 的反应器。
func defaultTransporter(opts *config.Options) network.Transporter {
	return reactor.NewTransporter(opts)
}
