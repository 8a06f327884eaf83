//go:build !linux

package route

import (
	"github.com/favbox/breeze/common/config"
	"github.com/favbox/breeze/network"
	"github.com/favbox/breeze/network/standard"
)

func defaultTransporter(opts *config.Options) network.Transporter {
	return standard.NewTransporter(opts)
}
