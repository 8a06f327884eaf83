package standard

import (
	"testing"

	"github.com/favbox/breeze/network/nettest"
)

func TestTransport(t *testing.T) {
	nettest.Run(t, NewTransporter)
}
