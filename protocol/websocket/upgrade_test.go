package websocket

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"testing"

	"github.com/favbox/breeze/app"
	"github.com/favbox/breeze/app/dispatch"
	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/common/mock"
	"github.com/favbox/breeze/protocol/http1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const handshake = "GET /chat HTTP/1.1\r\n" +
	"Host: server.example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Protocol: chat, superchat\r\n" +
	"Sec-WebSocket-Version: 13\r\n\r\n"

type rejectAll struct{}

func (rejectAll) Submit(dispatch.Task) error { return errors.ErrRejected }

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) OnOpen(c *Conn) { r.add("open " + c.Path()) }

func (r *recorder) OnMessage(c *Conn, m Message) {
	r.add(m.Op.String() + " " + string(m.Data))
	_ = c.WriteMessage(m.Op, m.Data)
}

func (r *recorder) OnClose(*Conn, error) { r.add("close") }

func upgraded(t *testing.T, u *Upgrader) *mock.Conn {
	t.Helper()
	s := http1.NewServer(context.Background(), http1.Option{}, u, nil)
	c := mock.NewConn(s.NewProtocol)
	c.SendString(handshake)
	out := c.Take()
	require.True(t, strings.HasPrefix(out, "HTTP/1.1 101 Switching Protocols\r\n"), out)
	assert.Contains(t, out, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n")
	assert.Contains(t, out, "Connection: Upgrade\r\n")
	require.Equal(t, 1, c.HandOffs())
	return c
}

func TestAcceptKey(t *testing.T) {
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestUpgradeEchoAndSubprotocol(t *testing.T) {
	r := &recorder{}
	u := New(r, dispatch.Inline{})
	u.Subprotocols = []string{"superchat"}
	s := http1.NewServer(context.Background(), http1.Option{}, u, nil)
	c := mock.NewConn(s.NewProtocol)
	c.SendString(handshake)
	assert.Contains(t, c.Take(), "Sec-WebSocket-Protocol: superchat\r\n")

	c.Send(AppendMaskedFrame(nil, OpText, false, testKey, []byte("Hel")))
	c.Send(AppendMaskedFrame(nil, OpPing, true, testKey, []byte("p")))
	assert.Equal(t, string(AppendFrame(nil, OpPong, true, []byte("p"))), c.Take())

	c.Send(AppendMaskedFrame(nil, OpContinuation, true, testKey, []byte("lo")))
	assert.Equal(t, string(AppendFrame(nil, OpText, true, []byte("Hello"))), c.Take())

	c.Send(AppendMaskedFrame(nil, OpClose, true, testKey, closePayload(CloseNormal, "")))
	out := c.Take()
	assert.Equal(t, []byte{0x88, 0x02}, []byte(out[:2]))
	assert.Equal(t, uint16(CloseNormal), binary.BigEndian.Uint16([]byte(out[2:4])))
	closed, _ := c.Closed()
	assert.True(t, closed)

	assert.Equal(t, []string{"open /chat", "text Hello", "close"}, r.events)
}

func TestUpgradeRejectsOtherVersion(t *testing.T) {
	s := http1.NewServer(context.Background(), http1.Option{}, New(&recorder{}, nil), nil)
	c := mock.NewConn(s.NewProtocol)
	c.SendString(strings.Replace(handshake, "Version: 13", "Version: 8", 1))

	out := c.Output()
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 426 Upgrade Required\r\n"), out)
	assert.Contains(t, out, "Sec-WebSocket-Version: 13\r\n")
	assert.Equal(t, 0, c.HandOffs())
}

func TestUpgradeBadKey(t *testing.T) {
	s := http1.NewServer(context.Background(), http1.Option{}, New(&recorder{}, nil), nil)
	c := mock.NewConn(s.NewProtocol)
	c.SendString(strings.Replace(handshake, "dGhlIHNhbXBsZSBub25jZQ==", "short", 1))
	assert.True(t, strings.HasPrefix(c.Output(), "HTTP/1.1 400 Bad Request\r\n"))
}

func TestNonUpgradeContinues(t *testing.T) {
	rc := app.NewContext()
	rc.Request.SetMethod("GET")
	res, err := New(&recorder{}, nil).Handle(context.Background(), rc)
	assert.NoError(t, err)
	assert.Equal(t, app.Continue, res)
}

func TestOversizedMessageCloses1009(t *testing.T) {
	u := New(&recorder{}, nil)
	u.MaxMessageSize = 8
	c := upgraded(t, u)

	c.Send(AppendMaskedFrame(nil, OpText, false, testKey, []byte("12345")))
	c.Send(AppendMaskedFrame(nil, OpContinuation, true, testKey, []byte("67890")))

	out := c.Take()
	require.Len(t, out, 4)
	assert.Equal(t, uint16(CloseMessageTooBig), binary.BigEndian.Uint16([]byte(out[2:4])))
}

func TestInvalidUTF8Closes1007(t *testing.T) {
	c := upgraded(t, New(&recorder{}, nil))
	c.Send(AppendMaskedFrame(nil, OpText, true, testKey, []byte{0xff, 0xfe}))
	out := c.Take()
	require.Len(t, out, 4)
	assert.Equal(t, uint16(CloseInvalidPayload), binary.BigEndian.Uint16([]byte(out[2:4])))
}

func TestRejectedMessageCloses1013(t *testing.T) {
	c := upgraded(t, New(HandlerFunc(func(*Conn, Message) {}), rejectAll{}))
	c.Send(AppendMaskedFrame(nil, OpBinary, true, testKey, []byte{1}))

	out := c.Take()
	require.Len(t, out, 4)
	assert.Equal(t, uint16(CloseTryAgainLater), binary.BigEndian.Uint16([]byte(out[2:4])))
	closed, _ := c.Closed()
	assert.True(t, closed)
}

func TestHandlerPanicCloses1011(t *testing.T) {
	c := upgraded(t, New(HandlerFunc(func(*Conn, Message) { panic("boom") }), nil))
	c.Send(AppendMaskedFrame(nil, OpText, true, testKey, []byte("x")))

	out := c.Take()
	require.Len(t, out, 4)
	assert.Equal(t, uint16(CloseInternalError), binary.BigEndian.Uint16([]byte(out[2:4])))
}

func TestMailboxOrderWithPool(t *testing.T) {
	d := dispatch.New(dispatch.Options{MinWorkers: 4, MaxWorkers: 8, QueueSize: 64})
	defer func() { _ = d.Shutdown(context.Background()) }()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	c := upgraded(t, New(HandlerFunc(func(_ *Conn, m Message) {
		mu.Lock()
		got = append(got, string(m.Data))
		n := len(got)
		mu.Unlock()
		if n == 50 {
			close(done)
		}
	}), d))

	var want []string
	for i := 0; i < 50; i++ {
		s := strings.Repeat("m", i+1)
		want = append(want, s)
		c.Send(AppendMaskedFrame(nil, OpText, true, testKey, []byte(s)))
	}
	<-done
	assert.Equal(t, want, got)
}
