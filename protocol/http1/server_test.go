package http1

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/favbox/breeze/app"
	"github.com/favbox/breeze/app/dispatch"
	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/common/mock"
	"github.com/favbox/breeze/network"
	"github.com/favbox/breeze/protocol/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rejectAll struct{}

func (rejectAll) Submit(dispatch.Task) error { return errors.ErrRejected }

func newTestConn(opt Option, h app.Handler, d dispatch.Submitter) (*Server, *mock.Conn) {
	s := NewServer(context.Background(), opt, h, d)
	return s, mock.NewConn(s.NewProtocol)
}

func echoPath(_ context.Context, rc *app.RequestContext) (app.Result, error) {
	rc.String(consts.StatusOK, "path=%s", rc.Path())
	return app.Done, nil
}

type parsedResponse struct {
	*http.Response
	body string
}

func readResponses(t *testing.T, out string) []parsedResponse {
	t.Helper()
	var res []parsedResponse
	br := bufio.NewReader(strings.NewReader(out))
	for {
		if _, err := br.Peek(1); err != nil {
			return res
		}
		r, err := http.ReadResponse(br, nil)
		require.NoError(t, err)
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		res = append(res, parsedResponse{Response: r, body: string(b)})
	}
}

func TestServerKeepAlivePipelined(t *testing.T) {
	_, c := newTestConn(Option{ServerName: "breeze"}, app.HandlerFunc(echoPath), nil)

	c.SendString("GET /a HTTP/1.1\r\nHost: x\r\n\r\nGET /b HTTP/1.1\r\nHost: x\r\n\r\n")

	res := readResponses(t, c.Output())
	require.Len(t, res, 2)
	assert.Equal(t, "path=/a", res[0].body)
	assert.Equal(t, "path=/b", res[1].body)
	assert.Equal(t, "breeze", res[0].Header.Get("Server"))
	assert.Equal(t, "keep-alive", res[1].Header.Get("Connection"))
	closed, _ := c.Closed()
	assert.False(t, closed)
	assert.True(t, c.Idle())
	assert.False(t, c.Paused())
}

func TestServerFragmentedRequest(t *testing.T) {
	_, c := newTestConn(Option{}, app.HandlerFunc(func(_ context.Context, rc *app.RequestContext) (app.Result, error) {
		rc.String(consts.StatusOK, "%s", rc.Body())
		return app.Done, nil
	}), nil)

	raw := "POST /p HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello"
	for i := 0; i < len(raw); i++ {
		c.SendString(raw[i : i+1])
		if i < len(raw)-1 {
			assert.False(t, c.Idle())
		}
	}

	res := readResponses(t, c.Output())
	require.Len(t, res, 1)
	assert.Equal(t, "hello", res[0].body)
}

func TestServerChunkedRequest(t *testing.T) {
	_, c := newTestConn(Option{}, app.HandlerFunc(func(_ context.Context, rc *app.RequestContext) (app.Result, error) {
		rc.String(consts.StatusOK, "%d:%s", len(rc.Body()), rc.Body())
		return app.Done, nil
	}), nil)

	c.SendString("POST /c HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n")
	c.Send(mock.CreateChunkedBody([]byte("abcdef")))

	res := readResponses(t, c.Output())
	require.Len(t, res, 1)
	assert.Equal(t, "6:abcdef", res[0].body)
}

func TestServerHTTP10PostWithoutLength(t *testing.T) {
	var called atomic.Int32
	h := app.HandlerFunc(func(_ context.Context, rc *app.RequestContext) (app.Result, error) {
		called.Add(1)
		rc.String(consts.StatusOK, "ok")
		return app.Done, nil
	})

	_, c := newTestConn(Option{}, h, nil)
	c.SendString("POST /p HTTP/1.0\r\n\r\n")
	res := readResponses(t, c.Output())
	require.Len(t, res, 1)
	assert.Equal(t, consts.StatusBadRequest, res[0].StatusCode)
	closed, _ := c.Closed()
	assert.True(t, closed)
	assert.Equal(t, int32(0), called.Load())

	_, c = newTestConn(Option{}, h, nil)
	c.SendString("POST /p HTTP/1.0\r\nContent-Length: 0\r\n\r\n")
	res = readResponses(t, c.Output())
	require.Len(t, res, 1)
	assert.Equal(t, consts.StatusOK, res[0].StatusCode)
	assert.Equal(t, int32(1), called.Load())
}

func TestServerRejectedAnswers503(t *testing.T) {
	var called atomic.Bool
	_, c := newTestConn(Option{}, app.HandlerFunc(func(context.Context, *app.RequestContext) (app.Result, error) {
		called.Store(true)
		return app.Done, nil
	}), rejectAll{})

	c.SendString("GET / HTTP/1.1\r\nHost: x\r\n\r\n")

	res := readResponses(t, c.Output())
	require.Len(t, res, 1)
	assert.Equal(t, consts.StatusServiceUnavailable, res[0].StatusCode)
	assert.Contains(t, res[0].body, "<h1>503 Service Unavailable</h1>")
	assert.False(t, called.Load())
	closed, _ := c.Closed()
	assert.False(t, closed)
}

func TestServerNotFoundAndPanic(t *testing.T) {
	_, c := newTestConn(Option{}, app.HandlerFunc(func(_ context.Context, rc *app.RequestContext) (app.Result, error) {
		if rc.Path() == "/boom" {
			panic("boom")
		}
		return app.Continue, nil
	}), nil)

	c.SendString("GET /missing HTTP/1.1\r\nHost: x\r\n\r\n")
	c.SendString("GET /boom HTTP/1.1\r\nHost: x\r\n\r\n")

	res := readResponses(t, c.Output())
	require.Len(t, res, 2)
	assert.Equal(t, consts.StatusNotFound, res[0].StatusCode)
	assert.Equal(t, "<html><head><title>404 Not Found</title></head><body><h1>404 Not Found</h1></body></html>", res[0].body)
	assert.Equal(t, "text/html; charset=utf-8", res[0].Header.Get("Content-Type"))
	assert.Equal(t, consts.StatusInternalServerError, res[1].StatusCode)
}

func TestServerHandlerHTTPError(t *testing.T) {
	_, c := newTestConn(Option{}, app.HandlerFunc(func(context.Context, *app.RequestContext) (app.Result, error) {
		return app.Done, errors.NewHTTP(consts.StatusForbidden, "no")
	}), nil)

	c.SendString("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	res := readResponses(t, c.Output())
	require.Len(t, res, 1)
	assert.Equal(t, consts.StatusForbidden, res[0].StatusCode)
}

func TestServerAsyncHoldsPipeline(t *testing.T) {
	var held atomic.Pointer[app.RequestContext]
	_, c := newTestConn(Option{}, app.HandlerFunc(func(_ context.Context, rc *app.RequestContext) (app.Result, error) {
		if rc.Path() == "/slow" {
			held.Store(rc)
			return app.Async, nil
		}
		rc.String(consts.StatusOK, "fast")
		return app.Done, nil
	}), nil)

	c.SendString("GET /slow HTTP/1.1\r\nHost: x\r\n\r\nGET /fast HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, "", c.Output())
	assert.True(t, c.Paused())

	rc := held.Load()
	require.NotNil(t, rc)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rc.String(consts.StatusOK, "slow")
		rc.Finish(nil)
		rc.Finish(errors.NewHTTP(500, "ignored"))
	}()
	<-done

	res := readResponses(t, c.Output())
	require.Len(t, res, 2)
	assert.Equal(t, "slow", res[0].body)
	assert.Equal(t, "fast", res[1].body)
}

func TestServerExpectContinue(t *testing.T) {
	_, c := newTestConn(Option{}, app.HandlerFunc(func(_ context.Context, rc *app.RequestContext) (app.Result, error) {
		rc.String(consts.StatusOK, "%s", rc.Body())
		return app.Done, nil
	}), nil)

	c.SendString("PUT /u HTTP/1.1\r\nHost: x\r\nExpect: 100-continue\r\nContent-Length: 4\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 100 Continue\r\n\r\n", c.Take())

	c.SendString("data")
	res := readResponses(t, c.Output())
	require.Len(t, res, 1)
	assert.Equal(t, "data", res[0].body)
}

func TestServerTraceAndOptions(t *testing.T) {
	var called atomic.Bool
	_, c := newTestConn(Option{}, app.HandlerFunc(func(context.Context, *app.RequestContext) (app.Result, error) {
		called.Store(true)
		return app.Continue, nil
	}), nil)

	head := "TRACE /t HTTP/1.1\r\nHost: x\r\nX-Trace-Check: 1\r\n\r\n"
	c.SendString(head)
	c.SendString("OPTIONS * HTTP/1.1\r\nHost: x\r\n\r\n")

	res := readResponses(t, c.Output())
	require.Len(t, res, 2)
	assert.Equal(t, consts.MIMEMessageHTTP, res[0].Header.Get("Content-Type"))
	assert.Equal(t, head, res[0].body)
	assert.Equal(t, consts.ValueAllowedMethod, res[1].Header.Get("Allow"))
	assert.False(t, called.Load())
}

func TestServerMalformedAndOversized(t *testing.T) {
	_, c := newTestConn(Option{}, app.HandlerFunc(echoPath), nil)
	c.SendString("G\x01T / HTTP/1.1\r\n\r\n")
	res := readResponses(t, c.Output())
	require.Len(t, res, 1)
	assert.Equal(t, consts.StatusBadRequest, res[0].StatusCode)
	assert.True(t, res[0].Close)
	closed, _ := c.Closed()
	assert.True(t, closed)

	_, c = newTestConn(Option{MaxRequestBodySize: 8}, app.HandlerFunc(echoPath), nil)
	c.SendString("POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 9\r\n\r\n")
	res = readResponses(t, c.Output())
	require.Len(t, res, 1)
	assert.Equal(t, consts.StatusRequestEntityTooLarge, res[0].StatusCode)
	closed, _ = c.Closed()
	assert.True(t, closed)
}

func TestServerConnectionClose(t *testing.T) {
	_, c := newTestConn(Option{}, app.HandlerFunc(echoPath), nil)
	c.SendString("GET /a HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\nGET /b HTTP/1.1\r\nHost: x\r\n\r\n")

	res := readResponses(t, c.Output())
	require.Len(t, res, 1)
	assert.True(t, res[0].Close)
	closed, _ := c.Closed()
	assert.True(t, closed)
}

func TestServerDrainClosesAfterResponse(t *testing.T) {
	s, c := newTestConn(Option{}, app.HandlerFunc(echoPath), nil)
	s.BeginDrain()
	assert.True(t, s.Draining())

	c.SendString("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	res := readResponses(t, c.Output())
	require.Len(t, res, 1)
	assert.True(t, res[0].Close)
	closed, _ := c.Closed()
	assert.True(t, closed)
}

func TestServerErrorAfterCommitCloses(t *testing.T) {
	_, c := newTestConn(Option{}, app.HandlerFunc(func(_ context.Context, rc *app.RequestContext) (app.Result, error) {
		_, _ = rc.WriteString("partial")
		_ = rc.Flush()
		return app.Done, errors.NewHTTP(500, "late")
	}), nil)

	c.SendString("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.True(t, strings.HasPrefix(c.Output(), "HTTP/1.1 200 OK\r\n"))
	closed, _ := c.Closed()
	assert.True(t, closed)
}

type sinkProto struct{ got []string }

func (p *sinkProto) OnRead(_ network.Conn, b []byte) error {
	p.got = append(p.got, string(b))
	return nil
}

func (p *sinkProto) OnClose(network.Conn, error) {}

func TestServerUpgradeHandOff(t *testing.T) {
	sink := &sinkProto{}
	_, c := newTestConn(Option{}, app.HandlerFunc(func(_ context.Context, rc *app.RequestContext) (app.Result, error) {
		rc.SetStatusCode(consts.StatusSwitchingProtocols)
		rc.Header(consts.HeaderUpgrade, "echo")
		rc.Header(consts.HeaderConnection, consts.ValueUpgrade)
		rc.SetHandOff(func(network.Conn) network.Protocol { return sink })
		return app.Done, nil
	}), nil)

	c.SendString("GET /up HTTP/1.1\r\nHost: x\r\nUpgrade: echo\r\nConnection: Upgrade\r\n\r\n")
	assert.True(t, strings.HasPrefix(c.Output(), "HTTP/1.1 101 Switching Protocols\r\n"))
	assert.Contains(t, c.Output(), "Connection: Upgrade\r\n")
	assert.Equal(t, 1, c.HandOffs())

	c.SendString("raw")
	assert.Equal(t, []string{"raw"}, sink.got)
}

func TestServerCloseDuringAsync(t *testing.T) {
	var held atomic.Pointer[app.RequestContext]
	_, c := newTestConn(Option{}, app.HandlerFunc(func(_ context.Context, rc *app.RequestContext) (app.Result, error) {
		held.Store(rc)
		return app.Async, nil
	}), nil)

	c.SendString("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	c.CloseWithError(errors.ErrIdleTimeout)

	rc := held.Load()
	require.NotNil(t, rc)
	assert.NotPanics(t, func() {
		rc.String(consts.StatusOK, "late")
		rc.Finish(nil)
	})
	assert.Equal(t, "", c.Output())
}

func TestServerWithDispatcher(t *testing.T) {
	d := dispatch.New(dispatch.Options{MinWorkers: 2, MaxWorkers: 4, QueueSize: 8, KeepAlive: time.Second})
	defer func() { _ = d.Shutdown(context.Background()) }()

	_, c := newTestConn(Option{}, app.HandlerFunc(echoPath), d)
	c.SendString("GET /a HTTP/1.1\r\nHost: x\r\n\r\nGET /b HTTP/1.1\r\nHost: x\r\n\r\n")

	require.Eventually(t, func() bool {
		return strings.Count(c.Output(), "HTTP/1.1 200 OK") == 2
	}, time.Second, 5*time.Millisecond)
	res := readResponses(t, c.Output())
	assert.Equal(t, "path=/a", res[0].body)
	assert.Equal(t, "path=/b", res[1].body)
}

func TestServerPeerCloseRemovesSpilledUpload(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)

	file := strings.Repeat("z", 40*1024)
	body := "--XX\r\nContent-Disposition: form-data; name=\"f\"; filename=\"f.bin\"\r\n\r\n" +
		file + "\r\n--XX--\r\n"
	head := fmt.Sprintf("POST /up HTTP/1.1\r\nHost: x\r\nContent-Type: multipart/form-data; boundary=XX\r\nContent-Length: %d\r\n\r\n", len(body))

	var called atomic.Bool
	_, c := newTestConn(Option{MaxInMemoryFileSize: 1024}, app.HandlerFunc(func(context.Context, *app.RequestContext) (app.Result, error) {
		called.Store(true)
		return app.Done, nil
	}), nil)
	c.SendString(head + body[:len(body)-100])

	spilled, err := filepath.Glob(filepath.Join(dir, "breeze-multipart-*"))
	require.NoError(t, err)
	require.Len(t, spilled, 1)

	c.CloseWithError(errors.ErrConnectionClosed)
	spilled, err = filepath.Glob(filepath.Join(dir, "breeze-multipart-*"))
	require.NoError(t, err)
	assert.Empty(t, spilled)
	assert.False(t, called.Load())
}

func TestServerLeadingEmptyLinesStayIdle(t *testing.T) {
	_, c := newTestConn(Option{}, app.HandlerFunc(echoPath), nil)
	c.SendString("\r\n\r\n")
	assert.True(t, c.Idle())
	assert.Empty(t, c.Output())

	c.SendString("GET /a")
	assert.False(t, c.Idle())

	c.SendString(" HTTP/1.1\r\nHost: x\r\n\r\n")
	res := readResponses(t, c.Output())
	require.Len(t, res, 1)
	assert.Equal(t, "path=/a", res[0].body)
	assert.True(t, c.Idle())
}
