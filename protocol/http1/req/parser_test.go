package req

import (
	"fmt"
	"strings"
	"testing"

	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type parsed struct {
	Method   string
	URI      string
	Proto    string
	Headers  []string
	Body     string
	Form     map[string][]string
	Files    map[string]int64
	Consumed int
	Done     bool
	Status   int
	RawHead  string
}

func snapshot(r *protocol.Request, consumed int, done bool, err error) parsed {
	s := parsed{
		Method:   r.Method(),
		URI:      r.RequestURI(),
		Proto:    r.Proto(),
		Body:     string(r.Body()),
		Consumed: consumed,
		Done:     done,
		RawHead:  string(r.RawHead()),
	}
	r.Header.VisitAll(func(k, v string) { s.Headers = append(s.Headers, k+": "+v) })
	if f, e := r.MultipartForm(); e == nil {
		s.Form = f.Value
		s.Files = map[string]int64{}
		for k, fhs := range f.File {
			for _, fh := range fhs {
				s.Files[k] += fh.Size
			}
		}
	}
	if err != nil {
		s.Status, _ = errors.StatusCode(err)
	}
	return s
}

// feedSplits 按给定切分点依次喂入，直到完成或出错。
func feedSplits(t *testing.T, raw []byte, cuts []int) parsed {
	var r protocol.Request
	r.Reset()
	p := NewParser(&r, DefaultLimits())
	consumed := 0
	start := 0
	bounds := append(append([]int{}, cuts...), len(raw))
	for _, end := range bounds {
		frag := raw[start:end]
		start = end
		for len(frag) > 0 {
			n, done, err := p.Feed(frag)
			consumed += n
			frag = frag[n:]
			if err != nil || done {
				return snapshot(&r, consumed, done, err)
			}
			if p.NeedContinue() {
				p.AckContinue()
				continue
			}
			require.Equal(t, 0, len(frag), "未完成时应消耗全部输入")
		}
	}
	return snapshot(&r, consumed, false, nil)
}

var fragmentationCases = []string{
	"GET /index.html?q=1 HTTP/1.1\r\nHost: example.com\r\nAccept: */*\r\n\r\n",
	"\r\n\r\nPOST /submit HTTP/1.1\r\nHost: a\r\nContent-Length: 11\r\n\r\nhello world",
	"POST /c HTTP/1.1\nTransfer-Encoding: chunked\n\n5\nhello\n6;ext=1\n world\n0\nTrailer: x\n\n",
	"PUT /up HTTP/1.1\r\nContent-Type: multipart/form-data; boundary=--XX\r\nContent-Length: 153\r\n\r\n" +
		"----XX\r\nContent-Disposition: form-data; name=\"a\"\r\n\r\nvalue-a\r\n" +
		"----XX\r\nContent-Disposition: form-data; name=\"f\"; filename=\"f.txt\"\r\n\r\n0123456789\r\n----XX--\r\n",
	"GET /folded HTTP/1.1\r\nX-Long: first\r\n   second\r\nX-Empty:\r\n\r\n",
	"POST /expect HTTP/1.1\r\nExpect: 100-continue\r\nContent-Length: 3\r\n\r\nabc",
	"GET /legacy\r\n",
	"GET /bad\x01uri HTTP/1.1\r\n\r\n",
	"GET / HTTP/2.0\r\n\r\n",
	"GET / HTTQ/1.1\r\n\r\n",
	"GET / HTTP/1.1\r\nHost: a\r\n\r\nGET /next HTTP/1.1\r\n\r\n",
}

func TestFeedFragmentationInvariance(t *testing.T) {
	for _, c := range fragmentationCases {
		raw := []byte(c)
		whole := feedSplits(t, raw, nil)

		// 每个切分点切成两段
		for cut := 1; cut < len(raw); cut++ {
			got := feedSplits(t, raw, []int{cut})
			assert.Equal(t, whole.withoutConsumed(), got.withoutConsumed(), "case=%q cut=%d", c, cut)
		}

		// 单字节片段
		cuts := make([]int, 0, len(raw))
		for i := 1; i < len(raw); i++ {
			cuts = append(cuts, i)
		}
		got := feedSplits(t, raw, cuts)
		assert.Equal(t, whole.withoutConsumed(), got.withoutConsumed(), "case=%q bytewise", c)
	}
}

// 以 CR 结束的无正文请求，LF 可能落在下一片段而未被本次消耗。
func (p parsed) withoutConsumed() parsed {
	p.Consumed = 0
	return p
}

func TestFeedWholeResults(t *testing.T) {
	p := feedSplits(t, []byte(fragmentationCases[0]), nil)
	assert.True(t, p.Done)
	assert.Equal(t, "GET", p.Method)
	assert.Equal(t, "/index.html?q=1", p.URI)
	assert.Equal(t, "HTTP/1.1", p.Proto)
	assert.Equal(t, []string{"Host: example.com", "Accept: */*"}, p.Headers)
	assert.Equal(t, fragmentationCases[0], p.RawHead)

	p = feedSplits(t, []byte(fragmentationCases[1]), nil)
	assert.Equal(t, "hello world", p.Body)
	assert.Equal(t, len(fragmentationCases[1]), p.Consumed)

	p = feedSplits(t, []byte(fragmentationCases[2]), nil)
	assert.True(t, p.Done)
	assert.Equal(t, "hello world", p.Body)
	assert.Equal(t, "POST /c HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n", p.RawHead)

	p = feedSplits(t, []byte(fragmentationCases[3]), nil)
	assert.True(t, p.Done, "%+v", p)
	assert.Equal(t, map[string][]string{"a": {"value-a"}}, p.Form)
	assert.Equal(t, map[string]int64{"f": 10}, p.Files)

	p = feedSplits(t, []byte(fragmentationCases[4]), nil)
	assert.Equal(t, []string{"X-Long: first   second", "X-Empty: "}, p.Headers)

	p = feedSplits(t, []byte(fragmentationCases[6]), nil)
	assert.True(t, p.Done)
	assert.Equal(t, "HTTP/0.9", p.Proto)
	assert.Equal(t, "/legacy", p.URI)

	assert.Equal(t, 400, feedSplits(t, []byte(fragmentationCases[7]), nil).Status)
	assert.Equal(t, 505, feedSplits(t, []byte(fragmentationCases[8]), nil).Status)
	assert.Equal(t, 400, feedSplits(t, []byte(fragmentationCases[9]), nil).Status)

	// 后续请求的字节不被消耗
	raw := fragmentationCases[10]
	p = feedSplits(t, []byte(raw), nil)
	assert.Equal(t, "GET /next HTTP/1.1\r\n\r\n", raw[p.Consumed:])
}

func feedAll(raw string, limits Limits) (*protocol.Request, *Parser, int, bool, error) {
	var r protocol.Request
	r.Reset()
	p := NewParser(&r, limits)
	n, done, err := p.Feed([]byte(raw))
	return &r, p, n, done, err
}

func statusOf(err error) int {
	s, _ := errors.StatusCode(err)
	return s
}

func TestHTTP10BodyRules(t *testing.T) {
	_, _, _, _, err := feedAll("POST /form HTTP/1.0\r\n\r\n", DefaultLimits())
	assert.Equal(t, 400, statusOf(err))
	assert.True(t, errors.MustClose(err))

	_, _, _, _, err = feedAll("PUT /form HTTP/1.0\r\nConnection: keep-alive\r\n\r\n", DefaultLimits())
	assert.Equal(t, 400, statusOf(err))

	r, _, _, done, err := feedAll("POST /form HTTP/1.0\r\nContent-Length: 0\r\n\r\n", DefaultLimits())
	assert.Nil(t, err)
	assert.True(t, done)
	assert.Equal(t, 0, r.ContentLength())

	_, _, _, done, err = feedAll("GET / HTTP/1.0\r\n\r\n", DefaultLimits())
	assert.Nil(t, err)
	assert.True(t, done)
}

func TestContentLengthRules(t *testing.T) {
	_, _, _, _, err := feedAll("POST / HTTP/1.1\r\nContent-Length: abc\r\n\r\n", DefaultLimits())
	assert.Equal(t, 400, statusOf(err))

	r, _, _, done, err := feedAll("POST / HTTP/1.1\r\nContent-Length: -5\r\n\r\n", DefaultLimits())
	assert.Nil(t, err)
	assert.True(t, done)
	assert.Equal(t, 0, r.ContentLength())

	_, _, _, _, err = feedAll("POST / HTTP/1.1\r\nContent-Length: 3\r\nContent-Length: 4\r\n\r\n", DefaultLimits())
	assert.Equal(t, 400, statusOf(err))

	// 分块编码优先于 Content-Length
	r, _, _, done, err = feedAll("POST / HTTP/1.1\r\nContent-Length: 100\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nok\r\n0\r\n\r\n", DefaultLimits())
	assert.Nil(t, err)
	assert.True(t, done)
	assert.True(t, r.IsChunked())
	assert.Equal(t, "ok", string(r.Body()))

	_, _, _, _, err = feedAll("POST / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n", DefaultLimits())
	assert.Equal(t, 501, statusOf(err))
}

func TestSizeLimits(t *testing.T) {
	limits := DefaultLimits()
	// 长度一经得知即拒绝，无需等待正文
	_, _, _, _, err := feedAll("POST / HTTP/1.1\r\nContent-Length: 2097153\r\n\r\n", limits)
	assert.Equal(t, 413, statusOf(err))
	assert.True(t, errors.Is(err, errors.ErrBodyTooLarge))

	limits.MaxBodySize = 4
	_, _, _, _, err = feedAll("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n2\r\nde\r\n", limits)
	assert.Equal(t, 413, statusOf(err))

	limits = DefaultLimits()
	limits.MaxHeaderBytes = 32
	_, _, _, _, err = feedAll("GET / HTTP/1.1\r\nX-Big: "+strings.Repeat("a", 64)+"\r\n\r\n", limits)
	assert.Equal(t, 431, statusOf(err))
}

func TestHeaderCountLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("GET / HTTP/1.1\r\n")
	for i := 0; i < 101; i++ {
		fmt.Fprintf(&b, "%x:\n", i)
	}
	b.WriteString("\r\n")

	_, _, _, _, err := feedAll(b.String(), DefaultLimits())
	assert.Equal(t, 431, statusOf(err))
	assert.True(t, errors.Is(err, errors.ErrTooManyHeaders))

	// 续行不计入数量
	limits := DefaultLimits()
	limits.MaxHeaderCount = 2
	_, _, _, done, err := feedAll("GET / HTTP/1.1\r\nA: 1\r\n 2\r\nB: 3\r\n\r\n", limits)
	require.NoError(t, err)
	assert.True(t, done)
	_, _, _, _, err = feedAll("GET / HTTP/1.1\r\nA: 1\r\nB: 2\r\nC: 3\r\n\r\n", limits)
	assert.Equal(t, 431, statusOf(err))
}

func TestExpect(t *testing.T) {
	_, _, _, _, err := feedAll("POST / HTTP/1.1\r\nExpect: something-else\r\nContent-Length: 1\r\n\r\n", DefaultLimits())
	assert.Equal(t, 417, statusOf(err))

	raw := "POST / HTTP/1.1\r\nExpect: 100-continue\r\nContent-Length: 3\r\n\r\nabc"
	r, p, n, done, err := feedAll(raw, DefaultLimits())
	assert.Nil(t, err)
	assert.False(t, done)
	assert.True(t, p.NeedContinue())
	assert.Equal(t, len(raw)-3, n)

	// 未确认前不再消耗
	n2, _, _ := p.Feed([]byte(raw[n:]))
	assert.Equal(t, 0, n2)

	p.AckContinue()
	n2, done, err = p.Feed([]byte(raw[n:]))
	assert.Nil(t, err)
	assert.True(t, done)
	assert.Equal(t, 3, n2)
	assert.Equal(t, "abc", string(r.Body()))

	// 无正文时不需要 100 Continue
	_, p, _, done, err = feedAll("GET / HTTP/1.1\r\nExpect: 100-continue\r\n\r\n", DefaultLimits())
	assert.Nil(t, err)
	assert.True(t, done)
	assert.False(t, p.NeedContinue())
}

func TestParserStickyErrorAndReset(t *testing.T) {
	r, p, _, _, err := feedAll("BAD\x00 / HTTP/1.1\r\n\r\n", DefaultLimits())
	assert.Equal(t, 400, statusOf(err))
	_, _, err2 := p.Feed([]byte("GET / HTTP/1.1\r\n\r\n"))
	assert.Equal(t, err, err2)

	r.Reset()
	p.Reset(r)
	assert.False(t, p.Started())
	_, done, err := p.Feed([]byte("\r\n"))
	assert.Nil(t, err)
	assert.False(t, done)
	assert.False(t, p.Started())
	_, done, err = p.Feed([]byte("GET / HTTP/1.1\r\n\r\n"))
	assert.Nil(t, err)
	assert.True(t, done)
	assert.Equal(t, StateDone, p.State())
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		state State
		c     byte
		next  State
		act   action
	}{
		{StateStart, '\r', StateStart, actSkip},
		{StateStart, '\n', StateStart, actSkip},
		{StateStart, 'G', StateMethod, actAppend},
		{StateStart, ' ', StateStart, actBadRequest},
		{StateMethod, ' ', StateMethodURISpace, actMethod},
		{StateMethod, '\n', StateMethod, actBadRequest},
		{StateMethodURISpace, ' ', StateMethodURISpace, actSkip},
		{StateMethodURISpace, '/', StateURI, actAppend},
		{StateURI, ':', StateURI, actAppend},
		{StateURI, 0x7f, StateURI, actBadRequest},
		{StateURI, ' ', StateURIVersionSpace, actURI},
		{StateURI, '\r', StateDone, actURIEnd09},
		{StateURIVersionSpace, '\n', StateDone, actEnd09},
		{StateURIVersionSpace, 'H', StateVersion, actAppend},
		{StateVersion, '\r', StateHeaderLine, actVersion},
		{StateHeaderLine, '\n', StateDone, actHeadEnd},
		{StateHeaderLine, '\t', StateHeaderValue, actFold},
		{StateHeaderLine, ':', StateHeaderLine, actBadRequest},
		{StateHeaderName, ':', StateHeaderValue, actName},
		{StateHeaderName, ' ', StateHeaderName, actBadRequest},
		{StateHeaderValue, ':', StateHeaderValue, actAppend},
		{StateHeaderValue, 0x80, StateHeaderValue, actAppend},
		{StateHeaderValue, '\n', StateHeaderLine, actValue},
		{StateHeaderValue, 0x01, StateHeaderValue, actBadRequest},
	}
	for _, c := range cases {
		tr := step(c.state, c.c)
		assert.Equal(t, c.next, tr.next, "%s %q", c.state, c.c)
		assert.Equal(t, c.act, tr.act, "%s %q", c.state, c.c)
	}
	assert.Equal(t, "HeaderValue", StateHeaderValue.String())
}
