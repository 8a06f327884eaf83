package app

import (
	"bytes"
	"errors"
	"testing"

	"github.com/favbox/breeze/protocol"
	"github.com/favbox/breeze/protocol/consts"
	"github.com/favbox/breeze/protocol/http1/resp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinishRunsOnce(t *testing.T) {
	rc := NewContext()
	var got []error
	rc.SetFinisher(func(err error) { got = append(got, err) })

	boom := errors.New("boom")
	rc.Finish(boom)
	rc.Finish(nil)
	assert.True(t, rc.Finished())
	assert.Equal(t, []error{boom}, got)

	rc.Reset()
	assert.False(t, rc.Finished())
}

func TestHeaderIgnoredAfterCommit(t *testing.T) {
	rc := NewContext()
	rc.Request.SetMethod(consts.MethodGet)
	rc.Request.SetProto(consts.HTTP11)
	var out bytes.Buffer
	rc.SetWriter(resp.NewWriter(&out, &rc.Request, &rc.Response, resp.Options{NoDefaultDate: true}))

	rc.Header("X-Before", "1")
	_, err := rc.WriteString("hi")
	require.NoError(t, err)
	assert.True(t, rc.Committed())

	rc.Header("X-After", "1")
	rc.SetStatusCode(consts.StatusTeapot)
	assert.False(t, rc.Response.Header.Has("X-After"))
	assert.Equal(t, consts.StatusOK, rc.Response.StatusCode())
	assert.Contains(t, out.String(), "X-Before: 1\r\n")
	assert.NotContains(t, out.String(), "X-After")
}

func TestBufferedWritesWithoutWriter(t *testing.T) {
	rc := NewContext()
	_, _ = rc.WriteString("a")
	_, _ = rc.Write([]byte("b"))
	assert.Equal(t, "ab", string(rc.Response.Body()))

	rc.String(consts.StatusCreated, "n=%d", 3)
	assert.Equal(t, "n=3", string(rc.Response.Body()))
	assert.Equal(t, consts.StatusCreated, rc.Response.StatusCode())
	assert.Equal(t, consts.MIMETextPlain, rc.Response.ContentType())

	require.NoError(t, rc.JSON(consts.StatusOK, map[string]int{"a": 1}))
	assert.JSONEq(t, `{"a":1}`, string(rc.Response.Body()))
	assert.Equal(t, consts.MIMEApplicationJSON, rc.Response.ContentType())
}

func TestQueryAndForm(t *testing.T) {
	rc := NewContext()
	rc.Request.SetMethod(consts.MethodPost)
	rc.Request.SetRequestURI("/search?q=go+lang&page=2")
	rc.Request.Header.Set(consts.HeaderContentType, consts.MIMEApplicationHTMLForm)
	rc.Request.SetBody([]byte("name=%E9%A3%8E&empty="))

	assert.Equal(t, "go lang", rc.Query("q"))
	assert.Equal(t, "1", rc.DefaultQuery("missing", "1"))
	assert.Equal(t, "风", rc.PostForm("name"))
	v, ok := rc.GetPostForm("empty")
	assert.True(t, ok)
	assert.Empty(t, v)
	_, ok = rc.GetPostForm("none")
	assert.False(t, ok)
	assert.Equal(t, "2", rc.FormValue("page"))

	_, err := rc.FormFile("f")
	assert.Error(t, err)
}

func TestFormFile(t *testing.T) {
	rc := NewContext()
	mf := protocol.NewMultipartForm()
	fh := protocol.NewFileHeader("a.txt", []byte("content"))
	mf.File["upload"] = append(mf.File["upload"], fh)
	rc.Request.SetMultipartForm(mf)

	got, err := rc.FormFile("upload")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", got.Filename)

	dst := t.TempDir() + "/saved/a.txt"
	require.NoError(t, rc.SaveUploadedFile(got, dst))
}

func TestKeys(t *testing.T) {
	rc := NewContext()
	rc.Set("user", "alice")
	rc.Set("n", 3)
	assert.Equal(t, "alice", rc.GetString("user"))
	assert.Equal(t, 3, rc.GetInt("n"))
	assert.Equal(t, "alice", rc.MustGet("user"))
	assert.Panics(t, func() { rc.MustGet("missing") })

	n := 0
	rc.ForEachKey(func(k string, v any) { n++ })
	assert.Equal(t, 2, n)
}

func TestErrorChain(t *testing.T) {
	rc := NewContext()
	rc.Error(errors.New("first"))
	assert.Len(t, rc.Errors, 1)
	assert.Equal(t, "first", rc.Errors.Last().Error())
}

func TestRemoteAddrDefault(t *testing.T) {
	assert.Equal(t, "0.0.0.0:0", NewContext().RemoteAddr().String())
}
