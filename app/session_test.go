package app

import (
	"testing"
	"time"

	"github.com/favbox/breeze/protocol/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionStore(t *testing.T) {
	store := NewMemorySessionStore(50 * time.Millisecond)
	s := store.Create()
	require.Len(t, s.ID(), 32)
	s.Set("user", "alice")

	got := store.Get(s.ID())
	require.NotNil(t, got)
	v, ok := got.Get("user")
	assert.True(t, ok)
	assert.Equal(t, "alice", v)
	got.Delete("user")
	_, ok = got.Get("user")
	assert.False(t, ok)

	assert.Nil(t, store.Get("unknown"))
	assert.NotEqual(t, s.ID(), store.Create().ID())
	assert.Equal(t, 2, store.Len())

	time.Sleep(80 * time.Millisecond)
	assert.Nil(t, store.Get(s.ID()))
}

func TestContextSession(t *testing.T) {
	store := NewMemorySessionStore(0)

	rc := NewContext()
	assert.Nil(t, rc.Session(true), "未配置存储时不支持会话")

	rc.SetSessionStore(store)
	assert.Nil(t, rc.Session(false))
	assert.Nil(t, rc.Response.SessionCookie())

	s := rc.Session(true)
	require.NotNil(t, s)
	c := rc.Response.SessionCookie()
	require.NotNil(t, c)
	assert.Equal(t, consts.SessionCookieName, c.Key)
	assert.Equal(t, s.ID(), c.Value)
	assert.True(t, c.HTTPOnly)

	// 携带 cookie 的后续请求取回同一会话
	rc2 := NewContext()
	rc2.SetSessionStore(store)
	rc2.Request.Header.Set(consts.HeaderCookie, consts.SessionCookieName+"="+s.ID())
	assert.Same(t, s, rc2.Session(false))
}
