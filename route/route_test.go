package route

import (
	"context"
	"testing"

	"github.com/favbox/breeze/app"
	"github.com/favbox/breeze/common/ut"
	"github.com/favbox/breeze/protocol/consts"
	"github.com/stretchr/testify/assert"
)

func TestJoinPaths(t *testing.T) {
	assert.Equal(t, "", joinPaths("", ""))
	assert.Equal(t, "/", joinPaths("", "/"))
	assert.Equal(t, "/a", joinPaths("/a", ""))
	assert.Equal(t, "/a/", joinPaths("/a/", ""))
	assert.Equal(t, "/a/", joinPaths("/a/", "/"))
	assert.Equal(t, "/a/", joinPaths("/a", "/"))
	assert.Equal(t, "/a/hola", joinPaths("/a", "/hola"))
	assert.Equal(t, "/a/hola", joinPaths("/a/", "/hola"))
	assert.Equal(t, "/a/hola/", joinPaths("/a/", "/hola/"))
	assert.Equal(t, "/a/hola/", joinPaths("/a/", "/hola//"))
}

func TestHasPathPrefix(t *testing.T) {
	assert.True(t, hasPathPrefix("/anything", "/"))
	assert.True(t, hasPathPrefix("/static", "/static"))
	assert.True(t, hasPathPrefix("/static/a.css", "/static"))
	assert.True(t, hasPathPrefix("/static/a.css", "/static/"))
	assert.False(t, hasPathPrefix("/staticx", "/static"))
}

func TestRouterLookup(t *testing.T) {
	var r router
	h := app.HandlerFunc(func(context.Context, *app.RequestContext) (app.Result, error) { return app.Done, nil })
	r.add(consts.MethodGet, "/a", h)
	r.add(consts.MethodPost, "/a", h)

	got, allowed := r.lookup(consts.MethodGet, "/a")
	assert.NotNil(t, got)
	assert.Nil(t, allowed)

	got, _ = r.lookup(consts.MethodHead, "/a")
	assert.NotNil(t, got)

	got, allowed = r.lookup(consts.MethodPut, "/a")
	assert.Nil(t, got)
	assert.Equal(t, []string{"GET", "POST"}, allowed)

	got, allowed = r.lookup(consts.MethodGet, "/b")
	assert.Nil(t, got)
	assert.Empty(t, allowed)

	assert.Panics(t, func() { r.add(consts.MethodGet, "/a", h) })
}

func TestRouterMountsLongestFirst(t *testing.T) {
	var r router
	mk := func(name string) app.Handler {
		return app.HandlerFunc(func(_ context.Context, rc *app.RequestContext) (app.Result, error) {
			rc.Set("mount", name)
			return app.Done, nil
		})
	}
	r.addMount("/", mk("root"))
	r.addMount("/api/v1", mk("v1"))
	r.addMount("/api", mk("api"))

	hs := r.matchMounts("/api/v1/users")
	assert.Len(t, hs, 3)
	rc := app.NewContext()
	_, _ = hs[0].Handle(context.Background(), rc)
	assert.Equal(t, "v1", rc.GetString("mount"))

	assert.Len(t, r.matchMounts("/apix"), 1)
}

func TestGroupMiddlewareOrder(t *testing.T) {
	e := newTestEngine(t)
	var trace []string
	mw := func(name string) app.Middleware {
		return func(next app.Handler) app.Handler {
			return app.HandlerFunc(func(ctx context.Context, rc *app.RequestContext) (app.Result, error) {
				trace = append(trace, name)
				return next.Handle(ctx, rc)
			})
		}
	}
	e.Use(mw("root"))
	g := e.Group("/v1", mw("group"))
	g.Use(mw("late"))
	g.GET("/ping", func(_ context.Context, rc *app.RequestContext) (app.Result, error) {
		trace = append(trace, "handler")
		rc.String(consts.StatusOK, "pong")
		return app.Done, nil
	})
	assert.Equal(t, "/v1", g.BasePath())

	w := ut.PerformRequest(app.HandlerFunc(e.ServeHTTP), "GET", "/v1/ping", nil)
	assert.Equal(t, consts.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
	assert.Equal(t, []string{"root", "group", "late", "handler"}, trace)
}

func TestHandleRejectsLowerCaseMethod(t *testing.T) {
	e := newTestEngine(t)
	assert.Panics(t, func() { e.Handle("get", "/", app.HandlerFunc(okHandler)) })
	assert.Panics(t, func() { e.GET("relative", okHandler) })
}

func TestAnyRegistersStandardMethods(t *testing.T) {
	e := newTestEngine(t)
	e.Any("/any", okHandler)
	for _, m := range []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"} {
		w := ut.PerformRequest(app.HandlerFunc(e.ServeHTTP), m, "/any", nil)
		assert.Equal(t, consts.StatusOK, w.Code, m)
	}
}
