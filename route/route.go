package route

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/favbox/breeze/app"
	"github.com/favbox/breeze/protocol/consts"
)

var upperLetterReg = regexp.MustCompile("^[A-Z]+$")

// Route 表示一个路由信息，包括请求方法和路径。方法为空表示前缀挂载。
type Route struct {
	Method string // 请求方法
	Path   string // 请求路径或挂载前缀
}

// Routes 定义了一组路由信息。
type Routes []Route

// Router 定义路由器接口。
type Router interface {
	Use(...app.Middleware) Router
	Handle(string, string, app.Handler) Router
	Any(string, app.HandlerFunc) Router
	GET(string, app.HandlerFunc) Router
	POST(string, app.HandlerFunc) Router
	DELETE(string, app.HandlerFunc) Router
	PATCH(string, app.HandlerFunc) Router
	PUT(string, app.HandlerFunc) Router
	OPTIONS(string, app.HandlerFunc) Router
	HEAD(string, app.HandlerFunc) Router
	Mount(string, app.Handler) Router
	Static(string, string) Router
	StaticFS(string, *app.FS) Router
}

// Routers 定义路由器接口，包括单路由和分组路由。
type Routers interface {
	Router
	Group(string, ...app.Middleware) *RouterGroup
}

// RouterGroup 表示一个路由组，由前缀路径和一组中间件组成。
type RouterGroup struct {
	Middlewares []app.Middleware
	basePath    string
	engine      *Engine
	root        bool
}

var _ Routers = (*RouterGroup)(nil)

// BasePath 获取路由组的基本路径，即这组路由的共同前缀。
func (group *RouterGroup) BasePath() string {
	return group.basePath
}

// Group 创建分组路由。可添加有相同前缀和中间件的路由（如使用同一鉴权中间件的 /admin 路由）。
func (group *RouterGroup) Group(relativePath string, middlewares ...app.Middleware) *RouterGroup {
	return &RouterGroup{
		Middlewares: group.combineMiddlewares(middlewares),
		basePath:    group.calculateAbsolutePath(relativePath),
		engine:      group.engine,
	}
}

// Use 添加中间件到该分组路由，只作用于之后注册的路由。
func (group *RouterGroup) Use(middlewares ...app.Middleware) Router {
	group.Middlewares = append(group.Middlewares, middlewares...)
	return group.asObject()
}

// Handle 路由注册的通用函数，也可用于低频或非标的请求方法。
func (group *RouterGroup) Handle(httpMethod string, relativePath string, h app.Handler) Router {
	if matches := upperLetterReg.MatchString(httpMethod); !matches {
		panic("http 请求方法 `" + httpMethod + "` 无效")
	}
	return group.handle(httpMethod, relativePath, h)
}

// Any 注册一条支持所有标准请求方法的路由。
func (group *RouterGroup) Any(path string, h app.HandlerFunc) Router {
	for _, m := range []string{
		consts.MethodGet, consts.MethodPost, consts.MethodPut, consts.MethodPatch, consts.MethodHead,
		consts.MethodOptions, consts.MethodDelete, consts.MethodConnect, consts.MethodTrace,
	} {
		group.handle(m, path, h)
	}
	return group.asObject()
}

// GET 注册一条 GET 路由，是 Handle("GET", relativePath, h) 的快捷方式。
func (group *RouterGroup) GET(relativePath string, h app.HandlerFunc) Router {
	return group.handle(consts.MethodGet, relativePath, h)
}

// POST 注册一条 POST 路由。
func (group *RouterGroup) POST(relativePath string, h app.HandlerFunc) Router {
	return group.handle(consts.MethodPost, relativePath, h)
}

// DELETE 注册一条 DELETE 路由。
func (group *RouterGroup) DELETE(relativePath string, h app.HandlerFunc) Router {
	return group.handle(consts.MethodDelete, relativePath, h)
}

// PATCH 注册一条 PATCH 路由。
func (group *RouterGroup) PATCH(relativePath string, h app.HandlerFunc) Router {
	return group.handle(consts.MethodPatch, relativePath, h)
}

// PUT 注册一条 PUT 路由。
func (group *RouterGroup) PUT(relativePath string, h app.HandlerFunc) Router {
	return group.handle(consts.MethodPut, relativePath, h)
}

// OPTIONS 注册一条 OPTIONS 路由。
func (group *RouterGroup) OPTIONS(relativePath string, h app.HandlerFunc) Router {
	return group.handle(consts.MethodOptions, relativePath, h)
}

// HEAD 注册一条 HEAD 路由。
func (group *RouterGroup) HEAD(relativePath string, h app.HandlerFunc) Router {
	return group.handle(consts.MethodHead, relativePath, h)
}

// Mount 将 h 挂载到前缀 relativePath 下，匹配该前缀的请求若未命中精确路由则交给 h。
//
// 多个挂载按前缀由长到短依次尝试，h 返回 Continue 时继续尝试下一个。
func (group *RouterGroup) Mount(relativePath string, h app.Handler) Router {
	prefix := group.calculateAbsolutePath(relativePath)
	group.engine.addMount(prefix, group.wrap(h))
	return group.asObject()
}

// Static 文件夹服务。用法：router.Static("/static", "/var/www")
func (group *RouterGroup) Static(relativePath string, root string) Router {
	return group.StaticFS(relativePath, &app.FS{Root: root})
}

// StaticFS 用法同 Static()，但可自定义 app.FS。
func (group *RouterGroup) StaticFS(relativePath string, fs *app.FS) Router {
	prefix := group.calculateAbsolutePath(relativePath)
	if fs.PathRewrite == nil && prefix != "/" {
		fs.PathRewrite = app.NewPathPrefixStripper(prefix)
	}
	return group.Mount(relativePath, fs.NewRequestHandler())
}

func (group *RouterGroup) asObject() Routers {
	if group.root {
		return group.engine
	}
	return group
}

func (group *RouterGroup) handle(httpMethod, relativePath string, h app.Handler) Router {
	absolutePath := group.calculateAbsolutePath(relativePath)
	group.engine.addRoute(httpMethod, absolutePath, group.wrap(h))
	return group.asObject()
}

// wrap 以分组中间件包裹 h，先注册的中间件位于最外层。
func (group *RouterGroup) wrap(h app.Handler) app.Handler {
	for i := len(group.Middlewares) - 1; i >= 0; i-- {
		h = group.Middlewares[i](h)
	}
	return h
}

func (group *RouterGroup) calculateAbsolutePath(relativePath string) string {
	return joinPaths(group.basePath, relativePath)
}

func (group *RouterGroup) combineMiddlewares(middlewares []app.Middleware) []app.Middleware {
	merged := make([]app.Middleware, 0, len(group.Middlewares)+len(middlewares))
	merged = append(merged, group.Middlewares...)
	return append(merged, middlewares...)
}

func joinPaths(absolutePath, relativePath string) string {
	if relativePath == "" {
		return absolutePath
	}

	finalPath := path.Join(absolutePath, relativePath)
	appendSlash := lastChar(relativePath) == '/' && lastChar(finalPath) != '/'
	if appendSlash {
		return finalPath + "/"
	}
	return finalPath
}

func lastChar(s string) uint8 {
	if s == "" {
		panic("字符串长度不能为 0")
	}
	return s[len(s)-1]
}

type mount struct {
	prefix  string
	handler app.Handler
}

// router 保存精确路由与前缀挂载。注册须在引擎运行前完成。
type router struct {
	exact  map[string]map[string]app.Handler
	mounts []mount
}

func (r *router) add(method, p string, h app.Handler) {
	if r.exact == nil {
		r.exact = make(map[string]map[string]app.Handler)
	}
	methods := r.exact[p]
	if methods == nil {
		methods = make(map[string]app.Handler)
		r.exact[p] = methods
	}
	if _, dup := methods[method]; dup {
		panic("路由重复注册: " + method + " " + p)
	}
	methods[method] = h
}

func (r *router) addMount(prefix string, h app.Handler) {
	r.mounts = append(r.mounts, mount{prefix: prefix, handler: h})
	sort.SliceStable(r.mounts, func(i, j int) bool {
		return len(r.mounts[i].prefix) > len(r.mounts[j].prefix)
	})
}

// lookup 返回精确匹配的处理器，以及该路径是否注册了其他方法。
func (r *router) lookup(method, p string) (app.Handler, []string) {
	methods := r.exact[p]
	if h, ok := methods[method]; ok {
		return h, nil
	}
	if method == consts.MethodHead {
		if h, ok := methods[consts.MethodGet]; ok {
			return h, nil
		}
	}
	allowed := make([]string, 0, len(methods))
	for m := range methods {
		allowed = append(allowed, m)
	}
	sort.Strings(allowed)
	return nil, allowed
}

func (r *router) matchMounts(p string) []app.Handler {
	var hs []app.Handler
	for _, m := range r.mounts {
		if hasPathPrefix(p, m.prefix) {
			hs = append(hs, m.handler)
		}
	}
	return hs
}

func hasPathPrefix(p, prefix string) bool {
	if prefix == "/" || p == prefix {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(prefix, "/")+"/")
}

func (r *router) routes() Routes {
	var rs Routes
	for p, methods := range r.exact {
		for m := range methods {
			rs = append(rs, Route{Method: m, Path: p})
		}
	}
	for _, m := range r.mounts {
		rs = append(rs, Route{Path: m.prefix})
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Path != rs[j].Path {
			return rs[i].Path < rs[j].Path
		}
		return rs[i].Method < rs[j].Method
	})
	return rs
}
