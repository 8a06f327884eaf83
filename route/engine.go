package route

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/favbox/breeze/app"
	"github.com/favbox/breeze/app/dispatch"
	"github.com/favbox/breeze/app/middlewares/server/basic_auth"
	"github.com/favbox/breeze/common/config"
	errs "github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/common/hlog"
	"github.com/favbox/breeze/network"
	"github.com/favbox/breeze/protocol/consts"
	"github.com/favbox/breeze/protocol/http1"
	"github.com/favbox/breeze/protocol/websocket"
)

const unknownTransporterName = "unknown"

const (
	_ uint32 = iota
	statusInitialized
	statusRunning
	statusShutdown
	statusClosed
)

const (
	adminUser  = "admin"
	adminRealm = "breeze"
)

var (
	errInitFailed       = errs.NewPrivate("路由引擎已经初始化")
	errAlreadyRunning   = errs.NewPrivate("路由引擎已在运行中")
	errStatusNotRunning = errs.NewPrivate("路由引擎未在运行中")
)

// CtxCallback 引擎启动时，依次触发的钩子函数
type CtxCallback func(ctx context.Context) error

// CtxErrCallback 引擎关闭时，同时触发的钩子函数
type CtxErrCallback func(ctx context.Context) error

// Stats 是状态端点输出的运行统计。
type Stats struct {
	Transporter string         `json:"transporter"`
	Addr        string         `json:"addr"`
	Connections int            `json:"connections"`
	Dispatch    dispatch.Stats `json:"dispatch"`
	Sessions    int            `json:"sessions"`
	Uptime      string         `json:"uptime"`
	Draining    bool           `json:"draining"`
}

// Engine 路由引擎，组合路由、HTTP/1.1 服务器、分发器与传输器。
type Engine struct {
	RouterGroup

	options    *config.Options
	transport  network.Transporter
	dispatcher *dispatch.Dispatcher
	server     *http1.Server
	sessions   app.SessionStore

	mu     sync.RWMutex
	router router

	status    uint32
	startTime time.Time

	// OnRun 是引擎启动时依次执行的钩子，任一出错则放弃启动。
	OnRun []CtxCallback

	// OnShutdown 是引擎优雅退出时并发执行的钩子。
	OnShutdown []CtxErrCallback
}

// NewEngine 创建给定选项的路由引擎。
func NewEngine(opts *config.Options) *Engine {
	engine := &Engine{
		RouterGroup: RouterGroup{root: true},
		options:     opts,
	}
	engine.RouterGroup.engine = engine

	if opts.TransporterNewer != nil {
		engine.transport = opts.TransporterNewer(opts)
	} else {
		engine.transport = defaultTransporter(opts)
	}

	engine.dispatcher = dispatch.New(dispatch.Options{
		MinWorkers: opts.DispatchMinWorkers,
		MaxWorkers: opts.DispatchMaxWorkers,
		QueueSize:  opts.DispatchQueueSize,
		KeepAlive:  opts.DispatchKeepAlive,
	})
	engine.dispatcher.SetPanicHandler(func(v any) {
		hlog.SystemLogger().Errorf("分发任务发生恐慌: %v", v)
	})

	if opts.SessionMode == config.SessionModeMemory {
		engine.sessions = app.NewMemorySessionStore(app.DefaultSessionTTL)
	}

	engine.server = http1.NewServer(context.Background(), http1.Option{
		MaxRequestBodySize:  opts.MaxRequestBodySize,
		MaxHeaderBytes:      opts.MaxHeaderBytes,
		MaxHeaderCount:      opts.MaxHeaderCount,
		MaxInMemoryFileSize: opts.MaxInMemoryFileSize,
		DisableKeepalive:    opts.DisableKeepalive,
		NoDefaultDate:       opts.NoDefaultDate,
		ServerName:          opts.ServerName,
		Sessions:            engine.sessions,
	}, app.HandlerFunc(engine.ServeHTTP), engine.dispatcher)

	return engine
}

// Run 初始化并由传输器监听连接，阻塞至传输器关闭。
func (engine *Engine) Run() (err error) {
	if err = engine.Init(); err != nil {
		return err
	}

	if err = engine.MarkAsRunning(); err != nil {
		return err
	}

	// 监听结束后，切换引擎状态至已关闭
	defer atomic.StoreUint32(&engine.status, statusClosed)

	ctx := context.Background()
	for i := range engine.OnRun {
		if err = engine.OnRun[i](ctx); err != nil {
			return err
		}
	}

	engine.startTime = time.Now()
	hlog.SystemLogger().Infof("使用网络库=%s", engine.GetTransporterName())
	return engine.transport.ListenAndServe(engine.server.NewProtocol)
}

// MarkAsRunning 将引擎状态设为“运行中”。
// 警告：除非你知道自己在做什么，否则勿用此法。
func (engine *Engine) MarkAsRunning() error {
	if !atomic.CompareAndSwapUint32(&engine.status, statusInitialized, statusRunning) {
		return errAlreadyRunning
	}
	return nil
}

// Init 注册由选项决定的内置路由：静态文件根目录与状态端点。
func (engine *Engine) Init() error {
	if !atomic.CompareAndSwapUint32(&engine.status, 0, statusInitialized) {
		return errInitFailed
	}

	opts := engine.options
	if opts.AdminPassword != "" && opts.StatusPath != "" {
		auth := basic_auth.BasicAuthForRealm(basic_auth.Accounts{adminUser: opts.AdminPassword}, adminRealm, "user")
		engine.addRoute(consts.MethodGet, opts.StatusPath, auth(app.HandlerFunc(engine.serveStatus)))
	}
	if opts.WebRoot != "" {
		engine.StaticFS("/", &app.FS{
			Root:               opts.WebRoot,
			IndexNames:         opts.IndexNames,
			GenerateIndexPages: true,
		})
	}
	return nil
}

// Shutdown 优雅退出服务器，步骤如下：
//
//  1. 进入排空状态，之后完成的响应都会关闭连接；
//  2. 并发触发 Engine.OnShutdown 钩子；
//  3. 关闭监听器并等待进行中的交换完成，直至 ctx 到期；
//  4. 关闭分发器。
func (engine *Engine) Shutdown(ctx context.Context) (err error) {
	if atomic.LoadUint32(&engine.status) != statusRunning {
		return errStatusNotRunning
	}
	if !atomic.CompareAndSwapUint32(&engine.status, statusRunning, statusShutdown) {
		return
	}

	engine.server.BeginDrain()

	ch := make(chan struct{})
	go engine.executeOnShutdownHooks(ctx, ch)
	defer func() {
		select {
		case <-ctx.Done():
			hlog.SystemLogger().Infof("执行 OnShutdownHooks 超时：错误=%v", ctx.Err())
		case <-ch:
			hlog.SystemLogger().Info("执行 OnShutdownHooks 完成")
		}
	}()

	if err = engine.transport.Shutdown(ctx); err != nil && err != ctx.Err() {
		return err
	}
	return engine.dispatcher.Shutdown(ctx)
}

// Close 立即关闭传输器与分发器。
func (engine *Engine) Close() error {
	err := engine.transport.Close()
	ctx, cancel := context.WithTimeout(context.Background(), engine.options.ExitWaitTimeout)
	defer cancel()
	if derr := engine.dispatcher.Shutdown(ctx); err == nil {
		err = derr
	}
	return err
}

// ServeHTTP 是服务器的根处理器：先查精确路由，再按前缀由长到短尝试挂载。
//
// 路径存在但方法不匹配时应答 405 并列出 Allow；都未命中则返回 Continue，由服务器应答 404。
func (engine *Engine) ServeHTTP(ctx context.Context, rc *app.RequestContext) (app.Result, error) {
	method, p := rc.Method(), rc.Path()

	engine.mu.RLock()
	h, allowed := engine.router.lookup(method, p)
	mounts := engine.router.matchMounts(p)
	engine.mu.RUnlock()

	if h != nil {
		return h.Handle(ctx, rc)
	}
	for _, m := range mounts {
		res, err := m.Handle(ctx, rc)
		if err != nil || res != app.Continue {
			return res, err
		}
	}
	if len(allowed) > 0 {
		rc.Header(consts.HeaderAllow, strings.Join(allowed, ", "))
		rc.String(consts.StatusMethodNotAllowed, "405 Method Not Allowed")
		return app.Done, nil
	}
	return app.Continue, nil
}

// WebSocket 在 path 上注册 WebSocket 端点，消息回调经引擎的分发器执行。
func (engine *Engine) WebSocket(relativePath string, h websocket.Handler) *websocket.Upgrader {
	u := websocket.New(h, engine.dispatcher)
	engine.Handle(consts.MethodGet, relativePath, u)
	return u
}

// Stats 返回运行统计。
func (engine *Engine) Stats() Stats {
	st := Stats{
		Transporter: engine.GetTransporterName(),
		Addr:        engine.transport.Addr(),
		Connections: engine.transport.ConnCount(),
		Dispatch:    engine.dispatcher.Stats(),
		Draining:    engine.server.Draining(),
	}
	if engine.sessions != nil {
		st.Sessions = engine.sessions.Len()
	}
	if !engine.startTime.IsZero() {
		st.Uptime = time.Since(engine.startTime).Truncate(time.Second).String()
	}
	return st
}

func (engine *Engine) serveStatus(_ context.Context, rc *app.RequestContext) (app.Result, error) {
	rc.Header(consts.HeaderCacheControl, "no-store")
	if err := rc.JSON(consts.StatusOK, engine.Stats()); err != nil {
		return app.Done, err
	}
	return app.Done, nil
}

// IsRunning 判断引擎是否正在运行。
func (engine *Engine) IsRunning() bool {
	return atomic.LoadUint32(&engine.status) == statusRunning
}

// GetOptions 获取引擎的配置项。
func (engine *Engine) GetOptions() *config.Options {
	return engine.options
}

// Transporter 返回引擎使用的传输器。
func (engine *Engine) Transporter() network.Transporter {
	return engine.transport
}

// Dispatcher 返回引擎的分发器。
func (engine *Engine) Dispatcher() *dispatch.Dispatcher {
	return engine.dispatcher
}

// Server 返回引擎的 HTTP/1.1 服务器。
func (engine *Engine) Server() *http1.Server {
	return engine.server
}

// GetTransporterName 获取引擎实际使用的传输器名称。
func (engine *Engine) GetTransporterName() string {
	return getTransporterName(engine.transport)
}

// Routes 返回已注册的路由，挂载项的 Method 为空。
func (engine *Engine) Routes() Routes {
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	return engine.router.routes()
}

func (engine *Engine) addRoute(method, path string, h app.Handler) {
	if len(path) == 0 || path[0] != '/' {
		panic("路径必须以 '/' 开头")
	}
	if h == nil {
		panic("至少须有一个处理器")
	}
	if engine.IsRunning() {
		panic("引擎运行后不可注册路由")
	}
	hlog.SystemLogger().Debugf("方法=%-6s 绝对路径=%s", method, path)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	engine.router.add(method, path, h)
}

func (engine *Engine) addMount(prefix string, h app.Handler) {
	if len(prefix) == 0 || prefix[0] != '/' {
		panic("挂载前缀必须以 '/' 开头")
	}
	if engine.IsRunning() {
		panic("引擎运行后不可挂载处理器")
	}
	hlog.SystemLogger().Debugf("挂载前缀=%s", prefix)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	engine.router.addMount(prefix, h)
}

// 执行引擎退出的回调钩子。
func (engine *Engine) executeOnShutdownHooks(ctx context.Context, ch chan struct{}) {
	wg := sync.WaitGroup{}
	for i := range engine.OnShutdown {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			if err := engine.OnShutdown[index](ctx); err != nil {
				hlog.SystemLogger().Warnf("退出钩子出错: %v", err)
			}
		}(i)
	}
	wg.Wait()
	close(ch)
}

func getTransporterName(transporter network.Transporter) (tName string) {
	defer func() {
		err := recover()
		if err != nil || tName == "" {
			tName = unknownTransporterName
		}
	}()
	t := reflect.ValueOf(transporter).Type().String()
	tName = strings.Split(strings.TrimPrefix(t, "*"), ".")[0]
	return tName
}
