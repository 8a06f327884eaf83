package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/favbox/breeze/app/middlewares/server/recovery"
	"github.com/favbox/breeze/common/config"
	"github.com/favbox/breeze/common/errors"
	"github.com/favbox/breeze/common/hlog"
	"github.com/favbox/breeze/route"
	"golang.org/x/sync/errgroup"
)

// New 创建一个无默认中间件的 breeze 实例。
func New(opts ...config.Option) *Breeze {
	options := config.NewOptions(opts)
	return &Breeze{
		Engine: route.NewEngine(options),
	}
}

// Default 创建默认带有 recovery 中间件的 breeze 实例。
func Default(opts ...config.Option) *Breeze {
	b := New(opts...)
	b.Use(recovery.Recovery())
	return b
}

// Breeze 组合了路由引擎 route.Engine 和优雅退出流程。
type Breeze struct {
	*route.Engine
	// 用于接收信号实现优雅退出
	signalWaiter func(err chan error) error
}

// Spin 运行服务器直至捕获 os.Signal 或 Run 返回错误。
//
// SIGINT 与 SIGHUP 触发优雅退出，SIGTERM 立即关闭。
func (b *Breeze) Spin() error {
	runErr := make(chan error, 1)

	var g errgroup.Group
	g.Go(func() error {
		err := b.Run()
		runErr <- err
		return err
	})
	g.Go(func() error {
		return b.waitAndStop(runErr)
	})
	return g.Wait()
}

// SetCustomSignalWaiter 设置自定义的信号等待者。
// 若默认的信号等待实现不符要求，则可以自定义。
// f 返回错误后会立即关闭，否则优雅退出。
func (b *Breeze) SetCustomSignalWaiter(f func(err chan error) error) {
	b.signalWaiter = f
}

func (b *Breeze) waitAndStop(runErr chan error) error {
	signalWaiter := defaultSignalWaiter
	if b.signalWaiter != nil {
		signalWaiter = b.signalWaiter
	}

	if err := signalWaiter(runErr); err != nil {
		hlog.SystemLogger().Errorf("收到退出信号：错误=%v", err)
		if err = b.Engine.Close(); err != nil {
			hlog.SystemLogger().Errorf("退出错误：%v", err)
		}
		return nil
	}
	if !b.IsRunning() {
		return b.Engine.Close()
	}

	wait := b.GetOptions().ExitWaitTimeout
	hlog.SystemLogger().Infof("开始优雅退出，最多等待 %d 秒...", wait/time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	if err := b.Shutdown(ctx); err != nil {
		hlog.SystemLogger().Errorf("退出错误：%v", err)
		return err
	}
	return nil
}

// 信号等待者的默认实现。
// SIGTERM 立即退出。
// SIGHUP|SIGINT 触发优雅退出。
func defaultSignalWaiter(errCh chan error) error {
	signalToNotify := []os.Signal{
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGTERM,
	}
	if signal.Ignored(syscall.SIGHUP) {
		signalToNotify = []os.Signal{
			syscall.SIGINT,
			syscall.SIGTERM,
		}
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, signalToNotify...)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		switch sig {
		case syscall.SIGTERM:
			// 强制退出
			return errors.NewPublic(sig.String())
		case syscall.SIGHUP, syscall.SIGINT:
			hlog.SystemLogger().Infof("收到退出信号：%s", sig)
			// 优雅退出
			return nil
		}
	case err := <-errCh:
		// 出现错误，立即退出
		return err
	}

	return nil
}
