package hlog

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Logger 是一个记录器接口，提供分级记录的功能。
type Logger interface {
	Trace(v ...any)
	Debug(v ...any)
	Info(v ...any)
	Notice(v ...any)
	Warn(v ...any)
	Error(v ...any)
	Fatal(v ...any)
}

// FormatLogger 是一个记录器接口，提供按格式分级记录的功能。
type FormatLogger interface {
	Tracef(format string, v ...any)
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Noticef(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
	Fatalf(format string, v ...any)
}

// CtxLogger 是一个记录器接口，提供按上下文+按格式进行分级记录的功能。
type CtxLogger interface {
	CtxTracef(ctx context.Context, format string, v ...any)
	CtxDebugf(ctx context.Context, format string, v ...any)
	CtxInfof(ctx context.Context, format string, v ...any)
	CtxNoticef(ctx context.Context, format string, v ...any)
	CtxWarnf(ctx context.Context, format string, v ...any)
	CtxErrorf(ctx context.Context, format string, v ...any)
	CtxFatalf(ctx context.Context, format string, v ...any)
}

// Control 提供配置记录器的方法。
type Control interface {
	// SetLevel 低于该级别的日志不输出。
	SetLevel(Level)
	// SetOutput 设置日志输出器。
	SetOutput(io.Writer)
}

// FullLogger 是 Logger、FormatLogger、CtxLogger 和 Control 的组合。
type FullLogger interface {
	Logger
	FormatLogger
	CtxLogger
	Control
}

// Level 定义日志消息的优先级。
type Level int

// 日志记录级别。
const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelNotice
	LevelWarn
	LevelError
	LevelFatal
)

var strLevels = []string{
	"trace",
	"debug",
	"info",
	"notice",
	"warn",
	"error",
	"fatal",
}

func (lv Level) String() string {
	if lv >= LevelTrace && lv <= LevelFatal {
		return strLevels[lv]
	}
	return fmt.Sprintf("level(%d)", int(lv))
}

// ParseLevel 将级别名称（不区分大小写）转为 Level。
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range strLevels {
		if s == name {
			return Level(i), nil
		}
	}
	return LevelInfo, fmt.Errorf("未知的日志级别 %q", s)
}

const (
	systemLogPrefix = "[breeze] "
	accessLogPrefix = "[access] "
)

var (
	// 提供默认记录器供使用
	logger FullLogger = newZapLogger(os.Stderr, LevelInfo)

	// 提供系统记录器供使用
	sysLogger FullLogger = &prefixLogger{logger: logger, prefix: systemLogPrefix}

	// 提供访问日志记录器供使用
	accessLogger FullLogger = &prefixLogger{logger: logger, prefix: accessLogPrefix}
)

// SetOutput 设置默认记录器的写入器。默认为 os.Stderr。
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetLevel 设置日志的输出级别，低于该级别将不输出。默认级别为 LevelInfo。
func SetLevel(lv Level) {
	logger.SetLevel(lv)
}

// DefaultLogger 返回默认记录器。
func DefaultLogger() FullLogger {
	return logger
}

// SystemLogger 返回框架内部使用的系统记录器。该函数不建议业务端使用。
func SystemLogger() FullLogger {
	return sysLogger
}

// AccessLogger 返回访问日志记录器，每个请求交换完成后记录一行。
func AccessLogger() FullLogger {
	return accessLogger
}

// SetLogger 设置默认记录器，系统记录器和访问记录器也会改用它。
// 并发不安全，须在服务启动前调用。
func SetLogger(v FullLogger) {
	logger = v
	sysLogger = &prefixLogger{logger: v, prefix: systemLogPrefix}
	accessLogger = &prefixLogger{logger: v, prefix: accessLogPrefix}
}

// Debugf 调用默认记录器的 Debugf 方法。
func Debugf(format string, v ...any) {
	logger.Debugf(format, v...)
}

// Infof 调用默认记录器的 Infof 方法。
func Infof(format string, v ...any) {
	logger.Infof(format, v...)
}

// Warnf 调用默认记录器的 Warnf 方法。
func Warnf(format string, v ...any) {
	logger.Warnf(format, v...)
}

// Errorf 调用默认记录器的 Errorf 方法。
func Errorf(format string, v ...any) {
	logger.Errorf(format, v...)
}

// Fatalf 调用默认记录器的 Fatalf 方法，然后 os.Exit(1)。
func Fatalf(format string, v ...any) {
	logger.Fatalf(format, v...)
}

// CtxInfof 调用默认记录器的 CtxInfof 方法。
func CtxInfof(ctx context.Context, format string, v ...any) {
	logger.CtxInfof(ctx, format, v...)
}

// CtxErrorf 调用默认记录器的 CtxErrorf 方法。
func CtxErrorf(ctx context.Context, format string, v ...any) {
	logger.CtxErrorf(ctx, format, v...)
}
