package hlog

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger 是基于 zap 的默认记录器实现。
type zapLogger struct {
	mu    sync.RWMutex
	level zap.AtomicLevel
	sugar *zap.SugaredLogger
}

func newZapLogger(w io.Writer, lv Level) *zapLogger {
	l := &zapLogger{level: zap.NewAtomicLevelAt(toZapLevel(lv))}
	l.build(w)
	return l
}

func (l *zapLogger) build(w io.Writer) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), l.level)
	// 跳过 zapLogger 自身与 prefixLogger/包级函数两层调用
	l.sugar = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()
}

func toZapLevel(lv Level) zapcore.Level {
	switch lv {
	case LevelTrace, LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo, LevelNotice:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}

func (l *zapLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.build(w)
	l.mu.Unlock()
}

func (l *zapLogger) SetLevel(lv Level) {
	l.level.SetLevel(toZapLevel(lv))
}

func (l *zapLogger) logf(lv Level, format *string, v ...any) {
	zl := toZapLevel(lv)
	if !l.level.Enabled(zl) {
		return
	}
	var msg string
	if format != nil {
		msg = fmt.Sprintf(*format, v...)
	} else {
		msg = fmt.Sprint(v...)
	}
	l.mu.RLock()
	s := l.sugar
	l.mu.RUnlock()
	switch zl {
	case zapcore.DebugLevel:
		s.Debug(msg)
	case zapcore.InfoLevel:
		s.Info(msg)
	case zapcore.WarnLevel:
		s.Warn(msg)
	case zapcore.ErrorLevel:
		s.Error(msg)
	default:
		s.Fatal(msg)
	}
}

func (l *zapLogger) Trace(v ...any)  { l.logf(LevelTrace, nil, v...) }
func (l *zapLogger) Debug(v ...any)  { l.logf(LevelDebug, nil, v...) }
func (l *zapLogger) Info(v ...any)   { l.logf(LevelInfo, nil, v...) }
func (l *zapLogger) Notice(v ...any) { l.logf(LevelNotice, nil, v...) }
func (l *zapLogger) Warn(v ...any)   { l.logf(LevelWarn, nil, v...) }
func (l *zapLogger) Error(v ...any)  { l.logf(LevelError, nil, v...) }
func (l *zapLogger) Fatal(v ...any)  { l.logf(LevelFatal, nil, v...) }

func (l *zapLogger) Tracef(format string, v ...any)  { l.logf(LevelTrace, &format, v...) }
func (l *zapLogger) Debugf(format string, v ...any)  { l.logf(LevelDebug, &format, v...) }
func (l *zapLogger) Infof(format string, v ...any)   { l.logf(LevelInfo, &format, v...) }
func (l *zapLogger) Noticef(format string, v ...any) { l.logf(LevelNotice, &format, v...) }
func (l *zapLogger) Warnf(format string, v ...any)   { l.logf(LevelWarn, &format, v...) }
func (l *zapLogger) Errorf(format string, v ...any)  { l.logf(LevelError, &format, v...) }
func (l *zapLogger) Fatalf(format string, v ...any)  { l.logf(LevelFatal, &format, v...) }

func (l *zapLogger) CtxTracef(_ context.Context, format string, v ...any) {
	l.logf(LevelTrace, &format, v...)
}

func (l *zapLogger) CtxDebugf(_ context.Context, format string, v ...any) {
	l.logf(LevelDebug, &format, v...)
}

func (l *zapLogger) CtxInfof(_ context.Context, format string, v ...any) {
	l.logf(LevelInfo, &format, v...)
}

func (l *zapLogger) CtxNoticef(_ context.Context, format string, v ...any) {
	l.logf(LevelNotice, &format, v...)
}

func (l *zapLogger) CtxWarnf(_ context.Context, format string, v ...any) {
	l.logf(LevelWarn, &format, v...)
}

func (l *zapLogger) CtxErrorf(_ context.Context, format string, v ...any) {
	l.logf(LevelError, &format, v...)
}

func (l *zapLogger) CtxFatalf(_ context.Context, format string, v ...any) {
	l.logf(LevelFatal, &format, v...)
}
