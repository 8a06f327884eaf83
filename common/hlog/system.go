package hlog

import (
	"context"
	"io"
)

var silentMode = false

// SetSilentMode 设置系统日志的静默开关。
// 开启后，连接级别的读写错误（如对端重置）不再输出。
func SetSilentMode(s bool) {
	silentMode = s
}

// IsSilentMode 报告是否处于静默模式。
func IsSilentMode() bool {
	return silentMode
}

// prefixLogger 为每条日志加上固定前缀。
type prefixLogger struct {
	logger FullLogger
	prefix string
}

func (l *prefixLogger) SetOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

func (l *prefixLogger) SetLevel(lv Level) {
	l.logger.SetLevel(lv)
}

func (l *prefixLogger) with(v []any) []any {
	return append([]any{l.prefix}, v...)
}

func (l *prefixLogger) Trace(v ...any)  { l.logger.Trace(l.with(v)...) }
func (l *prefixLogger) Debug(v ...any)  { l.logger.Debug(l.with(v)...) }
func (l *prefixLogger) Info(v ...any)   { l.logger.Info(l.with(v)...) }
func (l *prefixLogger) Notice(v ...any) { l.logger.Notice(l.with(v)...) }
func (l *prefixLogger) Warn(v ...any)   { l.logger.Warn(l.with(v)...) }
func (l *prefixLogger) Error(v ...any)  { l.logger.Error(l.with(v)...) }
func (l *prefixLogger) Fatal(v ...any)  { l.logger.Fatal(l.with(v)...) }

func (l *prefixLogger) Tracef(format string, v ...any) {
	l.logger.Tracef(l.prefix+format, v...)
}

func (l *prefixLogger) Debugf(format string, v ...any) {
	l.logger.Debugf(l.prefix+format, v...)
}

func (l *prefixLogger) Infof(format string, v ...any) {
	l.logger.Infof(l.prefix+format, v...)
}

func (l *prefixLogger) Noticef(format string, v ...any) {
	l.logger.Noticef(l.prefix+format, v...)
}

func (l *prefixLogger) Warnf(format string, v ...any) {
	l.logger.Warnf(l.prefix+format, v...)
}

func (l *prefixLogger) Errorf(format string, v ...any) {
	l.logger.Errorf(l.prefix+format, v...)
}

func (l *prefixLogger) Fatalf(format string, v ...any) {
	l.logger.Fatalf(l.prefix+format, v...)
}

func (l *prefixLogger) CtxTracef(ctx context.Context, format string, v ...any) {
	l.logger.CtxTracef(ctx, l.prefix+format, v...)
}

func (l *prefixLogger) CtxDebugf(ctx context.Context, format string, v ...any) {
	l.logger.CtxDebugf(ctx, l.prefix+format, v...)
}

func (l *prefixLogger) CtxInfof(ctx context.Context, format string, v ...any) {
	l.logger.CtxInfof(ctx, l.prefix+format, v...)
}

func (l *prefixLogger) CtxNoticef(ctx context.Context, format string, v ...any) {
	l.logger.CtxNoticef(ctx, l.prefix+format, v...)
}

func (l *prefixLogger) CtxWarnf(ctx context.Context, format string, v ...any) {
	l.logger.CtxWarnf(ctx, l.prefix+format, v...)
}

func (l *prefixLogger) CtxErrorf(ctx context.Context, format string, v ...any) {
	l.logger.CtxErrorf(ctx, l.prefix+format, v...)
}

func (l *prefixLogger) CtxFatalf(ctx context.Context, format string, v ...any) {
	l.logger.CtxFatalf(ctx, l.prefix+format, v...)
}
