package config

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestDefaultOptions 使用默认值测试配置项
func TestDefaultOptions(t *testing.T) {
	options := NewOptions([]Option{})

	assert.Equal(t, "tcp4", options.Network)
	assert.Equal(t, ":8080", options.Addr)
	assert.Equal(t, 30*time.Second, options.IdleTimeout)
	assert.Equal(t, time.Second, options.SweepInterval)
	assert.Equal(t, 2*1024*1024, options.MaxRequestBodySize)
	assert.Equal(t, 64*1024, options.MaxHeaderBytes)
	assert.Equal(t, 100, options.MaxHeaderCount)
	assert.Equal(t, []string{"index.html"}, options.IndexNames)
	assert.Equal(t, 16*1024, options.MaxInMemoryFileSize)
	assert.Equal(t, 4*1024, options.ReadBufferSize)
	assert.Equal(t, 5, options.DispatchMinWorkers)
	assert.Equal(t, 500, options.DispatchMaxWorkers)
	assert.Equal(t, 5000, options.DispatchQueueSize)
	assert.Equal(t, 60*time.Second, options.DispatchKeepAlive)
	assert.Equal(t, runtime.NumCPU(), options.ParseWorkers)
	assert.Equal(t, 5*time.Second, options.ExitWaitTimeout)
	assert.Equal(t, "breeze", options.ServerName)
	assert.Equal(t, SessionModeNone, options.SessionMode)
	assert.False(t, options.DisableKeepalive)
	assert.False(t, options.NoDefaultDate)
	assert.Empty(t, options.WebRoot)
	assert.Empty(t, options.AdminPassword)
	assert.Nil(t, options.TransporterNewer)
}

// TestApplyCustomOptions 初始化后使用自定义值测试配置项应用函数
func TestApplyCustomOptions(t *testing.T) {
	options := NewOptions([]Option{})
	options.Apply([]Option{
		{F: func(o *Options) {
			o.Network = "unix"
		}},
	})
	assert.Equal(t, "unix", options.Network)
}
