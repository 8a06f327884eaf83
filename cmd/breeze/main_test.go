package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/favbox/breeze/common/config"
	"github.com/favbox/breeze/common/hlog"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
port: 9090
webroot: /srv/www
session-mode: memory
log-level: warn
idle-timeout: 45s
exit-wait-timeout: 3
dispatch:
  min-workers: 2
  max-workers: 16
  queue-size: 64
  keep-alive: 1m
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "breeze.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadConfigDefaults(t *testing.T) {
	v := viper.New()
	require.NoError(t, initConfig(v, ""))
	cfg, err := loadConfig(v)
	require.NoError(t, err)

	d := config.NewOptions(nil)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, d.IdleTimeout, cfg.IdleTimeout)
	assert.Equal(t, d.DispatchQueueSize, cfg.Dispatch.QueueSize)
	assert.Equal(t, config.SessionModeNone, cfg.SessionMode)
	assert.Equal(t, []string{"index.html"}, cfg.IndexNames)
	assert.Equal(t, d.MaxHeaderCount, cfg.MaxHeaderCount)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	t.Setenv("BREEZE_ADMIN_PASSWORD", "from-env")
	t.Setenv("BREEZE_DISPATCH_QUEUE_SIZE", "128")
	t.Setenv("BREEZE_INDEX_NAMES", "index.htm,default.html")

	v := viper.New()
	require.NoError(t, initConfig(v, writeConfig(t, sampleYAML)))
	cfg, err := loadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/srv/www", cfg.WebRoot)
	assert.Equal(t, "from-env", cfg.AdminPassword)
	assert.Equal(t, config.SessionModeMemory, cfg.SessionMode)
	assert.Equal(t, 45*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 3*time.Second, cfg.ExitWaitTimeout)
	assert.Equal(t, 2, cfg.Dispatch.MinWorkers)
	assert.Equal(t, 16, cfg.Dispatch.MaxWorkers)
	assert.Equal(t, 128, cfg.Dispatch.QueueSize)
	assert.Equal(t, time.Minute, cfg.Dispatch.KeepAlive)

	opts := config.NewOptions(cfg.options())
	assert.Equal(t, ":9090", opts.Addr)
	assert.Equal(t, "from-env", opts.AdminPassword)
	assert.Equal(t, 128, opts.DispatchQueueSize)
	assert.Equal(t, 45*time.Second, opts.IdleTimeout)
	assert.Equal(t, []string{"index.htm", "default.html"}, opts.IndexNames)
}

func TestFlagsOverrideFile(t *testing.T) {
	cmd := newRootCmd()
	p := writeConfig(t, sampleYAML)
	require.NoError(t, cmd.Flags().Parse([]string{"--config", p, "--port", "7070", "--session-mode", "none"}))

	v := viper.New()
	require.NoError(t, v.BindPFlags(cmd.Flags()))
	require.NoError(t, initConfig(v, p))
	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, config.SessionModeNone, cfg.SessionMode)
	assert.Equal(t, "/srv/www", cfg.WebRoot)
}

func TestInvalidLogLevel(t *testing.T) {
	v := viper.New()
	err := initConfig(v, writeConfig(t, "log-level: loud\n"))
	assert.Error(t, err)
}

func TestOnConfigChangeReloadsLogLevel(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("log-level", "debug")
	onConfigChange(v, fsnotify.Event{Name: "breeze.yaml", Op: fsnotify.Write})
	assert.Equal(t, "debug", v.GetString("log-level"))

	v.Set("log-level", "nope")
	onConfigChange(v, fsnotify.Event{Name: "breeze.yaml", Op: fsnotify.Write})
	onConfigChange(v, fsnotify.Event{Name: "breeze.yaml", Op: fsnotify.Chmod})

	v.Set("log-level", "info")
	v.Set("silent", true)
	require.NoError(t, applyLogLevel(v))
	assert.True(t, hlog.IsSilentMode())
	hlog.SetSilentMode(false)
}

func TestDurationHook(t *testing.T) {
	v := viper.New()
	v.Set("idle-timeout", "90")
	v.Set("exit-wait-timeout", "1m30s")
	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 90*time.Second, cfg.ExitWaitTimeout)
}
