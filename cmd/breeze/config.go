package main

import (
	"reflect"
	"strconv"
	"time"

	"github.com/favbox/breeze/app/server"
	"github.com/favbox/breeze/common/config"
	"github.com/favbox/breeze/common/hlog"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const envPrefix = "BREEZE"

// fileConfig 是配置文件、环境变量与命令行标志合并后的结果。
type fileConfig struct {
	Host          string   `mapstructure:"host"`
	Port          int      `mapstructure:"port"`
	Network       string   `mapstructure:"network"`
	WebRoot       string   `mapstructure:"webroot"`
	IndexNames    []string `mapstructure:"index-names"`
	AdminPassword string   `mapstructure:"admin-password"`
	StatusPath    string   `mapstructure:"status-path"`
	SessionMode   string   `mapstructure:"session-mode"`
	LogLevel      string   `mapstructure:"log-level"`
	ServerName    string   `mapstructure:"server-name"`

	IdleTimeout     time.Duration `mapstructure:"idle-timeout"`
	ExitWaitTimeout time.Duration `mapstructure:"exit-wait-timeout"`

	MaxRequestBodySize int `mapstructure:"max-request-body-size"`
	MaxHeaderBytes     int `mapstructure:"max-header-bytes"`
	MaxHeaderCount     int `mapstructure:"max-header-count"`

	Dispatch dispatchConfig `mapstructure:"dispatch"`
}

type dispatchConfig struct {
	MinWorkers int           `mapstructure:"min-workers"`
	MaxWorkers int           `mapstructure:"max-workers"`
	QueueSize  int           `mapstructure:"queue-size"`
	KeepAlive  time.Duration `mapstructure:"keep-alive"`
}

func setDefaults(v *viper.Viper) {
	d := config.NewOptions(nil)
	v.SetDefault("host", "")
	v.SetDefault("port", 8080)
	v.SetDefault("network", d.Network)
	v.SetDefault("webroot", "")
	v.SetDefault("index-names", d.IndexNames)
	v.SetDefault("admin-password", "")
	v.SetDefault("status-path", d.StatusPath)
	v.SetDefault("session-mode", d.SessionMode)
	v.SetDefault("log-level", hlog.LevelInfo.String())
	v.SetDefault("silent", false)
	v.SetDefault("server-name", d.ServerName)
	v.SetDefault("idle-timeout", d.IdleTimeout)
	v.SetDefault("exit-wait-timeout", d.ExitWaitTimeout)
	v.SetDefault("max-request-body-size", d.MaxRequestBodySize)
	v.SetDefault("max-header-bytes", d.MaxHeaderBytes)
	v.SetDefault("max-header-count", d.MaxHeaderCount)
	v.SetDefault("dispatch.min-workers", d.DispatchMinWorkers)
	v.SetDefault("dispatch.max-workers", d.DispatchMaxWorkers)
	v.SetDefault("dispatch.queue-size", d.DispatchQueueSize)
	v.SetDefault("dispatch.keep-alive", d.DispatchKeepAlive)
}

func loadConfig(v *viper.Viper) (*fileConfig, error) {
	var cfg fileConfig
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// durationHookFunc 接受 "1m30s" 形式的字符串，整数按秒解释。
func durationHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch f.Kind() {
		case reflect.String:
			s := data.(string)
			if n, err := strconv.Atoi(s); err == nil {
				return time.Duration(n) * time.Second, nil
			}
			return time.ParseDuration(s)
		case reflect.Int:
			return time.Duration(data.(int)) * time.Second, nil
		case reflect.Int64:
			if d, ok := data.(time.Duration); ok {
				return d, nil
			}
			return time.Duration(data.(int64)) * time.Second, nil
		default:
			return data, nil
		}
	}
}

func (c *fileConfig) options() []config.Option {
	return []config.Option{
		server.WithHostPorts(c.Host + ":" + strconv.Itoa(c.Port)),
		server.WithNetwork(c.Network),
		server.WithWebRoot(c.WebRoot),
		server.WithIndexNames(c.IndexNames...),
		server.WithAdminPassword(c.AdminPassword),
		server.WithStatusPath(c.StatusPath),
		server.WithSessionMode(c.SessionMode),
		server.WithServerName(c.ServerName),
		server.WithIdleTimeout(c.IdleTimeout),
		server.WithExitWaitTime(c.ExitWaitTimeout),
		server.WithMaxRequestBodySize(c.MaxRequestBodySize),
		server.WithMaxHeaderBytes(c.MaxHeaderBytes),
		server.WithMaxHeaderCount(c.MaxHeaderCount),
		server.WithDispatcher(c.Dispatch.MinWorkers, c.Dispatch.MaxWorkers, c.Dispatch.QueueSize),
		server.WithDispatchKeepAlive(c.Dispatch.KeepAlive),
	}
}

// applyLogLevel 将配置中的日志级别与静默开关应用到默认记录器。
func applyLogLevel(v *viper.Viper) error {
	lv, err := hlog.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return err
	}
	hlog.SetLevel(lv)
	hlog.SetSilentMode(v.GetBool("silent"))
	return nil
}
