// Command breeze 启动一个 HTTP/1.1 服务器，提供静态文件、状态端点与会话。
package main

import (
	"os"
	"strings"

	"github.com/favbox/breeze/app/server"
	"github.com/favbox/breeze/common/config"
	"github.com/favbox/breeze/common/hlog"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:          "breeze",
		Short:        "事件驱动的 HTTP/1.1 服务器",
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return server.Default(cfg.options()...).Spin()
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfgFile, "config", "c", "", "YAML 配置文件路径")
	flags.IntP("port", "p", 8080, "监听端口")
	flags.String("webroot", "", "静态文件根目录")
	flags.String("admin-password", "", "状态端点的 admin 密码，为空则关闭")
	flags.String("session-mode", config.SessionModeNone, "会话模式：memory 或 none")
	flags.String("log-level", hlog.LevelInfo.String(), "日志级别：trace, debug, info, notice, warn, error, fatal")
	flags.Bool("silent", false, "不输出连接级别的读写错误")
	_ = v.BindPFlags(flags)

	return cmd
}

// initConfig 按“默认值 < 配置文件 < 环境变量 < 命令行标志”的优先级合并配置。
func initConfig(v *viper.Viper, cfgFile string) error {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
		v.OnConfigChange(func(e fsnotify.Event) {
			onConfigChange(v, e)
		})
		v.WatchConfig()
	}
	return applyLogLevel(v)
}

// onConfigChange 仅热更新日志级别，其余配置需重启生效。
func onConfigChange(v *viper.Viper, e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	if err := applyLogLevel(v); err != nil {
		hlog.SystemLogger().Warnf("配置文件 %s 中的日志级别无效: %v", e.Name, err)
		return
	}
	hlog.SystemLogger().Infof("日志级别已更新为 %s", v.GetString("log-level"))
}
