// Package cli netauto 命令行：show/config 执行、模板解析与报表渲染、模拟设备与 HTTP 服务
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/sshcollectorpro/netauto/internal/bootstrap"
	"github.com/sshcollectorpro/netauto/internal/config"
	"github.com/sshcollectorpro/netauto/internal/driver"
	"github.com/sshcollectorpro/netauto/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
)

// SetVersionInfo 构建时注入的版本信息
func SetVersionInfo(v, c string) {
	version, commit = v, c
}

// globalOptions 所有子命令共享的参数
type globalOptions struct {
	configPath string
	logLevel   string
	// dialer 测试时替换为内存设备
	dialer driver.Dialer
}

// NewRootCommand 创建根命令
func NewRootCommand() *cobra.Command {
	return newRootCommand(&globalOptions{})
}

func newRootCommand(opts *globalOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "netauto",
		Short:         "Run commands on network devices and turn their output into reports",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: ./configs/config.yaml if present)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newShowCommand(opts),
		newConfigCommand(opts),
		newBackupCommand(opts),
		newParseCommand(opts),
		newRenderCommand(opts),
		newTemplatesCommand(opts),
		newDevicesCommand(opts),
		newSimulateCommand(opts),
		newServeCommand(opts),
	)
	return root
}

// Execute 运行命令行，出错时以非零状态退出
func Execute() {
	execute(NewRootCommand())
}

// ExecuteServer 运行独立的 HTTP 服务入口
func ExecuteServer() {
	execute(NewServerCommand())
}

func execute(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig 读取配置并初始化日志
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// newApp 读取配置并组装运行期依赖
func (o *globalOptions) newApp(cmd *cobra.Command, bo bootstrap.Options) (*bootstrap.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if bo.Dialer == nil {
		bo.Dialer = o.dialer
	}
	bo.Console = cmd.OutOrStdout()
	return bootstrap.New(cmd.Context(), cfg, bo)
}
